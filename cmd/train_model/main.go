// train_model fits the mental-health score pipeline offline and runs one-off
// predictions against a saved artifact.
//
// Usage:
//
//	train_model train --dataset data.csv --artifact ./assets/model.mhs
//	train_model predict --record record.json
//	train_model schema
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"mhscore/config"
	"mhscore/db"
	"mhscore/logger"
	"mhscore/ml"
)

func main() {
	app := &cli.App{
		Name:  "train_model",
		Usage: "train and query the mental health score model",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to the YAML configuration",
				EnvVars: []string{"MHSCORE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "artifact",
				Usage: "model artifact path (overrides model.path)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			trainCommand(),
			predictCommand(),
			schemaCommand(),
		},
		DefaultCommand: "train",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("train_model: %v", err)
	}
}

type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if p := c.String("artifact"); p != "" {
		cfg.Model.Path = p
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	lg, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Console:    cfg.Log.Console,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &env{cfg: cfg, logger: lg}, nil
}

func trainCommand() *cli.Command {
	return &cli.Command{
		Name:  "train",
		Usage: "fit the pipeline on the survey CSV and save the artifact",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dataset", Aliases: []string{"d"}, Usage: "survey CSV (overrides training.dataset_path)"},
			&cli.Float64Flag{Name: "test-ratio", Usage: "held-out fraction (overrides training.test_ratio)"},
			&cli.IntFlag{Name: "n-estimators", Usage: "number of trees (overrides training.forest.n_estimators)"},
			&cli.Int64Flag{Name: "seed", Usage: "seed the train/test split; unseeded by default"},
			&cli.BoolFlag{Name: "no-log", Usage: "do not record the run in the training log"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			tc := ml.TrainingConfig{
				DatasetPath:  e.cfg.Training.DatasetPath,
				ArtifactPath: e.cfg.Model.Path,
				TestRatio:    e.cfg.Training.TestRatio,
				Forest:       e.cfg.Training.Forest,
			}
			if c.IsSet("dataset") {
				tc.DatasetPath = c.String("dataset")
			}
			if c.IsSet("test-ratio") {
				tc.TestRatio = c.Float64("test-ratio")
			}
			if c.IsSet("n-estimators") {
				tc.Forest.NEstimators = c.Int("n-estimators")
			}
			if c.IsSet("seed") {
				tc.SplitRand = rand.New(rand.NewSource(c.Int64("seed")))
			}

			result, err := ml.Train(tc, e.logger)
			if err != nil {
				return err
			}
			if !c.Bool("no-log") {
				if err := recordRun(e.cfg.Database.Path, result.Report); err != nil {
					e.logger.Warn("training log not written", zap.Error(err))
				}
			}
			fmt.Println(result.Report.String())
			fmt.Printf("artifact %s saved to %s\n", result.Report.ArtifactID, result.Report.ArtifactPath)
			return nil
		},
	}
}

func recordRun(path string, report *ml.TrainingReport) error {
	store, err := db.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.SaveTrainingRun(report)
}

func predictCommand() *cli.Command {
	return &cli.Command{
		Name:      "predict",
		Usage:     "score one survey record given as a JSON object",
		ArgsUsage: "[record.json]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "record", Aliases: []string{"r"}, Usage: "JSON file with the record; '-' or empty reads stdin"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			src := c.String("record")
			if src == "" {
				src = c.Args().First()
			}
			payload, err := readInput(src)
			if err != nil {
				return err
			}
			var raw map[string]interface{}
			if err := json.Unmarshal(payload, &raw); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			if raw == nil {
				return errors.New("record must be a JSON object")
			}
			fields, err := ml.FieldsFromJSON(raw)
			if err != nil {
				return err
			}
			if err := ml.ValidateRanges(fields); err != nil {
				return err
			}

			predictor, err := ml.NewPredictor(ml.NewModelHandle(e.cfg.Model.Path, e.logger), 0, e.logger)
			if err != nil {
				return err
			}
			pred, err := predictor.PredictFields(fields)
			if err != nil {
				return err
			}
			importances, err := predictor.Explain()
			if err != nil {
				return err
			}

			fmt.Printf("score : %s\n", decimal.NewFromFloat(pred.Score).StringFixed(2))
			for _, fi := range importances {
				fmt.Printf("  %-45s %.4f\n", fi.Feature, fi.Importance)
			}
			return nil
		},
	}
}

func schemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "print the input columns, vocabularies and importances of the artifact",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			predictor, err := ml.NewPredictor(ml.NewModelHandle(e.cfg.Model.Path, e.logger), 0, e.logger)
			if err != nil {
				return err
			}
			schema, err := predictor.Schema()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(schema)
		},
	}
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
