package ml

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultArtifactPath = "./assets/model.mhs"

// TrainingConfig drives one offline training run.
type TrainingConfig struct {
	DatasetPath  string
	ArtifactPath string
	TestRatio    float64
	Forest       ForestConfig
	Spec         DatasetSpec

	// SplitRand shuffles rows for the train/test split. When nil the split is
	// seeded from the clock, so metrics vary between runs even though the
	// forest itself is reproducible.
	SplitRand *rand.Rand
}

// TrainingReport describes a finished run. Metrics are reported here and are
// not part of the artifact.
type TrainingReport struct {
	RunID        string            `json:"run_id"`
	ArtifactID   string            `json:"artifact_id"`
	ArtifactPath string            `json:"artifact_path"`
	TrainRows    int               `json:"train_rows"`
	TestRows     int               `json:"test_rows"`
	Metrics      EvaluationMetrics `json:"metrics"`
	TrainedAt    time.Time         `json:"trained_at"`
	Duration     time.Duration     `json:"duration"`
}

func (r *TrainingReport) String() string {
	return fmt.Sprintf("r2 : %.6f, mae : %.6f, rmse : %.6f", r.Metrics.R2, r.Metrics.MAE, r.Metrics.RMSE)
}

// TrainResult holds everything a run produced.
type TrainResult struct {
	Report   *TrainingReport
	Artifact *Artifact
	Split    *Split
}

// Train loads the dataset, splits it, fits the pipeline on the training rows,
// evaluates it on the held-out rows and saves the artifact.
func Train(cfg TrainingConfig, logger *zap.Logger) (*TrainResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DatasetPath == "" {
		return nil, fmt.Errorf("dataset path is required")
	}
	if cfg.ArtifactPath == "" {
		cfg.ArtifactPath = DefaultArtifactPath
	}
	if len(cfg.Spec.Features) == 0 {
		cfg.Spec = DefaultDatasetSpec()
	}

	table, y, err := LoadDataset(cfg.DatasetPath, cfg.Spec)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	logger.Info("dataset loaded", zap.String("path", cfg.DatasetPath), zap.Int("rows", table.Len()))

	result, err := Fit(table, y, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := SaveArtifact(cfg.ArtifactPath, result.Artifact); err != nil {
		return nil, fmt.Errorf("save artifact: %w", err)
	}
	result.Report.ArtifactPath = cfg.ArtifactPath
	logger.Info("artifact saved",
		zap.String("path", cfg.ArtifactPath),
		zap.String("artifact_id", result.Artifact.ID),
	)
	return result, nil
}

// Fit runs the split, fit and evaluation on an in-memory dataset without
// touching the filesystem.
func Fit(table *Table, y []float64, cfg TrainingConfig, logger *zap.Logger) (*TrainResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Spec.Features) == 0 {
		cfg.Spec = DefaultDatasetSpec()
	}
	if cfg.Forest == (ForestConfig{}) {
		cfg.Forest = DefaultForestConfig()
	}
	rng := cfg.SplitRand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	start := time.Now()
	split, err := SplitDataset(table, y, cfg.TestRatio, rng)
	if err != nil {
		return nil, fmt.Errorf("split dataset: %w", err)
	}

	pipeline := NewPipeline(cfg.Spec, cfg.Forest)
	if err := pipeline.Fit(split.Train, split.TrainY); err != nil {
		return nil, fmt.Errorf("fit pipeline: %w", err)
	}
	predicted, err := pipeline.Predict(split.Test)
	if err != nil {
		return nil, fmt.Errorf("predict held-out rows: %w", err)
	}
	metrics, err := Evaluate(split.TestY, predicted)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	artifact := NewArtifact(pipeline)
	report := &TrainingReport{
		RunID:      uuid.NewString(),
		ArtifactID: artifact.ID,
		TrainRows:  split.Train.Len(),
		TestRows:   split.Test.Len(),
		Metrics:    metrics,
		TrainedAt:  artifact.CreatedAt,
		Duration:   time.Since(start),
	}
	logger.Info("pipeline fitted",
		zap.Int("train_rows", report.TrainRows),
		zap.Int("test_rows", report.TestRows),
		zap.Int("n_estimators", cfg.Forest.NEstimators),
		zap.Float64("r2", metrics.R2),
		zap.Float64("mae", metrics.MAE),
		zap.Float64("rmse", metrics.RMSE),
	)
	return &TrainResult{Report: report, Artifact: artifact, Split: split}, nil
}
