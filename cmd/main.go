package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mhscore/config"
	"mhscore/db"
	mhttp "mhscore/http"
	"mhscore/logger"
	"mhscore/ml"
	"mhscore/monitoring"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	enableTraining := flag.Bool("enable-training", false, "expose POST /api/training/run")
	flag.Parse()

	// Look for config in root even if run from cmd/
	path := *configPath
	if _, err := os.Stat(path); os.IsNotExist(err) && !filepath.IsAbs(path) {
		if _, err := os.Stat(filepath.Join("..", path)); err == nil {
			path = filepath.Join("..", path)
		}
	}

	// 1. Load config
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
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
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer lg.Sync()

	// 2. Initialize database
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		lg.Fatal("failed to initialize database", zap.String("path", cfg.Database.Path), zap.Error(err))
	}
	defer store.Close()
	lg.Info("database initialized", zap.String("path", cfg.Database.Path))

	// 3. Model handle; the artifact is decoded on first use
	handle := ml.NewModelHandle(cfg.Model.Path, lg)
	predictor, err := ml.NewPredictor(handle, cfg.Model.CacheSize, lg)
	if err != nil {
		lg.Fatal("failed to create predictor", zap.Error(err))
	}
	if _, err := handle.Get(); err != nil {
		lg.Warn("model not available yet; requests will retry the load", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitoring.NewMetricsCollector()
	go metrics.Run(ctx, 15*time.Second)

	if cfg.Model.Watch {
		watcher, err := monitoring.NewArtifactWatcher(cfg.Model.Path, lg, metrics)
		if err != nil {
			lg.Warn("artifact watcher disabled", zap.Error(err))
		} else {
			go func() {
				if err := watcher.Run(ctx); err != nil {
					lg.Warn("artifact watcher stopped", zap.Error(err))
				}
			}()
			go markStaleOnChange(ctx, watcher.Changes(), handle)
		}
	}

	var trainer *mhttp.TrainingRunner
	if *enableTraining {
		trainer = mhttp.NewTrainingRunner(ml.TrainingConfig{
			DatasetPath:  cfg.Training.DatasetPath,
			ArtifactPath: cfg.Model.Path,
			TestRatio:    cfg.Training.TestRatio,
			Forest:       cfg.Training.Forest,
		}, store, lg)
	}

	// 4. Start HTTP server
	server := mhttp.NewServer(mhttp.ServerConfig{
		Port:           cfg.Server.Port,
		Timeout:        cfg.Server.Timeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, mhttp.Dependencies{
		Predictor: predictor,
		Store:     store,
		Metrics:   metrics,
		Trainer:   trainer,
		Logger:    lg,
	})
	listener, err := server.Listen()
	if err != nil {
		lg.Fatal("HTTP server failed", zap.Error(err))
	}
	go func() {
		if err := server.Serve(listener); err != nil {
			lg.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 5. Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	lg.Info("shutting down")

	cancel()
	if err := server.Stop(); err != nil {
		lg.Error("server forced to shutdown", zap.Error(err))
	}
	lg.Info("exiting")
}

// markStaleOnChange flags the served artifact as stale once the file behind it
// changes, so /api/health can tell operators a restart is due.
func markStaleOnChange(ctx context.Context, changes <-chan monitoring.ArtifactChange, handle *ml.ModelHandle) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			handle.MarkStale()
		}
	}
}
