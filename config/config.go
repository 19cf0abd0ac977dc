// Package config loads the YAML configuration shared by the service and the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"mhscore/ml"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Model    ModelConfig    `yaml:"model"`
	Training TrainingConfig `yaml:"training"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	Console    bool   `yaml:"console"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type ModelConfig struct {
	Path      string `yaml:"path"`
	CacheSize int    `yaml:"cache_size"`
	// Watch logs rewrites of the artifact file. The served artifact stays
	// pinned until restart.
	Watch bool `yaml:"watch"`
}

type TrainingConfig struct {
	DatasetPath string          `yaml:"dataset_path"`
	TestRatio   float64         `yaml:"test_ratio"`
	Forest      ml.ForestConfig `yaml:"forest"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Timeout:        30 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{Path: "./data/mhscore.db"},
		Log:      LogConfig{Level: "info", Console: true},
		Model: ModelConfig{
			Path:      ml.DefaultArtifactPath,
			CacheSize: ml.DefaultPredictionCacheSize,
		},
		Training: TrainingConfig{
			DatasetPath: "./data/Students Social Media Addiction.csv",
			TestRatio:   0.25,
			Forest:      ml.DefaultForestConfig(),
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return errors.New("server.timeout must be positive")
	}
	if c.Model.Path == "" {
		return errors.New("model.path is required")
	}
	if c.Training.TestRatio <= 0 || c.Training.TestRatio >= 1 {
		return fmt.Errorf("training.test_ratio %v must be in (0, 1)", c.Training.TestRatio)
	}
	if c.Training.Forest.NEstimators <= 0 {
		return errors.New("training.forest.n_estimators must be positive")
	}
	return nil
}
