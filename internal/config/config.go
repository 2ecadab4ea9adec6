// Package config loads and validates detrain run configuration.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/detrain/internal/run"
)

// Config holds all run parameters. Precedence: defaults, then the YAML
// file, then DETRAIN_* environment variables; CLI flags override on top.
type Config struct {
	// Dataset and output locations
	DatasetRoot string `yaml:"dataset_root"`
	RunRoot     string `yaml:"run_root"`
	RunID       string `yaml:"run_id"`

	// Cross-validation
	Folds       int     `yaml:"folds"`
	Seed        int64   `yaml:"seed"`
	Holdout     float64 `yaml:"holdout"`
	Concurrency int     `yaml:"concurrency"`

	// Single-run mode
	TrainSplit float64 `yaml:"train_split"`

	// Hyperparameters
	Epochs       int     `yaml:"epochs"`
	Batch        int     `yaml:"batch"` // -1 = auto
	LearningRate float64 `yaml:"learning_rate"`
	Optimizer    string  `yaml:"optimizer"`
	ImageSize    int     `yaml:"image_size"`

	// Dataset classes carried into per-fold manifests
	Classes []string `yaml:"classes"`

	// Trainer boundary
	TrainerCommand []string `yaml:"trainer_command"`

	// Behavior
	Overwrite bool `yaml:"overwrite"`

	// Logging
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		DatasetRoot:  "./data/yolo_kitti",
		RunRoot:      "./runs",
		Folds:        5,
		Seed:         42,
		Concurrency:  1,
		TrainSplit:   0.8,
		Epochs:       100,
		Batch:        run.BatchAuto,
		LearningRate: 0.01,
		Optimizer:    "auto",
		ImageSize:    640,
		Classes:      []string{"Car", "Pedestrian", "Cyclist"},
		LogLevel:     "INFO",
	}
}

// Load builds the config from defaults, an optional YAML file, and
// environment overrides. A .env file in the working directory is honored.
func Load(path string) (Config, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("%w: read config file: %v", run.ErrConfiguration, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: parse config file %s: %v", run.ErrConfiguration, path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.DatasetRoot = getEnv("DETRAIN_DATASET_ROOT", c.DatasetRoot)
	c.RunRoot = getEnv("DETRAIN_RUN_ROOT", c.RunRoot)
	c.RunID = getEnv("DETRAIN_RUN_ID", c.RunID)
	c.Optimizer = getEnv("DETRAIN_OPTIMIZER", c.Optimizer)
	c.LogFile = getEnv("DETRAIN_LOG_FILE", c.LogFile)
	c.LogLevel = getEnv("DETRAIN_LOG_LEVEL", c.LogLevel)

	var err error
	if c.Folds, err = getEnvInt("DETRAIN_FOLDS", c.Folds); err != nil {
		return err
	}
	if c.Epochs, err = getEnvInt("DETRAIN_EPOCHS", c.Epochs); err != nil {
		return err
	}
	if c.Batch, err = getEnvInt("DETRAIN_BATCH", c.Batch); err != nil {
		return err
	}
	if c.Concurrency, err = getEnvInt("DETRAIN_CONCURRENCY", c.Concurrency); err != nil {
		return err
	}
	if c.ImageSize, err = getEnvInt("DETRAIN_IMAGE_SIZE", c.ImageSize); err != nil {
		return err
	}
	if v := os.Getenv("DETRAIN_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: DETRAIN_SEED=%q is not an integer", run.ErrConfiguration, v)
		}
		c.Seed = seed
	}
	if v := os.Getenv("DETRAIN_LEARNING_RATE"); v != "" {
		lr, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: DETRAIN_LEARNING_RATE=%q is not a number", run.ErrConfiguration, v)
		}
		c.LearningRate = lr
	}
	if v := os.Getenv("DETRAIN_OVERWRITE"); v != "" {
		c.Overwrite = v == "true" || v == "1"
	}
	return nil
}

// Validate checks the parameters a run of the given mode depends on.
// mode is "train" or "crossval".
func (c *Config) Validate(mode string) error {
	if c.DatasetRoot == "" {
		return fmt.Errorf("%w: dataset_root is required", run.ErrConfiguration)
	}
	if info, err := os.Stat(c.DatasetRoot); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: dataset_root %q is not a directory", run.ErrConfiguration, c.DatasetRoot)
	}
	if c.RunRoot == "" {
		return fmt.Errorf("%w: run_root is required", run.ErrConfiguration)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("%w: epochs must be positive, got %d", run.ErrConfiguration, c.Epochs)
	}
	if c.Batch <= 0 && c.Batch != run.BatchAuto {
		return fmt.Errorf("%w: batch must be positive or %d (auto), got %d", run.ErrConfiguration, run.BatchAuto, c.Batch)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("%w: learning_rate must be positive, got %v", run.ErrConfiguration, c.LearningRate)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", run.ErrConfiguration, c.Concurrency)
	}
	if c.Holdout < 0 || c.Holdout >= 1 {
		return fmt.Errorf("%w: holdout must be in [0, 1), got %v", run.ErrConfiguration, c.Holdout)
	}

	switch mode {
	case "crossval":
		if c.Folds < 2 {
			return fmt.Errorf("%w: cross-validation needs at least 2 folds, got %d", run.ErrConfiguration, c.Folds)
		}
	case "train":
		if c.TrainSplit < 0.1 || c.TrainSplit > 0.9 {
			return fmt.Errorf("%w: train_split must be between 0.1 and 0.9, got %v", run.ErrConfiguration, c.TrainSplit)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", run.ErrConfiguration, mode)
	}
	return nil
}

// Hyper extracts the hyperparameter block.
func (c *Config) Hyper() run.Hyperparameters {
	return run.Hyperparameters{
		Epochs:       c.Epochs,
		Batch:        c.Batch,
		LearningRate: c.LearningRate,
		Optimizer:    c.Optimizer,
		ImageSize:    c.ImageSize,
	}
}

// Hash fingerprints the parameters that define run identity. A resumed run
// must match; fields that may legitimately change between attempts
// (concurrency, overwrite, logging) are excluded.
func (c *Config) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "dataset=%s|folds=%d|seed=%d|holdout=%v|split=%v|", c.DatasetRoot, c.Folds, c.Seed, c.Holdout, c.TrainSplit)
	fmt.Fprintf(h, "epochs=%d|batch=%d|lr=%v|opt=%s|imgsz=%d|", c.Epochs, c.Batch, c.LearningRate, c.Optimizer, c.ImageSize)
	fmt.Fprintf(h, "classes=%s", strings.Join(c.Classes, ","))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// ParseLogLevel maps the configured level name to a slog level.
func (c *Config) ParseLogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", run.ErrConfiguration, key, val)
	}
	return n, nil
}
