// Package config handles redstream configuration via YAML files and
// environment variables.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags (--num-landmarks, --measure, etc.)
//  2. Environment variables (REDSTREAM_*)
//  3. Config file (redstream.yaml)
//  4. Built-in defaults
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	est, err := red.New(cfg.ToRED())
//
// Environment Variables (all use REDSTREAM_ prefix):
//
// RED:
//   - REDSTREAM_SEED=1
//   - REDSTREAM_NORM=2
//   - REDSTREAM_NUM_LANDMARKS=1
//   - REDSTREAM_MAHALANOBIS_DISTANCE=3
//   - REDSTREAM_PROMOTION_THRESHOLD=200
//   - REDSTREAM_HELPING_NEIGHBORS=3
//   - REDSTREAM_GC_PERIOD=1000
//   - REDSTREAM_MAX_IDLE=10000
//   - REDSTREAM_INITIALIZATION_BATCH=250
//
// Estimator:
//   - REDSTREAM_ESTIMATOR="red" or "chain"
//   - REDSTREAM_KERNEL_LIMIT=500
//
// Evaluation:
//   - REDSTREAM_MEASURE="ll" or "prequential-ll"
//   - REDSTREAM_PARALLELISM=4
//   - REDSTREAM_OUTPUT_DIR="./results"
//
// Logging and metrics:
//   - REDSTREAM_LOG_LEVEL="info"
//   - REDSTREAM_LOG_FORMAT="json"
//   - REDSTREAM_METRICS_ADDR=":9090"
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/redstream/pkg/red"
)

// Config holds all redstream configuration.
//
// Configuration is organized into logical sections:
//   - RED: parameters of the RED estimator
//   - Estimator: which estimator a job evaluates and its embedded estimators
//   - Evaluation: performance measure and job execution
//   - Logging: log level and format
//   - Metrics: Prometheus endpoint
type Config struct {
	RED        REDConfig        `yaml:"red"`
	Estimator  EstimatorConfig  `yaml:"estimator"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// REDConfig mirrors red.Config. Option names follow the original job
// description keys, typos included, so existing job files keep working.
type REDConfig struct {
	Seed                            int64   `yaml:"seed"`
	Norm                            float64 `yaml:"norm"`
	NumLandmarks                    int     `yaml:"numLandmarks"`
	MahalanobisDistance             float64 `yaml:"mahalonobisDistance"`
	ThresholdBecomingRepresentative int64   `yaml:"thresholdBecomingRepresentative"`
	HelpingNeighbors                int     `yaml:"helpingNeighbors"`
	GarbageCollectionPeriod         int64   `yaml:"tresholdGarbageCollection"`
	MaxTimeBeingUnused              int64   `yaml:"maxTimeBeingUnused"`
	InitializationBatch             int     `yaml:"initializationBatch"`
	BufferSize                      int     `yaml:"bufferSize"`
	EvidenceFloor                   int64   `yaml:"evidenceFloor"`
	LogLikelihoodWarmup             int64   `yaml:"logLikelihoodWarmup"`
	PriorWeight                     float64 `yaml:"priorWeight"`
	CovarianceFloor                 float64 `yaml:"covarianceFloor"`
}

// EstimatorConfig selects and tunes the evaluated estimator.
type EstimatorConfig struct {
	// Name is "red" or "chain" (a plain chain-rule kernel estimator).
	Name string `yaml:"name"`
	// KernelLimit bounds the reservoir of every kernel estimator.
	KernelLimit int `yaml:"kernelLimit"`
	// ChainOrders is the number of target orderings a chain averages.
	ChainOrders int `yaml:"chainOrders"`
	// Bins is the number of bins of discretized conditioning variables.
	Bins int `yaml:"bins"`
	// Discretization is "equal-width" or "equal-frequency".
	Discretization string `yaml:"discretization"`
	// DecoderBins is the integration resolution of numeric decoders.
	DecoderBins int `yaml:"decoderBins"`
}

// EvaluationConfig holds evaluation settings.
type EvaluationConfig struct {
	// Measure is "ll" (hold-out) or "prequential-ll".
	Measure string `yaml:"measure"`
	// Parallelism bounds the number of jobs running at once.
	Parallelism int `yaml:"parallelism"`
	// OutputDir receives one JSON result per job.
	OutputDir string `yaml:"outputDir"`
	// Limit caps the number of instances read per stream (0 = all).
	Limit int64 `yaml:"limit"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (debug, info, warn, error)
	Level string `yaml:"level"`
	// Format (json, console)
	Format string `yaml:"format"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoadDefaults returns the built-in configuration.
func LoadDefaults() *Config {
	d := red.DefaultConfig()
	return &Config{
		RED: REDConfig{
			Seed:                            d.Seed,
			Norm:                            d.Norm,
			NumLandmarks:                    d.NumLandmarks,
			MahalanobisDistance:             d.MahalanobisDistance,
			ThresholdBecomingRepresentative: d.ThresholdBecomingRepresentative,
			HelpingNeighbors:                d.HelpingNeighbors,
			GarbageCollectionPeriod:         d.GarbageCollectionPeriod,
			MaxTimeBeingUnused:              d.MaxTimeBeingUnused,
			InitializationBatch:             d.InitializationBatch,
			BufferSize:                      d.BufferSize,
			EvidenceFloor:                   d.EvidenceFloor,
			LogLikelihoodWarmup:             d.LogLikelihoodWarmup,
			PriorWeight:                     d.PriorWeight,
			CovarianceFloor:                 d.CovarianceFloor,
		},
		Estimator: EstimatorConfig{
			Name:           "red",
			KernelLimit:    d.KernelLimit,
			ChainOrders:    1,
			Bins:           10,
			Discretization: "equal-frequency",
			DecoderBins:    d.DecoderBins,
		},
		Evaluation: EvaluationConfig{
			Measure:     "prequential-ll",
			Parallelism: 1,
			OutputDir:   "./results",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Address: ":9090"},
	}
}

// LoadFromEnv returns the defaults overridden by REDSTREAM_* variables.
func LoadFromEnv() *Config {
	cfg := LoadDefaults()
	applyEnvVars(cfg)
	return cfg
}

// LoadFromFile loads defaults, then the YAML file at configPath, then the
// environment. A missing file is not an error.
func LoadFromFile(configPath string) (*Config, error) {
	cfg := LoadDefaults()
	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			// decoding into the defaults keeps every key the file omits
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}
	applyEnvVars(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvVars(cfg *Config) {
	r := &cfg.RED
	r.Seed = getEnvInt64("REDSTREAM_SEED", r.Seed)
	r.Norm = getEnvFloat("REDSTREAM_NORM", r.Norm)
	r.NumLandmarks = getEnvInt("REDSTREAM_NUM_LANDMARKS", r.NumLandmarks)
	r.MahalanobisDistance = getEnvFloat("REDSTREAM_MAHALANOBIS_DISTANCE", r.MahalanobisDistance)
	r.ThresholdBecomingRepresentative = getEnvInt64("REDSTREAM_PROMOTION_THRESHOLD", r.ThresholdBecomingRepresentative)
	r.HelpingNeighbors = getEnvInt("REDSTREAM_HELPING_NEIGHBORS", r.HelpingNeighbors)
	r.GarbageCollectionPeriod = getEnvInt64("REDSTREAM_GC_PERIOD", r.GarbageCollectionPeriod)
	r.MaxTimeBeingUnused = getEnvInt64("REDSTREAM_MAX_IDLE", r.MaxTimeBeingUnused)
	r.InitializationBatch = getEnvInt("REDSTREAM_INITIALIZATION_BATCH", r.InitializationBatch)

	cfg.Estimator.Name = getEnv("REDSTREAM_ESTIMATOR", cfg.Estimator.Name)
	cfg.Estimator.KernelLimit = getEnvInt("REDSTREAM_KERNEL_LIMIT", cfg.Estimator.KernelLimit)

	cfg.Evaluation.Measure = getEnv("REDSTREAM_MEASURE", cfg.Evaluation.Measure)
	cfg.Evaluation.Parallelism = getEnvInt("REDSTREAM_PARALLELISM", cfg.Evaluation.Parallelism)
	cfg.Evaluation.OutputDir = getEnv("REDSTREAM_OUTPUT_DIR", cfg.Evaluation.OutputDir)

	cfg.Logging.Level = strings.ToLower(getEnv("REDSTREAM_LOG_LEVEL", cfg.Logging.Level))
	cfg.Logging.Format = getEnv("REDSTREAM_LOG_FORMAT", cfg.Logging.Format)

	if addr := os.Getenv("REDSTREAM_METRICS_ADDR"); addr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = addr
	}
	cfg.Metrics.Enabled = getEnvBool("REDSTREAM_METRICS_ENABLED", cfg.Metrics.Enabled)
}

// ToRED returns the RED parameters of the configuration.
func (c *Config) ToRED() red.Config {
	r := c.RED
	cfg := red.DefaultConfig()
	cfg.Seed = r.Seed
	cfg.Norm = r.Norm
	cfg.NumLandmarks = r.NumLandmarks
	cfg.MahalanobisDistance = r.MahalanobisDistance
	cfg.ThresholdBecomingRepresentative = r.ThresholdBecomingRepresentative
	cfg.HelpingNeighbors = r.HelpingNeighbors
	cfg.GarbageCollectionPeriod = r.GarbageCollectionPeriod
	cfg.MaxTimeBeingUnused = r.MaxTimeBeingUnused
	cfg.InitializationBatch = r.InitializationBatch
	cfg.BufferSize = r.BufferSize
	cfg.EvidenceFloor = r.EvidenceFloor
	cfg.LogLikelihoodWarmup = r.LogLikelihoodWarmup
	cfg.PriorWeight = r.PriorWeight
	cfg.CovarianceFloor = r.CovarianceFloor
	cfg.KernelLimit = c.Estimator.KernelLimit
	cfg.DecoderBins = c.Estimator.DecoderBins
	return cfg
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	err := c.ToRED().Validate()
	switch c.Estimator.Name {
	case "red", "chain":
	default:
		err = multierr.Append(err, fmt.Errorf("unknown estimator %q", c.Estimator.Name))
	}
	if c.Estimator.ChainOrders <= 0 {
		err = multierr.Append(err, fmt.Errorf("chainOrders must be positive"))
	}
	if c.Estimator.Bins <= 2 {
		err = multierr.Append(err, fmt.Errorf("bins must be greater than 2"))
	}
	switch c.Estimator.Discretization {
	case "equal-width", "equal-frequency":
	default:
		err = multierr.Append(err, fmt.Errorf("unknown discretization %q", c.Estimator.Discretization))
	}
	switch c.Evaluation.Measure {
	case "ll", "prequential-ll":
	default:
		err = multierr.Append(err, fmt.Errorf("unknown measure %q", c.Evaluation.Measure))
	}
	if c.Evaluation.Parallelism <= 0 {
		err = multierr.Append(err, fmt.Errorf("parallelism must be positive"))
	}
	if c.Evaluation.Limit < 0 {
		err = multierr.Append(err, fmt.Errorf("limit must not be negative"))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("unknown log level %q", c.Logging.Level))
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		err = multierr.Append(err, fmt.Errorf("metrics enabled without an address"))
	}
	return err
}

// String returns a one-line summary suitable for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Estimator: %s, Landmarks: %d, Threshold: %g, Measure: %s, Parallelism: %d, Metrics: %v}",
		c.Estimator.Name, c.RED.NumLandmarks, c.RED.MahalanobisDistance,
		c.Evaluation.Measure, c.Evaluation.Parallelism, c.Metrics.Enabled,
	)
}

// FindConfigFile searches for a config file in standard locations and
// returns the first one found, or "".
// Search order:
//  1. ./redstream.yaml
//  2. ~/.redstream/config.yaml
//  3. ~/.config/redstream/config.yaml
func FindConfigFile() string {
	candidates := []string{"redstream.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".redstream", "config.yaml"),
			filepath.Join(home, ".config", "redstream", "config.yaml"),
		)
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}
