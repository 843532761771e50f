package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "XUNIT"

const (
	DefaultOutputDir = "xunit-reports"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultQueueSize = 64
)

// Config holds all configuration for the application.
type Config struct {
	// Output settings
	OutputDir   string `yaml:"output_dir" envconfig:"OUTPUT_DIR"`
	MetricsPath string `yaml:"metrics_path" envconfig:"METRICS_PATH"`
	Silent      bool   `yaml:"silent" envconfig:"SILENT"`
	Verbose     bool   `yaml:"verbose" envconfig:"VERBOSE"`

	// Logging
	LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" envconfig:"LOG_FORMAT"`

	// Execution settings
	Parallelism     int  `yaml:"parallelism" envconfig:"PARALLELISM"`
	QueueSize       int  `yaml:"queue_size" envconfig:"QUEUE_SIZE"`
	FlushUnfinished bool `yaml:"flush_unfinished" envconfig:"FLUSH_UNFINISHED"`
	FailOnError     bool `yaml:"fail_on_error" envconfig:"FAIL_ON_ERROR"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		OutputDir:   DefaultOutputDir,
		LogLevel:    DefaultLogLevel,
		LogFormat:   DefaultLogFormat,
		Parallelism: runtime.NumCPU(),
		QueueSize:   DefaultQueueSize,
	}
}

// Load layers, lowest first: defaults, the YAML file at path, the dotenv file at
// envFile and XUNIT_* environment variables. Empty paths are skipped, and a
// missing dotenv file is not an error.
func Load(path, envFile string) (*Config, error) {
	cfg := New()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("godotenv.Load: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("envconfig.Process: %w", err)
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate ensures the configuration can be used.
func Validate(cfg *Config) error {
	var errs []error

	switch strings.ToLower(cfg.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q, expected debug, info, warn or error", cfg.LogLevel))
	}

	switch strings.ToLower(cfg.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q, expected text or json", cfg.LogFormat))
	}

	if cfg.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("parallelism must be positive, got %d", cfg.Parallelism))
	}

	if cfg.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("queue size must be positive, got %d", cfg.QueueSize))
	}

	if cfg.OutputDir == "" && cfg.Silent {
		errs = append(errs, errors.New("no output: output directory is empty and report echo is silenced"))
	}

	return errors.Join(errs...)
}
