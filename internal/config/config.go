// Package config loads opiload settings.
//
// Precedence, later wins: Default(), the optional YAML file, a .env file,
// the process environment. CLI flags are applied by the caller on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/encoding"
	"gopkg.in/yaml.v3"

	"opiload/internal/parser/fixedwidth"
	"opiload/internal/retry"
	"opiload/internal/storage"
)

// ErrConfigNotFound is returned when an explicitly named config file does
// not exist.
var ErrConfigNotFound = errors.New("config file not found")

// StoreConfig selects and tunes the target store.
type StoreConfig struct {
	Kind        string        `yaml:"kind" env:"OPILOAD_STORE"`
	DSN         string        `yaml:"dsn" env:"OPILOAD_DSN"`
	BusyTimeout time.Duration `yaml:"busy_timeout" env:"OPILOAD_BUSY_TIMEOUT"`
	JournalMode string        `yaml:"journal_mode" env:"OPILOAD_JOURNAL_MODE"`
}

// RetryConfig tunes retries of transient storage and download errors.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" env:"OPILOAD_RETRY_MAX_ATTEMPTS"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"OPILOAD_RETRY_INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"OPILOAD_RETRY_MAX_DELAY"`
}

// MetricsConfig selects a metrics backend: "none" or "datadog".
type MetricsConfig struct {
	Backend    string        `yaml:"backend" env:"METRICS_BACKEND"`
	Tags       []string      `yaml:"tags" env:"METRICS_TAGS"`
	FlushEvery time.Duration `yaml:"flush_every" env:"METRICS_FLUSH_EVERY"`
}

// Config is the full runtime configuration.
type Config struct {
	Store         StoreConfig   `yaml:"store"`
	DataDir       string        `yaml:"data_dir" env:"OPILOAD_DATA_DIR"`
	Reference     string        `yaml:"reference" env:"OPILOAD_REFERENCE"`
	Workers       int           `yaml:"workers" env:"OPILOAD_WORKERS"`
	BatchSize     int           `yaml:"batch_size" env:"OPILOAD_BATCH_SIZE"`
	KeyCandidates []string      `yaml:"key_candidates" env:"OPILOAD_KEY_CANDIDATES"`
	Encoding      string        `yaml:"encoding" env:"OPILOAD_ENCODING"`
	KeepData      bool          `yaml:"keep_data" env:"OPILOAD_KEEP_DATA"`
	Retry         RetryConfig   `yaml:"retry"`
	Metrics       MetricsConfig `yaml:"metrics"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Kind:        "sqlite",
			BusyTimeout: 5 * time.Second,
			JournalMode: "WAL",
		},
		DataDir:   "./data",
		Reference: "OFNT3AA1",
		BatchSize: 250,
		Retry: RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		Metrics: MetricsConfig{Backend: "none", FlushEvery: time.Minute},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), the dotenv file at envFile (skipped when missing), and
// the process environment. Real environment variables win over .env.
func Load(path, envFile string) (Config, error) {
	var dotenv map[string]string
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = m
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read %s: %w", envFile, err)
		}
	}
	return load(path, environ(dotenv))
}

func load(path string, vars map[string]string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, vars); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var metricsBackends = map[string]bool{"": true, "none": true, "datadog": true}

// Validate reports every problem with c, joined.
func (c Config) Validate() error {
	var errs []error
	if _, err := storage.Lookup(c.Store.Kind); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required (output database)"))
	}
	if c.Store.BusyTimeout < 0 {
		errs = append(errs, fmt.Errorf("store.busy_timeout must be >= 0"))
	}
	if strings.TrimSpace(c.Reference) == "" {
		errs = append(errs, fmt.Errorf("reference is required"))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be >= 0, got %d", c.Workers))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch_size must be >= 1, got %d", c.BatchSize))
	}
	if _, err := fixedwidth.Charset(c.Encoding); err != nil {
		errs = append(errs, err)
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 0"))
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, fmt.Errorf("retry delays must be >= 0"))
	}
	if !metricsBackends[strings.ToLower(c.Metrics.Backend)] {
		errs = append(errs, fmt.Errorf("metrics.backend %q not supported (none, datadog)", c.Metrics.Backend))
	}
	return errors.Join(errs...)
}

// Storage returns the storage settings.
func (c Config) Storage() storage.Config {
	return storage.Config{
		Kind:        c.Store.Kind,
		DSN:         c.Store.DSN,
		BusyTimeout: c.Store.BusyTimeout,
		JournalMode: c.Store.JournalMode,
	}
}

// Backoff returns the retry strategy described by c.Retry.
func (c Config) Backoff() *retry.ExponentialBackoff {
	var opts []retry.BackoffOption
	if c.Retry.InitialDelay > 0 {
		opts = append(opts, retry.WithInitialDelay(c.Retry.InitialDelay))
	}
	if c.Retry.MaxDelay > 0 {
		opts = append(opts, retry.WithMaxDelay(c.Retry.MaxDelay))
	}
	return retry.NewExponentialBackoff(c.Retry.MaxAttempts, opts...)
}

// Charset returns the field decoder for c.Encoding, nil for passthrough.
func (c Config) Charset() (encoding.Encoding, error) {
	return fixedwidth.Charset(c.Encoding)
}
