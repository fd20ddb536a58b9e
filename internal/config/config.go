package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/runnerr0/blocklog/internal/batch"
	"github.com/runnerr0/blocklog/internal/reporter"
)

// Default config file path.
const DefaultConfigPath = "~/.config/blocklog/config.yaml"

// EnvPrefix marks environment variables that override the config file.
// A double underscore separates the section from the key, e.g.
// BLOCKLOG_BATCH__BATCH_SIZE=50.
const EnvPrefix = "BLOCKLOG_"

// Config holds all blocklog configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage" koanf:"storage"`
	Batch     BatchConfig     `yaml:"batch" koanf:"batch"`
	Retention RetentionConfig `yaml:"retention" koanf:"retention"`
	Reporter  ReporterConfig  `yaml:"reporter" koanf:"reporter"`
	Logging   LoggingConfig   `yaml:"logging" koanf:"logging"`
}

type StorageConfig struct {
	Dir           string `yaml:"dir" koanf:"dir" validate:"required"`
	SQLiteFile    string `yaml:"sqlite_file" koanf:"sqlite_file" validate:"required"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms" koanf:"busy_timeout_ms" validate:"gte=0"`
}

type BatchConfig struct {
	BatchSize            int  `yaml:"batch_size" koanf:"batch_size" validate:"gte=1"`
	FlushIntervalMinutes int  `yaml:"flush_interval_minutes" koanf:"flush_interval_minutes" validate:"gte=0"`
	EnableSizeTrigger    bool `yaml:"enable_size_trigger" koanf:"enable_size_trigger"`
	EnableTimerTrigger   bool `yaml:"enable_timer_trigger" koanf:"enable_timer_trigger"`
}

// RetentionConfig controls how long reported records are kept.
type RetentionConfig struct {
	ReportedDays int `yaml:"reported_days" koanf:"reported_days" validate:"gte=0,lte=36500"`
}

type ReporterConfig struct {
	ScanIntervalSeconds int     `yaml:"scan_interval_seconds" koanf:"scan_interval_seconds" validate:"gte=1"`
	BatchSize           int     `yaml:"batch_size" koanf:"batch_size" validate:"gte=1"`
	RatePerSecond       float64 `yaml:"rate_per_second" koanf:"rate_per_second" validate:"gte=0"`
	SuccessRate         float64 `yaml:"success_rate" koanf:"success_rate" validate:"gte=0,lte=1"`
}

type LoggingConfig struct {
	// Env is "dev" (console encoder) or "prod" (JSON encoder).
	Env   string `yaml:"env" koanf:"env" validate:"required,oneof=dev prod"`
	Level string `yaml:"level" koanf:"level" validate:"required,oneof=debug info warn error"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// envLoader overlays BLOCKLOG_* environment variables onto k. It is a
// variable so tests can make it fail.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
			return strings.ReplaceAll(key, "__", "."), value
		},
	}), nil)
}

// Load reads a YAML config file at path, merges it with defaults, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return overlay(cfg)
}

// overlay layers the environment over cfg and validates the merged result.
func overlay(cfg *Config) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(*cfg, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading config values: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("loading env: %w", err)
	}

	var out Config
	if err := k.Unmarshal("", &out); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// Validate checks every section's bounds.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := expandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return overlay(cfg)
	}

	return Load(path)
}

// DBPath returns the SQLite file location with ~ expanded.
func (c *Config) DBPath() (string, error) {
	dir, err := expandPath(c.Storage.Dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.Storage.BusyTimeoutMS) * time.Millisecond
}

// CoordinatorConfig converts the batch section. The flush interval is
// configured in whole minutes; zero disables the timer trigger.
func (c *Config) CoordinatorConfig() batch.Config {
	return batch.Config{
		BatchSize:          c.Batch.BatchSize,
		FlushInterval:      time.Duration(c.Batch.FlushIntervalMinutes) * time.Minute,
		EnableSizeTrigger:  c.Batch.EnableSizeTrigger,
		EnableTimerTrigger: c.Batch.EnableTimerTrigger,
	}
}

// DeliveryConfig converts the reporter section.
func (c *Config) DeliveryConfig() reporter.Config {
	return reporter.Config{
		ScanInterval:  time.Duration(c.Reporter.ScanIntervalSeconds) * time.Second,
		BatchSize:     c.Reporter.BatchSize,
		RatePerSecond: c.Reporter.RatePerSecond,
	}
}
