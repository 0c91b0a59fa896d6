package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Liu8Can/parfetch/internal/progress"
)

// Environment variables consumed by LoadFromEnv. The names are owned by the
// scheduler that invokes the engine, not by this package.
const (
	EnvThreads    = "DOWNLOAD_THREADS"
	EnvChunkSize  = "CHUNK_SIZE"
	EnvMaxRetries = "MAX_RETRIES"
)

// Config defines configuration for a download run.
type Config struct {
	URL        string      `yaml:"url"`
	Output     string      `yaml:"output"`
	Digest     string      `yaml:"digest"`
	Workers    int         `yaml:"workers"`
	ChunkSize  int64       `yaml:"chunk_size"`
	MaxRetries int         `yaml:"max_retries"`
	Mirror     string      `yaml:"mirror"`
	Progress   bool        `yaml:"progress"`
	Force      bool        `yaml:"force"`
	Retry      RetryConfig `yaml:"retry"`
}

// RetryConfig defines backoff behavior between chunk fetch attempts.
type RetryConfig struct {
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with the engine defaults: 16 workers, 6MiB
// chunks, 5 retries.
func Default() Config {
	return Config{
		Workers:    16,
		ChunkSize:  6_291_456,
		MaxRetries: 5,
		Retry: RetryConfig{
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// yamlConfig mirrors Config for unmarshaling, with human-readable strings
// for sizes and durations.
type yamlConfig struct {
	URL        string          `yaml:"url"`
	Output     string          `yaml:"output"`
	Digest     string          `yaml:"digest"`
	Workers    *int            `yaml:"workers"`
	ChunkSize  string          `yaml:"chunk_size"`
	MaxRetries *int            `yaml:"max_retries"`
	Mirror     string          `yaml:"mirror"`
	Progress   bool            `yaml:"progress"`
	Force      bool            `yaml:"force"`
	Retry      yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file on top of defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.URL != "" {
		cfg.URL = yc.URL
	}
	if yc.Output != "" {
		cfg.Output = yc.Output
	}
	if yc.Digest != "" {
		cfg.Digest = yc.Digest
	}
	if yc.Workers != nil {
		cfg.Workers = *yc.Workers
	}
	if yc.ChunkSize != "" {
		size, err := progress.ParseBytes(yc.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse chunk_size: %w", err)
		}
		cfg.ChunkSize = size
	}
	if yc.MaxRetries != nil {
		cfg.MaxRetries = *yc.MaxRetries
	}
	if yc.Mirror != "" {
		cfg.Mirror = yc.Mirror
	}
	cfg.Progress = yc.Progress
	cfg.Force = yc.Force
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if yc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}

	return cfg, nil
}

// LoadFromEnv applies environment overrides in place.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv(EnvThreads); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvThreads, err)
		}
		c.Workers = n
	}
	if v := os.Getenv(EnvChunkSize); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvChunkSize, err)
		}
		c.ChunkSize = size
	}
	if v := os.Getenv(EnvMaxRetries); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvMaxRetries, err)
		}
		c.MaxRetries = n
	}
	return nil
}

// Validate checks the configuration before a run. Workers may be zero,
// which means auto-sizing.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("config: url is required")
	}
	if c.Output == "" {
		return errors.New("config: output is required")
	}
	if c.Workers < 0 {
		return errors.New("config: workers must not be negative")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.MaxRetries < 1 {
		return errors.New("config: max_retries must be at least 1")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.URL != "" {
		c.URL = override.URL
	}
	if override.Output != "" {
		c.Output = override.Output
	}
	if override.Digest != "" {
		c.Digest = override.Digest
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	if override.MaxRetries != 0 {
		c.MaxRetries = override.MaxRetries
	}
	if override.Mirror != "" {
		c.Mirror = override.Mirror
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.Force {
		c.Force = override.Force
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	return c
}
