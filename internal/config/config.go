// Package config loads and validates the analytics configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the complete analytics configuration.
type Config struct {
	// DataDir is the root directory for all persisted data.
	DataDir string `yaml:"data_dir"`

	// Logging configures structured log output.
	Logging LoggingConfig `yaml:"logging"`

	// Ingestion configures the write buffer.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Query configures the query engine.
	Query QueryConfig `yaml:"query"`

	// Archive configures Parquet exports.
	Archive ArchiveConfig `yaml:"archive"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches output from text to JSON.
	JSON bool `yaml:"json"`
}

// IngestionConfig configures the write buffer.
type IngestionConfig struct {
	// FlushBatchSize triggers an immediate flush when a date-key's queue
	// reaches this length.
	FlushBatchSize int `yaml:"flush_batch_size"`

	// FlushIntervalMs is the timer flush delay for a non-empty queue.
	FlushIntervalMs int `yaml:"flush_interval_ms"`
}

// QueryConfig configures the query engine.
type QueryConfig struct {
	// Percentiles configures DDSketch response-time percentiles.
	Percentiles PercentileConfig `yaml:"percentiles"`

	// MaxConcurrentLoads bounds parallel partition loads per query.
	MaxConcurrentLoads int `yaml:"max_concurrent_loads"`
}

// PercentileConfig configures DDSketch response-time percentiles.
type PercentileConfig struct {
	// Enabled enables percentile calculation in stats results.
	Enabled bool `yaml:"enabled"`

	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// ArchiveConfig configures Parquet exports.
type ArchiveConfig struct {
	// Dir is the export directory. Defaults to {DataDir}/archive.
	Dir string `yaml:"dir"`

	// Compression is the Parquet codec: zstd, snappy, lz4, gzip, none.
	Compression string `yaml:"compression"`

	// SQLMemoryLimit is the DuckDB memory limit for archive queries.
	SQLMemoryLimit string `yaml:"sql_memory_limit"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "data",
		Logging: LoggingConfig{
			Level: "info",
		},
		Ingestion: IngestionConfig{
			FlushBatchSize:  10,
			FlushIntervalMs: 5000,
		},
		Query: QueryConfig{
			Percentiles: PercentileConfig{
				Enabled:  true,
				Accuracy: 0.01,
			},
			MaxConcurrentLoads: 4,
		},
		Archive: ArchiveConfig{
			Compression:    "zstd",
			SQLMemoryLimit: "1GB",
		},
	}
}

// Load loads configuration from a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Ingestion.FlushBatchSize < 1 {
		return fmt.Errorf("ingestion.flush_batch_size must be >= 1, got %d", c.Ingestion.FlushBatchSize)
	}
	if c.Ingestion.FlushIntervalMs < 1 {
		return fmt.Errorf("ingestion.flush_interval_ms must be >= 1, got %d", c.Ingestion.FlushIntervalMs)
	}
	if c.Query.MaxConcurrentLoads < 1 {
		return fmt.Errorf("query.max_concurrent_loads must be >= 1, got %d", c.Query.MaxConcurrentLoads)
	}
	if c.Query.Percentiles.Enabled {
		if c.Query.Percentiles.Accuracy <= 0 || c.Query.Percentiles.Accuracy >= 1 {
			return fmt.Errorf("query.percentiles.accuracy must be in (0, 1), got %g", c.Query.Percentiles.Accuracy)
		}
	}
	switch c.Archive.Compression {
	case "", "none", "snappy", "zstd", "lz4", "gzip":
	default:
		return fmt.Errorf("archive.compression %q not one of none, snappy, zstd, lz4, gzip", c.Archive.Compression)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// EventsDir returns the directory holding NDJSON partitions.
func (c *Config) EventsDir() string {
	return filepath.Join(c.DataDir, "events")
}

// ArchiveDir returns the directory Parquet exports land in.
func (c *Config) ArchiveDir() string {
	if c.Archive.Dir != "" {
		return c.Archive.Dir
	}
	return filepath.Join(c.DataDir, "archive")
}

// EnsureDirectories creates the data directories if absent.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.EventsDir(), c.ArchiveDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
