// Package config loads and validates the sync client configuration from a
// YAML file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration for one sync run.
type Config struct {
	Network    string           `yaml:"network"`
	Sync       SyncConfig       `yaml:"sync"`
	Source     SourceConfig     `yaml:"source"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type SyncConfig struct {
	StartHeight      uint32        `yaml:"start_height"`
	TargetHeight     uint32        `yaml:"target_height"`
	ChunkSize        uint32        `yaml:"chunk_size"`
	MaxConcurrency   int           `yaml:"max_concurrency"`
	MaxRetries       int           `yaml:"max_retries"`
	QueueSize        int           `yaml:"queue_size"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

type SourceConfig struct {
	Mode           string        `yaml:"mode"` // http | blob | local
	BaseURL        string        `yaml:"base_url"`
	BlobURL        string        `yaml:"blob_url"`
	LocalDir       string        `yaml:"local_dir"`
	Compressed     bool          `yaml:"compressed"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type LedgerConfig struct {
	Dir         string `yaml:"dir"`
	GenesisHash string `yaml:"genesis_hash"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	Format string `yaml:"format"` // json | text
	Level  string `yaml:"level"`
}

// ValidationError reports a rejected configuration field. Validation is
// fail-fast: the first invalid field aborts startup.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Network: "mainnet",
		Sync: SyncConfig{
			StartHeight:      1,
			ChunkSize:        50,
			MaxRetries:       5,
			ProgressInterval: time.Second,
		},
		Source: SourceConfig{
			Mode:           "http",
			RequestTimeout: 30 * time.Second,
			RetryBaseDelay: 500 * time.Millisecond,
		},
		Checkpoint: CheckpointConfig{
			Enabled: true,
			Dir:     "./checkpoints",
		},
		Ledger: LedgerConfig{
			Dir: "./ledger",
		},
		Metrics: MetricsConfig{
			Address: ":9090",
		},
		Logging: LoggingConfig{
			Format: "json",
			Level:  "info",
		},
	}
}

// Load reads configuration: defaults, then the YAML file (if path is
// non-empty), then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Network = getenvDefault("SYNC_NETWORK", c.Network)

	c.Sync.StartHeight = parseUint32(os.Getenv("SYNC_START_HEIGHT"), c.Sync.StartHeight)
	c.Sync.TargetHeight = parseUint32(os.Getenv("SYNC_TARGET_HEIGHT"), c.Sync.TargetHeight)
	c.Sync.ChunkSize = parseUint32(os.Getenv("SYNC_CHUNK_SIZE"), c.Sync.ChunkSize)
	c.Sync.MaxConcurrency = parseInt(os.Getenv("SYNC_MAX_CONCURRENCY"), c.Sync.MaxConcurrency)
	c.Sync.MaxRetries = parseInt(os.Getenv("SYNC_MAX_RETRIES"), c.Sync.MaxRetries)

	c.Source.Mode = getenvDefault("SYNC_SOURCE_MODE", c.Source.Mode)
	c.Source.BaseURL = getenvDefault("SYNC_SOURCE_BASE_URL", c.Source.BaseURL)
	c.Source.BlobURL = getenvDefault("SYNC_SOURCE_BLOB_URL", c.Source.BlobURL)
	c.Source.LocalDir = getenvDefault("SYNC_SOURCE_LOCAL_DIR", c.Source.LocalDir)
	if v := os.Getenv("SYNC_SOURCE_COMPRESSED"); v != "" {
		c.Source.Compressed = v == "true"
	}

	if v := os.Getenv("SYNC_CHECKPOINT_ENABLED"); v != "" {
		c.Checkpoint.Enabled = v == "true"
	}
	c.Checkpoint.Dir = getenvDefault("SYNC_CHECKPOINT_DIR", c.Checkpoint.Dir)

	c.Ledger.Dir = getenvDefault("SYNC_LEDGER_DIR", c.Ledger.Dir)
	c.Ledger.GenesisHash = getenvDefault("SYNC_GENESIS_HASH", c.Ledger.GenesisHash)

	if v := os.Getenv("SYNC_METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = v == "true"
	}
	c.Metrics.Address = getenvDefault("SYNC_METRICS_ADDRESS", c.Metrics.Address)

	c.Logging.Format = getenvDefault("SYNC_LOG_FORMAT", c.Logging.Format)
	c.Logging.Level = getenvDefault("SYNC_LOG_LEVEL", c.Logging.Level)
}

// Validate checks structural invariants before any network or disk work.
func (c *Config) Validate() error {
	if c.Network == "" {
		return &ValidationError{Field: "network", Reason: "must not be empty"}
	}
	if c.Sync.ChunkSize < 1 {
		return &ValidationError{Field: "sync.chunk_size", Reason: "must be at least 1"}
	}
	if c.Sync.TargetHeight == 0 {
		return &ValidationError{Field: "sync.target_height", Reason: "must be set"}
	}
	if c.Sync.StartHeight > c.Sync.TargetHeight {
		return &ValidationError{
			Field:  "sync.start_height",
			Reason: fmt.Sprintf("%d exceeds target height %d", c.Sync.StartHeight, c.Sync.TargetHeight),
		}
	}
	if c.Sync.MaxConcurrency < 0 {
		return &ValidationError{Field: "sync.max_concurrency", Reason: "must not be negative"}
	}
	if c.Sync.MaxRetries < 1 {
		return &ValidationError{Field: "sync.max_retries", Reason: "must be at least 1"}
	}

	switch c.Source.Mode {
	case "http":
		if c.Source.BaseURL == "" {
			return &ValidationError{Field: "source.base_url", Reason: "required for http mode"}
		}
	case "blob":
		if c.Source.BlobURL == "" {
			return &ValidationError{Field: "source.blob_url", Reason: "required for blob mode"}
		}
	case "local":
		if c.Source.LocalDir == "" {
			return &ValidationError{Field: "source.local_dir", Reason: "required for local mode"}
		}
	default:
		return &ValidationError{Field: "source.mode", Reason: fmt.Sprintf("unknown mode %q", c.Source.Mode)}
	}

	if c.Checkpoint.Enabled && c.Checkpoint.Dir == "" {
		return &ValidationError{Field: "checkpoint.dir", Reason: "required when checkpointing is enabled"}
	}
	if c.Ledger.Dir == "" {
		return &ValidationError{Field: "ledger.dir", Reason: "must not be empty"}
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return &ValidationError{Field: "metrics.address", Reason: "required when metrics are enabled"}
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func parseUint32(s string, def uint32) uint32 {
	if s == "" {
		return def
	}
	if v, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(v)
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}
