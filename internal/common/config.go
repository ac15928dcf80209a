// Package common provides shared utilities for Tally
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Tally
type Config struct {
	Environment string        `toml:"environment"`
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Ledger      LedgerConfig  `toml:"ledger"`
	Outbox      OutboxConfig  `toml:"outbox"`
	Auth        AuthConfig    `toml:"auth"`
	Logging     LoggingConfig `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds SurrealDB connection configuration.
type StorageConfig struct {
	Address   string `toml:"address"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
}

// LedgerConfig holds posting behaviour configuration.
type LedgerConfig struct {
	// OverdraftAccounts lists account ids exempt from the non-negative
	// bucket guard (system-of-record accounts).
	OverdraftAccounts []string `toml:"overdraft_accounts"`
	// ChaosProbability injects a synthetic transaction failure with the
	// given probability in [0,1]. Zero in production.
	ChaosProbability float64 `toml:"chaos_probability"`
}

// OverdraftSet returns the overdraft accounts as a lookup set.
func (c *LedgerConfig) OverdraftSet() map[string]bool {
	set := make(map[string]bool, len(c.OverdraftAccounts))
	for _, id := range c.OverdraftAccounts {
		id = strings.TrimSpace(id)
		if id != "" {
			set[id] = true
		}
	}
	return set
}

// OutboxConfig holds dispatcher configuration.
type OutboxConfig struct {
	TargetURL      string `toml:"target_url"`  // absolute consumer URL
	TargetPath     string `toml:"target_path"` // path combined with TargetHost
	TargetHost     string `toml:"target_host"`
	TimeoutMS      int    `toml:"timeout_ms"`
	MaxBatch       int    `toml:"max_batch"`
	MaxBackoffMS   int    `toml:"max_backoff_ms"`
	DispatchRPS    int    `toml:"dispatch_rps"` // 0 disables rate limiting
	CronEnabled    bool   `toml:"cron_enabled"`
	CronIntervalMS int    `toml:"cron_interval_ms"`
}

// GetTimeout returns the per-dispatch HTTP timeout.
func (c *OutboxConfig) GetTimeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// GetMaxBackoff returns the backoff ceiling.
func (c *OutboxConfig) GetMaxBackoff() time.Duration {
	if c.MaxBackoffMS <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.MaxBackoffMS) * time.Millisecond
}

// GetCronInterval returns the in-process dispatcher tick interval.
func (c *OutboxConfig) GetCronInterval() time.Duration {
	if c.CronIntervalMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.CronIntervalMS) * time.Millisecond
}

// AuthConfig holds the shared secret for protected endpoints.
type AuthConfig struct {
	APIKey string `toml:"api_key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `toml:"level"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Address:   "ws://localhost:8000/rpc",
			Username:  "root",
			Password:  "root",
			Namespace: "tally",
			Database:  "ledger",
		},
		Ledger: LedgerConfig{
			OverdraftAccounts: []string{"ESCROW_POOL"},
			ChaosProbability:  0,
		},
		Outbox: OutboxConfig{
			TargetPath:     "/events",
			TimeoutMS:      5000,
			MaxBatch:       50,
			MaxBackoffMS:   60000,
			CronEnabled:    false,
			CronIntervalMS: 10000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TALLY_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("TALLY_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("TALLY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("TALLY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if v := os.Getenv("TALLY_DB_ADDRESS"); v != "" {
		config.Storage.Address = v
	}
	if v := os.Getenv("TALLY_DB_USERNAME"); v != "" {
		config.Storage.Username = v
	}
	if v := os.Getenv("TALLY_DB_PASSWORD"); v != "" {
		config.Storage.Password = v
	}
	if v := os.Getenv("TALLY_DB_NAMESPACE"); v != "" {
		config.Storage.Namespace = v
	}
	if v := os.Getenv("TALLY_DB_DATABASE"); v != "" {
		config.Storage.Database = v
	}

	if v := os.Getenv("TALLY_API_KEY"); v != "" {
		config.Auth.APIKey = v
	}

	if v := os.Getenv("TALLY_OUTBOX_TARGET"); v != "" {
		config.Outbox.TargetURL = v
	}
	if v := os.Getenv("TALLY_OUTBOX_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			config.Outbox.TimeoutMS = ms
		}
	}
	if v := os.Getenv("TALLY_OUTBOX_CRON_ENABLED"); v != "" {
		config.Outbox.CronEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TALLY_OUTBOX_CRON_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			config.Outbox.CronIntervalMS = ms
		}
	}

	if v := os.Getenv("TALLY_CHAOS_PROBABILITY"); v != "" {
		if p, err := strconv.ParseFloat(v, 64); err == nil {
			config.Ledger.ChaosProbability = p
		}
	}
	if v := os.Getenv("TALLY_OVERDRAFT_ACCOUNTS"); v != "" {
		config.Ledger.OverdraftAccounts = strings.Split(v, ",")
	}
}

// validate clamps and rejects out-of-range values.
func validate(config *Config) error {
	if config.Ledger.ChaosProbability < 0 || config.Ledger.ChaosProbability > 1 {
		return fmt.Errorf("ledger.chaos_probability must be in [0,1], got %v", config.Ledger.ChaosProbability)
	}
	if config.Outbox.MaxBatch <= 0 {
		config.Outbox.MaxBatch = 50
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
