// Package daemon holds the service configuration: TOML file with defaults,
// overridable by environment variables for container deployments.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full billingd configuration.
type Config struct {
	API     APIConfig     `toml:"api"`
	Store   StoreConfig   `toml:"store"`
	Billing BillingConfig `toml:"billing"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StoreConfig configures the ledger database.
type StoreConfig struct {
	Path string `toml:"path"`
}

// BillingConfig configures the billing policy and transaction bounds.
type BillingConfig struct {
	WarningThreshold    int64 `toml:"warning_threshold"`
	SecondsPerMinute    int64 `toml:"seconds_per_minute"`
	TxTimeoutMS         int64 `toml:"tx_timeout_ms"`
	TxMaxWaitMS         int64 `toml:"tx_max_wait_ms"`
	GraceLastCreditSecs int64 `toml:"grace_last_credit_s"`
	GraceNoCreditSecs   int64 `toml:"grace_no_credit_s"`
}

// TxTimeout returns the hard bound on total transaction duration.
func (b BillingConfig) TxTimeout() time.Duration {
	return time.Duration(b.TxTimeoutMS) * time.Millisecond
}

// TxMaxWait returns the bound on waiting for the store's write lock.
func (b BillingConfig) TxMaxWait() time.Duration {
	return time.Duration(b.TxMaxWaitMS) * time.Millisecond
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
		Store: StoreConfig{
			Path: filepath.Join(home, ".billingd", "billing.db"),
		},
		Billing: BillingConfig{
			WarningThreshold:    2,
			SecondsPerMinute:    60,
			TxTimeoutMS:         10000,
			TxMaxWaitMS:         5000,
			GraceLastCreditSecs: 60,
			GraceNoCreditSecs:   30,
		},
	}
}

// Load reads configuration from path, layering defaults ← file ← env.
// A missing file is not an error: defaults plus env apply.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration consistency.
func (c Config) Validate() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	if c.Billing.WarningThreshold < 0 {
		return fmt.Errorf("billing.warning_threshold cannot be negative")
	}
	if c.Billing.SecondsPerMinute < 1 {
		return fmt.Errorf("billing.seconds_per_minute must be positive")
	}
	if c.Billing.TxTimeoutMS < 1 || c.Billing.TxMaxWaitMS < 1 {
		return fmt.Errorf("billing transaction bounds must be positive")
	}
	if c.Billing.GraceLastCreditSecs < 0 || c.Billing.GraceNoCreditSecs < 0 {
		return fmt.Errorf("billing grace periods cannot be negative")
	}
	return nil
}

// applyEnv overlays deployment-facing settings from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("BILLING_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("BILLING_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = p
		}
	}
	if v := os.Getenv("BILLING_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
}
