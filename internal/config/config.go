// config.go - Configuration management for the vault service
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"veilvault/internal/vault"
)

// Config represents the application configuration
type Config struct {
	// Proof gate
	FreshnessWindow time.Duration `yaml:"freshness_window"`
	ClockSkew       time.Duration `yaml:"clock_skew"`
	ProofPolicy     string        `yaml:"proof_policy"`

	Store       StoreConfig       `yaml:"store"`
	Tokens      TokensConfig      `yaml:"tokens"`
	Attestation AttestationConfig `yaml:"attestation"`
	HTTP        HTTPConfig        `yaml:"http"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Log         LogConfig         `yaml:"log"`
	Audit       AuditConfig       `yaml:"audit"`
}

// StoreConfig selects the vault store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory | sqlite
	Path   string `yaml:"path"`
}

// TokensConfig configures the reference token ledger.
type TokensConfig struct {
	SnapshotPath string `yaml:"snapshot_path"`
}

// AttestationConfig enables zero-knowledge seals on oracle proofs.
type AttestationConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OracleKey string `yaml:"oracle_key"` // hex
	KeyDir    string `yaml:"key_dir"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// RateLimitConfig configures the per-caller token bucket.
type RateLimitConfig struct {
	Burst           int `yaml:"burst"`
	RefillPerSecond int `yaml:"refill_per_second"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level     string `yaml:"level"`
	File      string `yaml:"file"`
	AuditFile string `yaml:"audit_file"`
}

// AuditConfig configures the conservation audit.
type AuditConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		FreshnessWindow: vault.DefaultFreshnessWindow,
		ClockSkew:       vault.DefaultClockSkew,
		ProofPolicy:     string(vault.ProofReusable),
		Store:           StoreConfig{Driver: "sqlite", Path: "data/vaults.db"},
		Tokens:          TokensConfig{SnapshotPath: "data/tokens.cbor"},
		Attestation:     AttestationConfig{KeyDir: "keys"},
		HTTP:            HTTPConfig{Addr: "127.0.0.1:8080"},
		RateLimit:       RateLimitConfig{Burst: 20, RefillPerSecond: 5},
		Log:             LogConfig{Level: "info", AuditFile: "audit.log"},
		Audit:           AuditConfig{MaxConcurrency: 4},
	}
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		config := DefaultConfig()
		if err := SaveConfig(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Keys missing from the file keep their defaults.
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := vault.NewGate(c.FreshnessWindow, c.ClockSkew); err != nil {
		return err
	}
	if _, err := vault.ParseProofPolicy(c.ProofPolicy); err != nil {
		return err
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Attestation.Enabled {
		if _, err := c.OracleKey(); err != nil {
			return err
		}
	}
	if c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.burst must be positive")
	}
	if c.RateLimit.RefillPerSecond <= 0 {
		return fmt.Errorf("rate_limit.refill_per_second must be positive")
	}
	if c.Audit.MaxConcurrency <= 0 {
		return fmt.Errorf("audit.max_concurrency must be positive")
	}
	return nil
}

// OracleKey decodes attestation.oracle_key.
func (c *Config) OracleKey() ([]byte, error) {
	if c.Attestation.OracleKey == "" {
		return nil, fmt.Errorf("attestation.oracle_key is required when attestation is enabled")
	}
	key, err := hex.DecodeString(c.Attestation.OracleKey)
	if err != nil {
		return nil, fmt.Errorf("attestation.oracle_key: %w", err)
	}
	if len(key) != vault.IDSize {
		return nil, fmt.Errorf("attestation.oracle_key is %d bytes, want %d", len(key), vault.IDSize)
	}
	return key, nil
}

// Gate builds the proof gate described by the configuration.
func (c *Config) Gate() (*vault.Gate, error) {
	return vault.NewGate(c.FreshnessWindow, c.ClockSkew)
}
