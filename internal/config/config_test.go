package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "veilvault.yaml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "freshness_window: 5m0s")
	assert.Contains(t, string(data), "proof_policy: reusable")

	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadConfigPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "veilvault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"freshness_window: 90s",
		"proof_policy: single-use",
		"store:",
		"  driver: memory",
	}, "\n")), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.FreshnessWindow)
	assert.Equal(t, "single-use", cfg.ProofPolicy)
	assert.Equal(t, "memory", cfg.Store.Driver)
	// untouched keys keep defaults
	assert.Equal(t, 30*time.Second, cfg.ClockSkew)
	assert.Equal(t, 4, cfg.Audit.MaxConcurrency)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero window", func(c *Config) { c.FreshnessWindow = 0 }},
		{"negative skew", func(c *Config) { c.ClockSkew = -time.Second }},
		{"unknown policy", func(c *Config) { c.ProofPolicy = "sometimes" }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "postgres" }},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }},
		{"attestation without key", func(c *Config) { c.Attestation.Enabled = true }},
		{"attestation bad key", func(c *Config) {
			c.Attestation.Enabled = true
			c.Attestation.OracleKey = "abcd"
		}},
		{"zero burst", func(c *Config) { c.RateLimit.Burst = 0 }},
		{"zero refill", func(c *Config) { c.RateLimit.RefillPerSecond = 0 }},
		{"zero audit concurrency", func(c *Config) { c.Audit.MaxConcurrency = 0 }},
	}
	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestOracleKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Attestation.Enabled = true
	cfg.Attestation.OracleKey = strings.Repeat("01", 48)
	require.NoError(t, cfg.Validate())
	key, err := cfg.OracleKey()
	require.NoError(t, err)
	assert.Len(t, key, 48)
}
