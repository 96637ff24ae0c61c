package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilvault/internal/config"
	"veilvault/internal/telemetry"
	"veilvault/internal/vault"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Store.Path = filepath.Join(dir, "data", "vaults.db")
	cfg.Tokens.SnapshotPath = filepath.Join(dir, "data", "tokens.cbor")
	cfg.Log.Level = "error"
	cfg.Log.AuditFile = filepath.Join(dir, "audit.log")
	path := filepath.Join(dir, "veilvault.yaml")
	require.NoError(t, config.SaveConfig(cfg, path))
	return path
}

func run(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", configPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandsPersistAcrossInvocations(t *testing.T) {
	cfg := writeConfig(t)
	owner := vault.Identity{0x42}
	id := vault.Derive(owner)
	hash := strings.Repeat("ab", vault.HashSize)

	_, err := run(t, cfg, "fund", "--owner", owner.String(), "--amount", "2000")
	require.NoError(t, err)

	out, err := run(t, cfg, "init", "--owner", owner.String(), "--shares", "1000", "--hash", hash)
	require.NoError(t, err, out)

	_, err = run(t, cfg, "mint", "--vault", id.String(), "--caller", owner.String(), "--amount", "100")
	require.NoError(t, err)

	_, err = run(t, cfg, "burn", "--vault", id.String(), "--caller", owner.String(), "--amount", "50")
	require.NoError(t, err)

	_, err = run(t, cfg, "burn", "--vault", id.String(), "--caller", owner.String(), "--amount", "2000")
	require.ErrorIs(t, err, vault.ErrInsufficientShares)

	out, err = run(t, cfg, "show", "--owner", owner.String())
	require.NoError(t, err)
	var v vault.Vault
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, id, v.ID)
	assert.Equal(t, uint64(1050), v.TotalShares)

	out, err = run(t, cfg, "audit")
	require.NoError(t, err)
	var reports []vault.Report
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Balanced)
}

func TestInitRequiresProof(t *testing.T) {
	cfg := writeConfig(t)
	_, err := run(t, cfg, "init", "--owner", vault.Identity{0x01}.String())
	assert.ErrorContains(t, err, "--proof or --hash")
}

func TestDerive(t *testing.T) {
	owner := vault.Identity{0x07}
	out, err := run(t, writeConfig(t), "derive", owner.String())
	require.NoError(t, err)
	assert.Equal(t, vault.Derive(owner).String(), strings.TrimSpace(out))
}

func TestDemo(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runDemo(context.Background(), &out, telemetry.Nop(), false))
	assert.Contains(t, out.String(), "balanced true")
	assert.Contains(t, out.String(), "shares 1050000000")
}

func TestDemoSealed(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is slow")
	}
	var out bytes.Buffer
	require.NoError(t, runDemo(context.Background(), &out, telemetry.Nop(), true))
	assert.Contains(t, out.String(), "balanced true")
}
