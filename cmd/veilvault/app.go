// app.go - Wires configuration, logging, storage and the vault ledger together.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"veilvault/internal/api"
	"veilvault/internal/attest"
	"veilvault/internal/config"
	"veilvault/internal/store/sqlite"
	"veilvault/internal/telemetry"
	"veilvault/internal/tokens"
	"veilvault/internal/vault"
)

// app holds the long-lived components built from one configuration.
type app struct {
	cfg     *config.Config
	log     *telemetry.Logger
	metrics *telemetry.Metrics
	health  *telemetry.HealthChecker
	tokens  *tokens.Ledger
	ledger  *vault.Ledger
	auditor *vault.Auditor
	closers []func() error
}

func openApp(configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return newApp(cfg)
}

func newApp(cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, metrics: telemetry.NewMetrics(), health: telemetry.NewHealthChecker(version)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.log, err = telemetry.NewLogger(cfg.Log.Level, cfg.Log.File, cfg.Log.AuditFile)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.log.Close)
	attest.UseLogger(a.log)

	store, err := a.openStore()
	if err != nil {
		return nil, err
	}

	a.tokens, err = tokens.LoadFromFile(cfg.Tokens.SnapshotPath)
	if err != nil {
		return nil, err
	}

	verifier, err := a.verifier()
	if err != nil {
		return nil, err
	}

	a.ledger, err = vault.NewLedger(vault.Options{
		Store:    store,
		Tokens:   a.tokens,
		Verifier: verifier,
		Policy:   vault.ProofPolicy(cfg.ProofPolicy),
		Logger:   a.log,
		Metrics:  a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.auditor = vault.NewAuditor(a.ledger, cfg.Audit.MaxConcurrency)
	a.health.RegisterComponent("store", store.Ping)
	mode := "freshness gate"
	if cfg.Attestation.Enabled {
		mode = "sealed attestations"
	}
	a.health.UpdateComponent("verifier", telemetry.Healthy, mode)

	a.log.Debug().
		Str("store", cfg.Store.Driver).
		Bool("attestation", cfg.Attestation.Enabled).
		Str("policy", cfg.ProofPolicy).
		Msg("vault ledger ready")
	return a, nil
}

func (a *app) openStore() (vault.Store, error) {
	switch a.cfg.Store.Driver {
	case "memory":
		return vault.NewMemoryStore(), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(a.cfg.Store.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		s, err := sqlite.Open(a.cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}
}

func (a *app) verifier() (vault.Verifier, error) {
	gate, err := a.cfg.Gate()
	if err != nil {
		return nil, err
	}
	if !a.cfg.Attestation.Enabled {
		return gate, nil
	}
	key, err := a.cfg.OracleKey()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	keys, err := attest.LoadKeys(a.cfg.Attestation.KeyDir)
	if err != nil {
		return nil, err
	}
	a.log.Info().Dur("elapsed", time.Since(start)).Str("dir", a.cfg.Attestation.KeyDir).Msg("attestation keys loaded")
	return attest.NewVerifier(gate, keys.VK, key)
}

// persist writes the token ledger snapshot so the next process sees the same books.
func (a *app) persist() error {
	if a.cfg.Tokens.SnapshotPath == "" {
		return nil
	}
	return a.tokens.SaveToFile(a.cfg.Tokens.SnapshotPath)
}

func (a *app) server() *api.Server {
	limiter := api.NewCallerRateLimiter(a.cfg.RateLimit.Burst, a.cfg.RateLimit.RefillPerSecond, time.Second)
	return api.NewServer(a.cfg.HTTP.Addr, api.Deps{
		Ledger:   a.ledger,
		Auditor:  a.auditor,
		Health:   a.health,
		Metrics:  a.metrics,
		Limiter:  limiter,
		Logger:   a.log,
		OnCommit: a.persist,
	})
}

// Close releases the store and log files.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
