// demo.go - In-memory walkthrough of one vault lifecycle.
//
// This demonstrates:
//   - an owner depositing 1000 tokens into a vault for the same number of shares against a fresh oracle proof
//   - minting 100 tokens worth of shares by re-checking the registered proof
//   - redeeming 50 back to RWA tokens
//   - an over-redemption being refused without touching any balance
//   - a conservation audit confirming the share supply matches the vault
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"veilvault/internal/attest"
	"veilvault/internal/telemetry"
	"veilvault/internal/tokens"
	"veilvault/internal/vault"
)

// Base units of the demo amounts.
const (
	initialShares uint64 = 1_000_000_000
	mintAmount    uint64 = 100_000_000
	burnAmount    uint64 = 50_000_000
	overBurn      uint64 = 2_000_000_000
)

func demoCmd() *cobra.Command {
	var sealed, verbose bool
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Walk through a vault lifecycle on in-memory books",
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := zerolog.WarnLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			log := telemetry.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: "15:04:05"}, nil, level)
			return runDemo(cmd.Context(), cmd.OutOrStdout(), log, sealed)
		},
	}
	cmd.Flags().BoolVar(&sealed, "sealed", false, "seal proofs with a zero-knowledge attestation (slow)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every transition")
	return cmd
}

func runDemo(ctx context.Context, w io.Writer, log *telemetry.Logger, sealed bool) error {
	now := time.Now()
	metadata := []byte(`{"asset":"warehouse-7","jurisdiction":"LU","appraisal":"2026-09-30"}`)
	owner := vault.Identity{0x0A, 0x11, 0xCE}

	gate, err := vault.NewGate(vault.DefaultFreshnessWindow, vault.DefaultClockSkew)
	if err != nil {
		return err
	}
	var (
		verifier vault.Verifier = gate
		proof                   = vault.OracleProof{Hash: attest.HashMetadata(metadata), Timestamp: now.Unix()}
	)
	if sealed {
		fmt.Fprintln(w, "== setting up attestation keys (in memory)")
		keys, err := attest.LoadKeys("")
		if err != nil {
			return err
		}
		secret, err := attest.GenerateSecret()
		if err != nil {
			return err
		}
		oracle, err := attest.NewOracle(keys, secret, nil)
		if err != nil {
			return err
		}
		if proof, err = oracle.AttestMetadata(metadata, now); err != nil {
			return err
		}
		if verifier, err = attest.NewVerifier(gate, keys.VK, oracle.Key()); err != nil {
			return err
		}
	}

	books := tokens.NewLedger()
	if err := books.Fund(owner, initialShares+mintAmount); err != nil {
		return err
	}
	ledger, err := vault.NewLedger(vault.Options{
		Tokens:   books,
		Verifier: verifier,
		Clock:    func() time.Time { return now },
		Logger:   log,
	})
	if err != nil {
		return err
	}

	show := func(step string, v vault.Vault) {
		fmt.Fprintf(w, "%-28s vault %s  shares %d  owner RWA %d\n", step, v.ID.Short(), v.TotalShares, books.Balance(owner))
	}

	v, err := ledger.Initialize(ctx, vault.InitializeRequest{Owner: owner, InitialShares: initialShares, Proof: proof})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	show(fmt.Sprintf("initialize %d", initialShares), v)

	if v, err = ledger.MintShares(ctx, vault.MintRequest{Vault: v.ID, Caller: owner, Amount: mintAmount}); err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	show(fmt.Sprintf("mint %d", mintAmount), v)

	if v, err = ledger.BurnShares(ctx, vault.BurnRequest{Vault: v.ID, Caller: owner, Amount: burnAmount}); err != nil {
		return fmt.Errorf("burn: %w", err)
	}
	show(fmt.Sprintf("burn %d", burnAmount), v)

	_, err = ledger.BurnShares(ctx, vault.BurnRequest{Vault: v.ID, Caller: owner, Amount: overBurn})
	if !errors.Is(err, vault.ErrInsufficientShares) {
		return fmt.Errorf("over-redemption: expected %v, got %v", vault.ErrInsufficientShares, err)
	}
	if v, err = ledger.Fetch(ctx, vault.FetchRequest{Vault: v.ID}); err != nil {
		return err
	}
	show(fmt.Sprintf("burn %d (refused)", overBurn), v)

	report, err := ledger.CheckConservation(ctx, v.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%-28s total %d  supply %d  balanced %t\n", "conservation audit", report.TotalShares, report.Supply, report.Balanced)
	if want := initialShares + mintAmount - burnAmount; v.TotalShares != want {
		return fmt.Errorf("expected %d shares, vault holds %d", want, v.TotalShares)
	}
	return nil
}
