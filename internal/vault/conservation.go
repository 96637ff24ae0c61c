// conservation.go - Verification that every vault's share count matches the
// outstanding share-token supply on the token ledger.

package vault

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Verify returns an ErrConservation failure unless total equals supply.
func Verify(total, supply uint64) error {
	if total == supply {
		return nil
	}
	return NewError(OpAudit, ErrConservation, fmt.Sprintf("total shares %d, token supply %d", total, supply))
}

// Report is the outcome of checking one vault.
type Report struct {
	Vault       ID     `json:"vault"`
	TotalShares uint64 `json:"total_shares"`
	Supply      uint64 `json:"supply"`
	Balanced    bool   `json:"balanced"`
	Error       string `json:"error,omitempty"`
}

// CheckConservation compares the vault's total shares with the token ledger's
// share supply. It holds the vault lock, so it never observes a transition
// half applied.
func (l *Ledger) CheckConservation(ctx context.Context, id ID) (Report, error) {
	unlock := l.locks.Lock(id)
	defer unlock()

	report := Report{Vault: id}
	rec, err := l.store.Get(ctx, id)
	if err != nil {
		ve := l.normalize(OpAudit, id, err)
		report.Error = ve.Error()
		return report, ve
	}
	report.TotalShares = rec.TotalShares

	supply, err := l.tokens.ShareSupply(ctx, id)
	if err != nil {
		ve := l.normalize(OpAudit, id, externalFailure(OpAudit, "share supply", err))
		report.Error = ve.Error()
		return report, ve
	}
	report.Supply = supply

	if err := Verify(rec.TotalShares, supply); err != nil {
		ve := l.normalize(OpAudit, id, err)
		report.Error = ve.Error()
		l.log.Error().
			Str("vault", id.String()).
			Uint64("total_shares", rec.TotalShares).
			Uint64("supply", supply).
			Msg("conservation violated")
		l.log.Audit("conservation_violation", map[string]interface{}{
			"vault":        id.String(),
			"total_shares": rec.TotalShares,
			"supply":       supply,
		})
		return report, ve
	}
	report.Balanced = true
	return report, nil
}

// Auditor runs the conservation check over every stored vault.
type Auditor struct {
	ledger      *Ledger
	concurrency int
}

// NewAuditor returns an auditor checking at most concurrency vaults at once.
func NewAuditor(ledger *Ledger, concurrency int) *Auditor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Auditor{ledger: ledger, concurrency: concurrency}
}

// AuditAll checks every vault and returns one report per vault in identity
// order. The error joins every failed check.
func (a *Auditor) AuditAll(ctx context.Context) ([]Report, error) {
	var ids []ID
	err := a.ledger.store.Range(ctx, func(rec Record) error {
		ids = append(ids, rec.ID)
		return nil
	})
	if err != nil {
		return nil, a.ledger.normalize(OpAudit, ID{}, err)
	}

	reports := make([]Report, len(ids))
	errs := make([]error, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reports[i], errs[i] = a.ledger.CheckConservation(gctx, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	violations := 0
	for _, err := range errs {
		if errors.Is(err, ErrConservation) {
			violations++
		}
	}
	a.ledger.metrics.RecordAudit(violations)
	a.ledger.log.Info().
		Int("vaults", len(ids)).
		Int("violations", violations).
		Msg("conservation audit complete")
	return reports, errors.Join(errs...)
}
