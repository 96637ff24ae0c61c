// ledger.go - The vault state machine: initialize, mint, burn and re-attest.
//
// Every transition runs under the lock of its vault identity and inside one
// store unit of work. Token ledger calls happen inside that unit; when a later
// step fails, the steps already applied on the token ledger are reversed so the
// vault record and the share supply never diverge.

package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/rs/zerolog"

	"veilvault/internal/telemetry"
)

// Options configures a Ledger. Tokens is required; every other field has a default.
type Options struct {
	Store    Store
	Tokens   TokenLedger
	Verifier Verifier // defaults to a Gate with the default window and skew
	Policy   ProofPolicy
	Clock    func() time.Time
	Logger   *telemetry.Logger
	Metrics  *telemetry.Metrics
}

// Ledger owns vault state and enforces share conservation.
type Ledger struct {
	store    Store
	tokens   TokenLedger
	verifier Verifier
	policy   ProofPolicy
	clock    func() time.Time
	log      *telemetry.Logger
	metrics  *telemetry.Metrics
	locks    *keyedMutex
}

// NewLedger creates a ledger from opts.
func NewLedger(opts Options) (*Ledger, error) {
	if opts.Tokens == nil {
		return nil, errors.New("vault: token ledger is required")
	}
	policy, err := ParseProofPolicy(string(opts.Policy))
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	l := &Ledger{
		store:    opts.Store,
		tokens:   opts.Tokens,
		verifier: opts.Verifier,
		policy:   policy,
		clock:    opts.Clock,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		locks:    newKeyedMutex(),
	}
	if l.store == nil {
		l.store = NewMemoryStore()
	}
	if l.verifier == nil {
		l.verifier = &Gate{Window: DefaultFreshnessWindow, Skew: DefaultClockSkew}
	}
	if l.clock == nil {
		l.clock = time.Now
	}
	if l.log == nil {
		l.log = telemetry.Nop()
	}
	return l, nil
}

// Store returns the ledger's backing store.
func (l *Ledger) Store() Store { return l.store }

// Tokens returns the external token ledger.
func (l *Ledger) Tokens() TokenLedger { return l.tokens }

// Policy returns the active proof policy.
func (l *Ledger) Policy() ProofPolicy { return l.policy }

// Initialize creates the vault of req.Owner holding req.InitialShares shares and
// registers req.Proof with it. The owner deposits req.InitialShares RWA tokens
// and receives the same number of share tokens, so every share is backed.
func (l *Ledger) Initialize(ctx context.Context, req InitializeRequest) (Vault, error) {
	if err := req.Validate(); err != nil {
		return Vault{}, l.fail(OpInitialize, ID{}, err)
	}
	id := Derive(req.Owner)
	unlock := l.locks.Lock(id)
	defer unlock()

	if _, err := l.store.Get(ctx, id); err == nil {
		return Vault{}, l.fail(OpInitialize, id, NewError(OpInitialize, ErrAlreadyInitialized, "owner "+req.Owner.String()))
	} else if !errors.Is(err, ErrNotFound) {
		return Vault{}, l.fail(OpInitialize, id, err)
	}

	now := l.clock()
	if err := l.check(req.Proof, now); err != nil {
		return Vault{}, l.fail(OpInitialize, id, invalidProof(OpInitialize, err))
	}

	proof := req.Proof.Clone()
	rec := Record{
		Vault: Vault{
			ID:          id,
			Authority:   req.Owner,
			TotalShares: req.InitialShares,
			RWAHash:     bytes.Clone(proof.Hash),
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Proof: &proof,
	}

	var minted bool
	err := l.store.Create(ctx, rec, func() error {
		if req.InitialShares == 0 {
			return nil
		}
		if err := l.tokens.TransferIn(ctx, req.Owner, id, req.InitialShares); err != nil {
			return externalFailure(OpInitialize, "transfer in", err)
		}
		if err := l.tokens.MintShareToken(ctx, req.Owner, id, req.InitialShares); err != nil {
			return l.compensate(ctx, OpInitialize, id, externalFailure(OpInitialize, "mint share token", err), func(ctx context.Context) error {
				return l.tokens.ReleaseOut(ctx, req.Owner, id, req.InitialShares)
			})
		}
		minted = true
		return nil
	})
	if err != nil {
		if minted {
			err = l.compensate(ctx, OpInitialize, id, err, func(ctx context.Context) error {
				if err := l.tokens.BurnShareToken(ctx, req.Owner, id, req.InitialShares); err != nil {
					return err
				}
				return l.tokens.ReleaseOut(ctx, req.Owner, id, req.InitialShares)
			})
		}
		return Vault{}, l.fail(OpInitialize, id, err)
	}

	l.committed(OpInitialize, rec.Vault, req.Owner, req.InitialShares)
	l.log.Audit("vault_initialized", map[string]interface{}{
		"vault":          id.String(),
		"authority":      req.Owner.String(),
		"initial_shares": req.InitialShares,
		"rwa_hash":       proof.Hash.String(),
	})
	return rec.Vault, nil
}

// MintShares issues req.Amount shares to the vault authority against an
// accepted oracle proof.
func (l *Ledger) MintShares(ctx context.Context, req MintRequest) (Vault, error) {
	if err := req.Validate(); err != nil {
		return Vault{}, l.fail(OpMint, req.Vault, err)
	}
	unlock := l.locks.Lock(req.Vault)
	defer unlock()

	var (
		out     Vault
		applied bool
	)
	err := l.store.Update(ctx, req.Vault, func(rec *Record) error {
		if rec.Authority != req.Caller {
			return NewError(OpMint, ErrUnauthorized, "caller "+req.Caller.String())
		}

		proof := req.Proof
		if proof == nil {
			proof = rec.Proof
		}
		if proof == nil {
			return invalidProof(OpMint, fmt.Errorf("%w: no proof supplied or registered", ErrMalformedProof))
		}
		now := l.clock()
		if err := l.check(*proof, now); err != nil {
			return invalidProof(OpMint, err)
		}
		if !bytes.Equal(proof.Hash, rec.RWAHash) {
			return invalidProof(OpMint, ErrProofMismatch)
		}
		if l.policy == ProofSingleUse && proof.Timestamp <= rec.Watermark {
			return invalidProof(OpMint, fmt.Errorf("%w: timestamp %d, watermark %d", ErrProofConsumed, proof.Timestamp, rec.Watermark))
		}

		total, carry := bits.Add64(rec.TotalShares, req.Amount, 0)
		if carry != 0 {
			return NewError(OpMint, ErrOverflow, fmt.Sprintf("%d + %d", rec.TotalShares, req.Amount))
		}

		if err := l.tokens.TransferIn(ctx, req.Caller, req.Vault, req.Amount); err != nil {
			return externalFailure(OpMint, "transfer in", err)
		}
		if err := l.tokens.MintShareToken(ctx, req.Caller, req.Vault, req.Amount); err != nil {
			return l.compensate(ctx, OpMint, req.Vault, externalFailure(OpMint, "mint share token", err), func(ctx context.Context) error {
				return l.tokens.ReleaseOut(ctx, req.Caller, req.Vault, req.Amount)
			})
		}
		applied = true

		rec.TotalShares = total
		if l.policy == ProofSingleUse {
			rec.Watermark = proof.Timestamp
		}
		rec.UpdatedAt = now
		out = rec.Vault
		return nil
	})
	if err != nil {
		if applied {
			err = l.compensate(ctx, OpMint, req.Vault, err, func(ctx context.Context) error {
				if err := l.tokens.BurnShareToken(ctx, req.Caller, req.Vault, req.Amount); err != nil {
					return err
				}
				return l.tokens.ReleaseOut(ctx, req.Caller, req.Vault, req.Amount)
			})
		}
		return Vault{}, l.fail(OpMint, req.Vault, err)
	}

	l.committed(OpMint, out, req.Caller, req.Amount)
	l.log.Audit("shares_minted", map[string]interface{}{
		"vault":        out.ID.String(),
		"caller":       req.Caller.String(),
		"amount":       req.Amount,
		"total_shares": out.TotalShares,
	})
	return out, nil
}

// BurnShares redeems req.Amount shares held by req.Caller and releases the
// matching RWA tokens back to the caller.
func (l *Ledger) BurnShares(ctx context.Context, req BurnRequest) (Vault, error) {
	if err := req.Validate(); err != nil {
		return Vault{}, l.fail(OpBurn, req.Vault, err)
	}
	unlock := l.locks.Lock(req.Vault)
	defer unlock()

	var (
		out     Vault
		applied bool
	)
	err := l.store.Update(ctx, req.Vault, func(rec *Record) error {
		if req.Amount > rec.TotalShares {
			return NewError(OpBurn, ErrInsufficientShares,
				fmt.Sprintf("amount %d exceeds total shares %d", req.Amount, rec.TotalShares))
		}
		balance, err := l.tokens.ShareBalance(ctx, req.Caller, req.Vault)
		if err != nil {
			return externalFailure(OpBurn, "share balance", err)
		}
		if balance < req.Amount {
			return NewError(OpBurn, ErrInsufficientShares,
				fmt.Sprintf("caller holds %d, amount %d", balance, req.Amount))
		}

		if err := l.tokens.BurnShareToken(ctx, req.Caller, req.Vault, req.Amount); err != nil {
			return externalFailure(OpBurn, "burn share token", err)
		}
		if err := l.tokens.ReleaseOut(ctx, req.Caller, req.Vault, req.Amount); err != nil {
			return l.compensate(ctx, OpBurn, req.Vault, externalFailure(OpBurn, "release out", err), func(ctx context.Context) error {
				return l.tokens.MintShareToken(ctx, req.Caller, req.Vault, req.Amount)
			})
		}
		applied = true

		rec.TotalShares -= req.Amount
		rec.UpdatedAt = l.clock()
		out = rec.Vault
		return nil
	})
	if err != nil {
		if applied {
			err = l.compensate(ctx, OpBurn, req.Vault, err, func(ctx context.Context) error {
				if err := l.tokens.TransferIn(ctx, req.Caller, req.Vault, req.Amount); err != nil {
					return err
				}
				return l.tokens.MintShareToken(ctx, req.Caller, req.Vault, req.Amount)
			})
		}
		return Vault{}, l.fail(OpBurn, req.Vault, err)
	}

	l.committed(OpBurn, out, req.Caller, req.Amount)
	l.log.Audit("shares_burned", map[string]interface{}{
		"vault":        out.ID.String(),
		"caller":       req.Caller.String(),
		"amount":       req.Amount,
		"total_shares": out.TotalShares,
	})
	return out, nil
}

// Reattest replaces the registered proof with a newer attestation of the same asset.
func (l *Ledger) Reattest(ctx context.Context, req ReattestRequest) (Vault, error) {
	if err := req.Validate(); err != nil {
		return Vault{}, l.fail(OpReattest, req.Vault, err)
	}
	unlock := l.locks.Lock(req.Vault)
	defer unlock()

	var out Vault
	err := l.store.Update(ctx, req.Vault, func(rec *Record) error {
		if rec.Authority != req.Caller {
			return NewError(OpReattest, ErrUnauthorized, "caller "+req.Caller.String())
		}
		now := l.clock()
		if err := l.check(req.Proof, now); err != nil {
			return invalidProof(OpReattest, err)
		}
		if !bytes.Equal(req.Proof.Hash, rec.RWAHash) {
			return invalidProof(OpReattest, ErrProofMismatch)
		}
		if rec.Proof != nil && req.Proof.Timestamp <= rec.Proof.Timestamp {
			return invalidProof(OpReattest, fmt.Errorf("%w: timestamp %d does not advance registered %d",
				ErrStaleProof, req.Proof.Timestamp, rec.Proof.Timestamp))
		}
		proof := req.Proof.Clone()
		rec.Proof = &proof
		rec.UpdatedAt = now
		out = rec.Vault
		return nil
	})
	if err != nil {
		return Vault{}, l.fail(OpReattest, req.Vault, err)
	}

	l.committed(OpReattest, out, req.Caller, 0)
	l.log.Audit("proof_reattested", map[string]interface{}{
		"vault":     out.ID.String(),
		"timestamp": req.Proof.Timestamp,
	})
	return out, nil
}

// Fetch returns the vault named by req.
func (l *Ledger) Fetch(ctx context.Context, req FetchRequest) (Vault, error) {
	rec, err := l.record(ctx, req)
	if err != nil {
		return Vault{}, err
	}
	return rec.Vault, nil
}

// FetchByOwner returns the vault of owner.
func (l *Ledger) FetchByOwner(ctx context.Context, owner Identity) (Vault, error) {
	return l.Fetch(ctx, FetchRequest{Vault: Derive(owner)})
}

// Proof returns the proof registered with the vault, if any.
func (l *Ledger) Proof(ctx context.Context, req FetchRequest) (*OracleProof, error) {
	rec, err := l.record(ctx, req)
	if err != nil {
		return nil, err
	}
	return rec.Proof, nil
}

func (l *Ledger) record(ctx context.Context, req FetchRequest) (Record, error) {
	if err := req.Validate(); err != nil {
		return Record{}, err
	}
	rec, err := l.store.Get(ctx, req.Vault)
	if err != nil {
		return Record{}, l.normalize(OpFetch, req.Vault, err)
	}
	return rec, nil
}

// check runs the verifier and records its latency.
func (l *Ledger) check(proof OracleProof, now time.Time) error {
	start := time.Now()
	err := l.verifier.Validate(proof, now)
	l.metrics.RecordProofVerification(time.Since(start))
	return err
}

// compensate reverses token ledger steps after cause. A failed reversal is
// attached to the returned error and logged; the conservation audit reports
// the resulting divergence.
func (l *Ledger) compensate(ctx context.Context, op string, id ID, cause error, undo func(context.Context) error) error {
	err := undo(context.WithoutCancel(ctx))
	if err == nil {
		return cause
	}
	l.log.Error().
		Err(err).
		Str("op", op).
		Str("vault", id.String()).
		AnErr("cause", cause).
		Msg("compensation failed, vault and token ledger diverge")
	ve := l.normalize(op, id, cause)
	ve.Err = errors.Join(ve.Err, fmt.Errorf("compensation: %w", err))
	return ve
}

// normalize converts any failure into an *Error tagged with op and id.
func (l *Ledger) normalize(op string, id ID, err error) *Error {
	var ve *Error
	if !errors.As(err, &ve) {
		switch {
		case errors.Is(err, ErrNotFound):
			ve = NewError(op, ErrNotFound, "")
		case errors.Is(err, ErrAlreadyInitialized):
			ve = NewError(op, ErrAlreadyInitialized, "")
		default:
			ve = &Error{Op: op, Kind: ErrStore, Err: err}
		}
	}
	if ve.Op == "" {
		ve.Op = op
	}
	if ve.Vault.IsZero() {
		ve.Vault = id
	}
	return ve
}

func (l *Ledger) fail(op string, id ID, err error) error {
	ve := l.normalize(op, id, err)
	kind := "unknown"
	if ve.Kind != nil {
		kind = ve.Kind.Error()
	}
	l.metrics.RecordRejection(op, kind)

	level := zerolog.InfoLevel
	if errors.Is(ve.Kind, ErrExternalLedger) || errors.Is(ve.Kind, ErrStore) {
		level = zerolog.WarnLevel
	}
	l.log.WithLevel(level).
		Str("op", op).
		Str("vault", ve.Vault.String()).
		Err(ve).
		Msg("transition rejected")
	return ve
}

func (l *Ledger) committed(op string, v Vault, caller Identity, amount uint64) {
	l.metrics.RecordTransition(op)
	l.metrics.SetTotalShares(v.ID.String(), v.TotalShares)
	l.log.Info().
		Str("op", op).
		Str("vault", v.ID.String()).
		Str("caller", caller.String()).
		Uint64("amount", amount).
		Uint64("total_shares", v.TotalShares).
		Msg("transition committed")
}
