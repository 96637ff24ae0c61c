// vault.go - Vault records and the typed requests accepted by the ledger.

package vault

import (
	"bytes"
	"fmt"
	"time"
)

// Vault is the accounting state of one owner's RWA vault.
type Vault struct {
	ID          ID        `json:"id"`
	Authority   Identity  `json:"authority"`
	TotalShares uint64    `json:"total_shares"`
	RWAHash     HexBytes  `json:"rwa_hash"`
	Watermark   int64     `json:"watermark,omitempty"` // newest proof timestamp consumed by a mint (single-use policy)
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Record is a vault together with its registered oracle proof.
type Record struct {
	Vault
	Proof *OracleProof `json:"proof,omitempty"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	out.RWAHash = bytes.Clone(r.RWAHash)
	if r.Proof != nil {
		p := r.Proof.Clone()
		out.Proof = &p
	}
	return out
}

// ProofPolicy controls whether one attestation may back more than one mint.
type ProofPolicy string

const (
	// ProofReusable accepts a proof for any number of mints until it goes stale.
	ProofReusable ProofPolicy = "reusable"
	// ProofSingleUse accepts each proof timestamp for one mint only.
	ProofSingleUse ProofPolicy = "single-use"
)

// ParseProofPolicy parses a policy name. The empty string selects ProofReusable.
func ParseProofPolicy(s string) (ProofPolicy, error) {
	switch ProofPolicy(s) {
	case "", ProofReusable:
		return ProofReusable, nil
	case ProofSingleUse:
		return ProofSingleUse, nil
	}
	return "", fmt.Errorf("unknown proof policy %q", s)
}

// InitializeRequest creates the vault of Owner.
type InitializeRequest struct {
	Owner         Identity    `json:"owner"`
	InitialShares uint64      `json:"initial_shares"`
	Proof         OracleProof `json:"proof"`
}

// Validate checks the request shape.
func (r InitializeRequest) Validate() error {
	if r.Owner.IsZero() {
		return NewError(OpInitialize, ErrInvalidRequest, "owner is required")
	}
	return nil
}

// MintRequest issues Amount shares of Vault to Caller. A nil Proof falls back to
// the proof registered with the vault.
type MintRequest struct {
	Vault  ID           `json:"vault"`
	Caller Identity     `json:"caller"`
	Amount uint64       `json:"amount"`
	Proof  *OracleProof `json:"proof,omitempty"`
}

// Validate checks the request shape.
func (r MintRequest) Validate() error {
	return validateTransfer(OpMint, r.Vault, r.Caller, r.Amount)
}

// BurnRequest redeems Amount shares of Vault held by Caller.
type BurnRequest struct {
	Vault  ID       `json:"vault"`
	Caller Identity `json:"caller"`
	Amount uint64   `json:"amount"`
}

// Validate checks the request shape.
func (r BurnRequest) Validate() error {
	return validateTransfer(OpBurn, r.Vault, r.Caller, r.Amount)
}

// ReattestRequest replaces the proof registered with Vault.
type ReattestRequest struct {
	Vault  ID          `json:"vault"`
	Caller Identity    `json:"caller"`
	Proof  OracleProof `json:"proof"`
}

// Validate checks the request shape.
func (r ReattestRequest) Validate() error {
	if r.Vault.IsZero() {
		return NewError(OpReattest, ErrInvalidRequest, "vault is required")
	}
	if r.Caller.IsZero() {
		return NewError(OpReattest, ErrInvalidRequest, "caller is required")
	}
	return nil
}

// FetchRequest reads a vault.
type FetchRequest struct {
	Vault ID `json:"vault"`
}

// Validate checks the request shape.
func (r FetchRequest) Validate() error {
	if r.Vault.IsZero() {
		return NewError(OpFetch, ErrInvalidRequest, "vault is required")
	}
	return nil
}

// Operation names used in errors, logs and metrics.
const (
	OpInitialize = "initialize"
	OpMint       = "mint"
	OpBurn       = "burn"
	OpReattest   = "reattest"
	OpFetch      = "fetch"
	OpAudit      = "audit"
)

func validateTransfer(op string, id ID, caller Identity, amount uint64) error {
	switch {
	case id.IsZero():
		return NewError(op, ErrInvalidRequest, "vault is required")
	case caller.IsZero():
		return NewError(op, ErrInvalidRequest, "caller is required")
	case amount == 0:
		return NewError(op, ErrInvalidRequest, "amount must be positive")
	}
	return nil
}
