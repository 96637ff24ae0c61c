// gate.go - Oracle proof structure and the freshness gate every mint passes through.

package vault

import (
	"bytes"
	"fmt"
	"time"
)

// HashSize is the size of an RWA content hash.
const HashSize = 32

const (
	DefaultFreshnessWindow = 5 * time.Minute
	DefaultClockSkew       = 30 * time.Second
)

// OracleProof is an attestation that the RWA metadata identified by Hash was
// vouched for at Timestamp (Unix seconds). Seal optionally carries a
// zero-knowledge seal checked by a proof-system Verifier.
type OracleProof struct {
	Hash      HexBytes `json:"hash" yaml:"hash"`
	Timestamp int64    `json:"timestamp" yaml:"timestamp"`
	Seal      HexBytes `json:"seal,omitempty" yaml:"seal,omitempty"`
}

// Clone returns a deep copy of the proof.
func (p OracleProof) Clone() OracleProof {
	return OracleProof{
		Hash:      bytes.Clone(p.Hash),
		Timestamp: p.Timestamp,
		Seal:      bytes.Clone(p.Seal),
	}
}

// Verifier validates oracle proofs. Implementations must be free of side effects.
type Verifier interface {
	Validate(proof OracleProof, now time.Time) error
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(proof OracleProof, now time.Time) error

func (f VerifierFunc) Validate(proof OracleProof, now time.Time) error { return f(proof, now) }

// Gate checks that a proof is well formed and fresh.
type Gate struct {
	Window time.Duration
	Skew   time.Duration
}

// NewGate returns a gate accepting proofs at most window old and at most skew in the future.
func NewGate(window, skew time.Duration) (*Gate, error) {
	if window < time.Second {
		return nil, fmt.Errorf("freshness window must be at least one second, got %s", window)
	}
	if skew < 0 {
		return nil, fmt.Errorf("clock skew must not be negative, got %s", skew)
	}
	return &Gate{Window: window, Skew: skew}, nil
}

// Validate runs the checks in order and stops at the first failure:
//  1. hash is exactly HashSize bytes and not all zero
//  2. timestamp is positive and not beyond the allowed skew
//  3. the proof is no older than the window
func (g *Gate) Validate(proof OracleProof, now time.Time) error {
	if len(proof.Hash) != HashSize {
		return fmt.Errorf("%w: hash is %d bytes, want %d", ErrMalformedProof, len(proof.Hash), HashSize)
	}
	if isZero(proof.Hash) {
		return fmt.Errorf("%w: hash is all zero", ErrMalformedProof)
	}
	if proof.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp %d is not positive", ErrMalformedProof, proof.Timestamp)
	}
	// Whole seconds on both sides; durations in nanoseconds would overflow for
	// far-future timestamps.
	age := now.Unix() - proof.Timestamp
	if age < -int64(g.Skew/time.Second) {
		return fmt.Errorf("%w: timestamp %d is %ds in the future", ErrMalformedProof, proof.Timestamp, -age)
	}
	if age > int64(g.Window/time.Second) {
		return fmt.Errorf("%w: proof is %ds old, window is %s", ErrStaleProof, age, g.Window)
	}
	return nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
