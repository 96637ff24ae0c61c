// verifier.go - Proof verifier that checks the zero-knowledge seal after the freshness gate.

package attest

import (
	"fmt"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	gnarklogger "github.com/consensys/gnark/logger"

	"veilvault/internal/telemetry"
	"veilvault/internal/vault"
)

// Verifier is a vault.Verifier accepting only proofs sealed by one oracle.
type Verifier struct {
	gate vault.Verifier
	vk   groth16.VerifyingKey
	key  fr.Element
}

var _ vault.Verifier = (*Verifier)(nil)

// NewVerifier returns a verifier that runs gate first and then checks the seal
// against vk and the oracle key.
func NewVerifier(gate vault.Verifier, vk groth16.VerifyingKey, oracleKey []byte) (*Verifier, error) {
	if gate == nil {
		return nil, fmt.Errorf("verifier: gate is required")
	}
	if vk == nil {
		return nil, fmt.Errorf("verifier: verifying key is required")
	}
	key, err := element(oracleKey)
	if err != nil {
		return nil, fmt.Errorf("oracle key: %w", err)
	}
	return &Verifier{gate: gate, vk: vk, key: key}, nil
}

// Validate implements vault.Verifier.
func (v *Verifier) Validate(p vault.OracleProof, now time.Time) error {
	if err := v.gate.Validate(p, now); err != nil {
		return err
	}
	if len(p.Seal) == 0 {
		return fmt.Errorf("%w: seal is missing", vault.ErrMalformedProof)
	}
	seal, err := UnmarshalSeal(p.Seal)
	if err != nil {
		return fmt.Errorf("%w: seal: %v", vault.ErrMalformedProof, err)
	}
	binding, err := element(seal.Binding)
	if err != nil {
		return fmt.Errorf("%w: binding: %v", vault.ErrMalformedProof, err)
	}
	proof, err := decodeProof(seal.Proof)
	if err != nil {
		return fmt.Errorf("%w: proof encoding: %v", vault.ErrMalformedProof, err)
	}

	assignment := &Circuit{
		OracleKey: bigOf(v.key),
		Hash:      bigOf(hashElement(p.Hash)),
		Timestamp: p.Timestamp,
		Binding:   bigOf(binding),
	}
	public, err := frontend.NewWitness(assignment, ecc.BW6_761.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("%w: public inputs: %v", vault.ErrMalformedProof, err)
	}
	if err := groth16.Verify(proof, v.vk, public); err != nil {
		return fmt.Errorf("%w: %v", vault.ErrVerificationFailed, err)
	}
	return nil
}

// UseLogger routes the proof system's own logging through l.
func UseLogger(l *telemetry.Logger) {
	gnarklogger.Set(l.Logger)
}
