// oracle.go - Attestation oracle: proves in zero knowledge that it vouched for
// an RWA content hash at a given time.
//
// WARNING: the oracle secret is the sole credential of the oracle. Anyone who
// learns it can attest arbitrary assets.

package attest

import (
	"fmt"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"veilvault/internal/telemetry"
	"veilvault/internal/vault"
)

// Oracle produces sealed oracle proofs.
type Oracle struct {
	keys    *Keys
	secret  fr.Element
	key     fr.Element
	metrics *telemetry.Metrics
}

// GenerateSecret returns a fresh random oracle secret.
func GenerateSecret() ([]byte, error) {
	var s fr.Element
	if _, err := s.SetRandom(); err != nil {
		return nil, fmt.Errorf("failed to sample oracle secret: %w", err)
	}
	b := s.Bytes()
	return b[:], nil
}

// KeyOf returns the public oracle key of secret.
func KeyOf(secret []byte) ([]byte, error) {
	s, err := element(secret)
	if err != nil {
		return nil, fmt.Errorf("oracle secret: %w", err)
	}
	k := deriveKey(s)
	b := k.Bytes()
	return b[:], nil
}

// NewOracle creates an oracle proving with keys and holding secret.
func NewOracle(keys *Keys, secret []byte, metrics *telemetry.Metrics) (*Oracle, error) {
	if keys == nil || keys.CCS == nil || keys.PK == nil {
		return nil, fmt.Errorf("oracle: proving keys are required")
	}
	s, err := element(secret)
	if err != nil {
		return nil, fmt.Errorf("oracle secret: %w", err)
	}
	return &Oracle{keys: keys, secret: s, key: deriveKey(s), metrics: metrics}, nil
}

// Key returns the public oracle key verifiers are configured with.
func (o *Oracle) Key() []byte {
	b := o.key.Bytes()
	return b[:]
}

// Attest seals (hash, timestamp) into an oracle proof.
func (o *Oracle) Attest(hash []byte, timestamp int64) (vault.OracleProof, error) {
	if len(hash) != vault.HashSize {
		return vault.OracleProof{}, fmt.Errorf("%w: hash is %d bytes, want %d", vault.ErrMalformedProof, len(hash), vault.HashSize)
	}
	if timestamp <= 0 {
		return vault.OracleProof{}, fmt.Errorf("%w: timestamp %d is not positive", vault.ErrMalformedProof, timestamp)
	}

	h := hashElement(hash)
	ts := timestampElement(timestamp)
	binding := mimcOf(o.secret, h, ts)

	assignment := &Circuit{
		OracleKey: bigOf(o.key),
		Hash:      bigOf(h),
		Timestamp: timestamp,
		Binding:   bigOf(binding),
		Secret:    bigOf(o.secret),
	}
	witness, err := frontend.NewWitness(assignment, ecc.BW6_761.ScalarField())
	if err != nil {
		return vault.OracleProof{}, fmt.Errorf("failed to build attestation witness: %w", err)
	}

	start := time.Now()
	proof, err := groth16.Prove(o.keys.CCS, o.keys.PK, witness)
	if err != nil {
		return vault.OracleProof{}, fmt.Errorf("failed to prove attestation: %w", err)
	}
	o.metrics.RecordProofGeneration(time.Since(start))

	raw, err := encodeProof(proof)
	if err != nil {
		return vault.OracleProof{}, fmt.Errorf("failed to encode attestation proof: %w", err)
	}
	bindingBytes := binding.Bytes()
	seal, err := Seal{Binding: bindingBytes[:], Proof: raw}.Marshal()
	if err != nil {
		return vault.OracleProof{}, fmt.Errorf("failed to encode seal: %w", err)
	}
	return vault.OracleProof{
		Hash:      append(vault.HexBytes(nil), hash...),
		Timestamp: timestamp,
		Seal:      seal,
	}, nil
}

// AttestMetadata hashes metadata and seals the hash at now.
func (o *Oracle) AttestMetadata(metadata []byte, now time.Time) (vault.OracleProof, error) {
	return o.Attest(HashMetadata(metadata), now.Unix())
}
