// circuit.go - Zero-knowledge attestation circuit.
//
// The oracle holds a secret s whose MiMC image is its public key. An attestation
// of (hash, timestamp) proves knowledge of s such that
//
//	OracleKey = MiMC(s)
//	Binding   = MiMC(s, hash, timestamp)
//
// without revealing s. Anyone holding the verifying key and the oracle key can
// check that exactly this (hash, timestamp) pair was vouched for by the oracle.

package attest

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// Circuit defines the attestation constraints.
type Circuit struct {
	OracleKey frontend.Variable `gnark:",public"`
	Hash      frontend.Variable `gnark:",public"`
	Timestamp frontend.Variable `gnark:",public"`
	Binding   frontend.Variable `gnark:",public"`

	Secret frontend.Variable
}

// Define declares the circuit constraints.
func (c *Circuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	h.Write(c.Secret)
	api.AssertIsEqual(h.Sum(), c.OracleKey)

	h.Reset()
	h.Write(c.Secret, c.Hash, c.Timestamp)
	api.AssertIsEqual(h.Sum(), c.Binding)
	return nil
}
