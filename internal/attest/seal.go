// seal.go - Field encoding of attestation inputs and the CBOR seal carried in proofs.

package attest

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// KeySize is the byte length of an oracle key or secret.
const KeySize = fr.Bytes

// MaxProofSize bounds the encoded Groth16 proof inside a seal.
const MaxProofSize = 1 << 16

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("attest: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxNestedLevels:  4,
		MaxArrayElements: 16,
		MaxMapPairs:      16,
	}.DecMode()
	if err != nil {
		panic("attest: CBOR decoder initialization failed: " + err.Error())
	}
}

// Seal is the zero-knowledge part of an oracle proof.
type Seal struct {
	Binding []byte `cbor:"1,keyasint"`
	Proof   []byte `cbor:"2,keyasint"`
}

// Marshal encodes the seal as deterministic CBOR.
func (s Seal) Marshal() ([]byte, error) {
	return encMode.Marshal(s)
}

// UnmarshalSeal decodes a seal produced by Seal.Marshal.
func UnmarshalSeal(data []byte) (Seal, error) {
	// binding and proof plus their CBOR headers
	if len(data) > MaxProofSize+KeySize+16 {
		return Seal{}, fmt.Errorf("seal is %d bytes, limit %d", len(data), MaxProofSize+KeySize+16)
	}
	var s Seal
	if err := decMode.Unmarshal(data, &s); err != nil {
		return Seal{}, err
	}
	if len(s.Binding) != KeySize {
		return Seal{}, fmt.Errorf("binding is %d bytes, want %d", len(s.Binding), KeySize)
	}
	if len(s.Proof) == 0 {
		return Seal{}, fmt.Errorf("proof is empty")
	}
	if len(s.Proof) > MaxProofSize {
		return Seal{}, fmt.Errorf("proof is %d bytes, limit %d", len(s.Proof), MaxProofSize)
	}
	return s, nil
}

// HashMetadata returns the content identifier of RWA metadata. Only this hash
// ever enters a proof; the metadata itself stays with the caller.
func HashMetadata(metadata []byte) []byte {
	sum := blake3.Sum256(metadata)
	return sum[:]
}

// element parses a canonical field element.
func element(b []byte) (fr.Element, error) {
	var e fr.Element
	if len(b) != fr.Bytes {
		return e, fmt.Errorf("field element is %d bytes, want %d", len(b), fr.Bytes)
	}
	if err := e.SetBytesCanonical(b); err != nil {
		return e, err
	}
	return e, nil
}

// hashElement maps a content hash into the field. Hashes are 32 bytes and
// always below the BW6-761 scalar modulus.
func hashElement(hash []byte) fr.Element {
	var e fr.Element
	e.SetBigInt(new(big.Int).SetBytes(hash))
	return e
}

func timestampElement(ts int64) fr.Element {
	var e fr.Element
	e.SetInt64(ts)
	return e
}

// mimcOf hashes field elements natively the way the circuit hashes variables.
func mimcOf(elems ...fr.Element) fr.Element {
	h := mimcNative.NewMiMC()
	for i := range elems {
		b := elems[i].Bytes()
		h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// deriveKey returns the oracle key of a secret.
func deriveKey(secret fr.Element) fr.Element {
	return mimcOf(secret)
}

func bigOf(e fr.Element) *big.Int {
	return e.BigInt(new(big.Int))
}

func encodeProof(p groth16.Proof) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := p.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeProof(data []byte) (groth16.Proof, error) {
	p := groth16.NewProof(ecc.BW6_761)
	if _, err := p.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return p, nil
}
