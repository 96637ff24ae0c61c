// identity.go - Owner identities, vault identities and deterministic address derivation.

package vault

import (
	"encoding/hex"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
)

// DomainTag separates vault addresses from any other MiMC image of an owner identity.
const DomainTag = "vault"

const (
	// IdentitySize is the byte length of an owner identity (an account public key).
	IdentitySize = 32
	// IDSize is the byte length of a vault identity, one BW6-761 scalar field element.
	IDSize = fr.Bytes
)

// Identity identifies an account: a vault owner or a caller.
type Identity [IdentitySize]byte

// ID is the deterministic identity of a vault.
type ID [IDSize]byte

// Derive computes the vault identity of owner.
// The result is MiMC("vault" || owner) over the BW6-761 scalar field, the same hash
// the attestation circuit uses, so a circuit can recompute a vault address in-proof.
func Derive(owner Identity) ID {
	h := mimc.NewMiMC()
	// Both inputs are shorter than a field element and are left-padded by Write,
	// so neither write can fail.
	h.Write([]byte(DomainTag))
	h.Write(owner[:])
	var id ID
	copy(id[:], h.Sum(nil))
	return id
}

// ParseIdentity decodes a hex-encoded owner identity.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	if err := decodeFixed(id[:], s); err != nil {
		return Identity{}, fmt.Errorf("identity: %w", err)
	}
	return id, nil
}

// String returns the hex encoding of the identity.
func (i Identity) String() string { return hex.EncodeToString(i[:]) }

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool { return i == Identity{} }

// MarshalText implements encoding.TextMarshaler.
func (i Identity) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// ParseID decodes a hex-encoded vault identity.
func ParseID(s string) (ID, error) {
	var id ID
	if err := decodeFixed(id[:], s); err != nil {
		return ID{}, fmt.Errorf("vault id: %w", err)
	}
	return id, nil
}

func (id ID) String() string { return hex.EncodeToString(id[:]) }

// Short returns an abbreviated form for log lines.
func (id ID) Short() string { return hex.EncodeToString(id[:6]) }

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool { return id == ID{} }

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// HexBytes is a byte slice that travels as a hex string in JSON and YAML.
type HexBytes []byte

func (b HexBytes) String() string { return hex.EncodeToString(b) }

// MarshalText implements encoding.TextMarshaler.
func (b HexBytes) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *HexBytes) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	*b = raw
	return nil
}

func decodeFixed(dst []byte, s string) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}
