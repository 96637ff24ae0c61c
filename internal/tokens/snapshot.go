// snapshot.go - CBOR persistence of the reference token ledger.

package tokens

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"veilvault/internal/vault"
)

// snapshotVersion is bumped whenever the snapshot layout changes.
const snapshotVersion = 1

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Core deterministic encoding: the same books always produce the same bytes.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("tokens: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("tokens: CBOR decoder initialization failed: " + err.Error())
	}
}

type accountEntry struct {
	Owner  []byte `cbor:"1,keyasint"`
	Amount uint64 `cbor:"2,keyasint"`
}

type vaultEntry struct {
	Vault  []byte `cbor:"1,keyasint"`
	Amount uint64 `cbor:"2,keyasint"`
}

type holdingEntry struct {
	Vault  []byte `cbor:"1,keyasint"`
	Owner  []byte `cbor:"2,keyasint"`
	Amount uint64 `cbor:"3,keyasint"`
}

// Snapshot is the serialized form of a Ledger.
type Snapshot struct {
	Version  int            `cbor:"1,keyasint"`
	Balances []accountEntry `cbor:"2,keyasint"`
	Custody  []vaultEntry   `cbor:"3,keyasint"`
	Shares   []holdingEntry `cbor:"4,keyasint"`
	Supply   []vaultEntry   `cbor:"5,keyasint"`
}

// Snapshot captures the current books with entries in key order.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Snapshot{Version: snapshotVersion}
	for owner, amount := range l.rwa {
		s.Balances = append(s.Balances, accountEntry{Owner: bytes.Clone(owner[:]), Amount: amount})
	}
	for id, amount := range l.custody {
		s.Custody = append(s.Custody, vaultEntry{Vault: bytes.Clone(id[:]), Amount: amount})
	}
	for h, amount := range l.shares {
		s.Shares = append(s.Shares, holdingEntry{Vault: bytes.Clone(h.vault[:]), Owner: bytes.Clone(h.owner[:]), Amount: amount})
	}
	for id, amount := range l.supply {
		s.Supply = append(s.Supply, vaultEntry{Vault: bytes.Clone(id[:]), Amount: amount})
	}
	sort.Slice(s.Balances, func(i, j int) bool { return bytes.Compare(s.Balances[i].Owner, s.Balances[j].Owner) < 0 })
	sort.Slice(s.Custody, func(i, j int) bool { return bytes.Compare(s.Custody[i].Vault, s.Custody[j].Vault) < 0 })
	sort.Slice(s.Supply, func(i, j int) bool { return bytes.Compare(s.Supply[i].Vault, s.Supply[j].Vault) < 0 })
	sort.Slice(s.Shares, func(i, j int) bool {
		if c := bytes.Compare(s.Shares[i].Vault, s.Shares[j].Vault); c != 0 {
			return c < 0
		}
		return bytes.Compare(s.Shares[i].Owner, s.Shares[j].Owner) < 0
	})
	return s
}

// Restore replaces the books with the contents of s.
func (l *Ledger) Restore(s Snapshot) error {
	if s.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", s.Version)
	}
	rwa := make(map[vault.Identity]uint64, len(s.Balances))
	custody := make(map[vault.ID]uint64, len(s.Custody))
	shares := make(map[holding]uint64, len(s.Shares))
	supply := make(map[vault.ID]uint64, len(s.Supply))

	for _, e := range s.Balances {
		owner, err := toIdentity(e.Owner)
		if err != nil {
			return err
		}
		rwa[owner] = e.Amount
	}
	for _, e := range s.Custody {
		id, err := toID(e.Vault)
		if err != nil {
			return err
		}
		custody[id] = e.Amount
	}
	for _, e := range s.Shares {
		id, err := toID(e.Vault)
		if err != nil {
			return err
		}
		owner, err := toIdentity(e.Owner)
		if err != nil {
			return err
		}
		shares[holding{vault: id, owner: owner}] = e.Amount
	}
	for _, e := range s.Supply {
		id, err := toID(e.Vault)
		if err != nil {
			return err
		}
		supply[id] = e.Amount
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.rwa, l.custody, l.shares, l.supply = rwa, custody, shares, supply
	return nil
}

// SaveToFile writes the books to path as CBOR. Concurrent saves are
// serialized and each captures the books when it gets its turn, so the last
// save to finish always holds the newest state.
func (l *Ledger) SaveToFile(path string) error {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	data, err := encMode.Marshal(l.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to encode token snapshot: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync token snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace token snapshot: %w", err)
	}
	return nil
}

// LoadFromFile reads a ledger written by SaveToFile. A missing file yields an empty ledger.
func LoadFromFile(path string) (*Ledger, error) {
	l := NewLedger()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token snapshot: %w", err)
	}
	var s Snapshot
	if err := decMode.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode token snapshot: %w", err)
	}
	if err := l.Restore(s); err != nil {
		return nil, fmt.Errorf("failed to restore token snapshot: %w", err)
	}
	return l, nil
}

func toIdentity(b []byte) (vault.Identity, error) {
	var owner vault.Identity
	if len(b) != len(owner) {
		return owner, fmt.Errorf("account key is %d bytes, want %d", len(b), len(owner))
	}
	copy(owner[:], b)
	return owner, nil
}

func toID(b []byte) (vault.ID, error) {
	var id vault.ID
	if len(b) != len(id) {
		return id, fmt.Errorf("vault id is %d bytes, want %d", len(b), len(id))
	}
	copy(id[:], b)
	return id, nil
}
