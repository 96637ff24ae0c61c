// ledger.go - Reference fungible-token ledger for RWA custody and vault share tokens.
//
// The ledger keeps three books: RWA token balances per account, RWA custody per
// vault, and share-token balances per (vault, account) with a per-vault supply.
// Every operation is atomic: it applies in full or returns an error and leaves
// all books untouched.

package tokens

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"veilvault/internal/vault"
)

var (
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrInsufficientCustody = errors.New("insufficient vault custody")
	ErrOverflow            = errors.New("token amount overflow")
)

// Op names a token ledger operation, for fault injection.
type Op string

const (
	OpTransferIn     Op = "transfer_in"
	OpMintShareToken Op = "mint_share_token"
	OpBurnShareToken Op = "burn_share_token"
	OpReleaseOut     Op = "release_out"
	OpShareBalance   Op = "share_balance"
	OpShareSupply    Op = "share_supply"
)

type holding struct {
	vault vault.ID
	owner vault.Identity
}

// Ledger is an in-memory vault.TokenLedger.
type Ledger struct {
	mu      sync.Mutex
	saveMu  sync.Mutex // serializes SaveToFile
	rwa     map[vault.Identity]uint64
	custody map[vault.ID]uint64
	shares  map[holding]uint64
	supply  map[vault.ID]uint64
	faults  map[Op][]error
}

var _ vault.TokenLedger = (*Ledger)(nil)

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		rwa:     make(map[vault.Identity]uint64),
		custody: make(map[vault.ID]uint64),
		shares:  make(map[holding]uint64),
		supply:  make(map[vault.ID]uint64),
		faults:  make(map[Op][]error),
	}
}

// FailNext makes the next call of op fail with err without touching any book.
// Calls queue up: n calls to FailNext fail the next n calls of op.
func (l *Ledger) FailNext(op Op, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[op] = append(l.faults[op], err)
}

// injected pops a queued fault. Callers hold l.mu.
func (l *Ledger) injected(op Op) error {
	queue := l.faults[op]
	if len(queue) == 0 {
		return nil
	}
	l.faults[op] = queue[1:]
	return fmt.Errorf("%s: %w", op, queue[0])
}

// Fund credits owner with amount RWA tokens.
func (l *Ledger) Fund(owner vault.Identity, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	sum, carry := bits.Add64(l.rwa[owner], amount, 0)
	if carry != 0 {
		return fmt.Errorf("fund %s: %w", owner, ErrOverflow)
	}
	l.rwa[owner] = sum
	return nil
}

// Balance returns the RWA tokens held by owner.
func (l *Ledger) Balance(owner vault.Identity) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rwa[owner]
}

// Custody returns the RWA tokens held in custody by a vault.
func (l *Ledger) Custody(id vault.ID) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.custody[id]
}

func (l *Ledger) TransferIn(ctx context.Context, owner vault.Identity, id vault.ID, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.injected(OpTransferIn); err != nil {
		return err
	}
	if l.rwa[owner] < amount {
		return fmt.Errorf("%w: holds %d, need %d", ErrInsufficientBalance, l.rwa[owner], amount)
	}
	custody, carry := bits.Add64(l.custody[id], amount, 0)
	if carry != 0 {
		return ErrOverflow
	}
	l.rwa[owner] -= amount
	l.custody[id] = custody
	return nil
}

func (l *Ledger) MintShareToken(ctx context.Context, owner vault.Identity, id vault.ID, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.injected(OpMintShareToken); err != nil {
		return err
	}
	h := holding{vault: id, owner: owner}
	supply, carry := bits.Add64(l.supply[id], amount, 0)
	if carry != 0 {
		return ErrOverflow
	}
	// A holding never exceeds the supply, so it cannot overflow either.
	l.supply[id] = supply
	l.shares[h] += amount
	return nil
}

func (l *Ledger) BurnShareToken(ctx context.Context, owner vault.Identity, id vault.ID, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.injected(OpBurnShareToken); err != nil {
		return err
	}
	h := holding{vault: id, owner: owner}
	if l.shares[h] < amount {
		return fmt.Errorf("%w: holds %d, need %d", ErrInsufficientBalance, l.shares[h], amount)
	}
	l.shares[h] -= amount
	if l.shares[h] == 0 {
		delete(l.shares, h)
	}
	l.supply[id] -= amount
	return nil
}

func (l *Ledger) ReleaseOut(ctx context.Context, owner vault.Identity, id vault.ID, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.injected(OpReleaseOut); err != nil {
		return err
	}
	if l.custody[id] < amount {
		return fmt.Errorf("%w: custody %d, need %d", ErrInsufficientCustody, l.custody[id], amount)
	}
	balance, carry := bits.Add64(l.rwa[owner], amount, 0)
	if carry != 0 {
		return ErrOverflow
	}
	l.custody[id] -= amount
	l.rwa[owner] = balance
	return nil
}

func (l *Ledger) ShareBalance(ctx context.Context, owner vault.Identity, id vault.ID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.injected(OpShareBalance); err != nil {
		return 0, err
	}
	return l.shares[holding{vault: id, owner: owner}], nil
}

func (l *Ledger) ShareSupply(ctx context.Context, id vault.ID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.injected(OpShareSupply); err != nil {
		return 0, err
	}
	return l.supply[id], nil
}

// TransferShares moves share tokens of a vault between accounts. The supply is unchanged.
func (l *Ledger) TransferShares(ctx context.Context, from, to vault.Identity, id vault.ID, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	src := holding{vault: id, owner: from}
	if l.shares[src] < amount {
		return fmt.Errorf("transfer shares: %w: holds %d, need %d", ErrInsufficientBalance, l.shares[src], amount)
	}
	l.shares[src] -= amount
	if l.shares[src] == 0 {
		delete(l.shares, src)
	}
	l.shares[holding{vault: id, owner: to}] += amount
	return nil
}

// SetSupply overwrites the recorded share supply of a vault. It exists for
// repair tooling and for exercising the conservation audit.
func (l *Ledger) SetSupply(id vault.ID, supply uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.supply[id] = supply
}

// ClearFaults drops every queued fault.
func (l *Ledger) ClearFaults() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = make(map[Op][]error)
}
