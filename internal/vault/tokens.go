package vault

import "context"

// TokenLedger is the external fungible-token ledger. Each operation is
// individually atomic: it either applies in full or returns an error and
// changes nothing.
type TokenLedger interface {
	// TransferIn moves amount RWA tokens from owner into the custody of vault.
	TransferIn(ctx context.Context, owner Identity, vault ID, amount uint64) error
	// MintShareToken credits owner with amount share tokens of vault.
	MintShareToken(ctx context.Context, owner Identity, vault ID, amount uint64) error
	// BurnShareToken debits amount share tokens of vault from owner.
	BurnShareToken(ctx context.Context, owner Identity, vault ID, amount uint64) error
	// ReleaseOut moves amount RWA tokens from the custody of vault back to owner.
	ReleaseOut(ctx context.Context, owner Identity, vault ID, amount uint64) error
	// ShareBalance returns the share tokens of vault held by owner.
	ShareBalance(ctx context.Context, owner Identity, vault ID) (uint64, error)
	// ShareSupply returns the outstanding share tokens of vault.
	ShareSupply(ctx context.Context, vault ID) (uint64, error)
}
