package sqlite

import (
	"bytes"
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilvault/internal/tokens"
	"veilvault/internal/vault"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vaults.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func record(owner byte, shares uint64) vault.Record {
	var id vault.Identity
	id[0] = owner
	now := time.Unix(1_700_000_000, 0)
	hash := bytes.Repeat([]byte{0x42}, vault.HashSize)
	return vault.Record{
		Vault: vault.Vault{
			ID:          vault.Derive(id),
			Authority:   id,
			TotalShares: shares,
			RWAHash:     hash,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Proof: &vault.OracleProof{Hash: hash, Timestamp: now.Unix()},
	}
}

func TestCreateGet(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	rec := record(1, math.MaxUint64)

	require.NoError(t, s.Create(ctx, rec, nil))
	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Authority, got.Authority)
	assert.Equal(t, uint64(math.MaxUint64), got.TotalShares)
	assert.Equal(t, rec.RWAHash, got.RWAHash)
	require.NotNil(t, got.Proof)
	assert.Equal(t, rec.Proof.Timestamp, got.Proof.Timestamp)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))

	err = s.Create(ctx, rec, nil)
	assert.ErrorIs(t, err, vault.ErrAlreadyInitialized)

	_, err = s.Get(ctx, record(2, 0).ID)
	assert.ErrorIs(t, err, vault.ErrNotFound)
}

func TestCreateApplyFailureRollsBack(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	rec := record(1, 10)
	boom := errors.New("boom")

	err := s.Create(ctx, rec, func() error { return boom })
	require.ErrorIs(t, err, boom)
	_, err = s.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, vault.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	rec := record(1, 10)
	require.NoError(t, s.Create(ctx, rec, nil))

	require.NoError(t, s.Update(ctx, rec.ID, func(r *vault.Record) error {
		r.TotalShares = 25
		r.Watermark = 99
		r.Proof = &vault.OracleProof{Hash: r.RWAHash, Timestamp: 1_700_000_100, Seal: []byte{1, 2}}
		return nil
	}))
	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), got.TotalShares)
	assert.Equal(t, int64(99), got.Watermark)
	assert.Equal(t, int64(1_700_000_100), got.Proof.Timestamp)
	assert.Equal(t, vault.HexBytes{1, 2}, got.Proof.Seal)

	boom := errors.New("boom")
	err = s.Update(ctx, rec.ID, func(r *vault.Record) error {
		r.TotalShares = 1
		return boom
	})
	require.ErrorIs(t, err, boom)
	got, err = s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), got.TotalShares)

	err = s.Update(ctx, record(9, 0).ID, func(*vault.Record) error { return nil })
	assert.ErrorIs(t, err, vault.ErrNotFound)
}

func TestRange(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	for i := byte(1); i <= 5; i++ {
		require.NoError(t, s.Create(ctx, record(i, uint64(i)), nil))
	}
	var seen []vault.ID
	require.NoError(t, s.Range(ctx, func(r vault.Record) error {
		// calling back into the store must not deadlock
		_, err := s.Get(ctx, r.ID)
		seen = append(seen, r.ID)
		return err
	}))
	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.Negative(t, bytes.Compare(seen[i-1][:], seen[i][:]))
	}
	require.NoError(t, s.Ping(ctx))
}

func TestLedgerSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t)
	now := time.Unix(1_700_000_000, 0)
	owner := vault.Identity{7}
	ledgerTokens := tokens.NewLedger()
	require.NoError(t, ledgerTokens.Fund(owner, 1_000))

	l, err := vault.NewLedger(vault.Options{Store: s, Tokens: ledgerTokens, Clock: func() time.Time { return now }})
	require.NoError(t, err)
	_, err = l.Initialize(ctx, vault.InitializeRequest{
		Owner: owner, InitialShares: 100,
		Proof: vault.OracleProof{Hash: bytes.Repeat([]byte{9}, 32), Timestamp: now.Unix()},
	})
	require.NoError(t, err)
	_, err = l.MintShares(ctx, vault.MintRequest{Vault: vault.Derive(owner), Caller: owner, Amount: 50})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	l, err = vault.NewLedger(vault.Options{Store: reopened, Tokens: ledgerTokens, Clock: func() time.Time { return now }})
	require.NoError(t, err)

	v, err := l.FetchByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), v.TotalShares)
	_, err = l.Initialize(ctx, vault.InitializeRequest{
		Owner: owner, InitialShares: 1,
		Proof: vault.OracleProof{Hash: bytes.Repeat([]byte{9}, 32), Timestamp: now.Unix()},
	})
	assert.ErrorIs(t, err, vault.ErrAlreadyInitialized)

	report, err := l.CheckConservation(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, report.Balanced)
}
