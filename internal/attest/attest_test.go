package attest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilvault/internal/tokens"
	"veilvault/internal/vault"
)

var (
	keysOnce sync.Once
	testKeys *Keys
	keysErr  error
)

// sharedKeys runs the Groth16 setup once per test binary.
func sharedKeys(t *testing.T) *Keys {
	t.Helper()
	keysOnce.Do(func() { testKeys, keysErr = LoadKeys("") })
	require.NoError(t, keysErr)
	return testKeys
}

func newOracle(t *testing.T) *Oracle {
	t.Helper()
	secret, err := GenerateSecret()
	require.NoError(t, err)
	o, err := NewOracle(sharedKeys(t), secret, nil)
	require.NoError(t, err)
	return o
}

func newVerifier(t *testing.T, oracleKey []byte) *Verifier {
	t.Helper()
	gate, err := vault.NewGate(5*time.Minute, 30*time.Second)
	require.NoError(t, err)
	v, err := NewVerifier(gate, sharedKeys(t).VK, oracleKey)
	require.NoError(t, err)
	return v
}

func TestHashMetadata(t *testing.T) {
	a := HashMetadata([]byte(`{"asset":"warehouse-7","valuation":1200000}`))
	b := HashMetadata([]byte(`{"asset":"warehouse-7","valuation":1200000}`))
	c := HashMetadata([]byte(`{"asset":"warehouse-8","valuation":1200000}`))
	assert.Len(t, a, vault.HashSize)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestKeyOfMatchesOracle(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)
	o, err := NewOracle(sharedKeys(t), secret, nil)
	require.NoError(t, err)
	key, err := KeyOf(secret)
	require.NoError(t, err)
	assert.Equal(t, key, o.Key())
	assert.Len(t, key, KeySize)
}

func TestSealedProofRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	o := newOracle(t)
	v := newVerifier(t, o.Key())

	proof, err := o.AttestMetadata([]byte("deed #4411"), now)
	require.NoError(t, err)
	require.NotEmpty(t, proof.Seal)
	require.NoError(t, v.Validate(proof, now))

	t.Run("tampered timestamp", func(t *testing.T) {
		p := proof.Clone()
		p.Timestamp--
		assert.ErrorIs(t, v.Validate(p, now), vault.ErrVerificationFailed)
	})
	t.Run("tampered hash", func(t *testing.T) {
		p := proof.Clone()
		p.Hash[0] ^= 0xFF
		assert.ErrorIs(t, v.Validate(p, now), vault.ErrVerificationFailed)
	})
	t.Run("other oracle", func(t *testing.T) {
		other := newOracle(t)
		assert.ErrorIs(t, newVerifier(t, other.Key()).Validate(proof, now), vault.ErrVerificationFailed)
	})
	t.Run("missing seal", func(t *testing.T) {
		p := proof.Clone()
		p.Seal = nil
		assert.ErrorIs(t, v.Validate(p, now), vault.ErrMalformedProof)
	})
	t.Run("garbage seal", func(t *testing.T) {
		p := proof.Clone()
		p.Seal = []byte{0xde, 0xad, 0xbe, 0xef}
		assert.ErrorIs(t, v.Validate(p, now), vault.ErrMalformedProof)
	})
	t.Run("stale before seal", func(t *testing.T) {
		assert.ErrorIs(t, v.Validate(proof, now.Add(time.Hour)), vault.ErrStaleProof)
	})
}

func TestUnmarshalSealBounds(t *testing.T) {
	binding := make([]byte, KeySize)

	data, err := Seal{Binding: binding, Proof: make([]byte, 128)}.Marshal()
	require.NoError(t, err)
	s, err := UnmarshalSeal(data)
	require.NoError(t, err)
	assert.Len(t, s.Proof, 128)

	data, err = Seal{Binding: binding, Proof: make([]byte, MaxProofSize+1)}.Marshal()
	require.NoError(t, err)
	_, err = UnmarshalSeal(data)
	assert.ErrorContains(t, err, "limit")

	_, err = UnmarshalSeal(make([]byte, 2*MaxProofSize))
	assert.ErrorContains(t, err, "limit")

	data, err = Seal{Binding: binding[:KeySize-1], Proof: []byte{1}}.Marshal()
	require.NoError(t, err)
	_, err = UnmarshalSeal(data)
	assert.ErrorContains(t, err, "binding")
}

func TestAttestRejectsMalformedInput(t *testing.T) {
	o := newOracle(t)
	_, err := o.Attest(make([]byte, 31), 1)
	assert.ErrorIs(t, err, vault.ErrMalformedProof)
	_, err = o.Attest(HashMetadata([]byte("x")), 0)
	assert.ErrorIs(t, err, vault.ErrMalformedProof)
}

func TestLedgerWithSealedProofs(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	o := newOracle(t)
	owner := vault.Identity{1, 2, 3}

	ledgerTokens := tokens.NewLedger()
	require.NoError(t, ledgerTokens.Fund(owner, 1_000))
	l, err := vault.NewLedger(vault.Options{
		Tokens:   ledgerTokens,
		Verifier: newVerifier(t, o.Key()),
		Clock:    func() time.Time { return now },
	})
	require.NoError(t, err)

	metadata := []byte("title: parcel 19, county records 2024-118")
	sealed, err := o.AttestMetadata(metadata, now)
	require.NoError(t, err)

	// an unsealed proof for the same asset is refused
	_, err = l.Initialize(ctx, vault.InitializeRequest{
		Owner: owner, InitialShares: 10, Proof: vault.OracleProof{Hash: sealed.Hash, Timestamp: sealed.Timestamp},
	})
	require.ErrorIs(t, err, vault.ErrInvalidProof)

	_, err = l.Initialize(ctx, vault.InitializeRequest{Owner: owner, InitialShares: 10, Proof: sealed})
	require.NoError(t, err)

	v, err := l.MintShares(ctx, vault.MintRequest{Vault: vault.Derive(owner), Caller: owner, Amount: 250})
	require.NoError(t, err)
	assert.Equal(t, uint64(260), v.TotalShares)
}

func TestSetupOrLoadKeysPersists(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a second Groth16 setup")
	}
	ccs, err := CompileCircuit()
	require.NoError(t, err)
	dir := t.TempDir()
	pkPath := filepath.Join(dir, "pk")
	vkPath := filepath.Join(dir, "vk")

	pk, _, err := SetupOrLoadKeys(ccs, pkPath, vkPath)
	require.NoError(t, err)
	_, vk, err := SetupOrLoadKeys(ccs, pkPath, vkPath)
	require.NoError(t, err)

	// a proof made with the generated proving key verifies under the reloaded verifying key
	secret, err := GenerateSecret()
	require.NoError(t, err)
	o, err := NewOracle(&Keys{CCS: ccs, PK: pk}, secret, nil)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	proof, err := o.Attest(HashMetadata([]byte("persisted")), now.Unix())
	require.NoError(t, err)

	gate, err := vault.NewGate(time.Minute, 0)
	require.NoError(t, err)
	v, err := NewVerifier(gate, vk, o.Key())
	require.NoError(t, err)
	assert.NoError(t, v.Validate(proof, now))
}
