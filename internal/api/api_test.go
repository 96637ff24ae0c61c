package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"veilvault/internal/telemetry"
	"veilvault/internal/tokens"
	"veilvault/internal/vault"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

var apiNow = time.Unix(1_700_000_000, 0)

type harness struct {
	srv     *Server
	tokens  *tokens.Ledger
	metrics *telemetry.Metrics
	owner   vault.Identity
	commits int
}

func newHarness(t *testing.T, limiter *CallerRateLimiter) *harness {
	t.Helper()
	h := &harness{tokens: tokens.NewLedger(), metrics: telemetry.NewMetrics(), owner: vault.Identity{0xAA}}
	require.NoError(t, h.tokens.Fund(h.owner, 10_000_000_000))
	l, err := vault.NewLedger(vault.Options{
		Tokens:  h.tokens,
		Clock:   func() time.Time { return apiNow },
		Metrics: h.metrics,
	})
	require.NoError(t, err)
	health := telemetry.NewHealthChecker("test")
	health.RegisterComponent("store", l.Store().Ping)
	h.srv = NewServer("", Deps{
		Ledger:   l,
		Health:   health,
		Metrics:  h.metrics,
		Limiter:  limiter,
		OnCommit: func() error { h.commits++; return nil },
	})
	return h
}

func (h *harness) do(t *testing.T, method, path string, caller *vault.Identity, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set(callerHeader, caller.String())
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) proof() vault.OracleProof {
	return vault.OracleProof{Hash: bytes.Repeat([]byte{0x5A}, vault.HashSize), Timestamp: apiNow.Unix()}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestScenarioOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	id := vault.Derive(h.owner)
	base := "/v1/vaults/" + id.String()

	rec := h.do(t, http.MethodPost, "/v1/vaults", &h.owner, vault.InitializeRequest{
		Owner: h.owner, InitialShares: 1_000_000_000, Proof: h.proof(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	v := decode[vault.Vault](t, rec)
	assert.Equal(t, id, v.ID)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = h.do(t, http.MethodPost, base+"/mint", &h.owner, mintBody{Amount: 100_000_000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(1_100_000_000), decode[vault.Vault](t, rec).TotalShares)

	rec = h.do(t, http.MethodPost, base+"/burn", &h.owner, burnBody{Amount: 50_000_000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(1_050_000_000), decode[vault.Vault](t, rec).TotalShares)

	rec = h.do(t, http.MethodPost, base+"/burn", &h.owner, burnBody{Amount: 2_000_000_000})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INSUFFICIENT_SHARES", decode[ErrorResponse](t, rec).Code)

	rec = h.do(t, http.MethodGet, "/v1/owners/"+h.owner.String()+"/vault", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(1_050_000_000), decode[vault.Vault](t, rec).TotalShares)

	rec = h.do(t, http.MethodGet, base+"/audit", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[vault.Report](t, rec).Balanced)

	rec = h.do(t, http.MethodGet, "/v1/audit", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decode[AuditResponse](t, rec)
	assert.Len(t, audit.Reports, 1)
	assert.Zero(t, audit.Violations)

	assert.Equal(t, 3, h.commits)
	assert.Equal(t, int64(1), h.metrics.Counter(telemetry.MetricTransitions, map[string]string{"op": vault.OpMint}))
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t, nil)
	id := vault.Derive(h.owner)
	base := "/v1/vaults/" + id.String()
	stranger := vault.Identity{0xBB}

	rec := h.do(t, http.MethodGet, base, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/vaults/not-hex", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/vaults", nil, vault.InitializeRequest{Owner: h.owner, Proof: h.proof()})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/vaults", &stranger, vault.InitializeRequest{Owner: h.owner, Proof: h.proof()})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/vaults", &h.owner, vault.InitializeRequest{Owner: h.owner, Proof: h.proof()})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = h.do(t, http.MethodPost, "/v1/vaults", &h.owner, vault.InitializeRequest{Owner: h.owner, Proof: h.proof()})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_INITIALIZED", decode[ErrorResponse](t, rec).Code)

	rec = h.do(t, http.MethodPost, base+"/mint", &stranger, mintBody{Amount: 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodPost, base+"/mint", &h.owner, mintBody{Amount: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	stale := h.proof()
	stale.Timestamp -= 3600
	rec = h.do(t, http.MethodPost, base+"/mint", &h.owner, mintBody{Amount: 1, Proof: &stale})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "INVALID_PROOF", resp.Code)
	assert.Equal(t, "STALE_PROOF", resp.Details["reason"])

	h.tokens.FailNext(tokens.OpTransferIn, errors.New("rpc timeout"))
	rec = h.do(t, http.MethodPost, base+"/mint", &h.owner, mintBody{Amount: 1})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "EXTERNAL_LEDGER_FAILURE", decode[ErrorResponse](t, rec).Code)

	rec = h.do(t, http.MethodGet, base+"/proof", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, apiNow.Unix(), decode[ProofResponse](t, rec).Proof.Timestamp)
}

func TestRateLimitedMutations(t *testing.T) {
	limiter := NewCallerRateLimiter(2, 1, time.Hour)
	h := newHarness(t, limiter)
	base := "/v1/vaults/" + vault.Derive(h.owner).String()

	rec := h.do(t, http.MethodPost, "/v1/vaults", &h.owner, vault.InitializeRequest{Owner: h.owner, InitialShares: 10, Proof: h.proof()})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = h.do(t, http.MethodPost, base+"/burn", &h.owner, burnBody{Amount: 1})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, base+"/burn", &h.owner, burnBody{Amount: 1})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, int64(1), h.metrics.Counter(telemetry.MetricRateLimited, map[string]string{"route": "/v1/vaults/:id/burn"}))

	// reads are not limited
	rec = h.do(t, http.MethodGet, base, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterRefill(t *testing.T) {
	now := apiNow
	rl := newRateLimiter(2, 1, time.Second, func() time.Time { return now })
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	// the half period carried over completes the next refill
	now = now.Add(500 * time.Millisecond)
	assert.True(t, rl.Allow())
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decode[telemetry.HealthCheckResponse](t, rec).Status)

	h.srv.deps.Health.RegisterComponent("tokens", func(context.Context) error { return errors.New("down") })
	rec = h.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = h.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunShutsDown(t *testing.T) {
	h := newHarness(t, nil)
	h.srv.addr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
