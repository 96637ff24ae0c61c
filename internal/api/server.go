// Package api exposes the vault ledger over HTTP.
//
// Callers identify themselves with the X-Caller header (hex account key).
// Authenticating that header is the job of the gateway in front of this
// service; the ledger only checks that the caller is entitled to the transition.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"veilvault/internal/telemetry"
	"veilvault/internal/vault"
)

const (
	callerHeader    = "X-Caller"
	requestIDHeader = "X-Request-ID"

	callerKey    = "caller"
	requestIDKey = "request_id"
)

// Deps are the collaborators of a Server. Ledger is required.
type Deps struct {
	Ledger  *vault.Ledger
	Auditor *vault.Auditor
	Health  *telemetry.HealthChecker
	Metrics *telemetry.Metrics
	Limiter *CallerRateLimiter
	Logger  *telemetry.Logger
	// OnCommit runs after every successful mutating request, e.g. to persist
	// the token ledger.
	OnCommit func() error
}

// Server is the HTTP front end of the ledger.
type Server struct {
	addr string
	r    *gin.Engine
	deps Deps
}

// NewServer builds the router.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = telemetry.Nop()
	}
	if deps.Auditor == nil {
		deps.Auditor = vault.NewAuditor(deps.Ledger, 1)
	}
	if deps.Health == nil {
		deps.Health = telemetry.NewHealthChecker("")
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(deps.Logger))
	s := &Server{addr: addr, r: r, deps: deps}
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.r }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info().Str("addr", s.addr).Msg("veilvault listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() {
	s.r.GET("/healthz", s.handleHealth)
	s.r.GET("/metrics", s.handleMetrics)

	v1 := s.r.Group("/v1")
	{
		mutate := []gin.HandlerFunc{requireCaller(), s.rateLimit()}
		with := func(h gin.HandlerFunc) []gin.HandlerFunc {
			return append(append([]gin.HandlerFunc{}, mutate...), h)
		}

		v1.POST("/vaults", with(s.handleInitialize)...)
		v1.GET("/vaults/:id", s.handleFetch)
		v1.GET("/vaults/:id/proof", s.handleProof)
		v1.POST("/vaults/:id/mint", with(s.handleMint)...)
		v1.POST("/vaults/:id/burn", with(s.handleBurn)...)
		v1.POST("/vaults/:id/reattest", with(s.handleReattest)...)
		v1.GET("/vaults/:id/audit", s.handleAuditVault)
		v1.GET("/owners/:owner/vault", s.handleFetchByOwner)
		v1.GET("/audit", s.handleAuditAll)
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog(l *telemetry.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Debug().
			Str("request_id", c.GetString(requestIDKey)).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func requireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(callerHeader))
		if raw == "" {
			WriteErrorCode(c, http.StatusUnauthorized, "MISSING_CALLER", callerHeader+" header required")
			return
		}
		caller, err := vault.ParseIdentity(raw)
		if err != nil {
			WriteErrorCode(c, http.StatusUnauthorized, "INVALID_CALLER", err.Error())
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Limiter == nil {
			c.Next()
			return
		}
		caller, _ := c.Get(callerKey)
		key := c.ClientIP()
		if id, ok := caller.(vault.Identity); ok {
			key = id.String()
		}
		if !s.deps.Limiter.Allow(key) {
			s.deps.Metrics.RecordRateLimited(c.FullPath())
			WriteErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
		c.Next()
	}
}

func callerOf(c *gin.Context) vault.Identity {
	v, _ := c.Get(callerKey)
	id, _ := v.(vault.Identity)
	return id
}

func (s *Server) committed() {
	if s.deps.OnCommit == nil {
		return
	}
	if err := s.deps.OnCommit(); err != nil {
		s.deps.Logger.Error().Err(err).Msg("post-commit hook failed")
	}
}
