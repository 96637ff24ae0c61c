package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"veilvault/internal/telemetry"
	"veilvault/internal/vault"
)

type mintBody struct {
	Amount uint64             `json:"amount"`
	Proof  *vault.OracleProof `json:"proof,omitempty"`
}

type burnBody struct {
	Amount uint64 `json:"amount"`
}

type reattestBody struct {
	Proof vault.OracleProof `json:"proof"`
}

// ProofResponse is the body of GET /v1/vaults/:id/proof.
type ProofResponse struct {
	Vault vault.ID           `json:"vault"`
	Proof *vault.OracleProof `json:"proof"`
}

// AuditResponse is the body of GET /v1/audit.
type AuditResponse struct {
	Reports    []vault.Report `json:"reports"`
	Violations int            `json:"violations"`
}

func (s *Server) handleHealth(c *gin.Context) {
	health := s.deps.Health.CheckHealth(c.Request.Context())
	status := http.StatusOK
	if health.OverallStatus == telemetry.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, telemetry.CreateHealthResponse(health))
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Metrics.Summary())
}

func (s *Server) handleInitialize(c *gin.Context) {
	var req vault.InitializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Owner != callerOf(c) {
		WriteErrorCode(c, http.StatusForbidden, "UNAUTHORIZED", "only the owner can initialize its vault")
		return
	}
	v, err := s.deps.Ledger.Initialize(c.Request.Context(), req)
	if err != nil {
		WriteError(c, err)
		return
	}
	s.committed()
	c.JSON(http.StatusCreated, v)
}

func (s *Server) handleFetch(c *gin.Context) {
	id, ok := vaultParam(c)
	if !ok {
		return
	}
	v, err := s.deps.Ledger.Fetch(c.Request.Context(), vault.FetchRequest{Vault: id})
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleFetchByOwner(c *gin.Context) {
	owner, err := vault.ParseIdentity(c.Param("owner"))
	if err != nil {
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	v, err := s.deps.Ledger.FetchByOwner(c.Request.Context(), owner)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleProof(c *gin.Context) {
	id, ok := vaultParam(c)
	if !ok {
		return
	}
	p, err := s.deps.Ledger.Proof(c.Request.Context(), vault.FetchRequest{Vault: id})
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, ProofResponse{Vault: id, Proof: p})
}

func (s *Server) handleMint(c *gin.Context) {
	id, ok := vaultParam(c)
	if !ok {
		return
	}
	var body mintBody
	if err := c.ShouldBindJSON(&body); err != nil {
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	v, err := s.deps.Ledger.MintShares(c.Request.Context(), vault.MintRequest{
		Vault: id, Caller: callerOf(c), Amount: body.Amount, Proof: body.Proof,
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	s.committed()
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleBurn(c *gin.Context) {
	id, ok := vaultParam(c)
	if !ok {
		return
	}
	var body burnBody
	if err := c.ShouldBindJSON(&body); err != nil {
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	v, err := s.deps.Ledger.BurnShares(c.Request.Context(), vault.BurnRequest{
		Vault: id, Caller: callerOf(c), Amount: body.Amount,
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	s.committed()
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleReattest(c *gin.Context) {
	id, ok := vaultParam(c)
	if !ok {
		return
	}
	var body reattestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	v, err := s.deps.Ledger.Reattest(c.Request.Context(), vault.ReattestRequest{
		Vault: id, Caller: callerOf(c), Proof: body.Proof,
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	s.committed()
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleAuditVault(c *gin.Context) {
	id, ok := vaultParam(c)
	if !ok {
		return
	}
	report, err := s.deps.Ledger.CheckConservation(c.Request.Context(), id)
	if err != nil && vault.KindOf(err) != vault.ErrConservation {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleAuditAll(c *gin.Context) {
	reports, err := s.deps.Auditor.AuditAll(c.Request.Context())
	if reports == nil && err != nil {
		WriteError(c, err)
		return
	}
	resp := AuditResponse{Reports: reports}
	for _, r := range reports {
		if !r.Balanced {
			resp.Violations++
		}
	}
	c.JSON(http.StatusOK, resp)
}

func vaultParam(c *gin.Context) (vault.ID, bool) {
	id, err := vault.ParseID(c.Param("id"))
	if err != nil {
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return vault.ID{}, false
	}
	return id, true
}
