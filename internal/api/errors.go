package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"veilvault/internal/vault"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type errorMapping struct {
	kind   error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{vault.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
	{vault.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{vault.ErrAlreadyInitialized, http.StatusConflict, "ALREADY_INITIALIZED"},
	{vault.ErrUnauthorized, http.StatusForbidden, "UNAUTHORIZED"},
	{vault.ErrInvalidProof, http.StatusUnprocessableEntity, "INVALID_PROOF"},
	{vault.ErrInsufficientShares, http.StatusConflict, "INSUFFICIENT_SHARES"},
	{vault.ErrOverflow, http.StatusUnprocessableEntity, "SHARE_OVERFLOW"},
	{vault.ErrExternalLedger, http.StatusBadGateway, "EXTERNAL_LEDGER_FAILURE"},
	{vault.ErrConservation, http.StatusInternalServerError, "CONSERVATION_VIOLATED"},
	{vault.ErrStore, http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
}

var reasonCodes = map[error]string{
	vault.ErrMalformedProof:     "MALFORMED_PROOF",
	vault.ErrStaleProof:         "STALE_PROOF",
	vault.ErrVerificationFailed: "VERIFICATION_FAILED",
	vault.ErrProofMismatch:      "PROOF_MISMATCH",
	vault.ErrProofConsumed:      "PROOF_CONSUMED",
}

// WriteError maps a vault failure to a status code and error body.
func WriteError(c *gin.Context, err error) {
	kind := vault.KindOf(err)
	status, code := http.StatusInternalServerError, "INTERNAL"
	for _, m := range errorMappings {
		if kind != nil && errors.Is(kind, m.kind) {
			status, code = m.status, m.code
			break
		}
	}

	resp := ErrorResponse{Code: code, Message: err.Error(), RequestID: c.GetString(requestIDKey)}
	if reason := vault.ReasonOf(err); reason != nil {
		reasonCode, ok := reasonCodes[reason]
		if !ok {
			reasonCode = reason.Error()
		}
		resp.Details = map[string]any{"reason": reasonCode}
	}
	c.AbortWithStatusJSON(status, resp)
}

// WriteErrorCode writes an error body that did not come from the vault core.
func WriteErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Message: message, RequestID: c.GetString(requestIDKey)})
}
