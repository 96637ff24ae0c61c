// errors.go - Typed failures for vault transitions.

package vault

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every failure returned by a Ledger matches exactly one of these
// through errors.Is.
var (
	ErrAlreadyInitialized = errors.New("vault already initialized")
	ErrNotFound           = errors.New("vault not found")
	ErrUnauthorized       = errors.New("caller is not the vault authority")
	ErrInvalidProof       = errors.New("oracle proof rejected")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrExternalLedger     = errors.New("token ledger failure")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrOverflow           = errors.New("share count overflow")
	ErrConservation       = errors.New("conservation violated")
	ErrStore              = errors.New("vault store failure")
)

// Gate reasons, carried by ErrInvalidProof failures.
var (
	ErrMalformedProof     = errors.New("malformed proof")
	ErrStaleProof         = errors.New("stale proof")
	ErrVerificationFailed = errors.New("proof verification failed")
	ErrProofMismatch      = errors.New("proof hash does not match vault asset")
	ErrProofConsumed      = errors.New("proof already consumed")
)

// Error describes a failed transition.
type Error struct {
	Kind   error  // one of the Err* kinds above
	Op     string // transition name: initialize, mint, burn, reattest, fetch, audit
	Vault  ID
	Detail string // violated precondition
	Reason error  // gate reason for ErrInvalidProof
	Err    error  // underlying cause, e.g. the token ledger error
}

// NewError builds an Error of the given kind.
func NewError(op string, kind error, detail string) *Error {
	return &Error{Op: op, Kind: kind, Detail: detail}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		if !e.Vault.IsZero() {
			fmt.Fprintf(&b, " %s", e.Vault.Short())
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Reason != nil {
		b.WriteString(": ")
		b.WriteString(e.Reason.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the kind, the gate reason and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Reason != nil {
		errs = append(errs, e.Reason)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the kind of err, or nil when err did not come from this package.
func KindOf(err error) error {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	for _, kind := range []error{
		ErrAlreadyInitialized, ErrNotFound, ErrUnauthorized, ErrInvalidProof,
		ErrInsufficientShares, ErrExternalLedger, ErrInvalidRequest, ErrOverflow,
		ErrConservation, ErrStore,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// ReasonOf returns the gate reason of an ErrInvalidProof failure.
func ReasonOf(err error) error {
	var ve *Error
	if errors.As(err, &ve) && ve.Reason != nil {
		for _, reason := range []error{
			ErrMalformedProof, ErrStaleProof, ErrVerificationFailed, ErrProofMismatch, ErrProofConsumed,
		} {
			if errors.Is(ve.Reason, reason) {
				return reason
			}
		}
		return ve.Reason
	}
	return nil
}

func invalidProof(op string, reason error) *Error {
	return &Error{Op: op, Kind: ErrInvalidProof, Reason: reason}
}

func externalFailure(op, step string, cause error) *Error {
	return &Error{Op: op, Kind: ErrExternalLedger, Detail: step, Err: cause}
}
