// Package domainerrors defines the error taxonomy shared by all services.
// Errors carry a stable machine-readable code so transport layers can map
// them to HTTP statuses without inspecting message text.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure.
type Code string

const (
	// Domain-specific codes.
	CodeNotAuthorized     Code = "not_authorized"
	CodeInvalidScope      Code = "invalid_scope"
	CodeInvalidTransition Code = "invalid_transition"
	CodeNotOwner          Code = "not_owner"
	CodeDeliveryFailed    Code = "delivery_failed"
	CodeAnchoringTimeout  Code = "anchoring_timeout"

	// Ambient codes.
	CodeUnauthorized       Code = "unauthorized"
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInternal           Code = "internal"
	CodeInvariantViolation Code = "invariant_violation"
)

// DomainError is the concrete error type returned from services. Handlers
// unwrap it via AsDomainError to pick an HTTP status.
type DomainError struct {
	Code    Code
	Message string
	cause   error
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.cause }

// New constructs a DomainError without a cause.
func New(code Code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// Wrap attaches a cause so operators keep the underlying failure while
// callers still match on the code.
func Wrap(code Code, message string, cause error) *DomainError {
	return &DomainError{Code: code, Message: message, cause: cause}
}

// AsDomainError extracts a DomainError from an error chain.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	de, ok := AsDomainError(err)
	return ok && de.Code == code
}

// ToHTTPStatus maps an error code to the HTTP status handlers should emit.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidInput, CodeInvalidScope:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotAuthorized:
		return http.StatusForbidden
	case CodeNotOwner:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInvalidTransition:
		return http.StatusConflict
	case CodeDeliveryFailed, CodeAnchoringTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
