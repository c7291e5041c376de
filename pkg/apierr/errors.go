// Package apierr defines the closed error taxonomy surfaced across the API.
package apierr

import (
	"fmt"
	"net/http"
)

// Kind is a closed set of API error categories. Every error that crosses the
// HTTP boundary carries one of these so the middleware can map it to a
// status code without string-matching messages.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindAuth          Kind = "AUTH"
	KindForbidden     Kind = "FORBIDDEN"
	KindNotFound      Kind = "NOT_FOUND"
	KindConflict      Kind = "CONFLICT"
	KindRiskRejected  Kind = "RISK_REJECTED"
	KindBreakerOpen   Kind = "BREAKER_OPEN"
	KindRateLimited   Kind = "RATE_LIMITED"
	KindUpstream      Kind = "UPSTREAM_ERROR"
	KindInternal      Kind = "INTERNAL"
	KindUnavailable   Kind = "UNAVAILABLE"
)

var statusByKind = map[Kind]int{
	KindValidation:   http.StatusBadRequest,
	KindAuth:         http.StatusUnauthorized,
	KindForbidden:    http.StatusForbidden,
	KindNotFound:     http.StatusNotFound,
	KindConflict:     http.StatusConflict,
	KindRiskRejected: http.StatusUnprocessableEntity,
	KindBreakerOpen:  http.StatusServiceUnavailable,
	KindRateLimited:  http.StatusTooManyRequests,
	KindUpstream:     http.StatusBadGateway,
	KindInternal:     http.StatusInternalServerError,
	KindUnavailable:  http.StatusServiceUnavailable,
}

// Error is the concrete error type carried across package boundaries.
type Error struct {
	Kind    Kind
	Code    string // stable machine-readable code, e.g. "INSUFFICIENT_BALANCE"
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code for this error's Kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an Error with no wrapped cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an Error that wraps an underlying cause (kept out of the
// message sent to clients, available via errors.Unwrap for logging).
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

// WithDetails attaches structured context (e.g. field -> reason) and
// returns the same error for chaining.
func (e *Error) WithDetails(d map[string]any) *Error {
	e.Details = d
	return e
}

// StatusFor maps a Kind to an HTTP status, defaulting to 500 for unknown kinds.
func StatusFor(k Kind) int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}
