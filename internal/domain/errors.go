// Package domain holds the error taxonomy shared by every aggregate and
// projector, plus the Prometheus counter that tracks surfaced domain errors.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain error for transport mapping and metrics.
type Kind string

const (
	// KindUnauthorized covers missing, invalid, or insufficient credentials.
	KindUnauthorized Kind = "unauthorized"
	// KindCommandMalformed covers inputs that failed validation or reference
	// a missing entity.
	KindCommandMalformed Kind = "command_malformed"
	// KindSecretExceeded is the per-project API-key quota violation.
	KindSecretExceeded Kind = "secret_exceeded"
	// KindUnexpected is everything else: I/O, codec, cryptography, or an
	// external collaborator fault.
	KindUnexpected Kind = "unexpected"
)

// Error is the single error type surfaced by command handlers. Messages never
// carry secret material (no PHC strings, no clear keys, no access tokens).
type Error struct {
	Kind  Kind
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

// NewUnauthorized builds a credential failure.
func NewUnauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Msg: msg}
}

// NewCommandMalformed builds a validation failure.
func NewCommandMalformed(msg string) *Error {
	return &Error{Kind: KindCommandMalformed, Msg: msg}
}

// NewSecretExceeded builds the API-key quota failure.
func NewSecretExceeded(msg string) *Error {
	return &Error{Kind: KindSecretExceeded, Msg: msg}
}

// NewUnexpected wraps an internal fault. The cause is kept for logs; the
// message is what callers may see.
func NewUnexpected(msg string, cause error) *Error {
	return &Error{Kind: KindUnexpected, Msg: msg, cause: cause}
}

// KindOf extracts the Kind from any error, defaulting to KindUnexpected.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnexpected
}

// HTTPStatus maps a domain error to the HTTP status the RPC surface returns.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindCommandMalformed:
		return http.StatusBadRequest
	case KindSecretExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the caller-visible message for an error. Unexpected
// errors are flattened so internal details never leak to clients.
func PublicMessage(err error) string {
	var de *Error
	if errors.As(err, &de) {
		if de.Kind == KindUnexpected {
			return "internal error"
		}
		return de.Msg
	}
	return "internal error"
}
