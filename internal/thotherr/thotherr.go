// Package thotherr defines the error-kind taxonomy shared across
// Thoth's components (spec §7) as a wrapping Error type, in the
// idiomatic Go style: explicit error returns, errors.Is/As-compatible
// wrapping via Unwrap, no panics for expected failure modes.
package thotherr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the propagation policy described in
// spec §7: which layer handles it, retries it, or surfaces it.
type Kind string

const (
	Transient       Kind = "transient"
	RateLimited     Kind = "rate_limited"
	Upstream4xx     Kind = "upstream_4xx"
	SchemaViolation Kind = "schema_violation"
	NotFound        Kind = "not_found"
	Conflict        Kind = "conflict"
	IntegrityError  Kind = "integrity_error"
	Cancelled       Kind = "cancelled"
	Fatal           Kind = "fatal"
)

// Error wraps an underlying error with the operation that produced it
// and the kind used for routing/retry decisions.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a kinded error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is
// a *Error, otherwise reports ("", false).
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Retryable reports whether a caller following the gateway retry policy
// should retry the call that produced err.
func Retryable(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	return k == Transient
}
