// Package apperr defines the failure kinds a message can hit on its way through
// the bot. Every per-request failure is contained by the router; only
// AuthUnavailable is surfaced to operators.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindAuthUnavailable    Kind = "AUTH_UNAVAILABLE"
	KindVerificationFailed Kind = "VERIFICATION_FAILED"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindGeneration         Kind = "GENERATION_ERROR"
	KindDeliveryFailed     Kind = "DELIVERY_FAILED"
)

// Sentinels for errors.Is. Any *Error matches the sentinel of the same kind.
var (
	ErrAuthUnavailable    = &Error{Kind: KindAuthUnavailable}
	ErrVerificationFailed = &Error{Kind: KindVerificationFailed}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrGeneration         = &Error{Kind: KindGeneration}
	ErrDeliveryFailed     = &Error{Kind: KindDeliveryFailed}
)

type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Reason == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s (%s)", e.Kind, e.Reason)
	case e.Reason == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Reason, e.Err)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
