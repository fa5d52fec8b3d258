// Package apperr defines the gateway's error taxonomy. Every error that
// crosses a package boundary carries a Kind so the dispatch layer can map it
// to a wire error code without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller.
type Kind string

const (
	// KindInvalidInput covers malformed, out-of-range, or conflicting
	// parameters, disabled-write attempts, and unconfirmed deletes.
	KindInvalidInput Kind = "invalid_input"
	// KindAuthFailed covers credential rejection by the remote server.
	KindAuthFailed Kind = "auth_failed"
	// KindNotFound covers unknown accounts and unresolvable identifiers.
	KindNotFound Kind = "not_found"
	// KindTimeout covers any bounded network step exceeding its deadline.
	KindTimeout Kind = "timeout"
	// KindConflict covers generation snapshot mismatches.
	KindConflict Kind = "conflict"
	// KindInternal covers failures not attributable to caller input or
	// remote state.
	KindInternal Kind = "internal"
)

// Error is the concrete error type used throughout the gateway.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf formats an error of the given kind.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error. If err is nil,
// Wrap returns nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Invalidf is shorthand for Newf(KindInvalidInput, ...).
func Invalidf(format string, args ...any) error {
	return Newf(KindInvalidInput, format, args...)
}

// KindOf extracts the Kind from an error chain. Errors without a Kind are
// classified as internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the human-readable message without the kind prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Msg, e.Err)
		}
		return e.Msg
	}
	return err.Error()
}

// Retryable reports whether the caller may reasonably retry the failed
// step. Validation, auth, and conflict errors are not retryable; the
// caller has to change something first.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindInternal:
		return true
	default:
		return false
	}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
