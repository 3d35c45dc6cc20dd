// Package fault defines the structured error taxonomy shared across loom.
// Errors carry a classification kind so the pipeline can decide between
// retrying, rolling back, and surfacing a terminal failure.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for propagation policy decisions.
type Kind string

const (
	// KindConfiguration marks a bad or missing configuration value.
	KindConfiguration Kind = "configuration"
	// KindValidation marks an irrecoverable guard or content failure.
	KindValidation Kind = "validation"
	// KindResource marks an unavailable subsystem or exhausted resource.
	KindResource Kind = "resource"
	// KindTimeout marks a stage or drain deadline that was exceeded.
	KindTimeout Kind = "timeout"
	// KindNetwork marks a transient collaborator call failure.
	KindNetwork Kind = "network"
	// KindInternal marks everything the taxonomy does not cover.
	KindInternal Kind = "internal"
)

// Error pairs a cause with its classification kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error renders "op: cause" in the prefixed style used throughout loom.
func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

// Unwrap exposes the cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New builds a classified error from a plain message.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error, preserving it for Unwrap. A nil err
// returns nil so call sites can wrap unconditionally.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf walks the chain and returns the outermost classification.
// Unclassified non-nil errors report KindInternal; nil reports "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		if fe, ok := err.(*Error); ok && fe.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Transient reports whether err belongs to the retryable class
// (resource, timeout, network).
func Transient(err error) bool {
	switch KindOf(err) {
	case KindResource, KindTimeout, KindNetwork:
		return true
	default:
		return false
	}
}
