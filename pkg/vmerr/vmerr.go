// Package vmerr defines the error taxonomy shared by the interpreter, the
// finalize executor and the speculative transaction processor.
//
// Every user-level failure wraps exactly one of the Err* sentinels below with
// fmt.Errorf("...: %w"), so callers classify with errors.Is. All user-level
// kinds are recoverable at transaction granularity. Anything else is fatal and
// fails the whole block: a broken snapshot/rollback contract, a storage
// failure, an interpreter panic, or an error outside the taxonomy.
package vmerr

import (
	"errors"
)

var (
	// ErrAssertionFailed is returned when assert.eq / assert.neq does not hold.
	ErrAssertionFailed = errors.New("assertion failed")

	// ErrTypeOrRange is returned for type mismatches, checked arithmetic
	// overflow, division by zero and non-lossy casts out of range.
	ErrTypeOrRange = errors.New("type or range violation")

	// ErrUnresolvedTarget is returned for a missing program, function, mapping,
	// or a mapping key read with get (no or_use fallback).
	ErrUnresolvedTarget = errors.New("unresolved target")

	// ErrUnconsumedFuture is returned when a future produced by a call is not
	// passed to the calling function's async.
	ErrUnconsumedFuture = errors.New("unconsumed future")

	// ErrGasExceeded is returned once the cost meter passes its ceiling.
	ErrGasExceeded = errors.New("gas exceeded")

	// ErrMalformedFutureWiring is returned when await targets a non-future, a
	// future is bound to the wrong finalize input, or a future is reused.
	ErrMalformedFutureWiring = errors.New("malformed future wiring")

	// ErrOverlayCorrupted is fatal: the overlay snapshot/rollback contract broke.
	ErrOverlayCorrupted = errors.New("overlay corrupted")

	// ErrStore is fatal: committed mapping state could not be read or written.
	ErrStore = errors.New("mapping store failure")

	// ErrInternal is fatal: the interpreter or finalize executor panicked.
	ErrInternal = errors.New("internal error")
)

// Kind is the classification of an execution error.
type Kind uint8

const (
	KindNone Kind = iota
	KindAssertionFailed
	KindTypeOrRange
	KindUnresolvedTarget
	KindUnconsumedFuture
	KindGasExceeded
	KindMalformedFutureWiring
	KindFatal
	KindUnknown
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindAssertionFailed:
		return "AssertionFailed"
	case KindTypeOrRange:
		return "TypeOrRangeViolation"
	case KindUnresolvedTarget:
		return "UnresolvedTarget"
	case KindUnconsumedFuture:
		return "UnconsumedFuture"
	case KindGasExceeded:
		return "GasExceeded"
	case KindMalformedFutureWiring:
		return "MalformedFutureWiring"
	case KindFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Classify maps err to its taxonomy kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrOverlayCorrupted), errors.Is(err, ErrStore), errors.Is(err, ErrInternal):
		return KindFatal
	case errors.Is(err, ErrGasExceeded):
		return KindGasExceeded
	case errors.Is(err, ErrAssertionFailed):
		return KindAssertionFailed
	case errors.Is(err, ErrTypeOrRange):
		return KindTypeOrRange
	case errors.Is(err, ErrUnresolvedTarget):
		return KindUnresolvedTarget
	case errors.Is(err, ErrUnconsumedFuture):
		return KindUnconsumedFuture
	case errors.Is(err, ErrMalformedFutureWiring):
		return KindMalformedFutureWiring
	default:
		return KindUnknown
	}
}

// IsFatal reports whether err must abort the whole block. Only the user
// kinds are recoverable; an unclassified error is fatal.
func IsFatal(err error) bool {
	switch Classify(err) {
	case KindFatal, KindUnknown:
		return true
	default:
		return false
	}
}
