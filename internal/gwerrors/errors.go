// Package gwerrors defines the error-kind taxonomy the gateway uses to decide
// how a failure is reported to the client (single text frame, terminal close,
// in-band recovery, ...). Components return one of these sentinels wrapped
// with context; callers switch on errors.Is, never on string content.
package gwerrors

import "errors"

// Connectivity covers cache, relational store, and remote-API reachability
// failures. The connection pump closes with a terminal frame on these during
// startup, and surfaces them in-turn otherwise.
var ErrConnectivity = errors.New("connectivity error")

// Protocol covers malformed client frames and references to rooms the buffer
// doesn't know about.
var ErrProtocol = errors.New("protocol error")

// Budget covers a single message exceeding the model's per-request token
// ceiling. Budget failures never mutate state.
var ErrBudget = errors.New("budget exceeded")

// Generation covers content-filter rejections, repeated empty output, and
// retries exhausted. Length truncation is NOT a Generation error - it is
// recovered in-band by the dispatcher and never surfaces here.
var ErrGeneration = errors.New("generation failed")

// Cancellation marks a client-initiated abort of the in-flight turn.
var ErrCancellation = errors.New("generation cancelled")

// Internal covers command-binder failures, unknown commands, and anything
// that isn't one of the above.
var ErrInternal = errors.New("internal error")

// Kind classifies an error returned by a core component into one of the
// taxonomy's buckets, defaulting to Internal when nothing matches.
func Kind(err error) error {
	switch {
	case errors.Is(err, ErrConnectivity):
		return ErrConnectivity
	case errors.Is(err, ErrProtocol):
		return ErrProtocol
	case errors.Is(err, ErrBudget):
		return ErrBudget
	case errors.Is(err, ErrGeneration):
		return ErrGeneration
	case errors.Is(err, ErrCancellation):
		return ErrCancellation
	default:
		return ErrInternal
	}
}
