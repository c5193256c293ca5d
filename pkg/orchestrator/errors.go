package orchestrator

import (
	"errors"
	"fmt"

	"github.com/scoutflo/kubdev-orchestrator/pkg/record"
	"github.com/scoutflo/kubdev-orchestrator/pkg/spec"
)

// Kind is one of the error kinds spec.md §7 says must be surfaced to
// callers.
type Kind string

const (
	MalformedSpec      Kind = "MalformedSpec"
	InvalidKind        Kind = "InvalidKind"
	NotFound           Kind = "NotFound"
	Forbidden          Kind = "Forbidden"
	Conflict           Kind = "Conflict"
	PreconditionFailed Kind = "PreconditionFailed"
	ClusterUnavailable Kind = "ClusterUnavailable"
	Timeout            Kind = "Timeout"
	Internal           Kind = "Internal"
)

// Error is the typed error every orchestrator operation returns
// instead of a bare error, so HTTP-layer callers can map Kind to a
// status code without string-matching.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// AsError reports whether err (or something it wraps) is an *Error,
// mirroring the standard errors.As idiom so callers don't need to
// import this package just to type-switch.
func AsError(err error) (*Error, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// classifySpecError maps a pkg/spec sentinel into the orchestrator's
// own taxonomy. pkg/spec cannot import this package, so it exposes
// sentinels instead of Kind values directly.
func classifySpecError(err error) *Error {
	switch {
	case errors.Is(err, spec.ErrInvalidKind):
		return newError(InvalidKind, "manifest apiVersion/kind mismatch", err)
	case errors.Is(err, spec.ErrMalformedSpec):
		return newError(MalformedSpec, "manifest failed to parse", err)
	default:
		return newError(Internal, "normalizing manifest", err)
	}
}

// classifyRecordError maps a pkg/record sentinel the same way.
func classifyRecordError(err error) *Error {
	switch {
	case errors.Is(err, record.ErrNotFound):
		return newError(NotFound, "no such environment", err)
	case errors.Is(err, record.ErrConflict):
		return newError(Conflict, "concurrent update lost the race", err)
	case errors.Is(err, record.ErrInvariantViolation):
		return newError(Internal, "record invariant violated", err)
	default:
		return newError(Internal, "record store operation failed", err)
	}
}
