package stream

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/pagestream/pkg/loadstate"
)

// Misuse causes returned by the consumer API.
var (
	// ErrNothingToRetry is returned by Retry when no error is surfaced.
	ErrNothingToRetry = errors.New("no failed load to retry")

	// ErrEndOfList is returned by RequestMore once a direction reached its terminal marker.
	ErrEndOfList = errors.New("no more pages in this direction")

	// ErrNoWindow is returned by RequestMore before any refresh produced continuation keys.
	ErrNoWindow = errors.New("no window loaded yet")

	// ErrInvalidDirection is returned by RequestMore for directions other than backward/forward.
	ErrInvalidDirection = errors.New("invalid direction")

	// ErrClosed is returned by every call after Close.
	ErrClosed = errors.New("stream closed")

	// ErrNoSources is returned by New when neither tier has a source.
	ErrNoSources = errors.New("at least one page source is required")
)

// SourceFailure is the failure value captured into a tier state when a page
// source call fails. The stream never interprets its content.
type SourceFailure struct {
	// Cause is the error returned by the source.
	Cause error

	// Message is an optional human-readable description.
	Message string

	// RetryAction is an optional caller-supplied callback, carried as data.
	RetryAction func()
}

// Error implements the error interface.
func (f *SourceFailure) Error() string {
	switch {
	case f.Message != "" && f.Cause != nil:
		return fmt.Sprintf("%s: %v", f.Message, f.Cause)
	case f.Message != "":
		return f.Message
	case f.Cause != nil:
		return f.Cause.Error()
	default:
		return loadstate.ErrUnknownCause.Error()
	}
}

// Unwrap implements error unwrapping for errors.Is/As.
func (f *SourceFailure) Unwrap() error {
	return f.Cause
}

// asFailure returns the SourceFailure carried by err, or wraps err in one.
func asFailure(err error) *SourceFailure {
	var f *SourceFailure
	if errors.As(err, &f) {
		return f
	}
	return &SourceFailure{Cause: err}
}

// MisuseError reports a consumer call that cannot be honoured. It is never
// fatal to the stream.
type MisuseError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *MisuseError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Op, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *MisuseError) Unwrap() error {
	return e.Err
}

func misuse(op string, err error) error {
	return &MisuseError{Op: op, Err: err}
}

// InconsistencyError reports a refresh result applied while an edge load
// was in flight. It means the stream's invariants are broken.
type InconsistencyError struct {
	Stream    string
	Operation loadstate.Operation
	Tier      loadstate.Tier
}

// Error implements the error interface.
func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("stream %q: refresh applied while %s.%s is loading",
		e.Stream, e.Operation, e.Tier)
}
