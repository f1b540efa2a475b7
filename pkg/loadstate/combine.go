package loadstate

import (
	"errors"
	"fmt"
)

// ErrUnknownCause stands in for a failure reported without a cause.
var ErrUnknownCause = errors.New("unknown load failure")

// SignalKind is the variant tag of a Signal.
type SignalKind int

const (
	// SignalIdle shows current content with no spinner and no error.
	SignalIdle SignalKind = iota

	// SignalLoading means a refresh is in flight.
	SignalLoading

	// SignalError means exactly one failure is surfaced.
	SignalError
)

// String implements fmt.Stringer.
func (k SignalKind) String() string {
	switch k {
	case SignalIdle:
		return "idle"
	case SignalLoading:
		return "loading"
	case SignalError:
		return "error"
	default:
		return fmt.Sprintf("signal(%d)", int(k))
	}
}

// Signal is the unified load signal consumed by the UI layer.
// Operation and Tier are only meaningful when Kind is SignalError.
type Signal struct {
	Kind      SignalKind
	Err       error
	Operation Operation
	Tier      Tier
}

// Idle reports whether the signal is the idle variant.
func (s Signal) Idle() bool { return s.Kind == SignalIdle }

// Loading reports whether the signal is the loading variant.
func (s Signal) Loading() bool { return s.Kind == SignalLoading }

// Failed reports whether the signal is the error variant.
func (s Signal) Failed() bool { return s.Kind == SignalError }

// String implements fmt.Stringer.
func (s Signal) String() string {
	if s.Kind == SignalError {
		return fmt.Sprintf("error(%s.%s: %v)", s.Operation, s.Tier, s.Err)
	}
	return s.Kind.String()
}

// Slot names one (operation, tier) pair.
type Slot struct {
	Operation Operation
	Tier      Tier
}

// ErrorPrecedence is the order in which errors are surfaced. Edges the user
// scrolls toward come before a stale refresh error, and local comes before
// remote for the same operation.
var ErrorPrecedence = [...]Slot{
	{Prepend, Local},
	{Prepend, Remote},
	{Append, Local},
	{Append, Remote},
	{Refresh, Local},
	{Refresh, Remote},
}

// Combine derives the unified signal from a combined state.
// A refresh in flight dominates; otherwise the first error in
// ErrorPrecedence wins; otherwise the list is idle.
func Combine(c CombinedState) Signal {
	if c.IsLoading(Refresh) {
		return Signal{Kind: SignalLoading}
	}

	for _, slot := range ErrorPrecedence {
		if state := c.Get(slot.Operation, slot.Tier); state.IsError() {
			return Signal{
				Kind:      SignalError,
				Err:       state.Err(),
				Operation: slot.Operation,
				Tier:      slot.Tier,
			}
		}
	}

	return Signal{Kind: SignalIdle}
}
