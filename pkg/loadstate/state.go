// Package loadstate models the load state of a paged list: three load
// operations, each observed from two tiers, and the single signal derived
// from them.
package loadstate

import "fmt"

// Operation is one of the three ways a list is loaded.
type Operation int

const (
	// Refresh replaces the visible window from a fresh starting point.
	Refresh Operation = iota

	// Prepend extends the list backward.
	Prepend

	// Append extends the list forward.
	Append
)

// Operations lists every operation in index order.
var Operations = [...]Operation{Refresh, Prepend, Append}

// String returns the metric/log name of the operation.
func (o Operation) String() string {
	switch o {
	case Refresh:
		return "refresh"
	case Prepend:
		return "prepend"
	case Append:
		return "append"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

// Tier identifies which provider reported a state.
type Tier int

const (
	// Local is the fast local mirror (source tier).
	Local Tier = iota

	// Remote is the authoritative provider (mediator tier).
	Remote
)

// Tiers lists both tiers in index order.
var Tiers = [...]Tier{Local, Remote}

// String returns the metric/log name of the tier.
func (t Tier) String() string {
	switch t {
	case Local:
		return "local"
	case Remote:
		return "remote"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Status is the variant tag of a TierState.
type Status int

const (
	StatusNotLoading Status = iota
	StatusLoading
	StatusError
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusNotLoading:
		return "not_loading"
	case StatusLoading:
		return "loading"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// TierState is the state one tier reports for one operation.
// It is a closed variant: build values with NotLoading, Loading or Failed.
type TierState struct {
	status Status
	err    error
}

// NotLoading is the idle variant.
func NotLoading() TierState { return TierState{status: StatusNotLoading} }

// Loading is the in-flight variant.
func Loading() TierState { return TierState{status: StatusLoading} }

// Failed is the error variant. A nil cause is recorded as ErrUnknownCause.
func Failed(cause error) TierState {
	if cause == nil {
		cause = ErrUnknownCause
	}
	return TierState{status: StatusError, err: cause}
}

// Status returns the variant tag.
func (s TierState) Status() Status { return s.status }

// Err returns the cause of an error variant, nil otherwise.
func (s TierState) Err() error { return s.err }

// IsLoading reports whether the variant is Loading.
func (s TierState) IsLoading() bool { return s.status == StatusLoading }

// IsError reports whether the variant is Error.
func (s TierState) IsError() bool { return s.status == StatusError }

// String implements fmt.Stringer.
func (s TierState) String() string {
	if s.status == StatusError {
		return fmt.Sprintf("error(%v)", s.err)
	}
	return s.status.String()
}

// CombinedState holds the TierState of every (operation, tier) pair.
// It is a value type; With returns an updated copy.
type CombinedState struct {
	states [len(Operations)][len(Tiers)]TierState
}

// Get returns the state of one (operation, tier) pair.
func (c CombinedState) Get(op Operation, tier Tier) TierState {
	return c.states[op][tier]
}

// With returns a copy of c with one pair replaced.
func (c CombinedState) With(op Operation, tier Tier, state TierState) CombinedState {
	c.states[op][tier] = state
	return c
}

// Of returns the states of both tiers of an operation.
func (c CombinedState) Of(op Operation) (local, remote TierState) {
	return c.states[op][Local], c.states[op][Remote]
}

// IsLoading reports whether either tier of op is loading.
func (c CombinedState) IsLoading(op Operation) bool {
	return c.states[op][Local].IsLoading() || c.states[op][Remote].IsLoading()
}

// FailedTiers returns the tiers of op currently in the error variant.
func (c CombinedState) FailedTiers(op Operation) []Tier {
	var tiers []Tier
	for _, tier := range Tiers {
		if c.states[op][tier].IsError() {
			tiers = append(tiers, tier)
		}
	}
	return tiers
}
