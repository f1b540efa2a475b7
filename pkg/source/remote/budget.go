package remote

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Error budget headers sent by the remote catalog.
const (
	HeaderErrorLimitRemain = "X-Error-Limit-Remain"
	HeaderErrorLimitReset  = "X-Error-Limit-Reset"
)

// BudgetState is the last error budget reported by the remote.
type BudgetState struct {
	// Remaining errors before the remote starts rejecting the client
	Remaining int `json:"remaining"`

	// ResetAt is when the budget window resets
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when the headers were last seen. Zero until the first
	// response carrying budget headers.
	LastUpdate time.Time `json:"last_update"`
}

// Known reports whether the remote has reported a budget yet.
func (s BudgetState) Known() bool {
	return !s.LastUpdate.IsZero()
}

// TimeUntilReset returns the duration until the budget resets.
// Returns 0 if the reset time has already passed.
func (s BudgetState) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// Budget tracks the remote error budget and gates requests on it.
type Budget struct {
	mu       sync.RWMutex
	state    BudgetState
	critical int
	warning  int
	throttle time.Duration
	logger   zerolog.Logger
}

// NewBudget creates a budget gate. Requests fail fast below critical and
// wait throttle below warning.
func NewBudget(critical, warning int, throttle time.Duration, logger zerolog.Logger) *Budget {
	return &Budget{
		critical: critical,
		warning:  warning,
		throttle: throttle,
		logger:   logger,
	}
}

// State returns the current budget state.
func (b *Budget) State() BudgetState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Update parses the budget headers of a response. Responses without them
// leave the state unchanged.
func (b *Budget) Update(headers http.Header) error {
	remainStr := headers.Get(HeaderErrorLimitRemain)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderErrorLimitRemain, err)
	}

	resetStr := headers.Get(HeaderErrorLimitReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderErrorLimitReset)
	}

	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderErrorLimitReset, err)
	}

	now := time.Now()
	state := BudgetState{
		Remaining:  remain,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}

	b.mu.Lock()
	b.state = state
	b.mu.Unlock()

	budgetRemaining.Set(float64(remain))

	switch {
	case remain < b.critical:
		b.logger.Error().
			Int("errors_remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Remote error budget CRITICAL - requests will be blocked")
	case remain < b.warning:
		b.logger.Warn().
			Int("errors_remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Remote error budget WARNING - requests will be throttled")
	default:
		b.logger.Debug().
			Int("errors_remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Remote error budget updated")
	}

	return nil
}

// Wait gates one request. It returns ErrBudgetExhausted while the budget is
// critical and its window has not reset, and sleeps the throttle delay
// while it is low.
func (b *Budget) Wait(ctx context.Context) error {
	state := b.State()
	if !state.Known() || state.TimeUntilReset() == 0 {
		return nil
	}

	if state.Remaining < b.critical {
		budgetBlocksTotal.Inc()
		b.logger.Error().
			Int("errors_remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Remote error budget critical - blocking request")
		return fmt.Errorf("%w: %d remaining, resets in %s",
			ErrBudgetExhausted, state.Remaining, state.TimeUntilReset().Round(time.Second))
	}

	if state.Remaining < b.warning && b.throttle > 0 {
		budgetThrottlesTotal.Inc()
		b.logger.Warn().
			Int("errors_remaining", state.Remaining).
			Dur("throttle", b.throttle).
			Msg("Remote error budget low - throttling request")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.throttle):
		}
	}

	return nil
}
