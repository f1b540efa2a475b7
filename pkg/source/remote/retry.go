package remote

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy holds the retry settings of one error class.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// RetryConfig maps error classes to retry policies. Classes without an
// entry use Default.
type RetryConfig struct {
	Default  RetryPolicy
	PerClass map[ErrorClass]RetryPolicy
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Default: RetryPolicy{
			MaxAttempts:       3,
			InitialBackoff:    1 * time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		},
		PerClass: map[ErrorClass]RetryPolicy{
			// 5xx server errors - shorter backoff
			ErrorClassServer: {
				MaxAttempts:       3,
				InitialBackoff:    1 * time.Second,
				MaxBackoff:        10 * time.Second,
				BackoffMultiplier: 2.0,
			},
			// rate limit - longer backoff
			ErrorClassRateLimit: {
				MaxAttempts:       3,
				InitialBackoff:    5 * time.Second,
				MaxBackoff:        60 * time.Second,
				BackoffMultiplier: 2.0,
			},
			ErrorClassNetwork: {
				MaxAttempts:       3,
				InitialBackoff:    2 * time.Second,
				MaxBackoff:        30 * time.Second,
				BackoffMultiplier: 2.0,
			},
		},
	}
}

// NoRetry returns a configuration making a single attempt per fetch.
func NoRetry() RetryConfig {
	return RetryConfig{Default: RetryPolicy{MaxAttempts: 1}}
}

// PolicyFor returns the policy of an error class.
func (c RetryConfig) PolicyFor(errorClass ErrorClass) RetryPolicy {
	if p, ok := c.PerClass[errorClass]; ok {
		return p
	}
	return c.Default
}

// backoff returns the un-jittered wait after the given attempt (1-based).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.BackoffMultiplier)
		if p.MaxBackoff > 0 && d > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// retryWithBackoff executes fn until it succeeds, returns an error that
// must not be retried, or the policy of the last error's class runs out of
// attempts. Waits respect context cancellation and carry ±20% jitter.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, logger zerolog.Logger, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		if errors.Is(err, ErrBudgetExhausted) || ctx.Err() != nil {
			return err
		}

		errorClass := classOf(err)
		if !shouldRetry(errorClass) {
			return err
		}

		policy := cfg.PolicyFor(errorClass)
		if attempt >= policy.MaxAttempts {
			retryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
			logger.Warn().
				Str("error_class", string(errorClass)).
				Int("max_attempts", policy.MaxAttempts).
				Msg("Retry attempts exhausted")
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, err)
		}

		retriesTotal.WithLabelValues(string(errorClass)).Inc()

		backoff := policy.backoff(attempt)
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(jitter.Seconds())

		logger.Debug().
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			logger.Warn().
				Str("error_class", string(errorClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return ctx.Err()
		case <-time.After(jitter):
		}
	}
}
