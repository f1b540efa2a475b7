// Package remote provides the HTTP page provider for a remote catalog.
//
// Pages are requested as GET {base}?cursor=&direction=&limit= and decoded
// from a JSON envelope:
//
//	{"items": [...], "before": "40", "after": null}
//
// A null cursor marks the end of the list in that direction. Failed
// requests are retried with exponential backoff per error class, and the
// X-Error-Limit-Remain / X-Error-Limit-Reset headers feed an error budget
// that stops requests before the remote starts rejecting the client.
package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/pagestream/pkg/source"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the provider configuration.
type Config struct {
	// BaseURL of the paged endpoint (REQUIRED)
	BaseURL string

	// User-Agent header (REQUIRED)
	UserAgent string

	// Timeout of one HTTP attempt
	Timeout time.Duration

	// Retry policies per error class
	Retry RetryConfig

	// Error budget: block below BudgetCritical, throttle below BudgetWarning
	BudgetCritical int
	BudgetWarning  int
	BudgetThrottle time.Duration

	// Logger (optional, defaults to the global logger)
	Logger *zerolog.Logger
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:        baseURL,
		UserAgent:      userAgent,
		Timeout:        30 * time.Second,
		Retry:          DefaultRetryConfig(),
		BudgetCritical: 5,
		BudgetWarning:  20,
		BudgetThrottle: 1 * time.Second,
	}
}

// Source fetches pages from a remote catalog over HTTP.
type Source[T source.Item] struct {
	httpClient *http.Client
	baseURL    *url.URL
	budget     *Budget
	config     Config
	logger     zerolog.Logger
}

// New creates a remote page source.
func New[T source.Item](cfg Config) (*Source[T], error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Retry.Default.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry max_attempts must be >= 1 (got %d)", cfg.Retry.Default.MaxAttempts)
	}

	if cfg.BudgetCritical < 0 || cfg.BudgetWarning < cfg.BudgetCritical {
		return nil, fmt.Errorf("budget thresholds must satisfy 0 <= critical <= warning (got %d, %d)",
			cfg.BudgetCritical, cfg.BudgetWarning)
	}

	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "remote").Logger()
	} else {
		logger = log.With().Str("component", "remote").Logger()
	}

	return &Source[T]{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    baseURL,
		budget:     NewBudget(cfg.BudgetCritical, cfg.BudgetWarning, cfg.BudgetThrottle, logger),
		config:     cfg,
		logger:     logger,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (s *Source[T]) SetHTTPClient(client *http.Client) {
	s.httpClient = client
}

// Budget returns the error budget gate.
func (s *Source[T]) Budget() *Budget {
	return s.budget
}

// Fetch implements source.PageSource.
func (s *Source[T]) Fetch(ctx context.Context, req source.Request) (source.Page[T], error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(req.Direction.String()).Observe(time.Since(startTime).Seconds())
	}()

	var page source.Page[T]
	err := retryWithBackoff(ctx, s.config.Retry, s.logger, func() error {
		var err error
		page, err = s.attempt(ctx, req)
		return err
	})
	if err != nil {
		return source.Page[T]{}, err
	}
	return page, nil
}

type envelope[T source.Item] struct {
	Items  []T     `json:"items"`
	Before *string `json:"before"`
	After  *string `json:"after"`
}

func (s *Source[T]) attempt(ctx context.Context, req source.Request) (source.Page[T], error) {
	if err := s.budget.Wait(ctx); err != nil {
		return source.Page[T]{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.pageURL(req), nil)
	if err != nil {
		return source.Page[T]{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", s.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")

	s.logger.Debug().
		Str("direction", req.Direction.String()).
		Str("cursor", req.Key.Token).
		Msg("Executing remote page request")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		requestsTotal.WithLabelValues("network_error").Inc()
		s.logger.Error().Err(err).Msg("HTTP request failed")
		return source.Page[T]{}, err
	}
	defer resp.Body.Close()

	if err := s.budget.Update(resp.Header); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to update error budget from headers")
	}

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		errClass := classifyStatus(resp.StatusCode)
		s.logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Remote request error")
		return source.Page[T]{}, &RemoteError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
		}
	}

	var env envelope[T]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return source.Page[T]{}, fmt.Errorf("%w: %v", ErrMalformedPage, err)
	}

	return source.Page[T]{
		Items:  env.Items,
		Before: cursorKey(env.Before),
		After:  cursorKey(env.After),
	}, nil
}

func (s *Source[T]) pageURL(req source.Request) string {
	u := *s.baseURL
	q := u.Query()
	q.Set("direction", req.Direction.String())
	if req.Direction != source.Initial {
		q.Set("cursor", req.Key.Token)
	}
	if req.PageSize > 0 {
		q.Set("limit", strconv.Itoa(req.PageSize))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func cursorKey(cursor *string) source.Key {
	if cursor == nil {
		return source.End
	}
	return source.At(*cursor)
}
