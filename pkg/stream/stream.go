package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/pagestream/pkg/loadstate"
	"github.com/Sternrassler/pagestream/pkg/source"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Config holds stream configuration.
type Config struct {
	// Name identifies the stream in logs and metrics.
	Name string

	// PageSize is passed to every page source request.
	PageSize int

	// Logger overrides the component logger (default: global logger with component=stream).
	Logger *zerolog.Logger
}

// DefaultConfig returns a default stream configuration.
func DefaultConfig(name string) Config {
	return Config{
		Name:     name,
		PageSize: 20,
	}
}

// RetryContext is the load a Retry call re-issues.
type RetryContext struct {
	Operation loadstate.Operation
	Tiers     []loadstate.Tier
	Key       source.Key
}

// Snapshot is an immutable view of a stream. Items must not be modified.
type Snapshot[T source.Item] struct {
	// Version increases on every state change.
	Version uint64

	Items  []T
	State  loadstate.CombinedState
	Signal loadstate.Signal

	// Retry is the load Retry would re-issue, nil when there is none.
	Retry *RetryContext

	Before source.Key
	After  source.Key

	Closed bool
}

// Stream reconciles Refresh, Prepend and Append loads from two tiers.
type Stream[T source.Item] struct {
	cfg     Config
	sources [len(loadstate.Tiers)]source.PageSource[T]
	writer  source.Writer[T]
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu     sync.Mutex
	state  loadstate.CombinedState
	signal loadstate.Signal
	retry  *RetryContext
	items  []T

	before, after source.Key
	keysKnown     bool

	// generation is bumped every time a load for (operation, tier) starts;
	// results are applied only if it is unchanged.
	generation [len(loadstate.Operations)][len(loadstate.Tiers)]uint64
	attempted  [len(loadstate.Operations)]source.Key
	// remoteApplied is set once the remote tier applied a page in the
	// current round of an operation.
	remoteApplied [len(loadstate.Operations)]bool

	version     uint64
	subscribers map[int]chan Snapshot[T]
	nextSubID   int
	closed      bool
}

// New creates a stream over local and remote. Either source may be nil, not both.
// If local implements source.Writer, successful remote pages are stored into it.
func New[T source.Item](local, remote source.PageSource[T], cfg Config) (*Stream[T], error) {
	if local == nil && remote == nil {
		return nil, ErrNoSources
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("page_size must be > 0 (got %d)", cfg.PageSize)
	}

	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	} else {
		logger = log.With().Str("component", "stream").Logger()
	}
	logger = logger.With().Str("stream", cfg.Name).Logger()

	ctx, cancel := context.WithCancel(context.Background())

	s := &Stream[T]{
		cfg:         cfg,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[int]chan Snapshot[T]),
	}
	s.sources[loadstate.Local] = local
	s.sources[loadstate.Remote] = remote
	if w, ok := local.(source.Writer[T]); ok && remote != nil {
		s.writer = w
	}
	s.signal = loadstate.Combine(s.state)

	return s, nil
}

// Refresh reloads the list from the initial window. In-flight edge loads are superseded.
func (s *Stream[T]) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return misuse("refresh", ErrClosed)
	}

	s.execute(loadstate.Refresh, source.Key{}, s.tiers(), false)
	return nil
}

// RequestMore extends the list backward or forward from its current edge.
// It is ignored while a refresh is in flight.
func (s *Stream[T]) RequestMore(dir source.Direction) error {
	op, ok := operationFor(dir)
	if !ok {
		return misuse("request_more", fmt.Errorf("%w: %s", ErrInvalidDirection, dir))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return misuse("request_more", ErrClosed)
	}

	if s.state.IsLoading(loadstate.Refresh) {
		s.logger.Debug().
			Str("operation", op.String()).
			Msg("Ignoring edge request during refresh")
		return nil
	}

	if !s.keysKnown {
		return misuse("request_more", ErrNoWindow)
	}

	key := s.edgeKey(op)
	if key.Terminal {
		return misuse("request_more", fmt.Errorf("%w: %s", ErrEndOfList, dir))
	}

	s.execute(op, key, s.tiers(), false)
	return nil
}

// Retry re-issues the load that owns the surfaced error, with the key it
// last attempted, on the tiers that failed. Repeated calls while that retry
// is in flight supersede it rather than adding work.
func (s *Stream[T]) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return misuse("retry", ErrClosed)
	}

	rc := s.retry
	if rc == nil {
		return misuse("retry", ErrNothingToRetry)
	}
	if !s.signal.Failed() && !s.state.IsLoading(rc.Operation) {
		return misuse("retry", ErrNothingToRetry)
	}

	retriesTotal.WithLabelValues(rc.Operation.String()).Inc()
	s.logger.Info().
		Str("operation", rc.Operation.String()).
		Str("key", rc.Key.String()).
		Int("tiers", len(rc.Tiers)).
		Msg("Retrying failed load")

	s.execute(rc.Operation, rc.Key, rc.Tiers, true)
	return nil
}

// Snapshot returns the current view of the stream.
func (s *Stream[T]) Snapshot() Snapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel that always holds the latest snapshot, starting
// with the current one. Intermediate snapshots may be skipped by slow readers.
// The channel is closed by the returned cancel func or by Close.
func (s *Stream[T]) Subscribe() (<-chan Snapshot[T], func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot[T], 1)
	ch <- s.snapshotLocked()

	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(c)
			}
		})
	}
}

// Close stops the stream. Results still in flight are discarded and
// subscriptions are closed. Close waits for outstanding source calls.
func (s *Stream[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.version++
	final := s.snapshotLocked()
	for id, ch := range s.subscribers {
		deliver(ch, final)
		close(ch)
		delete(s.subscribers, id)
	}
	s.mu.Unlock()

	s.cancel()
	itemsVisible.DeleteLabelValues(s.cfg.Name)
	s.logger.Debug().Msg("Stream closed")

	return s.group.Wait()
}

// execute starts a load of op on tiers. retry marks loads issued by Retry.
// Caller must hold s.mu.
func (s *Stream[T]) execute(op loadstate.Operation, key source.Key, tiers []loadstate.Tier, retry bool) {
	req := source.Request{
		Key:       key,
		Direction: directionOf(op),
		PageSize:  s.cfg.PageSize,
	}

	state := s.state
	s.attempted[op] = key

	// a fresh load of the failed operation replaces the load Retry would re-issue
	if !retry && s.retry != nil && s.retry.Operation == op {
		s.retry = nil
	}

	if op == loadstate.Refresh {
		// edge loads started against the old window must not land in the new one
		for _, edge := range []loadstate.Operation{loadstate.Prepend, loadstate.Append} {
			for _, tier := range loadstate.Tiers {
				if state.Get(edge, tier).IsLoading() {
					s.generation[edge][tier]++
				}
				state = state.With(edge, tier, loadstate.NotLoading())
			}
			s.remoteApplied[edge] = false
		}
	}

	for _, tier := range tiers {
		s.generation[op][tier]++
		state = state.With(op, tier, loadstate.Loading())
		if tier == loadstate.Remote {
			s.remoteApplied[op] = false
		}
	}
	s.setState(state)

	for _, tier := range tiers {
		tier := tier
		gen := s.generation[op][tier]
		src := s.sources[tier]
		s.group.Go(func() error {
			s.run(op, tier, gen, src, req)
			return nil
		})
	}

	s.logger.Debug().
		Str("operation", op.String()).
		Str("key", key.String()).
		Int("tiers", len(tiers)).
		Msg("Load started")
}

// run performs one source call and applies its outcome if still current.
func (s *Stream[T]) run(op loadstate.Operation, tier loadstate.Tier, gen uint64, src source.PageSource[T], req source.Request) {
	start := time.Now()
	page, err := src.Fetch(s.ctx, req)
	loadDuration.WithLabelValues(op.String(), tier.String()).Observe(time.Since(start).Seconds())

	s.mu.Lock()
	if s.closed || s.generation[op][tier] != gen {
		s.mu.Unlock()
		supersededTotal.WithLabelValues(op.String(), tier.String()).Inc()
		loadsTotal.WithLabelValues(op.String(), tier.String(), outcomeSuperseded).Inc()
		s.logger.Debug().
			Str("operation", op.String()).
			Str("tier", tier.String()).
			Uint64("generation", gen).
			Msg("Discarding superseded result")
		return
	}

	if err != nil {
		failure := asFailure(err)
		s.setState(s.state.With(op, tier, loadstate.Failed(failure)))
		s.mu.Unlock()

		loadsTotal.WithLabelValues(op.String(), tier.String(), outcomeFailure).Inc()
		s.logger.Warn().
			Err(failure).
			Str("operation", op.String()).
			Str("tier", tier.String()).
			Str("key", req.Key.String()).
			Msg("Page load failed")
		return
	}

	if op == loadstate.Refresh {
		if ierr := s.checkRefreshExclusive(); ierr != nil {
			s.mu.Unlock()
			inconsistenciesTotal.Inc()
			s.logger.Error().Err(ierr).Msg("Load state invariant violated")
			panic(ierr)
		}
	}

	s.apply(op, tier, page)
	count := len(s.items)
	s.mu.Unlock()

	loadsTotal.WithLabelValues(op.String(), tier.String(), outcomeSuccess).Inc()
	level := zerolog.DebugLevel
	if op == loadstate.Refresh {
		level = zerolog.InfoLevel
	}
	s.logger.WithLevel(level).
		Str("operation", op.String()).
		Str("tier", tier.String()).
		Int("page_items", len(page.Items)).
		Int("items", count).
		Msg("Page loaded")

	if tier == loadstate.Remote && s.writer != nil {
		if err := s.writer.Put(s.ctx, req, page); err != nil {
			s.logger.Warn().
				Err(err).
				Str("operation", op.String()).
				Msg("Failed to store remote page in local mirror")
		}
	}
}

// apply merges a successful page and settles its tier. Caller must hold s.mu.
func (s *Stream[T]) apply(op loadstate.Operation, tier loadstate.Tier, page source.Page[T]) {
	// a local page arriving after the remote page of the same round is stale
	if tier == loadstate.Local && s.remoteApplied[op] {
		s.logger.Debug().
			Str("operation", op.String()).
			Msg("Skipping local page, remote already applied")
		s.setState(s.state.With(op, tier, loadstate.NotLoading()))
		return
	}
	authoritative := tier == loadstate.Remote || len(page.Items) > 0

	// an empty local refresh page is a mirror miss and must not clear the window
	if op == loadstate.Refresh && !authoritative {
		s.logger.Debug().Msg("Skipping empty local refresh page")
		s.setState(s.state.With(op, tier, loadstate.NotLoading()))
		return
	}

	switch op {
	case loadstate.Refresh:
		s.items = Merge(s.items, page.Items, loadstate.Refresh)
		s.keysKnown = true
		s.before, s.after = page.Before, page.After
	case loadstate.Prepend:
		s.items = Merge(s.items, page.Items, op)
		if authoritative {
			s.before = page.Before
		}
	case loadstate.Append:
		s.items = Merge(s.items, page.Items, op)
		if authoritative {
			s.after = page.After
		}
	}

	if tier == loadstate.Remote {
		s.remoteApplied[op] = true
	}
	itemsVisible.WithLabelValues(s.cfg.Name).Set(float64(len(s.items)))

	s.setState(s.state.With(op, tier, loadstate.NotLoading()))
}

// checkRefreshExclusive verifies no edge load is in flight. Caller must hold s.mu.
func (s *Stream[T]) checkRefreshExclusive() error {
	for _, edge := range []loadstate.Operation{loadstate.Prepend, loadstate.Append} {
		for _, tier := range loadstate.Tiers {
			if s.state.Get(edge, tier).IsLoading() {
				return &InconsistencyError{Stream: s.cfg.Name, Operation: edge, Tier: tier}
			}
		}
	}
	return nil
}

// setState replaces the combined state, recomputes the signal and retry
// context, and publishes a snapshot. Caller must hold s.mu.
func (s *Stream[T]) setState(state loadstate.CombinedState) {
	s.state = state
	s.signal = loadstate.Combine(state)

	switch {
	case s.signal.Failed():
		op := s.signal.Operation
		s.retry = &RetryContext{
			Operation: op,
			Tiers:     state.FailedTiers(op),
			Key:       s.attempted[op],
		}
	case s.retry != nil && !state.IsLoading(s.retry.Operation):
		// the retried load settled without a surfaced error
		s.retry = nil
	}

	s.version++
	snap := s.snapshotLocked()
	for _, ch := range s.subscribers {
		deliver(ch, snap)
	}
}

func (s *Stream[T]) snapshotLocked() Snapshot[T] {
	snap := Snapshot[T]{
		Version: s.version,
		Items:   s.items,
		State:   s.state,
		Signal:  s.signal,
		Before:  s.before,
		After:   s.after,
		Closed:  s.closed,
	}
	if s.retry != nil {
		rc := *s.retry
		rc.Tiers = append([]loadstate.Tier(nil), s.retry.Tiers...)
		snap.Retry = &rc
	}
	return snap
}

// deliver replaces any unread snapshot in ch with snap. Caller must hold s.mu,
// which makes it the only sender.
func deliver[T source.Item](ch chan Snapshot[T], snap Snapshot[T]) {
	select {
	case <-ch:
	default:
	}
	ch <- snap
}

func (s *Stream[T]) tiers() []loadstate.Tier {
	tiers := make([]loadstate.Tier, 0, len(loadstate.Tiers))
	for _, tier := range loadstate.Tiers {
		if s.sources[tier] != nil {
			tiers = append(tiers, tier)
		}
	}
	return tiers
}

func (s *Stream[T]) edgeKey(op loadstate.Operation) source.Key {
	if op == loadstate.Prepend {
		return s.before
	}
	return s.after
}

func operationFor(dir source.Direction) (loadstate.Operation, bool) {
	switch dir {
	case source.Backward:
		return loadstate.Prepend, true
	case source.Forward:
		return loadstate.Append, true
	default:
		return 0, false
	}
}

func directionOf(op loadstate.Operation) source.Direction {
	switch op {
	case loadstate.Prepend:
		return source.Backward
	case loadstate.Append:
		return source.Forward
	default:
		return source.Initial
	}
}
