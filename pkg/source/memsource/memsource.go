// Package memsource provides a slice-backed page source. Tokens are offsets
// into the slice, so any key the source produced can be fetched again.
package memsource

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/pagestream/pkg/source"
)

// Source serves pages from an in-memory slice.
type Source[T source.Item] struct {
	mu    sync.RWMutex
	items []T
	start int
	delay time.Duration
	fail  map[source.Direction]error
	calls int
}

// New creates a source over items. Initial fetches start at offset start.
func New[T source.Item](items []T, start int) *Source[T] {
	if start < 0 {
		start = 0
	}
	return &Source[T]{
		items: append([]T(nil), items...),
		start: start,
		fail:  make(map[source.Direction]error),
	}
}

// SetDelay makes every fetch wait d (or until the context is done).
func (s *Source[T]) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// FailNext makes fetches in dir return err until cleared with a nil err.
func (s *Source[T]) FailNext(dir source.Direction, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, dir)
		return
	}
	s.fail[dir] = err
}

// Calls returns the number of fetches served.
func (s *Source[T]) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// Fetch implements source.PageSource.
func (s *Source[T]) Fetch(ctx context.Context, req source.Request) (source.Page[T], error) {
	s.mu.Lock()
	s.calls++
	delay := s.delay
	failure := s.fail[req.Direction]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return source.Page[T]{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if failure != nil {
		return source.Page[T]{}, failure
	}

	size := req.PageSize
	if size <= 0 {
		size = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var from, to int
	switch req.Direction {
	case source.Initial:
		from = s.start
		to = from + size
	case source.Forward:
		off, err := strconv.Atoi(req.Key.Token)
		if err != nil {
			return source.Page[T]{}, err
		}
		from, to = off, off+size
	case source.Backward:
		off, err := strconv.Atoi(req.Key.Token)
		if err != nil {
			return source.Page[T]{}, err
		}
		from, to = off-size, off
	}

	from = clamp(from, 0, len(s.items))
	to = clamp(to, 0, len(s.items))

	return source.Page[T]{
		Items:  append([]T(nil), s.items[from:to]...),
		Before: s.keyAt(from, from == 0),
		After:  s.keyAt(to, to >= len(s.items)),
	}, nil
}

func (s *Source[T]) keyAt(offset int, terminal bool) source.Key {
	if terminal {
		return source.End
	}
	return source.At(strconv.Itoa(offset))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
