package stream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/pagestream/pkg/source"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type beer struct {
	id   string
	name string
}

func (b beer) ItemID() string { return b.id }

func beers(from, to int) []beer {
	out := make([]beer, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, beer{id: fmt.Sprintf("beer-%d", i), name: fmt.Sprintf("Beer %d", i)})
	}
	return out
}

func ids(items []beer) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.id
	}
	return out
}

type fetchResult struct {
	page source.Page[beer]
	err  error
}

// pendingFetch is one blocked Fetch call waiting for the test to answer it.
type pendingFetch struct {
	req   source.Request
	reply chan fetchResult
}

func (p *pendingFetch) succeed(page source.Page[beer]) {
	p.reply <- fetchResult{page: page}
}

func (p *pendingFetch) fail(err error) {
	p.reply <- fetchResult{err: err}
}

// gatedSource blocks every Fetch until the test answers it.
type gatedSource struct {
	calls chan *pendingFetch
}

func newGatedSource() *gatedSource {
	return &gatedSource{calls: make(chan *pendingFetch, 32)}
}

func (g *gatedSource) Fetch(ctx context.Context, req source.Request) (source.Page[beer], error) {
	p := &pendingFetch{req: req, reply: make(chan fetchResult, 1)}
	g.calls <- p
	select {
	case r := <-p.reply:
		return r.page, r.err
	case <-ctx.Done():
		return source.Page[beer]{}, ctx.Err()
	}
}

// next returns the next blocked call or fails the test.
func (g *gatedSource) next(t *testing.T) *pendingFetch {
	t.Helper()
	select {
	case p := <-g.calls:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fetch")
		return nil
	}
}

// none asserts no call is pending.
func (g *gatedSource) none(t *testing.T) {
	t.Helper()
	select {
	case p := <-g.calls:
		t.Fatalf("unexpected fetch %+v", p.req)
	case <-time.After(20 * time.Millisecond):
	}
}

// recordingMirror is a gated local source that also records write-through pages.
type recordingMirror struct {
	*gatedSource
	mu   sync.Mutex
	puts []source.Request
}

func (m *recordingMirror) Put(_ context.Context, req source.Request, _ source.Page[beer]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts = append(m.puts, req)
	return nil
}

func (m *recordingMirror) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.puts)
}

func testConfig() Config {
	logger := zerolog.Nop()
	cfg := DefaultConfig("test")
	cfg.Logger = &logger
	return cfg
}

func newTestStream(t *testing.T, local, remote source.PageSource[beer]) *Stream[beer] {
	t.Helper()
	s, err := New[beer](local, remote, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitFor(t *testing.T, s *Stream[beer], msg string, cond func(Snapshot[beer]) bool) Snapshot[beer] {
	t.Helper()
	var snap Snapshot[beer]
	require.Eventually(t, func() bool {
		snap = s.Snapshot()
		return cond(snap)
	}, 2*time.Second, 5*time.Millisecond, msg)
	return snap
}

func window(items []beer, before, after source.Key) source.Page[beer] {
	return source.Page[beer]{Items: items, Before: before, After: after}
}
