package stream

import (
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/pagestream/pkg/loadstate"
	"github.com/Sternrassler/pagestream/pkg/source"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refreshSettled(s Snapshot[beer]) bool {
	return !s.State.IsLoading(loadstate.Refresh)
}

func appendSettled(s Snapshot[beer]) bool {
	return !s.State.IsLoading(loadstate.Append)
}

// loadWindow refreshes a remote-only stream with items [0,20).
func loadWindow(t *testing.T, s *Stream[beer], remote *gatedSource) {
	t.Helper()
	require.NoError(t, s.Refresh())
	remote.next(t).succeed(window(beers(0, 20), source.End, source.At("20")))
	waitFor(t, s, "refresh settles", refreshSettled)
}

func TestNew_Validation(t *testing.T) {
	_, err := New[beer](nil, nil, testConfig())
	assert.ErrorIs(t, err, ErrNoSources)

	cfg := testConfig()
	cfg.PageSize = 0
	_, err = New[beer](nil, newGatedSource(), cfg)
	assert.Error(t, err)
}

func TestStream_InitialState(t *testing.T) {
	s := newTestStream(t, newGatedSource(), newGatedSource())
	snap := s.Snapshot()

	assert.True(t, snap.Signal.Idle())
	assert.Empty(t, snap.Items)
	assert.Nil(t, snap.Retry)
	for _, op := range loadstate.Operations {
		for _, tier := range loadstate.Tiers {
			assert.Equal(t, loadstate.StatusNotLoading, snap.State.Get(op, tier).Status())
		}
	}
}

func TestStream_RefreshThenAppendWithPartialFailure(t *testing.T) {
	local, remote := newGatedSource(), newGatedSource()
	s := newTestStream(t, local, remote)

	require.NoError(t, s.Refresh())
	snap := s.Snapshot()
	require.True(t, snap.Signal.Loading())
	assert.True(t, snap.State.Get(loadstate.Refresh, loadstate.Local).IsLoading())
	assert.True(t, snap.State.Get(loadstate.Refresh, loadstate.Remote).IsLoading())

	initial := window(beers(0, 20), source.End, source.At("20"))
	lc, rc := local.next(t), remote.next(t)
	assert.Equal(t, source.Initial, lc.req.Direction)
	assert.Equal(t, 20, lc.req.PageSize)
	lc.succeed(initial)
	rc.succeed(initial)

	snap = waitFor(t, s, "refresh settles", refreshSettled)
	require.True(t, snap.Signal.Idle())
	require.Len(t, snap.Items, 20)

	require.NoError(t, s.RequestMore(source.Forward))
	snap = s.Snapshot()
	assert.True(t, snap.State.Get(loadstate.Append, loadstate.Local).IsLoading())
	assert.True(t, snap.State.IsLoading(loadstate.Append))
	// edge loads show no full-list spinner
	assert.True(t, snap.Signal.Idle())

	lc, rc = local.next(t), remote.next(t)
	assert.Equal(t, source.At("20"), lc.req.Key)
	assert.Equal(t, source.Forward, lc.req.Direction)
	assert.Equal(t, source.At("20"), rc.req.Key)

	lc.fail(errors.New("mirror unreadable"))
	rc.succeed(window(beers(20, 30), source.At("20"), source.At("30")))

	snap = waitFor(t, s, "append settles", appendSettled)
	require.True(t, snap.Signal.Failed())
	assert.Equal(t, loadstate.Append, snap.Signal.Operation)
	assert.Equal(t, loadstate.Local, snap.Signal.Tier)
	assert.Equal(t, loadstate.StatusNotLoading, snap.State.Get(loadstate.Append, loadstate.Remote).Status())
	assert.Len(t, snap.Items, 30, "remote page merged despite local failure")
	assert.Equal(t, source.At("30"), snap.After)

	require.NotNil(t, snap.Retry)
	assert.Equal(t, loadstate.Append, snap.Retry.Operation)
	assert.Equal(t, []loadstate.Tier{loadstate.Local}, snap.Retry.Tiers)
	assert.Equal(t, source.At("20"), snap.Retry.Key)
}

func TestStream_RetryReissuesFailedLoad(t *testing.T) {
	local, remote := newGatedSource(), newGatedSource()
	s := newTestStream(t, local, remote)

	require.NoError(t, s.Refresh())
	initial := window(beers(0, 20), source.End, source.At("20"))
	local.next(t).succeed(initial)
	remote.next(t).succeed(initial)
	waitFor(t, s, "refresh settles", refreshSettled)

	require.NoError(t, s.RequestMore(source.Forward))
	local.next(t).fail(errors.New("mirror unreadable"))
	remote.next(t).succeed(window(beers(20, 30), source.At("20"), source.At("30")))
	waitFor(t, s, "append fails", func(s Snapshot[beer]) bool { return s.Signal.Failed() && appendSettled(s) })

	require.NoError(t, s.Retry())

	retried := local.next(t)
	assert.Equal(t, source.Forward, retried.req.Direction)
	assert.Equal(t, source.At("20"), retried.req.Key, "retry uses the key that failed")
	remote.none(t)

	retried.succeed(window(beers(20, 30), source.At("20"), source.At("30")))

	snap := waitFor(t, s, "retry settles", func(s Snapshot[beer]) bool { return s.Signal.Idle() && appendSettled(s) })
	assert.Equal(t, loadstate.StatusNotLoading, snap.State.Get(loadstate.Append, loadstate.Local).Status())
	assert.Len(t, snap.Items, 30, "no duplicates after retry")
	assert.Nil(t, snap.Retry)
}

func TestStream_RetryRefresh(t *testing.T) {
	local, remote := newGatedSource(), newGatedSource()
	s := newTestStream(t, local, remote)

	require.NoError(t, s.Refresh())
	local.next(t).succeed(window(nil, source.End, source.End))
	remote.next(t).fail(errors.New("503"))

	snap := waitFor(t, s, "refresh fails", func(s Snapshot[beer]) bool { return s.Signal.Failed() })
	assert.Equal(t, loadstate.Refresh, snap.Signal.Operation)
	assert.Equal(t, loadstate.Remote, snap.Signal.Tier)

	// an empty mirror page gives no continuation keys
	var me *MisuseError
	err := s.RequestMore(source.Forward)
	require.ErrorAs(t, err, &me)
	assert.ErrorIs(t, err, ErrNoWindow)

	require.NoError(t, s.Retry())
	snap = s.Snapshot()
	assert.True(t, snap.Signal.Loading())

	rc := remote.next(t)
	assert.Equal(t, source.Initial, rc.req.Direction)
	assert.Equal(t, source.Key{}, rc.req.Key)
	local.none(t)

	rc.succeed(window(beers(0, 5), source.End, source.At("5")))
	snap = waitFor(t, s, "retry settles", func(s Snapshot[beer]) bool { return s.Signal.Idle() })
	assert.Len(t, snap.Items, 5)
	assert.NoError(t, s.RequestMore(source.Forward))
}

func TestStream_RetryWithoutErrorIsMisuse(t *testing.T) {
	remote := newGatedSource()
	s := newTestStream(t, nil, remote)
	loadWindow(t, s, remote)

	before := s.Snapshot()
	err := s.Retry()

	var me *MisuseError
	require.ErrorAs(t, err, &me)
	assert.ErrorIs(t, err, ErrNothingToRetry)
	assert.Equal(t, before.Version, s.Snapshot().Version, "misuse must not change state")
	remote.none(t)
}

func TestStream_NewEdgeLoadClearsRetry(t *testing.T) {
	local, remote := newGatedSource(), newGatedSource()
	s := newTestStream(t, local, remote)

	require.NoError(t, s.Refresh())
	initial := window(beers(0, 20), source.End, source.At("20"))
	local.next(t).succeed(initial)
	remote.next(t).succeed(initial)
	waitFor(t, s, "refresh settles", refreshSettled)

	require.NoError(t, s.RequestMore(source.Forward))
	local.next(t).fail(errors.New("mirror unreadable"))
	remote.next(t).succeed(window(beers(20, 30), source.At("20"), source.At("30")))
	waitFor(t, s, "append fails", func(s Snapshot[beer]) bool { return s.Signal.Failed() && appendSettled(s) })

	require.NoError(t, s.RequestMore(source.Forward))
	lc, rc := local.next(t), remote.next(t)
	assert.Equal(t, source.At("30"), lc.req.Key)

	before := s.Snapshot()
	require.True(t, before.Signal.Idle())
	assert.Nil(t, before.Retry)

	err := s.Retry()
	var me *MisuseError
	require.ErrorAs(t, err, &me)
	assert.ErrorIs(t, err, ErrNothingToRetry)
	assert.Equal(t, before.Version, s.Snapshot().Version, "retry while idle must not change state")
	local.none(t)
	remote.none(t)

	lc.fail(errors.New("mirror unreadable"))
	rc.succeed(window(beers(30, 40), source.At("30"), source.At("40")))
	snap := waitFor(t, s, "append fails again", func(s Snapshot[beer]) bool { return s.Signal.Failed() && appendSettled(s) })
	require.NotNil(t, snap.Retry)
	assert.Equal(t, source.At("30"), snap.Retry.Key, "retry targets the latest failed key")
}

func TestStream_EmptyLocalRefreshKeepsWindow(t *testing.T) {
	local, remote := newGatedSource(), newGatedSource()
	s := newTestStream(t, local, remote)

	require.NoError(t, s.Refresh())
	local.next(t).succeed(window(nil, source.End, source.End))
	remote.next(t).succeed(window(beers(0, 20), source.End, source.At("20")))
	waitFor(t, s, "refresh settles", refreshSettled)

	require.NoError(t, s.Refresh())
	local.next(t).succeed(window(nil, source.End, source.End))
	waitFor(t, s, "local settles", func(s Snapshot[beer]) bool {
		return !s.State.Get(loadstate.Refresh, loadstate.Local).IsLoading()
	})
	assert.Len(t, s.Snapshot().Items, 20, "a mirror miss leaves the window in place")

	remote.next(t).fail(errors.New("503"))
	snap := waitFor(t, s, "refresh fails", func(s Snapshot[beer]) bool { return s.Signal.Failed() })
	assert.Equal(t, loadstate.Remote, snap.Signal.Tier)
	assert.Equal(t, ids(beers(0, 20)), ids(snap.Items))
	assert.Equal(t, source.At("20"), snap.After)

	require.NoError(t, s.RequestMore(source.Forward))
	assert.Equal(t, source.At("20"), remote.next(t).req.Key)
}

func TestStream_SupersededAppendMergesOnce(t *testing.T) {
	remote := newGatedSource()
	s := newTestStream(t, nil, remote)
	loadWindow(t, s, remote)

	discarded := supersededTotal.WithLabelValues("append", "remote")
	base := promtest.ToFloat64(discarded)

	require.NoError(t, s.RequestMore(source.Forward))
	first := remote.next(t)
	require.NoError(t, s.RequestMore(source.Forward))
	second := remote.next(t)

	first.succeed(window(beers(100, 105), source.At("20"), source.At("105")))
	require.Eventually(t, func() bool { return promtest.ToFloat64(discarded) == base+1 },
		2*time.Second, 5*time.Millisecond, "first result discarded")
	assert.True(t, s.Snapshot().State.Get(loadstate.Append, loadstate.Remote).IsLoading())

	second.succeed(window(beers(20, 25), source.At("20"), source.At("25")))
	snap := waitFor(t, s, "append settles", appendSettled)

	assert.Len(t, snap.Items, 25)
	assert.NotContains(t, ids(snap.Items), "beer-100")
	assert.Equal(t, source.At("25"), snap.After)
}

func TestStream_RepeatedRetryCoalesces(t *testing.T) {
	remote := newGatedSource()
	s := newTestStream(t, nil, remote)
	loadWindow(t, s, remote)

	require.NoError(t, s.RequestMore(source.Forward))
	remote.next(t).fail(errors.New("timeout"))
	waitFor(t, s, "append fails", func(s Snapshot[beer]) bool { return s.Signal.Failed() })

	discarded := supersededTotal.WithLabelValues("append", "remote")
	base := promtest.ToFloat64(discarded)

	require.NoError(t, s.Retry())
	first := remote.next(t)
	require.NoError(t, s.Retry(), "retry while the retry is in flight coalesces")
	second := remote.next(t)
	assert.Equal(t, first.req, second.req)

	first.succeed(window(beers(100, 110), source.At("20"), source.At("110")))
	require.Eventually(t, func() bool { return promtest.ToFloat64(discarded) == base+1 },
		2*time.Second, 5*time.Millisecond)

	second.succeed(window(beers(20, 30), source.At("20"), source.At("30")))
	snap := waitFor(t, s, "retry settles", func(s Snapshot[beer]) bool { return s.Signal.Idle() && appendSettled(s) })
	assert.Len(t, snap.Items, 30)

	err := s.Retry()
	assert.ErrorIs(t, err, ErrNothingToRetry)
}

func TestStream_RefreshSupersedesEdgeLoads(t *testing.T) {
	remote := newGatedSource()
	s := newTestStream(t, nil, remote)
	loadWindow(t, s, remote)

	require.NoError(t, s.RequestMore(source.Forward))
	edge := remote.next(t)

	require.NoError(t, s.Refresh())
	snap := s.Snapshot()
	assert.True(t, snap.Signal.Loading())
	assert.False(t, snap.State.IsLoading(loadstate.Append))
	refresh := remote.next(t)

	edge.succeed(window(beers(20, 40), source.At("20"), source.At("40")))
	refresh.succeed(window(beers(50, 60), source.End, source.At("60")))

	snap = waitFor(t, s, "refresh settles", refreshSettled)
	assert.Equal(t, ids(beers(50, 60)), ids(snap.Items), "refresh replaces the window and the edge result is dropped")
	assert.Equal(t, source.At("60"), snap.After)
}

func TestStream_RequestMoreIgnoredDuringRefresh(t *testing.T) {
	remote := newGatedSource()
	s := newTestStream(t, nil, remote)
	loadWindow(t, s, remote)

	require.NoError(t, s.Refresh())
	pending := remote.next(t)

	assert.NoError(t, s.RequestMore(source.Forward))
	assert.NoError(t, s.RequestMore(source.Backward))
	remote.none(t)

	pending.succeed(window(beers(0, 20), source.End, source.At("20")))
	waitFor(t, s, "refresh settles", refreshSettled)
}

func TestStream_RequestMoreMisuse(t *testing.T) {
	remote := newGatedSource()
	s := newTestStream(t, nil, remote)

	err := s.RequestMore(source.Forward)
	assert.ErrorIs(t, err, ErrNoWindow)

	err = s.RequestMore(source.Initial)
	assert.ErrorIs(t, err, ErrInvalidDirection)

	loadWindow(t, s, remote)

	// Before is terminal after the initial window
	err = s.RequestMore(source.Backward)
	var me *MisuseError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "request_more", me.Op)
	assert.ErrorIs(t, err, ErrEndOfList)
	remote.none(t)

	require.NoError(t, s.RequestMore(source.Forward))
	remote.next(t).succeed(window(beers(20, 22), source.At("20"), source.End))
	waitFor(t, s, "append settles", appendSettled)

	assert.ErrorIs(t, s.RequestMore(source.Forward), ErrEndOfList)
	assert.True(t, s.Snapshot().Signal.Idle(), "misuse is not fatal to the stream")
}

func TestStream_PrependExtendsBackward(t *testing.T) {
	remote := newGatedSource()
	s := newTestStream(t, nil, remote)

	require.NoError(t, s.Refresh())
	remote.next(t).succeed(window(beers(10, 20), source.At("10"), source.At("20")))
	waitFor(t, s, "refresh settles", refreshSettled)

	require.NoError(t, s.RequestMore(source.Backward))
	call := remote.next(t)
	assert.Equal(t, source.Backward, call.req.Direction)
	assert.Equal(t, source.At("10"), call.req.Key)
	call.succeed(window(beers(5, 11), source.At("5"), source.At("11")))

	snap := waitFor(t, s, "prepend settles", func(s Snapshot[beer]) bool { return !s.State.IsLoading(loadstate.Prepend) })
	assert.Equal(t, ids(beers(5, 20)), ids(snap.Items))
	assert.Equal(t, source.At("5"), snap.Before)
	assert.Equal(t, source.At("20"), snap.After, "prepend leaves the forward key alone")
}

func TestStream_PrependErrorOutranksAppendError(t *testing.T) {
	remote := newGatedSource()
	s := newTestStream(t, nil, remote)

	require.NoError(t, s.Refresh())
	remote.next(t).succeed(window(beers(10, 20), source.At("10"), source.At("20")))
	waitFor(t, s, "refresh settles", refreshSettled)

	require.NoError(t, s.RequestMore(source.Forward))
	appendCall := remote.next(t)
	require.NoError(t, s.RequestMore(source.Backward))
	prependCall := remote.next(t)

	appendCall.fail(errors.New("append failed"))
	waitFor(t, s, "append fails", func(s Snapshot[beer]) bool { return s.Signal.Failed() })
	prependCall.fail(errors.New("prepend failed"))

	snap := waitFor(t, s, "prepend fails", func(s Snapshot[beer]) bool {
		return s.Signal.Failed() && s.Signal.Operation == loadstate.Prepend
	})
	assert.EqualError(t, snap.Signal.Err, "prepend failed")
	assert.Equal(t, source.At("10"), snap.Retry.Key)
}

func TestStream_StaleLocalRefreshSkipped(t *testing.T) {
	local, remote := newGatedSource(), newGatedSource()
	s := newTestStream(t, local, remote)

	require.NoError(t, s.Refresh())
	lc, rc := local.next(t), remote.next(t)

	rc.succeed(window(beers(0, 10), source.End, source.At("10")))
	waitFor(t, s, "remote applied", func(s Snapshot[beer]) bool {
		return !s.State.Get(loadstate.Refresh, loadstate.Remote).IsLoading()
	})

	lc.succeed(window(beers(90, 95), source.End, source.End))
	snap := waitFor(t, s, "refresh settles", refreshSettled)

	assert.Equal(t, ids(beers(0, 10)), ids(snap.Items))
	assert.Equal(t, source.At("10"), snap.After)
}

func TestStream_WriteThrough(t *testing.T) {
	mirror := &recordingMirror{gatedSource: newGatedSource()}
	remote := newGatedSource()
	s := newTestStream(t, mirror, remote)

	require.NoError(t, s.Refresh())
	mirror.next(t).succeed(window(nil, source.End, source.End))
	remote.next(t).succeed(window(beers(0, 3), source.End, source.At("3")))

	waitFor(t, s, "refresh settles", refreshSettled)
	require.Eventually(t, func() bool { return mirror.putCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestStream_SourceFailureIsCarriedAsData(t *testing.T) {
	remote := newGatedSource()
	s := newTestStream(t, nil, remote)

	offline := errors.New("connection refused")
	called := false
	require.NoError(t, s.Refresh())
	remote.next(t).fail(&SourceFailure{
		Cause:       offline,
		Message:     "catalog unavailable",
		RetryAction: func() { called = true },
	})

	snap := waitFor(t, s, "refresh fails", func(s Snapshot[beer]) bool { return s.Signal.Failed() })

	var failure *SourceFailure
	require.ErrorAs(t, snap.Signal.Err, &failure)
	assert.Equal(t, "catalog unavailable", failure.Message)
	assert.ErrorIs(t, snap.Signal.Err, offline)
	require.NotNil(t, failure.RetryAction)
	assert.False(t, called, "the stream never invokes the callback itself")

	// plain errors are wrapped
	require.NoError(t, s.Retry())
	remote.next(t).fail(offline)
	snap = waitFor(t, s, "retry fails", func(s Snapshot[beer]) bool { return s.Signal.Failed() && refreshSettled(s) })
	require.ErrorAs(t, snap.Signal.Err, &failure)
	assert.Equal(t, offline, failure.Cause)
}

func TestStream_Subscribe(t *testing.T) {
	remote := newGatedSource()
	s := newTestStream(t, nil, remote)

	updates, cancel := s.Subscribe()
	first := <-updates
	assert.True(t, first.Signal.Idle())

	require.NoError(t, s.Refresh())
	remote.next(t).succeed(window(beers(0, 4), source.End, source.At("4")))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-updates:
			require.GreaterOrEqual(t, snap.Version, first.Version)
			if snap.Signal.Idle() && len(snap.Items) == 4 {
				cancel()
				cancel()
				for range updates {
				}
				return
			}
		case <-deadline:
			t.Fatal("no idle snapshot with items delivered")
		}
	}
}

func TestStream_Close(t *testing.T) {
	remote := newGatedSource()
	s, err := New[beer](nil, remote, testConfig())
	require.NoError(t, err)

	updates, _ := s.Subscribe()
	<-updates

	require.NoError(t, s.Refresh())
	remote.next(t)

	// in-flight call unblocks on context cancellation and is discarded
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	var last Snapshot[beer]
	for snap := range updates {
		last = snap
	}
	assert.True(t, last.Closed)

	assert.ErrorIs(t, s.Refresh(), ErrClosed)
	assert.ErrorIs(t, s.RequestMore(source.Forward), ErrClosed)
	assert.ErrorIs(t, s.Retry(), ErrClosed)

	late, _ := s.Subscribe()
	snap, ok := <-late
	assert.True(t, ok)
	assert.True(t, snap.Closed)
	_, ok = <-late
	assert.False(t, ok)
}

func TestStream_CheckRefreshExclusive(t *testing.T) {
	s := newTestStream(t, nil, newGatedSource())

	s.mu.Lock()
	assert.NoError(t, s.checkRefreshExclusive())
	s.state = s.state.With(loadstate.Append, loadstate.Remote, loadstate.Loading())
	err := s.checkRefreshExclusive()
	s.state = loadstate.CombinedState{}
	s.mu.Unlock()

	var ie *InconsistencyError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, loadstate.Append, ie.Operation)
	assert.Equal(t, loadstate.Remote, ie.Tier)
	assert.Contains(t, ie.Error(), "append.remote")
}
