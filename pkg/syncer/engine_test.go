package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iwoork/homeforpup-sub006/pkg/apperr"
	"github.com/iwoork/homeforpup-sub006/pkg/models"
)

func newEngine(t *testing.T, src Source, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithInterval(time.Hour)}, opts...)
	e := New(src, "alice", opts...)
	t.Cleanup(e.Stop)
	return e
}

func ids(threads []models.Thread) []string {
	out := make([]string, 0, len(threads))
	for _, th := range threads {
		out = append(out, th.ID)
	}
	return out
}

func msgIDs(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestStartFetchesThreads(t *testing.T) {
	src := newFakeSource()
	src.setThreads(thread("t1", 10, 1), thread("t2", 20, 2))
	e := newEngine(t, src)

	require.NoError(t, e.Start(context.Background()))
	assert.ErrorIs(t, e.Start(context.Background()), ErrStarted)

	v := e.Snapshot()
	assert.Equal(t, []string{"t2", "t1"}, ids(v.Threads))
	assert.Equal(t, 3, v.Unread)
	assert.Equal(t, 1, src.count("threads"))
}

func TestUnchangedFingerprintSkipsNotify(t *testing.T) {
	src := newFakeSource()
	src.setThreads(thread("t1", 10, 0))
	e := newEngine(t, src)

	var notified atomic.Int32
	e.Subscribe(func(View) { notified.Add(1) })

	ctx := context.Background()
	require.NoError(t, e.RefreshThreads(ctx))
	require.NoError(t, e.RefreshThreads(ctx))
	assert.Equal(t, int32(1), notified.Load())

	// read state changes without bumping updatedAt
	src.setThreads(thread("t1", 10, 3))
	require.NoError(t, e.RefreshThreads(ctx))
	assert.Equal(t, int32(2), notified.Load())
	assert.Equal(t, 3, e.Snapshot().Unread)
}

func TestUnsubscribe(t *testing.T) {
	src := newFakeSource()
	e := newEngine(t, src)
	var notified atomic.Int32
	cancel := e.Subscribe(func(View) { notified.Add(1) })
	cancel()
	src.setThreads(thread("t1", 10, 0))
	require.NoError(t, e.RefreshThreads(context.Background()))
	assert.Zero(t, notified.Load())
}

func TestSelectionSticksAcrossRefresh(t *testing.T) {
	src := newFakeSource()
	src.setThreads(thread("t1", 10, 0), thread("t2", 20, 0))
	src.addMessages(message("t1", "m1", 10))
	e := newEngine(t, src)
	ctx := context.Background()

	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Select(ctx, "t1"))

	updated := thread("t1", 30, 1)
	updated.LastMessage.Content = "new reply"
	src.setThreads(updated, thread("t2", 20, 0))
	require.NoError(t, e.RefreshThreads(ctx))

	v := e.Snapshot()
	assert.Equal(t, "t1", v.SelectedID)
	require.NotNil(t, v.Selected)
	assert.Equal(t, "new reply", v.Selected.LastMessage.Content)
	assert.Equal(t, []string{"t1", "t2"}, ids(v.Threads))
	assert.Equal(t, []string{"m1"}, msgIDs(v.Messages))
}

func TestSelectionClearedWhenThreadDisappears(t *testing.T) {
	src := newFakeSource()
	src.setThreads(thread("t1", 10, 0))
	src.addMessages(message("t1", "m1", 10))
	e := newEngine(t, src)
	ctx := context.Background()

	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Select(ctx, "t1"))
	src.setThreads()
	require.NoError(t, e.RefreshThreads(ctx))

	v := e.Snapshot()
	assert.Empty(t, v.SelectedID)
	assert.Nil(t, v.Selected)
	assert.Empty(t, v.Messages)
}

func TestOptimisticThreadSurvivesLaggingPoll(t *testing.T) {
	src := newFakeSource()
	src.setThreads(thread("t1", 10, 0))
	e := newEngine(t, src)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	created := thread("t-new", 50, 0)
	e.ApplyThread(created)
	assert.Equal(t, []string{"t-new", "t1"}, ids(e.Snapshot().Threads))

	// server has not caught up yet; a changed list must not drop the entry
	src.setThreads(thread("t1", 15, 1))
	require.NoError(t, e.RefreshThreads(ctx))
	assert.Equal(t, []string{"t-new", "t1"}, ids(e.Snapshot().Threads))

	src.setThreads(thread("t1", 15, 1), created)
	require.NoError(t, e.RefreshThreads(ctx))
	assert.Equal(t, []string{"t-new", "t1"}, ids(e.Snapshot().Threads))
	e.mu.Lock()
	assert.Empty(t, e.threadOverlay)
	e.mu.Unlock()
}

func TestOptimisticMessageKeptUntilServed(t *testing.T) {
	src := newFakeSource()
	src.setThreads(thread("t1", 10, 0))
	src.addMessages(message("t1", "m1", 10))
	e := newEngine(t, src)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Select(ctx, "t1"))

	sent := message("t1", "m2", 20)
	sent.SenderID, sent.ReceiverID = "alice", "bob"
	e.ApplyMessage(sent)
	e.ApplyMessage(message("other", "x", 30))
	assert.Equal(t, []string{"m1", "m2"}, msgIDs(e.Snapshot().Messages))

	src.addMessages(message("t1", "m0", 15))
	require.NoError(t, e.Select(ctx, "t1"))
	assert.Equal(t, []string{"m1", "m0", "m2"}, msgIDs(e.Snapshot().Messages))

	src.addMessages(sent)
	require.NoError(t, e.Select(ctx, "t1"))
	assert.Equal(t, []string{"m1", "m0", "m2"}, msgIDs(e.Snapshot().Messages))
	e.mu.Lock()
	assert.Empty(t, e.msgOverlay)
	e.mu.Unlock()
}

func TestTransientFailureKeepsLastGoodState(t *testing.T) {
	src := newFakeSource()
	src.setThreads(thread("t1", 10, 2))
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		clockMu.Lock()
		now = now.Add(d)
		clockMu.Unlock()
	}
	e := newEngine(t, src, WithClock(clock), WithStaleAfter(time.Minute))
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	src.setErr(apperr.Transient("list_threads", errors.New("connection refused")))
	err := e.RefreshThreads(ctx)
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))

	v := e.Snapshot()
	assert.Equal(t, []string{"t1"}, ids(v.Threads))
	assert.Equal(t, 2, v.Unread)
	assert.Equal(t, 1, v.Status.Failures)
	assert.False(t, v.Status.Stale)

	advance(2 * time.Minute)
	_ = e.RefreshThreads(ctx)
	v = e.Snapshot()
	assert.Equal(t, 2, v.Status.Failures)
	assert.True(t, v.Status.Stale)
	assert.Contains(t, v.Status.LastError, "connection refused")

	src.setErr(nil)
	require.NoError(t, e.RefreshThreads(ctx))
	v = e.Snapshot()
	assert.Zero(t, v.Status.Failures)
	assert.False(t, v.Status.Stale)
	assert.Equal(t, now, v.Status.LastSuccess)
}

func TestStartSurvivesFailingInitialFetch(t *testing.T) {
	src := newFakeSource()
	src.setErr(apperr.Transient("list_threads", errors.New("down")))
	e := newEngine(t, src)
	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, 1, e.Snapshot().Status.Failures)
}

func TestPollDoesNotStackWhileInFlight(t *testing.T) {
	src := newFakeSource()
	src.setThreads(thread("t1", 10, 0))
	gate := src.gate("threads")
	e := newEngine(t, src)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- e.RefreshThreads(ctx) }()
	require.Equal(t, "threads", <-src.entered)

	// a poll tick while the fetch is outstanding is skipped
	require.NoError(t, e.refreshThreads(ctx, false))
	assert.Equal(t, 1, src.count("threads"))

	// an explicit refresh queues exactly one follow-up fetch
	require.NoError(t, e.RefreshThreads(ctx))
	require.NoError(t, e.RefreshThreads(ctx))
	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, 2, src.count("threads"))
}

func TestSupersededMessageFetchIsDiscarded(t *testing.T) {
	src := newFakeSource()
	src.setThreads(thread("t1", 10, 0), thread("t2", 20, 0))
	src.addMessages(message("t1", "a1", 10), message("t2", "b1", 20))
	e := newEngine(t, src)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	gate := src.gate("t1")
	done := make(chan error, 1)
	go func() { done <- e.Select(ctx, "t1") }()
	for r := range src.entered {
		if r == "t1" {
			break
		}
	}

	require.NoError(t, e.Select(ctx, "t2"))
	close(gate)
	require.NoError(t, <-done)

	v := e.Snapshot()
	assert.Equal(t, "t2", v.SelectedID)
	assert.Equal(t, []string{"b1"}, msgIDs(v.Messages))
}

func TestLoadEarlierPagesBackwards(t *testing.T) {
	src := newFakeSource()
	src.setThreads(thread("t1", 50, 0))
	for i := int64(1); i <= 5; i++ {
		src.addMessages(message("t1", "m"+string(rune('0'+i)), i*10))
	}
	e := newEngine(t, src, WithPageSize(2))
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Select(ctx, "t1"))

	v := e.Snapshot()
	assert.Equal(t, []string{"m4", "m5"}, msgIDs(v.Messages))
	assert.True(t, v.HasMore)

	require.NoError(t, e.LoadEarlier(ctx))
	assert.Equal(t, []string{"m2", "m3", "m4", "m5"}, msgIDs(e.Snapshot().Messages))

	require.NoError(t, e.LoadEarlier(ctx))
	v = e.Snapshot()
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, msgIDs(v.Messages))
	assert.False(t, v.HasMore)
	n := src.count("t1")
	require.NoError(t, e.LoadEarlier(ctx))
	assert.Equal(t, n, src.count("t1"), "nothing older to load")

	// a poll after new activity keeps the history already loaded
	src.addMessages(message("t1", "m6", 60))
	e.poll()
	v = e.Snapshot()
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5", "m6"}, msgIDs(v.Messages))
	assert.False(t, v.HasMore)
}

func TestStopHaltsPolling(t *testing.T) {
	src := newFakeSource()
	src.setThreads(thread("t1", 10, 0))
	e := New(src, "alice", WithInterval(5*time.Millisecond))
	require.NoError(t, e.Start(context.Background()))

	require.Eventually(t, func() bool { return src.count("threads") >= 3 }, time.Second, time.Millisecond)
	e.Stop()
	n := src.count("threads")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, src.count("threads"))
}

func TestOptimisticReplyDroppedWhenThreadDeleted(t *testing.T) {
	src := newFakeSource()
	src.setThreads(thread("t1", 10, 0), thread("t2", 20, 0))
	e := newEngine(t, src)
	ctx := context.Background()
	require.NoError(t, e.RefreshThreads(ctx))

	// local reply to t1 the server has not served yet
	e.ApplyThread(thread("t1", 50, 0))
	assert.Equal(t, []string{"t1", "t2"}, ids(e.Snapshot().Threads))

	// the counterpart deletes t1 before the next poll
	src.setThreads(thread("t2", 20, 0))
	require.NoError(t, e.RefreshThreads(ctx))
	assert.Equal(t, []string{"t2"}, ids(e.Snapshot().Threads))
}
