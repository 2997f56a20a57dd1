package retention

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iwoork/homeforpup-sub006/pkg/config"
	"github.com/iwoork/homeforpup-sub006/pkg/models"
	"github.com/iwoork/homeforpup-sub006/pkg/repository"
	"github.com/iwoork/homeforpup-sub006/pkg/store"
	"github.com/iwoork/homeforpup-sub006/pkg/store/records"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	repo  *repository.Repository
	clock atomic.Int64 // offset from epoch in seconds
}

func (h *harness) now() time.Time {
	return epoch.Add(time.Duration(h.clock.Load()) * time.Second)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	h := &harness{}
	h.repo = repository.New(db, repository.WithClock(func() time.Time {
		h.clock.Add(1)
		return h.now()
	}))
	return h
}

func (h *harness) thread(t *testing.T, sender, receiver string) models.Thread {
	t.Helper()
	th, _, err := h.repo.CreateThread(context.Background(), repository.NewThread{
		SenderID: sender, SenderName: sender, ReceiverID: receiver, ReceiverName: receiver,
		Content: "hello",
	})
	require.NoError(t, err)
	return th
}

func retentionConfig() config.RetentionConfig {
	return config.RetentionConfig{
		Enabled: true, Cron: "0 3 * * *", Period: "30d",
		BatchSize: 1, LockTTL: config.Duration(time.Minute),
	}
}

func TestRunPurgesIdleThreads(t *testing.T) {
	cases := []struct {
		name       string
		dryRun     bool
		repair     bool
		wantPurged int
		wantLeft   int
	}{
		{"purge", false, false, 2, 1},
		{"purge and reindex", false, true, 2, 1},
		{"dry run", true, false, 0, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			old1 := h.thread(t, "alice", "bob")
			old2 := h.thread(t, "carol", "bob")
			h.clock.Add(int64(40 * 24 * time.Hour / time.Second))
			fresh := h.thread(t, "alice", "dave")

			cfg := retentionConfig()
			cfg.DryRun = tc.dryRun
			cfg.RepairProjections = tc.repair
			m := New(cfg, h.repo, t.TempDir())
			m.now = h.now

			rep, err := m.RunNow(context.Background())
			require.NoError(t, err)
			assert.False(t, rep.Skipped)
			assert.Equal(t, 3, rep.Scanned)
			assert.Equal(t, 2, rep.Eligible)
			assert.Equal(t, tc.wantPurged, rep.Purged)
			if tc.repair {
				assert.Equal(t, 1, rep.Reindexed)
			}

			threads, err := h.repo.ListThreadsForUser(context.Background(), "bob")
			require.NoError(t, err)
			if tc.dryRun {
				assert.Len(t, threads, 2)
			} else {
				assert.Empty(t, threads)
				_, err := h.repo.GetThread(context.Background(), old1.ID)
				assert.Error(t, err)
				_, err = h.repo.GetThread(context.Background(), old2.ID)
				assert.Error(t, err)
			}
			_, err = h.repo.GetThread(context.Background(), fresh.ID)
			assert.NoError(t, err)

			var left int
			require.NoError(t, h.repo.Scan(context.Background(), func(rec records.StoredRecord) error {
				if _, ok := rec.(records.ThreadRecord); ok {
					left++
				}
				return nil
			}))
			assert.Equal(t, tc.wantLeft, left)
		})
	}
}

func TestRunSkipsWhenLeaseHeld(t *testing.T) {
	h := newHarness(t)
	h.thread(t, "alice", "bob")
	dir := t.TempDir()

	other := newFileLease(dir)
	other.now = h.now
	ok, err := other.Acquire("other-node", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	m := New(retentionConfig(), h.repo, dir)
	m.now = h.now
	rep, err := m.RunNow(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
	assert.Zero(t, rep.Scanned)
}

type blockingStore struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) Scan(ctx context.Context, fn func(records.StoredRecord) error) error {
	close(b.entered)
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (b *blockingStore) DeleteThread(context.Context, string) error { return nil }

func (b *blockingStore) RebuildProjections(context.Context) (int, error) { return 0, nil }

func TestRunNowRejectsOverlap(t *testing.T) {
	bs := &blockingStore{entered: make(chan struct{}), release: make(chan struct{})}
	m := New(retentionConfig(), bs, t.TempDir())

	done := make(chan error, 1)
	go func() {
		_, err := m.RunNow(context.Background())
		done <- err
	}()
	<-bs.entered

	_, err := m.RunNow(context.Background())
	assert.ErrorIs(t, err, ErrRunning)

	close(bs.release)
	require.NoError(t, <-done)
}

func TestStart(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*config.RetentionConfig)
		wantErr bool
	}{
		{"disabled", func(c *config.RetentionConfig) { c.Enabled = false; c.Cron = "nonsense" }, false},
		{"bad cron", func(c *config.RetentionConfig) { c.Cron = "nonsense" }, true},
		{"bad period", func(c *config.RetentionConfig) { c.Period = "forever" }, true},
		{"valid", func(*config.RetentionConfig) {}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := retentionConfig()
			tc.mutate(&cfg)
			m := New(cfg, &blockingStore{}, t.TempDir())
			err := m.Start(context.Background())
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			m.Stop()
			m.Stop()
		})
	}
}

func TestFileLease(t *testing.T) {
	dir := t.TempDir()
	now := epoch
	l := newFileLease(dir)
	l.now = func() time.Time { return now }

	ok, err := l.Acquire("a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire("b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lease must not be taken")

	assert.Error(t, l.Renew("b", time.Minute))
	require.NoError(t, l.Renew("a", time.Minute))

	now = now.Add(2 * time.Minute)
	ok, err = l.Acquire("b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease is replaced")

	assert.Error(t, l.Release("a"))
	require.NoError(t, l.Release("b"))

	ok, err = l.Acquire("a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
