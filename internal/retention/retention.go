// Package retention purges conversations that have been idle longer than
// the configured period, on a cron schedule.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/cockroachdb/errors"

	"github.com/iwoork/homeforpup-sub006/pkg/config"
	"github.com/iwoork/homeforpup-sub006/pkg/logger"
	"github.com/iwoork/homeforpup-sub006/pkg/store/records"
)

// ErrRunning is returned by RunNow while another run is in progress.
var ErrRunning = errors.New("retention run already in progress")

// Store is what a run needs from the repository.
type Store interface {
	Scan(ctx context.Context, fn func(records.StoredRecord) error) error
	DeleteThread(ctx context.Context, threadID string) error
	RebuildProjections(ctx context.Context) (int, error)
}

type Manager struct {
	cfg   config.RetentionConfig
	store Store
	dir   string
	now   func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a manager that keeps its lease file in dir.
func New(cfg config.RetentionConfig, store Store, dir string) *Manager {
	return &Manager{cfg: cfg, store: store, dir: dir, now: time.Now}
}

// Start runs the schedule in the background until ctx ends or Stop is
// called. It is a no-op when retention is disabled.
func (m *Manager) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		logger.Info("retention_disabled")
		return nil
	}
	if !gronx.IsValid(m.cfg.Cron) {
		return errors.Newf("invalid retention cron %q", m.cfg.Cron)
	}
	if _, err := config.ParsePeriod(m.cfg.Period); err != nil {
		return errors.Wrap(err, "retention period")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	logger.Info("retention_enabled", "cron", m.cfg.Cron, "period", m.cfg.Period, "dry_run", m.cfg.DryRun)
	go m.scheduleLoop(ctx)
	return nil
}

// Stop cancels the schedule and waits for an in-flight run to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) scheduleLoop(ctx context.Context) {
	defer close(m.done)
	for {
		now := m.now()
		next, err := gronx.NextTickAfter(m.cfg.Cron, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", m.cfg.Cron, "error", err)
			if !sleep(ctx, 30*time.Second) {
				return
			}
			continue
		}
		if !sleep(ctx, next.Sub(now)) {
			return
		}
		if _, err := m.RunNow(ctx); err != nil && !errors.Is(err, ErrRunning) {
			logger.Error("retention_run_error", "error", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// RunNow performs one run immediately, regardless of the schedule.
func (m *Manager) RunNow(ctx context.Context) (Report, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return Report{}, ErrRunning
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()
	return m.runOnce(ctx)
}
