// Package sensor watches disk usage of the data directory.
package sensor

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/iwoork/homeforpup-sub006/pkg/logger"
)

type Config struct {
	// Path is the directory whose filesystem is measured.
	Path         string
	PollInterval time.Duration
	// HighPct raises the disk alert; it clears once usage falls under LowPct.
	HighPct int
	LowPct  int
}

type Sensor struct {
	cfg      Config
	statfs   func(path string) (total, avail uint64, err error)
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu        sync.Mutex
	usedPct   float64
	availB    uint64
	diskAlert bool
	lastErr   error
}

func New(cfg Config) *Sensor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.HighPct <= 0 {
		cfg.HighPct = 95
	}
	if cfg.LowPct <= 0 || cfg.LowPct > cfg.HighPct {
		cfg.LowPct = cfg.HighPct - 5
	}
	return &Sensor{cfg: cfg, statfs: statfs, stopCh: make(chan struct{})}
}

func statfs(path string) (uint64, uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	return st.Blocks * uint64(st.Bsize), st.Bavail * uint64(st.Bsize), nil
}

// Start takes one measurement and then polls until Stop.
func (s *Sensor) Start() {
	s.Check()
	s.wg.Add(1)
	go s.run()
}

func (s *Sensor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sensor) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Check()
		case <-s.stopCh:
			return
		}
	}
}

// Check measures once and updates the alert state.
func (s *Sensor) Check() {
	total, avail, err := s.statfs(s.cfg.Path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.lastErr == nil {
			logger.Error("disk_stat_failed", "path", s.cfg.Path, "error", err)
		}
		s.lastErr = err
		return
	}
	s.lastErr = nil
	if total == 0 {
		return
	}
	s.availB = avail
	s.usedPct = float64(total-avail) / float64(total) * 100

	switch {
	case s.usedPct >= float64(s.cfg.HighPct) && !s.diskAlert:
		s.diskAlert = true
		logger.Warn("disk_usage_high", "usage_pct", s.usedPct, "threshold", s.cfg.HighPct, "available", humanize.IBytes(avail))
	case s.usedPct < float64(s.cfg.LowPct) && s.diskAlert:
		s.diskAlert = false
		logger.Info("disk_usage_recovered", "usage_pct", s.usedPct, "threshold", s.cfg.LowPct)
	}
}

// UsedPct is the last measured usage of the filesystem.
func (s *Sensor) UsedPct() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedPct
}

// Ready fails while the disk alert is raised.
func (s *Sensor) Ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.diskAlert {
		return fmt.Errorf("disk usage %.1f%% above %d%% (%s free)", s.usedPct, s.cfg.HighPct, humanize.IBytes(s.availB))
	}
	return nil
}
