package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// per-key rate limiter pool
type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

type limiterPool struct {
	mu            sync.Mutex
	m             map[string]*limiterEntry
	rps           float64
	burst         int
	now           func() time.Time
	startCleanup  sync.Once
	stopOnce      sync.Once
	ttl           time.Duration
	cleanupPeriod time.Duration
	stopCh        chan struct{}
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	return &limiterPool{
		rps:           rps,
		burst:         burst,
		now:           time.Now,
		ttl:           10 * time.Minute,
		cleanupPeriod: time.Minute,
		stopCh:        make(chan struct{}),
	}
}

// get limiter for key, create if missing; start cleanup once
func (p *limiterPool) get(key string) *rate.Limiter {
	p.startCleanup.Do(func() { go p.cleanupLoop() })

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*limiterEntry)
	}
	if e, ok := p.m[key]; ok {
		e.lastSeen = p.now()
		return e.l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: p.now()}
	return l
}

// Allow reports whether a request for key fits its budget. A non-positive
// rps disables limiting.
func (p *limiterPool) Allow(key string) bool {
	if p.rps <= 0 {
		return true
	}
	return p.get(key).Allow()
}

func (p *limiterPool) Shutdown() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// evict drops limiters unused for longer than ttl.
func (p *limiterPool) evict() {
	cutoff := p.now().Add(-p.ttl)
	p.mu.Lock()
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
		}
	}
	p.mu.Unlock()
}

func (p *limiterPool) cleanupLoop() {
	ticker := time.NewTicker(p.cleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.evict()
		case <-p.stopCh:
			return
		}
	}
}
