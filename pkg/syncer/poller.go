package syncer

import (
	"sync"
	"time"
)

// Poller runs fn on a fixed interval between Start and Stop. It owns its
// ticker; nothing keeps running once Stop returns.
type Poller struct {
	interval time.Duration
	fn       func()

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewPoller(interval time.Duration, fn func()) *Poller {
	return &Poller{interval: interval, fn: fn}
}

// Start launches the loop. It reports false if the poller already runs.
func (p *Poller) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return false
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop(p.stop, p.done)
	return true
}

// Stop ends the loop and waits for an in-progress tick to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

func (p *Poller) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			select {
			case <-stop:
				return
			default:
			}
			p.fn()
		}
	}
}
