package repository

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// threadLocks hands out one mutex per thread id and forgets it once no
// caller holds or waits on it.
type threadLocks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

func newThreadLocks() *threadLocks {
	return &threadLocks{m: make(map[string]*lockEntry)}
}

// lock blocks until the thread's mutex is held and returns its release func.
func (l *threadLocks) lock(threadID string) func() {
	l.mu.Lock()
	e, ok := l.m[threadID]
	if !ok {
		e = &lockEntry{}
		l.m[threadID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, threadID)
		}
		l.mu.Unlock()
	}
}

func (l *threadLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
