package dualwrite

import "sync"

// pathLocks serializes writes per document path. Entries are reference
// counted and removed once the last holder releases, so the map does not
// grow with the number of distinct paths ever written.
type pathLocks struct {
	mu      sync.Mutex
	entries map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{entries: make(map[string]*pathLock)}
}

func (l *pathLocks) lock(key string) (unlock func()) {
	l.mu.Lock()
	e := l.entries[key]
	if e == nil {
		e = &pathLock{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}
