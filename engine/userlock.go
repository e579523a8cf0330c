package engine

import "sync"

// userLocks serializes writes per user id. Locks are created on first
// use and kept for the engine's lifetime; the user population is
// bounded, so entries are never reaped.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the per-user mutex and returns its release func.
func (l *userLocks) acquire(userID string) func() {
	l.mu.Lock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
