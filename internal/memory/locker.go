package memory

import (
	"context"
	"sync"
)

// SessionLocker hands out exclusive access to one session at a time. The
// returned function releases it and must be called exactly once.
type SessionLocker interface {
	Lock(ctx context.Context, sessionID string) (func(), error)
}

// Locker serializes work within one session while letting different
// sessions proceed in parallel within this process. Idle entries are
// dropped on release.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	ch      chan struct{}
	waiters int
}

func NewLocker() *Locker {
	return &Locker{locks: map[string]*sessionLock{}}
}

// Lock blocks until the session is free or ctx is done. The returned
// function releases the session and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[sessionID]
	if !ok {
		entry = &sessionLock{ch: make(chan struct{}, 1)}
		l.locks[sessionID] = entry
	}
	entry.waiters++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(sessionID, entry, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(sessionID, entry, true) })
	}, nil
}

func (l *Locker) release(sessionID string, entry *sessionLock, held bool) {
	if held {
		<-entry.ch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.waiters--
	if entry.waiters == 0 {
		delete(l.locks, sessionID)
	}
}

func (l *Locker) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
