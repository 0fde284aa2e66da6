package quiz

import (
	"context"
	"sync"
	"time"
)

// Locker serialises finalize per session. The store's completed=false guard
// already makes finalize single-shot; the lock keeps concurrent callers from
// both reading answers and scoring before one of them commits.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

type localLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewLocalLocker is the in-process Locker used when no Redis is configured.
func NewLocalLocker() Locker {
	return &localLocker{held: map[string]time.Time{}}
}

func (l *localLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, false, nil
	}
	exp := now.Add(ttl)
	l.held[key] = exp
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(exp) {
			delete(l.held, key)
		}
	}, true, nil
}
