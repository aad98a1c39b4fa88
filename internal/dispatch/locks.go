// ABOUTME: Per-application keyed locks serializing mutating tool calls
// ABOUTME: Acquisition retries a bounded number of times, then reports conflict

package dispatch

import (
	"context"
	"sync"
	"time"
)

const (
	lockAttempts = 5
	lockBackoff  = 20 * time.Millisecond
)

// keyedLocks tracks which application IDs currently have a mutating call in
// flight. Locks for different keys never contend with each other beyond the
// map guard.
type keyedLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{held: make(map[string]struct{})}
}

func (l *keyedLocks) tryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

// acquire attempts the lock with linear backoff between attempts. Returns
// false when every attempt found the key held or the context ended.
func (l *keyedLocks) acquire(ctx context.Context, key string) bool {
	for attempt := 0; attempt < lockAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(lockBackoff * time.Duration(attempt)):
			}
		}
		if l.tryAcquire(key) {
			return true
		}
	}
	return false
}

func (l *keyedLocks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
