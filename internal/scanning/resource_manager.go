package scanning

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/anstrom/portscope/internal/errors"
)

// SessionLimiter bounds how many scan sessions run at once. Sessions are
// tracked by id so that a double Release is harmless.
type SessionLimiter interface {
	// Acquire blocks until a slot is free or ctx is done.
	Acquire(ctx context.Context, sessionID string) error

	// TryAcquire takes a slot without blocking.
	TryAcquire(sessionID string) bool

	// Release returns the slot held by sessionID.
	Release(sessionID string)

	// Active returns the number of sessions holding a slot.
	Active() int

	// Available returns the number of free slots.
	Available() int

	// Close rejects further acquisitions.
	Close() error
}

// FixedSessionLimiter implements SessionLimiter with a fixed number of slots.
type FixedSessionLimiter struct {
	capacity int
	sem      *semaphore.Weighted
	active   map[string]time.Time
	mu       sync.RWMutex
	closed   bool
}

// NewFixedSessionLimiter creates a limiter with capacity slots.
func NewFixedSessionLimiter(capacity int) *FixedSessionLimiter {
	if capacity <= 0 {
		capacity = 1
	}

	return &FixedSessionLimiter{
		capacity: capacity,
		sem:      semaphore.NewWeighted(int64(capacity)),
		active:   make(map[string]time.Time),
	}
}

func (l *FixedSessionLimiter) checkAcquire(sessionID string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return errors.NewScanError(errors.CodeCanceled, "session limiter is closed")
	}
	if _, held := l.active[sessionID]; held {
		return errors.NewScanError(errors.CodeConflict, "session "+sessionID+" already holds a slot")
	}
	return nil
}

func (l *FixedSessionLimiter) track(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		l.sem.Release(1)
		return errors.NewScanError(errors.CodeCanceled, "session limiter is closed")
	}
	if _, held := l.active[sessionID]; held {
		l.sem.Release(1)
		return errors.NewScanError(errors.CodeConflict, "session "+sessionID+" already holds a slot")
	}
	l.active[sessionID] = time.Now()
	return nil
}

// Acquire blocks until a slot is free for sessionID.
func (l *FixedSessionLimiter) Acquire(ctx context.Context, sessionID string) error {
	if err := l.checkAcquire(sessionID); err != nil {
		return err
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	return l.track(sessionID)
}

// TryAcquire takes a slot for sessionID if one is free.
func (l *FixedSessionLimiter) TryAcquire(sessionID string) bool {
	if l.checkAcquire(sessionID) != nil {
		return false
	}
	if !l.sem.TryAcquire(1) {
		return false
	}
	return l.track(sessionID) == nil
}

// Release returns the slot held by sessionID.
func (l *FixedSessionLimiter) Release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.active[sessionID]; held {
		delete(l.active, sessionID)
		l.sem.Release(1)
	}
}

// Active returns the number of sessions holding a slot.
func (l *FixedSessionLimiter) Active() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.active)
}

// Available returns the number of free slots.
func (l *FixedSessionLimiter) Available() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.capacity - len(l.active)
}

// Stale returns the ids of sessions that have held a slot longer than
// maxAge, oldest first.
func (l *FixedSessionLimiter) Stale(maxAge time.Duration) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := time.Now()
	var ids []string
	for id, since := range l.active {
		if now.Sub(since) > maxAge {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return l.active[ids[i]].Before(l.active[ids[j]]) })
	return ids
}

// Close rejects further acquisitions. Sessions already holding a slot keep
// it until they release.
func (l *FixedSessionLimiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	return nil
}

// Stats returns a snapshot suitable for a status endpoint.
func (l *FixedSessionLimiter) Stats() map[string]interface{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return map[string]interface{}{
		"capacity":        l.capacity,
		"active_sessions": len(l.active),
		"available_slots": l.capacity - len(l.active),
		"closed":          l.closed,
	}
}
