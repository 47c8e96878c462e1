package ratelimit

import (
	"sync"
	"time"

	"github.com/peercam/peercam/internal/store"
)

// entryIdleTTL is how long a session's bucket survives without traffic
// before it is dropped.
const entryIdleTTL = 5 * time.Minute

// PublishLimiter applies a per-session token bucket to publish requests.
// Idle entries are evicted opportunistically so the map tracks roughly the
// set of live sessions.
type PublishLimiter struct {
	clock    store.Clock
	fillRate int64
	burst    int64

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

type limiterEntry struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// NewPublishLimiter limits each session to fillRate publishes per second
// with the given burst.
func NewPublishLimiter(clock store.Clock, fillRate, burst int64) *PublishLimiter {
	if clock == nil {
		clock = store.RealClock{}
	}
	return &PublishLimiter{
		clock:    clock,
		fillRate: fillRate,
		burst:    burst,
		entries:  make(map[string]*limiterEntry),
	}
}

// Allow reports whether one more publish for the session fits its budget.
func (l *PublishLimiter) Allow(sessionID string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	e, ok := l.entries[sessionID]
	if !ok {
		e = &limiterEntry{bucket: NewTokenBucket(l.clock, l.burst, l.fillRate)}
		l.entries[sessionID] = e
	}
	// Touch before evicting so the entry handling this publish never looks
	// idle, even on first insert.
	e.lastSeen = now
	if !ok {
		l.evictIdleLocked(now)
	}
	l.mu.Unlock()

	return e.bucket.Allow()
}

// Sessions reports how many sessions currently hold a bucket.
func (l *PublishLimiter) Sessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *PublishLimiter) evictIdleLocked(now time.Time) {
	for id, e := range l.entries {
		if now.Sub(e.lastSeen) > entryIdleTTL {
			delete(l.entries, id)
		}
	}
}
