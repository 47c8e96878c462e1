// Package ratelimit bounds how fast clients may publish signaling payloads.
package ratelimit

import (
	"sync"
	"time"

	"github.com/peercam/peercam/internal/store"
)

// nanoPerToken is the fixed-point scale: one token is 1e9 nano-tokens, so
// integer fill rates refill exactly without float rounding.
const nanoPerToken int64 = int64(time.Second)

// TokenBucket refills at fillRate tokens/sec up to capacity, using an
// injected clock for deterministic tests.
type TokenBucket struct {
	mu sync.Mutex

	clock    store.Clock
	capacity int64 // tokens
	fillRate int64 // tokens/sec

	availableNano int64
	last          time.Time
}

func NewTokenBucket(clock store.Clock, capacity, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = store.RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if fillRate < 0 {
		fillRate = 0
	}
	return &TokenBucket{
		clock:         clock,
		capacity:      capacity,
		fillRate:      fillRate,
		availableNano: capacity * nanoPerToken,
		last:          clock.Now(),
	}
}

// Allow consumes one token if available.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.availableNano < nanoPerToken {
		return false
	}
	b.availableNano -= nanoPerToken
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Clock went backwards; re-anchor without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last)
	b.last = now

	b.availableNano += int64(elapsed) * b.fillRate
	if max := b.capacity * nanoPerToken; b.availableNano > max {
		b.availableNano = max
	}
}
