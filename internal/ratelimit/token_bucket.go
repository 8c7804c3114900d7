// Package ratelimit provides the deterministic token bucket backing the
// per-connection inbound signaling message limit.
package ratelimit

import (
	"sync"
	"time"
)

// One token is 1e9 nano-tokens, so a rate of N tokens/sec refills exactly N
// nano-tokens per elapsed nanosecond. Fixed-point avoids float drift in
// long-lived connections.
const nanosPerToken = int64(time.Second)

// TokenBucket refills at an integer rate (tokens/sec) against an injected
// Clock so tests stay deterministic.
type TokenBucket struct {
	mu sync.Mutex

	clock    Clock
	capacity int64 // tokens
	rate     int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      rate,
		available: capacity * nanosPerToken,
		last:      clock.Now(),
	}
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	cost := tokens * nanosPerToken
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Clock went backwards; re-anchor without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now

	if elapsed <= 0 || b.rate <= 0 || b.capacity <= 0 {
		return
	}

	max := b.capacity * nanosPerToken
	need := max - b.available
	if need <= 0 {
		b.available = max
		return
	}
	// If enough time passed to fill the bucket, clamp instead of risking
	// elapsed*rate overflow.
	if elapsed >= need/b.rate {
		b.available = max
		return
	}
	b.available += elapsed * b.rate
}
