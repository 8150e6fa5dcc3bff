// Package ratelimit throttles outbound bid requests per demand adapter.
//
// Each adapter gets a token bucket: it absorbs bursts up to the bucket
// capacity and sustains the refill rate afterwards, so one misbehaving
// waterfall cannot flood a partner.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a thread-safe token bucket. It starts full.
type TokenBucket struct {
	capacity   int
	tokens     int
	refillRate int // tokens per second
	lastRefill time.Time
	now        func() time.Time

	mu       sync.Mutex
	hits     int64
	requests int64
}

// NewTokenBucket returns a full bucket holding capacity tokens and refilling
// at refillRate tokens per second.
func NewTokenBucket(capacity, refillRate int) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity, refillRate int, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

// Allow consumes one token. It reports false when the bucket is empty.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.requests++
	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	tb.hits++
	return false
}

// refill adds whole tokens for the time elapsed since the last refill.
// Callers hold tb.mu.
func (tb *TokenBucket) refill() {
	now := tb.now()
	add := int(now.Sub(tb.lastRefill).Seconds() * float64(tb.refillRate))
	if add > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+add)
		tb.lastRefill = now
	}
}

// Stats returns the number of rejected requests and the total seen.
func (tb *TokenBucket) Stats() (hits, total int64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.hits, tb.requests
}
