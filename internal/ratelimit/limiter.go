package ratelimit

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rivalapexmediation/auction/internal/observability"
)

// Config holds the per-adapter rate limit.
type Config struct {
	Capacity   int  // burst allowance
	RefillRate int  // tokens per second
	Enabled    bool // when false every request is allowed
}

// AdapterLimiter keeps one lazily created token bucket per adapter ID.
//
//	limiter := NewAdapterLimiter(Config{Capacity: 200, RefillRate: 100, Enabled: true}, metrics)
//	if !limiter.Allow("applovin") {
//	    // skip the adapter for this auction
//	}
type AdapterLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*TokenBucket
	config  Config
	metrics observability.MetricsRegistry
	now     func() time.Time
}

// NewAdapterLimiter creates a limiter. A nil metrics registry records nothing.
func NewAdapterLimiter(config Config, metrics observability.MetricsRegistry) *AdapterLimiter {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &AdapterLimiter{
		buckets: make(map[string]*TokenBucket),
		config:  config,
		metrics: metrics,
		now:     time.Now,
	}
}

// Allow reports whether a bid request to adapterID may be sent now.
func (l *AdapterLimiter) Allow(adapterID string) bool {
	if l == nil || !l.config.Enabled {
		return true
	}
	l.metrics.IncrementRateLimitRequests(adapterID)

	allowed := l.bucket(adapterID).Allow()
	if !allowed {
		l.metrics.IncrementRateLimitHits(adapterID)
	}
	return allowed
}

func (l *AdapterLimiter) bucket(adapterID string) *TokenBucket {
	l.mu.RLock()
	b, ok := l.buckets[adapterID]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[adapterID]; !ok {
		b = newTokenBucket(l.config.Capacity, l.config.RefillRate, l.now)
		l.buckets[adapterID] = b
	}
	return b
}

// Stats describes rate limiting activity for one adapter.
type Stats struct {
	AdapterID string  `json:"adapter_id"`
	Hits      int64   `json:"hits"`
	Total     int64   `json:"total"`
	HitRate   float64 `json:"hit_rate"`
}

func (s Stats) String() string {
	return fmt.Sprintf("adapter %s: %d/%d limited (%.2f%%)", s.AdapterID, s.Hits, s.Total, s.HitRate*100)
}

// Stats returns a snapshot for every adapter seen so far, sorted by adapter ID.
func (l *AdapterLimiter) Stats() []Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Stats, 0, len(l.buckets))
	for id, b := range l.buckets {
		hits, total := b.Stats()
		s := Stats{AdapterID: id, Hits: hits, Total: total}
		if total > 0 {
			s.HitRate = float64(hits) / float64(total)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdapterID < out[j].AdapterID })
	return out
}
