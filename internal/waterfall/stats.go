package waterfall

import (
	"sync"
	"time"
)

// Outcome classes used by Classify.
const (
	OutcomeFirstAttempt = "first_attempt"
	OutcomeFallback     = "fallback"
	OutcomeFailed       = "failed"
)

// Stats aggregates waterfall results over the life of a StatsAggregator.
type Stats struct {
	TotalRequests          int64   `json:"total_requests"`
	SuccessfulFirstAttempt int64   `json:"successful_first_attempt"`
	SuccessfulWithFallback int64   `json:"successful_with_fallback"`
	FailedAllAttempts      int64   `json:"failed_all_attempts"`
	AverageAttempts        float64 `json:"average_attempts"`
	// AverageDuration is the running mean of TotalDuration in milliseconds.
	AverageDuration float64 `json:"average_duration_ms"`
}

// Classify places a result in exactly one outcome class.
func Classify(r *Result) string {
	switch {
	case !r.Success:
		return OutcomeFailed
	case r.FallbackUsed:
		return OutcomeFallback
	default:
		return OutcomeFirstAttempt
	}
}

// StatsAggregator keeps running waterfall statistics. All methods are safe for
// concurrent use.
type StatsAggregator struct {
	mu    sync.Mutex
	stats Stats
}

// NewStatsAggregator returns an aggregator with zeroed counters.
func NewStatsAggregator() *StatsAggregator {
	return &StatsAggregator{}
}

// Update folds r into the running statistics.
func (a *StatsAggregator) Update(r *Result) {
	if r == nil {
		return
	}
	attempts := float64(len(r.Attempts))
	durationMS := float64(r.TotalDuration) / float64(time.Millisecond)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.TotalRequests++
	switch Classify(r) {
	case OutcomeFirstAttempt:
		a.stats.SuccessfulFirstAttempt++
	case OutcomeFallback:
		a.stats.SuccessfulWithFallback++
	default:
		a.stats.FailedAllAttempts++
	}

	n := float64(a.stats.TotalRequests)
	a.stats.AverageAttempts = (a.stats.AverageAttempts*(n-1) + attempts) / n
	a.stats.AverageDuration = (a.stats.AverageDuration*(n-1) + durationMS) / n
}

// Snapshot returns a copy of the current statistics.
func (a *StatsAggregator) Snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Reset zeroes every counter and average.
func (a *StatsAggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats = Stats{}
}
