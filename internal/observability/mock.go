package observability

import (
	"sync"
	"time"
)

var _ MetricsRegistry = (*MockMetricsRegistry)(nil)

// MockMetricsRegistry records calls so tests can assert on emitted metrics.
type MockMetricsRegistry struct {
	mu sync.Mutex

	NoFills         int
	AttemptResults  map[string]int // keyed by "mode/result"
	Outcomes        map[string]int // keyed by "mode/outcome"
	BackoffDelays   []time.Duration
	BidRequests     map[string]int // keyed by "adapter/status"
	RateLimitHits   map[string]int
	AnalyticsErrors int
	LastStats       WaterfallStatsSample
}

// NewMockMetricsRegistry returns an empty recording registry.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{
		AttemptResults: make(map[string]int),
		Outcomes:       make(map[string]int),
		BidRequests:    make(map[string]int),
		RateLimitHits:  make(map[string]int),
	}
}

func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}

func (m *MockMetricsRegistry) IncrementNoFills() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NoFills++
}

func (m *MockMetricsRegistry) IncrementWaterfallAttempts(mode, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AttemptResults[mode+"/"+result]++
}

func (m *MockMetricsRegistry) RecordWaterfallOutcome(mode, outcome string, attempts int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outcomes[mode+"/"+outcome]++
}

func (m *MockMetricsRegistry) RecordBackoffDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BackoffDelays = append(m.BackoffDelays, delay)
}

func (m *MockMetricsRegistry) SetWaterfallStats(stats WaterfallStatsSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastStats = stats
}

func (m *MockMetricsRegistry) IncrementBidRequests(adapter, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BidRequests[adapter+"/"+status]++
}

func (m *MockMetricsRegistry) RecordBidLatency(adapter string, duration time.Duration) {}
func (m *MockMetricsRegistry) IncrementRateLimitRequests(adapter string)               {}

func (m *MockMetricsRegistry) IncrementRateLimitHits(adapter string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RateLimitHits[adapter]++
}

func (m *MockMetricsRegistry) IncrementAnalyticsErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AnalyticsErrors++
}

// AttemptCount returns the number of attempts recorded for mode and result.
func (m *MockMetricsRegistry) AttemptCount(mode, result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.AttemptResults[mode+"/"+result]
}

// OutcomeCount returns the number of orchestrations recorded for mode and outcome.
func (m *MockMetricsRegistry) OutcomeCount(mode, outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Outcomes[mode+"/"+outcome]
}

// Delays returns a copy of the recorded backoff delays.
func (m *MockMetricsRegistry) Delays() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.BackoffDelays...)
}
