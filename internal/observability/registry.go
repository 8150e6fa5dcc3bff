package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics
// so components never touch the global Prometheus collectors directly.
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Mediation response metrics
	IncrementNoFills()

	// Waterfall metrics
	IncrementWaterfallAttempts(mode, result string)
	RecordWaterfallOutcome(mode, outcome string, attempts int, duration time.Duration)
	RecordBackoffDelay(delay time.Duration)
	SetWaterfallStats(stats WaterfallStatsSample)

	// Adapter bid metrics
	IncrementBidRequests(adapter, status string)
	RecordBidLatency(adapter string, duration time.Duration)

	// Rate limiting metrics
	IncrementRateLimitRequests(adapter string)
	IncrementRateLimitHits(adapter string)

	// Analytics metrics
	IncrementAnalyticsErrors()
}

// WaterfallStatsSample is a point-in-time copy of the running waterfall
// statistics exported as gauges.
type WaterfallStatsSample struct {
	TotalRequests          int64
	SuccessfulFirstAttempt int64
	SuccessfulWithFallback int64
	FailedAllAttempts      int64
	AverageAttempts        float64
	AverageDurationMS      float64
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus collectors.
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

// HTTP Request metrics
func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementNoFills() {
	NoFillCount.Inc()
}

// Waterfall metrics
func (r *PrometheusRegistry) IncrementWaterfallAttempts(mode, result string) {
	WaterfallAttempts.WithLabelValues(mode, result).Inc()
}

func (r *PrometheusRegistry) RecordWaterfallOutcome(mode, outcome string, attempts int, duration time.Duration) {
	WaterfallOutcomes.WithLabelValues(mode, outcome).Inc()
	WaterfallAttemptsPerRequest.WithLabelValues(mode).Observe(float64(attempts))
	WaterfallDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) RecordBackoffDelay(delay time.Duration) {
	WaterfallBackoff.Observe(delay.Seconds())
}

func (r *PrometheusRegistry) SetWaterfallStats(s WaterfallStatsSample) {
	WaterfallStatsGauge.WithLabelValues("total_requests").Set(float64(s.TotalRequests))
	WaterfallStatsGauge.WithLabelValues("successful_first_attempt").Set(float64(s.SuccessfulFirstAttempt))
	WaterfallStatsGauge.WithLabelValues("successful_with_fallback").Set(float64(s.SuccessfulWithFallback))
	WaterfallStatsGauge.WithLabelValues("failed_all_attempts").Set(float64(s.FailedAllAttempts))
	WaterfallStatsGauge.WithLabelValues("average_attempts").Set(s.AverageAttempts)
	WaterfallStatsGauge.WithLabelValues("average_duration_ms").Set(s.AverageDurationMS)
}

// Adapter bid metrics
func (r *PrometheusRegistry) IncrementBidRequests(adapter, status string) {
	BidRequests.WithLabelValues(adapter, status).Inc()
}

func (r *PrometheusRegistry) RecordBidLatency(adapter string, duration time.Duration) {
	BidLatency.WithLabelValues(adapter).Observe(duration.Seconds())
}

// Rate limiting metrics
func (r *PrometheusRegistry) IncrementRateLimitRequests(adapter string) {
	RateLimitRequests.WithLabelValues(adapter).Inc()
}

func (r *PrometheusRegistry) IncrementRateLimitHits(adapter string) {
	RateLimitHits.WithLabelValues(adapter).Inc()
}

func (r *PrometheusRegistry) IncrementAnalyticsErrors() {
	AnalyticsErrors.Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementNoFills()                                                    {}
func (r *NoOpRegistry) IncrementWaterfallAttempts(mode, result string)                       {}
func (r *NoOpRegistry) RecordWaterfallOutcome(mode, outcome string, attempts int, duration time.Duration) {
}
func (r *NoOpRegistry) RecordBackoffDelay(delay time.Duration)                  {}
func (r *NoOpRegistry) SetWaterfallStats(stats WaterfallStatsSample)            {}
func (r *NoOpRegistry) IncrementBidRequests(adapter, status string)             {}
func (r *NoOpRegistry) RecordBidLatency(adapter string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementRateLimitRequests(adapter string)               {}
func (r *NoOpRegistry) IncrementRateLimitHits(adapter string)                   {}
func (r *NoOpRegistry) IncrementAnalyticsErrors()                               {}
