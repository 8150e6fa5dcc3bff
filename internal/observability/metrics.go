package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediation_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediation_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// orchestrations that ended without a winning bid
	NoFillCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mediation_nofill_total",
			Help: "Total mediation requests answered with no fill",
		},
	)

	// auction attempts labelled by mode and result
	WaterfallAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediation_waterfall_attempts_total",
			Help: "Total auction attempts made by the waterfall orchestrator",
		},
		[]string{"mode", "result"},
	)

	// completed orchestrations labelled by mode and outcome class
	WaterfallOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediation_waterfall_outcomes_total",
			Help: "Total completed waterfall orchestrations",
		},
		[]string{"mode", "outcome"},
	)

	// attempts used per orchestration
	WaterfallAttemptsPerRequest = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediation_waterfall_attempts_per_request",
			Help:    "Number of auction attempts per orchestration",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
		[]string{"mode"},
	)

	// end-to-end orchestration latency
	WaterfallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediation_waterfall_duration_seconds",
			Help:    "Duration of waterfall orchestrations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// delay applied before fallback attempts
	WaterfallBackoff = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediation_waterfall_backoff_seconds",
			Help:    "Backoff delay applied before fallback attempts",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 8),
		},
	)

	// running aggregate mirrored from the stats aggregator
	WaterfallStatsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediation_waterfall_stats",
			Help: "Running waterfall statistics since the last reset",
		},
		[]string{"stat"},
	)

	// bid requests sent to adapters labelled by outcome
	BidRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediation_bid_requests_total",
			Help: "Total bid requests sent to adapters",
		},
		[]string{"adapter", "status"},
	)

	// adapter response latency
	BidLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediation_bid_duration_seconds",
			Help:    "Duration of adapter bid requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"adapter"},
	)

	// rate limit hits per adapter
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediation_ratelimit_hits_total",
			Help: "Total rate limit hits per adapter",
		},
		[]string{"adapter"},
	)

	// rate limit checks per adapter
	RateLimitRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediation_ratelimit_requests_total",
			Help: "Total rate limit checks per adapter",
		},
		[]string{"adapter"},
	)

	// failures writing waterfall events to analytics
	AnalyticsErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mediation_analytics_errors_total",
			Help: "Total analytics write errors",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		NoFillCount,
		WaterfallAttempts,
		WaterfallOutcomes,
		WaterfallAttemptsPerRequest,
		WaterfallDuration,
		WaterfallBackoff,
		WaterfallStatsGauge,
		BidRequests,
		BidLatency,
		RateLimitHits,
		RateLimitRequests,
		AnalyticsErrors,
	)
}
