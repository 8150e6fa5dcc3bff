// Package api exposes the mediation engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/rivalapexmediation/auction/internal/adapters"
	"github.com/rivalapexmediation/auction/internal/analytics"
	"github.com/rivalapexmediation/auction/internal/auction"
	"github.com/rivalapexmediation/auction/internal/geoip"
	"github.com/rivalapexmediation/auction/internal/middleware"
	"github.com/rivalapexmediation/auction/internal/observability"
	"github.com/rivalapexmediation/auction/internal/ratelimit"
	"github.com/rivalapexmediation/auction/internal/waterfall"
)

var tracer = otel.Tracer("api")

// PerformanceStore tracks per-adapter fill for the smart waterfall.
type PerformanceStore interface {
	Record(ctx context.Context, adapterID string, success bool) error
	SuccessRates(ctx context.Context, ids []string) (map[string]float64, error)
	Performance(ctx context.Context, ids []string) ([]adapters.Performance, error)
}

// Pinger is implemented by backing stores the health check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server groups dependencies for HTTP handlers. Performance, Analytics,
// GeoIP, Limiter, Breaker, Debugger and Store are optional.
type Server struct {
	Logger       *zap.Logger
	Orchestrator *waterfall.Orchestrator
	Stats        *waterfall.StatsAggregator
	Registry     adapters.Registry
	Performance  PerformanceStore
	Analytics    analytics.Service
	GeoIP        *geoip.GeoIP
	Limiter      *ratelimit.AdapterLimiter
	Breaker      *auction.CircuitBreaker
	Debugger     *auction.Debugger
	Store        Pinger
	Metrics      observability.MetricsRegistry
	Sampler      *observability.LogSampler
}

// NewServer constructs a Server with a fresh statistics aggregator.
func NewServer(logger *zap.Logger, orch *waterfall.Orchestrator, registry adapters.Registry, metrics observability.MetricsRegistry) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Server{
		Logger:       logger,
		Orchestrator: orch,
		Stats:        waterfall.NewStatsAggregator(),
		Registry:     registry,
		Metrics:      metrics,
		Sampler:      observability.NewLogSampler(observability.SamplingRateForEnv()),
	}
}

// RegisterRoutes mounts every handler on r.
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/auction", s.AuctionHandler).Methods(http.MethodPost)
	r.HandleFunc("/auction/smart", s.SmartAuctionHandler).Methods(http.MethodPost)
	r.HandleFunc("/auction/priority", s.PriorityAuctionHandler).Methods(http.MethodPost)

	r.HandleFunc("/waterfall/stats", s.StatsHandler).Methods(http.MethodGet)
	r.HandleFunc("/waterfall/stats/reset", s.ResetStatsHandler).Methods(http.MethodPost)

	crud := r.PathPrefix("/api").Subrouter()
	crud.HandleFunc("/adapters", s.ListAdapters).Methods(http.MethodGet)
	crud.HandleFunc("/adapters/performance", s.AdapterPerformance).Methods(http.MethodGet)
	crud.HandleFunc("/adapters/ratelimit", s.RateLimitStats).Methods(http.MethodGet)
	crud.HandleFunc("/adapters/circuit", s.CircuitStates).Methods(http.MethodGet)
	crud.HandleFunc("/adapters/{id}/circuit/reset", s.ResetCircuit).Methods(http.MethodPost)
	crud.HandleFunc("/adapters/{id}/debug", s.DebugEvents).Methods(http.MethodGet)
	crud.HandleFunc("/adapters/{id}", s.PutAdapter).Methods(http.MethodPut)
	crud.HandleFunc("/adapters/{id}", s.DeleteAdapter).Methods(http.MethodDelete)

	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
}

// observe records request count and latency for an endpoint.
func (s *Server) observe(endpoint, method string, status int, start time.Time) {
	s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(status))
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}

func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	return middleware.LoggerFromRequest(r, s.Logger)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
