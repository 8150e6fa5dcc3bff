package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rivalapexmediation/auction/internal/analytics"
	"github.com/rivalapexmediation/auction/internal/middleware"
	"github.com/rivalapexmediation/auction/internal/models"
	"github.com/rivalapexmediation/auction/internal/observability"
	"github.com/rivalapexmediation/auction/internal/targeting"
	"github.com/rivalapexmediation/auction/internal/waterfall"
)

// maxBodyBytes bounds auction request bodies.
const maxBodyBytes = 1 << 20

var errMissingRequest = errors.New("request with id is required")

// auctionRequest is the body of every /auction endpoint. Only the fields
// relevant to the endpoint are read.
type auctionRequest struct {
	Request     *models.BidRequest   `json:"request"`
	Config      *waterfall.Overrides `json:"config,omitempty"`
	Performance map[string]float64   `json:"performance,omitempty"`
	Adapters    []string             `json:"adapters,omitempty"`
}

// waterfallResponse is returned by /auction and /auction/smart.
type waterfallResponse struct {
	*waterfall.Result
	RequestID       string  `json:"request_id"`
	Mode            string  `json:"mode"`
	TotalDurationMS float64 `json:"total_duration_ms"`
	// NBR is the no-bid reason of the final attempt when nothing filled.
	NBR string `json:"nbr,omitempty"`
}

// priorityResponse is returned by /auction/priority.
type priorityResponse struct {
	RequestID string                `json:"request_id"`
	Mode      string                `json:"mode"`
	Success   bool                  `json:"success"`
	Result    models.AuctionOutcome `json:"result"`
	NBR       string                `json:"nbr,omitempty"`
}

// AuctionHandler runs the priority-ordered waterfall. The optional config
// object overrides the server defaults for this request only.
func (s *Server) AuctionHandler(w http.ResponseWriter, r *http.Request) {
	s.handleWaterfall(w, r, waterfall.ModeWaterfall, "auction", func(ctx context.Context, body *auctionRequest) (*waterfall.Result, error) {
		return s.Orchestrator.ExecuteWithWaterfall(ctx, body.Request, body.Config)
	})
}

// SmartAuctionHandler runs the performance-ordered waterfall. When the body
// carries no performance map, observed success rates are used.
func (s *Server) SmartAuctionHandler(w http.ResponseWriter, r *http.Request) {
	s.handleWaterfall(w, r, waterfall.ModeSmart, "auction_smart", func(ctx context.Context, body *auctionRequest) (*waterfall.Result, error) {
		perf := body.Performance
		if perf == nil {
			perf = s.observedRates(ctx)
		}
		return s.Orchestrator.ExecuteSmartWaterfall(ctx, body.Request, perf)
	})
}

// PriorityAuctionHandler runs a single auction restricted to the listed adapters.
func (s *Server) PriorityAuctionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "PriorityAuctionHandler",
		trace.WithAttributes(attribute.String("http.route", "/auction/priority")))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "auction_priority"
	const method = "POST"

	body, err := s.decodeAuction(r)
	if err != nil {
		logger.Warn("decode auction request", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}

	outcome, err := s.Orchestrator.ExecuteWithPriority(ctx, body.Request, body.Adapters)
	if err != nil {
		logger.Error("priority auction failed", zap.String("auction_id", body.Request.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "auction failed")
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		return
	}
	if !outcome.Success {
		s.Metrics.IncrementNoFills()
	}

	resp := priorityResponse{
		RequestID: body.Request.ID,
		Mode:      waterfall.ModePriority,
		Success:   outcome.Success,
		Result:    outcome,
	}
	if !outcome.Success {
		resp.NBR = outcome.NoBidReason
	}
	writeJSON(w, http.StatusOK, resp)
	s.observe(endpoint, method, http.StatusOK, start)
}

type orchestrateFunc func(ctx context.Context, body *auctionRequest) (*waterfall.Result, error)

func (s *Server) handleWaterfall(w http.ResponseWriter, r *http.Request, mode, endpoint string, run orchestrateFunc) {
	ctx, span := tracer.Start(r.Context(), "WaterfallHandler",
		trace.WithAttributes(
			attribute.String("http.route", r.URL.Path),
			attribute.String("mode", mode),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const method = "POST"

	body, err := s.decodeAuction(r)
	if err != nil {
		logger.Warn("decode auction request", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}

	res, err := run(ctx, body)
	if err != nil {
		logger.Error("waterfall failed", zap.String("auction_id", body.Request.ID), zap.String("mode", mode), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "auction failed")
		s.observe(endpoint, method, http.StatusInternalServerError, start)
		return
	}

	s.record(ctx, logger, body.Request.ID, mode, res)

	resp := waterfallResponse{
		Result:          res,
		RequestID:       body.Request.ID,
		Mode:            mode,
		TotalDurationMS: float64(res.TotalDuration) / float64(time.Millisecond),
	}
	if !res.Success {
		resp.NBR = res.FinalResult.NoBidReason
	}
	if s.Sampler.Sample() {
		logger.Info("waterfall completed",
			zap.String("auction_id", body.Request.ID),
			zap.String("mode", mode),
			zap.Bool("success", res.Success),
			zap.Bool("fallback_used", res.FallbackUsed),
			zap.Int("attempts", len(res.Attempts)),
			zap.Duration("duration", res.TotalDuration))
	}
	writeJSON(w, http.StatusOK, resp)
	s.observe(endpoint, method, http.StatusOK, start)
}

// decodeAuction parses and enriches the request body.
func (s *Server) decodeAuction(r *http.Request) (*auctionRequest, error) {
	var body auctionRequest
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		return nil, errors.New("invalid json")
	}
	if body.Request == nil || body.Request.ID == "" {
		return nil, errMissingRequest
	}

	if d := body.Request.Device; d != nil && d.IP == "" && d.IPv6 == "" {
		d.IP = clientIP(r)
	}
	if sig := targeting.Enrich(s.GeoIP, body.Request); sig.IsBot {
		middleware.LoggerFromRequest(r, s.Logger).Debug("bot traffic", zap.String("auction_id", body.Request.ID))
	}
	return &body, nil
}

// record feeds a finished orchestration into statistics, metrics, analytics
// and the per-adapter performance counters.
func (s *Server) record(ctx context.Context, logger *zap.Logger, requestID, mode string, res *waterfall.Result) {
	s.Stats.Update(res)
	s.Metrics.SetWaterfallStats(statsSample(s.Stats.Snapshot()))
	if !res.Success {
		s.Metrics.IncrementNoFills()
	}

	if s.Analytics != nil {
		if err := s.Analytics.RecordWaterfall(ctx, requestID, mode, res); err != nil && !errors.Is(err, analytics.ErrUnavailable) {
			logger.Error("analytics record", zap.Error(err))
		}
	}

	if s.Performance == nil {
		return
	}
	for _, a := range res.Attempts {
		if len(a.AdaptersQueried) != 1 || a.AdaptersQueried[0] == waterfall.AllAdapters {
			continue
		}
		if err := s.Performance.Record(ctx, a.AdaptersQueried[0], a.Result.Success); err != nil {
			logger.Warn("record adapter performance", zap.String("adapter", a.AdaptersQueried[0]), zap.Error(err))
		}
	}
}

// observedRates returns tracked success rates for the registered adapters.
// Failures yield an empty map, which orders the smart waterfall by priority.
func (s *Server) observedRates(ctx context.Context) map[string]float64 {
	if s.Performance == nil || s.Registry == nil {
		return nil
	}
	list, err := s.Registry.GetAdapterConfig(ctx)
	if err != nil {
		s.Logger.Warn("load adapters for performance", zap.Error(err))
		return nil
	}
	ids := make([]string, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.ID)
	}
	rates, err := s.Performance.SuccessRates(ctx, ids)
	if err != nil {
		s.Logger.Warn("load adapter success rates", zap.Error(err))
		return nil
	}
	return rates
}

func statsSample(st waterfall.Stats) observability.WaterfallStatsSample {
	return observability.WaterfallStatsSample{
		TotalRequests:          st.TotalRequests,
		SuccessfulFirstAttempt: st.SuccessfulFirstAttempt,
		SuccessfulWithFallback: st.SuccessfulWithFallback,
		FailedAllAttempts:      st.FailedAllAttempts,
		AverageAttempts:        st.AverageAttempts,
		AverageDurationMS:      st.AverageDuration,
	}
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		first, _, _ := strings.Cut(ip, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
