// Package auction runs a single first-price OpenRTB auction across the
// registered demand adapters.
package auction

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rivalapexmediation/auction/internal/models"
	"github.com/rivalapexmediation/auction/internal/observability"
	"github.com/rivalapexmediation/auction/internal/ratelimit"
)

var tracer = otel.Tracer("auction")

// Bid request statuses recorded per adapter.
const (
	statusBid         = "bid"
	statusNoBid       = "no_bid"
	statusError       = "error"
	statusRateLimited = "rate_limited"
	statusUnavailable = "circuit_open"
)

// minHedgeDelay is the shortest wait before a hedged request is sent.
const minHedgeDelay = 10 * time.Millisecond

// AdapterSource provides the adapter list an auction fans out to.
type AdapterSource interface {
	GetAdapterConfig(ctx context.Context) ([]models.AdapterDescriptor, error)
}

// Executor fans a bid request out to adapters concurrently and picks the
// highest bid that clears its floor.
type Executor struct {
	source         AdapterSource
	bidder         Bidder
	limiter        *ratelimit.AdapterLimiter
	breaker        *CircuitBreaker
	debugger       *Debugger
	hedgeDelay     time.Duration
	defaultTimeout time.Duration
	logger         *zap.Logger
	metrics        observability.MetricsRegistry
}

// NewExecutor wires an executor. limiter may be nil to disable throttling.
func NewExecutor(source AdapterSource, bidder Bidder, limiter *ratelimit.AdapterLimiter, defaultTimeout time.Duration,
	logger *zap.Logger, metrics observability.MetricsRegistry) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Executor{
		source:         source,
		bidder:         bidder,
		limiter:        limiter,
		defaultTimeout: defaultTimeout,
		logger:         logger.Named("auction"),
		metrics:        metrics,
	}
}

// SetCircuitBreaker makes the executor skip adapters whose circuit is open.
func (e *Executor) SetCircuitBreaker(b *CircuitBreaker) { e.breaker = b }

// SetDebugger records every adapter call into d.
func (e *Executor) SetDebugger(d *Debugger) { e.debugger = d }

// SetHedgeDelay enables hedged adapter requests: when an adapter has not
// answered after d, a second identical request is sent and the first
// successful reply wins. Zero disables hedging.
func (e *Executor) SetHedgeDelay(d time.Duration) { e.hedgeDelay = max(d, 0) }

// CircuitBreaker returns the breaker set with SetCircuitBreaker, or nil.
func (e *Executor) CircuitBreaker() *CircuitBreaker { return e.breaker }

// Debugger returns the debugger set with SetDebugger, or nil.
func (e *Executor) Debugger() *Debugger { return e.debugger }

// adapterResult is what one adapter contributed to an auction.
type adapterResult struct {
	adapter models.AdapterDescriptor
	resp    *models.BidResponse
	status  string
}

// ExecuteAuction implements waterfall.AuctionExecutor. Adapter failures are
// folded into the outcome; only a registry failure or an unencodable request
// is returned as an error.
func (e *Executor) ExecuteAuction(ctx context.Context, req *models.BidRequest) (models.AuctionOutcome, error) {
	ctx, span := tracer.Start(ctx, "auction.ExecuteAuction",
		trace.WithAttributes(
			attribute.String("request_id", req.ID),
			attribute.StringSlice("wseat", req.WSeat),
		))
	defer span.End()

	all, err := e.source.GetAdapterConfig(ctx)
	if err != nil {
		span.RecordError(err)
		return models.AuctionOutcome{}, fmt.Errorf("load adapters: %w", err)
	}
	adapters := selectAdapters(all, req.WSeat)
	if len(adapters) == 0 {
		return models.NoBid(models.NoBidNoAdapters), nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return models.AuctionOutcome{}, fmt.Errorf("encode bid request: %w", err)
	}

	results := make([]adapterResult, len(adapters))
	var g errgroup.Group
	for i, adapter := range adapters {
		g.Go(func() error {
			results[i] = e.callAdapter(ctx, req.ID, adapter, body)
			return nil
		})
	}
	_ = g.Wait()

	outcome := decide(req, results)
	span.SetAttributes(
		attribute.Int("adapters", len(adapters)),
		attribute.Int("bids", outcome.Bids),
		attribute.Bool("success", outcome.Success),
	)
	return outcome, nil
}

func (e *Executor) callAdapter(ctx context.Context, requestID string, adapter models.AdapterDescriptor, body []byte) adapterResult {
	res := adapterResult{adapter: adapter}
	if !e.breaker.Allow(adapter.ID) {
		res.status = statusUnavailable
		e.metrics.IncrementBidRequests(adapter.ID, res.status)
		e.capture(ctx, DebugEvent{RequestID: requestID, AdapterID: adapter.ID, Outcome: res.status, Reason: models.NoBidAdapterUnavailable})
		return res
	}
	if !e.limiter.Allow(adapter.ID) {
		res.status = statusRateLimited
		e.metrics.IncrementBidRequests(adapter.ID, res.status)
		e.capture(ctx, DebugEvent{RequestID: requestID, AdapterID: adapter.ID, Outcome: res.status})
		return res
	}

	timeout := e.defaultTimeout
	if adapter.TimeoutMS > 0 {
		timeout = time.Duration(adapter.TimeoutMS) * time.Millisecond
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, hedged, err := e.requestBids(ctx, adapter, body)
	latency := time.Since(start)
	e.metrics.RecordBidLatency(adapter.ID, latency)
	e.breaker.Record(adapter.ID, err != nil)

	ev := DebugEvent{
		RequestID: requestID,
		AdapterID: adapter.ID,
		LatencyMS: float64(latency) / float64(time.Millisecond),
		Hedged:    hedged,
	}
	switch {
	case err != nil:
		res.status = statusError
		ev.Reason = err.Error()
		e.logger.Warn("adapter request failed", zap.String("adapter", adapter.ID), zap.Error(err))
	case resp == nil:
		res.status = statusNoBid
	default:
		res.status = statusBid
		res.resp = resp
	}
	ev.Outcome = res.status
	e.capture(ctx, ev)
	e.metrics.IncrementBidRequests(adapter.ID, res.status)
	return res
}

// requestBids calls the bidder, hedging the call when a hedge delay is set.
// hedged reports whether the returned reply came from the backup request.
func (e *Executor) requestBids(ctx context.Context, adapter models.AdapterDescriptor, body []byte) (resp *models.BidResponse, hedged bool, err error) {
	if e.hedgeDelay <= 0 {
		resp, err = e.bidder.RequestBids(ctx, adapter, body)
		return resp, false, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type reply struct {
		resp   *models.BidResponse
		err    error
		hedged bool
	}
	replies := make(chan reply, 2)
	send := func(hedged bool) {
		r, err := e.bidder.RequestBids(ctx, adapter, body)
		replies <- reply{resp: r, err: err, hedged: hedged}
	}

	go send(false)
	timer := time.NewTimer(hedgeWait(ctx, e.hedgeDelay))
	defer timer.Stop()

	hedgeC := timer.C
	inFlight := 1
	var firstErr error
	for {
		select {
		case <-hedgeC:
			hedgeC = nil
			inFlight++
			go send(true)
		case r := <-replies:
			inFlight--
			if r.err == nil {
				return r.resp, r.hedged, nil
			}
			if firstErr == nil {
				firstErr = r.err
			}
			if inFlight == 0 {
				return nil, false, firstErr
			}
		}
	}
}

// hedgeWait caps delay at half the time left before ctx's deadline, but never
// below minHedgeDelay.
func hedgeWait(ctx context.Context, delay time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		delay = min(delay, time.Until(deadline)/2)
	}
	return max(delay, minHedgeDelay)
}

func (e *Executor) capture(ctx context.Context, ev DebugEvent) {
	if e.debugger == nil {
		return
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		ev.TraceID = sc.TraceID().String()
		ev.SpanID = sc.SpanID().String()
	}
	ev.CreatedAt = time.Now()
	e.debugger.Capture(ev)
}

// selectAdapters keeps enabled adapters, narrowed to seats when any are given.
func selectAdapters(all []models.AdapterDescriptor, seats []string) []models.AdapterDescriptor {
	enabled := models.EnabledAdapters(all)
	if len(seats) == 0 {
		return enabled
	}
	allowed := make(map[string]struct{}, len(seats))
	for _, s := range seats {
		allowed[s] = struct{}{}
	}
	out := enabled[:0]
	for _, a := range enabled {
		if _, ok := allowed[a.ID]; ok {
			out = append(out, a)
		}
	}
	return out
}

// decide runs floor enforcement and first-price ranking over the collected
// responses. Equal prices keep the earlier adapter.
func decide(req *models.BidRequest, results []adapterResult) models.AuctionOutcome {
	var (
		winner      *models.WinningBid
		valid       int
		received    int
		errored     int
		limited     int
		unavailable int
	)
	for _, r := range results {
		switch r.status {
		case statusError:
			errored++
			continue
		case statusRateLimited:
			limited++
			continue
		case statusUnavailable:
			unavailable++
			continue
		}
		if r.resp == nil {
			continue
		}
		for _, sb := range r.resp.SeatBid {
			for _, bid := range sb.Bid {
				received++
				if bid.Price <= 0 || !BidMeetsFloor(bid.Price, effectiveFloor(r.adapter, req, bid.ImpID)) {
					continue
				}
				valid++
				if winner == nil || bid.Price > winner.Price {
					winner = &models.WinningBid{
						AdapterID:  r.adapter.ID,
						BidID:      bid.ID,
						ImpID:      bid.ImpID,
						Price:      bid.Price,
						AdMarkup:   bid.AdM,
						CreativeID: bid.CrID,
					}
				}
			}
		}
	}

	switch {
	case winner != nil:
		return models.AuctionOutcome{Success: true, Winner: winner, Bids: valid}
	case received > 0:
		return models.NoBid(models.NoBidBelowFloor)
	case unavailable == len(results):
		return models.NoBid(models.NoBidAdapterUnavailable)
	case errored > 0 && errored+unavailable == len(results):
		return models.NoBid(models.NoBidAdaptersErrored)
	case limited == len(results):
		return models.NoBid(models.NoBidRateLimited)
	default:
		return models.NoBid(models.NoBidNoBids)
	}
}
