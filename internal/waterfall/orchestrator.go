// Package waterfall drives multi-attempt auction mediation. A full auction is
// tried first; when it returns no bid the orchestrator falls back through the
// enabled adapters one at a time, waiting an exponentially growing delay before
// each fallback attempt.
package waterfall

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rivalapexmediation/auction/internal/models"
	"github.com/rivalapexmediation/auction/internal/observability"
)

// AllAdapters is recorded as the queried adapter of the first, unrestricted attempt.
const AllAdapters = "all_adapters"

// Modes label results in metrics and analytics.
const (
	ModeWaterfall = "waterfall"
	ModeSmart     = "smart"
	ModePriority  = "priority"
)

// ErrNilRequest is returned when an orchestration is started without a bid request.
var ErrNilRequest = errors.New("bid request is nil")

var tracer = otel.Tracer("waterfall")

// AuctionExecutor runs a single real-time auction. A no-bid is reported through
// the outcome; a non-nil error means the auction itself could not be run.
type AuctionExecutor interface {
	ExecuteAuction(ctx context.Context, req *models.BidRequest) (models.AuctionOutcome, error)
}

// AdapterRegistry returns the current adapter configuration. Implementations
// must return a fresh snapshot on every call.
type AdapterRegistry interface {
	GetAdapterConfig(ctx context.Context) ([]models.AdapterDescriptor, error)
}

// Attempt records one auction attempt of an orchestration.
type Attempt struct {
	AttemptNumber   int                   `json:"attempt_number"`
	AdaptersQueried []string              `json:"adapters_queried"`
	Result          models.AuctionOutcome `json:"result"`
	DelayMS         int                   `json:"delay_ms"`
	Timestamp       time.Time             `json:"timestamp"`
}

// Result is the outcome of a complete orchestration.
type Result struct {
	Success       bool                  `json:"success"`
	FinalResult   models.AuctionOutcome `json:"final_result"`
	Attempts      []Attempt             `json:"attempts"`
	TotalDuration time.Duration         `json:"total_duration"`
	FallbackUsed  bool                  `json:"fallback_used"`
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Orchestrator runs waterfall mediation over an executor and adapter registry.
// It holds no per-request state and is safe for concurrent use.
type Orchestrator struct {
	executor AuctionExecutor
	registry AdapterRegistry
	defaults Config
	limits   Limits
	logger   *zap.Logger
	metrics  observability.MetricsRegistry
	sleep    SleepFunc
	now      func() time.Time
}

// NewOrchestrator constructs an Orchestrator using DefaultConfig as the base
// for ExecuteWithWaterfall.
func NewOrchestrator(executor AuctionExecutor, registry AdapterRegistry, logger *zap.Logger, metrics observability.MetricsRegistry) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Orchestrator{
		executor: executor,
		registry: registry,
		defaults: DefaultConfig(),
		logger:   logger.Named("waterfall"),
		metrics:  metrics,
		sleep:    contextSleep,
		now:      time.Now,
	}
}

// SetDefaults replaces the configuration that ExecuteWithWaterfall overrides are
// merged over. ExecuteSmartWaterfall always uses DefaultConfig.
func (o *Orchestrator) SetDefaults(cfg Config) {
	o.defaults = cfg.normalize()
}

// SetLimits bounds the configuration ExecuteWithWaterfall runs with after
// request overrides are merged.
func (o *Orchestrator) SetLimits(l Limits) {
	o.limits = l
}

// Defaults returns the configuration ExecuteWithWaterfall merges overrides over.
func (o *Orchestrator) Defaults() Config {
	return o.defaults
}

// SetSleepFunc replaces the backoff wait. Tests use it to observe delays
// without waiting on the wall clock.
func (o *Orchestrator) SetSleepFunc(fn SleepFunc) {
	if fn == nil {
		fn = contextSleep
	}
	o.sleep = fn
}

// contextSleep parks the calling goroutine for d. It returns early with the
// context error if ctx is cancelled.
func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecuteWithWaterfall runs a full auction and, if it fails and the waterfall is
// enabled, falls back through enabled adapters in ascending priority order.
// overrides may be nil.
func (o *Orchestrator) ExecuteWithWaterfall(ctx context.Context, req *models.BidRequest, overrides *Overrides) (*Result, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	cfg := o.limits.Clamp(o.defaults.Merge(overrides))

	ctx, span := tracer.Start(ctx, "waterfall.ExecuteWithWaterfall",
		trace.WithAttributes(
			attribute.String("request_id", req.ID),
			attribute.Int("max_attempts", cfg.MaxAttempts),
			attribute.Bool("enabled", cfg.Enabled),
		))
	defer span.End()

	start := o.now()
	first, err := o.attempt(ctx, req, 1, []string{AllAdapters}, 0)
	if err != nil {
		return nil, o.fail(span, err)
	}
	attempts := []Attempt{first}

	if first.Result.Success || !cfg.Enabled {
		return o.finish(span, ModeWaterfall, start, first.Result.Success, attempts, false), nil
	}

	adapters, err := o.enabledByPriority(ctx)
	if err != nil {
		return nil, o.fail(span, err)
	}

	return o.fallback(ctx, span, ModeWaterfall, req, cfg, adapters, attempts, start)
}

// ExecuteSmartWaterfall behaves like ExecuteWithWaterfall with the default
// configuration, except that fallback adapters are ordered by descending
// success rate from performance. Adapters missing from performance rank as
// zero. Priority breaks ties and is the only ordering when performance is empty.
func (o *Orchestrator) ExecuteSmartWaterfall(ctx context.Context, req *models.BidRequest, performance map[string]float64) (*Result, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	cfg := DefaultConfig()

	ctx, span := tracer.Start(ctx, "waterfall.ExecuteSmartWaterfall",
		trace.WithAttributes(
			attribute.String("request_id", req.ID),
			attribute.Int("performance_entries", len(performance)),
		))
	defer span.End()

	start := o.now()
	first, err := o.attempt(ctx, req, 1, []string{AllAdapters}, 0)
	if err != nil {
		return nil, o.fail(span, err)
	}
	attempts := []Attempt{first}

	if first.Result.Success {
		return o.finish(span, ModeSmart, start, true, attempts, false), nil
	}

	adapters, err := o.enabledByPriority(ctx)
	if err != nil {
		return nil, o.fail(span, err)
	}
	if len(performance) > 0 {
		orderByPerformance(adapters, performance)
	}

	return o.fallback(ctx, span, ModeSmart, req, cfg, adapters, attempts, start)
}

// ExecuteWithPriority runs one auction restricted to adapterIDs with no
// fallback. When adapterIDs is empty every enabled adapter is used in priority
// order.
func (o *Orchestrator) ExecuteWithPriority(ctx context.Context, req *models.BidRequest, adapterIDs []string) (models.AuctionOutcome, error) {
	if req == nil {
		return models.AuctionOutcome{}, ErrNilRequest
	}

	ctx, span := tracer.Start(ctx, "waterfall.ExecuteWithPriority",
		trace.WithAttributes(
			attribute.String("request_id", req.ID),
			attribute.StringSlice("adapters", adapterIDs),
		))
	defer span.End()

	seats := adapterIDs
	if len(seats) == 0 {
		adapters, err := o.enabledByPriority(ctx)
		if err != nil {
			return models.AuctionOutcome{}, o.fail(span, err)
		}
		seats = make([]string, 0, len(adapters))
		for _, a := range adapters {
			seats = append(seats, a.ID)
		}
	}

	outcome, err := o.executor.ExecuteAuction(ctx, scopedRequest(req, seats))
	if err != nil {
		return models.AuctionOutcome{}, o.fail(span, fmt.Errorf("execute auction: %w", err))
	}
	o.metrics.IncrementWaterfallAttempts(ModePriority, outcomeLabel(outcome))
	span.SetAttributes(attribute.Bool("success", outcome.Success))
	return outcome, nil
}

// fallback runs attempts 2..n against adapters, in order, until one succeeds or
// either the attempt budget or the adapter list is exhausted.
func (o *Orchestrator) fallback(ctx context.Context, span trace.Span, mode string, req *models.BidRequest, cfg Config,
	adapters []models.AdapterDescriptor, attempts []Attempt, start time.Time) (*Result, error) {
	delay := cfg.firstDelay()
	last := min(cfg.MaxAttempts, len(adapters)+1)

	for n := 2; n <= last; n++ {
		o.metrics.RecordBackoffDelay(msDuration(delay))
		if err := o.sleep(ctx, msDuration(delay)); err != nil {
			return nil, o.fail(span, fmt.Errorf("waterfall backoff before attempt %d: %w", n, err))
		}

		idx := n - 2
		if idx >= len(adapters) {
			break
		}
		adapterID := adapters[idx].ID

		a, err := o.attempt(ctx, scopedRequest(req, []string{adapterID}), n, []string{adapterID}, delay)
		if err != nil {
			return nil, o.fail(span, err)
		}
		attempts = append(attempts, a)

		if a.Result.Success {
			return o.finish(span, mode, start, true, attempts, true), nil
		}
		delay = cfg.nextDelay(delay)
	}

	o.logger.Debug("waterfall exhausted",
		zap.String("request_id", req.ID),
		zap.String("mode", mode),
		zap.Int("attempts", len(attempts)),
		zap.Int("adapters", len(adapters)))
	return o.finish(span, mode, start, false, attempts, true), nil
}

// attempt runs a single auction and records it.
func (o *Orchestrator) attempt(ctx context.Context, req *models.BidRequest, n int, queried []string, delayMS int) (Attempt, error) {
	ctx, span := tracer.Start(ctx, "waterfall.attempt",
		trace.WithAttributes(
			attribute.Int("attempt", n),
			attribute.StringSlice("adapters", queried),
			attribute.Int("delay_ms", delayMS),
		))
	defer span.End()

	ts := o.now()
	outcome, err := o.executor.ExecuteAuction(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Attempt{}, fmt.Errorf("execute auction attempt %d: %w", n, err)
	}
	span.SetAttributes(
		attribute.Bool("success", outcome.Success),
		attribute.String("no_bid_reason", outcome.NoBidReason),
	)

	o.logger.Debug("auction attempt",
		zap.String("request_id", req.ID),
		zap.Int("attempt", n),
		zap.Strings("adapters", queried),
		zap.Int("delay_ms", delayMS),
		zap.Bool("success", outcome.Success),
		zap.String("no_bid_reason", outcome.NoBidReason))

	return Attempt{
		AttemptNumber:   n,
		AdaptersQueried: queried,
		Result:          outcome,
		DelayMS:         delayMS,
		Timestamp:       ts,
	}, nil
}

func (o *Orchestrator) finish(span trace.Span, mode string, start time.Time, success bool, attempts []Attempt, fallbackUsed bool) *Result {
	res := &Result{
		Success:       success,
		FinalResult:   attempts[len(attempts)-1].Result,
		Attempts:      attempts,
		TotalDuration: o.now().Sub(start),
		FallbackUsed:  fallbackUsed,
	}
	for _, a := range attempts {
		o.metrics.IncrementWaterfallAttempts(mode, outcomeLabel(a.Result))
	}
	o.metrics.RecordWaterfallOutcome(mode, Classify(res), len(attempts), res.TotalDuration)

	span.SetAttributes(
		attribute.Bool("success", res.Success),
		attribute.Bool("fallback_used", res.FallbackUsed),
		attribute.Int("attempts", len(attempts)),
	)
	return res
}

func (o *Orchestrator) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	o.logger.Error("waterfall orchestration failed", zap.Error(err))
	return err
}

// enabledByPriority fetches a fresh registry snapshot and returns the enabled
// adapters sorted by ascending priority.
func (o *Orchestrator) enabledByPriority(ctx context.Context) ([]models.AdapterDescriptor, error) {
	all, err := o.registry.GetAdapterConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("get adapter config: %w", err)
	}
	adapters := models.EnabledAdapters(all)
	sort.SliceStable(adapters, func(i, j int) bool {
		return adapters[i].Priority < adapters[j].Priority
	})
	return adapters, nil
}

// orderByPerformance sorts adapters by descending success rate, keeping the
// existing priority order among equal rates. Non-finite rates rank as zero.
func orderByPerformance(adapters []models.AdapterDescriptor, performance map[string]float64) {
	rate := func(id string) float64 {
		r := performance[id]
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return 0
		}
		return r
	}
	sort.SliceStable(adapters, func(i, j int) bool {
		return rate(adapters[i].ID) > rate(adapters[j].ID)
	})
}

// scopedRequest returns a shallow copy of req limited to seats. The caller's
// request is never modified.
func scopedRequest(req *models.BidRequest, seats []string) *models.BidRequest {
	cp := *req
	cp.WSeat = append([]string(nil), seats...)
	return &cp
}

func outcomeLabel(o models.AuctionOutcome) string {
	if o.Success {
		return "success"
	}
	if o.NoBidReason == "" {
		return "no_bid"
	}
	return o.NoBidReason
}
