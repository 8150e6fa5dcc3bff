package auction

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prebid/openrtb/v20/openrtb2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rivalapexmediation/auction/internal/models"
	"github.com/rivalapexmediation/auction/internal/observability"
	"github.com/rivalapexmediation/auction/internal/ratelimit"
)

type staticSource struct {
	adapters []models.AdapterDescriptor
	err      error
}

func (s staticSource) GetAdapterConfig(ctx context.Context) ([]models.AdapterDescriptor, error) {
	return s.adapters, s.err
}

// scriptedBidder answers per adapter ID and records who was called.
type scriptedBidder struct {
	mu        sync.Mutex
	responses map[string]*models.BidResponse
	errs      map[string]error
	called    []string
}

func (b *scriptedBidder) RequestBids(ctx context.Context, adapter models.AdapterDescriptor, body []byte) (*models.BidResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.called = append(b.called, adapter.ID)
	if err := b.errs[adapter.ID]; err != nil {
		return nil, err
	}
	return b.responses[adapter.ID], nil
}

func priced(price float64) *models.BidResponse {
	r := bidResponse("x", price)
	return &r
}

func adapters(ids ...string) []models.AdapterDescriptor {
	out := make([]models.AdapterDescriptor, 0, len(ids))
	for i, id := range ids {
		out = append(out, models.AdapterDescriptor{ID: id, Enabled: true, Priority: i + 1})
	}
	return out
}

func request() *models.BidRequest {
	return &models.BidRequest{ID: "req-1", Imp: []openrtb2.Imp{{ID: "1", BidFloor: 0.5}}}
}

func TestExecuteAuction_HighestBidWins(t *testing.T) {
	bidder := &scriptedBidder{responses: map[string]*models.BidResponse{
		"a": priced(1.0),
		"b": priced(3.0),
		"c": priced(2.0),
	}}
	metrics := observability.NewMockMetricsRegistry()
	e := NewExecutor(staticSource{adapters: adapters("a", "b", "c")}, bidder, nil, time.Second, zap.NewNop(), metrics)

	out, err := e.ExecuteAuction(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "b", out.Winner.AdapterID)
	assert.Equal(t, 3.0, out.Winner.Price)
	assert.Equal(t, "cr-1", out.Winner.CreativeID)
	assert.Equal(t, 3, out.Bids)
	assert.Equal(t, 1, metrics.BidRequests["b/bid"])
}

func TestExecuteAuction_TieKeepsEarlierAdapter(t *testing.T) {
	bidder := &scriptedBidder{responses: map[string]*models.BidResponse{"a": priced(2.0), "b": priced(2.0)}}
	e := NewExecutor(staticSource{adapters: adapters("a", "b")}, bidder, nil, time.Second, nil, nil)

	out, err := e.ExecuteAuction(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "a", out.Winner.AdapterID)
}

func TestExecuteAuction_WSeatNarrowsAdapters(t *testing.T) {
	bidder := &scriptedBidder{responses: map[string]*models.BidResponse{"a": priced(5.0), "b": priced(1.0)}}
	e := NewExecutor(staticSource{adapters: adapters("a", "b")}, bidder, nil, time.Second, nil, nil)

	req := request()
	req.WSeat = []string{"b"}
	out, err := e.ExecuteAuction(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "b", out.Winner.AdapterID)
	assert.Equal(t, []string{"b"}, bidder.called)
}

func TestExecuteAuction_NoAdapters(t *testing.T) {
	src := staticSource{adapters: []models.AdapterDescriptor{{ID: "off", Enabled: false}}}
	e := NewExecutor(src, &scriptedBidder{}, nil, time.Second, nil, nil)

	out, err := e.ExecuteAuction(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, models.NoBid(models.NoBidNoAdapters), out)

	req := request()
	req.WSeat = []string{"unknown"}
	out, err = NewExecutor(staticSource{adapters: adapters("a")}, &scriptedBidder{}, nil, time.Second, nil, nil).
		ExecuteAuction(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.NoBidNoAdapters, out.NoBidReason)
}

func TestExecuteAuction_NoBidReasons(t *testing.T) {
	boom := errors.New("connection refused")

	tests := []struct {
		name   string
		bidder *scriptedBidder
		floor  float64
		want   string
	}{
		{"nobody bids", &scriptedBidder{}, 0, models.NoBidNoBids},
		{"all below floor", &scriptedBidder{responses: map[string]*models.BidResponse{"a": priced(0.4), "b": priced(0.2)}}, 0, models.NoBidBelowFloor},
		{"adapter floor", &scriptedBidder{responses: map[string]*models.BidResponse{"a": priced(0.9)}}, 1.0, models.NoBidBelowFloor},
		{"all errored", &scriptedBidder{errs: map[string]error{"a": boom, "b": boom}}, 0, models.NoBidAdaptersErrored},
		{"some errored", &scriptedBidder{errs: map[string]error{"a": boom}}, 0, models.NoBidNoBids},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list := adapters("a", "b")
			list[0].FloorCPM = tt.floor
			e := NewExecutor(staticSource{adapters: list}, tt.bidder, nil, time.Second, nil, nil)

			out, err := e.ExecuteAuction(context.Background(), request())
			require.NoError(t, err)
			assert.False(t, out.Success)
			assert.Equal(t, tt.want, out.NoBidReason)
		})
	}
}

func TestExecuteAuction_SourceError(t *testing.T) {
	boom := errors.New("redis down")
	e := NewExecutor(staticSource{err: boom}, &scriptedBidder{}, nil, time.Second, nil, nil)

	_, err := e.ExecuteAuction(context.Background(), request())
	assert.ErrorIs(t, err, boom)
}

func TestExecuteAuction_RateLimited(t *testing.T) {
	bidder := &scriptedBidder{responses: map[string]*models.BidResponse{"a": priced(1.0)}}
	metrics := observability.NewMockMetricsRegistry()
	limiter := ratelimit.NewAdapterLimiter(ratelimit.Config{Capacity: 1, RefillRate: 0, Enabled: true}, metrics)
	e := NewExecutor(staticSource{adapters: adapters("a")}, bidder, limiter, time.Second, nil, metrics)

	out, err := e.ExecuteAuction(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, out.Success)

	out, err = e.ExecuteAuction(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, models.NoBidRateLimited, out.NoBidReason)
	assert.Len(t, bidder.called, 1)
	assert.Equal(t, 1, metrics.RateLimitHits["a"])
	assert.Equal(t, 1, metrics.BidRequests["a/rate_limited"])
}

func TestExecuteAuction_OverHTTP(t *testing.T) {
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(bidResponse("fast", 1.25))
	}))
	defer fast.Close()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
		_ = json.NewEncoder(w).Encode(bidResponse("slow", 9.0))
	}))
	defer slow.Close()
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer empty.Close()

	src := staticSource{adapters: []models.AdapterDescriptor{
		{ID: "fast", Enabled: true, Priority: 1, Endpoint: fast.URL},
		{ID: "slow", Enabled: true, Priority: 2, Endpoint: slow.URL, TimeoutMS: 30},
		{ID: "empty", Enabled: true, Priority: 3, Endpoint: empty.URL},
	}}
	e := NewExecutor(src, NewHTTPBidder(zap.NewNop()), nil, time.Second, zap.NewNop(), nil)

	start := time.Now()
	out, err := e.ExecuteAuction(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "fast", out.Winner.AdapterID)
	assert.Less(t, time.Since(start), 400*time.Millisecond, "slow adapter must be cut off by its timeout")
}

func TestExecuteAuction_CircuitOpenSkipsAdapter(t *testing.T) {
	boom := errors.New("connection refused")
	bidder := &scriptedBidder{errs: map[string]error{"a": boom}}
	metrics := observability.NewMockMetricsRegistry()
	e := NewExecutor(staticSource{adapters: adapters("a")}, bidder, nil, time.Second, nil, metrics)
	breaker := NewCircuitBreaker(2, time.Minute)
	e.SetCircuitBreaker(breaker)

	for range 2 {
		out, err := e.ExecuteAuction(context.Background(), request())
		require.NoError(t, err)
		assert.Equal(t, models.NoBidAdaptersErrored, out.NoBidReason)
	}
	require.Equal(t, CircuitOpen, breaker.State("a"))

	out, err := e.ExecuteAuction(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, models.NoBidAdapterUnavailable, out.NoBidReason)
	assert.Len(t, bidder.called, 2, "an open circuit must not reach the bidder")
	assert.Equal(t, 2, metrics.BidRequests["a/error"])
	assert.Equal(t, 1, metrics.BidRequests["a/circuit_open"])
}

func TestExecuteAuction_CircuitMixedWithErrors(t *testing.T) {
	boom := errors.New("connection refused")
	bidder := &scriptedBidder{errs: map[string]error{"b": boom}}
	e := NewExecutor(staticSource{adapters: adapters("a", "b")}, bidder, nil, time.Second, nil, nil)
	breaker := NewCircuitBreaker(1, time.Minute)
	breaker.Record("a", true)
	e.SetCircuitBreaker(breaker)

	out, err := e.ExecuteAuction(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, models.NoBidAdaptersErrored, out.NoBidReason)
	assert.Equal(t, []string{"b"}, bidder.called)
}

func TestExecuteAuction_CircuitClosesOnSuccess(t *testing.T) {
	bidder := &scriptedBidder{responses: map[string]*models.BidResponse{"a": priced(1.0)}}
	e := NewExecutor(staticSource{adapters: adapters("a")}, bidder, nil, time.Second, nil, nil)
	breaker := NewCircuitBreaker(1, 0)
	breaker.Record("a", true)
	e.SetCircuitBreaker(breaker)

	time.Sleep(time.Millisecond)
	out, err := e.ExecuteAuction(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, CircuitClosed, breaker.State("a"))
}

func TestExecuteAuction_DebuggerCapturesCalls(t *testing.T) {
	boom := errors.New("connection refused")
	bidder := &scriptedBidder{
		responses: map[string]*models.BidResponse{"a": priced(1.0)},
		errs:      map[string]error{"b": boom},
	}
	e := NewExecutor(staticSource{adapters: adapters("a", "b")}, bidder, nil, time.Second, nil, nil)
	d := NewDebugger(10)
	e.SetDebugger(d)

	_, err := e.ExecuteAuction(context.Background(), request())
	require.NoError(t, err)

	a := d.Last("a", 0)
	require.Len(t, a, 1)
	assert.Equal(t, "req-1", a[0].RequestID)
	assert.Equal(t, statusBid, a[0].Outcome)
	assert.False(t, a[0].CreatedAt.IsZero())

	b := d.Last("b", 0)
	require.Len(t, b, 1)
	assert.Equal(t, statusError, b[0].Outcome)
	assert.Equal(t, "connection refused", b[0].Reason)
}

// stallingBidder never answers the first call; later calls bid immediately.
type stallingBidder struct {
	mu    sync.Mutex
	calls int
}

func (b *stallingBidder) RequestBids(ctx context.Context, adapter models.AdapterDescriptor, body []byte) (*models.BidResponse, error) {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()
	if first {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return priced(2.0), nil
}

func TestExecuteAuction_HedgedRequestWins(t *testing.T) {
	bidder := &stallingBidder{}
	e := NewExecutor(staticSource{adapters: adapters("a")}, bidder, nil, 2*time.Second, nil, nil)
	e.SetHedgeDelay(20 * time.Millisecond)
	d := NewDebugger(10)
	e.SetDebugger(d)

	out, err := e.ExecuteAuction(context.Background(), request())
	require.NoError(t, err)
	require.True(t, out.Success)
	assert.Equal(t, 2.0, out.Winner.Price)
	assert.Equal(t, 2, bidder.calls)

	events := d.Last("a", 1)
	require.Len(t, events, 1)
	assert.True(t, events[0].Hedged)
	assert.Less(t, events[0].LatencyMS, 1000.0)
}

func TestExecuteAuction_FastPrimaryIsNotHedged(t *testing.T) {
	bidder := &scriptedBidder{responses: map[string]*models.BidResponse{"a": priced(1.0)}}
	e := NewExecutor(staticSource{adapters: adapters("a")}, bidder, nil, 2*time.Second, nil, nil)
	e.SetHedgeDelay(500 * time.Millisecond)

	out, err := e.ExecuteAuction(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, []string{"a"}, bidder.called)
}

func TestExecuteAuction_HedgeKeepsFirstError(t *testing.T) {
	boom := errors.New("connection refused")
	bidder := &scriptedBidder{errs: map[string]error{"a": boom}}
	e := NewExecutor(staticSource{adapters: adapters("a")}, bidder, nil, time.Second, nil, nil)
	e.SetHedgeDelay(500 * time.Millisecond)

	_, _, err := e.requestBids(context.Background(), adapters("a")[0], nil)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, bidder.called, 1, "a failed primary is not retried by the hedge")
}

func TestHedgeWait(t *testing.T) {
	assert.Equal(t, 40*time.Millisecond, hedgeWait(context.Background(), 40*time.Millisecond))
	assert.Equal(t, minHedgeDelay, hedgeWait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	got := hedgeWait(ctx, time.Second)
	assert.LessOrEqual(t, got, 50*time.Millisecond)
	assert.Greater(t, got, 30*time.Millisecond)
}
