package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rivalapexmediation/auction/internal/adapters"
	"github.com/rivalapexmediation/auction/internal/analytics"
	"github.com/rivalapexmediation/auction/internal/models"
)

type fakeSummary struct {
	since time.Time
	modes []analytics.ModeSummary
	err   error
}

func (f *fakeSummary) Summary(ctx context.Context, since time.Time) ([]analytics.ModeSummary, error) {
	f.since = since
	return f.modes, f.err
}

func newOperator(t *testing.T, summary summarySource) (*OperatorServer, *adapters.PerformanceTracker) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	tracker := adapters.NewPerformanceTracker(client)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &OperatorServer{
		registry: adapters.NewStaticRegistry(
			models.AdapterDescriptor{ID: "a", Enabled: true, Priority: 1},
			models.AdapterDescriptor{ID: "b", Enabled: false, Priority: 2},
		),
		performance: tracker,
		summary:     summary,
		logger:      zap.NewNop(),
		now:         func() time.Time { return now },
	}, tracker
}

func TestListAdapters(t *testing.T) {
	ops, _ := newOperator(t, &fakeSummary{})

	_, out, err := ops.ListAdapters(context.Background(), nil, ListAdaptersInput{})
	require.NoError(t, err)
	assert.Len(t, out.Adapters, 2)

	_, out, err = ops.ListAdapters(context.Background(), nil, ListAdaptersInput{EnabledOnly: true})
	require.NoError(t, err)
	require.Len(t, out.Adapters, 1)
	assert.Equal(t, "a", out.Adapters[0].ID)
}

func TestGetAdapterPerformance(t *testing.T) {
	ops, tracker := newOperator(t, &fakeSummary{})
	ctx := context.Background()
	require.NoError(t, tracker.Record(ctx, "a", true))
	require.NoError(t, tracker.Record(ctx, "a", false))

	_, out, err := ops.GetAdapterPerformance(ctx, nil, GetAdapterPerformanceInput{})
	require.NoError(t, err)
	require.Len(t, out.Performance, 2)
	assert.Equal(t, "a", out.Performance[0].AdapterID)
	assert.InDelta(t, 0.5, out.Performance[0].SuccessRate, 1e-9)

	_, out, err = ops.GetAdapterPerformance(ctx, nil, GetAdapterPerformanceInput{AdapterIDs: []string{"b"}})
	require.NoError(t, err)
	require.Len(t, out.Performance, 1)
	assert.Equal(t, int64(0), out.Performance[0].Total)
}

func TestGetWaterfallSummary(t *testing.T) {
	summary := &fakeSummary{modes: []analytics.ModeSummary{{Mode: "waterfall", TotalRequests: 10, FillRate: 0.7}}}
	ops, _ := newOperator(t, summary)

	_, out, err := ops.GetWaterfallSummary(context.Background(), nil, GetWaterfallSummaryInput{})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC), out.Since)
	assert.Equal(t, out.Since, summary.since)
	require.Len(t, out.Modes, 1)
	assert.Equal(t, 0.7, out.Modes[0].FillRate)

	_, out, err = ops.GetWaterfallSummary(context.Background(), nil, GetWaterfallSummaryInput{SinceHours: 1})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC), out.Since)
}

func TestGetWaterfallSummary_Unavailable(t *testing.T) {
	var ch *analytics.Analytics
	ops, _ := newOperator(t, ch)

	_, _, err := ops.GetWaterfallSummary(context.Background(), nil, GetWaterfallSummaryInput{})
	assert.True(t, errors.Is(err, analytics.ErrUnavailable))
}

func TestNewMCPServer(t *testing.T) {
	ops, _ := newOperator(t, &fakeSummary{})
	assert.NotNil(t, newMCPServer(ops))
}
