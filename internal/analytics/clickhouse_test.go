package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivalapexmediation/auction/internal/models"
	"github.com/rivalapexmediation/auction/internal/waterfall"
)

func fallbackResult() *waterfall.Result {
	return &waterfall.Result{
		Success:      true,
		FallbackUsed: true,
		FinalResult: models.AuctionOutcome{
			Success: true,
			Winner:  &models.WinningBid{AdapterID: "b", Price: 2.25},
			Bids:    1,
		},
		Attempts: []waterfall.Attempt{
			{AttemptNumber: 1, AdaptersQueried: []string{waterfall.AllAdapters}, Result: models.NoBid(models.NoBidNoBids)},
			{AttemptNumber: 2, AdaptersQueried: []string{"a"}, Result: models.NoBid(models.NoBidNoBids), DelayMS: 50},
			{AttemptNumber: 3, AdaptersQueried: []string{"b"}, DelayMS: 100},
		},
		TotalDuration: 175 * time.Millisecond,
	}
}

func TestNewEvent(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := NewEvent(ts, "req-1", waterfall.ModeWaterfall, fallbackResult())

	assert.Equal(t, ts, ev.Timestamp)
	assert.Equal(t, "req-1", ev.RequestID)
	assert.Equal(t, waterfall.ModeWaterfall, ev.Mode)
	assert.True(t, ev.Success)
	assert.True(t, ev.FallbackUsed)
	assert.Equal(t, 3, ev.Attempts)
	assert.InDelta(t, 175.0, ev.DurationMS, 1e-9)
	assert.Empty(t, ev.FinalReason)
	assert.Equal(t, "b", ev.WinnerAdapter)
	assert.Equal(t, 2.25, ev.WinningPrice)
	assert.Equal(t, []string{waterfall.AllAdapters, "a", "b"}, ev.Adapters)
}

func TestNewEvent_Failed(t *testing.T) {
	r := &waterfall.Result{
		FinalResult: models.AuctionOutcome{},
		Attempts:    []waterfall.Attempt{{AttemptNumber: 1, AdaptersQueried: []string{waterfall.AllAdapters}}},
	}
	ev := NewEvent(time.Now(), "req-2", waterfall.ModeSmart, r)
	assert.False(t, ev.Success)
	assert.Equal(t, "no_bid", ev.FinalReason)
	assert.Empty(t, ev.WinnerAdapter)
}

func TestAnalytics_Unavailable(t *testing.T) {
	var a *Analytics
	assert.ErrorIs(t, a.RecordWaterfall(context.Background(), "r", waterfall.ModeWaterfall, fallbackResult()), ErrUnavailable)

	_, err := (&Analytics{}).Summary(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = (&Analytics{}).EventsByRequestID(context.Background(), "r")
	assert.ErrorIs(t, err, ErrUnavailable)

	a.Close()
}

func TestFillRate(t *testing.T) {
	assert.Equal(t, 0.0, fillRate(ModeSummary{}))
	assert.InDelta(t, 0.75, fillRate(ModeSummary{TotalRequests: 4, SuccessfulFirstAttempt: 2, SuccessfulWithFallback: 1}), 1e-9)
}

func TestMockAnalytics(t *testing.T) {
	m := NewMockAnalytics()
	require.NoError(t, m.RecordWaterfall(context.Background(), "req-1", waterfall.ModeWaterfall, fallbackResult()))
	require.NoError(t, m.RecordWaterfall(context.Background(), "req-2", waterfall.ModeWaterfall, nil))

	events := m.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "req-1", events[0].RequestID)

	m.Err = errors.New("clickhouse down")
	assert.Error(t, m.RecordWaterfall(context.Background(), "req-3", waterfall.ModeWaterfall, fallbackResult()))
}
