// Package analytics persists waterfall outcomes to ClickHouse for offline
// fill-rate analysis.
package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"github.com/rivalapexmediation/auction/internal/models"
	"github.com/rivalapexmediation/auction/internal/observability"
	"github.com/rivalapexmediation/auction/internal/waterfall"
)

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = errors.New("analytics unavailable")

// Service records orchestration outcomes. Implementations return
// ErrUnavailable when their storage is not configured.
type Service interface {
	RecordWaterfall(ctx context.Context, requestID, mode string, r *waterfall.Result) error
}

var _ Service = (*Analytics)(nil)

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB      *sql.DB
	Metrics observability.MetricsRegistry
}

// WaterfallEvent mirrors a row in the waterfall_events table.
type WaterfallEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	RequestID     string    `json:"request_id"`
	Mode          string    `json:"mode"`
	Success       bool      `json:"success"`
	FallbackUsed  bool      `json:"fallback_used"`
	Attempts      int       `json:"attempts"`
	DurationMS    float64   `json:"duration_ms"`
	FinalReason   string    `json:"final_reason"`
	WinnerAdapter string    `json:"winner_adapter"`
	WinningPrice  float64   `json:"winning_price"`
	Adapters      []string  `json:"adapters"`
}

const createTable = `CREATE TABLE IF NOT EXISTS waterfall_events (
    timestamp      DateTime64(3),
    request_id     String,
    mode           LowCardinality(String),
    success        UInt8,
    fallback_used  UInt8,
    attempts       UInt16,
    duration_ms    Float64,
    final_reason   LowCardinality(String),
    winner_adapter String,
    winning_price  Float64,
    adapters       Array(String)
) ENGINE=MergeTree() ORDER BY (mode, timestamp)`

// InitClickHouse connects to ClickHouse and ensures the waterfall_events table exists.
func InitClickHouse(dsn string, maxOpenConns int, metrics observability.MetricsRegistry) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), createTable); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	zap.L().Info("Connected to ClickHouse")
	return &Analytics{DB: db, Metrics: metrics}, nil
}

// NewEvent flattens an orchestration result into a row.
func NewEvent(ts time.Time, requestID, mode string, r *waterfall.Result) WaterfallEvent {
	ev := WaterfallEvent{
		Timestamp:    ts,
		RequestID:    requestID,
		Mode:         mode,
		Success:      r.Success,
		FallbackUsed: r.FallbackUsed,
		Attempts:     len(r.Attempts),
		DurationMS:   float64(r.TotalDuration) / float64(time.Millisecond),
		FinalReason:  reasonOf(r.FinalResult),
		Adapters:     make([]string, 0, len(r.Attempts)),
	}
	if w := r.FinalResult.Winner; w != nil {
		ev.WinnerAdapter = w.AdapterID
		ev.WinningPrice = w.Price
	}
	for _, a := range r.Attempts {
		ev.Adapters = append(ev.Adapters, a.AdaptersQueried...)
	}
	return ev
}

// RecordWaterfall inserts one row for r.
func (a *Analytics) RecordWaterfall(ctx context.Context, requestID, mode string, r *waterfall.Result) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	if r == nil {
		return nil
	}
	ev := NewEvent(time.Now().UTC(), requestID, mode, r)

	_, err := a.DB.ExecContext(ctx,
		`INSERT INTO waterfall_events (timestamp, request_id, mode, success, fallback_used, attempts, duration_ms, final_reason, winner_adapter, winning_price, adapters) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		ev.Timestamp, ev.RequestID, ev.Mode, boolToUInt8(ev.Success), boolToUInt8(ev.FallbackUsed), uint16(min(ev.Attempts, 65535)),
		ev.DurationMS, ev.FinalReason, ev.WinnerAdapter, ev.WinningPrice, ev.Adapters)
	if err != nil {
		a.Metrics.IncrementAnalyticsErrors()
		return fmt.Errorf("insert waterfall event: %w", err)
	}
	return nil
}

// ModeSummary aggregates waterfall_events for one mode.
type ModeSummary struct {
	Mode                   string  `json:"mode"`
	TotalRequests          int64   `json:"total_requests"`
	SuccessfulFirstAttempt int64   `json:"successful_first_attempt"`
	SuccessfulWithFallback int64   `json:"successful_with_fallback"`
	FailedAllAttempts      int64   `json:"failed_all_attempts"`
	AverageAttempts        float64 `json:"average_attempts"`
	AverageDurationMS      float64 `json:"average_duration_ms"`
	FillRate               float64 `json:"fill_rate"`
}

// Summary aggregates events recorded since the given time, one row per mode.
func (a *Analytics) Summary(ctx context.Context, since time.Time) ([]ModeSummary, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	rows, err := a.DB.QueryContext(ctx, `SELECT mode,
    count() AS total,
    countIf(success = 1 AND fallback_used = 0) AS first_attempt,
    countIf(success = 1 AND fallback_used = 1) AS fallback,
    countIf(success = 0) AS failed,
    avg(attempts) AS avg_attempts,
    avg(duration_ms) AS avg_duration
FROM waterfall_events WHERE timestamp >= ? GROUP BY mode ORDER BY mode`, since)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var out []ModeSummary
	for rows.Next() {
		var s ModeSummary
		var total, first, fallback, failed uint64
		if err := rows.Scan(&s.Mode, &total, &first, &fallback, &failed, &s.AverageAttempts, &s.AverageDurationMS); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.TotalRequests, s.SuccessfulFirstAttempt = int64(total), int64(first)
		s.SuccessfulWithFallback, s.FailedAllAttempts = int64(fallback), int64(failed)
		s.FillRate = fillRate(s)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// EventsByRequestID returns every event recorded for a request, oldest first.
func (a *Analytics) EventsByRequestID(ctx context.Context, id string) ([]WaterfallEvent, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	rows, err := a.DB.QueryContext(ctx, `SELECT timestamp, request_id, mode, success, fallback_used, attempts, duration_ms, final_reason, winner_adapter, winning_price, adapters FROM waterfall_events WHERE request_id=? ORDER BY timestamp`, id)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var events []WaterfallEvent
	for rows.Next() {
		var ev WaterfallEvent
		var success, fallback uint8
		var attempts uint16
		if err := rows.Scan(&ev.Timestamp, &ev.RequestID, &ev.Mode, &success, &fallback, &attempts, &ev.DurationMS,
			&ev.FinalReason, &ev.WinnerAdapter, &ev.WinningPrice, &ev.Adapters); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Success, ev.FallbackUsed, ev.Attempts = success == 1, fallback == 1, int(attempts)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}

func fillRate(s ModeSummary) float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.SuccessfulFirstAttempt+s.SuccessfulWithFallback) / float64(s.TotalRequests)
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// reasonOf is the label stored for an unfilled outcome.
func reasonOf(o models.AuctionOutcome) string {
	if o.Success {
		return ""
	}
	if o.NoBidReason == "" {
		return "no_bid"
	}
	return o.NoBidReason
}
