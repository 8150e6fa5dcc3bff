package adapters

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

func successKey(id string) string { return "adapter_success:" + id }
func totalKey(id string) string   { return "adapter_total:" + id }

// Performance is the observed fill record of one adapter.
type Performance struct {
	AdapterID   string  `json:"adapter_id"`
	Successes   int64   `json:"successes"`
	Total       int64   `json:"total"`
	SuccessRate float64 `json:"success_rate"`
}

// PerformanceTracker counts scoped auction outcomes per adapter in Redis.
type PerformanceTracker struct {
	client *redis.Client
}

// NewPerformanceTracker returns a tracker backed by client.
func NewPerformanceTracker(client *redis.Client) *PerformanceTracker {
	return &PerformanceTracker{client: client}
}

// Record counts one auction scoped to adapterID.
func (t *PerformanceTracker) Record(ctx context.Context, adapterID string, success bool) error {
	_, err := t.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, totalKey(adapterID))
		if success {
			p.Incr(ctx, successKey(adapterID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record performance for %s: %w", adapterID, err)
	}
	return nil
}

// Performance returns the counters for each of ids. Adapters never recorded
// report zero.
func (t *PerformanceTracker) Performance(ctx context.Context, ids []string) ([]Performance, error) {
	if len(ids) == 0 {
		return []Performance{}, nil
	}
	cmds := make([][2]*redis.StringCmd, len(ids))
	_, err := t.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = [2]*redis.StringCmd{p.Get(ctx, successKey(id)), p.Get(ctx, totalKey(id))}
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load performance: %w", err)
	}

	out := make([]Performance, len(ids))
	for i, id := range ids {
		succ, err := counter(cmds[i][0])
		if err != nil {
			return nil, fmt.Errorf("parse success counter for %s: %w", id, err)
		}
		total, err := counter(cmds[i][1])
		if err != nil {
			return nil, fmt.Errorf("parse total counter for %s: %w", id, err)
		}
		p := Performance{AdapterID: id, Successes: succ, Total: total}
		if total > 0 {
			p.SuccessRate = float64(succ) / float64(total)
		}
		out[i] = p
	}
	return out, nil
}

// counter reads an integer counter. A missing key counts as zero.
func counter(cmd *redis.StringCmd) (int64, error) {
	v, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// SuccessRates returns the success rate of every adapter in ids that has at
// least one recorded auction.
func (t *PerformanceTracker) SuccessRates(ctx context.Context, ids []string) (map[string]float64, error) {
	perf, err := t.Performance(ctx, ids)
	if err != nil {
		return nil, err
	}
	rates := make(map[string]float64, len(perf))
	for _, p := range perf {
		if p.Total > 0 {
			rates[p.AdapterID] = p.SuccessRate
		}
	}
	return rates, nil
}

// Reset clears the counters for ids.
func (t *PerformanceTracker) Reset(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, 2*len(ids))
	for _, id := range ids {
		keys = append(keys, successKey(id), totalKey(id))
	}
	return t.client.Del(ctx, keys...).Err()
}
