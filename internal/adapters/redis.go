package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rivalapexmediation/auction/internal/models"
)

const adapterSetKey = "adapters"

func adapterKey(id string) string { return "adapter:" + id }

// RedisRegistry keeps each adapter as JSON under adapter:<id> and the set of
// known IDs under "adapters".
type RedisRegistry struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisRegistry returns a registry backed by client.
func NewRedisRegistry(client *redis.Client, logger *zap.Logger) *RedisRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRegistry{client: client, logger: logger.Named("adapters")}
}

// GetAdapterConfig implements Registry. IDs whose descriptor is missing or
// unreadable are skipped.
func (r *RedisRegistry) GetAdapterConfig(ctx context.Context) ([]models.AdapterDescriptor, error) {
	ids, err := r.client.SMembers(ctx, adapterSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list adapters: %w", err)
	}
	if len(ids) == 0 {
		return []models.AdapterDescriptor{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = adapterKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load adapters: %w", err)
	}

	out := make([]models.AdapterDescriptor, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			r.logger.Warn("adapter listed without descriptor", zap.String("adapter", ids[i]))
			continue
		}
		var a models.AdapterDescriptor
		if err := json.Unmarshal([]byte(s), &a); err != nil {
			r.logger.Warn("invalid adapter descriptor", zap.String("adapter", ids[i]), zap.Error(err))
			continue
		}
		out = append(out, a)
	}
	sortAdapters(out)
	return out, nil
}

// Get returns a single adapter.
func (r *RedisRegistry) Get(ctx context.Context, id string) (models.AdapterDescriptor, error) {
	var a models.AdapterDescriptor
	s, err := r.client.Get(ctx, adapterKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return a, fmt.Errorf("%s: %w", id, ErrAdapterNotFound)
	}
	if err != nil {
		return a, fmt.Errorf("get adapter %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return a, fmt.Errorf("decode adapter %s: %w", id, err)
	}
	return a, nil
}

// Upsert implements WritableRegistry.
func (r *RedisRegistry) Upsert(ctx context.Context, a models.AdapterDescriptor) error {
	if err := Validate(a); err != nil {
		return err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode adapter %s: %w", a.ID, err)
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, adapterKey(a.ID), data, 0)
		p.SAdd(ctx, adapterSetKey, a.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store adapter %s: %w", a.ID, err)
	}
	return nil
}

// Delete implements WritableRegistry.
func (r *RedisRegistry) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, adapterKey(id))
		p.SRem(ctx, adapterSetKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete adapter %s: %w", id, err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("%s: %w", id, ErrAdapterNotFound)
	}
	return nil
}

// SetEnabled toggles an adapter without touching the rest of its descriptor.
func (r *RedisRegistry) SetEnabled(ctx context.Context, id string, enabled bool) error {
	a, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	a.Enabled = enabled
	return r.Upsert(ctx, a)
}
