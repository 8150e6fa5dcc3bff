package adapters

import (
	"context"
	"fmt"
	"sync"

	"github.com/rivalapexmediation/auction/internal/models"
)

// StaticRegistry is an in-memory registry.
type StaticRegistry struct {
	mu       sync.RWMutex
	adapters map[string]models.AdapterDescriptor
}

// NewStaticRegistry returns a registry seeded with list.
func NewStaticRegistry(list ...models.AdapterDescriptor) *StaticRegistry {
	r := &StaticRegistry{adapters: make(map[string]models.AdapterDescriptor, len(list))}
	for _, a := range list {
		r.adapters[a.ID] = a
	}
	return r
}

func (r *StaticRegistry) GetAdapterConfig(ctx context.Context) ([]models.AdapterDescriptor, error) {
	r.mu.RLock()
	out := make([]models.AdapterDescriptor, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	r.mu.RUnlock()
	sortAdapters(out)
	return out, nil
}

func (r *StaticRegistry) Upsert(ctx context.Context, a models.AdapterDescriptor) error {
	if err := Validate(a); err != nil {
		return err
	}
	r.mu.Lock()
	r.adapters[a.ID] = a
	r.mu.Unlock()
	return nil
}

func (r *StaticRegistry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[id]; !ok {
		return fmt.Errorf("%s: %w", id, ErrAdapterNotFound)
	}
	delete(r.adapters, id)
	return nil
}
