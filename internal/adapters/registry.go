// Package adapters stores demand adapter configuration and per-adapter
// performance counters.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rivalapexmediation/auction/internal/models"
)

var (
	// ErrAdapterNotFound is returned when an adapter ID is unknown.
	ErrAdapterNotFound = errors.New("adapter not found")
	// ErrReadOnlyRegistry is returned by backends that cannot be modified at runtime.
	ErrReadOnlyRegistry = errors.New("adapter registry is read-only")
	// ErrInvalidAdapter is returned for descriptors that cannot be stored.
	ErrInvalidAdapter = errors.New("invalid adapter")
)

// Registry returns a fresh snapshot of adapter configuration on every call.
type Registry interface {
	GetAdapterConfig(ctx context.Context) ([]models.AdapterDescriptor, error)
}

// WritableRegistry is a Registry that can be changed at runtime.
type WritableRegistry interface {
	Registry
	Upsert(ctx context.Context, a models.AdapterDescriptor) error
	Delete(ctx context.Context, id string) error
}

// Validate checks a descriptor before it is stored.
func Validate(a models.AdapterDescriptor) error {
	switch {
	case a.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidAdapter)
	case a.TimeoutMS < 0:
		return fmt.Errorf("%w: timeout_ms must not be negative", ErrInvalidAdapter)
	case a.FloorCPM < 0:
		return fmt.Errorf("%w: floor_cpm must not be negative", ErrInvalidAdapter)
	}
	return nil
}

// sortAdapters orders adapters by priority, then id, so every backend returns
// a deterministic list.
func sortAdapters(list []models.AdapterDescriptor) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority < list[j].Priority
		}
		return list[i].ID < list[j].ID
	})
}
