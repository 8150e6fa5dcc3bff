package adapters

import (
	"context"
	"errors"
	"fmt"

	"github.com/rivalapexmediation/auction/internal/db"
	"github.com/rivalapexmediation/auction/internal/models"
)

// PostgresRegistry reads the adapters table on every call.
type PostgresRegistry struct {
	pg *db.Postgres
}

// NewPostgresRegistry returns a registry backed by pg.
func NewPostgresRegistry(pg *db.Postgres) *PostgresRegistry {
	return &PostgresRegistry{pg: pg}
}

func (r *PostgresRegistry) GetAdapterConfig(ctx context.Context) ([]models.AdapterDescriptor, error) {
	list, err := r.pg.LoadAdapters(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.AdapterDescriptor{}
	}
	return list, nil
}

func (r *PostgresRegistry) Upsert(ctx context.Context, a models.AdapterDescriptor) error {
	if err := Validate(a); err != nil {
		return err
	}
	return r.pg.UpsertAdapter(ctx, a)
}

func (r *PostgresRegistry) Delete(ctx context.Context, id string) error {
	err := r.pg.DeleteAdapter(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%s: %w", id, ErrAdapterNotFound)
	}
	return err
}
