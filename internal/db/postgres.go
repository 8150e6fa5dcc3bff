package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rivalapexmediation/auction/internal/models"
)

// ErrNotFound is returned when an update or delete matches no row.
var ErrNotFound = errors.New("not found")

// Postgres wraps a postgres DB connection.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the necessary tables if they don't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS adapters (
    id TEXT PRIMARY KEY,
    endpoint TEXT NOT NULL DEFAULT '',
    enabled BOOLEAN NOT NULL DEFAULT TRUE,
    priority INT NOT NULL DEFAULT 0,
    timeout_ms INT NOT NULL DEFAULT 0,
    floor_cpm DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_adapters_enabled_priority ON adapters (enabled, priority);
`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// LoadAdapters returns every adapter row ordered by priority then id.
func (p *Postgres) LoadAdapters(ctx context.Context) ([]models.AdapterDescriptor, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT id, endpoint, enabled, priority, timeout_ms, floor_cpm FROM adapters ORDER BY priority, id`)
	if err != nil {
		return nil, fmt.Errorf("query adapters: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []models.AdapterDescriptor
	for rows.Next() {
		var a models.AdapterDescriptor
		if err := rows.Scan(&a.ID, &a.Endpoint, &a.Enabled, &a.Priority, &a.TimeoutMS, &a.FloorCPM); err != nil {
			return nil, fmt.Errorf("scan adapter: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate adapters: %w", err)
	}
	return out, nil
}

// UpsertAdapter inserts a or replaces the row with the same id.
func (p *Postgres) UpsertAdapter(ctx context.Context, a models.AdapterDescriptor) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO adapters (id, endpoint, enabled, priority, timeout_ms, floor_cpm, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (id) DO UPDATE SET endpoint=EXCLUDED.endpoint, enabled=EXCLUDED.enabled, priority=EXCLUDED.priority,
    timeout_ms=EXCLUDED.timeout_ms, floor_cpm=EXCLUDED.floor_cpm, updated_at=NOW()`,
		a.ID, a.Endpoint, a.Enabled, a.Priority, a.TimeoutMS, a.FloorCPM)
	if err != nil {
		return fmt.Errorf("upsert adapter %s: %w", a.ID, err)
	}
	return nil
}

// DeleteAdapter removes the adapter with id.
func (p *Postgres) DeleteAdapter(ctx context.Context, id string) error {
	res, err := p.DB.ExecContext(ctx, `DELETE FROM adapters WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete adapter %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("adapter %s: %w", id, ErrNotFound)
	}
	return nil
}
