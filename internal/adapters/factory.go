package adapters

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rivalapexmediation/auction/internal/config"
	"github.com/rivalapexmediation/auction/internal/db"
)

// NewRegistry builds the registry selected by cfg.RegistryBackend. The store
// for the chosen backend must be non-nil.
func NewRegistry(cfg config.Config, rs *db.RedisStore, pg *db.Postgres, logger *zap.Logger) (Registry, error) {
	switch cfg.RegistryBackend {
	case config.RegistryRedis, "":
		if rs == nil {
			return nil, errors.New("redis registry requires a redis connection")
		}
		return NewRedisRegistry(rs.Client, logger), nil
	case config.RegistryPostgres:
		if pg == nil {
			return nil, errors.New("postgres registry requires a postgres connection")
		}
		return NewPostgresRegistry(pg), nil
	case config.RegistryFile:
		return NewFileRegistry(cfg.AdapterFile), nil
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.RegistryBackend)
	}
}
