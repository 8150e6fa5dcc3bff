package adapters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivalapexmediation/auction/internal/config"
	"github.com/rivalapexmediation/auction/internal/db"
	"github.com/rivalapexmediation/auction/internal/models"
)

func TestStaticRegistry(t *testing.T) {
	reg := NewStaticRegistry(
		models.AdapterDescriptor{ID: "b", Enabled: true, Priority: 2},
		models.AdapterDescriptor{ID: "a", Enabled: true, Priority: 1},
	)
	ctx := context.Background()

	list, err := reg.GetAdapterConfig(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)

	list[0].Enabled = false
	again, err := reg.GetAdapterConfig(ctx)
	require.NoError(t, err)
	assert.True(t, again[0].Enabled, "callers get a copy")

	require.NoError(t, reg.Upsert(ctx, models.AdapterDescriptor{ID: "c", Priority: 0}))
	require.NoError(t, reg.Delete(ctx, "b"))
	assert.ErrorIs(t, reg.Delete(ctx, "b"), ErrAdapterNotFound)

	list, err = reg.GetAdapterConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, []string{list[0].ID, list[1].ID})
}

func TestNewRegistry(t *testing.T) {
	_, client := setupTestRedis(t)
	rs := &db.RedisStore{Client: client}

	reg, err := NewRegistry(config.Config{RegistryBackend: config.RegistryRedis}, rs, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &RedisRegistry{}, reg)

	reg, err = NewRegistry(config.Config{RegistryBackend: config.RegistryFile, AdapterFile: "x.yaml"}, nil, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileRegistry{}, reg)

	_, err = NewRegistry(config.Config{RegistryBackend: config.RegistryPostgres}, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewRegistry(config.Config{RegistryBackend: config.RegistryRedis}, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewRegistry(config.Config{RegistryBackend: "etcd"}, nil, nil, nil)
	assert.ErrorContains(t, err, "etcd")
}
