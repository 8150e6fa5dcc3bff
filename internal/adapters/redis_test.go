package adapters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rivalapexmediation/auction/internal/models"
)

func TestRedisRegistry_UpsertAndList(t *testing.T) {
	_, client := setupTestRedis(t)
	reg := NewRedisRegistry(client, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, reg.Upsert(ctx, models.AdapterDescriptor{ID: "b", Enabled: true, Priority: 2, Endpoint: "http://b"}))
	require.NoError(t, reg.Upsert(ctx, models.AdapterDescriptor{ID: "a", Enabled: false, Priority: 1}))
	require.NoError(t, reg.Upsert(ctx, models.AdapterDescriptor{ID: "c", Enabled: true, Priority: 1, FloorCPM: 0.25}))

	list, err := reg.GetAdapterConfig(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "c", list[1].ID)
	assert.Equal(t, 0.25, list[1].FloorCPM)
	assert.Equal(t, "b", list[2].ID)
	assert.Equal(t, "http://b", list[2].Endpoint)
}

func TestRedisRegistry_ReadsFreshEveryCall(t *testing.T) {
	s, client := setupTestRedis(t)
	reg := NewRedisRegistry(client, zap.NewNop())
	ctx := context.Background()

	list, err := reg.GetAdapterConfig(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	// Written by another process.
	_, err = s.SetAdd(adapterSetKey, "x")
	require.NoError(t, err)
	require.NoError(t, s.Set(adapterKey("x"), `{"id":"x","enabled":true,"priority":4}`))

	list, err = reg.GetAdapterConfig(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.AdapterDescriptor{ID: "x", Enabled: true, Priority: 4}, list[0])
}

func TestRedisRegistry_SkipsBrokenEntries(t *testing.T) {
	s, client := setupTestRedis(t)
	reg := NewRedisRegistry(client, zap.NewNop())

	_, err := s.SetAdd(adapterSetKey, "ghost", "bad", "ok")
	require.NoError(t, err)
	require.NoError(t, s.Set(adapterKey("bad"), `{not json`))
	require.NoError(t, s.Set(adapterKey("ok"), `{"id":"ok","enabled":true}`))

	list, err := reg.GetAdapterConfig(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ok", list[0].ID)
}

func TestRedisRegistry_DeleteAndSetEnabled(t *testing.T) {
	_, client := setupTestRedis(t)
	reg := NewRedisRegistry(client, nil)
	ctx := context.Background()

	require.NoError(t, reg.Upsert(ctx, models.AdapterDescriptor{ID: "a", Enabled: true, Priority: 1}))
	require.NoError(t, reg.SetEnabled(ctx, "a", false))

	a, err := reg.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, a.Enabled)
	assert.Equal(t, 1, a.Priority)

	require.NoError(t, reg.Delete(ctx, "a"))
	assert.ErrorIs(t, reg.Delete(ctx, "a"), ErrAdapterNotFound)
	_, err = reg.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrAdapterNotFound)
	assert.ErrorIs(t, reg.SetEnabled(ctx, "a", true), ErrAdapterNotFound)

	list, err := reg.GetAdapterConfig(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRedisRegistry_RejectsInvalid(t *testing.T) {
	_, client := setupTestRedis(t)
	reg := NewRedisRegistry(client, nil)

	assert.ErrorIs(t, reg.Upsert(context.Background(), models.AdapterDescriptor{}), ErrInvalidAdapter)
	assert.ErrorIs(t, reg.Upsert(context.Background(), models.AdapterDescriptor{ID: "a", FloorCPM: -1}), ErrInvalidAdapter)
}

func TestRedisRegistry_Unavailable(t *testing.T) {
	s, client := setupTestRedis(t)
	reg := NewRedisRegistry(client, nil)
	s.Close()

	_, err := reg.GetAdapterConfig(context.Background())
	assert.Error(t, err)
}
