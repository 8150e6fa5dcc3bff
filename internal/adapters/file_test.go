package adapters

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "adapters.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFileRegistry(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, `
adapters:
  - id: unity
    enabled: true
    priority: 2
    endpoint: http://unity.local/bid
    timeout_ms: 150
  - id: applovin
    enabled: true
    priority: 1
    floor_cpm: 0.5
  - id: paused
    enabled: false
    priority: 0
`)
	reg := NewFileRegistry(path)

	list, err := reg.GetAdapterConfig(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "paused", list[0].ID)
	assert.Equal(t, "applovin", list[1].ID)
	assert.Equal(t, 0.5, list[1].FloorCPM)
	assert.Equal(t, "unity", list[2].ID)
	assert.Equal(t, 150, list[2].TimeoutMS)
	assert.Equal(t, "http://unity.local/bid", list[2].Endpoint)

	writeFile(t, dir, "adapters:\n  - id: only\n    enabled: true\n")
	list, err = reg.GetAdapterConfig(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "only", list[0].ID)
}

func TestFileRegistry_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewFileRegistry(filepath.Join(dir, "missing.yaml")).GetAdapterConfig(context.Background())
	assert.Error(t, err)

	path := writeFile(t, dir, "adapters: [this is: not valid")
	_, err = NewFileRegistry(path).GetAdapterConfig(context.Background())
	assert.Error(t, err)

	path = writeFile(t, dir, "adapters:\n  - enabled: true\n")
	_, err = NewFileRegistry(path).GetAdapterConfig(context.Background())
	assert.ErrorIs(t, err, ErrInvalidAdapter)
}

func TestFileRegistry_IsReadOnly(t *testing.T) {
	var reg Registry = NewFileRegistry("unused")
	_, ok := reg.(WritableRegistry)
	assert.False(t, ok)
}
