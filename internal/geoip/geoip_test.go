package geoip

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geo.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"net": "203.0.113.0/24", "country": "US", "region": "CA"},
		{"net": "198.51.100.0/24", "country": "DE"},
		{"net": "not-a-cidr", "country": "XX"}
	]`), 0o600))

	g, err := Init(path)
	require.NoError(t, err)
	defer func() { _ = g.Close() }()

	assert.Equal(t, Location{Country: "US", Region: "CA"}, g.Lookup("203.0.113.7"))
	assert.Equal(t, Location{Country: "DE"}, g.Lookup("198.51.100.1"))
	assert.Equal(t, Location{}, g.Lookup("192.0.2.1"))
	assert.Equal(t, Location{}, g.Lookup("garbage"))
}

func TestInit_Errors(t *testing.T) {
	_, err := Init(filepath.Join(t.TempDir(), "missing.mmdb"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`nope`), 0o600))
	_, err = Init(path)
	require.Error(t, err)
	var syntaxErr *json.SyntaxError
	assert.ErrorAs(t, err, &syntaxErr, "the json fallback failure must be reported too")
	assert.Contains(t, err.Error(), "json fallback")
}

func TestLookup_Nil(t *testing.T) {
	var g *GeoIP
	assert.Equal(t, Location{}, g.Lookup("203.0.113.7"))
	assert.NoError(t, g.Close())
}
