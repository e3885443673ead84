package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[stream]
base_url = "http://stream.example:9999"
transport = "websocket"

[graph]
pending_edge_max_cycles = 7
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://stream.example:9999", cfg.Stream.BaseURL)
	assert.Equal(t, "websocket", cfg.Stream.Transport)
	assert.Equal(t, 7, cfg.Graph.PendingEdgeMaxCycles)

	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Patch.Endpoint, cfg.Patch.Endpoint)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("STREAM_BASE_URL", "http://env.example")
	t.Setenv("STREAM_AUTO_RECONNECT", "true")
	t.Setenv("PORT", "9090")

	cfg := Default()
	cfg.ApplyEnv()

	assert.Equal(t, "http://env.example", cfg.Stream.BaseURL)
	assert.True(t, cfg.Stream.AutoReconnect)
	assert.Equal(t, "9090", cfg.Server.Port)
}
