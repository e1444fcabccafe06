package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_MissingFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexistent.json")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Agent.TokenLimit)
	assert.NotEmpty(t, cfg.DataDir)
	assert.NotEmpty(t, cfg.Graph.DBPath)
}

func TestLoader_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reverie.json")

	content := `{
		"data_dir": "` + dir + `",
		"agent": {"token_limit": 4000, "max_passes": 5},
		"sessions": {"ttl": "30m", "sweep_interval": "1m"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Agent.TokenLimit)
	assert.Equal(t, 5, cfg.Agent.MaxPasses)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "graph.db"), cfg.Graph.DBPath)
	assert.Equal(t, filepath.Join(dir, "memory.db"), cfg.Memory.DBPath)
}

func TestLoader_InvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reverie.json")

	content := `{"agent": {"token_limit": -5}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	_, err := NewLoader(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_limit")
}
