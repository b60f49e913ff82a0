package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, "https://api.pomadehq.com", cfg.Remote.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.RemoteTimeout())
	assert.Equal(t, 30*time.Second, cfg.DrainInterval())
	assert.Equal(t, 10*time.Second, cfg.ProbeInterval())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Sync.BatchSize, cfg.Sync.BatchSize)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /tmp/pomade-test
remote:
  base_url: https://staging.pomadehq.com
  timeout_seconds: 5
sync:
  batch_size: 10
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/pomade-test", cfg.DataDir)
	assert.Equal(t, "https://staging.pomadehq.com", cfg.Remote.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.RemoteTimeout())
	assert.Equal(t, 10, cfg.Sync.BatchSize)
	// Values absent from the file keep their defaults.
	assert.Equal(t, Default().Sync.MaxAttempts, cfg.Sync.MaxAttempts)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("POMADE_DATA_DIR", "/tmp/env-dir")
	t.Setenv("POMADE_REMOTE_URL", "https://env.pomadehq.com")
	t.Setenv("POMADE_API_KEY", "env-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env-dir", cfg.DataDir)
	assert.Equal(t, "https://env.pomadehq.com", cfg.Remote.BaseURL)
	assert.Equal(t, "env-key", cfg.Remote.APIKey)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sync:
  batch_size: 0
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size")
}
