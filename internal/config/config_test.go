package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PAPERCHAT_CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 1000, cfg.ChunkSize)
	require.Equal(t, 200, cfg.ChunkOverlap)
	require.Equal(t, 4, cfg.TopK)
	require.True(t, cfg.UsesDefaultTokens())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paperchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chunk_size: 500
chunk_overlap: 50
index_backend: memory
request_timeout: 5s
allowed_origins: [https://a.example]
`), 0o644))
	t.Setenv("PAPERCHAT_CONFIG_FILE", path)
	t.Setenv("PAPERCHAT_CHUNK_OVERLAP", "100")
	t.Setenv("PAPERCHAT_ALLOWED_ORIGINS", "https://b.example, https://c.example")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 500, cfg.ChunkSize)
	require.Equal(t, 100, cfg.ChunkOverlap)
	require.Equal(t, "memory", cfg.IndexBackend)
	require.Equal(t, 5*time.Second, cfg.RequestTimeout)
	require.Equal(t, []string{"https://b.example", "https://c.example"}, cfg.AllowedOrigins)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PAPERCHAT_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "bolt", cfg.IndexBackend)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.ChunkOverlap = cfg.ChunkSize
	require.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.IndexBackend = "redis"
	cfg.IngestMode = "cron"
	err := cfg.Validate()
	require.ErrorContains(t, err, "index_backend")
	require.ErrorContains(t, err, "ingest_mode")
}

func TestValidateTemporalNeedsSharedStore(t *testing.T) {
	for _, backend := range []string{"bolt", "memory"} {
		cfg := Defaults()
		cfg.IngestMode = "temporal"
		cfg.IndexBackend = backend
		require.ErrorContains(t, cfg.Validate(), "requires index_backend postgres", backend)
	}

	cfg := Defaults()
	cfg.IngestMode = "temporal"
	cfg.IndexBackend = "postgres"
	require.NoError(t, cfg.Validate())
}
