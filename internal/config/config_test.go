package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 1000, cfg.BatchSize)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, 2, cfg.AggregatorConcurrency)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Empty(t, cfg.Archive.Endpoint)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
http_addr: ":9090"
db_path: "/tmp/test.db"
batch_size: 500
worker_concurrency: 8
uploads_per_minute: 10
redis:
  addr: "redis:6379"
  db: 2
archive:
  endpoint: "minio:9000"
  bucket: "artifacts"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, 8, cfg.WorkerConcurrency)
	assert.Equal(t, 10, cfg.UploadsPerMinute)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "minio:9000", cfg.Archive.Endpoint)

	// Unset fields fall back to defaults.
	assert.Equal(t, 2, cfg.AggregatorConcurrency)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch_size: -5\nworker_concurrency: 0\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.BatchSize)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch_size: [not an int\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
