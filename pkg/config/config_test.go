package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Sync.MaxConcurrent)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.False(t, cfg.Postgres.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := `
index:
  dataDir: /tmp/idx
sync:
  maxConcurrent: 2
  jobTimeout: 90s
tenants:
  - name: go-docs
    syncInterval: 1h
    source:
      type: filesystem
      root: ./docs
      include: ["**/*.md"]
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))
	t.Setenv("DS_SYNC_MAX_RETRIES", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/idx", cfg.Index.DataDir)
	assert.Equal(t, 2, cfg.Sync.MaxConcurrent)
	assert.Equal(t, 90*time.Second, cfg.Sync.JobTimeout)
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	require.Len(t, cfg.Tenants, 1)
	assert.Equal(t, "filesystem", cfg.Tenants[0].Source.Type)
	assert.Equal(t, []string{"**/*.md"}, cfg.Tenants[0].Source.Include)
	assert.Equal(t, time.Hour, cfg.Tenants[0].SyncInterval)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Sync.MaxConcurrent = 0
	cfg.Tenants = []TenantConfig{
		{Name: "Bad Name", Source: SourceConfig{Type: "filesystem"}},
		{Name: "ok", Source: SourceConfig{Type: "filesystem"}},
		{Name: "ok", Source: SourceConfig{Type: "filesystem"}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maxConcurrent")
	assert.Contains(t, err.Error(), "Bad Name")
	assert.Contains(t, err.Error(), "duplicate name")
}
