package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/polyindex/polyindex/polyindex/errors"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "bulbs", cfg.Database.Name)
	assert.Equal(t, "sqlite", cfg.Database.Backend)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 250, cfg.Reindex.BatchSize)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polyindex.yaml")
	yamlContent := `
database:
  name: "My Site"
  sqlite_path: /tmp/site.db
search:
  data_dir: /tmp/search
reindex:
  batch_size: 100
models:
  manifest: models.yaml
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))
	t.Setenv("POLYINDEX_BATCH_SIZE", "50")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "My Site", cfg.Database.Name)
	assert.Equal(t, "/tmp/site.db", cfg.Database.SQLitePath)
	assert.Equal(t, "/tmp/search", cfg.Search.DataDir)
	assert.Equal(t, 50, cfg.Reindex.BatchSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Database.Backend = "oracle" }},
		{"postgres without dsn", func(c *Config) { c.Database.Backend = "postgres" }},
		{"bad driver", func(c *Config) { c.Database.Driver = "sqlcipher" }},
		{"zero batch", func(c *Config) { c.Reindex.BatchSize = 0 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tc.edit(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.True(t, perrors.IsCode(err, perrors.ErrConfig))
		})
	}
}

func TestLogger(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Log.Development = true
	logger, err := cfg.Logger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
