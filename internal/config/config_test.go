package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("CLOACINA_TEST_VAR", "hello")

	out, err := ExpandEnv("value: ${CLOACINA_TEST_VAR}")
	require.NoError(t, err)
	assert.Equal(t, "value: hello", out)

	out, err = ExpandEnv("value: ${CLOACINA_MISSING_VAR:-fallback}")
	require.NoError(t, err)
	assert.Equal(t, "value: fallback", out)

	_, err = ExpandEnv("value: ${CLOACINA_MISSING_VAR}")
	assert.Error(t, err)

	_, err = ExpandEnv("value: ${CLOACINA_MISSING_VAR:?must be set for tests}")
	assert.ErrorContains(t, err, "must be set for tests")
}

func TestLoadAppliesDefaultsAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  url: "postgres://localhost/cloacina"
registry:
  storage_type: filesystem
  storage_path: /var/lib/cloacina/packages
`), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/cloacina", cfg.Database.URL)
	assert.Equal(t, 10, cfg.Database.PoolSize)
	assert.Equal(t, "auto", cfg.Execution.WorkerThreads)
	assert.Equal(t, "postgres", cfg.DatabaseBackend())
}

func TestLoadRejectsMissingDatabaseURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
registry:
  storage_type: filesystem
  storage_path: /tmp/pkgs
`), 0o644))

	_, err := Load(path, nil)
	assert.ErrorContains(t, err, "database.url")
}

func TestValidateRejectsBadPoolSize(t *testing.T) {
	cfg := Default()
	cfg.Database.URL = "sqlite:///tmp/x.db"
	cfg.Registry.StoragePath = "/tmp/pkgs"
	cfg.Database.PoolSize = 0
	assert.Error(t, cfg.Validate())
	cfg.Database.PoolSize = 101
	assert.Error(t, cfg.Validate())
}
