package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "securestore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
blobstore:
  jwt: file-jwt
  gateway: https://gw.example.com/ipfs
metastore:
  dsn: postgres://localhost/securestore
cache:
  path: /tmp/securestore-cache
logLevel: debug
`), 0o600))

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-jwt", config.Blobstore.JWT)
	assert.Equal(t, "https://gw.example.com/ipfs", config.Blobstore.Gateway)
	assert.Equal(t, "postgres://localhost/securestore", config.Metastore.DSN)
	assert.Equal(t, "/tmp/securestore-cache", config.Cache.Path)
	assert.Equal(t, "debug", config.LogLevel)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	config, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, config.Cache.Path)
	assert.Equal(t, "info", config.LogLevel)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "securestore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
blobstore:
  jwt: file-jwt
metastore:
  dsn: file-dsn
`), 0o600))

	t.Setenv("PINATA_JWT", "env-jwt")
	t.Setenv("DATABASE_URL", "env-dsn")

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-jwt", config.Blobstore.JWT)
	assert.Equal(t, "env-dsn", config.Metastore.DSN)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "securestore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("blobstore: ["), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
