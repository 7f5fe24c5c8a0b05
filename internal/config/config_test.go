package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topograph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7474", cfg.Listen)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "topograph.db", cfg.Store.SQLite.Path)
	assert.Equal(t, "bolt://localhost:7687", cfg.Store.Neo4j.URI)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
store:
  backend: sqlite
  sqlite:
    path: /var/lib/topograph/records.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/topograph/records.db", cfg.Store.SQLite.Path)
}

func TestLoadNeo4j(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: neo4j
  neo4j:
    uri: bolt://graph:7687
    username: svc
    password: secret
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "neo4j", cfg.Store.Backend)
	assert.Equal(t, "bolt://graph:7687", cfg.Store.Neo4j.URI)
	assert.Equal(t, "svc", cfg.Store.Neo4j.Username)
	assert.Equal(t, "neo4j", cfg.Store.Neo4j.Database)
}

func TestLoadUnknownBackend(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: cassandra
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TOPOGRAPH_LISTEN", ":8181")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8181", cfg.Listen)
}
