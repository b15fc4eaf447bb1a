package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koi-net/koinet/internal/protocol"
	"github.com/koi-net/koinet/internal/rid"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, protocol.DefaultAPIPath, cfg.Server.Path)
	assert.Equal(t, "leveldb", cfg.Cache.Backend)
	assert.Equal(t, string(protocol.NodeFull), cfg.KoiNet.NodeProfile.NodeType)
	// FULL nodes default their advertised URL to the server address.
	assert.Equal(t, "http://127.0.0.1:8000/koi-net", cfg.KoiNet.NodeProfile.BaseURL)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  port: 9000
koi_net:
  node_name: coordinator
  node_profile:
    node_type: FULL
    provides:
      event: [koi-net.node, koi-net.edge]
      state: [koi-net.node]
  first_contact: http://peer:8000/koi-net
cache:
  backend: memory
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "coordinator", cfg.KoiNet.NodeName)
	assert.Equal(t, "http://peer:8000/koi-net", cfg.KoiNet.FirstContact)
	assert.Equal(t, "memory", cfg.Cache.Backend)

	profile := cfg.Profile()
	assert.Equal(t, protocol.NodeFull, profile.NodeType)
	assert.Equal(t, []rid.Type{rid.NodeType, rid.EdgeType}, profile.Provides.Event)
	assert.Equal(t, []rid.Type{rid.NodeType}, profile.Provides.State)
}

func TestPartialNodeGetsNoDefaultURL(t *testing.T) {
	path := writeConfig(t, `
koi_net:
  node_name: sensor
  node_profile:
    node_type: PARTIAL
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.KoiNet.NodeProfile.BaseURL)
	assert.Equal(t, protocol.NodePartial, cfg.Profile().NodeType)
}

func TestLoadWritesBackCompletedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := Load(path)
	require.NoError(t, err)

	// The completed config landed on disk and reloads identically.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "port: 8000")

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
}

func TestLoadBackfillsIncompleteFile(t *testing.T) {
	path := writeConfig(t, "koi_net:\n  node_name: sensor\n")
	_, err := Load(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "node_name: sensor")
	assert.Contains(t, string(data), "backend: leveldb")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KOI_SERVER_PORT", "9100")
	t.Setenv("KOI_NODE_NAME", "env-node")
	t.Setenv("KOI_CACHE_BACKEND", "redis")
	t.Setenv("KOI_REDIS_ADDR", "127.0.0.1:6379")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "env-node", cfg.KoiNet.NodeName)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "127.0.0.1:6379", cfg.Cache.RedisAddr)
	// Derived values see the overrides too.
	assert.Equal(t, "http://127.0.0.1:9100/koi-net", cfg.KoiNet.NodeProfile.BaseURL)
}

func TestValidation(t *testing.T) {
	_, err := Load(writeConfig(t, `
koi_net:
  node_profile:
    node_type: HYBRID
`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `
cache:
  backend: cassandra
`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `
cache:
  backend: redis
`))
	assert.Error(t, err, "redis backend without an address")
}
