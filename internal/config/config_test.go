package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.LogLevel, cfg.LogLevel)
	assert.Equal(t, def.Socket.MaxConnections, cfg.Socket.MaxConnections)
	assert.True(t, cfg.Auth.TokenRequired)
	assert.Equal(t, time.Second, cfg.Channel.ReadTimeout)
	assert.Equal(t, time.Second, cfg.Channel.PropertiesTTL)
	assert.Equal(t, 5*time.Second, cfg.Channel.PropertiesTimeout)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := strings.Join([]string{
		"log_level: debug",
		"socket:",
		"  max_connections: 3",
		"  permissions: \"0660\"",
		"auth:",
		"  token_required: false",
		"channel:",
		"  read_timeout: 250ms",
		"websocket:",
		"  addr: 127.0.0.1:9911",
		"engine:",
		"  shell: /bin/bash",
		"debug:",
		"  pprof: true",
		"  heap_profile: /tmp/heap.pprof",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.Socket.MaxConnections)
	assert.Equal(t, os.FileMode(0660), cfg.Socket.FileMode())
	assert.False(t, cfg.Auth.TokenRequired)
	assert.Equal(t, 250*time.Millisecond, cfg.Channel.ReadTimeout)
	assert.Equal(t, "127.0.0.1:9911", cfg.WebSocket.Addr)
	assert.Equal(t, "/bin/bash", cfg.Engine.Shell)
	assert.True(t, cfg.Debug.Pprof)
	assert.Equal(t, "/tmp/heap.pprof", cfg.Debug.HeapProfile)
	// untouched keys keep defaults
	assert.Equal(t, 5*time.Second, cfg.Channel.CapabilityTimeout)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0644))

	t.Setenv("BUILDWIRE_LOG_LEVEL", "error")
	t.Setenv("BUILDWIRE_SOCKET_MAX_CONNECTIONS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, 7, cfg.Socket.MaxConnections)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("socket:\n  permissions: \"rw-\"\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "socket.permissions")
}

func TestSocketPathIsStablePerProject(t *testing.T) {
	state := t.TempDir()
	s := SocketConfig{StateDir: state}

	a1, err := s.PathFor("/work/project-a")
	require.NoError(t, err)
	a2, err := s.PathFor("/work/project-a/")
	require.NoError(t, err)
	b, err := s.PathFor("/work/project-b")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
	assert.True(t, strings.HasPrefix(a1, filepath.Join(state, "server")))
	assert.Equal(t, "sock", filepath.Base(a1))
}

func TestExplicitSocketAndTokenPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Socket.Path = "/tmp/custom.sock"

	socketPath, err := cfg.Socket.PathFor("/anything")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.sock", socketPath)

	tokenPath, err := cfg.TokenPathFor("/anything")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/token.json", tokenPath)

	cfg.Auth.TokenFile = "/var/run/bw-token.json"
	tokenPath, err = cfg.TokenPathFor("/anything")
	require.NoError(t, err)
	assert.Equal(t, "/var/run/bw-token.json", tokenPath)
}
