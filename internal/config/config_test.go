package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "0.0.0.0:8080", cfg.Network.BindAddress)
	assert.Equal(t, "/ws", cfg.Network.WSPath)
	assert.Equal(t, 64, cfg.Network.OutQueueSize)
	assert.Equal(t, 60*time.Second, cfg.Network.HeartbeatTimeout)
	assert.Equal(t, 800.0, cfg.World.Width)
	assert.Equal(t, 600.0, cfg.World.Height)
	assert.Equal(t, 256, cfg.World.MaxChatLen)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[network]
bind_address = "127.0.0.1:9090"
heartbeat_timeout = "30s"

[world]
max_chat_len = 128

[database]
enabled = false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Network.BindAddress)
	assert.Equal(t, 30*time.Second, cfg.Network.HeartbeatTimeout)
	assert.Equal(t, 128, cfg.World.MaxChatLen)
	assert.False(t, cfg.Database.Enabled)

	// untouched keys keep their defaults
	assert.Equal(t, "/ws", cfg.Network.WSPath)
	assert.Equal(t, 10*time.Second, cfg.Network.WriteTimeout)
	assert.Equal(t, 800.0, cfg.World.Width)

	assert.NotZero(t, cfg.Server.StartTime)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadBadToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte("not [valid toml"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
