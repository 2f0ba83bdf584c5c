package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Server.Listeners, 1)
	assert.Equal(t, "tcp", cfg.Server.Listeners[0].Protocol)
}

func TestLoad(t *testing.T) {
	content := `
log:
  level: debug
server:
  listeners:
    - protocol: tcp
      addr: ":9000"
    - protocol: websocket
      addr: ":9001"
  backlog_size: 64
  handshake:
    timeout: 5s
  registry:
    idle_window: 1m
  token:
    secret: unit-test-secret
    ttl: 10m
  handshake_rate: 100
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	require.Len(t, cfg.Server.Listeners, 2)
	assert.Equal(t, ":9001", cfg.Server.Listeners[1].Addr)
	assert.Equal(t, 64, cfg.Server.BacklogSize)
	assert.Equal(t, 5*time.Second, cfg.Server.Handshake.Timeout)
	assert.Equal(t, time.Minute, cfg.Server.Registry.IdleWindow)
	assert.Equal(t, "unit-test-secret", cfg.Server.Token.Secret)
	assert.Equal(t, 10*time.Minute, cfg.Server.Token.TTL)
	assert.Equal(t, float64(100), cfg.Server.HandshakeRate)

	// 未出现的字段保留默认值
	assert.Equal(t, Default().Server.MaxFrameSize, cfg.Server.MaxFrameSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.Listeners[0].Protocol = "carrier-pigeon"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Server.Listeners = nil
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Server.Listeners[0].Addr = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Server.HandshakeRate = -1
	assert.Error(t, cfg.Validate())
}
