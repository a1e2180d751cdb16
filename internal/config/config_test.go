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
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("CONFIG_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 5*time.Second, cfg.Signal.RetryInterval)
	assert.Equal(t, 11, cfg.Signal.RetryLimit)
	assert.Equal(t, 10*time.Minute, cfg.Signal.ExpiredTTL)
	assert.Equal(t, 4096, cfg.Signal.ExpiredCapacity)
	assert.Equal(t, 6, cfg.Signal.StageCapacity)
	assert.Equal(t, 50, cfg.Relay.RateLimit)
	assert.Equal(t, time.Second, cfg.Relay.RateWindow)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	body := []byte(`
mode: debug
port: 9090
signaling:
  retry_interval: 2s
  retry_limit: 3
  stage_capacity: 2
relay:
  rate_limit: 5
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.test.yaml"), body, 0o600))
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("CONFIG_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.Signal.RetryInterval)
	assert.Equal(t, 3, cfg.Signal.RetryLimit)
	assert.Equal(t, 2, cfg.Signal.StageCapacity)
	assert.Equal(t, 5, cfg.Relay.RateLimit)
	// untouched keys keep their defaults
	assert.Equal(t, 64, cfg.Signal.OutboxSize)
}

func TestLoadEnvOverridesNestedKeys(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("CLASSROOM_PORT", "9999")
	t.Setenv("CLASSROOM_SIGNALING_RETRY_LIMIT", "3")
	t.Setenv("CLASSROOM_RELAY_RATE_WINDOW", "250ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 3, cfg.Signal.RetryLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Relay.RateWindow)
}
