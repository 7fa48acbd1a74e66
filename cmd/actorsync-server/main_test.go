package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/actorsync/config"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(nil, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = 9000\ntick_rate = 30\n"), 0o600))

	env := map[string]string{"ACTORSYNC_TICK_RATE": "20", "ACTORSYNC_BIND_ADDRESS": "127.0.0.1"}
	cfg, err := loadConfig([]string{"-config", path, "-bootstrap-timeout", "2s"}, env)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port, "file overrides default")
	assert.Equal(t, 20, cfg.TickRate, "environment overrides file")
	assert.Equal(t, "127.0.0.1", cfg.BindAddress)
	assert.Equal(t, 2*time.Second, cfg.BootstrapTimeout, "flag overrides default")

	cfg, err = loadConfig([]string{"-config", path, "-tick-rate", "10"}, env)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.TickRate, "flag overrides environment")
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	_, err := loadConfig([]string{"-port", "70000"}, map[string]string{})
	assert.Error(t, err)

	_, err = loadConfig([]string{"-no-such-flag"}, map[string]string{})
	assert.Error(t, err)
}
