package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "actorsync.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:7777", cfg.Address())
	assert.Equal(t, time.Second/64, cfg.TickInterval())
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysDefinedKeys(t *testing.T) {
	path := writeConfig(t, `
bind_address = "127.0.0.1"
tick_rate = 30
bootstrap_timeout = "2s"

[log]
level = "debug"
file = "/tmp/actorsync.log"
compress = true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.BindAddress)
	assert.Equal(t, DefaultPort, cfg.Port, "undefined keys keep their default")
	assert.Equal(t, 30, cfg.TickRate)
	assert.Equal(t, 2*time.Second, cfg.BootstrapTimeout)
	assert.Equal(t, DefaultBufferSize, cfg.SendBuffer)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "/tmp/actorsync.log", cfg.Log.File)
	assert.True(t, cfg.Log.Compress)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"syntax", `port = `},
		{"bad duration", `bootstrap_timeout = "soon"`},
		{"unknown key", `max_connections = 8`},
		{"wrong type", `port = "seven"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := ApplyEnvFrom(&cfg, map[string]string{
		"ACTORSYNC_PORT":              "9000",
		"ACTORSYNC_TICK_RATE":         "20",
		"ACTORSYNC_BOOTSTRAP_TIMEOUT": "750ms",
		"ACTORSYNC_LOG_FORMAT":        "json",
		"PORT":                        "1",
	})
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 20, cfg.TickRate)
	assert.Equal(t, 750*time.Millisecond, cfg.BootstrapTimeout)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, DefaultBindAddress, cfg.BindAddress, "unset variables leave values alone")
}

func TestApplyEnvInvalid(t *testing.T) {
	cfg := Default()
	err := ApplyEnvFrom(&cfg, map[string]string{"ACTORSYNC_TICK_RATE": "fast"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty bind address", func(c *Config) { c.BindAddress = " " }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"zero tick rate", func(c *Config) { c.TickRate = 0 }},
		{"negative timeout", func(c *Config) { c.BootstrapTimeout = -time.Second }},
		{"zero send buffer", func(c *Config) { c.SendBuffer = 0 }},
		{"zero receive buffer", func(c *Config) { c.ReceiveBuffer = 0 }},
		{"unknown level", func(c *Config) { c.Log.Level = "loud" }},
		{"unknown format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.TickRate = 0
	cfg.SendBuffer = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tick_rate")
	assert.Contains(t, err.Error(), "send_buffer")
}
