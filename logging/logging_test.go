package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/actorsync/config"
)

func restoreLogger(t *testing.T) {
	t.Helper()
	level, formatter, out := logrus.GetLevel(), logrus.StandardLogger().Formatter, logrus.StandardLogger().Out
	t.Cleanup(func() {
		logrus.SetLevel(level)
		logrus.SetFormatter(formatter)
		logrus.SetOutput(out)
	})
}

func TestConfigureLevelAndFormat(t *testing.T) {
	restoreLogger(t)

	closer, err := Configure(config.LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)
}

func TestConfigureRejectsBadInput(t *testing.T) {
	restoreLogger(t)

	_, err := Configure(config.LogConfig{Level: "loud", Format: "text"})
	assert.Error(t, err)

	_, err = Configure(config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestConfigureWritesRotatingFile(t *testing.T) {
	restoreLogger(t)
	path := filepath.Join(t.TempDir(), "actorsync.log")

	closer, err := Configure(config.LogConfig{Level: "info", Format: "text", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logrus.WithField("function", "TestConfigureWritesRotatingFile").Info("hello rotating file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello rotating file")
}

func TestNewRotatingFileLimits(t *testing.T) {
	w := NewRotatingFile(config.LogConfig{File: "x.log", MaxSizeMB: 5, MaxBackups: -1, MaxAgeDays: 2, Compress: true})

	assert.Equal(t, "x.log", w.Filename)
	assert.Equal(t, 5, w.MaxSize)
	assert.Zero(t, w.MaxBackups)
	assert.Equal(t, 2, w.MaxAge)
	assert.True(t, w.Compress)
}
