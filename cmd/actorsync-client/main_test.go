package main

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDialsLoopbackByDefault(t *testing.T) {
	cfg, extra, err := loadConfig(nil, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7777", cfg.Address())
	assert.Equal(t, 5.0, extra.radius)
}

func TestLoadConfigFlags(t *testing.T) {
	cfg, extra, err := loadConfig([]string{"-address", "10.0.0.2", "-port", "9000", "-period", "1s"}, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.2:9000", cfg.Address())
	assert.Equal(t, time.Second, extra.period)

	_, _, err = loadConfig([]string{"-period", "0s"}, map[string]string{})
	assert.Error(t, err)
}

func TestLoadConfigRejectsPortZero(t *testing.T) {
	_, _, err := loadConfig([]string{"-port", "0"}, map[string]string{})
	assert.ErrorContains(t, err, "port")

	_, _, err = loadConfig(nil, map[string]string{"ACTORSYNC_PORT": "0"})
	assert.Error(t, err)
}

func TestCircleAt(t *testing.T) {
	start := circleAt(0, 2, time.Second)
	assert.InDelta(t, 2, start.Position[0], 1e-5)
	assert.InDelta(t, 0, start.Position[2], 1e-5)
	assert.InDelta(t, 1, start.Rotation[3], 1e-5)

	quarter := circleAt(250*time.Millisecond, 2, time.Second)
	assert.InDelta(t, 0, quarter.Position[0], 1e-5)
	assert.InDelta(t, 2, quarter.Position[2], 1e-5)

	lap := circleAt(time.Second, 2, time.Second)
	assert.Equal(t, start, lap)

	r := quarter.Rotation
	norm := math.Sqrt(float64(r[0]*r[0] + r[1]*r[1] + r[2]*r[2] + r[3]*r[3]))
	assert.InDelta(t, 1, norm, 1e-5)
}
