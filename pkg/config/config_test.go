package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10.0, cfg.Alignment.Oversampling)
	assert.Equal(t, 10, cfg.Alignment.Iterations)
	assert.Equal(t, 160.0, cfg.Alignment.PixelSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Alignment.PollInterval)
	assert.False(t, cfg.Output.MergeGroups)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Alignment.Oversampling = 4
	cfg.Alignment.Iterations = 3
	cfg.Alignment.PollInterval = 250 * time.Millisecond
	cfg.Output.MergeGroups = true
	cfg.Output.MetricsFile = "run.prom"
	cfg.Output.GrayImage = "out/average_gray.png"
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadConfigPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("alignment:\n  iterations: 2\n  pollInterval: 100ms\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Alignment.Iterations)
	assert.Equal(t, 100*time.Millisecond, cfg.Alignment.PollInterval)
	assert.Equal(t, 10.0, cfg.Alignment.Oversampling)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("alignment:\n  oversampling: 0\n  workers: -1\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oversampling")
	assert.Contains(t, err.Error(), "workers")
}

func TestValidateReportsEveryInvalidField(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Alignment.Oversampling = -1
	cfg.Alignment.Iterations = -2
	cfg.Alignment.PixelSize = 0
	cfg.Alignment.Workers = -3
	cfg.Alignment.PollInterval = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, field := range []string{"oversampling", "iterations", "pixelSize", "workers", "pollInterval"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("alignment: [unclosed"), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
