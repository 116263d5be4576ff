package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Queue.MaxRetries)
	assert.Equal(t, "10m", cfg.Queue.ExtractVisibility)
	assert.Equal(t, "30s", cfg.Orchestrator.TickInterval)
	assert.Equal(t, 10000, cfg.Orchestrator.ExtractQueueHWM)
	assert.Equal(t, 5000, cfg.Orchestrator.ExtractQueueLWM)
	assert.Equal(t, 100, cfg.Extract.BatchSize)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "confluo.toml")
	content := `
[server]
port = 9090

[queue]
max_retries = 3

[orchestrator]
tick_interval = "10s"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, "10s", cfg.Orchestrator.TickInterval)
	// Untouched values keep defaults
	assert.Equal(t, "localhost", cfg.Server.Host)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MAX_RETRIES", "7")
	t.Setenv("EXTRACT_QUEUE_HWM", "500")
	t.Setenv("EXTRACT_QUEUE_LWM", "100")
	t.Setenv("DEFAULT_BATCH_SIZE", "25")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Queue.MaxRetries)
	assert.Equal(t, 500, cfg.Orchestrator.ExtractQueueHWM)
	assert.Equal(t, 100, cfg.Orchestrator.ExtractQueueLWM)
	assert.Equal(t, 25, cfg.Extract.BatchSize)
}

func TestValidateRejectsBadDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Orchestrator.TickInterval = "not-a-duration"

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsInvertedWatermarks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Orchestrator.ExtractQueueHWM = 10
	cfg.Orchestrator.ExtractQueueLWM = 20

	assert.Error(t, cfg.Validate())
}
