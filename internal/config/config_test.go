package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offload/apps/backend/internal/config"
	"offload/apps/backend/internal/envelope"
)

func TestLoadConfig(t *testing.T) {
	os.Setenv("DB_HOST", "test-host")
	defer os.Unsetenv("DB_HOST")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "test-host", cfg.DBHost)
	assert.Equal(t, 100000, cfg.CacheMaxTokens)
	assert.Equal(t, 25000, cfg.ReadMaxTokens)
	assert.Equal(t, 3, cfg.WorkerMaxAttempts)
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	content := []byte("DB_HOST=loaded-from-file")
	err := os.WriteFile(".env", content, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(".env")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "loaded-from-file", cfg.DBHost)
}

func TestLoadConfig_Toggles(t *testing.T) {
	os.Setenv("ENABLE_API", "false")
	os.Setenv("ENABLE_WORKER", "false")
	os.Setenv("OFFLOAD_ENABLED", "false")
	os.Setenv("WORKER_CONCURRENCY", "4")
	defer os.Unsetenv("ENABLE_API")
	defer os.Unsetenv("ENABLE_WORKER")
	defer os.Unsetenv("OFFLOAD_ENABLED")
	defer os.Unsetenv("WORKER_CONCURRENCY")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.False(t, cfg.EnableAPI)
	assert.False(t, cfg.EnableWorker)
	assert.False(t, cfg.OffloadEnabled)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
}

func TestLoadConfig_Queues(t *testing.T) {
	os.Setenv("TASK_QUEUE_DOCUMENT_INGEST", "https://sqs/ingest")
	os.Setenv("TASK_QUEUE_VIDEO_ANALYZE", "https://sqs/video")
	os.Setenv("RESULT_QUEUE_URL", "https://sqs/results")
	defer os.Unsetenv("TASK_QUEUE_DOCUMENT_INGEST")
	defer os.Unsetenv("TASK_QUEUE_VIDEO_ANALYZE")
	defer os.Unsetenv("RESULT_QUEUE_URL")

	cfg, err := config.Load()
	require.NoError(t, err)

	queues := cfg.TaskQueues()
	assert.Len(t, queues, 2)
	assert.Equal(t, "https://sqs/ingest", queues[envelope.TaskDocumentIngest])
	assert.Equal(t, "https://sqs/video", queues[envelope.TaskVideoAnalyze])
	_, ok := queues[envelope.TaskImageTransform]
	assert.False(t, ok)

	assert.True(t, cfg.BridgeEnabled())
	assert.Equal(t, time.Hour, cfg.DedupTTL())
}

func TestConfig_BridgeEnabled(t *testing.T) {
	cfg := config.Config{EnableBridge: true}
	assert.False(t, cfg.BridgeEnabled(), "no result queue")

	cfg.ResultQueueURL = "https://sqs/results"
	assert.True(t, cfg.BridgeEnabled())

	cfg.EnableBridge = false
	assert.False(t, cfg.BridgeEnabled())
}
