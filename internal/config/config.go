package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"offload/apps/backend/internal/envelope"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"offload"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"offload"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	RedisAddr       string `envconfig:"REDIS_ADDR"`
	RedisPassword   string `envconfig:"REDIS_PASSWORD"`
	DedupTTLSeconds int    `envconfig:"DEDUP_TTL_SECONDS" default:"3600"`

	// Toggles
	EnableAPI      bool `envconfig:"ENABLE_API" default:"true"`
	EnableBridge   bool `envconfig:"ENABLE_BRIDGE" default:"true"`
	EnableWorker   bool `envconfig:"ENABLE_WORKER" default:"true"`
	OffloadEnabled bool `envconfig:"OFFLOAD_ENABLED" default:"true"`

	// AWS
	AWSRegion         string `envconfig:"AWS_REGION" default:"us-east-1"`
	AWSEndpointURL    string `envconfig:"AWS_ENDPOINT_URL"`
	ComputeBucket     string `envconfig:"COMPUTE_BUCKET" default:"offload-compute"`
	CacheBucket       string `envconfig:"CACHE_BUCKET" default:"offload-cache"`
	MaxObjectBytes    int64  `envconfig:"MAX_OBJECT_BYTES" default:"52428800"` // 50MB
	QueueDocIngest    string `envconfig:"TASK_QUEUE_DOCUMENT_INGEST"`
	QueueImage        string `envconfig:"TASK_QUEUE_IMAGE_TRANSFORM"`
	QueueDocRender    string `envconfig:"TASK_QUEUE_DOCUMENT_RENDER"`
	QueueVideoAnalyze string `envconfig:"TASK_QUEUE_VIDEO_ANALYZE"`
	ResultQueueURL    string `envconfig:"RESULT_QUEUE_URL"`

	// Bridge
	BridgePollIntervalMS     int `envconfig:"BRIDGE_POLL_INTERVAL_MS" default:"1000"`
	BridgeMaxMessages        int `envconfig:"BRIDGE_MAX_MESSAGES" default:"10"`
	BridgeWaitTimeSeconds    int `envconfig:"BRIDGE_WAIT_TIME_SECONDS" default:"20"`
	BridgeVisibilitySeconds  int `envconfig:"BRIDGE_VISIBILITY_TIMEOUT_SECONDS" default:"300"`
	BridgeShutdownSeconds    int `envconfig:"BRIDGE_SHUTDOWN_SECONDS" default:"30"`
	BridgeEnqueueMaxAttempts int `envconfig:"BRIDGE_ENQUEUE_ATTEMPTS" default:"3"`

	// Worker
	WorkerConcurrency    int    `envconfig:"WORKER_CONCURRENCY" default:"10"`
	WorkerMaxAttempts    int    `envconfig:"WORKER_MAX_ATTEMPTS" default:"3"`
	WorkerTimeoutSeconds int    `envconfig:"WORKER_TIMEOUT_SECONDS" default:"60"`
	CacheMaxTokens       int    `envconfig:"CACHE_MAX_TOKENS" default:"100000"`
	ReadMaxTokens        int    `envconfig:"READ_MAX_TOKENS" default:"25000"`
	DeadLetterRetain     int    `envconfig:"DEAD_LETTER_RETAIN" default:"100"`
	MigrationPath        string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Server
	ServerPort int    `envconfig:"SERVER_PORT" default:"8081"`
	LogFile    string `envconfig:"LOG_FILE"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.OffloadEnabled && c.ComputeBucket == "" {
		return fmt.Errorf("%w: COMPUTE_BUCKET", ErrMissingRequired)
	}
	if c.CacheMaxTokens < c.ReadMaxTokens {
		return fmt.Errorf("CACHE_MAX_TOKENS (%d) must be >= READ_MAX_TOKENS (%d)", c.CacheMaxTokens, c.ReadMaxTokens)
	}
	if c.WorkerMaxAttempts < 0 || c.WorkerMaxAttempts > math.MaxUint16 {
		return fmt.Errorf("WORKER_MAX_ATTEMPTS (%d) must be between 0 and %d", c.WorkerMaxAttempts, math.MaxUint16)
	}
	return nil
}

// TaskQueues maps each task type to its configured outbound queue URL.
// Types without a URL are absent.
func (c *Config) TaskQueues() map[envelope.TaskType]string {
	queues := make(map[envelope.TaskType]string, len(envelope.TaskTypes))
	for t, url := range map[envelope.TaskType]string{
		envelope.TaskDocumentIngest: c.QueueDocIngest,
		envelope.TaskImageTransform: c.QueueImage,
		envelope.TaskDocumentRender: c.QueueDocRender,
		envelope.TaskVideoAnalyze:   c.QueueVideoAnalyze,
	} {
		if url != "" {
			queues[t] = url
		}
	}
	return queues
}

// BridgeEnabled reports whether the result bridge has somewhere to poll.
func (c *Config) BridgeEnabled() bool {
	return c.EnableBridge && c.ResultQueueURL != ""
}

func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLSeconds) * time.Second
}
