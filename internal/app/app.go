package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"offload/apps/backend/features/deadletter"
	"offload/apps/backend/features/filecache"
	"offload/apps/backend/features/job"
	"offload/apps/backend/features/stats"
	redisadapter "offload/apps/backend/internal/adapter/redis"
	"offload/apps/backend/internal/adapter/s3"
	"offload/apps/backend/internal/adapter/sqs"
	"offload/apps/backend/internal/bridge"
	"offload/apps/backend/internal/config"
	"offload/apps/backend/internal/dispatch"
	"offload/apps/backend/internal/middleware"
	"offload/apps/backend/internal/queue"
	"offload/apps/backend/internal/text"
	"offload/apps/backend/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Publisher publishes to the internal NSQ topics.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Clients are the external service clients App talks to.
type Clients struct {
	SQS   sqs.API
	S3    s3.API
	Redis *redis.Client
}

type App struct {
	Handler     http.Handler
	Dispatcher  *dispatch.Dispatcher
	JobService  *job.Service
	Bridge      *bridge.Bridge
	Processor   *worker.Processor
	DeadLetters *deadletter.Service

	cfg      *config.Config
	consumer queue.ConsumerConfig
	logger   *slog.Logger
}

func New(cfg *config.Config, db *sql.DB, pub Publisher, clients Clients, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	truncator, err := text.NewTruncator(text.DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}

	// Adapters
	queueClient := sqs.NewClient(clients.SQS)
	computeStore := s3.NewStore(clients.S3, cfg.ComputeBucket, cfg.MaxObjectBytes)
	cacheStore := s3.NewStore(clients.S3, cfg.CacheBucket, cfg.MaxObjectBytes)

	var dedup queue.Deduper = queue.NoopDeduper{}
	if clients.Redis != nil {
		dedup = redisadapter.NewDeduper(clients.Redis, cfg.DedupTTL())
	}

	// Feature: Job
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, computeStore, logger)
	jobHandler := job.NewHandler(jobService)

	// Dispatcher
	dispatcher := dispatch.NewDispatcher(jobRepo, queueClient, dispatch.Options{
		Enabled:      cfg.OffloadEnabled,
		Queues:       cfg.TaskQueues(),
		OutputBucket: cfg.ComputeBucket,
	}, logger)
	dispatchHandler := dispatch.NewHandler(dispatcher)

	// Feature: Dead letters
	deadLetterRepo := deadletter.NewPostgresRepo(db)
	deadLetterService := deadletter.NewService(deadLetterRepo, pub, cfg.DeadLetterRetain, logger)
	deadLetterHandler := deadletter.NewHandler(deadLetterService)

	// Feature: File cache
	fileCacheRepo := filecache.NewPostgresRepo(db)
	fileCacheHandler := filecache.NewHandler(filecache.NewService(fileCacheRepo, cacheStore, truncator, cfg.ReadMaxTokens))

	// Feature: Stats
	statsHandler := stats.NewHandler(jobRepo, deadLetterService)

	// Result bridge
	var resultQueueURL string
	if cfg.BridgeEnabled() {
		resultQueueURL = cfg.ResultQueueURL
	}
	workQueue := queue.NewWorkQueue(pub, dedup, logger)
	resultBridge := bridge.New(queueClient, workQueue, bridge.Options{
		QueueURL:          resultQueueURL,
		PollInterval:      time.Duration(cfg.BridgePollIntervalMS) * time.Millisecond,
		MaxMessages:       int32(cfg.BridgeMaxMessages),
		WaitTimeSeconds:   int32(cfg.BridgeWaitTimeSeconds),
		VisibilityTimeout: int32(cfg.BridgeVisibilitySeconds),
		ShutdownTimeout:   time.Duration(cfg.BridgeShutdownSeconds) * time.Second,
		EnqueueAttempts:   cfg.BridgeEnqueueMaxAttempts,
	}, logger)
	bridgeHandler := bridge.NewHandler(resultBridge)

	// Result processor
	contentCache := worker.NewContentCache(computeStore, cacheStore, truncator, fileCacheRepo, cfg.CacheMaxTokens, logger)
	resultHandler := worker.NewHandler(jobRepo, filecache.NewFailureMarker(fileCacheRepo), contentCache, logger)
	processor := worker.NewProcessor(resultHandler, time.Duration(cfg.WorkerTimeoutSeconds)*time.Second, logger)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+middleware.HeaderCorrelationID)

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /jobs", middleware.CorrelationID(enableCORS(dispatchHandler.Create)))
	mux.Handle("GET /jobs/{id}", middleware.CorrelationID(enableCORS(jobHandler.Get)))
	mux.Handle("GET /jobs/{id}/status", middleware.CorrelationID(enableCORS(jobHandler.Status)))
	mux.Handle("POST /jobs/{id}/persist", middleware.CorrelationID(enableCORS(jobHandler.Persist)))
	mux.Handle("POST /jobs/{id}/processing", middleware.CorrelationID(enableCORS(jobHandler.MarkProcessing)))
	mux.Handle("GET /users/{uid}/jobs", middleware.CorrelationID(enableCORS(jobHandler.ListByUser)))

	mux.Handle("GET /files/{id}/content", middleware.CorrelationID(enableCORS(fileCacheHandler.Content)))

	mux.Handle("GET /dead-letters", middleware.CorrelationID(enableCORS(deadLetterHandler.List)))
	mux.Handle("POST /dead-letters/{id}/retry", middleware.CorrelationID(enableCORS(deadLetterHandler.Retry)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))
	mux.Handle("GET /bridge/status", middleware.CorrelationID(enableCORS(bridgeHandler.Status)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		st := resultBridge.Status()
		if cfg.EnableBridge && st.Enabled && !st.Running {
			status, code = "degraded", http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(map[string]interface{}{"status": status, "bridge": st}); err != nil {
			slog.ErrorContext(r.Context(), "failed to encode health response", "error", err)
		}
	})

	return &App{
		Handler:     mux,
		Dispatcher:  dispatcher,
		JobService:  jobService,
		Bridge:      resultBridge,
		Processor:   processor,
		DeadLetters: deadLetterService,
		cfg:         cfg,
		consumer: queue.ConsumerConfig{
			LookupdAddr: cfg.NSQLookupd,
			NSQDAddr:    cfg.NSQDHost,
			Concurrency: cfg.WorkerConcurrency,
			Policy:      queue.RetryPolicy{MaxAttempts: uint16(cfg.WorkerMaxAttempts)},
		},
		logger: logger,
	}, nil
}

// Run starts every enabled role and blocks until ctx is cancelled, then
// shuts them down: HTTP first, then the bridge, then the consumer.
func (a *App) Run(ctx context.Context) error {
	var consumer *nsq.Consumer
	defer func() {
		a.Bridge.Stop()
		if consumer != nil {
			stopConsumer(consumer)
		}
	}()

	if a.cfg.EnableBridge {
		a.Bridge.Start(ctx)
	}

	if a.cfg.EnableWorker {
		c, err := queue.NewConsumer(a.consumer, a.Processor, a.DeadLetters, a.logger)
		if err != nil {
			return err
		}
		if err := queue.Connect(c, a.consumer); err != nil {
			c.Stop()
			return fmt.Errorf("connect result consumer: %w", err)
		}
		a.logger.Info("result consumer connected", "topic", config.TopicOffloadResult, "channel", config.ChannelProcessor)
		consumer = c
	}

	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if a.cfg.EnableAPI {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
			Handler:           a.Handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("server starting", "port", a.cfg.ServerPort)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		if srv == nil {
			return nil
		}
		a.logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopConsumer(c *nsq.Consumer) {
	c.Stop()
	select {
	case <-c.StopChan:
	case <-time.After(shutdownTimeout):
		slog.Warn("result consumer did not stop in time")
	}
}
