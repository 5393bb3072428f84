// Package main 会话处理 worker 入口（job-worker）
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"study-forge-api/internal/application/billing"
	"study-forge-api/internal/application/gateway"
	"study-forge-api/internal/application/pipeline"
	"study-forge-api/internal/application/progress"
	"study-forge-api/internal/config"
	"study-forge-api/internal/infrastructure/extract"
	"study-forge-api/internal/infrastructure/llm"
	"study-forge-api/internal/infrastructure/persistence/postgres"
	"study-forge-api/internal/infrastructure/persistence/redis"
	einoobs "study-forge-api/internal/observability/eino"
	"study-forge-api/internal/workflow/prompt"
	"study-forge-api/pkg/logger"
	"study-forge-api/pkg/tracer"
)

// Version 版本信息，构建时注入
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName:    "job-worker",
		ServiceVersion: Version,
		Environment:    cfg.App.Env,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SampleRate:     cfg.Observability.Tracing.SampleRate,
		Enabled:        cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if einoobs.Init() {
		logger.Debug(ctx, "eino provider callbacks registered")
	}

	pgClient, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		logger.Fatal(ctx, "failed to init postgres", err)
	}
	defer func() { _ = pgClient.Close() }()

	redisClient, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Fatal(ctx, "failed to init redis", err)
	}
	defer func() { _ = redisClient.Close() }()

	providers, err := llm.NewRegistry(cfg.LLM)
	if err != nil {
		logger.Fatal(ctx, "failed to init llm providers", err)
	}
	defer func() { _ = providers.Close(context.Background()) }()

	gw := gateway.New(
		cfg.Gateway,
		redis.NewResponseCache(redisClient),
		billing.NewLedger(postgres.NewCreditRepository(pgClient)),
		billing.RateTableFromConfig(cfg.Billing),
		providers,
		billing.NewUsageRecorder(postgres.NewUsageRecordRepository(pgClient)),
	)

	sessions := postgres.NewSessionRepository(pgClient)
	locks := redis.NewLockManager(redisClient, cfg.Lock.PollInterval)
	store := redis.NewProgressStore(redisClient)
	publisher := progress.NewPublisher(store, cfg.Pipeline.StateTTL)

	orchestrator := pipeline.NewOrchestrator(pipeline.Dependencies{
		Sessions:   sessions,
		StudyItems: postgres.NewStudyItemRepository(pgClient),
		Locks:      locks,
		State:      store,
		Progress:   publisher,
		Extractor:  extract.New(),
		Generator:  pipeline.NewStudyGenerator(gw, prompt.NewRegistry(), cfg.Pipeline),
	}, cfg.Lock, cfg.Pipeline)

	sweeper := pipeline.NewSweeper(sessions, locks, publisher, cfg.Pipeline)
	stopSweeper, err := sweeper.Start(ctx)
	if err != nil {
		logger.Fatal(ctx, "failed to start sweeper", err)
	}
	defer stopSweeper()

	var metricsSrv *http.Server
	if cfg.Observability.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Observability.Metrics.Path, promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Observability.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(ctx, "metrics server error", err)
			}
		}()
	}

	worker := pipeline.NewWorker(orchestrator, redisClient.Redis(), cfg.Messaging.RedisStream, cfg.Pipeline, cfg.Worker.Concurrency)
	logger.Info(ctx, "job-worker started", "concurrency", cfg.Worker.Concurrency, "version", Version)

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(ctx, "worker stopped with error", err)
	}

	logger.Info(context.Background(), "job-worker shutting down")
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
}
