// Package main API 服务入口：接收上传、查询进度与结果
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

	"study-forge-api/internal/application/billing"
	"study-forge-api/internal/application/pipeline"
	"study-forge-api/internal/application/progress"
	"study-forge-api/internal/config"
	"study-forge-api/internal/infrastructure/messaging"
	"study-forge-api/internal/infrastructure/persistence/postgres"
	"study-forge-api/internal/infrastructure/persistence/redis"
	"study-forge-api/internal/interfaces/http/handler"
	"study-forge-api/internal/interfaces/http/router"
	"study-forge-api/pkg/logger"
	"study-forge-api/pkg/tracer"
)

// Version 版本信息，构建时注入
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	ctx := context.Background()
	logger.Info(ctx, "starting api-gateway",
		"version", Version,
		"build_time", BuildTime,
		"env", cfg.App.Env,
	)

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName:    cfg.App.Name,
		ServiceVersion: Version,
		Environment:    cfg.App.Env,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SampleRate:     cfg.Observability.Tracing.SampleRate,
		Enabled:        cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			logger.Error(ctx, "failed to shutdown tracer", err)
		}
	}()

	pgClient, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		logger.Fatal(ctx, "failed to init postgres", err)
	}
	defer func() { _ = pgClient.Close() }()

	if cfg.Database.Postgres.AutoMigrate {
		if err := pgClient.AutoMigrate(ctx); err != nil {
			logger.Fatal(ctx, "failed to migrate schema", err)
		}
	}

	redisClient, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Fatal(ctx, "failed to init redis", err)
	}
	defer func() { _ = redisClient.Close() }()

	store := redis.NewProgressStore(redisClient)
	sessionSvc := pipeline.NewService(
		postgres.NewSessionRepository(pgClient),
		postgres.NewStudyItemRepository(pgClient),
		redis.NewLockManager(redisClient, cfg.Lock.PollInterval),
		store,
		progress.NewPublisher(store, cfg.Pipeline.StateTTL),
		messaging.NewProducer(redisClient.Redis(), int64(cfg.Messaging.RedisStream.MaxLen)),
		cfg.Pipeline,
	)
	ledger := billing.NewLedger(postgres.NewCreditRepository(pgClient))

	r := router.New(cfg, router.Handlers{
		Health: handler.NewHealthHandler(Version, map[string]handler.HealthChecker{
			"postgres": pgClient,
			"redis":    redisClient,
		}),
		Session: handler.NewSessionHandler(sessionSvc, cfg.Server.HTTP.MaxUploadBytes),
		Admin:   handler.NewAdminHandler(redis.NewResponseCache(redisClient), ledger),
		Limiter: redis.NewRateLimiter(redisClient),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.HTTP.Host, cfg.Server.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
		IdleTimeout:  cfg.Server.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info(ctx, "http server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(ctx, "http server error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "server forced to shutdown", err)
	}

	logger.Info(ctx, "server exited")
}
