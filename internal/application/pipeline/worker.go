package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"study-forge-api/internal/config"
	"study-forge-api/internal/infrastructure/messaging"
	apperrors "study-forge-api/pkg/errors"
	"study-forge-api/pkg/logger"
	"study-forge-api/pkg/metrics"
)

// SessionRunner 执行单个会话任务
type SessionRunner interface {
	Run(ctx context.Context, task *messaging.SessionTaskMessage) error
	Abandon(ctx context.Context, sessionID, reason string) error
}

// Worker 会话任务消费者池
type Worker struct {
	runner    SessionRunner
	client    *goredis.Client
	streamCfg config.RedisStreamConfig
	cfg       config.PipelineConfig
	workers   int
}

// NewWorker 创建 worker 池
func NewWorker(runner SessionRunner, client *goredis.Client, streamCfg config.RedisStreamConfig, cfg config.PipelineConfig, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		runner:    runner,
		client:    client,
		streamCfg: streamCfg,
		cfg:       cfg,
		workers:   concurrency,
	}
}

// Handle 处理一条会话消息
// 返回 ErrRetryLater 的消息保持 pending，按固定延迟重新认领
func (w *Worker) Handle(ctx context.Context, msg *messaging.Message) error {
	var task messaging.SessionTaskMessage
	if err := msg.UnmarshalPayload(&task); err != nil {
		logger.Error(ctx, "malformed session task, dropping", err, "message_id", msg.ID)
		return nil
	}
	if task.SessionID == "" {
		task.SessionID = msg.SessionID
	}
	if task.UserID == "" {
		task.UserID = msg.UserID
	}

	err := w.runner.Run(ctx, &task)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRetryScheduled):
		return messaging.ErrRetryLater
	case errors.Is(err, apperrors.ErrLockContention):
		// 持锁方负责该会话的终态
		return nil
	case errors.Is(err, apperrors.ErrSessionNotFound):
		logger.Warn(ctx, "dropping task for unknown session", "session_id", task.SessionID)
		return nil
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return messaging.ErrRetryLater
	}
	return err
}

// HandleDeadLetter 消息进入死信流前把会话置为 error
func (w *Worker) HandleDeadLetter(ctx context.Context, msg *messaging.Message, reason error) error {
	var task messaging.SessionTaskMessage
	if err := msg.UnmarshalPayload(&task); err != nil || task.SessionID == "" {
		task.SessionID = msg.SessionID
	}
	if task.SessionID == "" {
		return nil
	}
	return w.runner.Abandon(ctx, task.SessionID, reason.Error())
}

// Run 启动消费者并阻塞直到 ctx 结束
func (w *Worker) Run(ctx context.Context) error {
	if err := messaging.EnsureGroup(ctx, w.client, messaging.StreamSessionProcess, messaging.ConsumerGroupPipeline); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}

	g, gctx := errgroup.WithContext(ctx)
	consumers := make([]*messaging.Consumer, 0, w.workers)
	for i := 0; i < w.workers; i++ {
		consumer := messaging.NewConsumer(w.client, messaging.ConsumerConfig{
			Stream:        messaging.StreamSessionProcess,
			Group:         messaging.ConsumerGroupPipeline,
			ConsumerName:  fmt.Sprintf("%s-%d", host, i),
			BlockTimeout:  w.streamCfg.BlockTimeout,
			ClaimInterval: w.streamCfg.ClaimInterval,
			ReclaimIdle:   w.streamCfg.ReclaimIdle,
			RetryLimit:    w.streamCfg.RetryLimit,
			Count:         1,
			Backoff:       messaging.FixedBackoff(w.cfg.RetryDelay),
		})
		consumer.RegisterHandler(messaging.MessageTypeSessionProcess, w.Handle)
		consumer.RegisterDeadLetterHandler(messaging.MessageTypeSessionProcess, w.HandleDeadLetter)
		consumers = append(consumers, consumer)

		g.Go(func() error {
			metrics.ActiveWorkers.Inc()
			defer metrics.ActiveWorkers.Dec()
			return consumer.Run(gctx)
		})
	}

	if len(consumers) > 0 && w.streamCfg.DLQAlert > 0 {
		g.Go(func() error {
			consumers[0].MonitorDLQ(gctx, int64(w.streamCfg.DLQAlert))
			return nil
		})
	}

	logger.Info(ctx, "session workers started", "workers", w.workers, "retry_delay", w.cfg.RetryDelay.String())
	err = g.Wait()
	for _, c := range consumers {
		c.Stop()
	}
	return err
}
