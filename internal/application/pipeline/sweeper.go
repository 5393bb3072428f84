package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"study-forge-api/internal/config"
	"study-forge-api/internal/domain/entity"
	"study-forge-api/internal/domain/repository"
	apperrors "study-forge-api/pkg/errors"
	"study-forge-api/pkg/logger"
	"study-forge-api/pkg/metrics"
)

const sweepBatch = 100

// Sweeper 清理超过硬上限仍未结束的会话
// 持有者已退出且消息无法再被认领时，会话由它置为 error
type Sweeper struct {
	sessions repository.SessionRepository
	locks    Locker
	progress ProgressPublisher
	cfg      config.PipelineConfig
	now      func() time.Time
}

// NewSweeper 创建清理器
func NewSweeper(sessions repository.SessionRepository, locks Locker, progress ProgressPublisher, cfg config.PipelineConfig) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		locks:    locks,
		progress: progress,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Sweep 执行一次清理，返回被置为 error 的会话数
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-(s.cfg.HardTimeLimit + s.cfg.SweepGrace))
	stale, err := s.sessions.ListStale(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, session := range stale {
		locked, err := s.locks.IsLocked(ctx, LockName(session.ID))
		if err != nil {
			logger.Warn(ctx, "stale sweep lock check failed", "session_id", session.ID, "error", err.Error())
			continue
		}
		if locked {
			continue
		}
		if s.expire(ctx, session) {
			swept++
		}
	}
	if swept > 0 {
		logger.Info(ctx, "stale sessions swept", "count", swept)
	}
	return swept, nil
}

func (s *Sweeper) expire(ctx context.Context, session *entity.Session) bool {
	ctx = logger.WithSession(ctx, session.ID, session.UserID)
	kind := string(apperrors.KindWorkerTimeout)
	message := fmt.Sprintf("session abandoned in %s past hard time limit %s", session.Status, s.cfg.HardTimeLimit)
	diag := map[string]any{
		"status":   string(session.Status),
		"attempts": session.Attempts,
	}
	if session.StartedAt != nil {
		diag["started_at"] = session.StartedAt.UTC().Format(time.RFC3339)
		diag["elapsed_ms"] = s.now().Sub(*session.StartedAt).Milliseconds()
	}

	s.progress.PublishError(ctx, session.ID, kind, message, diag)
	now := s.now()
	moved, err := s.sessions.TransitionStatus(ctx, session.ID, repository.StatusUpdate{
		Status:       entity.SessionStatusError,
		ErrorKind:    kind,
		ErrorMessage: message,
		CompletedAt:  &now,
	})
	if err != nil {
		logger.Error(ctx, "failed to expire stale session", err)
		return false
	}
	if !moved {
		return false
	}
	s.progress.Publish(ctx, session.ID, string(entity.SessionStatusError), 100, message)
	metrics.StaleSessionsSwept.Inc()
	metrics.SessionOutcomeTotal.WithLabelValues(string(entity.SessionStatusError)).Inc()
	logger.Warn(ctx, "stale session expired", "status", string(session.Status))
	return true
}

// Start 按 sweep_schedule 周期执行清理，返回停止函数
func (s *Sweeper) Start(ctx context.Context) (func(), error) {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.cfg.SweepSchedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			logger.Error(ctx, "stale sweep failed", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", s.cfg.SweepSchedule, err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}
