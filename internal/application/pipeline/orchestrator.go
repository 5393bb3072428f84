package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"study-forge-api/internal/config"
	"study-forge-api/internal/domain/entity"
	"study-forge-api/internal/domain/repository"
	"study-forge-api/internal/domain/service"
	"study-forge-api/internal/infrastructure/messaging"
	apperrors "study-forge-api/pkg/errors"
	"study-forge-api/pkg/logger"
	"study-forge-api/pkg/metrics"
)

// WorkflowStudyGeneration 使用记录中的流程名
const WorkflowStudyGeneration = "study_generation"

const finalizeTimeout = 10 * time.Second

// ErrRetryScheduled 会话已进入 retrying，等待固定延迟后重新投递
var ErrRetryScheduled = errors.New("session scheduled for retry")

var tracer = otel.Tracer("pipeline")

// Dependencies 编排器依赖
type Dependencies struct {
	Sessions   repository.SessionRepository
	StudyItems repository.StudyItemRepository
	Locks      Locker
	State      StateStore
	Progress   ProgressPublisher
	Extractor  Extractor
	Generator  Generator
}

// Orchestrator 会话状态机
// 只有持有会话锁的一方会修改会话状态
type Orchestrator struct {
	Dependencies
	lockCfg config.LockConfig
	cfg     config.PipelineConfig
	now     func() time.Time
}

// NewOrchestrator 创建编排器
func NewOrchestrator(deps Dependencies, lockCfg config.LockConfig, cfg config.PipelineConfig) *Orchestrator {
	return &Orchestrator{
		Dependencies: deps,
		lockCfg:      lockCfg,
		cfg:          cfg,
		now:          time.Now,
	}
}

// Run 处理一个会话任务
// 返回 nil 表示任务已结束（含失败终态）；ErrRetryScheduled 表示需要稍后重新投递；
// LockContention 表示会话正被其他 worker 处理
func (o *Orchestrator) Run(ctx context.Context, task *messaging.SessionTaskMessage) error {
	sessionID := task.SessionID
	ctx = logger.WithSession(ctx, sessionID, task.UserID)
	ctx = service.WithWorkflow(ctx, WorkflowStudyGeneration)
	ctx, span := tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	lockName := LockName(sessionID)
	token, ok, err := o.Locks.Acquire(ctx, lockName, o.lockCfg.TTL, o.lockCfg.BlockingTimeout > 0, o.lockCfg.BlockingTimeout)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		logger.Info(ctx, "session locked by another worker, skipping")
		return apperrors.LockContention(sessionID)
	}
	defer o.release(ctx, lockName, token)

	session, err := o.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		logger.Warn(ctx, "task references unknown session")
		return apperrors.ErrSessionNotFound.WithDetail("session_id=" + sessionID)
	}
	if session.IsTerminal() {
		logger.Info(ctx, "session already terminal, skipping", "status", string(session.Status))
		return nil
	}

	started := o.now()
	if session.Status == entity.SessionStatusProcessing {
		// 上一个 worker 在处理途中退出，消息被重新认领
		logger.Warn(ctx, "resuming session left in processing")
	} else {
		if !session.Status.CanTransition(entity.SessionStatusProcessing) {
			return fmt.Errorf("session %s cannot move from %s to processing", sessionID, session.Status)
		}
		// started_at 记录本次尝试的开始时间，过期清理以此判断
		moved, err := o.Sessions.TransitionStatus(ctx, sessionID, repository.StatusUpdate{
			Status:    entity.SessionStatusProcessing,
			StartedAt: &started,
		})
		if err != nil {
			return err
		}
		if !moved {
			logger.Info(ctx, "session finalized concurrently, skipping")
			return nil
		}
	}

	attempt, err := o.Sessions.IncrementAttempts(ctx, sessionID)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("session.attempt", attempt))
	logger.Info(ctx, "session processing started", "attempt", attempt, "max_attempts", o.cfg.MaxAttempts)
	o.Progress.Publish(ctx, sessionID, string(entity.SessionStatusProcessing), 5,
		fmt.Sprintf("attempt %d of %d", attempt, o.cfg.MaxAttempts))

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.HardTimeLimit)
	defer cancel()

	step := entity.StepLoading
	err = o.execute(runCtx, session, task, started.Add(o.cfg.SoftTimeLimit), &step)
	return o.finish(ctx, runCtx, session, attempt, started, step, err)
}

func (o *Orchestrator) execute(ctx context.Context, session *entity.Session, task *messaging.SessionTaskMessage, softDeadline time.Time, step *string) error {
	files, err := o.loadInput(ctx, session, task)
	if err != nil {
		return err
	}

	*step = entity.StepExtracting
	o.Progress.PublishStep(ctx, session.ID, entity.StepExtracting, 10, fmt.Sprintf("extracting %d files", len(files)))
	texts := make([]string, 0, len(files))
	for i, f := range files {
		if err := o.checkLimits(ctx, softDeadline); err != nil {
			return err
		}
		text, err := o.Extractor.Extract(ctx, f.Data, f.Name)
		if err != nil {
			return err
		}
		texts = append(texts, text)
		o.Progress.PublishStep(ctx, session.ID, entity.StepExtracting, 10+20*(i+1)/len(files), "extracted "+f.Name)
	}

	chunks := splitChunks(strings.Join(texts, "\n\n"), o.cfg.ChunkChars, o.cfg.MaxChunks)
	if len(chunks) == 0 {
		return apperrors.DataIntegrity("no text extracted from input")
	}

	*step = entity.StepGenerating
	o.Progress.PublishStep(ctx, session.ID, entity.StepGenerating, 30, fmt.Sprintf("generating from %d sections", len(chunks)))
	var items []*entity.StudyItem
	for i, text := range chunks {
		if err := o.checkLimits(ctx, softDeadline); err != nil {
			return err
		}
		got, err := o.Generator.Generate(ctx, session.UserID, session.ID, Chunk{Index: i, Total: len(chunks), Text: text})
		if err != nil {
			return err
		}
		items = append(items, got...)
		o.Progress.PublishStep(ctx, session.ID, entity.StepGenerating, 30+50*(i+1)/len(chunks),
			fmt.Sprintf("section %d of %d done", i+1, len(chunks)))
	}

	*step = entity.StepPersisting
	o.Progress.PublishStep(ctx, session.ID, entity.StepPersisting, 80, fmt.Sprintf("saving %d items", len(items)))
	if err := o.checkLimits(ctx, softDeadline); err != nil {
		return err
	}
	if err := o.StudyItems.ReplaceForSession(ctx, session.ID, items); err != nil {
		return err
	}
	o.Progress.PublishStep(ctx, session.ID, entity.StepPersisting, 95, "saved")
	return nil
}

// loadInput 依次从任务载荷、数据库、共享状态恢复输入
func (o *Orchestrator) loadInput(ctx context.Context, session *entity.Session, task *messaging.SessionTaskMessage) ([]entity.InputFile, error) {
	if len(task.Files) > 0 {
		return task.Files, nil
	}

	stored, err := o.Sessions.ListFiles(ctx, session.ID)
	if err != nil {
		logger.Warn(ctx, "failed to load session files from database", "error", err.Error())
	}
	var files []entity.InputFile
	for _, f := range stored {
		if len(f.Content) == 0 {
			continue
		}
		files = append(files, entity.InputFile{Name: f.Name, ContentType: f.ContentType, Data: f.Content})
	}
	if len(files) > 0 {
		return files, nil
	}

	files, ok, err := o.State.LoadInput(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if !ok || len(files) == 0 {
		return nil, apperrors.DataIntegrity("no input for session " + session.ID)
	}
	logger.Info(ctx, "recovered session input from shared state", "files", len(files))
	return files, nil
}

func (o *Orchestrator) checkLimits(ctx context.Context, softDeadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.now().After(softDeadline) {
		return apperrors.WorkerTimeout(fmt.Sprintf("soft time limit %s exceeded", o.cfg.SoftTimeLimit))
	}
	return nil
}

// finish 根据执行结果写入终态或安排重试
func (o *Orchestrator) finish(ctx, runCtx context.Context, session *entity.Session, attempt int, started time.Time, step string, runErr error) error {
	sessionID := session.ID

	// 收尾写入不受硬超时影响
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	hardTimeout := errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil

	switch {
	case runErr == nil:
		// 结果已持久化，之后才到期的硬超时不影响完成
		now := o.now()
		if _, err := o.Sessions.TransitionStatus(fctx, sessionID, repository.StatusUpdate{
			Status:      entity.SessionStatusCompleted,
			CompletedAt: &now,
		}); err != nil {
			return err
		}
		o.Progress.Publish(fctx, sessionID, string(entity.SessionStatusCompleted), 100, "completed")
		if err := o.State.DeleteInput(fctx, sessionID); err != nil {
			logger.Warn(fctx, "failed to delete session input", "error", err.Error())
		}
		metrics.SessionOutcomeTotal.WithLabelValues(string(entity.SessionStatusCompleted)).Inc()
		metrics.SessionDuration.Observe(now.Sub(started).Seconds())
		logger.Info(fctx, "session completed", "attempt", attempt, "duration_ms", now.Sub(started).Milliseconds())
		return nil

	case ctx.Err() != nil:
		// 进程退出等外部取消：保持 processing，由消息重新认领继续
		logger.Warn(fctx, "session interrupted, left for redelivery", "step", step)
		return ctx.Err()

	case hardTimeout || errors.Is(runErr, apperrors.ErrWorkerTimeout):
		limit := o.cfg.SoftTimeLimit
		message := fmt.Sprintf("soft time limit %s exceeded during %s", o.cfg.SoftTimeLimit, step)
		if hardTimeout {
			limit = o.cfg.HardTimeLimit
			message = fmt.Sprintf("hard time limit %s exceeded during %s", o.cfg.HardTimeLimit, step)
		}
		diag := snapshot(started, step, attempt, limit)
		logger.Error(fctx, "session exceeded time limit", runErr, "diagnostics", diag)
		return o.terminate(fctx, sessionID, entity.SessionStatusError, apperrors.KindWorkerTimeout, message, diag)

	case recoverable(runErr) && attempt < o.cfg.MaxAttempts:
		moved, err := o.Sessions.TransitionStatus(fctx, sessionID, repository.StatusUpdate{
			Status:       entity.SessionStatusRetrying,
			ErrorKind:    string(apperrors.KindOf(runErr)),
			ErrorMessage: runErr.Error(),
		})
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
		o.Progress.Publish(fctx, sessionID, string(entity.SessionStatusRetrying), 0,
			fmt.Sprintf("attempt %d failed, retrying in %s", attempt, o.cfg.RetryDelay))
		metrics.SessionRetriesTotal.Inc()
		logger.Warn(fctx, "session attempt failed, retry scheduled",
			"attempt", attempt,
			"step", step,
			"error", runErr.Error(),
		)
		return ErrRetryScheduled

	default:
		kind := apperrors.KindOf(runErr)
		diag := map[string]any{
			"attempt":      attempt,
			"max_attempts": o.cfg.MaxAttempts,
			"step":         step,
		}
		logger.Error(fctx, "session failed", runErr, "kind", string(kind), "attempt", attempt)
		return o.terminate(fctx, sessionID, entity.SessionStatusFailed, kind, runErr.Error(), diag)
	}
}

// Abandon 任务投递次数耗尽时结束会话，写入错误记录
// 已是终态或不存在的会话直接返回
func (o *Orchestrator) Abandon(ctx context.Context, sessionID, reason string) error {
	ctx = logger.WithSession(ctx, sessionID, "")
	session, err := o.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil || session.IsTerminal() {
		return nil
	}

	message := "session task abandoned after delivery limit: " + reason
	diag := map[string]any{
		"status":   string(session.Status),
		"attempts": session.Attempts,
		"reason":   reason,
	}
	logger.Error(ctx, "session task exhausted deliveries", errors.New(reason), "status", string(session.Status))
	return o.terminate(ctx, sessionID, entity.SessionStatusError, apperrors.KindInternal, message, diag)
}

// terminate 先写错误记录，再写终态
func (o *Orchestrator) terminate(ctx context.Context, sessionID string, status entity.SessionStatus, kind apperrors.Kind, message string, diag map[string]any) error {
	o.Progress.PublishError(ctx, sessionID, string(kind), message, diag)

	now := o.now()
	if _, err := o.Sessions.TransitionStatus(ctx, sessionID, repository.StatusUpdate{
		Status:       status,
		ErrorKind:    string(kind),
		ErrorMessage: message,
		CompletedAt:  &now,
	}); err != nil {
		return err
	}
	o.Progress.Publish(ctx, sessionID, string(status), 100, message)
	metrics.SessionOutcomeTotal.WithLabelValues(string(status)).Inc()
	return nil
}

func (o *Orchestrator) release(ctx context.Context, name, token string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	released, err := o.Locks.Release(rctx, name, token)
	if err != nil {
		logger.Error(rctx, "failed to release session lock", err)
		return
	}
	if !released {
		logger.Warn(rctx, "session lock expired before release")
	}
}

// recoverable 暂时性外部错误与未归类的内部错误可以重试
func recoverable(err error) bool {
	switch apperrors.KindOf(err) {
	case apperrors.KindExternalTransient, apperrors.KindInternal:
		return true
	}
	return false
}
