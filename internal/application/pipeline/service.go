package pipeline

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"study-forge-api/internal/config"
	"study-forge-api/internal/domain/entity"
	"study-forge-api/internal/domain/repository"
	"study-forge-api/internal/infrastructure/messaging"
	apperrors "study-forge-api/pkg/errors"
	"study-forge-api/pkg/logger"
)

// RejectAlreadyLocked 会话正在处理中
const RejectAlreadyLocked = "alreadyLocked"

// SubmitResult 提交结果
type SubmitResult struct {
	SessionID string               `json:"session_id"`
	Accepted  bool                 `json:"accepted"`
	Reason    string               `json:"reason,omitempty"`
	Status    entity.SessionStatus `json:"status"`
	MessageID string               `json:"message_id,omitempty"`
}

// StatusView 轮询可见的进度
type StatusView struct {
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage"`
	Step      string    `json:"step,omitempty"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service 会话提交与查询
type Service struct {
	sessions repository.SessionRepository
	items    repository.StudyItemRepository
	locks    Locker
	state    StateStore
	progress ProgressPublisher
	queue    TaskQueue
	cfg      config.PipelineConfig
}

// NewService 创建会话服务
func NewService(
	sessions repository.SessionRepository,
	items repository.StudyItemRepository,
	locks Locker,
	state StateStore,
	progress ProgressPublisher,
	queue TaskQueue,
	cfg config.PipelineConfig,
) *Service {
	return &Service{
		sessions: sessions,
		items:    items,
		locks:    locks,
		state:    state,
		progress: progress,
		queue:    queue,
		cfg:      cfg,
	}
}

// Submit 创建会话并入队
// 会话已在处理中时返回 Accepted=false、Reason=alreadyLocked
func (s *Service) Submit(ctx context.Context, sessionID string, files []entity.InputFile, userID string) (*SubmitResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("session_id is required")
	}
	if len(files) == 0 {
		return nil, apperrors.ErrInvalidParam.WithDetail("at least one file is required")
	}

	ctx = logger.WithSession(ctx, sessionID, userID)
	ctx, span := tracer.Start(ctx, "pipeline.Submit",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("session.files", len(files)),
		))
	defer span.End()

	rejected := &SubmitResult{SessionID: sessionID, Reason: RejectAlreadyLocked, Status: entity.SessionStatusProcessing}

	locked, err := s.locks.IsLocked(ctx, LockName(sessionID))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if locked {
		logger.Info(ctx, "submit rejected, session lock held")
		return rejected, nil
	}

	existing, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if existing != nil {
		if existing.IsTerminal() {
			return nil, apperrors.ErrConflict.WithDetail("session already finished: " + string(existing.Status))
		}
		logger.Info(ctx, "submit rejected, session in flight", "status", string(existing.Status))
		rejected.Status = existing.Status
		return rejected, nil
	}

	stored := make([]*entity.SessionFile, 0, len(files))
	for _, f := range files {
		stored = append(stored, &entity.SessionFile{
			Name:        f.Name,
			ContentType: f.ContentType,
			Size:        int64(len(f.Data)),
			Content:     f.Data,
		})
	}
	if err := s.sessions.Create(ctx, entity.NewSession(sessionID, userID, stored)); err != nil {
		if apperrors.Is(err, apperrors.ErrConflict) {
			// 并发提交同一会话
			logger.Info(ctx, "submit rejected, session created concurrently")
			rejected.Status = entity.SessionStatusPending
			return rejected, nil
		}
		span.RecordError(err)
		return nil, err
	}

	if err := s.state.SaveInput(ctx, sessionID, files, s.cfg.StateTTL); err != nil {
		logger.Warn(ctx, "failed to stage session input", "error", err.Error())
	}
	s.progress.Publish(ctx, sessionID, string(entity.SessionStatusPending), 0, "queued")

	msgID, err := s.queue.PublishSessionTask(ctx, &messaging.SessionTaskMessage{
		SessionID:   sessionID,
		UserID:      userID,
		SubmittedAt: time.Now().UTC(),
	})
	if err != nil {
		span.RecordError(err)
		logger.Error(ctx, "failed to enqueue session", err)
		s.failEnqueue(ctx, sessionID, err)
		return nil, apperrors.Wrap(err, apperrors.CodeServiceUnavailable, "failed to enqueue session")
	}

	logger.Info(ctx, "session submitted", "files", len(files), "message_id", msgID)
	return &SubmitResult{
		SessionID: sessionID,
		Accepted:  true,
		Status:    entity.SessionStatusPending,
		MessageID: msgID,
	}, nil
}

func (s *Service) failEnqueue(ctx context.Context, sessionID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	message := "failed to enqueue session: " + cause.Error()
	kind := string(apperrors.KindInternal)

	s.progress.PublishError(ctx, sessionID, kind, message, nil)
	now := time.Now()
	if _, err := s.sessions.TransitionStatus(ctx, sessionID, repository.StatusUpdate{
		Status:       entity.SessionStatusError,
		ErrorKind:    kind,
		ErrorMessage: message,
		CompletedAt:  &now,
	}); err != nil {
		logger.Error(ctx, "failed to mark session as error", err)
	}
	s.progress.Publish(ctx, sessionID, string(entity.SessionStatusError), 100, message)
}

// GetStatus 查询进度
// 进度记录过期后退回数据库中的会话状态
func (s *Service) GetStatus(ctx context.Context, sessionID string) (*StatusView, error) {
	rec, ok, err := s.state.GetProgress(ctx, sessionID)
	if err != nil {
		logger.Warn(ctx, "failed to read progress record", "session_id", sessionID, "error", err.Error())
	}
	if ok && rec != nil {
		return &StatusView{
			SessionID: sessionID,
			Stage:     rec.Stage,
			Step:      rec.Step,
			Percent:   rec.Percent,
			Message:   rec.Message,
			UpdatedAt: rec.UpdatedAt,
		}, nil
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.ErrSessionNotFound.WithDetail("session_id=" + sessionID)
	}
	view := &StatusView{
		SessionID: sessionID,
		Stage:     string(session.Status),
		Message:   session.ErrorMessage,
		UpdatedAt: session.UpdatedAt,
	}
	if session.IsTerminal() {
		view.Percent = 100
	}
	return view, nil
}

// GetError 查询错误记录，无错误时返回 nil
func (s *Service) GetError(ctx context.Context, sessionID string) (*entity.ErrorRecord, error) {
	rec, err := s.state.GetError(ctx, sessionID)
	if err != nil {
		logger.Warn(ctx, "failed to read error record", "session_id", sessionID, "error", err.Error())
	}
	if rec != nil {
		return rec, nil
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.ErrSessionNotFound.WithDetail("session_id=" + sessionID)
	}
	if session.ErrorKind == "" {
		return nil, nil
	}
	occurred := session.UpdatedAt
	if session.CompletedAt != nil {
		occurred = *session.CompletedAt
	}
	return &entity.ErrorRecord{
		Kind:       session.ErrorKind,
		Message:    session.ErrorMessage,
		OccurredAt: occurred,
	}, nil
}

// GetResults 查询已完成会话的学习条目
func (s *Service) GetResults(ctx context.Context, sessionID string) ([]*entity.StudyItem, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.ErrSessionNotFound.WithDetail("session_id=" + sessionID)
	}
	if session.Status != entity.SessionStatusCompleted {
		return nil, apperrors.ErrConflict.WithDetail("session not completed: " + string(session.Status))
	}
	return s.items.ListBySession(ctx, sessionID)
}
