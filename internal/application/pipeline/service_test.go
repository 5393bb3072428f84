package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"study-forge-api/internal/domain/entity"
	apperrors "study-forge-api/pkg/errors"
)

func sampleFiles() []entity.InputFile {
	return []entity.InputFile{{Name: "notes.txt", ContentType: "text/plain", Data: []byte("Mitochondria produce ATP.")}}
}

func TestSubmitAccepted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.service().Submit(ctx, "s1", sampleFiles(), "u1")
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, entity.SessionStatusPending, res.Status)
	assert.Equal(t, "1-0", res.MessageID)

	assert.Equal(t, entity.SessionStatusPending, h.sessions.status("s1"))
	files, _ := h.sessions.ListFiles(ctx, "s1")
	require.Len(t, files, 1)
	assert.EqualValues(t, len("Mitochondria produce ATP."), files[0].Size)

	staged, ok, err := h.store.LoadInput(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "notes.txt", staged[0].Name)

	require.Len(t, h.queue.tasks, 1)
	assert.Equal(t, "s1", h.queue.tasks[0].SessionID)
	assert.Empty(t, h.queue.tasks[0].Files)

	status, err := h.service().GetStatus(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "pending", status.Stage)
	assert.Equal(t, 0, status.Percent)
}

func TestSubmitRejectedWhileLocked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	svc := h.service()

	_, err := svc.Submit(ctx, "s1", sampleFiles(), "u1")
	require.NoError(t, err)

	// worker 正在处理
	_, ok, err := h.locks.Acquire(ctx, LockName("s1"), time.Minute, false, 0)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := svc.Submit(ctx, "s1", sampleFiles(), "u1")
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, RejectAlreadyLocked, res.Reason)
	assert.Len(t, h.queue.tasks, 1)
}

func TestSubmitRejectedWhileInFlight(t *testing.T) {
	h := newHarness(t)
	h.sessions.put(&entity.Session{ID: "s1", Status: entity.SessionStatusRetrying})

	res, err := h.service().Submit(context.Background(), "s1", sampleFiles(), "u1")
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, RejectAlreadyLocked, res.Reason)
	assert.Equal(t, entity.SessionStatusRetrying, res.Status)
	assert.Empty(t, h.queue.tasks)
}

func TestSubmitFinishedSessionConflicts(t *testing.T) {
	h := newHarness(t)
	h.sessions.put(&entity.Session{ID: "s1", Status: entity.SessionStatusCompleted})

	_, err := h.service().Submit(context.Background(), "s1", sampleFiles(), "u1")
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestSubmitValidatesInput(t *testing.T) {
	h := newHarness(t)
	_, err := h.service().Submit(context.Background(), " ", sampleFiles(), "u1")
	assert.ErrorIs(t, err, apperrors.ErrInvalidParam)

	_, err = h.service().Submit(context.Background(), "s1", nil, "u1")
	assert.ErrorIs(t, err, apperrors.ErrInvalidParam)
}

func TestSubmitEnqueueFailureMarksError(t *testing.T) {
	h := newHarness(t)
	h.queue.err = errors.New("redis down")
	ctx := context.Background()

	_, err := h.service().Submit(ctx, "s1", sampleFiles(), "u1")
	require.Error(t, err)
	assert.Equal(t, entity.SessionStatusError, h.sessions.status("s1"))

	errRec, err := h.service().GetError(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, errRec)
	assert.Equal(t, string(apperrors.KindInternal), errRec.Kind)
	assert.Contains(t, errRec.Message, "redis down")
}

func TestGetStatusFallsBackToSession(t *testing.T) {
	h := newHarness(t)
	h.sessions.put(&entity.Session{ID: "s1", Status: entity.SessionStatusFailed, ErrorKind: "ExternalServiceFatalError", ErrorMessage: "bad key"})

	status, err := h.service().GetStatus(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "failed", status.Stage)
	assert.Equal(t, 100, status.Percent)

	errRec, err := h.service().GetError(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, errRec)
	assert.Equal(t, "ExternalServiceFatalError", errRec.Kind)
	assert.Equal(t, "bad key", errRec.Message)
}

func TestGetStatusNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.service().GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)

	_, err = h.service().GetError(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestGetErrorNoneForHealthySession(t *testing.T) {
	h := newHarness(t)
	h.seed("s1", "text")

	errRec, err := h.service().GetError(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, errRec)
}

func TestSubmitThenRunEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.service().Submit(ctx, "s1", sampleFiles(), "u1")
	require.NoError(t, err)
	require.NoError(t, h.orchestrator().Run(ctx, h.queue.tasks[0]))

	items, err := h.service().GetResults(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, items, 1)

	status, err := h.service().GetStatus(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Stage)

	_, err = h.service().GetResults(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}
