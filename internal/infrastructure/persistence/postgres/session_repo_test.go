package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"study-forge-api/internal/domain/entity"
	"study-forge-api/internal/domain/repository"
	apperrors "study-forge-api/pkg/errors"
)

func TestSessionRepositoryLifecycle(t *testing.T) {
	client := requireDB(t)
	repo := NewSessionRepository(client)
	ctx := context.Background()
	id := uniqueID("session")

	session := entity.NewSession(id, "u1", []*entity.SessionFile{
		{Name: "notes.txt", Size: 5, Content: []byte("hello")},
	})
	require.NoError(t, repo.Create(ctx, session))

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entity.SessionStatusPending, got.Status)

	files, err := repo.ListFiles(ctx, id)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, []byte("hello"), files[0].Content)

	now := time.Now()
	ok, err := repo.TransitionStatus(ctx, id, repository.StatusUpdate{Status: entity.SessionStatusProcessing, StartedAt: &now})
	require.NoError(t, err)
	assert.True(t, ok)

	attempts, err := repo.IncrementAttempts(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	ok, err = repo.TransitionStatus(ctx, id, repository.StatusUpdate{Status: entity.SessionStatusError, ErrorKind: "WorkerTimeoutError"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.TransitionStatus(ctx, id, repository.StatusUpdate{Status: entity.SessionStatusCompleted})
	require.NoError(t, err)
	assert.False(t, ok, "terminal status is never overwritten")

	got, err = repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStatusError, got.Status)
	assert.Equal(t, "WorkerTimeoutError", got.ErrorKind)
}

func TestSessionRepositoryGetMissing(t *testing.T) {
	client := requireDB(t)
	got, err := NewSessionRepository(client).GetByID(context.Background(), uniqueID("missing"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionRepositoryListStale(t *testing.T) {
	client := requireDB(t)
	repo := NewSessionRepository(client)
	ctx := context.Background()
	id := uniqueID("stale")

	require.NoError(t, repo.Create(ctx, entity.NewSession(id, "", nil)))
	startedAt := time.Now().Add(-2 * time.Hour)
	_, err := repo.TransitionStatus(ctx, id, repository.StatusUpdate{Status: entity.SessionStatusProcessing, StartedAt: &startedAt})
	require.NoError(t, err)

	stale, err := repo.ListStale(ctx, time.Now().Add(-time.Hour), 1000)
	require.NoError(t, err)

	var found bool
	for _, s := range stale {
		if s.ID == id {
			found = true
		}
	}
	assert.True(t, found)
}

func TestStudyItemRepositoryReplaceIsIdempotent(t *testing.T) {
	client := requireDB(t)
	repo := NewStudyItemRepository(client)
	ctx := context.Background()
	id := uniqueID("items")

	items := func() []*entity.StudyItem {
		return []*entity.StudyItem{
			{Kind: entity.StudyItemFlashcard, Question: "Q1", Answer: "A1"},
			{Kind: entity.StudyItemQuiz, Question: "Q2", Answer: "B", Options: []string{"A", "B", "C"}},
		}
	}

	require.NoError(t, repo.ReplaceForSession(ctx, id, items()))
	require.NoError(t, repo.ReplaceForSession(ctx, id, items()))

	got, err := repo.ListBySession(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Q1", got[0].Question)
	assert.Equal(t, []string{"A", "B", "C"}, []string(got[1].Options))
}

func TestSessionRepositoryDuplicateIsConflict(t *testing.T) {
	client := requireDB(t)
	repo := NewSessionRepository(client)
	ctx := context.Background()
	id := uniqueID("dup")

	require.NoError(t, repo.Create(ctx, entity.NewSession(id, "", nil)))
	err := repo.Create(ctx, entity.NewSession(id, "", nil))
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}
