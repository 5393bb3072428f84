package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"study-forge-api/internal/domain/entity"
	"study-forge-api/internal/domain/service"
	apperrors "study-forge-api/pkg/errors"
	"study-forge-api/pkg/logger"
)

type MockCreditRepository struct {
	mock.Mock
}

func (m *MockCreditRepository) GetBalance(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCreditRepository) Deduct(ctx context.Context, userID string, amount int64, reason, sessionID string) (int64, bool, error) {
	args := m.Called(ctx, userID, amount, reason, sessionID)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

func (m *MockCreditRepository) Credit(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	args := m.Called(ctx, userID, amount, reason)
	return args.Get(0).(int64), args.Error(1)
}

type MockUsageRecordRepository struct {
	mock.Mock
}

func (m *MockUsageRecordRepository) Create(ctx context.Context, record *entity.UsageRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockUsageRecordRepository) ListBySession(ctx context.Context, sessionID string) ([]*entity.UsageRecord, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).([]*entity.UsageRecord), args.Error(1)
}

func TestLedgerCheckAvailable(t *testing.T) {
	repo := new(MockCreditRepository)
	repo.On("GetBalance", mock.Anything, "u1").Return(int64(12), nil)
	l := NewLedger(repo)

	ok, err := l.CheckAvailable(context.Background(), "u1", 12)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.CheckAvailable(context.Background(), "u1", 13)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedgerDeductPassesSessionFromContext(t *testing.T) {
	repo := new(MockCreditRepository)
	repo.On("Deduct", mock.Anything, "u1", int64(10), "generation:gpt-4o-mini", "s-42").Return(int64(90), true, nil)
	l := NewLedger(repo)

	ctx := logger.WithSession(context.Background(), "s-42", "u1")
	balance, err := l.Deduct(ctx, "u1", 10, DeductReason("gpt-4o-mini"))
	require.NoError(t, err)
	assert.Equal(t, int64(90), balance)
	repo.AssertExpectations(t)
}

func TestLedgerDeductInsufficient(t *testing.T) {
	repo := new(MockCreditRepository)
	repo.On("Deduct", mock.Anything, "u1", int64(10), "generation:m", "").Return(int64(0), false, nil)
	repo.On("GetBalance", mock.Anything, "u1").Return(int64(4), nil)
	l := NewLedger(repo)

	balance, err := l.Deduct(context.Background(), "u1", 10, DeductReason("m"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientCredits))
	assert.Equal(t, int64(4), balance)
}

func TestLedgerRejectsNonPositiveAmounts(t *testing.T) {
	l := NewLedger(new(MockCreditRepository))

	_, err := l.Deduct(context.Background(), "u1", 0, "x")
	assert.ErrorIs(t, err, apperrors.ErrInvalidParam)

	_, err = l.Credit(context.Background(), "u1", -5, "x")
	assert.ErrorIs(t, err, apperrors.ErrInvalidParam)
}

func TestLedgerCredit(t *testing.T) {
	repo := new(MockCreditRepository)
	repo.On("Credit", mock.Anything, "u1", int64(100), "purchase").Return(int64(100), nil)

	balance, err := NewLedger(repo).Credit(context.Background(), "u1", 100, "purchase")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestUsageRecorderRecord(t *testing.T) {
	repo := new(MockUsageRecordRepository)
	repo.On("Create", mock.Anything, mock.MatchedBy(func(r *entity.UsageRecord) bool {
		return r.UserID == "u1" && r.Cost == 0 && r.Cached && r.Model == "gpt-4o-mini"
	})).Return(nil)

	err := NewUsageRecorder(repo).Record(context.Background(), service.UsageInput{
		UserID: " u1 ",
		Model:  "gpt-4o-mini",
		Cached: true,
	})
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestUsageRecorderRejectsNegative(t *testing.T) {
	err := NewUsageRecorder(new(MockUsageRecordRepository)).Record(context.Background(), service.UsageInput{InputTokens: -1})
	assert.Error(t, err)
}

func TestModelLabel(t *testing.T) {
	assert.Equal(t, "gpt-4o", modelLabel(DeductReason("gpt-4o")))
	assert.Equal(t, "unknown", modelLabel("manual"))
	assert.Equal(t, "unknown", modelLabel("generation:"))
}
