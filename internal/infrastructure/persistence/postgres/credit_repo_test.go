package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"study-forge-api/internal/domain/entity"
)

func TestCreditRepositoryCreditAndDeduct(t *testing.T) {
	client := requireDB(t)
	repo := NewCreditRepository(client)
	ctx := context.Background()
	userID := uniqueID("user")

	balance, err := repo.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, balance)

	balance, err = repo.Credit(ctx, userID, 100, "purchase")
	require.NoError(t, err)
	assert.EqualValues(t, 100, balance)

	balance, ok, err := repo.Deduct(ctx, userID, 10, "generation", "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 90, balance)

	_, ok, err = repo.Deduct(ctx, userID, 91, "generation", "s1")
	require.NoError(t, err)
	assert.False(t, ok, "overdraft must be refused")

	balance, err = repo.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.EqualValues(t, 90, balance, "refused deduct leaves the balance unchanged")

	var txns []entity.CreditTransaction
	require.NoError(t, client.DB().Where("user_id = ?", userID).Order("created_at ASC").Find(&txns).Error)
	require.Len(t, txns, 2)
	assert.EqualValues(t, 100, txns[0].Delta)
	assert.EqualValues(t, -10, txns[1].Delta)
	assert.EqualValues(t, 90, txns[1].BalanceAfter)
}

func TestCreditRepositoryConcurrentDeductNeverOverdraws(t *testing.T) {
	client := requireDB(t)
	repo := NewCreditRepository(client)
	ctx := context.Background()
	userID := uniqueID("racer")

	_, err := repo.Credit(ctx, userID, 50, "purchase")
	require.NoError(t, err)

	const workers = 20
	var succeeded int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.Deduct(ctx, userID, 5, "generation", "")
			if err == nil && ok {
				atomic.AddInt32(&succeeded, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), succeeded, "exactly balance/cost deductions succeed")

	balance, err := repo.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestCreditRepositoryDeductMissingAccount(t *testing.T) {
	client := requireDB(t)
	repo := NewCreditRepository(client)

	_, ok, err := repo.Deduct(context.Background(), uniqueID("ghost"), 1, "generation", "")
	require.NoError(t, err)
	assert.False(t, ok)
}
