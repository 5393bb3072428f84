// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"study-forge-api/internal/domain/entity"
)

// CreditRepository 额度账户仓储实现
type CreditRepository struct {
	client *Client
	tx     *TxManager
}

// NewCreditRepository 创建额度仓储
func NewCreditRepository(client *Client) *CreditRepository {
	return &CreditRepository{client: client, tx: NewTxManager(client)}
}

// GetBalance 获取余额，账户不存在时返回 0
func (r *CreditRepository) GetBalance(ctx context.Context, userID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.CreditRepository.GetBalance")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var account entity.CreditAccount
	if err := db.First(&account, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		span.RecordError(err)
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return account.Balance, nil
}

// Deduct 原子扣减
// 余额判断与扣减在同一条语句内完成，并发扣减由数据库行锁串行化
func (r *CreditRepository) Deduct(ctx context.Context, userID string, amount int64, reason, sessionID string) (int64, bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.CreditRepository.Deduct")
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.Int64("credit.amount", amount),
	)
	defer span.End()

	if amount <= 0 {
		return 0, false, fmt.Errorf("deduct amount must be positive, got %d", amount)
	}

	var (
		balance int64
		ok      bool
	)
	err := r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		db := getDB(ctx, r.client.db)

		var rows []int64
		if err := db.Raw(
			`UPDATE credit_accounts SET balance = balance - ?, updated_at = NOW()
			 WHERE user_id = ? AND balance >= ?
			 RETURNING balance`,
			amount, userID, amount,
		).Scan(&rows).Error; err != nil {
			return fmt.Errorf("failed to deduct credits: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		balance, ok = rows[0], true
		return db.Create(&entity.CreditTransaction{
			UserID:       userID,
			SessionID:    sessionID,
			Delta:        -amount,
			BalanceAfter: balance,
			Reason:       reason,
		}).Error
	})
	if err != nil {
		span.RecordError(err)
		return 0, false, err
	}

	span.SetAttributes(attribute.Bool("credit.sufficient", ok))
	return balance, ok, nil
}

// Credit 增加额度，账户不存在时创建
func (r *CreditRepository) Credit(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.CreditRepository.Credit")
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.Int64("credit.amount", amount),
	)
	defer span.End()

	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	var balance int64
	err := r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		db := getDB(ctx, r.client.db)

		if err := db.Raw(
			`INSERT INTO credit_accounts (user_id, balance, created_at, updated_at)
			 VALUES (?, ?, NOW(), NOW())
			 ON CONFLICT (user_id) DO UPDATE
			 SET balance = credit_accounts.balance + EXCLUDED.balance, updated_at = NOW()
			 RETURNING balance`,
			userID, amount,
		).Scan(&balance).Error; err != nil {
			return fmt.Errorf("failed to credit account: %w", err)
		}

		return db.Create(&entity.CreditTransaction{
			UserID:       userID,
			Delta:        amount,
			BalanceAfter: balance,
			Reason:       reason,
		}).Error
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return balance, nil
}
