// Package repository 定义数据访问层接口
package repository

import (
	"context"
)

// CreditRepository 额度账户仓储接口
type CreditRepository interface {
	// GetBalance 获取余额，账户不存在时返回 0
	GetBalance(ctx context.Context, userID string) (int64, error)

	// Deduct 原子扣减，余额不足时 ok=false 且不做任何修改
	Deduct(ctx context.Context, userID string, amount int64, reason, sessionID string) (balance int64, ok bool, err error)

	// Credit 增加额度，账户不存在时创建
	Credit(ctx context.Context, userID string, amount int64, reason string) (int64, error)
}
