// Package entity 定义领域实体
package entity

import "time"

// CreditAccount 用户额度账户
type CreditAccount struct {
	UserID    string    `json:"user_id" gorm:"type:varchar(64);primaryKey"`
	Balance   int64     `json:"balance" gorm:"not null;default:0;check:balance_non_negative,balance >= 0"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (CreditAccount) TableName() string {
	return "credit_accounts"
}

// CreditTransaction 额度流水（只追加）
type CreditTransaction struct {
	ID           string    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID       string    `json:"user_id" gorm:"type:varchar(64);index;not null"`
	SessionID    string    `json:"session_id,omitempty" gorm:"type:varchar(64);index"`
	Delta        int64     `json:"delta" gorm:"not null"`
	BalanceAfter int64     `json:"balance_after" gorm:"not null"`
	Reason       string    `json:"reason" gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (CreditTransaction) TableName() string {
	return "credit_transactions"
}
