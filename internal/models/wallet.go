package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is the cached per-user balance row. It has exactly two writers with
// disjoint fields: the reconciler owns total_deposited/total_withdrawn, the
// settlement engine and reaper own available/reserved. Repository exposes the
// split as UpdateWalletTotals vs UpdateWalletBalances; nothing writes both.
type Wallet struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	UserID uint64 `gorm:"not null;uniqueIndex"`

	Available decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`
	Reserved  decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`

	TotalDeposited decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`
	TotalWithdrawn decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Wallet) TableName() string {
	return "wallets"
}
