package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Escrow lock states. Only locked may transition, and only to consumed,
// released or expired. Terminal states never re-enter locked.
const (
	LockStateLocked   = "locked"
	LockStateConsumed = "consumed"
	LockStateReleased = "released"
	LockStateExpired  = "expired"
	LockStateVoided   = "voided"
)

type EscrowLock struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	UserID       uint64 `gorm:"not null;index"`
	PredictionID uint64 `gorm:"not null;index"`
	OptionID     uint64 `gorm:"not null"`

	Amount decimal.Decimal `gorm:"type:numeric(30,6);not null"`
	State  string          `gorm:"type:varchar(20);not null;default:'locked';index"`

	// LockRef is the idempotency key derived from the stake request. A retry
	// with the same ref finds the earlier lock instead of reserving twice.
	LockRef string `gorm:"type:varchar(80);not null;uniqueIndex"`

	ExpiresAt  *time.Time `gorm:"type:timestamptz;index"`
	ConsumedAt *time.Time `gorm:"type:timestamptz"`
	ReleasedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (EscrowLock) TableName() string {
	return "escrow_locks"
}

func (l *EscrowLock) Terminal() bool {
	return l != nil && l.State != LockStateLocked
}
