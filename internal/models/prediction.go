package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PredictionStatusOpen      = "open"
	PredictionStatusClosed    = "closed"
	PredictionStatusSettled   = "settled"
	PredictionStatusVoided    = "voided"
	PredictionStatusCancelled = "cancelled"
	PredictionStatusDisputed  = "disputed"
)

type Prediction struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	CreatorID uint64 `gorm:"not null;index"`
	Question  string `gorm:"type:text;not null"`
	Status    string `gorm:"type:varchar(20);not null;default:'open';index"`

	PoolTotal        decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`
	ParticipantCount int             `gorm:"not null;default:0"`

	WinningOptionID *uint64 `gorm:"index"`

	// Fee percentages applied to the losing stake pool at settlement.
	PlatformFeePct decimal.Decimal `gorm:"type:numeric(10,4);not null;default:0"`
	CreatorFeePct  decimal.Decimal `gorm:"type:numeric(10,4);not null;default:0"`

	// CreatorAddress receives the creator fee on the on-chain rail.
	CreatorAddress string `gorm:"type:varchar(66)"`

	ClosesAt  *time.Time `gorm:"type:timestamptz"`
	SettledAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Prediction) TableName() string {
	return "predictions"
}

type PredictionOption struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	PredictionID uint64 `gorm:"not null;index"`
	Label        string `gorm:"type:varchar(200);not null"`

	TotalStaked decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`
	CurrentOdds decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (PredictionOption) TableName() string {
	return "prediction_options"
}
