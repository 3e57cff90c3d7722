package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EntryStatusActive    = "active"
	EntryStatusWon       = "won"
	EntryStatusLost      = "lost"
	EntryStatusRefunded  = "refunded"
	EntryStatusCancelled = "cancelled"
)

// Custody rails. Direct entries are settled against the internal ledger;
// onchain entries are settled through the Merkle commit-and-claim scheme.
const (
	RailDirect  = "direct"
	RailOnchain = "onchain"
)

// PredictionEntry is one user's cumulative position on one outcome of a
// prediction. A top-up increments Amount; a user never holds entries on two
// outcomes of the same prediction.
type PredictionEntry struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	PredictionID uint64 `gorm:"not null;index;uniqueIndex:uniq_entry_user_prediction,priority:1"`
	OptionID     uint64 `gorm:"not null;index"`
	UserID       uint64 `gorm:"not null;index;uniqueIndex:uniq_entry_user_prediction,priority:2"`

	Amount decimal.Decimal `gorm:"type:numeric(30,6);not null"`
	Status string          `gorm:"type:varchar(20);not null;default:'active';index"`

	Rail          string `gorm:"type:varchar(20);not null;default:'direct'"`
	WalletAddress string `gorm:"type:varchar(66)"`

	PotentialPayout decimal.Decimal  `gorm:"type:numeric(30,6);not null;default:0"`
	ActualPayout    *decimal.Decimal `gorm:"type:numeric(30,6)"`

	EscrowLockID uint64 `gorm:"not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (PredictionEntry) TableName() string {
	return "prediction_entries"
}
