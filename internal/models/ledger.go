package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Ledger transaction types. The set is closed; metadata carries the
// type-specific detail for each kind.
const (
	LedgerTxDeposit     = "deposit"
	LedgerTxWithdraw    = "withdraw"
	LedgerTxStake       = "stake"
	LedgerTxPayout      = "payout"
	LedgerTxRefund      = "refund"
	LedgerTxPlatformFee = "platform_fee"
	LedgerTxCreatorFee  = "creator_fee"
)

// Ledger providers (the custody rail a row belongs to).
const (
	LedgerProviderEscrow = "escrow"
	LedgerProviderDirect = "direct"
)

// LedgerTransaction is the append-only audit trail. The unique index on
// (provider, external_ref) is what makes deposit credits and stake audit
// writes idempotent: a replay inserts nothing.
type LedgerTransaction struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	UserID uint64 `gorm:"not null;index"`

	Provider    string `gorm:"type:varchar(20);not null;uniqueIndex:uniq_ledger_provider_ref,priority:1"`
	ExternalRef string `gorm:"type:varchar(120);not null;uniqueIndex:uniq_ledger_provider_ref,priority:2"`

	TxType string          `gorm:"type:varchar(20);not null;index"`
	Amount decimal.Decimal `gorm:"type:numeric(30,6);not null"`

	Metadata datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (LedgerTransaction) TableName() string {
	return "ledger_transactions"
}

// EventLog records domain events for the social surface (stake placed,
// settlement posted, deposit credited). Read-only for this service's callers.
type EventLog struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	UserID uint64 `gorm:"index"`

	Kind  string `gorm:"type:varchar(40);not null;index"`
	RefID uint64 `gorm:"index"`

	Metadata datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (EventLog) TableName() string {
	return "event_logs"
}
