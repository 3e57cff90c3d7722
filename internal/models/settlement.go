package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	SettlementStatusPendingOnchain = "pending_onchain"
	SettlementStatusOnchainPosted  = "onchain_posted"
	SettlementStatusCompleted      = "completed"
)

// SettlementRecord is the one-per-prediction settlement header, upserted
// idempotently. Replaying a settle call once the status is terminal returns
// this row unchanged.
type SettlementRecord struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	PredictionID uint64 `gorm:"not null;uniqueIndex"`

	WinningOptionID uint64 `gorm:"not null"`

	TotalPayout decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`
	PlatformFee decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`
	CreatorFee  decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`

	Status     string `gorm:"type:varchar(30);not null;default:'completed';index"`
	MerkleRoot string `gorm:"type:varchar(66)"`
	PostedTx   string `gorm:"type:varchar(66)"`

	SettledBy string `gorm:"type:varchar(100)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (SettlementRecord) TableName() string {
	return "settlement_records"
}

const (
	ResultStatusWin     = "win"
	ResultStatusLoss    = "loss"
	ResultStatusRefund  = "refund"
	ResultStatusPending = "pending"
)

const (
	ClaimStatusNone     = "none"
	ClaimStatusPending  = "pending"
	ClaimStatusClaimed  = "claimed"
	ClaimStatusCredited = "credited"
)

// SettlementResult is the canonical queryable per-user outcome of one
// settlement, independent of any UI aggregation.
type SettlementResult struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	PredictionID uint64 `gorm:"not null;index;uniqueIndex:uniq_result_prediction_user,priority:1"`
	UserID       uint64 `gorm:"not null;index;uniqueIndex:uniq_result_prediction_user,priority:2"`

	Rail          string `gorm:"type:varchar(20);not null"`
	WalletAddress string `gorm:"type:varchar(66);index"`

	StakeTotal    decimal.Decimal `gorm:"type:numeric(30,6);not null"`
	ReturnedTotal decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`
	Net           decimal.Decimal `gorm:"type:numeric(30,6);not null;default:0"`

	Status      string     `gorm:"type:varchar(20);not null;index"`
	ClaimStatus string     `gorm:"type:varchar(20);not null;default:'none';index"`
	ClaimedAt   *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (SettlementResult) TableName() string {
	return "settlement_results"
}

const (
	RelayerJobQueued    = "queued"
	RelayerJobRunning   = "running"
	RelayerJobFinalized = "finalized"
	RelayerJobFailed    = "failed"
)

// RelayerJob tracks one attempt series to post a settlement root on-chain.
// Finalized jobs are never re-posted; operators retry only failed ones.
type RelayerJob struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	PredictionID uint64 `gorm:"not null;uniqueIndex"`

	MerkleRoot string `gorm:"type:varchar(66);not null"`
	Status     string `gorm:"type:varchar(20);not null;default:'queued';index"`
	Attempts   int    `gorm:"not null;default:0"`
	LastError  string `gorm:"type:text"`
	TxHash     string `gorm:"type:varchar(66)"`

	Payload datatypes.JSON `gorm:"type:jsonb"`

	FinalizedAt *time.Time `gorm:"type:timestamptz"`
	CreatedAt   time.Time  `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"type:timestamptz;autoUpdateTime"`
}

func (RelayerJob) TableName() string {
	return "relayer_jobs"
}
