package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"predictpool/internal/models"
)

// ErrInsufficientBalance is returned by the balance-writer when a debit would
// take available or reserved below zero. The books never clamp.
var ErrInsufficientBalance = errors.New("insufficient wallet balance")

// WalletTotalsWriter is the reconciler's half of the wallet row: it may only
// touch total_deposited/total_withdrawn.
type WalletTotalsWriter interface {
	UpdateWalletTotals(ctx context.Context, userID uint64, totalDeposited, totalWithdrawn decimal.Decimal) error
}

// WalletBalanceWriter is the settlement/reaper/watcher half: it may only
// touch available/reserved. The split keeps the two-writer ownership of the
// cached row structural instead of conventional. Adjust calls with a negative
// delta are conditional: they fail with ErrInsufficientBalance instead of
// overdrafting the column.
type WalletBalanceWriter interface {
	UpdateWalletBalances(ctx context.Context, userID uint64, available, reserved decimal.Decimal) error
	AdjustWalletAvailable(ctx context.Context, userID uint64, delta decimal.Decimal) error
	AdjustWalletReserved(ctx context.Context, userID uint64, delta decimal.Decimal) error
}

type Repository interface {
	WalletTotalsWriter
	WalletBalanceWriter

	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Users and wallet links.
	GetUserByID(ctx context.Context, id uint64) (*models.User, error)
	GetLatestUserWallet(ctx context.Context, userID uint64) (*models.UserWallet, error)
	GetUserWalletByAddress(ctx context.Context, address string) (*models.UserWallet, error)
	LinkUserWallet(ctx context.Context, item *models.UserWallet) error

	// Cached wallet row.
	GetWalletByUserID(ctx context.Context, userID uint64) (*models.Wallet, error)
	GetOrCreateWallet(ctx context.Context, userID uint64) (*models.Wallet, error)
	ListWallets(ctx context.Context, limit, offset int) ([]models.Wallet, error)

	// Escrow locks. TransitionEscrowLock is the only write path for lock
	// state; it is guarded by the expected current state and reports whether
	// the transition happened.
	CreateEscrowLock(ctx context.Context, item *models.EscrowLock) error
	GetEscrowLockByID(ctx context.Context, id uint64) (*models.EscrowLock, error)
	GetEscrowLockByRef(ctx context.Context, lockRef string) (*models.EscrowLock, error)
	TransitionEscrowLock(ctx context.Context, id uint64, from, to string, at time.Time) (bool, error)
	SumUnexpiredLockedAmount(ctx context.Context, userID uint64, now time.Time) (decimal.Decimal, error)
	ListLocksByUserAndStates(ctx context.Context, userID uint64, states []string) ([]models.EscrowLock, error)
	ListLocksByPredictionAndState(ctx context.Context, predictionID uint64, state string) ([]models.EscrowLock, error)
	ListDueLocks(ctx context.Context, now time.Time, fallbackCutoff time.Time, limit int) ([]models.EscrowLock, error)

	// Predictions and options.
	GetPredictionByID(ctx context.Context, id uint64) (*models.Prediction, error)
	ListPredictionsByIDs(ctx context.Context, ids []uint64) ([]models.Prediction, error)
	GetOptionByID(ctx context.Context, id uint64) (*models.PredictionOption, error)
	ListOptionsByPrediction(ctx context.Context, predictionID uint64) ([]models.PredictionOption, error)
	UpdatePredictionAggregates(ctx context.Context, id uint64, poolTotal decimal.Decimal, participants int) error
	UpdateOptionAggregates(ctx context.Context, id uint64, totalStaked, odds decimal.Decimal) error
	UpdatePredictionStatus(ctx context.Context, id uint64, status string, winningOptionID *uint64, settledAt *time.Time) error

	// Entries.
	CreateEntry(ctx context.Context, item *models.PredictionEntry) error
	SaveEntry(ctx context.Context, item *models.PredictionEntry) error
	GetEntryByUserAndPrediction(ctx context.Context, userID, predictionID uint64) (*models.PredictionEntry, error)
	ListEntriesByPrediction(ctx context.Context, predictionID uint64, statuses []string) ([]models.PredictionEntry, error)

	// Settlement records, results, relayer jobs.
	GetSettlementRecordByPrediction(ctx context.Context, predictionID uint64) (*models.SettlementRecord, error)
	UpsertSettlementRecord(ctx context.Context, item *models.SettlementRecord) error
	UpsertSettlementResult(ctx context.Context, item *models.SettlementResult) error
	ListSettlementResultsByPrediction(ctx context.Context, predictionID uint64) ([]models.SettlementResult, error)
	ListClaimableResultsByAddress(ctx context.Context, address string) ([]models.SettlementResult, error)
	ListOnchainWinners(ctx context.Context, predictionID uint64) ([]models.SettlementResult, error)
	AnyPayoutClaimed(ctx context.Context, predictionID uint64) (bool, error)
	DeleteSettlementByPrediction(ctx context.Context, predictionID uint64) error
	UpdateResultClaimStatus(ctx context.Context, predictionID, userID uint64, claimStatus string, claimedAt *time.Time) error
	UpsertRelayerJob(ctx context.Context, item *models.RelayerJob) error
	GetRelayerJobByPrediction(ctx context.Context, predictionID uint64) (*models.RelayerJob, error)
	GetRelayerJobByID(ctx context.Context, id uint64) (*models.RelayerJob, error)
	SaveRelayerJob(ctx context.Context, item *models.RelayerJob) error
	ListRelayerJobs(ctx context.Context, params ListRelayerJobsParams) ([]models.RelayerJob, error)

	// Ledger + events. InsertLedgerTransaction reports whether the row was
	// actually inserted (false on (provider, external_ref) replay).
	InsertLedgerTransaction(ctx context.Context, item *models.LedgerTransaction) (bool, error)
	SumLedgerAmount(ctx context.Context, userID uint64, provider, txType string) (decimal.Decimal, error)
	InsertEventLog(ctx context.Context, item *models.EventLog) error

	// Deposit watcher state.
	GetDepositCheckpoint(ctx context.Context, scope string) (*models.DepositCheckpoint, error)
	SaveDepositCheckpoint(ctx context.Context, scope string, blockNumber uint64) error
	InsertDeadLetter(ctx context.Context, item *models.DeadLetterEntry) error
	ListDeadLetters(ctx context.Context, params ListDeadLettersParams) ([]models.DeadLetterEntry, error)

	// System settings.
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error)
}

type ListRelayerJobsParams struct {
	Limit  int
	Offset int
	Status *string
}

type ListDeadLettersParams struct {
	Limit  int
	Offset int
	TxHash *string
}
