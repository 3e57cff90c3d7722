package gormrepository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"predictpool/internal/models"
	"predictpool/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- Users and wallet links -------------------------------------------------

func (s *Store) GetUserByID(ctx context.Context, id uint64) (*models.User, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.User
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetLatestUserWallet(ctx context.Context, userID uint64) (*models.UserWallet, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.UserWallet
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("linked_at desc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetUserWalletByAddress(ctx context.Context, address string) (*models.UserWallet, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return nil, nil
	}
	var item models.UserWallet
	err := s.db.WithContext(ctx).
		Where("lower(address) = ?", address).
		Order("linked_at desc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) LinkUserWallet(ctx context.Context, item *models.UserWallet) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.LinkedAt.IsZero() {
		item.LinkedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(item).Error
}

// --- Cached wallet row ------------------------------------------------------

func (s *Store) GetWalletByUserID(ctx context.Context, userID uint64) (*models.Wallet, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Wallet
	err := s.db.WithContext(ctx).First(&item, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetOrCreateWallet(ctx context.Context, userID uint64) (*models.Wallet, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	existing, err := s.GetWalletByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	item := &models.Wallet{UserID: userID}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(item).Error
	if err != nil {
		return nil, err
	}
	return s.GetWalletByUserID(ctx, userID)
}

func (s *Store) ListWallets(ctx context.Context, limit, offset int) ([]models.Wallet, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Wallet
	err := s.db.WithContext(ctx).
		Order("user_id asc").
		Limit(normalizeLimit(limit, 200)).
		Offset(normalizeOffset(offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateWalletTotals is the totals-writer. It never touches
// available/reserved.
func (s *Store) UpdateWalletTotals(ctx context.Context, userID uint64, totalDeposited, totalWithdrawn decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"total_deposited": totalDeposited,
			"total_withdrawn": totalWithdrawn,
			"updated_at":      time.Now().UTC(),
		}).Error
}

// UpdateWalletBalances is the balance-writer. It never touches the deposit
// and withdraw totals.
func (s *Store) UpdateWalletBalances(ctx context.Context, userID uint64, available, reserved decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"available":  available,
			"reserved":   reserved,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *Store) AdjustWalletAvailable(ctx context.Context, userID uint64, delta decimal.Decimal) error {
	return s.adjustWalletColumn(ctx, "available", userID, delta)
}

func (s *Store) AdjustWalletReserved(ctx context.Context, userID uint64, delta decimal.Decimal) error {
	return s.adjustWalletColumn(ctx, "reserved", userID, delta)
}

// adjustWalletColumn applies a balance delta in one guarded UPDATE. A debit
// only lands when the column covers it, so an overdraft surfaces as
// ErrInsufficientBalance instead of being clamped away.
func (s *Store) adjustWalletColumn(ctx context.Context, column string, userID uint64, delta decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	q := s.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("user_id = ?", userID)
	if delta.IsNegative() {
		q = q.Where(column+" >= ?", delta.Neg())
	}
	res := q.Updates(map[string]any{
		column:       gorm.Expr(column+" + ?", delta),
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if delta.IsNegative() && res.RowsAffected == 0 {
		return repository.ErrInsufficientBalance
	}
	return nil
}

// --- Escrow locks -----------------------------------------------------------

func (s *Store) CreateEscrowLock(ctx context.Context, item *models.EscrowLock) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetEscrowLockByID(ctx context.Context, id uint64) (*models.EscrowLock, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.EscrowLock
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetEscrowLockByRef(ctx context.Context, lockRef string) (*models.EscrowLock, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	lockRef = strings.TrimSpace(lockRef)
	if lockRef == "" {
		return nil, nil
	}
	var item models.EscrowLock
	err := s.db.WithContext(ctx).First(&item, "lock_ref = ?", lockRef).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// TransitionEscrowLock applies the lock state machine. The WHERE on the
// expected current state means a racing writer loses cleanly: zero rows
// affected, false returned, no partial overwrite.
func (s *Store) TransitionEscrowLock(ctx context.Context, id uint64, from, to string, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	updates := map[string]any{
		"state":      to,
		"updated_at": at,
	}
	switch to {
	case models.LockStateConsumed:
		updates["consumed_at"] = at
	case models.LockStateReleased, models.LockStateExpired, models.LockStateVoided:
		updates["released_at"] = at
	}
	res := s.db.WithContext(ctx).Model(&models.EscrowLock{}).
		Where("id = ? AND state = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) SumUnexpiredLockedAmount(ctx context.Context, userID uint64, now time.Time) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	var raw *string
	err := s.db.WithContext(ctx).Model(&models.EscrowLock{}).
		Select("COALESCE(SUM(amount), 0)::text").
		Where("user_id = ? AND state = ?", userID, models.LockStateLocked).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	return parseDecimalText(raw)
}

func (s *Store) ListLocksByUserAndStates(ctx context.Context, userID uint64, states []string) ([]models.EscrowLock, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if len(states) > 0 {
		query = query.Where("state IN ?", states)
	}
	var items []models.EscrowLock
	if err := query.Order("created_at asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListLocksByPredictionAndState(ctx context.Context, predictionID uint64, state string) ([]models.EscrowLock, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.EscrowLock
	err := s.db.WithContext(ctx).
		Where("prediction_id = ? AND state = ?", predictionID, state).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ListDueLocks returns locks past their TTL, plus legacy rows without an
// expiry that are older than the fallback cutoff.
func (s *Store) ListDueLocks(ctx context.Context, now time.Time, fallbackCutoff time.Time, limit int) ([]models.EscrowLock, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.EscrowLock
	err := s.db.WithContext(ctx).
		Where("state = ?", models.LockStateLocked).
		Where("(expires_at IS NOT NULL AND expires_at < ?) OR (expires_at IS NULL AND created_at < ?)", now, fallbackCutoff).
		Order("created_at asc").
		Limit(normalizeLimit(limit, 500)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Predictions ------------------------------------------------------------

func (s *Store) GetPredictionByID(ctx context.Context, id uint64) (*models.Prediction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Prediction
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPredictionsByIDs(ctx context.Context, ids []uint64) ([]models.Prediction, error) {
	if s == nil || s.db == nil || len(ids) == 0 {
		return nil, nil
	}
	var items []models.Prediction
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetOptionByID(ctx context.Context, id uint64) (*models.PredictionOption, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.PredictionOption
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListOptionsByPrediction(ctx context.Context, predictionID uint64) ([]models.PredictionOption, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.PredictionOption
	err := s.db.WithContext(ctx).
		Where("prediction_id = ?", predictionID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdatePredictionAggregates(ctx context.Context, id uint64, poolTotal decimal.Decimal, participants int) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Prediction{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"pool_total":        poolTotal,
			"participant_count": participants,
			"updated_at":        time.Now().UTC(),
		}).Error
}

func (s *Store) UpdateOptionAggregates(ctx context.Context, id uint64, totalStaked, odds decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.PredictionOption{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"total_staked": totalStaked,
			"current_odds": odds,
			"updated_at":   time.Now().UTC(),
		}).Error
}

func (s *Store) UpdatePredictionStatus(ctx context.Context, id uint64, status string, winningOptionID *uint64, settledAt *time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if winningOptionID != nil {
		updates["winning_option_id"] = *winningOptionID
	}
	if settledAt != nil {
		updates["settled_at"] = *settledAt
	}
	return s.db.WithContext(ctx).Model(&models.Prediction{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// --- Entries ----------------------------------------------------------------

func (s *Store) CreateEntry(ctx context.Context, item *models.PredictionEntry) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) SaveEntry(ctx context.Context, item *models.PredictionEntry) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) GetEntryByUserAndPrediction(ctx context.Context, userID, predictionID uint64) (*models.PredictionEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.PredictionEntry
	err := s.db.WithContext(ctx).
		First(&item, "user_id = ? AND prediction_id = ?", userID, predictionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListEntriesByPrediction(ctx context.Context, predictionID uint64, statuses []string) ([]models.PredictionEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Where("prediction_id = ?", predictionID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	var items []models.PredictionEntry
	if err := query.Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Settlement -------------------------------------------------------------

func (s *Store) GetSettlementRecordByPrediction(ctx context.Context, predictionID uint64) (*models.SettlementRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SettlementRecord
	err := s.db.WithContext(ctx).First(&item, "prediction_id = ?", predictionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertSettlementRecord(ctx context.Context, item *models.SettlementRecord) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "prediction_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"winning_option_id",
			"total_payout",
			"platform_fee",
			"creator_fee",
			"status",
			"merkle_root",
			"posted_tx",
			"settled_by",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) UpsertSettlementResult(ctx context.Context, item *models.SettlementResult) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "prediction_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"rail",
			"wallet_address",
			"stake_total",
			"returned_total",
			"net",
			"status",
			"claim_status",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListSettlementResultsByPrediction(ctx context.Context, predictionID uint64) ([]models.SettlementResult, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SettlementResult
	err := s.db.WithContext(ctx).
		Where("prediction_id = ?", predictionID).
		Order("user_id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListClaimableResultsByAddress(ctx context.Context, address string) ([]models.SettlementResult, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return nil, nil
	}
	var items []models.SettlementResult
	err := s.db.WithContext(ctx).
		Where("lower(wallet_address) = ?", address).
		Where("rail = ? AND status = ? AND claim_status = ?",
			models.RailOnchain, models.ResultStatusWin, models.ClaimStatusPending).
		Order("prediction_id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListOnchainWinners(ctx context.Context, predictionID uint64) ([]models.SettlementResult, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SettlementResult
	err := s.db.WithContext(ctx).
		Where("prediction_id = ? AND rail = ? AND status = ?",
			predictionID, models.RailOnchain, models.ResultStatusWin).
		Order("user_id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) AnyPayoutClaimed(ctx context.Context, predictionID uint64) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&models.SettlementResult{}).
		Where("prediction_id = ?", predictionID).
		Where("claim_status IN ?", []string{models.ClaimStatusClaimed, models.ClaimStatusCredited}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteSettlementByPrediction removes the settlement header, its results
// and any relayer job. Callers guard on AnyPayoutClaimed first.
func (s *Store) DeleteSettlementByPrediction(ctx context.Context, predictionID uint64) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("prediction_id = ?", predictionID).Delete(&models.SettlementResult{}).Error; err != nil {
			return err
		}
		if err := tx.Where("prediction_id = ?", predictionID).Delete(&models.RelayerJob{}).Error; err != nil {
			return err
		}
		// The settlement's own ledger rows go with it, otherwise their
		// idempotency gate would swallow the credits of a later re-settle.
		// Reset is blocked once anything was claimed or credited, so these
		// rows never back money that actually moved to a user.
		if err := tx.Where("external_ref LIKE ? OR external_ref IN ?",
			fmt.Sprintf("settle:%d:%%", predictionID),
			[]string{
				fmt.Sprintf("fee:platform:%d", predictionID),
				fmt.Sprintf("fee:creator:%d", predictionID),
			}).Delete(&models.LedgerTransaction{}).Error; err != nil {
			return err
		}
		return tx.Where("prediction_id = ?", predictionID).Delete(&models.SettlementRecord{}).Error
	})
}

func (s *Store) UpdateResultClaimStatus(ctx context.Context, predictionID, userID uint64, claimStatus string, claimedAt *time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	updates := map[string]any{
		"claim_status": claimStatus,
		"updated_at":   time.Now().UTC(),
	}
	if claimedAt != nil {
		updates["claimed_at"] = *claimedAt
	}
	return s.db.WithContext(ctx).Model(&models.SettlementResult{}).
		Where("prediction_id = ? AND user_id = ?", predictionID, userID).
		Updates(updates).Error
}

func (s *Store) UpsertRelayerJob(ctx context.Context, item *models.RelayerJob) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "prediction_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"merkle_root",
			"payload",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetRelayerJobByPrediction(ctx context.Context, predictionID uint64) (*models.RelayerJob, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.RelayerJob
	err := s.db.WithContext(ctx).First(&item, "prediction_id = ?", predictionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetRelayerJobByID(ctx context.Context, id uint64) (*models.RelayerJob, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.RelayerJob
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveRelayerJob(ctx context.Context, item *models.RelayerJob) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) ListRelayerJobs(ctx context.Context, params repository.ListRelayerJobsParams) ([]models.RelayerJob, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.RelayerJob{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	var items []models.RelayerJob
	err := query.Order("created_at desc").
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Ledger and events ------------------------------------------------------

func (s *Store) InsertLedgerTransaction(ctx context.Context, item *models.LedgerTransaction) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "external_ref"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) SumLedgerAmount(ctx context.Context, userID uint64, provider, txType string) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	var raw *string
	err := s.db.WithContext(ctx).Model(&models.LedgerTransaction{}).
		Select("COALESCE(SUM(amount), 0)::text").
		Where("user_id = ? AND provider = ? AND tx_type = ?", userID, provider, txType).
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	return parseDecimalText(raw)
}

func (s *Store) InsertEventLog(ctx context.Context, item *models.EventLog) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

// --- Deposit watcher state --------------------------------------------------

func (s *Store) GetDepositCheckpoint(ctx context.Context, scope string) (*models.DepositCheckpoint, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.DepositCheckpoint
	err := s.db.WithContext(ctx).First(&item, "scope = ?", strings.TrimSpace(scope)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// SaveDepositCheckpoint only moves the checkpoint forward.
func (s *Store) SaveDepositCheckpoint(ctx context.Context, scope string, blockNumber uint64) error {
	if s == nil || s.db == nil {
		return nil
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "scope"}},
		DoUpdates: clause.Assignments(map[string]any{
			"block_number": gorm.Expr("GREATEST(deposit_checkpoints.block_number, ?)", blockNumber),
			"updated_at":   time.Now().UTC(),
		}),
	}).Create(&models.DepositCheckpoint{
		Scope:       scope,
		BlockNumber: blockNumber,
	}).Error
}

func (s *Store) InsertDeadLetter(ctx context.Context, item *models.DeadLetterEntry) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}, {Name: "log_index"}},
		DoNothing: true,
	}).Create(item).Error
}

func (s *Store) ListDeadLetters(ctx context.Context, params repository.ListDeadLettersParams) ([]models.DeadLetterEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.DeadLetterEntry{})
	if params.TxHash != nil && strings.TrimSpace(*params.TxHash) != "" {
		query = query.Where("tx_hash = ?", strings.TrimSpace(*params.TxHash))
	}
	var items []models.DeadLetterEntry
	err := query.Order("created_at desc").
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- System settings --------------------------------------------------------

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).First(&item, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Key) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SystemSetting
	if err := s.db.WithContext(ctx).Order("key asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func parseDecimalText(raw *string) (decimal.Decimal, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(strings.TrimSpace(*raw))
}
