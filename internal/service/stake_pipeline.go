package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"predictpool/internal/config"
	"predictpool/internal/models"
	"predictpool/internal/notify"
	"predictpool/internal/repository"
)

// StakePipeline runs the full stake placement flow: feature gate, market
// validation, per-market serialization, escrow availability check, lock,
// entry upsert, lock consumption and aggregate recompute. Every failure
// after the lock is taken rolls the lock back to released so no funds stay
// reserved for a stake that never landed.
type StakePipeline struct {
	Repo       repository.Repository
	Reconciler *WalletReconciler
	State      *PredictionStateService
	Markets    *MarketMutex
	Flags      *SystemSettingsService
	Config     config.BettingConfig
	Logger     *zap.Logger
}

type StakeRequest struct {
	UserID       uint64
	PredictionID uint64
	OptionID     uint64
	Amount       decimal.Decimal
	// RequestID makes retries idempotent: the same id maps to the same
	// escrow lock. Empty means the request is never deduplicated.
	RequestID string
}

type StakeQuote struct {
	OddsBefore      decimal.Decimal `json:"odds_before"`
	OddsAfter       decimal.Decimal `json:"odds_after"`
	PotentialPayout decimal.Decimal `json:"potential_payout"`
}

type StakeResult struct {
	EntryID      uint64          `json:"entry_id"`
	LockID       uint64          `json:"lock_id"`
	Rail         string          `json:"rail"`
	AmountTotal  decimal.Decimal `json:"amount_total"`
	Quote        StakeQuote      `json:"quote"`
	NewAvailable decimal.Decimal `json:"new_available"`
	NewReserved  decimal.Decimal `json:"new_reserved"`
	Replayed     bool            `json:"replayed"`
}

// LockRefFor derives the deterministic idempotency key of a stake request.
func LockRefFor(req StakeRequest) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d|%d|%d|%s|%s",
		req.UserID, req.PredictionID, req.OptionID, req.Amount.String(), req.RequestID)))
	return hex.EncodeToString(h[:])
}

func (s *StakePipeline) Place(ctx context.Context, req StakeRequest) (*StakeResult, error) {
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureBetting, true) {
		return nil, NewDomainError(CodeBettingDisabled, "betting is currently disabled")
	}
	if !req.Amount.IsPositive() {
		return nil, NewDomainError(CodeInvalidAmount, "stake amount must be positive")
	}

	prediction, err := s.Repo.GetPredictionByID(ctx, req.PredictionID)
	if err != nil {
		return nil, err
	}
	if prediction == nil {
		return nil, NewDomainError(CodeNotFound, "prediction not found")
	}
	if prediction.Status != models.PredictionStatusOpen {
		return nil, NewDomainError(CodePredictionNotOpen, "prediction is not open for staking")
	}
	if prediction.ClosesAt != nil && time.Now().After(*prediction.ClosesAt) {
		return nil, NewDomainError(CodePredictionNotOpen, "prediction has closed")
	}
	option, err := s.Repo.GetOptionByID(ctx, req.OptionID)
	if err != nil {
		return nil, err
	}
	if option == nil || option.PredictionID != req.PredictionID {
		return nil, NewDomainError(CodeOptionMismatch, "option does not belong to this prediction")
	}

	release, err := s.Markets.Acquire(ctx, req.PredictionID, s.Config.MutexAcquireTimeout)
	if err != nil {
		return nil, NewDomainError(CodeLockBusy, "market is busy, retry shortly")
	}
	defer release()

	existing, err := s.Repo.GetEntryByUserAndPrediction(ctx, req.UserID, req.PredictionID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.OptionID != req.OptionID {
		return nil, NewDomainError(CodeDuplicateEntry, "already staked on a different outcome")
	}

	// Idempotent replay: a lock consumed under this exact request already
	// produced an entry, so return that result without moving funds.
	lockRef := LockRefFor(req)
	prior, err := s.Repo.GetEscrowLockByRef(ctx, lockRef)
	if err != nil {
		return nil, err
	}
	var lock *models.EscrowLock
	switch {
	case prior == nil:
		// fresh request
	case prior.State == models.LockStateConsumed:
		return s.replayResult(ctx, req, prior, existing)
	case prior.State == models.LockStateLocked:
		if !prior.Amount.Equal(req.Amount) {
			return nil, NewDomainError(CodeInvalidAmount, "request does not match its pending lock")
		}
		lock = prior
	default:
		// The earlier attempt rolled back or expired; this is a fresh
		// attempt that must not collide with the spent ref.
		lockRef = lockRef[:64-9] + ":" + uuid.NewString()[:8]
	}

	rail, address, err := s.resolveRail(ctx, req)
	if err != nil {
		return nil, err
	}

	if lock == nil {
		if err := s.checkAvailability(ctx, req, rail, address); err != nil {
			return nil, err
		}
		expires := time.Now().UTC().Add(s.lockTTL())
		lock = &models.EscrowLock{
			UserID:       req.UserID,
			PredictionID: req.PredictionID,
			OptionID:     req.OptionID,
			Amount:       req.Amount,
			State:        models.LockStateLocked,
			LockRef:      lockRef,
			ExpiresAt:    &expires,
		}
		if err := s.Repo.CreateEscrowLock(ctx, lock); err != nil {
			return nil, err
		}
		if err := s.Repo.AdjustWalletAvailable(ctx, req.UserID, req.Amount.Neg()); err != nil {
			s.rollbackLock(ctx, lock, false, false)
			if errors.Is(err, repository.ErrInsufficientBalance) {
				return nil, s.insufficientEscrow(ctx, req)
			}
			return nil, err
		}
		if err := s.Repo.AdjustWalletReserved(ctx, req.UserID, req.Amount); err != nil {
			s.rollbackLock(ctx, lock, true, false)
			return nil, err
		}
	}

	options, err := s.Repo.ListOptionsByPrediction(ctx, req.PredictionID)
	if err != nil {
		s.rollbackLock(ctx, lock, true, true)
		return nil, err
	}
	oddsBefore, oddsAfter, potential := QuoteStake(options, req.OptionID, req.Amount)

	entry, err := s.upsertEntry(ctx, req, existing, lock, rail, address, potential)
	if err != nil {
		s.rollbackLock(ctx, lock, true, true)
		return nil, err
	}

	ok, err := s.Repo.TransitionEscrowLock(ctx, lock.ID, models.LockStateLocked, models.LockStateConsumed, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		// The reaper expired the lock between creation and now; its funds
		// are already back. Back out the entry write too.
		if existing != nil {
			entry.Amount = entry.Amount.Sub(req.Amount)
			entry.PotentialPayout = entry.PotentialPayout.Sub(potential)
		} else {
			entry.Status = models.EntryStatusCancelled
		}
		if saveErr := s.Repo.SaveEntry(ctx, entry); saveErr != nil {
			s.logWarn("entry rollback failed", zap.Uint64("entry_id", entry.ID), zap.Error(saveErr))
		}
		return nil, NewDomainError(CodeLockBusy, "escrow lock was no longer held, retry")
	}

	s.writeAuditTrail(ctx, req, entry, lock, rail)

	if err := s.State.Recompute(ctx, req.PredictionID); err != nil {
		s.logWarn("aggregate recompute failed after stake",
			zap.Uint64("prediction_id", req.PredictionID), zap.Error(err))
	}

	notify.EventBestEffort(ctx, "stake_placed", req.UserID, map[string]any{
		"prediction_id": req.PredictionID,
		"option_id":     req.OptionID,
		"amount":        req.Amount.String(),
	})

	wallet, err := s.Repo.GetWalletByUserID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	result := &StakeResult{
		EntryID:     entry.ID,
		LockID:      lock.ID,
		Rail:        rail,
		AmountTotal: entry.Amount,
		Quote: StakeQuote{
			OddsBefore:      oddsBefore,
			OddsAfter:       oddsAfter,
			PotentialPayout: potential,
		},
	}
	if wallet != nil {
		result.NewAvailable = wallet.Available
		result.NewReserved = wallet.Reserved
	}
	return result, nil
}

// resolveRail picks the custody rail: onchain when the user has a linked
// wallet, direct otherwise.
func (s *StakePipeline) resolveRail(ctx context.Context, req StakeRequest) (string, string, error) {
	link, err := s.Repo.GetLatestUserWallet(ctx, req.UserID)
	if err != nil {
		return "", "", err
	}
	if link == nil {
		return models.RailDirect, "", nil
	}
	return models.RailOnchain, link.Address, nil
}

// checkAvailability is the advisory funds check before any write. On-chain
// capacity is the larger of the fresh reconciled figure and the cached
// available balance, so a slow indexer cannot block a user whose funds we
// already credited. The conditional debit below is the binding guard: a stake
// never spends more than the cached balance holds.
func (s *StakePipeline) checkAvailability(ctx context.Context, req StakeRequest, rail, address string) error {
	wallet, err := s.Repo.GetOrCreateWallet(ctx, req.UserID)
	if err != nil {
		return err
	}
	capacity := wallet.Available

	if rail == models.RailOnchain {
		snap, err := s.Reconciler.Reconcile(ctx, ReconcileInput{UserID: req.UserID, WalletAddress: address})
		if err != nil {
			return err
		}
		capacity = decimal.Max(snap.AvailableToStake, wallet.Available)
	}

	if capacity.LessThan(req.Amount) {
		return NewDomainError(CodeInsufficientEscrow, "insufficient escrow balance").
			WithMeta("available", capacity.String()).
			WithMeta("required", req.Amount.String())
	}
	return nil
}

func (s *StakePipeline) upsertEntry(ctx context.Context, req StakeRequest, existing *models.PredictionEntry, lock *models.EscrowLock, rail, address string, potential decimal.Decimal) (*models.PredictionEntry, error) {
	if existing != nil {
		existing.Amount = existing.Amount.Add(req.Amount)
		existing.PotentialPayout = existing.PotentialPayout.Add(potential)
		existing.EscrowLockID = lock.ID
		if err := s.Repo.SaveEntry(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}
	entry := &models.PredictionEntry{
		PredictionID:    req.PredictionID,
		OptionID:        req.OptionID,
		UserID:          req.UserID,
		Amount:          req.Amount,
		Status:          models.EntryStatusActive,
		Rail:            rail,
		WalletAddress:   address,
		PotentialPayout: potential,
		EscrowLockID:    lock.ID,
	}
	if err := s.Repo.CreateEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// rollbackLock releases a still-locked lock and reverts exactly the balance
// writes that landed before the failure, nothing more.
func (s *StakePipeline) rollbackLock(ctx context.Context, lock *models.EscrowLock, availableDebited, reservedBumped bool) {
	ok, err := s.Repo.TransitionEscrowLock(ctx, lock.ID, models.LockStateLocked, models.LockStateReleased, time.Now().UTC())
	if err != nil || !ok {
		s.logWarn("lock rollback failed", zap.Uint64("lock_id", lock.ID), zap.Error(err))
		return
	}
	if availableDebited {
		if err := s.Repo.AdjustWalletAvailable(ctx, lock.UserID, lock.Amount); err != nil {
			s.logWarn("lock rollback credit failed", zap.Uint64("lock_id", lock.ID), zap.Error(err))
		}
	}
	if reservedBumped {
		if err := s.Repo.AdjustWalletReserved(ctx, lock.UserID, lock.Amount.Neg()); err != nil {
			s.logWarn("lock rollback reserve release failed", zap.Uint64("lock_id", lock.ID), zap.Error(err))
		}
	}
}

// insufficientEscrow builds the standard funds error with the caller's real
// cached balance in the meta.
func (s *StakePipeline) insufficientEscrow(ctx context.Context, req StakeRequest) error {
	available := "0"
	if wallet, err := s.Repo.GetWalletByUserID(ctx, req.UserID); err == nil && wallet != nil {
		available = wallet.Available.String()
	}
	return NewDomainError(CodeInsufficientEscrow, "insufficient escrow balance").
		WithMeta("available", available).
		WithMeta("required", req.Amount.String())
}

func (s *StakePipeline) writeAuditTrail(ctx context.Context, req StakeRequest, entry *models.PredictionEntry, lock *models.EscrowLock, rail string) {
	provider := models.LedgerProviderDirect
	if rail == models.RailOnchain {
		provider = models.LedgerProviderEscrow
	}
	meta, _ := json.Marshal(map[string]any{
		"prediction_id": req.PredictionID,
		"option_id":     req.OptionID,
		"entry_id":      entry.ID,
		"lock_id":       lock.ID,
	})
	if _, err := s.Repo.InsertLedgerTransaction(ctx, &models.LedgerTransaction{
		UserID:      req.UserID,
		Provider:    provider,
		ExternalRef: "stake:" + lock.LockRef,
		TxType:      models.LedgerTxStake,
		Amount:      req.Amount,
		Metadata:    datatypes.JSON(meta),
	}); err != nil {
		s.logWarn("stake ledger write failed", zap.Uint64("lock_id", lock.ID), zap.Error(err))
	}
	if err := s.Repo.InsertEventLog(ctx, &models.EventLog{
		UserID:   req.UserID,
		Kind:     "stake_placed",
		RefID:    req.PredictionID,
		Metadata: datatypes.JSON(meta),
	}); err != nil {
		s.logWarn("stake event log write failed", zap.Uint64("lock_id", lock.ID), zap.Error(err))
	}
}

// replayResult rebuilds the response for a request whose lock was already
// consumed, without touching balances.
func (s *StakePipeline) replayResult(ctx context.Context, req StakeRequest, lock *models.EscrowLock, entry *models.PredictionEntry) (*StakeResult, error) {
	if entry == nil {
		var err error
		entry, err = s.Repo.GetEntryByUserAndPrediction(ctx, req.UserID, req.PredictionID)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, NewDomainError(CodeNotFound, "consumed lock has no entry")
		}
	}
	wallet, err := s.Repo.GetWalletByUserID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	result := &StakeResult{
		EntryID:     entry.ID,
		LockID:      lock.ID,
		Rail:        entry.Rail,
		AmountTotal: entry.Amount,
		Quote:       StakeQuote{PotentialPayout: entry.PotentialPayout},
		Replayed:    true,
	}
	if wallet != nil {
		result.NewAvailable = wallet.Available
		result.NewReserved = wallet.Reserved
	}
	return result, nil
}

func (s *StakePipeline) lockTTL() time.Duration {
	if s.Config.LockTTL > 0 {
		return s.Config.LockTTL
	}
	return 10 * time.Minute
}

func (s *StakePipeline) logWarn(msg string, fields ...zap.Field) {
	if s != nil && s.Logger != nil {
		s.Logger.Warn(msg, fields...)
	}
}
