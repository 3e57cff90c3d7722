package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"predictpool/internal/chain"
	"predictpool/internal/config"
	"predictpool/internal/models"
	"predictpool/internal/notify"
	"predictpool/internal/repository"
	"predictpool/internal/retry"
)

const depositWatcherScope = "deposit_watcher"

// DepositWatcher tails token Transfer logs into the escrow contract and
// credits the sending user's cached balance. The checkpoint only advances
// after every event in the scanned range has been handled or dead-lettered,
// so a crash replays the range and the ledger's idempotency absorbs it.
type DepositWatcher struct {
	Repo   repository.Repository
	Chain  ChainReader
	Flags  *SystemSettingsService
	Config config.DepositWatcherConfig
	Logger *zap.Logger
}

func (s *DepositWatcher) Run(ctx context.Context) {
	interval := s.Config.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logWarn("deposit scan failed", zap.Error(err))
			}
		}
	}
}

// RunOnce scans one block window and returns the number of credits applied.
func (s *DepositWatcher) RunOnce(ctx context.Context) (int, error) {
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureDepositWatcher, true) {
		return 0, nil
	}

	latest, err := s.Chain.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}

	from, err := s.nextBlock(ctx, latest)
	if err != nil {
		return 0, err
	}
	if from > latest {
		return 0, nil
	}
	to := latest
	if span := s.Config.MaxBlockSpan; span > 0 && to-from+1 > span {
		to = from + span - 1
	}

	transfers, err := s.Chain.FilterDepositTransfers(ctx, from, to)
	if err != nil {
		return 0, err
	}

	credited := 0
	for _, t := range transfers {
		applied, err := s.creditWithRetry(ctx, t)
		if err != nil {
			// The event is parked, not lost; the checkpoint still moves so
			// one poisoned deposit cannot stall the whole watcher. If even
			// the dead letter cannot be written the event has no home at
			// all, so stop short of its block and rescan next tick.
			if dlErr := s.deadLetter(ctx, t, err); dlErr != nil {
				if t.BlockNumber > from {
					if cpErr := s.Repo.SaveDepositCheckpoint(ctx, depositWatcherScope, t.BlockNumber-1); cpErr != nil {
						s.logWarn("checkpoint save failed", zap.Error(cpErr))
					}
				}
				return credited, dlErr
			}
			continue
		}
		if applied {
			credited++
		}
	}

	if err := s.Repo.SaveDepositCheckpoint(ctx, depositWatcherScope, to); err != nil {
		return credited, err
	}
	if s.Logger != nil && len(transfers) > 0 {
		s.Logger.Info("deposit window scanned",
			zap.Uint64("from_block", from),
			zap.Uint64("to_block", to),
			zap.Int("events", len(transfers)),
			zap.Int("credited", credited))
	}
	return credited, nil
}

// nextBlock is checkpoint+1, or a bounded backfill window on first run.
func (s *DepositWatcher) nextBlock(ctx context.Context, latest uint64) (uint64, error) {
	cp, err := s.Repo.GetDepositCheckpoint(ctx, depositWatcherScope)
	if err != nil {
		return 0, err
	}
	if cp != nil {
		return cp.BlockNumber + 1, nil
	}
	if s.Config.BackfillBlocks > 0 && latest > s.Config.BackfillBlocks {
		return latest - s.Config.BackfillBlocks, nil
	}
	return 1, nil
}

func (s *DepositWatcher) creditWithRetry(ctx context.Context, t chain.TokenTransfer) (bool, error) {
	policy := retry.Policy{
		MaxAttempts: s.Config.MaxAttempts,
		Initial:     s.Config.InitialBackoff,
		Max:         s.Config.MaxBackoff,
	}
	var applied bool
	_, err := policy.Do(ctx, func(ctx context.Context) error {
		var creditErr error
		applied, creditErr = s.credit(ctx, t)
		return creditErr
	})
	return applied, err
}

// credit applies one transfer exactly once. The ledger row on
// (provider, external_ref=txHash:logIndex) is the idempotency gate; the
// balance bump only happens on the first insert.
func (s *DepositWatcher) credit(ctx context.Context, t chain.TokenTransfer) (bool, error) {
	link, err := s.Repo.GetUserWalletByAddress(ctx, t.From)
	if err != nil {
		return false, err
	}
	if link == nil {
		// Not one of our users; deposits from unknown senders stay on-chain
		// until the address gets linked and reconciled.
		return false, nil
	}
	if _, err := s.Repo.GetOrCreateWallet(ctx, link.UserID); err != nil {
		return false, err
	}

	meta, _ := json.Marshal(map[string]any{
		"tx_hash":   t.TxHash,
		"log_index": t.LogIndex,
		"block":     t.BlockNumber,
		"from":      t.From,
		"source":    "deposit_watcher",
	})
	inserted, err := s.Repo.InsertLedgerTransaction(ctx, &models.LedgerTransaction{
		UserID:      link.UserID,
		Provider:    models.LedgerProviderEscrow,
		ExternalRef: ledgerRefForTransfer(t.TxHash, t.LogIndex),
		TxType:      models.LedgerTxDeposit,
		Amount:      t.Amount,
		Metadata:    datatypes.JSON(meta),
	})
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	if err := s.Repo.AdjustWalletAvailable(ctx, link.UserID, t.Amount); err != nil {
		return false, err
	}
	if err := s.Repo.InsertEventLog(ctx, &models.EventLog{
		UserID:   link.UserID,
		Kind:     "deposit_credited",
		Metadata: datatypes.JSON(meta),
	}); err != nil {
		s.logWarn("deposit event log write failed", zap.String("tx_hash", t.TxHash), zap.Error(err))
	}
	notify.EventBestEffort(ctx, "deposit_credited", link.UserID, map[string]any{
		"tx_hash": t.TxHash,
		"amount":  t.Amount.String(),
	})
	return true, nil
}

// ReplayTx re-runs the credit path for every escrow deposit in one
// transaction. Used by operators to clear a dead letter after fixing the
// underlying fault.
func (s *DepositWatcher) ReplayTx(ctx context.Context, txHash string) (int, error) {
	transfers, err := s.Chain.TokenTransfersInTx(ctx, txHash)
	if err != nil {
		return 0, err
	}
	escrow := s.Chain.EscrowAddress()
	credited := 0
	for _, t := range transfers {
		if !equalAddress(t.To, escrow) {
			continue
		}
		applied, err := s.credit(ctx, t)
		if err != nil {
			return credited, err
		}
		if applied {
			credited++
		}
	}
	return credited, nil
}

func (s *DepositWatcher) deadLetter(ctx context.Context, t chain.TokenTransfer, cause error) error {
	payload, _ := json.Marshal(t)
	if err := s.Repo.InsertDeadLetter(ctx, &models.DeadLetterEntry{
		TxHash:   t.TxHash,
		LogIndex: t.LogIndex,
		Error:    cause.Error(),
		Attempts: s.Config.MaxAttempts,
		Payload:  datatypes.JSON(payload),
	}); err != nil {
		s.logWarn("dead letter write failed", zap.String("tx_hash", t.TxHash), zap.Error(err))
		return err
	}
	s.logWarn("deposit credit dead-lettered",
		zap.String("tx_hash", t.TxHash),
		zap.Uint("log_index", t.LogIndex),
		zap.Error(cause))
	return nil
}

func (s *DepositWatcher) logWarn(msg string, fields ...zap.Field) {
	if s != nil && s.Logger != nil {
		s.Logger.Warn(msg, fields...)
	}
}
