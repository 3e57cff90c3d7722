package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"predictpool/internal/chain"
	"predictpool/internal/merkle"
	"predictpool/internal/models"
	"predictpool/internal/notify"
	"predictpool/internal/repository"
)

// SettlementEngine closes a prediction: it splits the pool, takes fees from
// the losing side only, credits direct-rail winners immediately and commits
// on-chain winners into a Merkle root for claim-based payout.
type SettlementEngine struct {
	Repo    repository.Repository
	State   *PredictionStateService
	Markets *MarketMutex
	Logger  *zap.Logger

	// PlatformAddress receives the platform fee on the on-chain rail.
	PlatformAddress string
	TokenDecimals   int32
}

// SettlementOutcome is what a settle call returns, cached or fresh.
type SettlementOutcome struct {
	Record     *models.SettlementRecord  `json:"record"`
	Results    []models.SettlementResult `json:"results"`
	MerkleRoot string                    `json:"merkle_root,omitempty"`
	Winners    int                       `json:"winners"`
	Losers     int                       `json:"losers"`
	Replayed   bool                      `json:"replayed"`
}

// MerkleClaim is one winner's claim input: leaf figures plus the proof path.
type MerkleClaim struct {
	Address     string   `json:"address"`
	AmountMinor string   `json:"amount_minor"`
	Amount      string   `json:"amount"`
	Proof       []string `json:"proof"`
}

// Settle resolves a prediction to the winning option. Replays return the
// stored outcome without moving funds again.
func (e *SettlementEngine) Settle(ctx context.Context, predictionID, winningOptionID uint64, actor string) (*SettlementOutcome, error) {
	release, err := e.Markets.Acquire(ctx, predictionID, 10*time.Second)
	if err != nil {
		return nil, NewDomainError(CodeLockBusy, "market is busy, retry shortly")
	}
	defer release()

	record, err := e.Repo.GetSettlementRecordByPrediction(ctx, predictionID)
	if err != nil {
		return nil, err
	}
	if record != nil {
		results, err := e.Repo.ListSettlementResultsByPrediction(ctx, predictionID)
		if err != nil {
			return nil, err
		}
		return &SettlementOutcome{
			Record:     record,
			Results:    results,
			MerkleRoot: record.MerkleRoot,
			Replayed:   true,
		}, nil
	}

	prediction, err := e.Repo.GetPredictionByID(ctx, predictionID)
	if err != nil {
		return nil, err
	}
	if prediction == nil {
		return nil, NewDomainError(CodeNotFound, "prediction not found")
	}
	if prediction.Status == models.PredictionStatusSettled || prediction.Status == models.PredictionStatusVoided {
		return nil, NewDomainError(CodeSettlementBlocked, "prediction already resolved")
	}
	option, err := e.Repo.GetOptionByID(ctx, winningOptionID)
	if err != nil {
		return nil, err
	}
	if option == nil || option.PredictionID != predictionID {
		return nil, NewDomainError(CodeOptionMismatch, "winning option does not belong to this prediction")
	}

	// Won and lost entries with no settlement record can only come from a
	// partial run that failed midway. Including them keeps the pool math
	// identical on the rerun; the per-entry guards below keep their money
	// from moving twice.
	entries, err := e.Repo.ListEntriesByPrediction(ctx, predictionID,
		[]string{models.EntryStatusActive, models.EntryStatusWon, models.EntryStatusLost})
	if err != nil {
		return nil, err
	}

	var winners, losers []models.PredictionEntry
	winningStake, losingStake := decimal.Zero, decimal.Zero
	for _, entry := range entries {
		if entry.OptionID == winningOptionID {
			winners = append(winners, entry)
			winningStake = winningStake.Add(entry.Amount)
		} else {
			losers = append(losers, entry)
			losingStake = losingStake.Add(entry.Amount)
		}
	}

	platformFee := feeOf(losingStake, prediction.PlatformFeePct)
	creatorFee := feeOf(losingStake, prediction.CreatorFeePct)
	prizePool := losingStake.Sub(platformFee).Sub(creatorFee)
	if prizePool.IsNegative() {
		prizePool = decimal.Zero
	}
	payoutPool := winningStake.Add(prizePool)

	now := time.Now().UTC()
	totalPayout := decimal.Zero
	var results []models.SettlementResult
	var leaves []merkle.Leaf

	for _, entry := range winners {
		payout := decimal.Zero
		if winningStake.IsPositive() {
			payout = payoutPool.Mul(entry.Amount).Div(winningStake).RoundDown(6)
		}
		totalPayout = totalPayout.Add(payout)

		result := models.SettlementResult{
			PredictionID:  predictionID,
			UserID:        entry.UserID,
			Rail:          entry.Rail,
			WalletAddress: entry.WalletAddress,
			StakeTotal:    entry.Amount,
			ReturnedTotal: payout,
			Net:           payout.Sub(entry.Amount),
			Status:        models.ResultStatusWin,
			ClaimStatus:   models.ClaimStatusPending,
		}

		provider := models.LedgerProviderEscrow
		if entry.Rail == models.RailDirect {
			provider = models.LedgerProviderDirect
			result.ClaimStatus = models.ClaimStatusCredited
			result.ClaimedAt = &now
		} else {
			leaves = append(leaves, merkle.Leaf{
				Address: entry.WalletAddress,
				Amount:  chain.ToMinorUnits(payout, e.TokenDecimals),
			})
		}

		// Money moves only once per winner: the ledger row is inserted
		// first and gates both the credit and the reserve release, so a
		// rerun after a midway failure is a per-winner no-op. An entry
		// already marked won had its money moved by the earlier run.
		if entry.Status == models.EntryStatusActive {
			inserted, err := e.insertLedger(ctx, entry.UserID, provider, models.LedgerTxPayout,
				fmt.Sprintf("settle:%d:%d", predictionID, entry.UserID), payout, predictionID)
			if err != nil {
				return nil, err
			}
			if inserted {
				if entry.Rail == models.RailDirect {
					if err := e.Repo.AdjustWalletAvailable(ctx, entry.UserID, payout); err != nil {
						return nil, err
					}
				}
				// The stake leaves reservation either way; on the direct
				// rail the payout above already includes the principal.
				if err := e.Repo.AdjustWalletReserved(ctx, entry.UserID, entry.Amount.Neg()); err != nil {
					return nil, err
				}
			}
		}

		entry.Status = models.EntryStatusWon
		payoutCopy := payout
		entry.ActualPayout = &payoutCopy
		if err := e.Repo.SaveEntry(ctx, &entry); err != nil {
			return nil, err
		}
		if err := e.Repo.UpsertSettlementResult(ctx, &result); err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	for _, entry := range losers {
		if entry.Status == models.EntryStatusActive {
			if err := e.Repo.AdjustWalletReserved(ctx, entry.UserID, entry.Amount.Neg()); err != nil {
				return nil, err
			}
		}
		entry.Status = models.EntryStatusLost
		zero := decimal.Zero
		entry.ActualPayout = &zero
		if err := e.Repo.SaveEntry(ctx, &entry); err != nil {
			return nil, err
		}
		result := models.SettlementResult{
			PredictionID:  predictionID,
			UserID:        entry.UserID,
			Rail:          entry.Rail,
			WalletAddress: entry.WalletAddress,
			StakeTotal:    entry.Amount,
			ReturnedTotal: decimal.Zero,
			Net:           entry.Amount.Neg(),
			Status:        models.ResultStatusLoss,
			ClaimStatus:   models.ClaimStatusNone,
		}
		if err := e.Repo.UpsertSettlementResult(ctx, &result); err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	if err := e.releaseOpenLocks(ctx, predictionID); err != nil {
		return nil, err
	}

	if platformFee.IsPositive() {
		e.writeLedger(ctx, 0, models.LedgerProviderEscrow, models.LedgerTxPlatformFee,
			fmt.Sprintf("fee:platform:%d", predictionID), platformFee, predictionID)
	}
	if creatorFee.IsPositive() {
		e.writeLedger(ctx, prediction.CreatorID, models.LedgerProviderEscrow, models.LedgerTxCreatorFee,
			fmt.Sprintf("fee:creator:%d", predictionID), creatorFee, predictionID)
	}

	record = &models.SettlementRecord{
		PredictionID:    predictionID,
		WinningOptionID: winningOptionID,
		TotalPayout:     totalPayout,
		PlatformFee:     platformFee,
		CreatorFee:      creatorFee,
		Status:          models.SettlementStatusCompleted,
		SettledBy:       actor,
	}
	if len(leaves) > 0 {
		tree, err := merkle.Build(leaves)
		if err != nil {
			return nil, err
		}
		record.MerkleRoot = tree.RootHex()
		record.Status = models.SettlementStatusPendingOnchain
	}
	if err := e.Repo.UpsertSettlementRecord(ctx, record); err != nil {
		return nil, err
	}

	winID := winningOptionID
	if err := e.Repo.UpdatePredictionStatus(ctx, predictionID, models.PredictionStatusSettled, &winID, &now); err != nil {
		return nil, err
	}
	if err := e.State.Recompute(ctx, predictionID); err != nil {
		e.logWarn("aggregate recompute failed after settlement",
			zap.Uint64("prediction_id", predictionID), zap.Error(err))
	}

	meta, _ := json.Marshal(map[string]any{
		"winning_option_id": winningOptionID,
		"total_payout":      totalPayout.String(),
		"merkle_root":       record.MerkleRoot,
	})
	if err := e.Repo.InsertEventLog(ctx, &models.EventLog{
		Kind:     "prediction_settled",
		RefID:    predictionID,
		Metadata: datatypes.JSON(meta),
	}); err != nil {
		e.logWarn("settlement event log write failed", zap.Uint64("prediction_id", predictionID), zap.Error(err))
	}
	notify.EventBestEffort(ctx, "prediction_settled", 0, map[string]any{
		"prediction_id":     predictionID,
		"winning_option_id": winningOptionID,
	})

	return &SettlementOutcome{
		Record:     record,
		Results:    results,
		MerkleRoot: record.MerkleRoot,
		Winners:    len(winners),
		Losers:     len(losers),
	}, nil
}

// Void refunds every active entry at face value, no fees, and marks the
// prediction voided. Blocked once a settlement record exists.
func (e *SettlementEngine) Void(ctx context.Context, predictionID uint64, actor string) error {
	release, err := e.Markets.Acquire(ctx, predictionID, 10*time.Second)
	if err != nil {
		return NewDomainError(CodeLockBusy, "market is busy, retry shortly")
	}
	defer release()

	record, err := e.Repo.GetSettlementRecordByPrediction(ctx, predictionID)
	if err != nil {
		return err
	}
	if record != nil {
		return NewDomainError(CodeSettlementBlocked, "prediction already settled, reset it first")
	}
	prediction, err := e.Repo.GetPredictionByID(ctx, predictionID)
	if err != nil {
		return err
	}
	if prediction == nil {
		return NewDomainError(CodeNotFound, "prediction not found")
	}
	if prediction.Status == models.PredictionStatusVoided {
		return nil
	}

	entries, err := e.Repo.ListEntriesByPrediction(ctx, predictionID, []string{models.EntryStatusActive})
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := e.Repo.AdjustWalletReserved(ctx, entry.UserID, entry.Amount.Neg()); err != nil {
			return err
		}
		if err := e.Repo.AdjustWalletAvailable(ctx, entry.UserID, entry.Amount); err != nil {
			return err
		}
		entry.Status = models.EntryStatusRefunded
		if err := e.Repo.SaveEntry(ctx, &entry); err != nil {
			return err
		}
		now := time.Now().UTC()
		result := models.SettlementResult{
			PredictionID:  predictionID,
			UserID:        entry.UserID,
			Rail:          entry.Rail,
			WalletAddress: entry.WalletAddress,
			StakeTotal:    entry.Amount,
			ReturnedTotal: entry.Amount,
			Net:           decimal.Zero,
			Status:        models.ResultStatusRefund,
			ClaimStatus:   models.ClaimStatusCredited,
			ClaimedAt:     &now,
		}
		if err := e.Repo.UpsertSettlementResult(ctx, &result); err != nil {
			return err
		}
		e.writeLedger(ctx, entry.UserID, models.LedgerProviderDirect, models.LedgerTxRefund,
			fmt.Sprintf("void:%d:%d", predictionID, entry.UserID), entry.Amount, predictionID)
	}

	if err := e.releaseOpenLocks(ctx, predictionID); err != nil {
		return err
	}
	if err := e.Repo.UpdatePredictionStatus(ctx, predictionID, models.PredictionStatusVoided, nil, nil); err != nil {
		return err
	}
	notify.EventBestEffort(ctx, "prediction_voided", 0, map[string]any{"prediction_id": predictionID})
	return nil
}

// Reset unwinds an unclaimed settlement so the prediction can be settled
// again (wrong outcome entered). Any claimed or direct-credited payout, or a
// root already posted on-chain, blocks it permanently.
func (e *SettlementEngine) Reset(ctx context.Context, predictionID uint64) error {
	release, err := e.Markets.Acquire(ctx, predictionID, 10*time.Second)
	if err != nil {
		return NewDomainError(CodeLockBusy, "market is busy, retry shortly")
	}
	defer release()

	record, err := e.Repo.GetSettlementRecordByPrediction(ctx, predictionID)
	if err != nil {
		return err
	}
	if record == nil {
		return NewDomainError(CodeNotFound, "no settlement to reset")
	}
	if record.PostedTx != "" {
		return NewDomainError(CodeSettlementBlocked, "settlement root already posted on-chain")
	}
	claimed, err := e.Repo.AnyPayoutClaimed(ctx, predictionID)
	if err != nil {
		return err
	}
	if claimed {
		return NewDomainError(CodeSettlementBlocked, "a payout was already claimed or credited")
	}

	entries, err := e.Repo.ListEntriesByPrediction(ctx, predictionID,
		[]string{models.EntryStatusWon, models.EntryStatusLost})
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := e.Repo.AdjustWalletReserved(ctx, entry.UserID, entry.Amount); err != nil {
			return err
		}
		entry.Status = models.EntryStatusActive
		entry.ActualPayout = nil
		if err := e.Repo.SaveEntry(ctx, &entry); err != nil {
			return err
		}
	}

	if err := e.Repo.DeleteSettlementByPrediction(ctx, predictionID); err != nil {
		return err
	}
	return e.Repo.UpdatePredictionStatus(ctx, predictionID, models.PredictionStatusClosed, nil, nil)
}

// Claims rebuilds the Merkle tree for a settled prediction and returns each
// on-chain winner's leaf plus proof. The tree is deterministic, so it is
// rebuilt from the stored results rather than persisted.
func (e *SettlementEngine) Claims(ctx context.Context, predictionID uint64) (string, []MerkleClaim, error) {
	record, err := e.Repo.GetSettlementRecordByPrediction(ctx, predictionID)
	if err != nil {
		return "", nil, err
	}
	if record == nil || record.MerkleRoot == "" {
		return "", nil, NewDomainError(CodeNotFound, "no on-chain settlement for this prediction")
	}

	tree, winners, err := e.buildTree(ctx, predictionID)
	if err != nil {
		return "", nil, err
	}
	if tree.RootHex() != record.MerkleRoot {
		return "", nil, fmt.Errorf("settlement %d: rebuilt root %s does not match stored %s",
			predictionID, tree.RootHex(), record.MerkleRoot)
	}

	claims := make([]MerkleClaim, 0, len(winners))
	for _, w := range winners {
		minor := chain.ToMinorUnits(w.ReturnedTotal, e.TokenDecimals)
		proof, err := tree.ProofHex(w.WalletAddress, minor)
		if err != nil {
			return "", nil, err
		}
		claims = append(claims, MerkleClaim{
			Address:     w.WalletAddress,
			AmountMinor: minor.String(),
			Amount:      w.ReturnedTotal.String(),
			Proof:       proof,
		})
	}
	return record.MerkleRoot, claims, nil
}

// ProofFor returns one address's claim from the rebuilt tree.
func (e *SettlementEngine) ProofFor(ctx context.Context, predictionID uint64, address string) (*MerkleClaim, error) {
	_, claims, err := e.Claims(ctx, predictionID)
	if err != nil {
		return nil, err
	}
	for i := range claims {
		if equalAddress(claims[i].Address, address) {
			return &claims[i], nil
		}
	}
	return nil, NewDomainError(CodeNotFound, "address has no claim in this settlement")
}

// MarkClaimed records an external on-chain claim and completes the record
// once every winner has claimed.
func (e *SettlementEngine) MarkClaimed(ctx context.Context, predictionID uint64, address, txHash string) error {
	link, err := e.Repo.GetUserWalletByAddress(ctx, address)
	if err != nil {
		return err
	}
	if link == nil {
		return NewDomainError(CodeWalletNotLinked, "address is not linked to any user")
	}
	now := time.Now().UTC()
	if err := e.Repo.UpdateResultClaimStatus(ctx, predictionID, link.UserID, models.ClaimStatusClaimed, &now); err != nil {
		return err
	}
	meta, _ := json.Marshal(map[string]any{"tx_hash": txHash, "address": address})
	if err := e.Repo.InsertEventLog(ctx, &models.EventLog{
		UserID:   link.UserID,
		Kind:     "payout_claimed",
		RefID:    predictionID,
		Metadata: datatypes.JSON(meta),
	}); err != nil {
		e.logWarn("claim event log write failed", zap.Uint64("prediction_id", predictionID), zap.Error(err))
	}

	winners, err := e.Repo.ListOnchainWinners(ctx, predictionID)
	if err != nil {
		return err
	}
	for _, w := range winners {
		if w.UserID == link.UserID {
			continue
		}
		if w.ClaimStatus != models.ClaimStatusClaimed {
			return nil
		}
	}
	record, err := e.Repo.GetSettlementRecordByPrediction(ctx, predictionID)
	if err != nil || record == nil {
		return err
	}
	record.Status = models.SettlementStatusCompleted
	return e.Repo.UpsertSettlementRecord(ctx, record)
}

func (e *SettlementEngine) buildTree(ctx context.Context, predictionID uint64) (*merkle.Tree, []models.SettlementResult, error) {
	winners, err := e.Repo.ListOnchainWinners(ctx, predictionID)
	if err != nil {
		return nil, nil, err
	}
	leaves := make([]merkle.Leaf, 0, len(winners))
	for _, w := range winners {
		leaves = append(leaves, merkle.Leaf{
			Address: w.WalletAddress,
			Amount:  chain.ToMinorUnits(w.ReturnedTotal, e.TokenDecimals),
		})
	}
	tree, err := merkle.Build(leaves)
	if err != nil {
		return nil, nil, err
	}
	return tree, winners, nil
}

// releaseOpenLocks returns any never-consumed lock on the prediction.
func (e *SettlementEngine) releaseOpenLocks(ctx context.Context, predictionID uint64) error {
	locks, err := e.Repo.ListLocksByPredictionAndState(ctx, predictionID, models.LockStateLocked)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, lock := range locks {
		ok, err := e.Repo.TransitionEscrowLock(ctx, lock.ID, models.LockStateLocked, models.LockStateReleased, now)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := e.Repo.AdjustWalletAvailable(ctx, lock.UserID, lock.Amount); err != nil {
			return err
		}
		if err := e.Repo.AdjustWalletReserved(ctx, lock.UserID, lock.Amount.Neg()); err != nil {
			return err
		}
	}
	return nil
}

func (e *SettlementEngine) insertLedger(ctx context.Context, userID uint64, provider, txType, ref string, amount decimal.Decimal, predictionID uint64) (bool, error) {
	meta, _ := json.Marshal(map[string]any{"prediction_id": predictionID})
	return e.Repo.InsertLedgerTransaction(ctx, &models.LedgerTransaction{
		UserID:      userID,
		Provider:    provider,
		ExternalRef: ref,
		TxType:      txType,
		Amount:      amount,
		Metadata:    datatypes.JSON(meta),
	})
}

func (e *SettlementEngine) writeLedger(ctx context.Context, userID uint64, provider, txType, ref string, amount decimal.Decimal, predictionID uint64) {
	if _, err := e.insertLedger(ctx, userID, provider, txType, ref, amount, predictionID); err != nil {
		e.logWarn("settlement ledger write failed",
			zap.String("ref", ref), zap.Error(err))
	}
}

// feeOf is pct percent of base, floored to token precision, never negative.
func feeOf(base, pct decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() || !pct.IsPositive() {
		return decimal.Zero
	}
	return base.Mul(pct).Div(decimal.NewFromInt(100)).RoundDown(6)
}

func equalAddress(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func (e *SettlementEngine) logWarn(msg string, fields ...zap.Field) {
	if e != nil && e.Logger != nil {
		e.Logger.Warn(msg, fields...)
	}
}
