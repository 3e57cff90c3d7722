package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"predictpool/internal/models"
	"predictpool/internal/repository"
)

const (
	ReconcileStatusOK       = "ok"
	ReconcileStatusDegraded = "degraded"
)

// WalletReconciler folds the on-chain escrow view into the cached wallet
// row. It owns total_deposited/total_withdrawn on that row and nothing else;
// available/reserved belong to the settlement side.
type WalletReconciler struct {
	Repo   repository.Repository
	Chain  ChainReader
	Logger *zap.Logger
}

type ReconcileInput struct {
	UserID        uint64
	WalletAddress string
	// TxHash, when set, is replayed against the chain so a deposit or
	// withdrawal the totals delta missed still lands in the ledger.
	TxHash string
}

// WalletSnapshot is the reconciled view returned to callers. Status degraded
// means the chain read failed and every on-chain figure is the cached one.
type WalletSnapshot struct {
	Status          string          `json:"status"`
	UserID          uint64          `json:"user_id"`
	WalletAddress   string          `json:"wallet_address"`
	OnchainBalance  decimal.Decimal `json:"onchain_balance"`
	ReservedOnchain decimal.Decimal `json:"reserved_onchain"`

	ReservedFromLedger decimal.Decimal `json:"reserved_from_ledger"`
	EscrowFromLedger   decimal.Decimal `json:"escrow_from_ledger"`
	AvailableToStake   decimal.Decimal `json:"available_to_stake"`

	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	DepositDelta   decimal.Decimal `json:"deposit_delta"`
	WithdrawDelta  decimal.Decimal `json:"withdraw_delta"`

	CachedAvailable decimal.Decimal `json:"cached_available"`
	CachedReserved  decimal.Decimal `json:"cached_reserved"`
}

// Reconcile computes the full snapshot for one user. It never writes
// available/reserved; the only persisted effect is the totals pair on the
// wallet row plus any replayed ledger transactions.
func (s *WalletReconciler) Reconcile(ctx context.Context, in ReconcileInput) (*WalletSnapshot, error) {
	address := strings.TrimSpace(in.WalletAddress)
	if address == "" {
		link, err := s.Repo.GetLatestUserWallet(ctx, in.UserID)
		if err != nil {
			return nil, err
		}
		if link == nil {
			return nil, NewDomainError(CodeWalletNotLinked, "user has no linked wallet")
		}
		address = link.Address
	}

	wallet, err := s.Repo.GetOrCreateWallet(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	snap := &WalletSnapshot{
		Status:          ReconcileStatusOK,
		UserID:          in.UserID,
		WalletAddress:   address,
		TotalDeposited:  wallet.TotalDeposited,
		TotalWithdrawn:  wallet.TotalWithdrawn,
		CachedAvailable: wallet.Available,
		CachedReserved:  wallet.Reserved,
	}

	onchain, err := s.Chain.EscrowSnapshot(ctx, address)
	if err != nil {
		// Never fabricate a zero balance out of an RPC failure. Serve the
		// cached figures and say so.
		s.logWarn("escrow snapshot failed, serving cached figures",
			zap.Uint64("user_id", in.UserID), zap.Error(err))
		snap.Status = ReconcileStatusDegraded
		snap.OnchainBalance = wallet.Available.Add(wallet.Reserved)
		snap.AvailableToStake = wallet.Available
		return snap, nil
	}
	snap.OnchainBalance = onchain.Balance
	snap.ReservedOnchain = onchain.Reserved

	now := time.Now().UTC()
	reserved, err := s.Repo.SumUnexpiredLockedAmount(ctx, in.UserID, now)
	if err != nil {
		return nil, err
	}
	escrow, err := s.escrowFromLedger(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	// Ledger-derived figures can momentarily exceed the chain after a
	// settlement posts; clamp so availability never goes negative.
	if reserved.GreaterThan(onchain.Balance) {
		reserved = onchain.Balance
	}
	if escrow.GreaterThan(onchain.Balance) {
		escrow = onchain.Balance
	}
	snap.ReservedFromLedger = reserved
	snap.EscrowFromLedger = escrow

	available := onchain.Balance.Sub(escrow)
	if available.IsNegative() {
		available = decimal.Zero
	}
	snap.AvailableToStake = available

	snap.DepositDelta = onchain.TotalDeposited.Sub(wallet.TotalDeposited)
	snap.WithdrawDelta = onchain.TotalWithdrawn.Sub(wallet.TotalWithdrawn)

	if in.TxHash != "" && !snap.DepositDelta.IsPositive() && !snap.WithdrawDelta.IsPositive() {
		s.replayTx(ctx, in.UserID, address, in.TxHash)
	}

	// Lifetime totals only move forward.
	newDeposited := decimal.Max(onchain.TotalDeposited, wallet.TotalDeposited)
	newWithdrawn := decimal.Max(onchain.TotalWithdrawn, wallet.TotalWithdrawn)
	if !newDeposited.Equal(wallet.TotalDeposited) || !newWithdrawn.Equal(wallet.TotalWithdrawn) {
		if err := s.Repo.UpdateWalletTotals(ctx, in.UserID, newDeposited, newWithdrawn); err != nil {
			return nil, err
		}
		snap.TotalDeposited = newDeposited
		snap.TotalWithdrawn = newWithdrawn
	}

	return snap, nil
}

// escrowFromLedger is the user's stake currently held by the escrow per our
// own records: locked plus consumed locks, minus locks whose prediction has
// already settled or been voided (those funds are back in play).
func (s *WalletReconciler) escrowFromLedger(ctx context.Context, userID uint64) (decimal.Decimal, error) {
	locks, err := s.Repo.ListLocksByUserAndStates(ctx, userID, []string{models.LockStateLocked, models.LockStateConsumed})
	if err != nil {
		return decimal.Zero, err
	}
	if len(locks) == 0 {
		return decimal.Zero, nil
	}

	idSet := make(map[uint64]struct{}, len(locks))
	for _, l := range locks {
		idSet[l.PredictionID] = struct{}{}
	}
	ids := make([]uint64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	predictions, err := s.Repo.ListPredictionsByIDs(ctx, ids)
	if err != nil {
		return decimal.Zero, err
	}
	done := make(map[uint64]bool, len(predictions))
	for _, p := range predictions {
		done[p.ID] = p.Status == models.PredictionStatusSettled || p.Status == models.PredictionStatusVoided
	}

	total := decimal.Zero
	for _, l := range locks {
		if done[l.PredictionID] {
			continue
		}
		total = total.Add(l.Amount)
	}
	return total, nil
}

// replayTx re-reads one transaction's token transfers against the escrow
// address and records any deposit or withdrawal the totals delta missed.
// Idempotent on (provider, external_ref=txHash:logIndex).
func (s *WalletReconciler) replayTx(ctx context.Context, userID uint64, address, txHash string) {
	transfers, err := s.Chain.TokenTransfersInTx(ctx, txHash)
	if err != nil {
		s.logWarn("tx replay failed", zap.String("tx_hash", txHash), zap.Error(err))
		return
	}
	escrow := strings.ToLower(s.Chain.EscrowAddress())
	addr := strings.ToLower(address)

	for _, t := range transfers {
		from := strings.ToLower(t.From)
		to := strings.ToLower(t.To)

		var txType string
		switch {
		case from == addr && to == escrow:
			txType = models.LedgerTxDeposit
		case from == escrow && to == addr:
			txType = models.LedgerTxWithdraw
		default:
			continue
		}

		meta, _ := json.Marshal(map[string]any{
			"tx_hash":   t.TxHash,
			"log_index": t.LogIndex,
			"block":     t.BlockNumber,
			"source":    "reconcile_replay",
		})
		inserted, err := s.Repo.InsertLedgerTransaction(ctx, &models.LedgerTransaction{
			UserID:      userID,
			Provider:    models.LedgerProviderEscrow,
			ExternalRef: ledgerRefForTransfer(t.TxHash, t.LogIndex),
			TxType:      txType,
			Amount:      t.Amount,
			Metadata:    datatypes.JSON(meta),
		})
		if err != nil {
			s.logWarn("tx replay ledger insert failed", zap.String("tx_hash", txHash), zap.Error(err))
			continue
		}
		if inserted && s.Logger != nil {
			s.Logger.Info("replayed missing ledger transaction",
				zap.Uint64("user_id", userID),
				zap.String("tx_type", txType),
				zap.String("tx_hash", t.TxHash),
				zap.String("amount", t.Amount.String()))
		}
	}
}

func (s *WalletReconciler) logWarn(msg string, fields ...zap.Field) {
	if s != nil && s.Logger != nil {
		s.Logger.Warn(msg, fields...)
	}
}
