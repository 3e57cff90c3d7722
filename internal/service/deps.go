package service

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"predictpool/internal/chain"
)

// ledgerRefForTransfer is the idempotency key every chain-sourced ledger row
// uses, shared by the reconciler's tx replay and the deposit watcher.
func ledgerRefForTransfer(txHash string, logIndex uint) string {
	return fmt.Sprintf("%s:%d", txHash, logIndex)
}

// parseFeeMinor converts a decimal fee string into token minor units.
func parseFeeMinor(s string, decimals int32) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("bad fee amount %q: %w", s, err)
	}
	return chain.ToMinorUnits(d, decimals), nil
}

// ChainReader is the read-only chain collaborator shared by the reconciler,
// the stake pipeline and the deposit watcher. *chain.Client satisfies it.
type ChainReader interface {
	EscrowSnapshot(ctx context.Context, address string) (chain.Snapshot, error)
	TokenTransfersInTx(ctx context.Context, txHash string) ([]chain.TokenTransfer, error)
	FilterDepositTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]chain.TokenTransfer, error)
	LatestBlock(ctx context.Context) (uint64, error)
	EscrowAddress() string
}

// SettlementPoster is the one state-changing chain capability this service
// holds. *chain.Relayer satisfies it.
type SettlementPoster interface {
	PostSettlement(ctx context.Context, predictionID uint64, root [32]byte, creator string, creatorFee *big.Int, platform string, platformFee *big.Int) (string, error)
	Address() string
}
