package service

import (
	"context"
	"strings"

	"predictpool/internal/chain"
)

// stubChain is the in-memory ChainReader for service tests.
type stubChain struct {
	escrow    string
	snapshot  chain.Snapshot
	snapErr   error
	latest    uint64
	transfers []chain.TokenTransfer
	txLogs    map[string][]chain.TokenTransfer

	filterCalls [][2]uint64
}

func (c *stubChain) EscrowSnapshot(ctx context.Context, address string) (chain.Snapshot, error) {
	if c.snapErr != nil {
		return chain.Snapshot{}, c.snapErr
	}
	return c.snapshot, nil
}

func (c *stubChain) TokenTransfersInTx(ctx context.Context, txHash string) ([]chain.TokenTransfer, error) {
	return c.txLogs[strings.ToLower(txHash)], nil
}

func (c *stubChain) FilterDepositTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]chain.TokenTransfer, error) {
	c.filterCalls = append(c.filterCalls, [2]uint64{fromBlock, toBlock})
	var out []chain.TokenTransfer
	for _, t := range c.transfers {
		if t.BlockNumber >= fromBlock && t.BlockNumber <= toBlock {
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *stubChain) LatestBlock(ctx context.Context) (uint64, error) {
	return c.latest, nil
}

func (c *stubChain) EscrowAddress() string {
	return c.escrow
}
