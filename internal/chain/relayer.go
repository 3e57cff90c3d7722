package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"predictpool/internal/config"
)

const postSettlementGasLimit = uint64(300_000)

// Relayer holds the operational signer used for the single state-changing
// call this service makes: publishing a settlement root.
type Relayer struct {
	eth            *ethclient.Client
	key            *ecdsa.PrivateKey
	address        common.Address
	escrow         common.Address
	chainID        *big.Int
	receiptTimeout time.Duration
}

func NewRelayer(cfg config.ChainConfig) (*Relayer, error) {
	keyHex := strings.TrimSpace(cfg.RelayerKey)
	if keyHex == "" {
		return nil, fmt.Errorf("relayer: private key is required")
	}
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("relayer: decode private key: %w", err)
	}
	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("relayer: invalid private key: %w", err)
	}

	eth, err := ethclient.Dial(strings.TrimSpace(cfg.RPCURL))
	if err != nil {
		return nil, fmt.Errorf("relayer: dial rpc: %w", err)
	}

	receiptTimeout := cfg.ReceiptTimeout
	if receiptTimeout <= 0 {
		receiptTimeout = 90 * time.Second
	}

	return &Relayer{
		eth:            eth,
		key:            key,
		address:        crypto.PubkeyToAddress(key.PublicKey),
		escrow:         common.HexToAddress(cfg.EscrowAddress),
		chainID:        big.NewInt(cfg.ChainID),
		receiptTimeout: receiptTimeout,
	}, nil
}

func (r *Relayer) Address() string {
	return r.address.Hex()
}

// PostSettlement publishes a settlement commitment on-chain and waits for
// one confirmation. A reverted receipt is a hard failure: the caller's job
// record must not be marked finalized.
func (r *Relayer) PostSettlement(ctx context.Context, predictionID uint64, root [32]byte, creator string, creatorFee *big.Int, platform string, platformFee *big.Int) (string, error) {
	callData, err := escrowABI.Pack("postSettlement",
		new(big.Int).SetUint64(predictionID),
		root,
		common.HexToAddress(creator),
		creatorFee,
		common.HexToAddress(platform),
		platformFee,
	)
	if err != nil {
		return "", fmt.Errorf("relayer: pack postSettlement: %w", err)
	}

	nonce, err := r.eth.PendingNonceAt(ctx, r.address)
	if err != nil {
		return "", fmt.Errorf("relayer: nonce: %w", err)
	}
	gasPrice, err := r.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("relayer: gas price: %w", err)
	}

	gasLimit, err := r.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:     r.address,
		To:       &r.escrow,
		GasPrice: gasPrice,
		Data:     callData,
	})
	if err != nil {
		gasLimit = postSettlementGasLimit
	}
	// 20% headroom over the estimate.
	gasLimit = gasLimit * 12 / 10

	tx := types.NewTransaction(nonce, r.escrow, big.NewInt(0), gasLimit, gasPrice, callData)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(r.chainID), r.key)
	if err != nil {
		return "", fmt.Errorf("relayer: sign tx: %w", err)
	}

	if err := r.eth.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("relayer: send tx: %w", err)
	}
	txHash := signedTx.Hash()

	receiptCtx, cancel := context.WithTimeout(ctx, r.receiptTimeout)
	defer cancel()

	receipt, err := r.waitForReceipt(receiptCtx, txHash)
	if err != nil {
		return txHash.Hex(), fmt.Errorf("relayer: confirm %s: %w", txHash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return txHash.Hex(), fmt.Errorf("relayer: tx reverted: %s", txHash.Hex())
	}
	return txHash.Hex(), nil
}

func (r *Relayer) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := r.eth.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
