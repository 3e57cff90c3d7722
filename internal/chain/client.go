package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"predictpool/internal/config"
)

// Contract ABIs
var (
	escrowABI abi.ABI
	erc20ABI  abi.ABI

	transferTopic common.Hash
)

func init() {
	var err error

	escrowABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "balanceOf",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "account", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "reservedOf",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "account", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "totalDeposited",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "account", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "totalWithdrawn",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "account", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "postSettlement",
			"type": "function",
			"inputs": [
				{"name": "predictionId", "type": "uint256"},
				{"name": "merkleRoot", "type": "bytes32"},
				{"name": "creator", "type": "address"},
				{"name": "creatorFee", "type": "uint256"},
				{"name": "platform", "type": "address"},
				{"name": "platformFee", "type": "uint256"}
			],
			"outputs": []
		}
	]`))
	if err != nil {
		panic("escrow abi parse: " + err.Error())
	}

	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "Transfer",
			"type": "event",
			"inputs": [
				{"name": "from", "type": "address", "indexed": true},
				{"name": "to", "type": "address", "indexed": true},
				{"name": "value", "type": "uint256", "indexed": false}
			]
		}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}

	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
}

// Snapshot is the escrow contract's view of one address, in decimal token
// units. A Snapshot only exists when all four reads succeeded; callers must
// treat a read failure as "unknown", never as zero.
type Snapshot struct {
	Balance        decimal.Decimal
	Reserved       decimal.Decimal
	TotalDeposited decimal.Decimal
	TotalWithdrawn decimal.Decimal
}

// TokenTransfer is one decoded ERC-20 Transfer log of the escrow token.
type TokenTransfer struct {
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	From        string
	To          string
	Amount      decimal.Decimal
}

// Client is the read-only chain collaborator: escrow view calls and token
// transfer log queries against one escrow contract and one token contract.
type Client struct {
	eth      *ethclient.Client
	escrow   common.Address
	token    common.Address
	decimals int32
}

func Dial(cfg config.ChainConfig) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("chain: rpc_url is required")
	}
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial rpc: %w", err)
	}
	decimals := cfg.TokenDecimals
	if decimals <= 0 {
		decimals = 6
	}
	return &Client{
		eth:      eth,
		escrow:   common.HexToAddress(cfg.EscrowAddress),
		token:    common.HexToAddress(cfg.TokenAddress),
		decimals: decimals,
	}, nil
}

func (c *Client) EscrowAddress() string {
	return c.escrow.Hex()
}

// EscrowSnapshot reads balance, reserved and lifetime totals for one address.
// Any RPC failure propagates to the caller unmodified.
func (c *Client) EscrowSnapshot(ctx context.Context, address string) (Snapshot, error) {
	addr := common.HexToAddress(address)

	balance, err := c.viewUint(ctx, "balanceOf", addr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("chain: balanceOf: %w", err)
	}
	reserved, err := c.viewUint(ctx, "reservedOf", addr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("chain: reservedOf: %w", err)
	}
	deposited, err := c.viewUint(ctx, "totalDeposited", addr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("chain: totalDeposited: %w", err)
	}
	withdrawn, err := c.viewUint(ctx, "totalWithdrawn", addr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("chain: totalWithdrawn: %w", err)
	}

	return Snapshot{
		Balance:        c.fromMinorUnits(balance),
		Reserved:       c.fromMinorUnits(reserved),
		TotalDeposited: c.fromMinorUnits(deposited),
		TotalWithdrawn: c.fromMinorUnits(withdrawn),
	}, nil
}

func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// FilterDepositTransfers returns token Transfer logs whose recipient is the
// escrow contract, over the inclusive block range.
func (c *Client) FilterDepositTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]TokenTransfer, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.token},
		Topics: [][]common.Hash{
			{transferTopic},
			nil,
			{common.BytesToHash(c.escrow.Bytes())},
		},
	}
	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("chain: filter logs [%d,%d]: %w", fromBlock, toBlock, err)
	}

	transfers := make([]TokenTransfer, 0, len(logs))
	for _, lg := range logs {
		transfer, ok := c.decodeTransfer(lg.Topics, lg.Data)
		if !ok {
			continue
		}
		transfer.TxHash = lg.TxHash.Hex()
		transfer.LogIndex = lg.Index
		transfer.BlockNumber = lg.BlockNumber
		transfers = append(transfers, transfer)
	}
	return transfers, nil
}

// TokenTransfersInTx decodes the token Transfer logs of one mined
// transaction. Used to recover a deposit amount when the escrow views lag
// behind the transaction the caller just observed.
func (c *Client) TokenTransfersInTx(ctx context.Context, txHash string) ([]TokenTransfer, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, fmt.Errorf("chain: receipt %s: %w", txHash, err)
	}

	var transfers []TokenTransfer
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != c.token {
			continue
		}
		transfer, ok := c.decodeTransfer(lg.Topics, lg.Data)
		if !ok {
			continue
		}
		transfer.TxHash = lg.TxHash.Hex()
		transfer.LogIndex = lg.Index
		transfer.BlockNumber = lg.BlockNumber
		transfers = append(transfers, transfer)
	}
	return transfers, nil
}

func (c *Client) decodeTransfer(topics []common.Hash, data []byte) (TokenTransfer, bool) {
	if len(topics) != 3 || topics[0] != transferTopic {
		return TokenTransfer{}, false
	}
	values, err := erc20ABI.Events["Transfer"].Inputs.NonIndexed().Unpack(data)
	if err != nil || len(values) != 1 {
		return TokenTransfer{}, false
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return TokenTransfer{}, false
	}
	return TokenTransfer{
		From:   common.BytesToAddress(topics[1].Bytes()).Hex(),
		To:     common.BytesToAddress(topics[2].Bytes()).Hex(),
		Amount: c.fromMinorUnits(amount),
	}, true
}

func (c *Client) viewUint(ctx context.Context, method string, addr common.Address) (*big.Int, error) {
	callData, err := escrowABI.Pack(method, addr)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{
		To:   &c.escrow,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, err
	}
	values, err := escrowABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unpack %s: unexpected outputs", method)
	}
	out, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: not a uint256", method)
	}
	return out, nil
}

func (c *Client) fromMinorUnits(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -c.decimals)
}

// ToMinorUnits converts a decimal token amount to integer minor units,
// truncating any precision beyond the token's decimals.
func ToMinorUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}
