package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"AgentHub/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name    string
	RPCURL  string
	ChainID int64
	Notes   string
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	chainID   *big.Int
	mu        sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	client := NewClientFromRPC(cfg.Name, rpcClient, cfg.ChainID)
	client.notes = cfg.Notes
	return client, nil
}

// NewClientFromRPC wraps an already connected RPC client. A zero chainID is
// resolved lazily through eth_chainId.
func NewClientFromRPC(name string, rpcClient *gethrpc.Client, chainID int64) *Client {
	c := &Client{
		name:      name,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
	}
	if chainID > 0 {
		c.chainID = big.NewInt(chainID)
	}
	return c
}

// Name returns the configured chain name.
func (c *Client) Name() string {
	return c.name
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.rpcClient = nil
}

func (c *Client) backend() (*ethclient.Client, error) {
	if c == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth == nil {
		return nil, errors.New("以太坊客户端已关闭")
	}
	return c.eth, nil
}

// ChainID returns the configured chain id, querying the node when unknown.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	eth, err := c.backend()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	known := c.chainID
	c.mu.Unlock()
	if known != nil {
		return new(big.Int).Set(known), nil
	}

	id, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c.mu.Lock()
	c.chainID = id
	c.mu.Unlock()
	return new(big.Int).Set(id), nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	eth, err := c.backend()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := eth.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		Name:        c.name,
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// BalanceAt returns the latest balance of account in wei.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	eth, err := c.backend()
	if err != nil {
		return nil, err
	}
	balance, err := eth.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// CallContract executes a read-only call against the latest block.
func (c *Client) CallContract(ctx context.Context, msg gethcore.CallMsg) ([]byte, error) {
	eth, err := c.backend()
	if err != nil {
		return nil, err
	}
	out, err := eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("调用合约失败: %w", err)
	}
	return out, nil
}

// SuggestGasPrice returns the node's legacy gas price suggestion.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	eth, err := c.backend()
	if err != nil {
		return nil, err
	}
	price, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 gas 价格失败: %w", err)
	}
	return price, nil
}

// Transfer signs a legacy value transfer with the pending nonce and the
// suggested gas price, then broadcasts it.
func (c *Client) Transfer(ctx context.Context, req web3.TransferRequest) (web3.TransferResult, error) {
	if req.Key == nil {
		return web3.TransferResult{}, errors.New("未提供交易签名私钥")
	}
	if req.Value == nil || req.Value.Sign() <= 0 {
		return web3.TransferResult{}, errors.New("转账金额必须大于 0")
	}
	eth, err := c.backend()
	if err != nil {
		return web3.TransferResult{}, err
	}
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return web3.TransferResult{}, err
	}

	from := crypto.PubkeyToAddress(req.Key.PublicKey)
	nonce, err := eth.PendingNonceAt(ctx, from)
	if err != nil {
		return web3.TransferResult{}, fmt.Errorf("查询交易计数失败: %w", err)
	}
	gasPrice, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return web3.TransferResult{}, fmt.Errorf("获取 gas 价格失败: %w", err)
	}
	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit = web3.StandardTransferGas
	}

	to := req.To
	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    new(big.Int).Set(req.Value),
	})
	signed, err := coretypes.SignTx(tx, coretypes.NewEIP155Signer(chainID), req.Key)
	if err != nil {
		return web3.TransferResult{}, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := eth.SendTransaction(ctx, signed); err != nil {
		return web3.TransferResult{}, fmt.Errorf("发送交易失败: %w", err)
	}

	return web3.TransferResult{
		Hash:     signed.Hash(),
		From:     from,
		Nonce:    nonce,
		GasPrice: gasPrice,
	}, nil
}

// WaitForReceipt polls for the transaction receipt until ctx is done.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash, poll time.Duration) (*coretypes.Receipt, error) {
	eth, err := c.backend()
	if err != nil {
		return nil, err
	}
	if poll <= 0 {
		poll = time.Second
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		receipt, err := eth.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, fmt.Errorf("查询交易回执失败: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ web3.Client = (*Client)(nil)
