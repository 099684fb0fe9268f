// Package ethtest provides an in-process EVM JSON-RPC endpoint with just
// enough of the eth namespace to exercise balance queries, contract calls and
// legacy value transfers in tests.
package ethtest

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// CallHandler answers eth_call requests addressed to a contract.
type CallHandler func(to common.Address, input []byte) ([]byte, error)

// Chain is a fake single-block EVM chain.
type Chain struct {
	mu       sync.Mutex
	chainID  *big.Int
	gasPrice *big.Int
	block    uint64
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	sent     []*types.Transaction
	calls    CallHandler
	failSend error

	server *gethrpc.Server
}

// New starts a fake chain with the given id.
func New(chainID int64) *Chain {
	c := &Chain{
		chainID:  big.NewInt(chainID),
		gasPrice: big.NewInt(1_000_000_000),
		block:    1,
		balances: make(map[common.Address]*big.Int),
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*types.Receipt),
		server:   gethrpc.NewServer(),
	}
	if err := c.server.RegisterName("eth", &ethService{chain: c}); err != nil {
		panic(fmt.Sprintf("register eth service: %v", err))
	}
	return c
}

// Dial returns an RPC client connected to the in-process server.
func (c *Chain) Dial() *gethrpc.Client {
	return gethrpc.DialInProc(c.server)
}

// Close stops the server.
func (c *Chain) Close() {
	c.server.Stop()
}

// SetBalance funds an account.
func (c *Chain) SetBalance(addr common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[addr] = new(big.Int).Set(wei)
}

// Balance returns the current balance of addr.
func (c *Chain) Balance(addr common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceLocked(addr)
}

// SetGasPrice overrides the suggested gas price.
func (c *Chain) SetGasPrice(wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gasPrice = new(big.Int).Set(wei)
}

// HandleCalls installs the eth_call handler.
func (c *Chain) HandleCalls(fn CallHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = fn
}

// FailSends makes eth_sendRawTransaction fail with err.
func (c *Chain) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failSend = err
}

// Sent returns the accepted transactions in order.
func (c *Chain) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

func (c *Chain) balanceLocked(addr common.Address) *big.Int {
	if b, ok := c.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

type ethService struct {
	chain *Chain
}

func (s *ethService) ChainId() *hexutil.Big {
	return (*hexutil.Big)(new(big.Int).Set(s.chain.chainID))
}

func (s *ethService) BlockNumber() hexutil.Uint64 {
	s.chain.mu.Lock()
	defer s.chain.mu.Unlock()
	return hexutil.Uint64(s.chain.block)
}

func (s *ethService) GetBalance(addr common.Address, block string) *hexutil.Big {
	s.chain.mu.Lock()
	defer s.chain.mu.Unlock()
	return (*hexutil.Big)(s.chain.balanceLocked(addr))
}

func (s *ethService) GasPrice() *hexutil.Big {
	s.chain.mu.Lock()
	defer s.chain.mu.Unlock()
	return (*hexutil.Big)(new(big.Int).Set(s.chain.gasPrice))
}

func (s *ethService) GetTransactionCount(addr common.Address, block string) hexutil.Uint64 {
	s.chain.mu.Lock()
	defer s.chain.mu.Unlock()
	return hexutil.Uint64(s.chain.nonces[addr])
}

func (s *ethService) Call(args map[string]any, block string) (hexutil.Bytes, error) {
	s.chain.mu.Lock()
	handler := s.chain.calls
	s.chain.mu.Unlock()
	if handler == nil {
		return nil, errors.New("execution reverted")
	}

	to, _ := args["to"].(string)
	raw, _ := args["input"].(string)
	if raw == "" {
		raw, _ = args["data"].(string)
	}
	input, err := hexutil.Decode(raw)
	if err != nil && raw != "" {
		return nil, err
	}
	return handler(common.HexToAddress(to), input)
}

func (s *ethService) SendRawTransaction(data hexutil.Bytes) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(data); err != nil {
		return common.Hash{}, err
	}

	c := s.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failSend != nil {
		return common.Hash{}, c.failSend
	}
	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return common.Hash{}, err
	}
	if tx.Nonce() != c.nonces[from] {
		return common.Hash{}, fmt.Errorf("nonce too low: have %d want %d", tx.Nonce(), c.nonces[from])
	}
	cost := new(big.Int).Mul(tx.GasPrice(), new(big.Int).SetUint64(tx.Gas()))
	cost.Add(cost, tx.Value())
	balance := c.balanceLocked(from)
	if balance.Cmp(cost) < 0 {
		return common.Hash{}, errors.New("insufficient funds for gas * price + value")
	}

	c.balances[from] = balance.Sub(balance, cost)
	if to := tx.To(); to != nil {
		c.balances[*to] = new(big.Int).Add(c.balanceLocked(*to), tx.Value())
	}
	c.nonces[from]++
	c.block++
	c.sent = append(c.sent, tx)
	c.receipts[tx.Hash()] = &types.Receipt{
		Type:              tx.Type(),
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: tx.Gas(),
		Logs:              []*types.Log{},
		TxHash:            tx.Hash(),
		GasUsed:           tx.Gas(),
		EffectiveGasPrice: tx.GasPrice(),
		BlockNumber:       new(big.Int).SetUint64(c.block),
	}
	return tx.Hash(), nil
}

func (s *ethService) GetTransactionReceipt(hash common.Hash) (*types.Receipt, error) {
	s.chain.mu.Lock()
	defer s.chain.mu.Unlock()
	receipt, ok := s.chain.receipts[hash]
	if !ok {
		return nil, nil
	}
	return receipt, nil
}

// LowerHex formats an address the way transaction APIs report it.
func LowerHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
