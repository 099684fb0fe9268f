package web3

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// StandardTransferGas is the gas limit of a plain value transfer.
const StandardTransferGas uint64 = 21000

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	Name        string `json:"name"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// TransferRequest describes a native token transfer signed by Key.
type TransferRequest struct {
	Key      *ecdsa.PrivateKey
	To       common.Address
	Value    *big.Int
	GasLimit uint64
}

// TransferResult captures the broadcast transaction.
type TransferResult struct {
	Hash     common.Hash
	From     common.Address
	Nonce    uint64
	GasPrice *big.Int
}

// Client defines the chain operations used by wallets, ENS lookups and
// refunds so higher layers can interact with different networks uniformly.
type Client interface {
	Name() string
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)
	WaitForReceipt(ctx context.Context, hash common.Hash, poll time.Duration) (*types.Receipt, error)
	Close()
}

// WeiToEther renders a wei amount as a decimal ether string.
func WeiToEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	f := new(big.Float).SetPrec(256).SetInt(wei)
	f.Quo(f, big.NewFloat(1e18))
	text := f.Text('f', 18)
	for len(text) > 1 && text[len(text)-1] == '0' {
		text = text[:len(text)-1]
	}
	if text[len(text)-1] == '.' {
		text = text[:len(text)-1]
	}
	return text
}
