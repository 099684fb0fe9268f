package ethereum

import (
	"context"
	"math/big"
	"testing"
	"time"

	"AgentHub/internal/web3"
	"AgentHub/internal/web3/ethtest"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func newTestClient(t *testing.T, chainID int64) (*Client, *ethtest.Chain) {
	t.Helper()
	chain := ethtest.New(chainID)
	client := NewClientFromRPC("testnet", chain.Dial(), 0)
	t.Cleanup(func() {
		client.Close()
		chain.Close()
	})
	return client, chain
}

func TestClientTransferAndReceipt(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, chain := newTestClient(t, 11155111)

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	chain.SetBalance(from, big.NewInt(1_000_000_000_000_000_000))
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	result, err := client.Transfer(ctx, web3.TransferRequest{Key: key, To: to, Value: big.NewInt(5_000)})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if result.From != from || result.Nonce != 0 {
		t.Fatalf("unexpected transfer result: %+v", result)
	}

	receipt, err := client.WaitForReceipt(ctx, result.Hash, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait receipt: %v", err)
	}
	if receipt.GasUsed != web3.StandardTransferGas || receipt.TxHash != result.Hash {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	sent := chain.Sent()
	if len(sent) != 1 || sent[0].Gas() != web3.StandardTransferGas || sent[0].ChainId().Int64() != 11155111 {
		t.Fatalf("unexpected broadcast: %+v", sent)
	}

	balance, err := client.BalanceAt(ctx, to)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Int64() != 5_000 {
		t.Fatalf("unexpected recipient balance %s", balance)
	}

	second, err := client.Transfer(ctx, web3.TransferRequest{Key: key, To: to, Value: big.NewInt(1)})
	if err != nil {
		t.Fatalf("second transfer: %v", err)
	}
	if second.Nonce != 1 {
		t.Fatalf("expected pending nonce 1, got %d", second.Nonce)
	}
}

func TestClientTransferValidation(t *testing.T) {
	client, _ := newTestClient(t, 1)
	if _, err := client.Transfer(context.Background(), web3.TransferRequest{}); err == nil {
		t.Fatal("expected error without key")
	}
	key, _ := crypto.GenerateKey()
	if _, err := client.Transfer(context.Background(), web3.TransferRequest{Key: key, Value: big.NewInt(0)}); err == nil {
		t.Fatal("expected error for zero value")
	}
}

func TestWaitForReceiptHonoursContext(t *testing.T) {
	client, _ := newTestClient(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.WaitForReceipt(ctx, common.HexToHash("0x01"), 10*time.Millisecond); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestSnapshotAndCall(t *testing.T) {
	ctx := context.Background()
	client, chain := newTestClient(t, 80002)

	contract := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	chain.HandleCalls(func(to common.Address, input []byte) ([]byte, error) {
		if to != contract {
			t.Errorf("unexpected call target %s", to.Hex())
		}
		return append([]byte{0xbe, 0xef}, input...), nil
	})

	out, err := client.CallContract(ctx, gethcore.CallMsg{To: &contract, Data: []byte{0x01}})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if common.Bytes2Hex(out) != "beef01" {
		t.Fatalf("unexpected call output %x", out)
	}

	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.ChainID != "0x"+big.NewInt(80002).Text(16) || snapshot.Name != "testnet" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty rpc url")
	}
}
