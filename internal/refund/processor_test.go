package refund

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"AgentHub/internal/observability/alerting"
	"AgentHub/internal/verifier"
	"AgentHub/internal/wallet"
	"AgentHub/internal/web3"
	"AgentHub/internal/web3/ethereum"
	"AgentHub/internal/web3/ethtest"
	"AgentHub/internal/web3/provider"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	companyAddress = "0x2222222222222222222222222222222222222222"
	userAddress    = "0x4444444444444444444444444444444444444444"
)

type stubVerifier struct {
	mu       sync.Mutex
	result   verifier.Result
	requests []verifier.Request
}

func (s *stubVerifier) Verify(_ context.Context, req verifier.Request) verifier.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.result
}

type stubAlerts struct {
	events []alerting.Event
}

func (s *stubAlerts) Notify(_ context.Context, event alerting.Event) error {
	s.events = append(s.events, event)
	return nil
}

type fixture struct {
	processor *Processor
	chain     *ethtest.Chain
	verifier  *stubVerifier
	alerts    *stubAlerts
	agentAddr common.Address
}

func newFixture(t *testing.T, cfg Config, funded *big.Int) *fixture {
	t.Helper()
	chain := ethtest.New(11155111)
	dial := func(ctx context.Context, name string, def web3.ChainDefinition) (web3.Client, error) {
		return ethereum.NewClientFromRPC(name, chain.Dial(), def.ChainID), nil
	}
	registry, err := provider.NewRegistryWithDialer(web3.DefaultChainDefinitions(), "ethereum", dial)
	require.NoError(t, err)
	t.Cleanup(func() {
		registry.Close()
		chain.Close()
	})

	cipher, err := wallet.NewKeyCipher("refund-secret")
	require.NoError(t, err)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	encrypted, err := cipher.Encrypt(hexutil.Encode(crypto.FromECDSA(key)))
	require.NoError(t, err)
	cfg.AgentPrivateKey = encrypted
	agentAddr := crypto.PubkeyToAddress(key.PublicKey)
	if funded != nil {
		chain.SetBalance(agentAddr, funded)
	}

	v := &stubVerifier{result: verifier.Result{Verified: true, ActualAmount: "1000"}}
	alerts := &stubAlerts{}
	p, err := NewProcessor(Options{
		CompanyID:   "acme",
		AgentID:     "agent-1",
		Config:      cfg,
		Chains:      registry,
		Verifier:    v,
		Cipher:      cipher,
		Alerts:      alerts,
		ReceiptPoll: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	return &fixture{processor: p, chain: chain, verifier: v, alerts: alerts, agentAddr: agentAddr}
}

func oneEther() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
}

func TestProcessRefundTransfersToUser(t *testing.T) {
	f := newFixture(t, Config{MaxRefundAmount: "5000", ExpectedAddress: companyAddress}, oneEther())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := f.processor.ProcessRefund(ctx, Request{
		UserAddress: userAddress, TransactionHash: "0xAB", RequestedAmount: "1000", RefundChain: "ethereum",
	})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, web3.StandardTransferGas, result.GasUsed)
	assert.Equal(t, "1000", result.RefundAmount)
	assert.NotEmpty(t, result.RefundTxHash)
	assert.Equal(t, int64(1000), f.chain.Balance(common.HexToAddress(userAddress)).Int64())

	require.Len(t, f.verifier.requests, 1)
	sent := f.verifier.requests[0]
	assert.True(t, sent.Native)
	assert.True(t, sent.Strict)
	assert.Equal(t, companyAddress, sent.To)
	assert.Equal(t, userAddress, sent.From)

	tx, ok := f.processor.Refunded("0xab")
	assert.True(t, ok)
	assert.Equal(t, result.RefundTxHash, tx)

	again := f.processor.ProcessRefund(ctx, Request{
		UserAddress: userAddress, TransactionHash: "0xab", RequestedAmount: "1000", RefundChain: "ethereum",
	})
	assert.False(t, again.Success)
	assert.True(t, again.Duplicate)
	assert.Contains(t, again.Error, "has already been refunded")
	assert.Len(t, f.chain.Sent(), 1)
}

func TestProcessRefundLimits(t *testing.T) {
	f := newFixture(t, Config{MaxRefundAmount: "1000", EscalationThreshold: "2000", ExpectedAddress: companyAddress}, oneEther())
	ctx := context.Background()

	between := f.processor.ProcessRefund(ctx, Request{UserAddress: userAddress, TransactionHash: "0x1", RequestedAmount: "1500"})
	assert.False(t, between.Success)
	assert.False(t, between.EscalationRequired)
	assert.Equal(t, "Requested amount 1500 exceeds maximum refund 1000", between.Error)

	above := f.processor.ProcessRefund(ctx, Request{UserAddress: userAddress, TransactionHash: "0x1", RequestedAmount: "2500"})
	assert.True(t, above.EscalationRequired)
	assert.Equal(t, "Requested amount 2500 exceeds escalation threshold 2000. Human intervention required.", above.Error)
	assert.Equal(t, "Amount exceeds company escalation threshold", above.EscalationReason)
	require.Len(t, f.alerts.events, 1)
	assert.Equal(t, "acme", f.alerts.events[0].CompanyID)

	override := f.processor.ProcessRefund(ctx, Request{UserAddress: userAddress, TransactionHash: "0x1", RequestedAmount: "1500", MaxRefundAmount: "1200"})
	assert.Equal(t, "Requested amount 1500 exceeds maximum refund 1200", override.Error)

	assert.Empty(t, f.verifier.requests, "limits are checked before verification")
	assert.Empty(t, f.chain.Sent())
}

func TestEscalationThresholdDefaultsToMaximum(t *testing.T) {
	f := newFixture(t, Config{MaxRefundAmount: "1000", ExpectedAddress: companyAddress}, oneEther())
	result := f.processor.ProcessRefund(context.Background(), Request{UserAddress: userAddress, TransactionHash: "0x1", RequestedAmount: "1001"})
	assert.True(t, result.EscalationRequired)
	assert.Equal(t, "escalated", result.Outcome())
}

func TestProcessRefundRequiresCompanyAddress(t *testing.T) {
	f := newFixture(t, Config{MaxRefundAmount: "1000"}, nil)
	result := f.processor.ProcessRefund(context.Background(), Request{RequestedAmount: "1"})
	assert.Equal(t, "No company address configured for company acme", result.Error)
	v := f.processor.ValidateRefundRequest(context.Background(), Request{RequestedAmount: "1"})
	assert.False(t, v.Valid)
}

func TestProcessRefundVerificationAndBalanceFailures(t *testing.T) {
	f := newFixture(t, Config{MaxRefundAmount: "5000", ExpectedAddress: companyAddress}, big.NewInt(10))
	ctx := context.Background()

	f.verifier.result = verifier.Result{Mismatches: []verifier.Mismatch{{Field: "amount", Expected: "1000", Actual: "999"}}}
	result := f.processor.ProcessRefund(ctx, Request{UserAddress: userAddress, TransactionHash: "0x1", RequestedAmount: "1000"})
	assert.Equal(t, "Transaction verification failed: amount expected 1000 got 999", result.Error)

	f.verifier.result = verifier.Result{Verified: true}
	result = f.processor.ProcessRefund(ctx, Request{UserAddress: userAddress, TransactionHash: "0x1", RequestedAmount: "1000"})
	assert.Equal(t, "Insufficient balance: 10 wei < 1000 wei", result.Error)
	_, refunded := f.processor.Refunded("0x1")
	assert.False(t, refunded, "failed refunds release the reservation")
}

func TestValidateRefundRequest(t *testing.T) {
	f := newFixture(t, Config{MaxRefundAmount: "5000", ExpectedAddress: companyAddress}, nil)
	v := f.processor.ValidateRefundRequest(context.Background(), Request{
		UserAddress: userAddress, TransactionHash: "0x9", RequestedAmount: "100", RefundChain: "polygon",
	})
	require.True(t, v.Valid, v.Error)
	assert.Equal(t, "Refund request validation successful", v.Message)
	assert.Equal(t, "polygon", f.verifier.requests[0].Chain)
	assert.Empty(t, f.chain.Sent())
}

func TestOverpaymentRefund(t *testing.T) {
	f := newFixture(t, Config{MaxRefundAmount: "5000", ExpectedAddress: companyAddress}, oneEther())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f.verifier.result = verifier.Result{Verified: true, ActualAmount: "1300", Overpayment: "300"}
	result := f.processor.ProcessOverpaymentRefund(ctx, OverpaymentRequest{
		UserAddress: userAddress, TransactionHash: "0x5", ExpectedAmount: "1000",
	})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "300", result.OverpaymentAmount)
	assert.Equal(t, "300", result.RefundAmount)
	assert.Equal(t, "Refund for overpayment: paid 1300 wei instead of 1000 wei", result.Reason)
	assert.True(t, f.verifier.requests[0].AllowOverpayment)

	f.verifier.result = verifier.Result{Verified: true, ActualAmount: "1000"}
	none := f.processor.ProcessOverpaymentRefund(ctx, OverpaymentRequest{
		UserAddress: userAddress, TransactionHash: "0x6", ExpectedAmount: "1000",
	})
	assert.Equal(t, "No overpayment detected. Actual payment matches or is less than expected amount.", none.Error)

	f.verifier.result = verifier.Result{Verified: true, ActualAmount: "9000"}
	tooMuch := f.processor.ProcessOverpaymentRefund(ctx, OverpaymentRequest{
		UserAddress: userAddress, TransactionHash: "0x7", ExpectedAmount: "1000",
	})
	assert.True(t, tooMuch.EscalationRequired)
	assert.True(t, strings.HasPrefix(tooMuch.Error, "Overpayment amount 8000 exceeds escalation threshold 5000"))
}

func TestOverpaymentEscalationCarriesAmounts(t *testing.T) {
	f := newFixture(t, Config{MaxRefundAmount: "1000", EscalationThreshold: "2000", ExpectedAddress: companyAddress}, oneEther())
	f.verifier.result = verifier.Result{Verified: true, ActualAmount: "3500"}

	result := f.processor.ProcessOverpaymentRefund(context.Background(), OverpaymentRequest{
		UserAddress: userAddress, TransactionHash: "0x8", ExpectedAmount: "1000",
	})
	assert.False(t, result.Success)
	assert.True(t, result.EscalationRequired)
	assert.Equal(t, "Overpayment amount exceeds company escalation threshold", result.EscalationReason)
	assert.Equal(t, "2500", result.OverpaymentAmount)
	assert.Equal(t, "1000", result.ExpectedAmount)
	assert.Equal(t, "3500", result.ActualAmount)

	require.Len(t, f.alerts.events, 1)
	meta := f.alerts.events[0].Metadata
	assert.Equal(t, "Overpayment amount exceeds company escalation threshold", meta["reason"])
	assert.Equal(t, "2500", meta["overpayment_amount"])
	assert.Equal(t, "1000", meta["expected_amount"])
	assert.Equal(t, "3500", meta["actual_amount"])
	assert.Empty(t, f.chain.Sent())
}

func TestCustomAPIValidation(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		switch r.Header.Get("X-Api-Key") {
		case "good":
			_, _ = w.Write([]byte(`{"valid":true}`))
		case "bad":
			_, _ = w.Write([]byte(`{"valid":false,"error":"order not found"}`))
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	cfg := Config{
		MaxRefundAmount:  "5000",
		ExpectedAddress:  companyAddress,
		CustomAPIURL:     srv.URL,
		CustomAPIField:   "order_id",
		CustomAPIHeaders: map[string]string{"X-Api-Key": "good"},
	}
	f := newFixture(t, cfg, nil)
	v := f.processor.ValidateRefundRequest(context.Background(), Request{UserAddress: userAddress, TransactionHash: "0xc", RequestedAmount: "1"})
	assert.True(t, v.Valid, v.Error)
	assert.Equal(t, map[string]string{"transaction_hash": "0xc", "chain": "ethereum", "field_to_compare": "order_id"}, payload)

	cfg.CustomAPIHeaders = map[string]string{"X-Api-Key": "bad"}
	f = newFixture(t, cfg, nil)
	v = f.processor.ValidateRefundRequest(context.Background(), Request{UserAddress: userAddress, TransactionHash: "0xc", RequestedAmount: "1"})
	assert.Equal(t, "Custom API validation failed: order not found", v.Error)

	cfg.CustomAPIHeaders = nil
	f = newFixture(t, cfg, nil)
	v = f.processor.ValidateRefundRequest(context.Background(), Request{UserAddress: userAddress, TransactionHash: "0xc", RequestedAmount: "1"})
	assert.Equal(t, "Custom API validation failed: Custom API returned status 403", v.Error)
	assert.Empty(t, f.verifier.requests)
}
