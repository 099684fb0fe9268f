package refund

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/observability/alerting"
	"AgentHub/internal/verifier"
	"AgentHub/internal/wallet"
	"AgentHub/internal/web3"
	"AgentHub/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	escalationReason            = "Amount exceeds company escalation threshold"
	overpaymentEscalationReason = "Overpayment amount exceeds company escalation threshold"
	defaultPoll                 = time.Second
)

// Chains 提供按名称获取链客户端的能力。
type Chains interface {
	Client(ctx context.Context, name string) (web3.Client, error)
}

// Options 组装 Processor 的依赖。
type Options struct {
	CompanyID    string
	AgentID      string
	Config       Config
	Chains       Chains
	Verifier     verifier.Verifier
	Cipher       *wallet.KeyCipher
	Alerts       alerting.Dispatcher
	HTTPClient   *http.Client
	ReceiptPoll  time.Duration
	DefaultChain string
}

// Processor 执行公司代理的退款流程。
type Processor struct {
	companyID    string
	agentID      string
	cfg          Config
	chains       Chains
	verifier     verifier.Verifier
	cipher       *wallet.KeyCipher
	alerts       alerting.Dispatcher
	httpClient   *http.Client
	poll         time.Duration
	defaultChain string
	logger       *slog.Logger

	mu       sync.Mutex
	refunded map[string]string
	inflight map[string]struct{}
}

// NewProcessor 创建退款处理器。
func NewProcessor(opts Options) (*Processor, error) {
	if opts.Chains == nil {
		return nil, errors.New("未提供链客户端注册表")
	}
	if opts.Verifier == nil {
		return nil, errors.New("未提供交易核对器")
	}
	if opts.Cipher == nil {
		return nil, errors.New("未提供私钥加密器")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	poll := opts.ReceiptPoll
	if poll <= 0 {
		poll = defaultPoll
	}
	defaultChain := opts.DefaultChain
	if opts.Config.RefundChain != "" {
		defaultChain = opts.Config.RefundChain
	}
	if defaultChain == "" {
		defaultChain = "ethereum"
	}
	return &Processor{
		companyID:    opts.CompanyID,
		agentID:      opts.AgentID,
		cfg:          opts.Config,
		chains:       opts.Chains,
		verifier:     opts.Verifier,
		cipher:       opts.Cipher,
		alerts:       opts.Alerts,
		httpClient:   httpClient,
		poll:         poll,
		defaultChain: strings.ToLower(defaultChain),
		logger:       logger.Named("refund").With("company_id", opts.CompanyID, "agent_id", opts.AgentID),
		refunded:     make(map[string]string),
		inflight:     make(map[string]struct{}),
	}, nil
}

// limitCheck 比较金额与额度，返回空结果表示通过。
type limitCheck struct {
	failed     bool
	escalation bool
	message    string
}

func (p *Processor) checkLimit(label, amount, override string) (limitCheck, error) {
	requested, err := parseWei(amount, "amount")
	if err != nil {
		return limitCheck{}, err
	}
	effective := strings.TrimSpace(override)
	if effective == "" {
		effective = strings.TrimSpace(p.cfg.MaxRefundAmount)
	}
	maximum, err := parseWei(effective, "maximum refund amount")
	if err != nil {
		return limitCheck{}, err
	}
	if requested.Cmp(maximum) <= 0 {
		return limitCheck{}, nil
	}
	threshold, err := parseWei(p.cfg.Threshold(), "escalation threshold")
	if err != nil {
		return limitCheck{}, err
	}
	if requested.Cmp(threshold) > 0 {
		return limitCheck{
			failed:     true,
			escalation: true,
			message:    fmt.Sprintf("%s %s exceeds escalation threshold %s. Human intervention required.", label, amount, threshold),
		}, nil
	}
	return limitCheck{failed: true, message: fmt.Sprintf("%s %s exceeds maximum refund %s", label, amount, effective)}, nil
}

func parseWei(value, field string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("missing %s", field)
	}
	n, err := verifier.ParseAmount(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %s", field, value)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s: %s", field, value)
	}
	return n, nil
}

func (p *Processor) chain(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return p.defaultChain
	}
	return name
}

// ProcessRefund 校验并执行退款。
func (p *Processor) ProcessRefund(ctx context.Context, req Request) Result {
	start := time.Now()
	result := p.processRefund(ctx, req)
	result.ProcessingTime = time.Since(start).Seconds()
	p.record("process_refund", req.TransactionHash, result)
	return result
}

func (p *Processor) processRefund(ctx context.Context, req Request) Result {
	if strings.TrimSpace(p.cfg.ExpectedAddress) == "" {
		return Result{Error: fmt.Sprintf("No company address configured for company %s", p.companyID)}
	}
	chain := p.chain(req.RefundChain)

	limit, err := p.checkLimit("Requested amount", req.RequestedAmount, req.MaxRefundAmount)
	if err != nil {
		return Result{Error: fmt.Sprintf("Refund processing failed: %v", err)}
	}
	if limit.failed {
		return p.rejectLimit(ctx, limit, escalation{
			reason: escalationReason,
			txHash: req.TransactionHash,
			user:   req.UserAddress,
			amount: req.RequestedAmount,
		})
	}

	if failure := p.customAPI(ctx, req.TransactionHash, chain); failure != "" {
		return Result{Error: "Custom API validation failed: " + failure}
	}

	verification := p.verifier.Verify(ctx, verifier.Request{
		TxHash: req.TransactionHash,
		Chain:  chain,
		From:   req.UserAddress,
		To:     p.cfg.ExpectedAddress,
		Amount: req.RequestedAmount,
		Native: true,
		Strict: true,
	})
	if !verification.Verified {
		return Result{Error: "Transaction verification failed: " + verification.Reason()}
	}

	amount, _ := parseWei(req.RequestedAmount, "amount")
	transfer, err := p.transfer(ctx, chain, req.TransactionHash, req.UserAddress, req.AgentPrivateKey, amount)
	if err != nil {
		return p.transferFailure(err, "Refund processing failed")
	}
	return Result{
		Success:      true,
		RefundTxHash: transfer.hash,
		RefundAmount: req.RequestedAmount,
		GasUsed:      transfer.gasUsed,
		UserAddress:  req.UserAddress,
		Reason:       req.Reason,
	}
}

// ValidateRefundRequest 只执行校验步骤。
func (p *Processor) ValidateRefundRequest(ctx context.Context, req Request) Validation {
	if strings.TrimSpace(p.cfg.ExpectedAddress) == "" {
		return Validation{Error: fmt.Sprintf("No company address configured for company %s", p.companyID)}
	}
	chain := p.chain(req.RefundChain)

	limit, err := p.checkLimit("Requested amount", req.RequestedAmount, req.MaxRefundAmount)
	if err != nil {
		return Validation{Error: fmt.Sprintf("Validation failed: %v", err)}
	}
	if limit.failed {
		res := p.rejectLimit(ctx, limit, escalation{
			reason: escalationReason,
			txHash: req.TransactionHash,
			user:   req.UserAddress,
			amount: req.RequestedAmount,
		})
		return Validation{Error: res.Error, EscalationRequired: res.EscalationRequired, EscalationReason: res.EscalationReason}
	}

	if failure := p.customAPI(ctx, req.TransactionHash, chain); failure != "" {
		return Validation{Error: "Custom API validation failed: " + failure}
	}

	verification := p.verifier.Verify(ctx, verifier.Request{
		TxHash: req.TransactionHash,
		Chain:  chain,
		From:   req.UserAddress,
		To:     p.cfg.ExpectedAddress,
		Amount: req.RequestedAmount,
		Native: true,
		Strict: true,
	})
	if !verification.Verified {
		return Validation{Error: "Transaction verification failed: " + verification.Reason()}
	}

	return Validation{
		Valid:           true,
		Message:         "Refund request validation successful",
		UserAddress:     req.UserAddress,
		TransactionHash: req.TransactionHash,
		RequestedAmount: req.RequestedAmount,
	}
}

// ProcessOverpaymentRefund 退还实际付款超出预期的部分。
func (p *Processor) ProcessOverpaymentRefund(ctx context.Context, req OverpaymentRequest) Result {
	start := time.Now()
	result := p.processOverpayment(ctx, req)
	result.ProcessingTime = time.Since(start).Seconds()
	p.record("process_overpayment_refund", req.TransactionHash, result)
	return result
}

func (p *Processor) processOverpayment(ctx context.Context, req OverpaymentRequest) Result {
	if strings.TrimSpace(p.cfg.ExpectedAddress) == "" {
		return Result{Error: fmt.Sprintf("No company address configured for company %s", p.companyID)}
	}
	chain := p.chain(req.RefundChain)
	expected, err := parseWei(req.ExpectedAmount, "expected amount")
	if err != nil {
		return Result{Error: fmt.Sprintf("Overpayment refund processing failed: %v", err)}
	}

	verification := p.verifier.Verify(ctx, verifier.Request{
		TxHash:           req.TransactionHash,
		Chain:            chain,
		From:             req.UserAddress,
		To:               p.cfg.ExpectedAddress,
		Amount:           req.ExpectedAmount,
		Native:           true,
		AllowOverpayment: true,
		Strict:           true,
	})
	if !verification.Verified {
		return Result{Error: "Transaction verification failed: " + verification.Reason()}
	}

	actual, err := parseWei(verification.ActualAmount, "actual amount")
	if err != nil {
		return Result{Error: fmt.Sprintf("Overpayment refund processing failed: %v", err)}
	}
	overpayment := new(big.Int).Sub(actual, expected)
	if overpayment.Sign() <= 0 {
		return Result{Error: "No overpayment detected. Actual payment matches or is less than expected amount."}
	}

	limit, err := p.checkLimit("Overpayment amount", overpayment.String(), req.MaxRefundAmount)
	if err != nil {
		return Result{Error: fmt.Sprintf("Overpayment refund processing failed: %v", err)}
	}
	if limit.failed {
		res := p.rejectLimit(ctx, limit, escalation{
			reason: overpaymentEscalationReason,
			txHash: req.TransactionHash,
			user:   req.UserAddress,
			amount: overpayment.String(),
			extra: map[string]string{
				"overpayment_amount": overpayment.String(),
				"expected_amount":    expected.String(),
				"actual_amount":      actual.String(),
			},
		})
		if res.EscalationRequired {
			res.OverpaymentAmount = overpayment.String()
			res.ExpectedAmount = expected.String()
			res.ActualAmount = actual.String()
		}
		return res
	}

	if failure := p.customAPI(ctx, req.TransactionHash, chain); failure != "" {
		return Result{Error: "Custom API validation failed: " + failure}
	}

	transfer, err := p.transfer(ctx, chain, req.TransactionHash, req.UserAddress, req.AgentPrivateKey, overpayment)
	if err != nil {
		return p.transferFailure(err, "Overpayment refund processing failed")
	}

	reason := req.Reason
	if reason == "" {
		reason = fmt.Sprintf("Refund for overpayment: paid %s wei instead of %s wei", actual, expected)
	}
	return Result{
		Success:           true,
		RefundTxHash:      transfer.hash,
		RefundAmount:      overpayment.String(),
		GasUsed:           transfer.gasUsed,
		UserAddress:       req.UserAddress,
		Reason:            reason,
		OverpaymentAmount: overpayment.String(),
		ExpectedAmount:    expected.String(),
		ActualAmount:      actual.String(),
	}
}

// escalation 描述一次超出升级阈值的请求。
type escalation struct {
	reason string
	txHash string
	user   string
	amount string
	extra  map[string]string
}

func (p *Processor) rejectLimit(ctx context.Context, limit limitCheck, esc escalation) Result {
	if !limit.escalation {
		return Result{Error: limit.message}
	}
	if p.alerts != nil {
		metadata := map[string]string{
			"transaction_hash": esc.txHash,
			"user_address":     esc.user,
			"amount":           esc.amount,
			"reason":           esc.reason,
		}
		for k, v := range esc.extra {
			metadata[k] = v
		}
		event := alerting.Event{
			Code:       xerrors.CodeFailedPrecondition,
			Severity:   xerrors.SeverityWarning,
			Message:    limit.message,
			AgentID:    p.agentID,
			CompanyID:  p.companyID,
			Metadata:   metadata,
			OccurredAt: time.Now().UTC(),
		}
		if err := p.alerts.Notify(ctx, event); err != nil {
			p.logger.Warn("dispatch refund escalation failed", "error", err)
		}
	}
	return Result{Error: limit.message, EscalationRequired: true, EscalationReason: esc.reason}
}

type customAPIResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error"`
}

// customAPI 调用公司自定义的校验接口，返回空串表示通过。
func (p *Processor) customAPI(ctx context.Context, txHash, chain string) string {
	if strings.TrimSpace(p.cfg.CustomAPIURL) == "" {
		return ""
	}
	body, err := json.Marshal(map[string]string{
		"transaction_hash": txHash,
		"chain":            chain,
		"field_to_compare": p.cfg.CustomAPIField,
	})
	if err != nil {
		return fmt.Sprintf("Custom API call failed: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.CustomAPIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Sprintf("Custom API call failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.cfg.CustomAPIHeaders {
		req.Header.Set(k, v)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Sprintf("Custom API call failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Custom API returned status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Sprintf("Custom API call failed: %v", err)
	}
	var decoded customAPIResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Sprintf("Custom API call failed: %v", err)
	}
	if decoded.Valid {
		return ""
	}
	if decoded.Error != "" {
		return decoded.Error
	}
	return "Custom API validation failed"
}

type transferOutcome struct {
	hash    string
	gasUsed uint64
}

func (p *Processor) transfer(ctx context.Context, chain, sourceHash, user, requestKey string, amount *big.Int) (transferOutcome, error) {
	if !common.IsHexAddress(user) {
		return transferOutcome{}, fmt.Errorf("invalid user address: %s", user)
	}
	release, err := p.reserve(sourceHash)
	if err != nil {
		return transferOutcome{}, err
	}
	committed := ""
	defer func() { release(committed) }()

	key, err := p.signingKey(requestKey)
	if err != nil {
		return transferOutcome{}, err
	}
	client, err := p.chains.Client(ctx, chain)
	if err != nil {
		return transferOutcome{}, err
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	balance, err := client.BalanceAt(ctx, from)
	if err != nil {
		return transferOutcome{}, err
	}
	if balance.Cmp(amount) < 0 {
		return transferOutcome{}, insufficientBalance{balance: balance, amount: amount}
	}

	sent, err := client.Transfer(ctx, web3.TransferRequest{
		Key:      key,
		To:       common.HexToAddress(user),
		Value:    amount,
		GasLimit: web3.StandardTransferGas,
	})
	if err != nil {
		return transferOutcome{}, err
	}
	receipt, err := client.WaitForReceipt(ctx, sent.Hash, p.poll)
	if err != nil {
		return transferOutcome{}, fmt.Errorf("等待退款交易回执失败 %s: %w", sent.Hash.Hex(), err)
	}
	committed = sent.Hash.Hex()
	logger.Audit().Info("refund_sent",
		"company_id", p.companyID,
		"agent_id", p.agentID,
		"source_tx", sourceHash,
		"refund_tx", committed,
		"amount", amount.String(),
		"to", user,
	)
	return transferOutcome{hash: committed, gasUsed: receipt.GasUsed}, nil
}

type insufficientBalance struct {
	balance *big.Int
	amount  *big.Int
}

func (e insufficientBalance) Error() string {
	return fmt.Sprintf("Insufficient balance: %s wei < %s wei", e.balance, e.amount)
}

func (p *Processor) transferFailure(err error, prefix string) Result {
	var ib insufficientBalance
	switch {
	case errors.As(err, &ib):
		return Result{Error: ib.Error()}
	case xerrors.CodeOf(err) == xerrors.CodeConflict:
		return Result{Error: xerrors.MessageOf(err), Duplicate: true}
	default:
		return Result{Error: fmt.Sprintf("%s: %v", prefix, err)}
	}
}

// reserve 防止同一笔原始交易被重复退款；release 传入非空哈希表示退款已完成。
func (p *Processor) reserve(sourceHash string) (func(string), error) {
	key := strings.ToLower(strings.TrimSpace(sourceHash))
	p.mu.Lock()
	defer p.mu.Unlock()
	if refundTx, ok := p.refunded[key]; ok {
		return nil, xerrors.New(xerrors.CodeConflict,
			fmt.Sprintf("Transaction %s has already been refunded in %s", sourceHash, refundTx))
	}
	if _, ok := p.inflight[key]; ok {
		return nil, xerrors.New(xerrors.CodeConflict,
			fmt.Sprintf("Refund for transaction %s is already in progress", sourceHash))
	}
	p.inflight[key] = struct{}{}
	return func(refundTx string) {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.inflight, key)
		if refundTx != "" {
			p.refunded[key] = refundTx
		}
	}, nil
}

// signingKey 优先使用配置中的加密私钥，其次使用请求携带的私钥。
func (p *Processor) signingKey(requestKey string) (*ecdsa.PrivateKey, error) {
	encrypted := strings.TrimSpace(p.cfg.AgentPrivateKey)
	if encrypted == "" {
		encrypted = strings.TrimSpace(requestKey)
	}
	if encrypted == "" {
		return nil, errors.New("agent private key not configured")
	}
	return wallet.DecryptKey(p.cipher, encrypted)
}

// Refunded 返回已退款的原始交易哈希对应的退款交易。
func (p *Processor) Refunded(sourceHash string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.refunded[strings.ToLower(strings.TrimSpace(sourceHash))]
	return tx, ok
}

func (p *Processor) record(op, txHash string, result Result) {
	logger.Audit().Info("refund_attempt",
		"operation", op,
		"company_id", p.companyID,
		"agent_id", p.agentID,
		"transaction_hash", txHash,
		"outcome", result.Outcome(),
		"error", result.Error,
	)
}
