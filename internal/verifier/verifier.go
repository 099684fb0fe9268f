package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.goldrush.dev/v1"
	defaultTimeout = 30 * time.Second
	defaultRPS     = 4
)

// ChainMapping 将内部链名映射为 GoldRush 的链标识。
var ChainMapping = map[string]string{
	"ethereum": "eth-sepolia",
	"polygon":  "polygon-amoy",
	"bsc":      "base-sepolia",
}

// Config 控制 GoldRush 客户端。
type Config struct {
	BaseURL        string
	APIKey         string
	RequestsPerSec float64
	Timeout        time.Duration
}

// Request 描述一次交易核对。
type Request struct {
	TxHash       string
	Chain        string
	From         string
	To           string
	TokenAddress string
	Amount       string
	Native       bool
	// AllowOverpayment 时只要求实际金额不少于预期。
	AllowOverpayment bool
	// Strict 要求 Chain 必须是 ChainMapping 中的内部链名。
	Strict bool
}

// Mismatch 描述一个不一致的字段。
type Mismatch struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Error    string `json:"error,omitempty"`
}

// Result 是核对结果，失败原因以数据形式返回。
type Result struct {
	Verified       bool       `json:"verified"`
	Message        string     `json:"message,omitempty"`
	Error          string     `json:"error,omitempty"`
	Mismatches     []Mismatch `json:"mismatches,omitempty"`
	ActualAmount   string     `json:"actual_amount,omitempty"`
	ExpectedAmount string     `json:"expected_amount,omitempty"`
	Overpayment    string     `json:"overpayment,omitempty"`
}

// Reason 汇总失败原因。
func (r Result) Reason() string {
	if r.Error != "" {
		return r.Error
	}
	parts := make([]string, 0, len(r.Mismatches))
	for _, m := range r.Mismatches {
		parts = append(parts, fmt.Sprintf("%s expected %s got %s", m.Field, m.Expected, m.Actual))
	}
	return strings.Join(parts, "; ")
}

// Verifier 抽象交易核对能力。
type Verifier interface {
	Verify(ctx context.Context, req Request) Result
}

// Client 调用 GoldRush 接口核对交易。
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New 创建客户端；缺少 API Key 时每次核对都会返回错误结果。
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = defaultRPS
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// ResolveChain 返回 GoldRush 链标识。
func ResolveChain(name string, strict bool) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if mapped, ok := ChainMapping[key]; ok {
		return mapped, true
	}
	if strict || key == "" {
		return "", false
	}
	return key, true
}

type transaction struct {
	Successful  bool       `json:"successful"`
	FromAddress string     `json:"from_address"`
	ToAddress   string     `json:"to_address"`
	Value       flexString `json:"value"`
	LogEvents   []logEvent `json:"log_events"`
}

type logEvent struct {
	SenderAddress string `json:"sender_address"`
	Decoded       *struct {
		Name   string `json:"name"`
		Params []struct {
			Name  string     `json:"name"`
			Value flexString `json:"value"`
		} `json:"params"`
	} `json:"decoded"`
}

type envelope struct {
	Data struct {
		Items []transaction `json:"items"`
	} `json:"data"`
	Items []transaction `json:"items"`
}

// flexString 兼容字符串与数字两种 JSON 表示。
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(data) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(strings.TrimSpace(string(data)))
	return nil
}

// Verify 拉取交易并逐字段核对。
func (c *Client) Verify(ctx context.Context, req Request) Result {
	if c.apiKey == "" {
		return Result{Error: "GoldRush API key not configured"}
	}
	chain, ok := ResolveChain(req.Chain, req.Strict)
	if !ok {
		return Result{Error: fmt.Sprintf("Unsupported chain for verification: %s", req.Chain)}
	}

	tx, failure := c.fetch(ctx, chain, strings.TrimSpace(req.TxHash))
	if failure != "" {
		return Result{Error: failure}
	}
	if !tx.Successful {
		return Result{Error: "Transaction was not successful"}
	}
	if req.Native || req.AllowOverpayment {
		return compareNative(tx, req)
	}
	return compareToken(tx, req)
}

func (c *Client) fetch(ctx context.Context, chain, hash string) (*transaction, string) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Sprintf("Verification failed: %v", err)
	}
	endpoint := fmt.Sprintf("%s/%s/transaction_v2/%s?%s", c.baseURL, url.PathEscape(chain), url.PathEscape(hash),
		url.Values{"with-internal": {"true"}}.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Sprintf("Verification failed: %v", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Sprintf("Verification failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Sprintf("Failed to fetch transaction: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Sprintf("Verification failed: %v", err)
	}
	var decoded envelope
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Sprintf("Verification failed: %v", err)
	}
	items := decoded.Data.Items
	if len(items) == 0 {
		items = decoded.Items
	}
	if len(items) == 0 {
		return nil, "No transaction found"
	}
	return &items[0], ""
}

func compareNative(tx *transaction, req Request) Result {
	var mismatches []Mismatch
	mismatches = appendAddress(mismatches, "from_address", req.From, tx.FromAddress)
	mismatches = appendAddress(mismatches, "to_address", req.To, tx.ToAddress)

	actual, err := ParseAmount(string(tx.Value))
	if err != nil {
		return Result{Error: fmt.Sprintf("Verification failed: %v", err)}
	}
	expected, err := ParseAmount(req.Amount)
	if err != nil {
		return Result{Error: fmt.Sprintf("Verification failed: %v", err)}
	}

	if req.AllowOverpayment {
		if actual.Cmp(expected) < 0 {
			mismatches = append(mismatches, Mismatch{
				Field:    "amount",
				Expected: "At least " + req.Amount,
				Actual:   actual.String(),
				Error:    "Payment amount is less than expected",
			})
		}
	} else if actual.Cmp(expected) != 0 {
		mismatches = append(mismatches, Mismatch{Field: "amount", Expected: req.Amount, Actual: actual.String()})
	}

	if len(mismatches) > 0 {
		return Result{Mismatches: mismatches}
	}
	overpayment := "0"
	if req.AllowOverpayment {
		overpayment = new(big.Int).Sub(actual, expected).String()
	}
	return Result{
		Verified:       true,
		Message:        "Transaction verified successfully",
		ActualAmount:   actual.String(),
		ExpectedAmount: req.Amount,
		Overpayment:    overpayment,
	}
}

func compareToken(tx *transaction, req Request) Result {
	var mismatches []Mismatch
	mismatches = appendAddress(mismatches, "from_address", req.From, tx.FromAddress)
	mismatches = appendAddress(mismatches, "token_contract", req.TokenAddress, tx.ToAddress)

	token := strings.ToLower(req.TokenAddress)
	found := false
	for _, event := range tx.LogEvents {
		if strings.ToLower(event.SenderAddress) != token || event.Decoded == nil {
			continue
		}
		if !strings.Contains(strings.ToLower(event.Decoded.Name), "transfer") || len(event.Decoded.Params) < 3 {
			continue
		}
		params := event.Decoded.Params
		mismatches = appendAddress(mismatches, "transfer_recipient", req.To, string(params[1].Value))
		if actual := string(params[2].Value); !sameAmount(actual, req.Amount) {
			mismatches = append(mismatches, Mismatch{Field: "amount", Expected: req.Amount, Actual: actual})
		}
		found = true
		break
	}
	if !found {
		mismatches = append(mismatches, Mismatch{
			Field:    "token_transfer",
			Expected: fmt.Sprintf("Transfer of %s tokens to %s", req.Amount, req.To),
			Actual:   "No matching transfer event found",
		})
	}

	if len(mismatches) > 0 {
		return Result{Mismatches: mismatches}
	}
	return Result{Verified: true, Message: "All parameters match", ActualAmount: req.Amount, ExpectedAmount: req.Amount, Overpayment: "0"}
}

func appendAddress(list []Mismatch, field, expected, actual string) []Mismatch {
	e := strings.ToLower(strings.TrimSpace(expected))
	a := strings.ToLower(strings.TrimSpace(actual))
	if e != a {
		list = append(list, Mismatch{Field: field, Expected: e, Actual: a})
	}
	return list
}

func sameAmount(a, b string) bool {
	x, errX := ParseAmount(a)
	y, errY := ParseAmount(b)
	if errX != nil || errY != nil {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	}
	return x.Cmp(y) == 0
}

// ParseAmount 解析十进制 wei 金额，仅在显式 0x 前缀时按十六进制解析。
// 前导零按十进制处理，负数与下划线写法会被拒绝。
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return big.NewInt(0), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := strings.TrimLeft(s[2:], "0")
		if digits == "" && len(s) > 2 {
			return big.NewInt(0), nil
		}
		n, err := hexutil.DecodeBig("0x" + digits)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %s: %w", s, err)
		}
		return n, nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, errors.New("invalid amount: " + s)
	}
	return n, nil
}

var _ Verifier = (*Client)(nil)
