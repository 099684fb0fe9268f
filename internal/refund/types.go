package refund

import "strings"

// Config 是公司级退款配置，金额均以 wei 字符串表示。
type Config struct {
	MaxRefundAmount     string            `json:"max_refund_amount" yaml:"max_refund_amount"`
	EscalationThreshold string            `json:"escalation_threshold,omitempty" yaml:"escalation_threshold,omitempty"`
	RefundChain         string            `json:"refund_chain,omitempty" yaml:"refund_chain,omitempty"`
	TokenAddress        string            `json:"token_address,omitempty" yaml:"token_address,omitempty"`
	ExpectedAddress     string            `json:"expected_address" yaml:"expected_address"`
	Criteria            []string          `json:"criteria,omitempty" yaml:"criteria,omitempty"`
	CustomAPIURL        string            `json:"custom_api_url,omitempty" yaml:"custom_api_url,omitempty"`
	CustomAPIHeaders    map[string]string `json:"custom_api_headers,omitempty" yaml:"custom_api_headers,omitempty"`
	CustomAPIField      string            `json:"custom_api_field,omitempty" yaml:"custom_api_field,omitempty"`
	AgentPrivateKey     string            `json:"agent_private_key,omitempty" yaml:"agent_private_key,omitempty"`
}

// Threshold 返回升级阈值，未设置时等于最大退款额。
func (c Config) Threshold() string {
	if strings.TrimSpace(c.EscalationThreshold) != "" {
		return strings.TrimSpace(c.EscalationThreshold)
	}
	return strings.TrimSpace(c.MaxRefundAmount)
}

// Request 是一次退款请求。
type Request struct {
	UserAddress     string `json:"user_address"`
	TransactionHash string `json:"transaction_hash"`
	RequestedAmount string `json:"requested_amount"`
	AgentPrivateKey string `json:"agent_private_key,omitempty"`
	RefundChain     string `json:"refund_chain"`
	MaxRefundAmount string `json:"max_refund_amount,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// OverpaymentRequest 是多付款退款请求。
type OverpaymentRequest struct {
	UserAddress     string `json:"user_address"`
	TransactionHash string `json:"transaction_hash"`
	ExpectedAmount  string `json:"expected_amount"`
	AgentPrivateKey string `json:"agent_private_key,omitempty"`
	RefundChain     string `json:"refund_chain"`
	MaxRefundAmount string `json:"max_refund_amount,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// Result 是退款执行结果，失败以数据形式返回以便回传给模型。
type Result struct {
	Success            bool    `json:"success"`
	Error              string  `json:"error,omitempty"`
	EscalationRequired bool    `json:"escalation_required,omitempty"`
	EscalationReason   string  `json:"escalation_reason,omitempty"`
	Duplicate          bool    `json:"duplicate,omitempty"`
	RefundTxHash       string  `json:"refund_tx_hash,omitempty"`
	RefundAmount       string  `json:"refund_amount,omitempty"`
	GasUsed            uint64  `json:"gas_used,omitempty"`
	ProcessingTime     float64 `json:"processing_time"`
	UserAddress        string  `json:"user_address,omitempty"`
	Reason             string  `json:"reason,omitempty"`
	OverpaymentAmount  string  `json:"overpayment_amount,omitempty"`
	ExpectedAmount     string  `json:"expected_amount,omitempty"`
	ActualAmount       string  `json:"actual_amount,omitempty"`
}

// Outcome 将结果归类为 success、escalated、duplicate 或 rejected。
func (r Result) Outcome() string {
	switch {
	case r.Success:
		return "success"
	case r.EscalationRequired:
		return "escalated"
	case r.Duplicate:
		return "duplicate"
	default:
		return "rejected"
	}
}

// Validation 是只校验不执行的结果。
type Validation struct {
	Valid              bool   `json:"valid"`
	Message            string `json:"message,omitempty"`
	Error              string `json:"error,omitempty"`
	EscalationRequired bool   `json:"escalation_required,omitempty"`
	EscalationReason   string `json:"escalation_reason,omitempty"`
	UserAddress        string `json:"user_address,omitempty"`
	TransactionHash    string `json:"transaction_hash,omitempty"`
	RequestedAmount    string `json:"requested_amount,omitempty"`
}
