package capability

import (
	"strings"

	"AgentHub/internal/llm"
)

// 支持的能力名称。
const (
	DocumentReference       = "document_reference"
	TransactionVerification = "transaction_verification"
	Calculator              = "calculator"
	RefundProcessing        = "refund_processing"
	CustomerSupport         = "customer_support"
	ProductInformation      = "product_information"
	TechnicalSupport        = "technical_support"
	BillingSupport          = "billing_support"
	GeneralInquiries        = "general_inquiries"
)

// 工具名称。
const (
	ToolSearchDocuments     = "search_company_documents"
	ToolVerifyTransaction   = "verify_transaction"
	ToolCalculate           = "calculate"
	ToolProcessRefund       = "process_refund"
	ToolValidateRefund      = "validate_refund_request"
	ToolOverpaymentRefund   = "process_overpayment_refund"
	refundChainDescription  = "The blockchain network for the refund (ethereum, polygon, bsc)"
	maxRefundDescription    = "Maximum refund amount allowed (in wei) - overrides company default"
	userAddressDescription  = "The user's wallet address to send the refund to"
	originalHashDescription = "The original transaction hash to verify"
)

var order = []string{
	DocumentReference,
	TransactionVerification,
	Calculator,
	RefundProcessing,
	CustomerSupport,
	ProductInformation,
	TechnicalSupport,
	BillingSupport,
	GeneralInquiries,
}

var descriptions = map[string]string{
	DocumentReference:       "Search and reference company documents, PDFs, and knowledge base",
	TransactionVerification: "Verify blockchain transactions and payment confirmations",
	Calculator:              "Perform mathematical calculations and evaluations",
	RefundProcessing:        "Process refunds and validate refund requests with company-specific limits",
	CustomerSupport:         "Provide customer support and assistance",
	ProductInformation:      "Provide information about company products and services",
	TechnicalSupport:        "Provide technical support and troubleshooting",
	BillingSupport:          "Handle billing inquiries and payment questions",
	GeneralInquiries:        "Handle general questions and inquiries",
}

var tools = map[string][]llm.Tool{
	DocumentReference: {
		function(ToolSearchDocuments,
			"Search through company PDF documents for specific information about products, policies, or procedures",
			map[string]any{
				"search_terms":  stringArray("List of terms to search for in company documents"),
				"document_urls": stringArray("Specific document URLs to search in (optional)"),
			},
			"search_terms"),
	},
	TransactionVerification: {
		function(ToolVerifyTransaction,
			"Verify if a blockchain transaction matches the expected parameters for payment verification",
			map[string]any{
				"tx_hash":       str("The transaction hash to verify"),
				"chain_name":    str("The blockchain name (e.g., 'eth-mainnet', 'polygon-mainnet')"),
				"from_address":  str("The expected sender address"),
				"to_address":    str("The expected receiver address (for native) or recipient (for ERC-20)"),
				"token_address": str("The token contract address. Use 'native' for native blockchain token"),
				"amount":        str("The expected amount (in wei for native, token units for ERC-20)"),
				"is_native": map[string]any{
					"type":        "boolean",
					"description": "Whether this is a native token transfer (true) or ERC-20 transfer (false)",
					"default":     false,
				},
			},
			"tx_hash", "chain_name", "from_address", "to_address", "token_address", "amount", "is_native"),
	},
	Calculator: {
		function(ToolCalculate,
			"Perform mathematical calculations and evaluations safely",
			map[string]any{
				"expression": str("Mathematical expression to evaluate (supports basic arithmetic, trigonometry, logarithms, and mathematical constants)"),
			},
			"expression"),
	},
	RefundProcessing: {
		function(ToolProcessRefund,
			"Process a refund transaction to a user's wallet address",
			map[string]any{
				"user_address":      str(userAddressDescription),
				"transaction_hash":  str(originalHashDescription),
				"requested_amount":  str("The amount to refund (in wei)"),
				"agent_private_key": str("The encrypted private key for the agent's wallet"),
				"refund_chain":      chainEnum(),
				"max_refund_amount": str(maxRefundDescription),
				"reason":            str("Reason for the refund"),
			},
			"user_address", "transaction_hash", "requested_amount", "agent_private_key", "refund_chain"),
		function(ToolValidateRefund,
			"Validate a refund request without processing the transaction",
			map[string]any{
				"user_address":      str("The user's wallet address requesting the refund"),
				"transaction_hash":  str(originalHashDescription),
				"requested_amount":  str("The amount requested for refund (in wei)"),
				"refund_chain":      chainEnum(),
				"max_refund_amount": str(maxRefundDescription),
			},
			"user_address", "transaction_hash", "requested_amount", "refund_chain"),
		function(ToolOverpaymentRefund,
			"Process a refund for overpayment scenarios where user paid more than the expected amount",
			map[string]any{
				"user_address":      str(userAddressDescription),
				"transaction_hash":  str(originalHashDescription),
				"expected_amount":   str("The expected/correct amount that should have been paid (in wei)"),
				"agent_private_key": str("The encrypted private key for the agent's wallet"),
				"refund_chain":      chainEnum(),
				"max_refund_amount": str(maxRefundDescription),
				"reason":            str("Reason for the refund"),
			},
			"user_address", "transaction_hash", "expected_amount", "agent_private_key", "refund_chain"),
	},
}

// Validation 是能力校验结果。
type Validation struct {
	Valid     bool     `json:"valid"`
	Invalid   []string `json:"invalid_capabilities"`
	Available []string `json:"available_capabilities"`
}

// Info 汇总单个能力的描述与工具。
type Info struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tools       []string `json:"tools"`
}

// Available 返回全部能力名称，顺序固定。
func Available() []string {
	return append([]string(nil), order...)
}

// Known 判断能力是否受支持。
func Known(name string) bool {
	_, ok := descriptions[name]
	return ok
}

// Description 返回能力描述，未知能力返回空串。
func Description(name string) string {
	return descriptions[name]
}

// ToolsFor 拼接若干能力对应的工具声明，同名工具只保留一次。
func ToolsFor(capabilities []string) []llm.Tool {
	seen := make(map[string]struct{})
	var out []llm.Tool
	for _, c := range capabilities {
		for _, tool := range tools[c] {
			if _, ok := seen[tool.Function.Name]; ok {
				continue
			}
			seen[tool.Function.Name] = struct{}{}
			out = append(out, tool)
		}
	}
	return out
}

// ToolNames 返回 ToolsFor 结果中的工具名称。
func ToolNames(capabilities []string) []string {
	decls := ToolsFor(capabilities)
	names := make([]string, 0, len(decls))
	for _, d := range decls {
		names = append(names, d.Function.Name)
	}
	return names
}

// Validate 找出未知能力，并总是附带完整的可用能力列表。
func Validate(capabilities []string) Validation {
	invalid := make([]string, 0)
	for _, c := range capabilities {
		if !Known(c) {
			invalid = append(invalid, c)
		}
	}
	return Validation{
		Valid:     len(invalid) == 0,
		Invalid:   invalid,
		Available: Available(),
	}
}

// Describe 列出所有能力及其工具。
func Describe() []Info {
	infos := make([]Info, 0, len(order))
	for _, name := range order {
		infos = append(infos, Info{
			Name:        name,
			Description: descriptions[name],
			Tools:       ToolNames([]string{name}),
		})
	}
	return infos
}

// Has 判断列表中是否包含指定能力（忽略大小写）。
func Has(capabilities []string, name string) bool {
	for _, c := range capabilities {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

func function(name, description string, properties map[string]any, required ...string) llm.Tool {
	return llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        name,
			Description: description,
			Parameters: map[string]any{
				"type":                 "object",
				"properties":           properties,
				"required":             required,
				"additionalProperties": false,
			},
			Strict: true,
		},
	}
}

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func stringArray(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": description,
	}
}

func chainEnum() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": refundChainDescription,
		"enum":        []string{"ethereum", "polygon", "bsc"},
	}
}
