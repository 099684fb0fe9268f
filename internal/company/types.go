package company

import (
	"context"
	"time"

	"AgentHub/internal/documents"
	"AgentHub/internal/process"
	"AgentHub/internal/refund"
	"AgentHub/internal/registry"
	"AgentHub/internal/wallet"
)

// CreateRequest 是创建公司 agent 的请求体。
type CreateRequest struct {
	CompanyID         string         `json:"company_id"`
	CompanyName       string         `json:"company_name"`
	AgentName         string         `json:"agent_name"`
	Port              int            `json:"port"`
	SeedPhrase        string         `json:"seed_phrase,omitempty"`
	Capabilities      []string       `json:"capabilities"`
	Description       string         `json:"description,omitempty"`
	WebhookURL        string         `json:"webhook_url,omitempty"`
	DocumentURLs      []string       `json:"document_urls,omitempty"`
	Products          []string       `json:"products,omitempty"`
	SupportCategories []string       `json:"support_categories,omitempty"`
	RefundConfig      *refund.Config `json:"refund_config,omitempty"`
	CreateWallet      bool           `json:"create_wallet,omitempty"`
	WalletChain       string         `json:"wallet_chain,omitempty"`
	Mailbox           *bool          `json:"mailbox,omitempty"`
}

// PlainCreateRequest 是 /agents 创建基础 agent 的请求体。
type PlainCreateRequest struct {
	Name       string   `json:"name"`
	Port       int      `json:"port"`
	SeedPhrase string   `json:"seed_phrase,omitempty"`
	Mailbox    *bool    `json:"mailbox,omitempty"`
	Endpoint   []string `json:"endpoint,omitempty"`
}

// DiscoverRequest 按能力查找公司 agent。
type DiscoverRequest struct {
	Capability string `json:"capability"`
	CompanyID  string `json:"company_id,omitempty"`
}

// DiscoverResponse 是能力查找结果。
type DiscoverResponse struct {
	Agents     []registry.Record `json:"agents"`
	TotalFound int               `json:"total_found"`
}

// MessageRequest 是发往某个 agent 的消息。
type MessageRequest struct {
	AgentID         string         `json:"agent_id"`
	Message         string         `json:"message"`
	SenderCompanyID string         `json:"sender_company_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// MessageResponse 是消息投递结果。
type MessageResponse struct {
	AgentID   string `json:"agent_id"`
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

// AgentStatus 是健康汇总中的单个 agent。
type AgentStatus struct {
	AgentID      string   `json:"agent_id"`
	Name         string   `json:"name,omitempty"`
	CompanyID    string   `json:"company_id,omitempty"`
	CompanyName  string   `json:"company_name,omitempty"`
	AgentName    string   `json:"agent_name,omitempty"`
	Status       string   `json:"status"`
	Port         int      `json:"port"`
	Address      string   `json:"address"`
	ProcessID    *int     `json:"process_id"`
	Uptime       *string  `json:"uptime"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Health 汇总某类 agent 的运行状态。
type Health struct {
	Status       string        `json:"status"`
	TotalAgents  int           `json:"total_agents"`
	ActiveAgents int           `json:"active_agents"`
	Agents       []AgentStatus `json:"agents"`
}

// Processes 是进程管理器的最小接口。
type Processes interface {
	Start(ctx context.Context, spec process.Spec) (*process.Handle, error)
	IsRunning(pid int) bool
	Stop(ctx context.Context, pid int) error
	Uptime(pid int) (time.Duration, bool)
}

// Wallets 负责为公司 agent 创建钱包。
type Wallets interface {
	CreateAgentWallet(ctx context.Context, agentName, companyName, agentID, chain string) (*wallet.Record, error)
	RefreshBalance(ctx context.Context, record *wallet.Record) error
	PrepareRegistration(ctx context.Context, record *wallet.Record, agentName, agentID string)
}

// Documents 在创建时抓取公司文档作为 agent 的知识上下文。
type Documents interface {
	ProcessMany(ctx context.Context, urls []string, maxLengthPerDocument int) (documents.Processed, error)
}
