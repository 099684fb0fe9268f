// Package registry 保存 agent 记录。默认实现位于进程内存，持久化实现见
// internal/storage/redis 与 internal/storage/mysql。
package registry

import (
	"context"
	"encoding/json"
	"errors"

	"AgentHub/internal/refund"
	"AgentHub/internal/wallet"
)

// 记录状态。
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// 记录类型：/agents 创建的基础 agent 与 /company-agents 创建的公司 agent。
const (
	KindBasic   = "basic"
	KindCompany = "company"
)

// ErrNotFound 表示记录不存在。
var ErrNotFound = errors.New("agent not found")

var errEmptyID = errors.New("agent id 为空")

// Record 是单个 agent 的元数据。
type Record struct {
	AgentID           string         `json:"agent_id"`
	Kind              string         `json:"kind"`
	Name              string         `json:"name,omitempty"`
	AgentName         string         `json:"agent_name,omitempty"`
	CompanyID         string         `json:"company_id,omitempty"`
	CompanyName       string         `json:"company_name,omitempty"`
	Port              int            `json:"port"`
	Address           string         `json:"address"`
	Status            string         `json:"status"`
	CreatedAt         string         `json:"created_at"`
	ProcessID         *int           `json:"process_id"`
	FilePath          string         `json:"filepath,omitempty"`
	SeedPhrase        string         `json:"seed_phrase,omitempty"`
	Mailbox           bool           `json:"mailbox"`
	Endpoint          []string       `json:"endpoint,omitempty"`
	Capabilities      []string       `json:"capabilities,omitempty"`
	Description       string         `json:"description,omitempty"`
	WebhookURL        string         `json:"webhook_url,omitempty"`
	DocumentURLs      []string       `json:"document_urls,omitempty"`
	Products          []string       `json:"products,omitempty"`
	SupportCategories []string       `json:"support_categories,omitempty"`
	RefundConfig      *refund.Config `json:"refund_config"`
	Wallet            *wallet.Record `json:"wallet"`
}

// DisplayName 返回 agent 名称，公司 agent 使用 agent_name。
func (r Record) DisplayName() string {
	if r.AgentName != "" {
		return r.AgentName
	}
	return r.Name
}

// PID 返回进程号，未运行时为 0。
func (r Record) PID() int {
	if r.ProcessID == nil {
		return 0
	}
	return *r.ProcessID
}

// SetPID 设置或清除进程号。
func (r *Record) SetPID(pid int) {
	if pid <= 0 {
		r.ProcessID = nil
		return
	}
	r.ProcessID = &pid
}

// Clone 返回深拷贝，避免调用方修改存储中的数据。
func (r Record) Clone() Record {
	data, err := json.Marshal(r)
	if err != nil {
		return r
	}
	var out Record
	if err := json.Unmarshal(data, &out); err != nil {
		return r
	}
	return out
}

// Store 定义 agent 注册表。
type Store interface {
	Put(ctx context.Context, record Record) error
	Get(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}
