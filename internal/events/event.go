// Package events 定义 agent 生命周期事件以及承载这些事件的队列。
//
// 管理服务在创建、启动、停止、删除 agent 以及收到 webhook 时发布事件，
// Recorder 消费事件并写入审计日志。队列可以是内存、Redis list 或 RabbitMQ。
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type 标识事件类别。
type Type string

const (
	TypeAgentCreated    Type = "agent.created"
	TypeAgentStarted    Type = "agent.started"
	TypeAgentStopped    Type = "agent.stopped"
	TypeAgentDeleted    Type = "agent.deleted"
	TypeAgentFailed     Type = "agent.failed"
	TypeMessageSent     Type = "agent.message_sent"
	TypeWebhookReceived Type = "agent.webhook_received"
	TypeENSPrepared     Type = "wallet.ens_prepared"
)

// Event 描述一次生命周期变化。
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	AgentID    string            `json:"agent_id"`
	CompanyID  string            `json:"company_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// New 构造带有唯一 ID 与时间戳的事件。
func New(typ Type, agentID, companyID string, attrs map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		AgentID:    agentID,
		CompanyID:  companyID,
		Attributes: attrs,
		OccurredAt: time.Now().UTC(),
	}
}

// Handler 处理从队列取出的事件。
type Handler func(ctx context.Context, event Event) error

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Queue 同时具备发布与消费能力。
type Queue interface {
	Publisher
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

func encode(event Event) ([]byte, error) {
	return json.Marshal(event)
}

func decode(data []byte) (Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return event, err
}
