package events

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"AgentHub/internal/config"
	xerrors "AgentHub/internal/errors"
	"AgentHub/pkg/logger"
)

// Open 根据配置创建事件队列。
func Open(ctx context.Context, cfg config.EventsConfig) (Queue, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryQueue(cfg.Buffer), nil
	case "none", "disabled":
		return Discard{}, nil
	case "redis":
		return NewRedisQueue(ctx, RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Key:       cfg.Redis.Key,
			BlockWait: time.Duration(cfg.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return NewRabbitMQQueue(RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的事件队列类型: "+cfg.Driver)
	}
}

// Recorder 把消费到的事件写入审计日志。
type Recorder struct {
	audit   *slog.Logger
	observe func(Event)
}

// NewRecorder 创建事件记录器。observe 可为空，用于附加指标统计。
func NewRecorder(audit *slog.Logger, observe func(Event)) *Recorder {
	if audit == nil {
		audit = logger.Audit()
	}
	return &Recorder{audit: audit, observe: observe}
}

// Handle 记录单个事件。
func (r *Recorder) Handle(ctx context.Context, event Event) error {
	attrs := []any{
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
		slog.String("agent_id", event.AgentID),
		slog.Time("occurred_at", event.OccurredAt),
	}
	if event.CompanyID != "" {
		attrs = append(attrs, slog.String("company_id", event.CompanyID))
	}
	for key, value := range event.Attributes {
		attrs = append(attrs, slog.String(key, value))
	}
	r.audit.InfoContext(ctx, "agent 生命周期事件", attrs...)
	if r.observe != nil {
		r.observe(event)
	}
	return nil
}

// Run 在队列上启动消费者，直到上下文取消。
func (r *Recorder) Run(ctx context.Context, queue Queue, workers int) error {
	return queue.Consume(ctx, workers, r.Handle)
}

// Emit 发布事件，失败只记录告警日志，不影响调用方流程。
func Emit(ctx context.Context, publisher Publisher, event Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logger.Named("events").Warn("发布事件失败",
			slog.String("event_type", string(event.Type)),
			slog.String("agent_id", event.AgentID),
			slog.Any("error", err))
	}
}
