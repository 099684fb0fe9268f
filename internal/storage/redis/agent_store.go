package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/registry"

	"github.com/redis/go-redis/v9"
)

// Config 描述 Redis 连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	Key      string
}

type hashClient interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Close() error
}

// AgentStore 实现 registry.Store。
type AgentStore struct {
	client hashClient
	key    string
}

// NewAgentStore 连接 Redis 并校验可用性。
func NewAgentStore(ctx context.Context, cfg Config) (*AgentStore, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return newAgentStore(client, cfg.Key), nil
}

func newAgentStore(client hashClient, key string) *AgentStore {
	if key == "" {
		key = "agenthub:agents"
	}
	return &AgentStore{client: client, key: key}
}

// Put 写入记录。
func (s *AgentStore) Put(ctx context.Context, record registry.Record) error {
	if record.AgentID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent id 为空")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化 agent 记录失败")
	}
	if err := s.client.HSet(ctx, s.key, record.AgentID, string(data)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 写入 agent 记录失败")
	}
	return nil
}

// Get 读取记录。
func (s *AgentStore) Get(ctx context.Context, id string) (registry.Record, error) {
	data, err := s.client.HGet(ctx, s.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return registry.Record{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.Record{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 读取 agent 记录失败")
	}
	return decode(data)
}

// Delete 删除记录。
func (s *AgentStore) Delete(ctx context.Context, id string) error {
	removed, err := s.client.HDel(ctx, s.key, id).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 删除 agent 记录失败")
	}
	if removed == 0 {
		return registry.ErrNotFound
	}
	return nil
}

// List 返回全部记录，按创建时间排序。
func (s *AgentStore) List(ctx context.Context) ([]registry.Record, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 读取 agent 列表失败")
	}
	records := make([]registry.Record, 0, len(values))
	for _, data := range values {
		record, err := decode(data)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	registry.SortByCreation(records)
	return records, nil
}

// Close 关闭连接。
func (s *AgentStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func decode(data string) (registry.Record, error) {
	var record registry.Record
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return registry.Record{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 agent 记录失败")
	}
	return record, nil
}

var _ registry.Store = (*AgentStore)(nil)
