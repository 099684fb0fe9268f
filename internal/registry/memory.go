package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore 是进程内的注册表实现。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore 创建内存注册表。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Put 插入或覆盖记录。
func (s *MemoryStore) Put(_ context.Context, record Record) error {
	if strings.TrimSpace(record.AgentID) == "" {
		return errEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.AgentID] = record.Clone()
	return nil
}

// Get 返回记录副本。
func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return record.Clone(), nil
}

// Delete 删除记录。
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// List 按创建时间返回全部记录。
func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record.Clone())
	}
	s.mu.RUnlock()
	SortByCreation(out)
	return out, nil
}

// Close 实现 Store 接口。
func (s *MemoryStore) Close() error { return nil }

// SortByCreation 按创建时间与 id 排序。
func SortByCreation(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt != records[j].CreatedAt {
			return records[i].CreatedAt < records[j].CreatedAt
		}
		return records[i].AgentID < records[j].AgentID
	})
}

var _ Store = (*MemoryStore)(nil)
