package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/registry"

	"github.com/redis/go-redis/v9"
)

type fakeHash struct {
	data    map[string]map[string]string
	failing error
}

func newFakeHash() *fakeHash {
	return &fakeHash{data: map[string]map[string]string{}}
}

func (f *fakeHash) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	if f.failing != nil {
		return redis.NewIntResult(0, f.failing)
	}
	if f.data[key] == nil {
		f.data[key] = map[string]string{}
	}
	for i := 0; i+1 < len(values); i += 2 {
		f.data[key][fmt.Sprint(values[i])] = fmt.Sprint(values[i+1])
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (f *fakeHash) HGet(_ context.Context, key, field string) *redis.StringCmd {
	v, ok := f.data[key][field]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeHash) HDel(_ context.Context, key string, fields ...string) *redis.IntCmd {
	var n int64
	for _, field := range fields {
		if _, ok := f.data[key][field]; ok {
			delete(f.data[key], field)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeHash) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	out := map[string]string{}
	for k, v := range f.data[key] {
		out[k] = v
	}
	return redis.NewMapStringStringResult(out, nil)
}

func (f *fakeHash) Close() error { return nil }

func TestAgentStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeHash()
	store := newAgentStore(fake, "")

	rec := registry.Record{AgentID: "b", AgentName: "support", CreatedAt: "2024-01-02T00:00:00Z", Port: 8002}
	rec.SetPID(99)
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, registry.Record{AgentID: "a", CreatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok := fake.data["agenthub:agents"]["b"]; !ok {
		t.Fatal("expected record under default key")
	}

	got, err := store.Get(ctx, "b")
	if err != nil || got.PID() != 99 || got.Port != 8002 {
		t.Fatalf("unexpected get %+v %v", got, err)
	}

	list, err := store.List(ctx)
	if err != nil || len(list) != 2 || list[0].AgentID != "a" {
		t.Fatalf("unexpected list %+v %v", list, err)
	}

	if err := store.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "b"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.Get(ctx, "b"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAgentStoreErrors(t *testing.T) {
	ctx := context.Background()
	fake := newFakeHash()
	store := newAgentStore(fake, "custom")

	fake.failing = errors.New("connection refused")
	err := store.Put(ctx, registry.Record{AgentID: "x"})
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}

	fake.data["custom"] = map[string]string{"bad": "{not json"}
	if _, err := store.Get(ctx, "bad"); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected decode failure, got %v", err)
	}

	if _, err := NewAgentStore(ctx, Config{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
