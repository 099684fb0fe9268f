package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"AgentHub/internal/config"
	xerrors "AgentHub/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestMemoryQueueDeliversToRecorder(t *testing.T) {
	queue := NewMemoryQueue(4)
	out := &syncBuffer{}
	seen := make(chan Event, 2)
	recorder := NewRecorder(slog.New(slog.NewJSONHandler(out, nil)), func(e Event) { seen <- e })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- recorder.Run(ctx, queue, 2) }()

	event := New(TypeAgentCreated, "agent-1", "acme", map[string]string{"port": "8001"})
	require.NoError(t, queue.Publish(context.Background(), event))

	select {
	case got := <-seen:
		assert.Equal(t, event.ID, got.ID)
		assert.Equal(t, TypeAgentCreated, got.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("event not consumed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out.String())), &line))
	assert.Equal(t, "agent.created", line["event_type"])
	assert.Equal(t, "acme", line["company_id"])
	assert.Equal(t, "8001", line["port"])
}

func TestMemoryQueueClosed(t *testing.T) {
	queue := NewMemoryQueue(1)
	require.NoError(t, queue.Close())
	require.NoError(t, queue.Close())
	err := queue.Publish(context.Background(), New(TypeAgentStopped, "a", "", nil))
	assert.Equal(t, xerrors.CodeQueueFailure, xerrors.CodeOf(err))
}

func TestMemoryQueuePublishHonoursContext(t *testing.T) {
	queue := NewMemoryQueue(1)
	require.NoError(t, queue.Publish(context.Background(), New(TypeAgentStarted, "a", "", nil)))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := queue.Publish(ctx, New(TypeAgentStarted, "b", "", nil))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestOpenDrivers(t *testing.T) {
	q, err := Open(context.Background(), config.EventsConfig{Driver: "memory", Buffer: 2})
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, q)

	q, err = Open(context.Background(), config.EventsConfig{Driver: "none"})
	require.NoError(t, err)
	assert.NoError(t, q.Publish(context.Background(), Event{}))

	_, err = Open(context.Background(), config.EventsConfig{Driver: "kafka"})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	_, err = Open(context.Background(), config.EventsConfig{Driver: "redis"})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	_, err = Open(context.Background(), config.EventsConfig{Driver: "rabbitmq"})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, Event) error {
	f.calls++
	return errors.New("broker down")
}

func TestEmitSwallowsErrors(t *testing.T) {
	pub := &failingPublisher{}
	Emit(context.Background(), pub, New(TypeAgentDeleted, "a", "", nil))
	Emit(context.Background(), nil, New(TypeAgentDeleted, "a", "", nil))
	assert.Equal(t, 1, pub.calls)
}

func TestEventJSONShape(t *testing.T) {
	event := New(TypeWebhookReceived, "agent-9", "", nil)
	data, err := encode(event)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "company_id")
	back, err := decode(data)
	require.NoError(t, err)
	assert.Equal(t, event.AgentID, back.AgentID)
	assert.True(t, event.OccurredAt.Equal(back.OccurredAt))
}
