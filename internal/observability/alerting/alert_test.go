package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "AgentHub/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	a := &recordingNotifier{channel: ChannelLog}
	b := &recordingNotifier{channel: ChannelWebhook, err: errors.New("down")}
	d := NewFanout(a, nil, b)

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeFailedPrecondition, Message: "escalate"})
	if err == nil {
		t.Fatalf("expected joined error from failing channel")
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both notifiers to receive the event")
	}
	if a.events[0].OccurredAt.IsZero() {
		t.Fatalf("occurred_at should be stamped")
	}
	if got := d.Channels(); len(got) != 2 || got[0] != ChannelLog {
		t.Fatalf("unexpected channels %v", got)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Headers: map[string]string{"X-Token": "t"}, Client: srv.Client()}
	if err := n.Notify(context.Background(), Event{AgentID: "a-1", Message: "m"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received.AgentID != "a-1" || received.Message != "m" {
		t.Fatalf("unexpected payload %+v", received)
	}

	n.Headers = nil
	if err := n.Notify(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error on 401")
	}
}

func TestUnconfiguredWebhookIsSkipped(t *testing.T) {
	var n *WebhookNotifier
	if err := n.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil notifier should skip: %v", err)
	}
	if err := (&LogNotifier{}).Notify(context.Background(), Event{Metadata: map[string]string{"k": "v"}}); err != nil {
		t.Fatalf("log notifier: %v", err)
	}
}
