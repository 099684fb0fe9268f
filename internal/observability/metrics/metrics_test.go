package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/company-agents/{agent_id}", "404"))
	ObserveHTTPRequest("/company-agents/{agent_id}", "GET", 404, 15*time.Millisecond)
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/company-agents/{agent_id}", "404"))
	if after-before != 1 {
		t.Fatalf("expected counter to increase by 1, got %v", after-before)
	}

	ObserveHTTPRequest("", "POST", 200, time.Millisecond)
	if testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "unmatched", "200")) < 1 {
		t.Fatal("expected unmatched route label")
	}
}

func TestHandlerExposesAgentGauge(t *testing.T) {
	SetAgentCounts(3, 1)
	AgentLifecycle.WithLabelValues("created").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	if !strings.Contains(text, `agenthub_agents{status="running"} 3`) {
		t.Fatalf("running gauge missing:\n%s", text)
	}
	if !strings.Contains(text, `agenthub_agent_lifecycle_total{event="created"}`) {
		t.Fatal("lifecycle counter missing")
	}
}

func TestStartServerRequiresAddress(t *testing.T) {
	if err := StartServer(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestStartServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartServer(ctx, "127.0.0.1:0") }()
	cancel()
	select {
	case <-done:
	case <-time.After(6 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
