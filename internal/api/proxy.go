package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/observability/metrics"
	"AgentHub/internal/registry"
)

const (
	defaultChatModel       = "asi1-mini"
	defaultChatTemperature = 0.7
	defaultChatMaxTokens   = 1000

	sessionHeader = "x-session-id"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
	WebSearch   bool          `json:"web_search,omitempty"`
}

type chatResponse struct {
	ID      string          `json:"id"`
	Object  string          `json:"object"`
	Created int64           `json:"created"`
	Model   string          `json:"model"`
	Choices json.RawMessage `json:"choices"`
	Usage   json.RawMessage `json:"usage"`
}

// handleChatProxy 把 OpenAI 兼容的对话请求转发给 agent_id 指定的运行中 agent。
func (s *Server) handleChatProxy(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		writeDetail(w, http.StatusBadRequest, "agent_id query parameter is required")
		return
	}
	record, err := s.agents.Get(r.Context(), registry.KindCompany, agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if record.Status != registry.StatusRunning {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Agent %s is not running. Status: %s", agentID, record.Status))
		return
	}

	var req chatRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Model == "" {
		req.Model = defaultChatModel
	}
	if req.Temperature == 0 {
		req.Temperature = defaultChatTemperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = defaultChatMaxTokens
	}
	if req.Messages == nil {
		req.Messages = []chatMessage{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Failed to process chat completion: "+err.Error())
		return
	}

	header := http.Header{}
	if session := r.Header.Get(sessionHeader); session != "" {
		header.Set(sessionHeader, session)
	}
	status, payload, err := s.forward(r.Context(), http.MethodPost, s.agents.AgentURL(record, "/chat/completions"), body, header)
	if err != nil {
		metrics.ProxyRequests.WithLabelValues("chat", "error").Inc()
		writeDetail(w, http.StatusInternalServerError, "Failed to process chat completion: "+err.Error())
		return
	}
	if status != http.StatusOK {
		metrics.ProxyRequests.WithLabelValues("chat", "error").Inc()
		writeDetail(w, status, fmt.Sprintf("Agent %s returned error: %s", agentID, string(payload)))
		return
	}

	var resp chatResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		metrics.ProxyRequests.WithLabelValues("chat", "error").Inc()
		writeDetail(w, http.StatusInternalServerError, "Failed to process chat completion: "+err.Error())
		return
	}
	metrics.ProxyRequests.WithLabelValues("chat", "ok").Inc()
	if resp.Model == "" {
		resp.Model = req.Model
	}
	if resp.Object == "" {
		resp.Object = "chat.completion"
	}
	if len(resp.Choices) == 0 {
		resp.Choices = json.RawMessage("[]")
	}
	if len(resp.Usage) == 0 {
		resp.Usage = json.RawMessage("{}")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRestAgents(w http.ResponseWriter, r *http.Request) {
	records, err := s.agents.List(r.Context(), registry.KindCompany)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Error listing agents: "+xerrors.MessageOf(err))
		return
	}
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, map[string]any{
			"agent_id":       rec.AgentID,
			"company_id":     rec.CompanyID,
			"company_name":   rec.CompanyName,
			"agent_name":     rec.AgentName,
			"port":           rec.Port,
			"address":        rec.Address,
			"status":         rec.Status,
			"capabilities":   rec.Capabilities,
			"description":    rec.Description,
			"rest_endpoints": s.restEndpoints(rec),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRestEndpoints(w http.ResponseWriter, r *http.Request) {
	record, err := s.agents.Get(r.Context(), registry.KindCompany, chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	endpoints := s.restEndpoints(record)
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":     record.AgentID,
		"agent_name":   record.AgentName,
		"company_name": record.CompanyName,
		"base_url":     s.agents.AgentURL(record, ""),
		"endpoints":    endpoints,
		"usage_examples": map[string]string{
			"get_request":  "curl " + endpoints["get"],
			"post_request": `curl -X POST -H 'Content-Type: application/json' -d '{"text": "Hello"}' ` + endpoints["post"],
			"chat_request": `curl -X POST -H 'Content-Type: application/json' -d '{"messages": [{"role": "user", "content": "Hello"}]}' ` + endpoints["chat"],
		},
	})
}

func (s *Server) restEndpoints(record registry.Record) map[string]string {
	return map[string]string{
		"get":  s.agents.AgentURL(record, "/rest/get"),
		"post": s.agents.AgentURL(record, "/rest/post"),
		"chat": s.agents.AgentURL(record, "/chat/completions"),
	}
}

func (s *Server) handleRestGet(w http.ResponseWriter, r *http.Request) {
	s.relay(w, r, "rest_get", http.MethodGet, "/rest/get")
}

func (s *Server) handleRestPost(w http.ResponseWriter, r *http.Request) {
	s.relay(w, r, "rest_post", http.MethodPost, "/rest/post")
}

func (s *Server) handleRestChat(w http.ResponseWriter, r *http.Request) {
	s.relay(w, r, "rest_chat", http.MethodPost, "/chat/completions")
}

// relay 原样转发请求体与响应体，连接失败或非 2xx 响应统一返回 500。
func (s *Server) relay(w http.ResponseWriter, r *http.Request, target, method, path string) {
	record, err := s.agents.Get(r.Context(), registry.KindCompany, chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var body []byte
	if method != http.MethodGet {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "请求体读取失败")
			return
		}
	}
	header := http.Header{}
	if session := r.Header.Get(sessionHeader); session != "" {
		header.Set(sessionHeader, session)
	}
	status, payload, err := s.forward(r.Context(), method, s.agents.AgentURL(record, path), body, header)
	if err == nil && (status < 200 || status >= 300) {
		err = fmt.Errorf("agent returned status %d: %s", status, string(payload))
	}
	if err != nil {
		metrics.ProxyRequests.WithLabelValues(target, "error").Inc()
		s.logger.Warn("agent proxy failed", "agent_id", record.AgentID, "target", target, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to connect to agent: "+err.Error())
		return
	}
	metrics.ProxyRequests.WithLabelValues(target, "ok").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) forward(ctx context.Context, method, url string, body []byte, header http.Header) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, payload, nil
}
