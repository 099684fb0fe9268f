package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
)

// RestRequest 是 /rest/post 的请求体。
type RestRequest struct {
	Text            string         `json:"text"`
	SenderCompanyID string         `json:"sender_company_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// RestResponse 是 REST 接口的统一响应。
type RestResponse struct {
	Timestamp    int64          `json:"timestamp"`
	Text         string         `json:"text"`
	AgentAddress string         `json:"agent_address"`
	Status       string         `json:"status"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ChatCompletionRequest 是 OpenAI 兼容的对话请求。
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	WebSearch   bool          `json:"web_search,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// ChatChoice 是单个补全结果。
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatMessage 是返回给调用方的助手消息。
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse 是 OpenAI 兼容的对话响应。
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   llm.Usage    `json:"usage"`
}

// WebhookPayload 是 agent 回复后推送给公司系统的通知。
type WebhookPayload struct {
	Response        string `json:"response"`
	SenderCompanyID string `json:"sender_company_id"`
	CompanyID       string `json:"company_id"`
	Timestamp       string `json:"timestamp"`
}

// Handler 返回 agent 的 HTTP 路由。
func (a *Agent) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/rest/get", a.handleRestGet)
	r.Post("/rest/post", a.handleRestPost)
	r.Post("/chat/completions", a.handleChatCompletions)
	r.Get("/health", a.handleHealth)
	return r
}

// ListenAddress 返回监听地址。
func (a *Agent) ListenAddress() string {
	host := a.manifest.Agent.Host
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(a.manifest.Agent.Port))
}

// Serve 启动 HTTP 服务直到 ctx 结束。
func (a *Agent) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              a.ListenAddress(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	a.logger.Info("agent is ready", "address", a.address, "listen", server.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (a *Agent) handleRestGet(w http.ResponseWriter, r *http.Request) {
	capabilities := a.manifest.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}
	writeJSON(w, http.StatusOK, RestResponse{
		Timestamp:    a.now().Unix(),
		Text:         a.Greeting(),
		AgentAddress: a.address,
		Status:       "success",
		Metadata: map[string]any{
			"company_id":   a.manifest.Agent.CompanyID,
			"company_name": a.manifest.Agent.CompanyName,
			"agent_name":   a.manifest.Agent.Name,
			"capabilities": capabilities,
		},
	})
}

func (a *Agent) handleRestPost(w http.ResponseWriter, r *http.Request) {
	var req RestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, a.restError(xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体不是合法 JSON")))
		return
	}
	text, err := a.Respond(r.Context(), req.Text)
	if err != nil {
		writeJSON(w, http.StatusOK, a.restError(err))
		return
	}
	a.notify(text, req.SenderCompanyID)
	writeJSON(w, http.StatusOK, RestResponse{
		Timestamp:    a.now().Unix(),
		Text:         text,
		AgentAddress: a.address,
		Status:       "success",
		Metadata: map[string]any{
			"company_id":        a.manifest.Agent.CompanyID,
			"company_name":      a.manifest.Agent.CompanyName,
			"agent_name":        a.manifest.Agent.Name,
			"sender_company_id": req.SenderCompanyID,
		},
	})
}

func (a *Agent) restError(err error) RestResponse {
	msg := xerrors.MessageOf(err)
	return RestResponse{
		Timestamp:    a.now().Unix(),
		Text:         "Error processing request: " + msg,
		AgentAddress: a.address,
		Status:       "error",
		Metadata:     map[string]any{"error": msg},
	}
}

func (a *Agent) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "请求体不是合法 JSON"})
		return
	}
	if req.Model == "" {
		req.Model = a.model
	}

	resp, err := a.Chat(r.Context(), req.Messages, ChatOptions{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		WebSearch:   req.WebSearch,
		SessionID:   r.Header.Get("x-session-id"),
	})
	var content string
	usage := llm.Usage{}
	if err != nil {
		content = "Error processing chat request: " + xerrors.MessageOf(err)
	} else {
		content = resp.Message.Content
		usage = resp.Usage
		if usage.TotalTokens == 0 {
			usage = estimateUsage(req.Messages, content)
		}
	}

	writeJSON(w, http.StatusOK, ChatCompletionResponse{
		ID:      uuid.NewString(),
		Object:  "chat.completion",
		Created: a.now().Unix(),
		Model:   req.Model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      ChatMessage{Role: llm.RoleAssistant, Content: content},
			FinishReason: "stop",
		}},
		Usage: usage,
	})
}

// estimateUsage 在上游未返回用量时按字符数估算。
func estimateUsage(messages []llm.Message, content string) llm.Usage {
	prompt := 0
	for _, m := range messages {
		prompt += len(m.Content)
	}
	return llm.Usage{PromptTokens: prompt, CompletionTokens: len(content), TotalTokens: prompt + len(content)}
}

func (a *Agent) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"agent_id":   a.manifest.Agent.ID,
		"agent_name": a.manifest.Agent.Name,
		"company_id": a.manifest.Agent.CompanyID,
		"address":    a.address,
		"llm":        a.llmClient != nil,
		"tools":      a.manifest.Tools,
		"timestamp":  a.now().UTC().Format(time.RFC3339),
	})
}

// notify 异步推送 webhook，失败只记录日志。
func (a *Agent) notify(response, sender string) {
	url := a.manifest.WebhookURL
	if url == "" {
		return
	}
	payload := WebhookPayload{
		Response:        response,
		SenderCompanyID: sender,
		CompanyID:       a.manifest.Agent.CompanyID,
		Timestamp:       a.now().Format(time.RFC3339Nano),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.postWebhook(ctx, url, payload); err != nil {
			a.logger.Warn("webhook notification failed", "url", url, "error", err)
		}
	}()
}

func (a *Agent) postWebhook(ctx context.Context, url string, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("webhook returned " + resp.Status)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
