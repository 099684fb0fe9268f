package agenthub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Chat completions are proxied with a 30s budget, so the
// default leaves headroom above that.
const DefaultHTTPTimeout = 45 * time.Second

// Client wraps the HTTP interactions with the AgentHub management API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// RefundConfig configures the refund tools of a company agent. Amounts are
// wei strings.
type RefundConfig struct {
	MaxRefundAmount     string            `json:"max_refund_amount,omitempty"`
	EscalationThreshold string            `json:"escalation_threshold,omitempty"`
	RefundChain         string            `json:"refund_chain,omitempty"`
	TokenAddress        string            `json:"token_address,omitempty"`
	ExpectedAddress     string            `json:"expected_address,omitempty"`
	Criteria            []string          `json:"criteria,omitempty"`
	CustomAPIURL        string            `json:"custom_api_url,omitempty"`
	CustomAPIHeaders    map[string]string `json:"custom_api_headers,omitempty"`
	CustomAPIField      string            `json:"custom_api_field,omitempty"`
}

// CreateAgentRequest is the payload for creating a company agent.
type CreateAgentRequest struct {
	CompanyID         string        `json:"company_id"`
	CompanyName       string        `json:"company_name"`
	AgentName         string        `json:"agent_name"`
	Port              int           `json:"port,omitempty"`
	SeedPhrase        string        `json:"seed_phrase,omitempty"`
	Capabilities      []string      `json:"capabilities"`
	Description       string        `json:"description,omitempty"`
	WebhookURL        string        `json:"webhook_url,omitempty"`
	DocumentURLs      []string      `json:"document_urls,omitempty"`
	Products          []string      `json:"products,omitempty"`
	SupportCategories []string      `json:"support_categories,omitempty"`
	RefundConfig      *RefundConfig `json:"refund_config,omitempty"`
	CreateWallet      bool          `json:"create_wallet,omitempty"`
	WalletChain       string        `json:"wallet_chain,omitempty"`
}

// Wallet is the public view of an agent wallet.
type Wallet struct {
	Address     string `json:"address"`
	Chain       string `json:"chain"`
	ChainID     int64  `json:"chain_id"`
	NativeToken string `json:"native_token"`
	Balance     string `json:"balance"`
	ENSName     string `json:"ens_name"`
	ENSStatus   string `json:"ens_registration_status"`
}

// Agent describes a registered company agent.
type Agent struct {
	AgentID      string   `json:"agent_id"`
	AgentName    string   `json:"agent_name"`
	CompanyID    string   `json:"company_id"`
	CompanyName  string   `json:"company_name"`
	Port         int      `json:"port"`
	Address      string   `json:"address"`
	Status       string   `json:"status"`
	CreatedAt    string   `json:"created_at"`
	ProcessID    *int     `json:"process_id"`
	Capabilities []string `json:"capabilities"`
	Description  string   `json:"description"`
	WebhookURL   string   `json:"webhook_url"`
	Wallet       *Wallet  `json:"wallet"`
}

// DiscoverResult lists agents matching a capability.
type DiscoverResult struct {
	Agents     []Agent `json:"agents"`
	TotalFound int     `json:"total_found"`
}

// Message is sent to an agent through the management server.
type Message struct {
	AgentID         string         `json:"agent_id"`
	Message         string         `json:"message"`
	SenderCompanyID string         `json:"sender_company_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// MessageReply is the agent's answer or the server acknowledgement.
type MessageReply struct {
	AgentID   string `json:"agent_id"`
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

// ChatMessage is a single OpenAI-style chat message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is an OpenAI-compatible chat completion request.
type ChatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	WebSearch   bool          `json:"web_search,omitempty"`
}

// ChatChoice is one completion choice.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is an OpenAI-compatible chat completion response.
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// Content returns the first choice's content, or "" when there is none.
func (r ChatResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// AgentHealth is one entry of the health report.
type AgentHealth struct {
	AgentID   string  `json:"agent_id"`
	AgentName string  `json:"agent_name"`
	Status    string  `json:"status"`
	Port      int     `json:"port"`
	ProcessID *int    `json:"process_id"`
	Uptime    *string `json:"uptime"`
}

// Health summarises the running state of all company agents.
type Health struct {
	Status       string        `json:"status"`
	TotalAgents  int           `json:"total_agents"`
	ActiveAgents int           `json:"active_agents"`
	Agents       []AgentHealth `json:"agents"`
}

// CapabilityValidation is the result of validating capability names.
type CapabilityValidation struct {
	Valid     bool     `json:"valid"`
	Invalid   []string `json:"invalid_capabilities"`
	Available []string `json:"available_capabilities"`
}

// APIError represents a non-2xx response from the management server.
type APIError struct {
	StatusCode int
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("agenthub api error (%d): %s", e.StatusCode, e.Detail)
}

// NewClient instantiates a client for the AgentHub API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// CreateAgent registers and starts a company agent.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (Agent, error) {
	var agent Agent
	if err := c.send(ctx, http.MethodPost, "/company-agents", nil, req, &agent, nil); err != nil {
		return Agent{}, err
	}
	return agent, nil
}

// ListAgents returns every company agent.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var agents []Agent
	if err := c.send(ctx, http.MethodGet, "/company-agents", nil, nil, &agents, nil); err != nil {
		return nil, err
	}
	return agents, nil
}

// ListCompanyAgents returns the agents of one company.
func (c *Client) ListCompanyAgents(ctx context.Context, companyID string) ([]Agent, error) {
	var agents []Agent
	if err := c.send(ctx, http.MethodGet, "/company-agents/company/"+url.PathEscape(companyID), nil, nil, &agents, nil); err != nil {
		return nil, err
	}
	return agents, nil
}

// GetAgent fetches a company agent by identifier.
func (c *Client) GetAgent(ctx context.Context, agentID string) (Agent, error) {
	var agent Agent
	if err := c.send(ctx, http.MethodGet, "/company-agents/"+url.PathEscape(agentID), nil, nil, &agent, nil); err != nil {
		return Agent{}, err
	}
	return agent, nil
}

// DeleteAgent stops and removes a company agent.
func (c *Client) DeleteAgent(ctx context.Context, agentID string) error {
	return c.send(ctx, http.MethodDelete, "/company-agents/"+url.PathEscape(agentID), nil, nil, nil, nil)
}

// StartAgent restarts a stopped company agent.
func (c *Client) StartAgent(ctx context.Context, agentID string) error {
	return c.send(ctx, http.MethodPost, "/company-agents/"+url.PathEscape(agentID)+"/start", nil, nil, nil, nil)
}

// StopAgent terminates a running company agent.
func (c *Client) StopAgent(ctx context.Context, agentID string) error {
	return c.send(ctx, http.MethodPost, "/company-agents/"+url.PathEscape(agentID)+"/stop", nil, nil, nil, nil)
}

// Discover finds agents by capability, optionally restricted to one company.
func (c *Client) Discover(ctx context.Context, capability, companyID string) (DiscoverResult, error) {
	payload := map[string]string{"capability": capability}
	if companyID != "" {
		payload["company_id"] = companyID
	}
	var out DiscoverResult
	if err := c.send(ctx, http.MethodPost, "/company-agents/discover", nil, payload, &out, nil); err != nil {
		return DiscoverResult{}, err
	}
	return out, nil
}

// SendMessage delivers a message to an agent.
func (c *Client) SendMessage(ctx context.Context, msg Message) (MessageReply, error) {
	var out MessageReply
	if err := c.send(ctx, http.MethodPost, "/company-agents/send-message", nil, msg, &out, nil); err != nil {
		return MessageReply{}, err
	}
	return out, nil
}

// ValidateCapabilities checks capability names against the server's list.
func (c *Client) ValidateCapabilities(ctx context.Context, capabilities []string) (CapabilityValidation, error) {
	var out CapabilityValidation
	payload := map[string][]string{"capabilities": capabilities}
	if err := c.send(ctx, http.MethodPost, "/company-agents/capabilities/validate", nil, payload, &out, nil); err != nil {
		return CapabilityValidation{}, err
	}
	return out, nil
}

// ChatCompletion routes a chat request to the agent. sessionID is optional
// and forwarded as the x-session-id header.
func (c *Client) ChatCompletion(ctx context.Context, agentID string, req ChatRequest, sessionID string) (ChatResponse, error) {
	query := url.Values{"agent_id": {agentID}}
	header := http.Header{}
	if sessionID != "" {
		header.Set("x-session-id", sessionID)
	}
	var out ChatResponse
	if err := c.send(ctx, http.MethodPost, "/chat/completions", query, req, &out, header); err != nil {
		return ChatResponse{}, err
	}
	return out, nil
}

// Health returns the management server's view of agent processes.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	if err := c.send(ctx, http.MethodGet, "/health", nil, nil, &out, nil); err != nil {
		return Health{}, err
	}
	return out, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload, out any, header http.Header) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if query != nil {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Detail == "" {
			apiErr.Detail = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
