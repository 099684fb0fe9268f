package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"AgentHub/internal/capability"
	"AgentHub/internal/codegen"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
	"AgentHub/pkg/logger"
)

const (
	defaultMaxToolRounds = 3
	defaultMaxTokens     = 1000
)

// Agent 是单个 agent 子进程的对话核心：组装提示词、调用大模型并执行工具。
type Agent struct {
	manifest   *codegen.Manifest
	llmClient  llm.Client
	model      string
	tools      []llm.Tool
	executor   *Executor
	maxRounds  int
	llmTimeout time.Duration
	address    string
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithLLMClient 设置大模型客户端，未设置时 agent 以回显模式工作。
func WithLLMClient(client llm.Client) Option {
	return func(a *Agent) {
		a.llmClient = client
	}
}

// WithExecutor 设置工具执行器。
func WithExecutor(executor *Executor) Option {
	return func(a *Agent) {
		a.executor = executor
	}
}

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// WithHTTPClient 设置发送 webhook 使用的客户端。
func WithHTTPClient(client *http.Client) Option {
	return func(a *Agent) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// New 创建一个 Agent。
func New(manifest *codegen.Manifest, opts ...Option) *Agent {
	ag := &Agent{
		manifest:   manifest,
		model:      manifest.LLM.Model,
		maxRounds:  manifest.LLM.MaxToolRounds,
		address:    Address(manifest.Agent.SeedPhrase, manifest.Agent.ID),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
		logger:     logger.Named("agent").With("agent_id", manifest.Agent.ID),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.maxRounds <= 0 {
		ag.maxRounds = defaultMaxToolRounds
	}
	if ag.executor == nil {
		ag.executor = NewExecutor(ExecutorOptions{Tools: manifest.Tools})
	}
	ag.tools = capability.ToolsFor(manifest.Capabilities)
	return ag
}

// Address 返回 agent 地址。
func (a *Agent) Address() string {
	return a.address
}

// Manifest 返回启动描述。
func (a *Agent) Manifest() *codegen.Manifest {
	return a.manifest
}

// Greeting 返回 /rest/get 的问候文本。
func (a *Agent) Greeting() string {
	if a.manifest.Agent.CompanyName == "" {
		return fmt.Sprintf("Hello from %s!", a.manifest.Agent.Name)
	}
	return fmt.Sprintf("Hello from %s for %s!", a.manifest.Agent.Name, a.manifest.Agent.CompanyName)
}

// systemPrompt 返回附带公司文档上下文的系统提示词。
func (a *Agent) systemPrompt() string {
	prompt := a.manifest.SystemPrompt
	if prompt == "" {
		prompt = fmt.Sprintf("You are %s, a helpful assistant.", a.manifest.Agent.Name)
	}
	if docs := strings.TrimSpace(a.manifest.Documents.Context); docs != "" {
		prompt += "\n\nCOMPANY DOCUMENTS:\n" + docs
	}
	return prompt
}

func (a *Agent) echo(message string) string {
	if a.manifest.Agent.CompanyName == "" {
		return fmt.Sprintf("%s received: %s", a.manifest.Agent.Name, message)
	}
	return fmt.Sprintf("%s for %s received: %s", a.manifest.Agent.Name, a.manifest.Agent.CompanyName, message)
}

// Respond 处理一条来自其他公司或用户的消息。
func (a *Agent) Respond(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "text is required")
	}
	if a.llmClient == nil {
		return a.echo(message), nil
	}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: a.systemPrompt()},
		{Role: llm.RoleUser, Content: message},
	}
	resp, err := a.converse(ctx, llm.ChatRequest{Model: a.model, Messages: messages})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// ChatOptions 是一次对话补全的调用参数。
type ChatOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	WebSearch   bool
	SessionID   string
}

// Chat 处理 OpenAI 兼容的多轮对话。
func (a *Agent) Chat(ctx context.Context, messages []llm.Message, opts ChatOptions) (*llm.ChatResponse, error) {
	if a.llmClient == nil {
		last := lastUserMessage(messages)
		if last == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "No user message found")
		}
		content := a.echo(last)
		if a.manifest.Agent.CompanyName != "" {
			content = fmt.Sprintf("%s (%s): %s", a.manifest.Agent.Name, a.manifest.Agent.CompanyName, content)
		}
		return &llm.ChatResponse{
			Model:        opts.Model,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
			FinishReason: "stop",
		}, nil
	}

	all := make([]llm.Message, 0, len(messages)+1)
	all = append(all, llm.Message{Role: llm.RoleSystem, Content: a.systemPrompt()})
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			continue
		}
		all = append(all, m)
	}
	model := opts.Model
	if model == "" {
		model = a.model
	}
	return a.converse(ctx, llm.ChatRequest{
		Model:       model,
		Messages:    all,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		WebSearch:   opts.WebSearch,
		SessionID:   opts.SessionID,
	})
}

func lastUserMessage(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser && strings.TrimSpace(messages[i].Content) != "" {
			return messages[i].Content
		}
	}
	return ""
}

// converse 执行工具调用循环：模型每返回一批工具调用就执行并回填结果，
// 超过轮数上限后不再提供工具，要求模型给出最终答复。
func (a *Agent) converse(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if req.Temperature == 0 {
		req.Temperature = a.manifest.LLM.Temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = a.manifest.LLM.MaxTokens
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = defaultMaxTokens
	}

	var usage llm.Usage
	for round := 0; ; round++ {
		if round < a.maxRounds {
			req.Tools = a.tools
		} else {
			req.Tools = nil
		}
		resp, err := a.call(ctx, req)
		if err != nil {
			return nil, err
		}
		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens
		usage.TotalTokens += resp.Usage.TotalTokens
		if len(resp.Message.ToolCalls) == 0 || req.Tools == nil {
			resp.Usage = usage
			return resp, nil
		}

		req.Messages = append(req.Messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Message.Content,
			ToolCalls: resp.Message.ToolCalls,
		})
		for _, call := range resp.Message.ToolCalls {
			a.logger.Info("executing tool", "tool", call.Function.Name, "round", round+1)
			req.Messages = append(req.Messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    a.executor.Execute(ctx, call),
				ToolCallID: call.ID,
			})
		}
	}
}

func (a *Agent) call(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}
	resp, err := a.llmClient.Chat(llmCtx, req)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "大模型推理失败")
	}
	if resp == nil {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "大模型返回空响应")
	}
	return resp, nil
}
