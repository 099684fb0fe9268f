package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"AgentHub/internal/capability"
	"AgentHub/internal/knowledge"
	"AgentHub/internal/llm"
	"AgentHub/internal/refund"
	"AgentHub/internal/tools"
	"AgentHub/internal/verifier"
	"AgentHub/pkg/logger"
)

// RefundProcessor 是执行器使用的退款能力。
type RefundProcessor interface {
	ProcessRefund(ctx context.Context, req refund.Request) refund.Result
	ValidateRefundRequest(ctx context.Context, req refund.Request) refund.Validation
	ProcessOverpaymentRefund(ctx context.Context, req refund.OverpaymentRequest) refund.Result
}

// PDFSource 读取不在知识库中的远程文档。
type PDFSource interface {
	ReadURL(ctx context.Context, rawURL string, maxLength int) tools.Result
}

// ExecutorOptions 组装工具执行器。
type ExecutorOptions struct {
	// Tools 是 manifest 中启用的工具名，未启用的工具按未知工具处理。
	Tools     []string
	Knowledge *knowledge.StaticProvider
	PDFs      PDFSource
	Verifier  verifier.Verifier
	Refunds   RefundProcessor
	Logger    *slog.Logger
}

// Executor 按名称分发模型发起的工具调用。
type Executor struct {
	enabled   map[string]struct{}
	knowledge *knowledge.StaticProvider
	pdfs      PDFSource
	verifier  verifier.Verifier
	refunds   RefundProcessor
	logger    *slog.Logger
}

// NewExecutor 创建工具执行器。
func NewExecutor(opts ExecutorOptions) *Executor {
	enabled := make(map[string]struct{}, len(opts.Tools))
	for _, name := range opts.Tools {
		enabled[name] = struct{}{}
	}
	log := opts.Logger
	if log == nil {
		log = logger.Named("agent.tools")
	}
	return &Executor{
		enabled:   enabled,
		knowledge: opts.Knowledge,
		pdfs:      opts.PDFs,
		verifier:  opts.Verifier,
		refunds:   opts.Refunds,
		logger:    log,
	}
}

// Execute 执行一次工具调用并返回交给模型的文本，失败也以文本形式返回。
func (e *Executor) Execute(ctx context.Context, call llm.ToolCall) string {
	name := call.Function.Name
	if _, ok := e.enabled[name]; !ok {
		return fmt.Sprintf("Error: Unknown tool '%s'", name)
	}

	var (
		out any
		err error
	)
	switch name {
	case capability.ToolCalculate:
		out, err = e.calculate(call)
	case capability.ToolSearchDocuments:
		out, err = e.searchDocuments(ctx, call)
	case capability.ToolVerifyTransaction:
		out, err = e.verifyTransaction(ctx, call)
	case capability.ToolProcessRefund:
		out, err = e.processRefund(ctx, call)
	case capability.ToolValidateRefund:
		out, err = e.validateRefund(ctx, call)
	case capability.ToolOverpaymentRefund:
		out, err = e.overpaymentRefund(ctx, call)
	default:
		return fmt.Sprintf("Error: Unknown tool '%s'", name)
	}
	if err != nil {
		e.logger.Warn("tool execution failed", "tool", name, "error", err)
		return fmt.Sprintf("Error executing %s: %v", name, err)
	}
	if text, ok := out.(string); ok {
		return text
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf("Error executing %s: %v", name, err)
	}
	return string(data)
}

type calculateArgs struct {
	Expression string `json:"expression"`
}

func (e *Executor) calculate(call llm.ToolCall) (any, error) {
	var args calculateArgs
	if err := call.Function.DecodeArguments(&args); err != nil {
		return nil, err
	}
	return tools.Calculate(args.Expression).Text(), nil
}

type searchArgs struct {
	SearchTerms  []string `json:"search_terms"`
	DocumentURLs []string `json:"document_urls"`
}

type searchResult struct {
	Success           bool              `json:"success"`
	Error             string            `json:"error,omitempty"`
	SearchTerms       []string          `json:"search_terms"`
	DocumentsSearched int               `json:"documents_searched"`
	Results           []knowledge.Match `json:"results"`
	TotalMatches      int               `json:"total_matches"`
}

func (e *Executor) searchDocuments(ctx context.Context, call llm.ToolCall) (any, error) {
	var args searchArgs
	if err := call.Function.DecodeArguments(&args); err != nil {
		return nil, err
	}
	if len(args.SearchTerms) == 0 {
		return nil, errors.New("search_terms is required")
	}

	out := searchResult{SearchTerms: args.SearchTerms, Results: []knowledge.Match{}}
	known := make(map[string]struct{})
	for _, s := range e.knowledge.Sources() {
		known[s] = struct{}{}
	}
	out.DocumentsSearched = e.knowledge.Len()
	if len(args.DocumentURLs) > 0 {
		out.DocumentsSearched = 0
		for _, u := range args.DocumentURLs {
			if _, ok := known[u]; ok {
				out.DocumentsSearched++
			}
		}
	}
	out.Results = append(out.Results, e.knowledge.Query(args.SearchTerms, args.DocumentURLs)...)

	for _, u := range args.DocumentURLs {
		if _, ok := known[u]; ok || e.pdfs == nil {
			continue
		}
		res := e.pdfs.ReadURL(ctx, u, tools.DefaultPDFMaxLength)
		if !res.Success {
			e.logger.Warn("read document for search failed", "url", u, "error", res.Error)
			continue
		}
		out.DocumentsSearched++
		hits, found := tools.SearchTerms(res.Content, args.SearchTerms, knowledge.DefaultWindow)
		if found > 0 {
			out.Results = append(out.Results, knowledge.Match{Title: res.Title, Source: u, Hits: hits, Matched: found})
		}
	}

	if out.DocumentsSearched == 0 {
		out.Error = "No company documents available to search"
		return out, nil
	}
	out.Success = true
	for _, r := range out.Results {
		out.TotalMatches += r.Matched
	}
	return out, nil
}

type verifyArgs struct {
	TxHash       string `json:"tx_hash"`
	ChainName    string `json:"chain_name"`
	FromAddress  string `json:"from_address"`
	ToAddress    string `json:"to_address"`
	TokenAddress string `json:"token_address"`
	Amount       string `json:"amount"`
	IsNative     bool   `json:"is_native"`
}

func (e *Executor) verifyTransaction(ctx context.Context, call llm.ToolCall) (any, error) {
	if e.verifier == nil {
		return nil, errors.New("transaction verification is not configured")
	}
	var args verifyArgs
	if err := call.Function.DecodeArguments(&args); err != nil {
		return nil, err
	}
	return e.verifier.Verify(ctx, verifier.Request{
		TxHash:       args.TxHash,
		Chain:        args.ChainName,
		From:         args.FromAddress,
		To:           args.ToAddress,
		TokenAddress: args.TokenAddress,
		Amount:       args.Amount,
		Native:       args.IsNative,
	}), nil
}

func (e *Executor) processRefund(ctx context.Context, call llm.ToolCall) (any, error) {
	if e.refunds == nil {
		return nil, errors.New("refund processing is not configured")
	}
	var req refund.Request
	if err := call.Function.DecodeArguments(&req); err != nil {
		return nil, err
	}
	return e.refunds.ProcessRefund(ctx, req), nil
}

func (e *Executor) validateRefund(ctx context.Context, call llm.ToolCall) (any, error) {
	if e.refunds == nil {
		return nil, errors.New("refund processing is not configured")
	}
	var req refund.Request
	if err := call.Function.DecodeArguments(&req); err != nil {
		return nil, err
	}
	return e.refunds.ValidateRefundRequest(ctx, req), nil
}

func (e *Executor) overpaymentRefund(ctx context.Context, call llm.ToolCall) (any, error) {
	if e.refunds == nil {
		return nil, errors.New("refund processing is not configured")
	}
	var req refund.OverpaymentRequest
	if err := call.Function.DecodeArguments(&req); err != nil {
		return nil, err
	}
	return e.refunds.ProcessOverpaymentRefund(ctx, req), nil
}
