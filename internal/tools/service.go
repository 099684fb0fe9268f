package tools

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	xerrors "AgentHub/internal/errors"
)

// WebpageRequest 是代理发起的网页读取请求。
type WebpageRequest struct {
	URL          string   `json:"url"`
	Action       string   `json:"action,omitempty"`
	MaxLength    int      `json:"max_length,omitempty"`
	SearchTerms  []string `json:"search_terms,omitempty"`
	FilterDomain *bool    `json:"filter_domain,omitempty"`
}

// PDFRequest 是代理发起的 PDF 读取请求。
type PDFRequest struct {
	URL       string `json:"url"`
	Action    string `json:"action,omitempty"`
	MaxLength int    `json:"max_length,omitempty"`
}

// CalculationRequest 是计算器请求。
type CalculationRequest struct {
	Expression string `json:"expression"`
}

// Capability 描述单个工具的能力。
type Capability struct {
	Description      string   `json:"description"`
	Capabilities     []string `json:"capabilities"`
	SupportedFormats []string `json:"supported_formats"`
	MaxContentLength int      `json:"max_content_length"`
}

// Service 聚合网页、PDF 与计算器工具。
type Service struct {
	Webpages *WebpageReader
	PDFs     *PDFReader
}

// NewService 使用给定 HTTP 客户端构造工具服务。
func NewService(client *http.Client) *Service {
	return &Service{
		Webpages: NewWebpageReader(client),
		PDFs:     NewPDFReader(client),
	}
}

// ProcessWebpageRequest 按 action 分派网页请求，默认 read。
func (s *Service) ProcessWebpageRequest(ctx context.Context, req WebpageRequest) (Result, error) {
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return Result{}, xerrors.New(xerrors.CodeInvalidArgument, "URL is required")
	}
	action := req.Action
	if action == "" {
		action = "read"
	}
	switch action {
	case "read":
		return s.Webpages.Read(ctx, url, orDefault(req.MaxLength, DefaultWebpageMaxLength)), nil
	case "search":
		if len(req.SearchTerms) == 0 {
			return Result{}, xerrors.New(xerrors.CodeInvalidArgument, "Search terms are required for search action")
		}
		return s.Webpages.Search(ctx, url, req.SearchTerms, orDefault(req.MaxLength, DefaultWebpageMaxLength)), nil
	case "extract_links":
		filter := true
		if req.FilterDomain != nil {
			filter = *req.FilterDomain
		}
		return s.Webpages.ExtractLinks(ctx, url, filter), nil
	default:
		return Result{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("Unknown action: %s", action))
	}
}

// ProcessPDFRequest 处理基于 URL 的 PDF 请求，仅支持 read。
func (s *Service) ProcessPDFRequest(ctx context.Context, req PDFRequest) (Result, error) {
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return Result{}, xerrors.New(xerrors.CodeInvalidArgument, "URL is required")
	}
	action := req.Action
	if action == "" {
		action = "read"
	}
	if action != "read" {
		return Result{}, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("Unknown action: %s. Only 'read' is supported for URL-based PDFs", action))
	}
	return s.PDFs.ReadURL(ctx, url, orDefault(req.MaxLength, DefaultPDFMaxLength)), nil
}

// ProcessCalculation 校验并执行计算请求。
func (s *Service) ProcessCalculation(req CalculationRequest) (Calculation, error) {
	if strings.TrimSpace(req.Expression) == "" {
		return Calculation{}, xerrors.New(xerrors.CodeInvalidArgument, "Expression is required")
	}
	return Calculate(req.Expression), nil
}

// Capabilities 返回工具能力说明。
func (s *Service) Capabilities() map[string]Capability {
	return map[string]Capability{
		"webpage_reader": {
			Description:      "Read and extract content from web pages",
			Capabilities:     []string{"read_webpage", "search_webpage_content", "extract_links"},
			SupportedFormats: []string{"html", "text"},
			MaxContentLength: DefaultWebpageMaxLength,
		},
		"pdf_reader": {
			Description:      "Read and extract content from PDF files via URL",
			Capabilities:     []string{"read_pdf_from_url"},
			SupportedFormats: []string{"pdf"},
			MaxContentLength: DefaultPDFMaxLength,
		},
		"calculator": {
			Description:      "Evaluate arithmetic expressions with common math functions",
			Capabilities:     []string{"calculate"},
			SupportedFormats: []string{"text"},
			MaxContentLength: maxExpressionLength,
		},
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
