// Package documents 缓存代理知识库中已解析的 PDF 文档，支持合并、检索与删除。
package documents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/tools"
	"AgentHub/pkg/logger"

	"github.com/google/uuid"
)

const (
	// DefaultMaxLength 是单个文档的默认截断长度。
	DefaultMaxLength = 50000
	// DefaultMaxLengthPerDocument 是合并处理时每个文档的截断长度。
	DefaultMaxLengthPerDocument = 20000

	searchWindow = 300
)

// Reader 从 URL 读取 PDF 文本。
type Reader interface {
	ReadURL(ctx context.Context, url string, maxLength int) tools.Result
}

// Document 是一份已解析的文档。
type Document struct {
	DocumentID    string         `json:"document_id"`
	URL           string         `json:"url"`
	Content       string         `json:"content"`
	Metadata      map[string]any `json:"metadata"`
	PageCount     int            `json:"page_count"`
	ContentLength int            `json:"content_length"`
	FileSize      int64          `json:"file_size"`
	ProcessedAt   string         `json:"processed_at"`
	Status        string         `json:"status"`
}

// Source 记录合并文档中单个来源的统计。
type Source struct {
	URL           string `json:"url"`
	ContentLength int    `json:"content_length"`
	PageCount     int    `json:"page_count"`
	FileSize      int64  `json:"file_size"`
}

// Processed 是处理接口的返回值。
type Processed struct {
	Success            bool           `json:"success"`
	Error              string         `json:"error,omitempty"`
	DocumentID         string         `json:"document_id,omitempty"`
	URL                string         `json:"url,omitempty"`
	Content            string         `json:"content,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	PageCount          int            `json:"page_count"`
	ContentLength      int            `json:"content_length"`
	FileSize           int64          `json:"file_size"`
	ProcessedDocs      []Source       `json:"processed_docs,omitempty"`
	ProcessedDocsCount *int           `json:"processed_docs_count,omitempty"`
	TotalDocsAttempted *int           `json:"total_docs_attempted,omitempty"`
}

// SearchResult 是文档检索结果。
type SearchResult struct {
	Success            bool                       `json:"success"`
	DocumentID         string                     `json:"document_id"`
	SearchResults      map[string]tools.SearchHit `json:"search_results"`
	TotalTermsSearched int                        `json:"total_terms_searched"`
	TermsFound         int                        `json:"terms_found"`
}

// Listing 是文档列表。
type Listing struct {
	TotalDocuments int        `json:"total_documents"`
	Documents      []Document `json:"documents"`
}

// Service 是进程内的文档缓存。
type Service struct {
	reader Reader
	now    func() time.Time
	logger *slog.Logger

	mu    sync.RWMutex
	docs  map[string]Document
	order []string
}

// NewService 创建文档服务。
func NewService(reader Reader) *Service {
	return &Service{
		reader: reader,
		now:    time.Now,
		logger: logger.Named("documents"),
		docs:   make(map[string]Document),
	}
}

// ProcessURL 下载并解析单个 PDF，失败时返回 INVALID_ARGUMENT。
func (s *Service) ProcessURL(ctx context.Context, url string, maxLength int) (Processed, error) {
	if strings.TrimSpace(url) == "" {
		return Processed{}, xerrors.New(xerrors.CodeInvalidArgument, "URL is required")
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	s.logger.Info("processing pdf", "url", url)
	res := s.reader.ReadURL(ctx, url, maxLength)
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "Unknown error"
		}
		s.logger.Warn("pdf processing failed", "url", url, "error", msg)
		return Processed{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("Failed to process PDF: %s", msg))
	}

	processedAt, _ := res.Metadata["processed_at"].(string)
	if processedAt == "" {
		processedAt = s.now().UTC().Format(time.RFC3339)
	}
	doc := Document{
		DocumentID:    uuid.NewString(),
		URL:           url,
		Content:       res.Content,
		Metadata:      res.Metadata,
		PageCount:     res.PageCount,
		ContentLength: res.ContentLength,
		FileSize:      res.FileSize,
		ProcessedAt:   processedAt,
		Status:        "processed",
	}
	s.store(doc)
	return Processed{
		Success:       true,
		DocumentID:    doc.DocumentID,
		URL:           url,
		Content:       doc.Content,
		Metadata:      doc.Metadata,
		PageCount:     doc.PageCount,
		ContentLength: doc.ContentLength,
		FileSize:      doc.FileSize,
	}, nil
}

// ProcessMany 依次处理多个 PDF 并合并为一份带分隔标记的文档。单个失败不会中断整体处理。
func (s *Service) ProcessMany(ctx context.Context, urls []string, maxLengthPerDocument int) (Processed, error) {
	if len(urls) == 0 {
		return Processed{}, xerrors.New(xerrors.CodeInvalidArgument, "At least one URL is required")
	}
	if maxLengthPerDocument <= 0 {
		maxLengthPerDocument = DefaultMaxLengthPerDocument
	}

	var combined strings.Builder
	sources := []Source{}
	totalPages := 0
	var totalSize int64
	for i, url := range urls {
		if err := ctx.Err(); err != nil {
			return Processed{}, xerrors.Wrap(xerrors.CodeTimeout, err, "Failed to process multiple PDFs")
		}
		res, err := s.ProcessURL(ctx, url, maxLengthPerDocument)
		if err != nil {
			s.logger.Warn("skip pdf", "url", url, "error", xerrors.MessageOf(err))
			continue
		}
		if res.Content == "" {
			s.logger.Warn("no content extracted", "url", url)
			continue
		}
		fmt.Fprintf(&combined, "\n\n--- DOCUMENT %d: %s ---\n%s\n--- END DOCUMENT %d ---\n", i+1, url, res.Content, i+1)
		sources = append(sources, Source{
			URL:           url,
			ContentLength: len([]rune(res.Content)),
			PageCount:     res.PageCount,
			FileSize:      res.FileSize,
		})
		totalPages += res.PageCount
		totalSize += res.FileSize
	}

	content := combined.String()
	if strings.TrimSpace(content) == "" {
		return Processed{
			Error:         "No content could be extracted from any of the provided PDFs",
			ProcessedDocs: sources,
		}, nil
	}

	processedAt := s.now().UTC().Format(time.RFC3339)
	metadata := map[string]any{
		"source_urls":    urls,
		"processed_docs": sources,
		"total_pages":    totalPages,
		"total_size":     totalSize,
		"processed_at":   processedAt,
	}
	doc := Document{
		DocumentID:    uuid.NewString(),
		URL:           fmt.Sprintf("combined_%d_documents", len(urls)),
		Content:       content,
		Metadata:      metadata,
		PageCount:     totalPages,
		ContentLength: len([]rune(content)),
		FileSize:      totalSize,
		ProcessedAt:   processedAt,
		Status:        "processed",
	}
	s.store(doc)
	s.logger.Info("combined pdfs", "processed", len(sources), "attempted", len(urls), "content_length", doc.ContentLength)

	count, attempted := len(sources), len(urls)
	return Processed{
		Success:            true,
		DocumentID:         doc.DocumentID,
		Content:            content,
		Metadata:           metadata,
		PageCount:          totalPages,
		ContentLength:      doc.ContentLength,
		FileSize:           totalSize,
		ProcessedDocsCount: &count,
		TotalDocsAttempted: &attempted,
	}, nil
}

// Get 返回文档内容。
func (s *Service) Get(id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return Document{}, errNotFound()
	}
	return doc, nil
}

// Search 在文档中检索关键词，上下文为前后 300 个字符。
func (s *Service) Search(id string, terms []string) (SearchResult, error) {
	doc, err := s.Get(id)
	if err != nil {
		return SearchResult{}, err
	}
	hits, found := tools.SearchTerms(doc.Content, terms, searchWindow)
	return SearchResult{
		Success:            true,
		DocumentID:         id,
		SearchResults:      hits,
		TotalTermsSearched: len(terms),
		TermsFound:         found,
	}, nil
}

// List 按处理顺序返回全部文档。
func (s *Service) List() Listing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]Document, 0, len(s.order))
	for _, id := range s.order {
		docs = append(docs, s.docs[id])
	}
	return Listing{TotalDocuments: len(docs), Documents: docs}
}

// Delete 删除文档。
func (s *Service) Delete(id string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return nil, errNotFound()
	}
	delete(s.docs, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return map[string]string{"message": fmt.Sprintf("Document %s deleted successfully", id)}, nil
}

func (s *Service) store(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.DocumentID] = doc
	s.order = append(s.order, doc.DocumentID)
}

func errNotFound() error {
	return xerrors.New(xerrors.CodeNotFound, "Document not found")
}
