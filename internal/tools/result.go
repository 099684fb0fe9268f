package tools

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Result 是 PDF 与网页读取器共用的返回结构。
type Result struct {
	Success             bool                 `json:"success"`
	Error               string               `json:"error,omitempty"`
	URL                 string               `json:"url,omitempty"`
	FilePath            string               `json:"file_path,omitempty"`
	Title               string               `json:"title,omitempty"`
	Content             string               `json:"content,omitempty"`
	Metadata            map[string]any       `json:"metadata,omitempty"`
	PageCount           int                  `json:"page_count,omitempty"`
	PageTexts           []PageText           `json:"page_texts,omitempty"`
	ContentLength       int                  `json:"content_length,omitempty"`
	TotalPagesProcessed int                  `json:"total_pages_processed,omitempty"`
	FileSize            int64                `json:"file_size,omitempty"`
	StatusCode          int                  `json:"status_code,omitempty"`
	SearchResults       map[string]SearchHit `json:"search_results,omitempty"`
	TotalTermsSearched  int                  `json:"total_terms_searched,omitempty"`
	TermsFound          int                  `json:"terms_found,omitempty"`
	Links               []Link               `json:"links,omitempty"`
	TotalLinks          int                  `json:"total_links,omitempty"`
	FilteredByDomain    *bool                `json:"filtered_by_domain,omitempty"`
	ExtractedPages      []PageText           `json:"extracted_pages,omitempty"`
	TotalPagesInPDF     int                  `json:"total_pages_in_pdf,omitempty"`
	PagesRequested      int                  `json:"pages_requested,omitempty"`
	PagesExtracted      int                  `json:"pages_extracted,omitempty"`
	InvalidPages        []int                `json:"invalid_pages,omitempty"`
}

// PageText 是单页提取结果。
type PageText struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
	Length     int    `json:"length"`
	Error      string `json:"error,omitempty"`
}

// SearchHit 是单个检索词的匹配情况。
type SearchHit struct {
	Found    bool    `json:"found"`
	Context  *string `json:"context"`
	Position int     `json:"position"`
}

// Link 是网页中的超链接。
type Link struct {
	URL    string `json:"url"`
	Text   string `json:"text"`
	Domain string `json:"domain"`
}

func failure(msg string) Result {
	return Result{Error: msg}
}

var whitespace = regexp.MustCompile(`\s+`)

// CleanText 折叠连续空白并去除首尾空白。
func CleanText(text string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

// Truncate 按字符数截断并追加省略号。
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max]) + "..."
}

// SearchTerms 在 content 中大小写不敏感地查找每个检索词，返回前后 window 个字节的上下文。
// Position 是命中位置在原文中的字节偏移。
func SearchTerms(content string, terms []string, window int) (map[string]SearchHit, int) {
	hits := make(map[string]SearchHit, len(terms))
	found := 0
	for _, term := range terms {
		loc := matchFold(content, term)
		if loc == nil {
			hits[term] = SearchHit{Position: -1}
			continue
		}
		start := max(loc[0]-window, 0)
		end := min(loc[1]+window, len(content))
		if start > end {
			start = end
		}
		context := strings.TrimSpace(strings.ToValidUTF8(content[start:end], ""))
		hits[term] = SearchHit{Found: true, Context: &context, Position: loc[0]}
		found++
	}
	return hits, found
}

// matchFold 返回 term 在 content 中首次出现的 [start, end) 字节区间。
func matchFold(content, term string) []int {
	if strings.TrimSpace(term) == "" {
		return nil
	}
	return regexp.MustCompile("(?i)" + regexp.QuoteMeta(term)).FindStringIndex(content)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
