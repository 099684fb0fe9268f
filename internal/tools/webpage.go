package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultWebpageMaxLength 是网页正文的默认截断长度。
	DefaultWebpageMaxLength = 10000
	// DefaultWebpageSearchLength 是网页检索时读取的正文长度。
	DefaultWebpageSearchLength = 5000

	userAgent = "Mozilla/5.0 (compatible; AgentHub/1.0; +https://agenthub.local)"
)

var mainSelectors = []string{
	"main",
	"article",
	`[role="main"]`,
	".content",
	".main-content",
	".post-content",
	".entry-content",
}

// WebpageReader 抓取网页并抽取正文。
type WebpageReader struct {
	client *http.Client
}

// NewWebpageReader 创建网页读取器。
func NewWebpageReader(client *http.Client) *WebpageReader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebpageReader{client: client}
}

// Read 抓取网页并返回标题、正文与元数据。
func (r *WebpageReader) Read(ctx context.Context, rawURL string, maxLength int) Result {
	if maxLength <= 0 {
		maxLength = DefaultWebpageMaxLength
	}
	doc, base, status, res := r.fetch(ctx, rawURL)
	if doc == nil {
		res.URL = rawURL
		return res
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = "No title found"
	}
	metadata := pageMetadata(doc, base)

	doc.Find("script, style, nav, footer, header").Remove()
	content := CleanText(mainContent(doc).Text())
	content = Truncate(content, maxLength)

	return Result{
		Success:       true,
		URL:           rawURL,
		Title:         title,
		Content:       content,
		Metadata:      metadata,
		ContentLength: len([]rune(content)),
		StatusCode:    status,
	}
}

// Search 在网页正文中检索关键词，上下文为前后 200 个字符。
func (r *WebpageReader) Search(ctx context.Context, rawURL string, terms []string, maxLength int) Result {
	if maxLength <= 0 {
		maxLength = DefaultWebpageSearchLength
	}
	read := r.Read(ctx, rawURL, maxLength)
	if !read.Success {
		return read
	}
	hits, found := SearchTerms(read.Content, terms, 200)
	return Result{
		Success:            true,
		URL:                rawURL,
		Title:              read.Title,
		SearchResults:      hits,
		TotalTermsSearched: len(terms),
		TermsFound:         found,
	}
}

// ExtractLinks 返回页面内的超链接，filterDomain 为真时只保留同域链接。
func (r *WebpageReader) ExtractLinks(ctx context.Context, rawURL string, filterDomain bool) Result {
	doc, base, _, res := r.fetch(ctx, rawURL)
	if doc == nil {
		res.URL = rawURL
		return res
	}

	links := []Link{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		if filterDomain && abs.Host != base.Host {
			return
		}
		links = append(links, Link{
			URL:    abs.String(),
			Text:   CleanText(s.Text()),
			Domain: abs.Host,
		})
	})

	filtered := filterDomain
	return Result{
		Success:          true,
		URL:              rawURL,
		Links:            links,
		TotalLinks:       len(links),
		FilteredByDomain: &filtered,
	}
}

func (r *WebpageReader) fetch(ctx context.Context, rawURL string) (*goquery.Document, *url.URL, int, Result) {
	base, err := url.Parse(rawURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, nil, 0, failure("Invalid URL format")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, 0, failure(fmt.Sprintf("Failed to read webpage: %v", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := r.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, nil, 0, failure("Request timeout - the webpage took too long to load")
		}
		return nil, nil, 0, failure(fmt.Sprintf("Failed to read webpage: %v", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, resp.StatusCode, failure(fmt.Sprintf("HTTP error %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, nil, 0, failure("Request timeout - the webpage took too long to load")
		}
		return nil, nil, 0, failure(fmt.Sprintf("Failed to read webpage: %v", err))
	}
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}
	return doc, base, resp.StatusCode, Result{}
}

func mainContent(doc *goquery.Document) *goquery.Selection {
	for _, selector := range mainSelectors {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			return sel
		}
	}
	if body := doc.Find("body"); body.Length() > 0 {
		return body
	}
	return doc.Selection
}

func pageMetadata(doc *goquery.Document, base *url.URL) map[string]any {
	meta := map[string]any{
		"url":    base.String(),
		"domain": base.Host,
	}
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			name, ok = s.Attr("property")
		}
		content, hasContent := s.Attr("content")
		if ok && name != "" && hasContent {
			meta[name] = content
		}
	})
	meta["link_count"] = doc.Find("a[href]").Length()
	meta["image_count"] = doc.Find("img").Length()
	return meta
}
