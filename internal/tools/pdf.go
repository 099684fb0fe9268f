package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

const (
	// DefaultPDFMaxLength 是 PDF 文本的默认截断长度。
	DefaultPDFMaxLength = 50000
	maxPDFDownload      = 50 << 20
)

// PDFReader 读取本地或远程 PDF 的文本内容。
type PDFReader struct {
	client *http.Client
	now    func() time.Time
}

// NewPDFReader 创建读取器，client 为空时使用 60 秒超时的默认客户端。
func NewPDFReader(client *http.Client) *PDFReader {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &PDFReader{client: client, now: time.Now}
}

// ReadFile 读取本地 PDF。
func (r *PDFReader) ReadFile(path string, maxLength int) Result {
	info, err := os.Stat(path)
	if err != nil {
		res := failure(fmt.Sprintf("File not found: %s", path))
		res.FilePath = path
		return res
	}
	if !strings.HasSuffix(strings.ToLower(path), ".pdf") {
		res := failure("File is not a PDF")
		res.FilePath = path
		return res
	}
	data, err := os.ReadFile(path)
	if err != nil {
		res := failure(fmt.Sprintf("Failed to read PDF: %v", err))
		res.FilePath = path
		return res
	}
	res := r.parse(data, maxLength, "Failed to read PDF")
	res.FilePath = path
	if res.Success {
		res.Metadata["file_path"] = path
		res.Metadata["file_size"] = info.Size()
	}
	return res
}

// ReadBytes 解析内存中的 PDF。
func (r *PDFReader) ReadBytes(data []byte, maxLength int) Result {
	res := r.parse(data, maxLength, "Failed to read PDF from bytes")
	if res.Success {
		res.Metadata["file_path"] = "from_bytes"
	}
	return res
}

// ReadURL 下载并解析远程 PDF，依据 Content-Type 或文件头判断格式。
func (r *PDFReader) ReadURL(ctx context.Context, rawURL string, maxLength int) Result {
	res := r.readURL(ctx, rawURL, maxLength)
	res.URL = rawURL
	return res
}

func (r *PDFReader) readURL(ctx context.Context, rawURL string, maxLength int) Result {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return failure("Invalid URL format")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return failure(fmt.Sprintf("Failed to read PDF from URL: %v", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/pdf,*/*")

	resp, err := r.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return failure("Request timeout - the PDF took too long to download")
		}
		return failure(fmt.Sprintf("Failed to read PDF from URL: %v", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failure(fmt.Sprintf("HTTP error %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFDownload+1))
	if err != nil {
		if isTimeout(err) {
			return failure("Request timeout - the PDF took too long to download")
		}
		return failure(fmt.Sprintf("Failed to read PDF from URL: %v", err))
	}
	if len(data) > maxPDFDownload {
		return failure("PDF exceeds the maximum download size")
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if !strings.Contains(mediaType, "pdf") && !bytes.HasPrefix(data, []byte("%PDF-")) {
		return failure(fmt.Sprintf("URL does not point to a PDF file (content-type: %s)", contentType))
	}

	res := r.parse(data, maxLength, "Failed to read PDF from URL")
	if res.Success {
		res.FileSize = int64(len(data))
		res.Metadata["source_url"] = rawURL
		res.Metadata["file_size"] = len(data)
		res.Metadata["content_type"] = contentType
		res.Metadata["processed_at"] = r.now().UTC().Format(time.RFC3339)
	}
	return res
}

// SearchFile 在本地 PDF 中检索关键词。
func (r *PDFReader) SearchFile(path string, terms []string, maxLength int) Result {
	if maxLength <= 0 {
		maxLength = 10000
	}
	read := r.ReadFile(path, maxLength)
	if !read.Success {
		return read
	}
	hits, found := SearchTerms(read.Content, terms, 300)
	return Result{
		Success:            true,
		FilePath:           path,
		SearchResults:      hits,
		TotalTermsSearched: len(terms),
		TermsFound:         found,
		PageCount:          read.PageCount,
	}
}

// ExtractPages 提取指定页（从 1 开始），pages 为空时提取全部。
func (r *PDFReader) ExtractPages(path string, pages []int) (res Result) {
	res.FilePath = path
	if _, err := os.Stat(path); err != nil {
		res.Error = fmt.Sprintf("File not found: %s", path)
		return res
	}
	data, err := os.ReadFile(path)
	if err != nil {
		res.Error = fmt.Sprintf("Failed to extract PDF pages: %v", err)
		return res
	}
	defer func() {
		if rec := recover(); rec != nil {
			res = Result{FilePath: path, Error: fmt.Sprintf("Failed to extract PDF pages: %v", rec)}
		}
	}()
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		res.Error = fmt.Sprintf("Failed to extract PDF pages: %v", err)
		return res
	}
	total := doc.NumPage()
	if len(pages) == 0 {
		for i := 1; i <= total; i++ {
			pages = append(pages, i)
		}
	}
	extracted := []PageText{}
	invalid := []int{}
	for _, n := range pages {
		if n < 1 || n > total {
			invalid = append(invalid, n)
			continue
		}
		extracted = append(extracted, pageText(doc, n))
	}
	return Result{
		Success:         true,
		FilePath:        path,
		ExtractedPages:  extracted,
		TotalPagesInPDF: total,
		PagesRequested:  len(pages),
		PagesExtracted:  len(extracted),
		InvalidPages:    invalid,
	}
}

func (r *PDFReader) parse(data []byte, maxLength int, prefix string) (res Result) {
	if maxLength <= 0 {
		maxLength = DefaultPDFMaxLength
	}
	defer func() {
		if rec := recover(); rec != nil {
			res = failure(fmt.Sprintf("%s: %v", prefix, rec))
		}
	}()
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return failure(fmt.Sprintf("%s: %v", prefix, err))
	}

	var full strings.Builder
	pages := make([]PageText, 0, doc.NumPage())
	for i := 1; i <= doc.NumPage(); i++ {
		page := pageText(doc, i)
		if page.Error == "" && page.Text == "" {
			continue
		}
		pages = append(pages, page)
		if page.Text != "" {
			full.WriteString(page.Text)
			full.WriteString("\n")
		}
	}

	content := Truncate(CleanText(full.String()), maxLength)
	return Result{
		Success:             true,
		Content:             content,
		Metadata:            documentInfo(doc, len(data)),
		PageCount:           doc.NumPage(),
		PageTexts:           pages,
		ContentLength:       len([]rune(content)),
		TotalPagesProcessed: len(pages),
		FileSize:            int64(len(data)),
	}
}

func pageText(doc *pdf.Reader, n int) (out PageText) {
	out.PageNumber = n
	defer func() {
		if rec := recover(); rec != nil {
			out = PageText{PageNumber: n, Error: fmt.Sprint(rec)}
		}
	}()
	page := doc.Page(n)
	if page.V.IsNull() {
		return out
	}
	fonts := make(map[string]*pdf.Font)
	for _, name := range page.Fonts() {
		font := page.Font(name)
		fonts[name] = &font
	}
	text, err := page.GetPlainText(fonts)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Text = text
	out.Length = len([]rune(text))
	return out
}

var infoKeys = map[string]string{
	"Title":        "title",
	"Author":       "author",
	"Subject":      "subject",
	"Creator":      "creator",
	"Producer":     "producer",
	"CreationDate": "creation_date",
	"ModDate":      "modification_date",
}

func documentInfo(doc *pdf.Reader, size int) map[string]any {
	meta := map[string]any{"file_size": size}
	info := doc.Trailer().Key("Info")
	if info.IsNull() {
		return meta
	}
	for key, field := range infoKeys {
		if v := info.Key(key); !v.IsNull() {
			meta[field] = v.Text()
		}
	}
	return meta
}
