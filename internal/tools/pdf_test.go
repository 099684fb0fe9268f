package tools

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF 生成一个每页一行文本的最小 PDF。
func buildPDF(title string, pages ...string) []byte {
	var objects []string
	pageCount := len(pages)
	fontID := 3 + 2*pageCount
	infoID := fontID + 1

	kids := make([]string, pageCount)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}
	objects = append(objects, "<< /Type /Catalog /Pages 2 0 R >>")
	objects = append(objects, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pageCount))
	for i, text := range pages {
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		objects = append(objects, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>",
			fontID, 4+2*i))
		objects = append(objects, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}
	objects = append(objects, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	objects = append(objects, fmt.Sprintf("<< /Title (%s) /Author (AgentHub) >>", title))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, infoID, xref)
	return buf.Bytes()
}

func writePDF(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestPDFReadFile(t *testing.T) {
	path := writePDF(t, "policy.pdf", buildPDF("Refund Policy", "Refunds are processed within seven days", "Contact support for escalations"))

	res := NewPDFReader(nil).ReadFile(path, 0)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 2, res.PageCount)
	assert.Equal(t, 2, res.TotalPagesProcessed)
	assert.Contains(t, res.Content, "seven days")
	assert.Contains(t, res.Content, "escalations")
	assert.NotContains(t, res.Content, "\n")
	assert.Equal(t, "Refund Policy", res.Metadata["title"])
	assert.Equal(t, path, res.Metadata["file_path"])
	assert.Equal(t, 1, res.PageTexts[0].PageNumber)
}

func TestPDFReadFileTruncates(t *testing.T) {
	path := writePDF(t, "long.pdf", buildPDF("Long", "abcdefghijklmnopqrstuvwxyz"))
	res := NewPDFReader(nil).ReadFile(path, 10)
	require.True(t, res.Success, res.Error)
	assert.True(t, strings.HasSuffix(res.Content, "..."))
	assert.Equal(t, 13, res.ContentLength)
}

func TestPDFReadFileFailures(t *testing.T) {
	reader := NewPDFReader(nil)

	res := reader.ReadFile("/nonexistent/file.pdf", 0)
	assert.False(t, res.Success)
	assert.Equal(t, "File not found: /nonexistent/file.pdf", res.Error)

	txt := writePDF(t, "notes.txt", []byte("plain"))
	res = reader.ReadFile(txt, 0)
	assert.False(t, res.Success)
	assert.Equal(t, "File is not a PDF", res.Error)

	broken := writePDF(t, "broken.pdf", []byte("not really a pdf"))
	res = reader.ReadFile(broken, 0)
	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Error, "Failed to read PDF"), res.Error)
}

func TestPDFReadBytes(t *testing.T) {
	res := NewPDFReader(nil).ReadBytes(buildPDF("Bytes", "in memory document"), 0)
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Content, "in memory document")
	assert.Equal(t, "from_bytes", res.Metadata["file_path"])

	res = NewPDFReader(nil).ReadBytes([]byte("garbage"), 0)
	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Error, "Failed to read PDF from bytes"))
}

func TestPDFSearchFile(t *testing.T) {
	path := writePDF(t, "faq.pdf", buildPDF("FAQ", "Wallet refunds require a transaction hash"))
	res := NewPDFReader(nil).SearchFile(path, []string{"transaction", "missing"}, 0)
	require.True(t, res.Success)
	assert.Equal(t, 2, res.TotalTermsSearched)
	assert.Equal(t, 1, res.TermsFound)
	assert.True(t, res.SearchResults["transaction"].Found)
	assert.Contains(t, *res.SearchResults["transaction"].Context, "transaction hash")
	assert.False(t, res.SearchResults["missing"].Found)
	assert.Nil(t, res.SearchResults["missing"].Context)
}

func TestPDFExtractPages(t *testing.T) {
	path := writePDF(t, "three.pdf", buildPDF("Three", "first page", "second page", "third page"))
	res := NewPDFReader(nil).ExtractPages(path, []int{2, 7})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 3, res.TotalPagesInPDF)
	assert.Equal(t, 2, res.PagesRequested)
	assert.Equal(t, 1, res.PagesExtracted)
	assert.Equal(t, []int{7}, res.InvalidPages)
	assert.Contains(t, res.ExtractedPages[0].Text, "second page")
}

func TestPDFReadURL(t *testing.T) {
	doc := buildPDF("Remote", "remote policy text")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/doc.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write(doc)
		case "/octet":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(doc)
		case "/page.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		case "/slow.pdf":
			time.Sleep(200 * time.Millisecond)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	reader := NewPDFReader(&http.Client{Timeout: 50 * time.Millisecond})
	ctx := context.Background()

	res := reader.ReadURL(ctx, srv.URL+"/doc.pdf", 0)
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Content, "remote policy text")
	assert.Equal(t, srv.URL+"/doc.pdf", res.Metadata["source_url"])
	assert.Equal(t, int64(len(doc)), res.FileSize)

	res = reader.ReadURL(ctx, srv.URL+"/octet", 0)
	assert.True(t, res.Success, res.Error)

	res = reader.ReadURL(ctx, srv.URL+"/page.html", 0)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "URL does not point to a PDF file")

	res = reader.ReadURL(ctx, srv.URL+"/missing.pdf", 0)
	assert.Equal(t, "HTTP error 404: Not Found", res.Error)

	res = reader.ReadURL(ctx, srv.URL+"/slow.pdf", 0)
	assert.Equal(t, "Request timeout - the PDF took too long to download", res.Error)

	res = reader.ReadURL(ctx, "not a url", 0)
	assert.Equal(t, "Invalid URL format", res.Error)
}
