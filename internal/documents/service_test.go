package documents

import (
	"context"
	"net/http"
	"strings"
	"testing"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReader map[string]tools.Result

func (s stubReader) ReadURL(_ context.Context, url string, maxLength int) tools.Result {
	res, ok := s[url]
	if !ok {
		return tools.Result{Error: "HTTP error 404: Not Found"}
	}
	res.Content = tools.Truncate(res.Content, maxLength)
	return res
}

func fixture() stubReader {
	return stubReader{
		"https://acme.test/policy.pdf": {
			Success:   true,
			Content:   "Refunds are processed within seven days of the request.",
			PageCount: 2,
			FileSize:  1024,
			Metadata:  map[string]any{"processed_at": "2024-01-01T00:00:00Z"},
		},
		"https://acme.test/terms.pdf": {
			Success:   true,
			Content:   "Escalations go to a human operator.",
			PageCount: 1,
			FileSize:  512,
			Metadata:  map[string]any{},
		},
		"https://acme.test/empty.pdf": {Success: true, Metadata: map[string]any{}},
	}
}

func TestProcessURL(t *testing.T) {
	svc := NewService(fixture())
	res, err := svc.ProcessURL(context.Background(), "https://acme.test/policy.pdf", 0)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.DocumentID)

	doc, err := svc.Get(res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "processed", doc.Status)
	assert.Equal(t, "2024-01-01T00:00:00Z", doc.ProcessedAt)
	assert.Equal(t, 2, doc.PageCount)

	_, err = svc.ProcessURL(context.Background(), "https://acme.test/missing.pdf", 0)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, xerrors.HTTPStatus(err))
	assert.Equal(t, "Failed to process PDF: HTTP error 404: Not Found", xerrors.MessageOf(err))
}

func TestProcessMany(t *testing.T) {
	svc := NewService(fixture())
	urls := []string{"https://acme.test/policy.pdf", "https://acme.test/missing.pdf", "https://acme.test/terms.pdf", "https://acme.test/empty.pdf"}

	res, err := svc.ProcessMany(context.Background(), urls, 0)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 2, *res.ProcessedDocsCount)
	assert.Equal(t, 4, *res.TotalDocsAttempted)
	assert.Equal(t, 3, res.PageCount)
	assert.Equal(t, int64(1536), res.FileSize)
	assert.True(t, strings.HasPrefix(res.Content, "\n\n--- DOCUMENT 1: https://acme.test/policy.pdf ---\n"))
	assert.Contains(t, res.Content, "--- DOCUMENT 3: https://acme.test/terms.pdf ---")
	assert.Contains(t, res.Content, "\n--- END DOCUMENT 3 ---\n")

	doc, err := svc.Get(res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "combined_4_documents", doc.URL)
	assert.Equal(t, urls, doc.Metadata["source_urls"])

	// 单文档处理也会各自入库
	assert.Equal(t, 3+1, svc.List().TotalDocuments)
}

func TestProcessManyNothingExtracted(t *testing.T) {
	svc := NewService(fixture())
	res, err := svc.ProcessMany(context.Background(), []string{"https://acme.test/empty.pdf", "https://acme.test/nope.pdf"}, 0)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "No content could be extracted from any of the provided PDFs", res.Error)
}

func TestSearchListDelete(t *testing.T) {
	svc := NewService(fixture())
	res, err := svc.ProcessURL(context.Background(), "https://acme.test/policy.pdf", 0)
	require.NoError(t, err)

	found, err := svc.Search(res.DocumentID, []string{"SEVEN", "warranty"})
	require.NoError(t, err)
	assert.Equal(t, 1, found.TermsFound)
	assert.Equal(t, "Refunds are processed within seven days of the request.", *found.SearchResults["SEVEN"].Context)

	_, err = svc.Search("unknown", nil)
	assert.Equal(t, xerrors.CodeNotFound, xerrors.CodeOf(err))

	msg, err := svc.Delete(res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "Document "+res.DocumentID+" deleted successfully", msg["message"])
	assert.Zero(t, svc.List().TotalDocuments)

	_, err = svc.Delete(res.DocumentID)
	assert.Equal(t, "Document not found", xerrors.MessageOf(err))
}
