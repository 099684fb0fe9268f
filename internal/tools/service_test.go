package tools

import (
	"context"
	"net/http"
	"testing"

	xerrors "AgentHub/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessWebpageRequest(t *testing.T) {
	srv := newPageServer(t)
	svc := NewService(nil)
	ctx := context.Background()

	_, err := svc.ProcessWebpageRequest(ctx, WebpageRequest{})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, xerrors.HTTPStatus(err))
	assert.Equal(t, "URL is required", xerrors.MessageOf(err))

	_, err = svc.ProcessWebpageRequest(ctx, WebpageRequest{URL: srv.URL + "/article", Action: "search"})
	assert.Equal(t, "Search terms are required for search action", xerrors.MessageOf(err))

	_, err = svc.ProcessWebpageRequest(ctx, WebpageRequest{URL: srv.URL + "/article", Action: "screenshot"})
	assert.Equal(t, "Unknown action: screenshot", xerrors.MessageOf(err))

	res, err := svc.ProcessWebpageRequest(ctx, WebpageRequest{URL: srv.URL + "/article"})
	require.NoError(t, err)
	assert.Equal(t, "Acme Support", res.Title)

	res, err = svc.ProcessWebpageRequest(ctx, WebpageRequest{URL: srv.URL + "/article", Action: "extract_links"})
	require.NoError(t, err)
	assert.True(t, *res.FilteredByDomain)
	assert.Equal(t, 2, res.TotalLinks)
}

func TestProcessPDFRequest(t *testing.T) {
	svc := NewService(nil)
	ctx := context.Background()

	_, err := svc.ProcessPDFRequest(ctx, PDFRequest{URL: " "})
	assert.Equal(t, http.StatusBadRequest, xerrors.HTTPStatus(err))

	_, err = svc.ProcessPDFRequest(ctx, PDFRequest{URL: "https://example.com/a.pdf", Action: "search"})
	assert.Equal(t, "Unknown action: search. Only 'read' is supported for URL-based PDFs", xerrors.MessageOf(err))

	res, err := svc.ProcessPDFRequest(ctx, PDFRequest{URL: "relative/path.pdf"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid URL format", res.Error)
}

func TestProcessCalculationAndCapabilities(t *testing.T) {
	svc := NewService(nil)

	_, err := svc.ProcessCalculation(CalculationRequest{Expression: "  "})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	calc, err := svc.ProcessCalculation(CalculationRequest{Expression: "6*7"})
	require.NoError(t, err)
	assert.Equal(t, "42", calc.Result)

	caps := svc.Capabilities()
	assert.Equal(t, []string{"read_pdf_from_url"}, caps["pdf_reader"].Capabilities)
	assert.Equal(t, 10000, caps["webpage_reader"].MaxContentLength)
	assert.Contains(t, caps, "calculator")
}
