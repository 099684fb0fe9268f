package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"AgentHub/internal/documents"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/tools"
)

func (s *Server) handleToolCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tools.Capabilities())
}

func (s *Server) handleCalculateQuery(w http.ResponseWriter, r *http.Request) {
	s.calculate(w, tools.CalculationRequest{Expression: r.URL.Query().Get("expression")})
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req tools.CalculationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.calculate(w, req)
}

func (s *Server) calculate(w http.ResponseWriter, req tools.CalculationRequest) {
	result, err := s.tools.ProcessCalculation(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReadPDFQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maxLength := tools.DefaultPDFMaxLength
	if raw := q.Get("max_length"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeDetail(w, http.StatusBadRequest, "max_length must be a positive integer")
			return
		}
		maxLength = v
	}
	s.readPDF(w, r, tools.PDFRequest{URL: q.Get("url"), Action: "read", MaxLength: maxLength})
}

func (s *Server) handleReadPDF(w http.ResponseWriter, r *http.Request) {
	var req tools.PDFRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.readPDF(w, r, req)
}

func (s *Server) readPDF(w http.ResponseWriter, r *http.Request, req tools.PDFRequest) {
	result, err := s.tools.ProcessPDFRequest(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReadWebpage(w http.ResponseWriter, r *http.Request) {
	var req tools.WebpageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.tools.ProcessWebpageRequest(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PDF documents

type processRequest struct {
	URL       string `json:"url"`
	MaxLength int    `json:"max_length"`
}

type processManyRequest struct {
	URLs                 []string `json:"urls"`
	MaxLengthPerDocument int      `json:"max_length_per_pdf"`
}

type searchRequest struct {
	DocumentID  string   `json:"document_id"`
	SearchTerms []string `json:"search_terms"`
}

// handleProcessPDF 处理失败时仍返回 200，错误写在 success/error 字段里。
func (s *Server) handleProcessPDF(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeDetail(w, http.StatusBadRequest, "URL is required")
		return
	}
	if req.MaxLength <= 0 {
		req.MaxLength = documents.DefaultMaxLength
	}
	result, err := s.documents.ProcessURL(r.Context(), req.URL, req.MaxLength)
	if err != nil {
		writeJSON(w, http.StatusOK, documents.Processed{Error: xerrors.MessageOf(err)})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleProcessPDFs(w http.ResponseWriter, r *http.Request) {
	var req processManyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.documents.ProcessMany(r.Context(), req.URLs, req.MaxLengthPerDocument)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeInvalidArgument {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, documents.Processed{Error: xerrors.MessageOf(err)})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.documents.List())
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Get(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	resp, err := s.documents.Delete(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearchDocument(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.documents.Search(req.DocumentID, req.SearchTerms)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
