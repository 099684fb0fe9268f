package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"AgentHub/internal/capability"
	"AgentHub/internal/company"
	"AgentHub/internal/registry"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.agents.Health(r.Context(), registry.KindCompany)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Plain agents

func (s *Server) handleCreatePlain(w http.ResponseWriter, r *http.Request) {
	var req company.PlainCreateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	record, err := s.agents.CreatePlain(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListPlain(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, registry.KindBasic)
}

func (s *Server) handleGetPlain(w http.ResponseWriter, r *http.Request) {
	s.get(w, r, registry.KindBasic)
}

func (s *Server) handleDeletePlain(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, registry.KindBasic, s.agents.Delete)
}

func (s *Server) handleStartPlain(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, registry.KindBasic, s.agents.Start)
}

func (s *Server) handleStopPlain(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, registry.KindBasic, s.agents.Stop)
}

func (s *Server) handlePlainHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.agents.Health(r.Context(), registry.KindBasic)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Company agents

func (s *Server) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var req company.CreateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	record, err := s.agents.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListCompany(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, registry.KindCompany)
}

func (s *Server) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	s.get(w, r, registry.KindCompany)
}

func (s *Server) handleDeleteCompany(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, registry.KindCompany, s.agents.Delete)
}

func (s *Server) handleStartCompany(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, registry.KindCompany, s.agents.Start)
}

func (s *Server) handleStopCompany(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, registry.KindCompany, s.agents.Stop)
}

func (s *Server) handleListByCompany(w http.ResponseWriter, r *http.Request) {
	records, err := s.agents.ListByCompany(r.Context(), chi.URLParam(r, "companyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req company.DiscoverRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.agents.Discover(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req company.MessageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.agents.SendMessage(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type capabilitiesRequest struct {
	Capabilities []string `json:"capabilities"`
}

func (s *Server) handleValidateCapabilities(w http.ResponseWriter, r *http.Request) {
	var req capabilitiesRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, capability.Validate(req.Capabilities))
}

func (s *Server) handleDescribeCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"capabilities": capability.Describe()})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{}
	if err := decode(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.agents.ReceiveWebhook(r.Context(), chi.URLParam(r, "agentID"), payload))
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, kind string) {
	records, err := s.agents.List(r.Context(), kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request, kind string) {
	record, err := s.agents.Get(r.Context(), kind, chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type lifecycleFunc func(ctx context.Context, kind, id string) (map[string]string, error)

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, kind string, op lifecycleFunc) {
	resp, err := op(r.Context(), kind, chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
