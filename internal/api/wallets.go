package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	xerrors "AgentHub/internal/errors"
)

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.agents.ListWallets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallets)
}

func (s *Server) handleWalletBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := s.agents.WalletBalances(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (s *Server) handleWalletStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.agents.WalletStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAgentWallet(w http.ResponseWriter, r *http.Request) {
	record, err := s.agents.AgentWallet(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.agents.WalletBalance(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleENSInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.agents.ENSInfo(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRegisterENS(w http.ResponseWriter, r *http.Request) {
	reg, err := s.agents.RegisterENS(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// ENS lookups

func (s *Server) handleENSTest(w http.ResponseWriter, r *http.Request) {
	if s.ens == nil {
		writeDetail(w, http.StatusServiceUnavailable, "wallet service is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.ens.Diagnostics(r.Context()))
}

type resolveRequest struct {
	ENSName string `json:"ens_name"`
}

func (s *Server) handleENSResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ENSName == "" {
		writeDetail(w, http.StatusBadRequest, "ens_name is required")
		return
	}
	value, errMsg := s.lookup(r.Context(), "ENS name not found or resolution failed", func(ctx context.Context, e ENSLookup) (string, error) {
		return e.Resolve(ctx, req.ENSName)
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"ens_name": req.ENSName,
		"address":  value,
		"success":  value != nil,
		"error":    errMsg,
	})
}

func (s *Server) handleENSReverse(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	value, errMsg := s.lookup(r.Context(), "No ENS name found for this address", func(ctx context.Context, e ENSLookup) (string, error) {
		return e.Reverse(ctx, address)
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"address":  address,
		"ens_name": value,
		"success":  value != nil,
		"error":    errMsg,
	})
}

func (s *Server) handleENSOwner(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	value, errMsg := s.lookup(r.Context(), "ENS name not found or no owner", func(ctx context.Context, e ENSLookup) (string, error) {
		return e.Owner(ctx, name)
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"ens_name": name,
		"owner":    value,
		"success":  value != nil,
		"error":    errMsg,
	})
}

func (s *Server) handleENSResolver(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	value, errMsg := s.lookup(r.Context(), "ENS name not found or no resolver", func(ctx context.Context, e ENSLookup) (string, error) {
		return e.Resolver(ctx, name)
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"ens_name":         name,
		"resolver_address": value,
		"success":          value != nil,
		"error":            errMsg,
	})
}

func (s *Server) handleENSText(w http.ResponseWriter, r *http.Request) {
	name, key := chi.URLParam(r, "name"), chi.URLParam(r, "key")
	value, errMsg := s.lookup(r.Context(), fmt.Sprintf("No text record '%s' found for ENS name", key), func(ctx context.Context, e ENSLookup) (string, error) {
		return e.Text(ctx, name, key)
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"ens_name": name,
		"key":      key,
		"value":    value,
		"success":  value != nil,
		"error":    errMsg,
	})
}

// lookup 执行一次 ENS 查询；空结果与失败都以 nil 值和错误信息返回，不影响 HTTP 状态。
func (s *Server) lookup(ctx context.Context, missing string, fn func(context.Context, ENSLookup) (string, error)) (*string, *string) {
	if s.ens == nil {
		msg := "wallet service is not configured"
		return nil, &msg
	}
	value, err := fn(ctx, s.ens)
	if err != nil {
		msg := xerrors.MessageOf(err)
		return nil, &msg
	}
	if value == "" {
		return nil, &missing
	}
	return &value, nil
}
