package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"AgentHub/internal/observability/metrics"
)

// Handler 返回完整的管理路由。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Metrics first to capture all requests
	r.Use(observe)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cors.AllowedOrigins,
		AllowedMethods:   s.cors.AllowedMethods,
		AllowedHeaders:   s.cors.AllowedHeaders,
		AllowCredentials: s.cors.AllowCredentials,
		MaxAge:           300,
	}))

	r.Handle("/metrics", metrics.Handler())
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Route("/agents", func(r chi.Router) {
		r.Post("/", s.handleCreatePlain)
		r.Get("/", s.handleListPlain)
		r.Get("/health/status", s.handlePlainHealth)
		r.Get("/{agentID}", s.handleGetPlain)
		r.Delete("/{agentID}", s.handleDeletePlain)
		r.Post("/{agentID}/start", s.handleStartPlain)
		r.Post("/{agentID}/stop", s.handleStopPlain)
	})

	r.Route("/company-agents", func(r chi.Router) {
		r.Post("/", s.handleCreateCompany)
		r.Get("/", s.handleListCompany)
		r.Post("/discover", s.handleDiscover)
		r.Post("/send-message", s.handleSendMessage)
		r.Get("/company/{companyID}", s.handleListByCompany)
		r.Get("/health/status", s.handleHealth)
		r.Get("/capabilities", s.handleDescribeCapabilities)
		r.Post("/capabilities/validate", s.handleValidateCapabilities)
		r.Get("/{agentID}", s.handleGetCompany)
		r.Delete("/{agentID}", s.handleDeleteCompany)
		r.Post("/{agentID}/start", s.handleStartCompany)
		r.Post("/{agentID}/stop", s.handleStopCompany)
	})

	r.Route("/chat", func(r chi.Router) {
		r.Post("/completions", s.handleChatProxy)
		r.Get("/agents", s.handleListCompany)
		r.Get("/agents/{agentID}", s.handleGetCompany)
	})

	r.Route("/api/rest/agents", func(r chi.Router) {
		r.Get("/", s.handleRestAgents)
		r.Get("/{agentID}/endpoints", s.handleRestEndpoints)
		r.Get("/{agentID}/get", s.handleRestGet)
		r.Post("/{agentID}/post", s.handleRestPost)
		r.Post("/{agentID}/chat/completions", s.handleRestChat)
	})

	r.Post("/webhooks/agent/{agentID}", s.handleWebhook)

	r.Route("/tools", func(r chi.Router) {
		r.Get("/capabilities", s.handleToolCapabilities)
		r.Get("/calculator/calculate", s.handleCalculateQuery)
		r.Post("/calculator/calculate", s.handleCalculate)
		r.Get("/pdf/read", s.handleReadPDFQuery)
		r.Post("/pdf/read", s.handleReadPDF)
		r.Post("/webpage/read", s.handleReadWebpage)
		r.Post("/agent/calculator", s.handleCalculate)
		r.Post("/agent/pdf", s.handleReadPDF)
		r.Post("/agent/webpage", s.handleReadWebpage)
	})

	r.Route("/pdf", func(r chi.Router) {
		r.Post("/process", s.handleProcessPDF)
		r.Post("/process-multiple", s.handleProcessPDFs)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{documentID}", s.handleGetDocument)
		r.Delete("/documents/{documentID}", s.handleDeleteDocument)
		r.Post("/search", s.handleSearchDocument)
	})

	r.Route("/wallets", func(r chi.Router) {
		r.Get("/", s.handleListWallets)
		r.Get("/balances", s.handleWalletBalances)
		r.Get("/stats", s.handleWalletStats)
		r.Get("/agent/{agentID}", s.handleAgentWallet)
		r.Get("/agent/{agentID}/balance", s.handleWalletBalance)
		r.Get("/agent/{agentID}/ens", s.handleENSInfo)
		r.Post("/agent/{agentID}/ens/register", s.handleRegisterENS)
		r.Get("/ens/test", s.handleENSTest)
		r.Post("/ens/resolve", s.handleENSResolve)
		r.Get("/ens/reverse/{address}", s.handleENSReverse)
		r.Get("/ens/owner/{name}", s.handleENSOwner)
		r.Get("/ens/resolver/{name}", s.handleENSResolver)
		r.Get("/ens/text/{name}/{key}", s.handleENSText)
	})

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Company Agent Management Server",
		"version": version,
		"endpoints": map[string]string{
			"create_company_agent":  "POST /company-agents",
			"list_company_agents":   "GET /company-agents",
			"get_company_agent":     "GET /company-agents/{agent_id}",
			"delete_company_agent":  "DELETE /company-agents/{agent_id}",
			"discover_agents":       "POST /company-agents/discover",
			"send_message":          "POST /company-agents/send-message",
			"chat_completion":       "POST /chat/completions?agent_id={agent_id}",
			"list_available_agents": "GET /chat/agents",
			"get_agent_info":        "GET /chat/agents/{agent_id}",
			"health_check":          "GET /health",
			"metrics":               "GET /metrics",
		},
	})
}
