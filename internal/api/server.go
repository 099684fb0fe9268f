package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"AgentHub/internal/company"
	"AgentHub/internal/config"
	"AgentHub/internal/documents"
	"AgentHub/internal/tools"
	"AgentHub/internal/wallet"
	"AgentHub/pkg/logger"
)

const version = "1.0.0"

// ENSLookup 是钱包路由依赖的 ENS 只读查询。
type ENSLookup interface {
	Resolve(ctx context.Context, name string) (string, error)
	Reverse(ctx context.Context, address string) (string, error)
	Owner(ctx context.Context, name string) (string, error)
	Resolver(ctx context.Context, name string) (string, error)
	Text(ctx context.Context, name, key string) (string, error)
	Diagnostics(ctx context.Context) wallet.DiagnosticReport
}

// Options 组装 Server 的依赖。
type Options struct {
	Address   string
	CORS      config.CORSConfig
	Agents    *company.Service
	Tools     *tools.Service
	Documents *documents.Service
	ENS       ENSLookup
	// ProxyTimeout 是转发到 agent 子进程的超时，默认 30 秒。
	ProxyTimeout time.Duration
	HTTPClient   *http.Client
	Now          func() time.Time
}

// Server 负责暴露管理接口，并把对话流量转发给对应的 agent 进程。
type Server struct {
	addr      string
	cors      config.CORSConfig
	agents    *company.Service
	tools     *tools.Service
	documents *documents.Service
	ens       ENSLookup
	client    *http.Client
	now       func() time.Time
	logger    *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(opts Options) *Server {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.ProxyTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	toolSvc := opts.Tools
	if toolSvc == nil {
		toolSvc = tools.NewService(nil)
	}
	docs := opts.Documents
	if docs == nil {
		docs = documents.NewService(toolSvc.PDFs)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		addr:      opts.Address,
		cors:      opts.CORS,
		agents:    opts.Agents,
		tools:     toolSvc,
		documents: docs,
		ens:       opts.ENS,
		client:    client,
		now:       now,
		logger:    logger.Named("api"),
	}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("management api listening", "address", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeDetail(w, http.StatusServiceUnavailable, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
