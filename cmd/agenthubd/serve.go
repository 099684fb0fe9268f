package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"AgentHub/internal/api"
	"AgentHub/internal/company"
	"AgentHub/internal/config"
	"AgentHub/internal/documents"
	"AgentHub/internal/events"
	"AgentHub/internal/observability/metrics"
	"AgentHub/internal/process"
	"AgentHub/internal/registry"
	"AgentHub/internal/storage/mysql"
	"AgentHub/internal/storage/redis"
	"AgentHub/internal/tools"
	"AgentHub/internal/wallet"
	"AgentHub/internal/web3/provider"
	"AgentHub/pkg/logger"
)

func serve(ctx context.Context, configPath string) error {
	cfg, flush, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer flush()
	log := logger.Named("agenthubd")

	if err := os.MkdirAll(cfg.Agents.Directory, 0o755); err != nil {
		return err
	}

	store, err := openRegistry(ctx, cfg.Registry)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("关闭 agent 注册表失败", slog.Any("error", err))
		}
	}()

	queue, err := events.Open(ctx, cfg.Events)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Warn("关闭事件队列失败", slog.Any("error", err))
		}
	}()

	recorderCtx, recorderCancel := context.WithCancel(ctx)
	defer recorderCancel()
	recorder := events.NewRecorder(logger.Audit(), func(e events.Event) {
		metrics.EventsConsumed.WithLabelValues(string(e.Type)).Inc()
	})
	go func() {
		if err := recorder.Run(recorderCtx, queue, cfg.Events.Workers); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("事件消费者异常退出", slog.Any("error", err))
		}
	}()

	chains, err := provider.NewRegistry(cfg.Web3)
	if err != nil {
		return err
	}
	defer chains.Close()

	cipher, err := wallet.NewKeyCipher(os.Getenv(cfg.Wallet.EncryptionKeyEnv))
	if err != nil {
		return err
	}
	walletSvc, err := wallet.NewService(chains, cipher)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: cfg.Agents.ProxyTimeout()}
	toolSvc := tools.NewService(nil)
	docSvc := documents.NewService(toolSvc.PDFs)

	agents, err := company.NewService(company.Options{
		Store:        store,
		Processes:    process.NewManager(process.Options{StartupWait: cfg.Agents.StartupWait(), StopTimeout: cfg.Agents.StopTimeout()}),
		Wallets:      walletSvc,
		Documents:    docSvc,
		Events:       queue,
		Agents:       cfg.Agents,
		LLM:          cfg.LLM,
		Web3:         cfg.Web3,
		Verifier:     cfg.Verifier,
		WalletKeyEnv: cfg.Wallet.EncryptionKeyEnv,
		ChildEnv:     childEnv(cfg, cipher),
		HTTPClient:   httpClient,
	})
	if err != nil {
		return err
	}
	if err := agents.Reconcile(ctx); err != nil {
		log.Warn("同步 agent 运行状态失败", slog.Any("error", err))
	}

	if addr := strings.TrimSpace(cfg.Metrics.Address); addr != "" {
		go func() {
			if err := metrics.StartServer(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	server := api.NewServer(api.Options{
		Address:      cfg.Server.Address,
		CORS:         cfg.Server.CORS,
		Agents:       agents,
		Tools:        toolSvc,
		Documents:    docSvc,
		ENS:          walletSvc,
		ProxyTimeout: cfg.Agents.ProxyTimeout(),
		HTTPClient:   httpClient,
	})

	log.Info("agenthubd starting",
		slog.String("address", cfg.Server.Address),
		slog.String("registry", cfg.Registry.Driver),
		slog.String("events", cfg.Events.Driver),
		slog.String("agents_dir", cfg.Agents.Directory))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openRegistry(ctx context.Context, cfg config.RegistryConfig) (registry.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return registry.NewMemoryStore(), nil
	case "redis":
		return redis.NewAgentStore(ctx, redis.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
	case "mysql":
		return mysql.NewAgentStore(ctx, mysql.Config{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.MySQL.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的注册表驱动: %s", cfg.Driver)
	}
}

// childEnv 把服务端持有的密钥传给子进程，未配置时沿用临时生成的口令。
func childEnv(cfg *config.Config, cipher *wallet.KeyCipher) []string {
	var env []string
	if cfg.Wallet.EncryptionKeyEnv != "" && os.Getenv(cfg.Wallet.EncryptionKeyEnv) == "" {
		env = append(env, cfg.Wallet.EncryptionKeyEnv+"="+cipher.Secret())
	}
	return env
}
