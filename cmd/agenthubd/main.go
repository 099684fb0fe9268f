package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"AgentHub/internal/config"
	"AgentHub/pkg/logger"
)

const version = "1.0.0"

// main 是 AgentHub 管理服务与单个 agent 运行时共用的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Fatalf("agenthubd 运行失败: %v", err)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "agenthubd",
		Short:         "Company agent management server",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the JSON config file")

	cmd.AddCommand(
		newServeCommand(&configPath),
		newAgentCommand(&configPath),
	)
	return cmd
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the management HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *configPath)
		},
	}
}

func defaultConfigPath() string {
	if path := os.Getenv("AGENTHUB_CONFIG"); path != "" {
		return path
	}
	return filepath.Join("configs", "agenthub.json")
}

// loadConfig 读取配置并初始化全局日志，返回的函数用于落盘日志缓冲。
func loadConfig(path string) (*config.Config, func(), error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, nil, err
	}
	return cfg, func() { _ = logger.Sync() }, nil
}
