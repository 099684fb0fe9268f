package main

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"AgentHub/internal/agent"
	"AgentHub/internal/config"
	"AgentHub/pkg/logger"
)

func newAgentCommand(configPath *string) *cobra.Command {
	var manifest string

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run a single support agent from its manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(manifest) == "" {
				return errors.New("必须通过 --manifest 指定 agent manifest")
			}
			cfg, err := config.LoadOrDefault(*configPath)
			if err != nil {
				return err
			}
			// 子进程的标准输出由管理端写入 agent 目录下的日志文件。
			logging := cfg.Logging
			logging.OutputPaths = []string{"stdout"}
			logging.Audit.Enabled = false
			if err := logger.Init(logging); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if err := agent.Run(cmd.Context(), manifest); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&manifest, "manifest", "m", "", "path to the agent manifest")
	return cmd
}
