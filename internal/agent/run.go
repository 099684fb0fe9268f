package agent

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"AgentHub/internal/capability"
	"AgentHub/internal/codegen"
	"AgentHub/internal/config"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/knowledge"
	"AgentHub/internal/llm/openai"
	"AgentHub/internal/observability/alerting"
	"AgentHub/internal/refund"
	"AgentHub/internal/tools"
	"AgentHub/internal/verifier"
	"AgentHub/internal/wallet"
	"AgentHub/internal/web3/provider"
	"AgentHub/pkg/logger"
)

const knowledgeResults = 5

// Run 读取 manifest，组装依赖，写回地址文件并提供服务直到 ctx 结束。
func Run(ctx context.Context, manifestPath string) error {
	m, err := codegen.Load(manifestPath)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "加载 manifest 失败")
	}
	log := logger.Named("agent").With("agent_id", m.Agent.ID)

	opts := []Option{WithLLMTimeout(time.Duration(m.LLM.TimeoutSeconds) * time.Second)}
	if client, err := newLLMClient(m); err != nil {
		log.Warn("大模型不可用，agent 以回显模式运行", "error", err)
	} else {
		opts = append(opts, WithLLMClient(client))
	}

	chains, err := provider.NewRegistry(config.Web3Config{ChainConfig: m.Web3.ChainConfig, DefaultChain: m.Web3.DefaultChain})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化链客户端失败")
	}
	defer chains.Close()

	check := verifier.New(verifier.Config{
		BaseURL:        m.Verifier.BaseURL,
		APIKey:         envValue(m.Verifier.APIKeyEnv),
		RequestsPerSec: m.Verifier.RequestsPerSec,
		Timeout:        time.Duration(m.Verifier.TimeoutSeconds) * time.Second,
	})

	execOpts := ExecutorOptions{
		Tools:     m.Tools,
		Knowledge: knowledge.FromContext(m.Documents.Context, knowledgeResults),
		PDFs:      tools.NewPDFReader(nil),
		Verifier:  check,
	}
	if m.Refund != nil && capability.Has(m.Capabilities, capability.RefundProcessing) {
		processor, err := newRefundProcessor(m, chains, check)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化退款处理器失败")
		}
		execOpts.Refunds = processor
	}
	opts = append(opts, WithExecutor(NewExecutor(execOpts)))

	ag := New(m, opts...)
	if err := codegen.WriteAddress(manifestPath, ag.Address()); err != nil {
		log.Warn("写入 agent 地址文件失败", "error", err)
	}
	log.Info("agent knowledge base loaded",
		"documents", execOpts.Knowledge.Len(),
		"context_length", len(m.Documents.Context),
		"tools", strings.Join(m.Tools, ","))
	return ag.Serve(ctx)
}

func newLLMClient(m *codegen.Manifest) (*openai.Client, error) {
	key := envValue(m.LLM.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("环境变量 %s 未设置", m.LLM.APIKeyEnv)
	}
	return openai.NewClient(openai.Config{
		APIKey:  key,
		BaseURL: m.LLM.BaseURL,
		Model:   m.LLM.Model,
		Timeout: time.Duration(m.LLM.TimeoutSeconds) * time.Second,
	})
}

func newRefundProcessor(m *codegen.Manifest, chains refund.Chains, check verifier.Verifier) (*refund.Processor, error) {
	secret := ""
	if m.Wallet != nil {
		secret = envValue(m.Wallet.KeyEnv)
	}
	cipher, err := wallet.NewKeyCipher(secret)
	if err != nil {
		return nil, err
	}
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if m.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: m.WebhookURL, Client: &http.Client{Timeout: 10 * time.Second}})
	}
	return refund.NewProcessor(refund.Options{
		CompanyID:    m.Agent.CompanyID,
		AgentID:      m.Agent.ID,
		Config:       *m.Refund,
		Chains:       chains,
		Verifier:     check,
		Cipher:       cipher,
		Alerts:       alerting.NewFanout(notifiers...),
		ReceiptPoll:  time.Duration(m.Verifier.ReceiptPollMsec) * time.Millisecond,
		DefaultChain: m.Web3.DefaultChain,
	})
}

func envValue(name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}
