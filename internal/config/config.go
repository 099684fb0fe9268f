package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"AgentHub/pkg/logger"
)

// Config 描述了 AgentHub 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Agents   AgentsConfig   `json:"agents"`
	LLM      LLMConfig      `json:"llm"`
	Web3     Web3Config     `json:"web3"`
	Wallet   WalletConfig   `json:"wallet"`
	Verifier VerifierConfig `json:"verifier"`
	Registry RegistryConfig `json:"registry"`
	Events   EventsConfig   `json:"events"`
	Logging  logger.Config  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// ServerConfig 控制管理 API 的监听地址与跨域策略。
type ServerConfig struct {
	Address string     `json:"address"`
	CORS    CORSConfig `json:"cors"`
}

// CORSConfig 对应浏览器跨域访问的白名单。
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
}

// AgentsConfig 描述子进程的生成、启动与代理参数。
type AgentsConfig struct {
	// Directory 存放生成的 manifest、日志与地址文件。
	Directory string `json:"directory"`
	// Command 为启动单个 agent 的命令前缀，末尾会追加 manifest 路径。
	// 为空时使用当前可执行文件的 `agent --manifest`。
	Command            []string `json:"command"`
	Host               string   `json:"host"`
	PortRangeStart     int      `json:"port_range_start"`
	PortRangeEnd       int      `json:"port_range_end"`
	StartupWaitMillis  int      `json:"startup_wait_ms"`
	StopTimeoutSeconds int      `json:"stop_timeout_seconds"`
	ProxyTimeoutSecs   int      `json:"proxy_timeout_seconds"`
	DefaultSeedPhrase  string   `json:"default_seed_phrase"`
	MaxToolRounds      int      `json:"max_tool_rounds"`
}

// StartupWait 返回子进程启动后的观察时间。
func (c AgentsConfig) StartupWait() time.Duration {
	return time.Duration(c.StartupWaitMillis) * time.Millisecond
}

// StopTimeout 返回终止子进程时的等待上限。
func (c AgentsConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}

// ProxyTimeout 返回转发请求到子进程的超时。
func (c AgentsConfig) ProxyTimeout() time.Duration {
	return time.Duration(c.ProxyTimeoutSecs) * time.Second
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider       string `json:"provider"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回调用大模型的超时时间。
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResolveAPIKey 优先使用显式配置，其次读取环境变量。
func (c LLMConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	if c.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
}

// Web3Config 包含链定义文件与默认链。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
}

// WalletConfig 控制钱包私钥的加密方式。
type WalletConfig struct {
	EncryptionKeyEnv string `json:"encryption_key_env"`
	DefaultChain     string `json:"default_chain"`
}

// VerifierConfig 描述第三方交易数据 API。
type VerifierConfig struct {
	BaseURL         string  `json:"base_url"`
	APIKeyEnv       string  `json:"api_key_env"`
	RequestsPerSec  float64 `json:"requests_per_second"`
	TimeoutSeconds  int     `json:"timeout_seconds"`
	RefundKeyEnv    string  `json:"refund_encryption_key_env"`
	ReceiptPollMsec int     `json:"receipt_poll_ms"`
}

// RegistryConfig 选择 agent 注册表的存储后端。
type RegistryConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
	MySQL  MySQLConfig `json:"mysql"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Key       string `json:"key"`
	BlockWait int    `json:"block_wait_seconds"`
}

// MySQLConfig 描述 MySQL 连接参数。
type MySQLConfig struct {
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// EventsConfig 选择生命周期事件总线。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Buffer   int            `json:"buffer"`
	Workers  int            `json:"workers"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 队列参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// MetricsConfig 控制独立的指标端口。
type MetricsConfig struct {
	Address string `json:"address"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.applyEnv()

	return &cfg, nil
}

// LoadOrDefault 在配置文件不存在时回退到内置默认值。
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default("."), nil
	}
	return Load(path)
}

// Default 返回以 baseDir 为根目录的默认配置。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	cfg.applyEnv()
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = "0.0.0.0:8000"
	}
	if len(c.Server.CORS.AllowedOrigins) == 0 {
		c.Server.CORS.AllowedOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}
	if len(c.Server.CORS.AllowedMethods) == 0 {
		c.Server.CORS.AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(c.Server.CORS.AllowedHeaders) == 0 {
		c.Server.CORS.AllowedHeaders = []string{"*"}
	}

	c.Agents.Directory = resolvePath(baseDir, c.Agents.Directory, "company_agents")
	if c.Agents.Host == "" {
		c.Agents.Host = "127.0.0.1"
	}
	if c.Agents.PortRangeStart == 0 {
		c.Agents.PortRangeStart = 8001
	}
	if c.Agents.PortRangeEnd == 0 {
		c.Agents.PortRangeEnd = 8999
	}
	if c.Agents.StartupWaitMillis == 0 {
		c.Agents.StartupWaitMillis = 3000
	}
	if c.Agents.StopTimeoutSeconds == 0 {
		c.Agents.StopTimeoutSeconds = 5
	}
	if c.Agents.ProxyTimeoutSecs == 0 {
		c.Agents.ProxyTimeoutSecs = 30
	}
	if c.Agents.DefaultSeedPhrase == "" {
		c.Agents.DefaultSeedPhrase = "default_seed_phrase"
	}
	if c.Agents.MaxToolRounds == 0 {
		c.Agents.MaxToolRounds = 3
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "asi1"
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.asi1.ai/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "asi1-mini"
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "ASI_API_KEY"
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 60
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
	if c.Web3.DefaultChain == "" {
		c.Web3.DefaultChain = "ethereum"
	}

	if c.Wallet.EncryptionKeyEnv == "" {
		c.Wallet.EncryptionKeyEnv = "WALLET_ENCRYPTION_KEY"
	}
	if c.Wallet.DefaultChain == "" {
		c.Wallet.DefaultChain = c.Web3.DefaultChain
	}

	if c.Verifier.BaseURL == "" {
		c.Verifier.BaseURL = "https://api.goldrush.dev/v1"
	}
	if c.Verifier.APIKeyEnv == "" {
		c.Verifier.APIKeyEnv = "GOLDRUSH_API_KEY"
	}
	if c.Verifier.RequestsPerSec == 0 {
		c.Verifier.RequestsPerSec = 4
	}
	if c.Verifier.TimeoutSeconds == 0 {
		c.Verifier.TimeoutSeconds = 30
	}
	if c.Verifier.RefundKeyEnv == "" {
		c.Verifier.RefundKeyEnv = "REFUND_ENCRYPTION_KEY"
	}
	if c.Verifier.ReceiptPollMsec == 0 {
		c.Verifier.ReceiptPollMsec = 1000
	}

	if c.Registry.Driver == "" {
		c.Registry.Driver = "memory"
	}
	if c.Registry.Redis.Key == "" {
		c.Registry.Redis.Key = "agenthub:agents"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Buffer == 0 {
		c.Events.Buffer = 256
	}
	if c.Events.Workers == 0 {
		c.Events.Workers = 1
	}
	if c.Events.Redis.Key == "" {
		c.Events.Redis.Key = "agenthub:events"
	}
	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "agenthub.events"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}
}

// applyEnv 使用部署环境中的变量覆盖链 RPC 等敏感配置。
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("AGENTHUB_AGENTS_DIR")); v != "" {
		c.Agents.Directory = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENTHUB_ADDRESS")); v != "" {
		c.Server.Address = v
	}
}

func resolvePath(baseDir, value, fallback string) string {
	if value == "" {
		value = fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
