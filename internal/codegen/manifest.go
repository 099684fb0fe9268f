package codegen

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"
	"unicode"

	"AgentHub/internal/refund"

	"gopkg.in/yaml.v3"
)

// ManifestVersion 是当前 manifest 格式版本。
const ManifestVersion = 1

// AddressFileName 是子进程写回自身地址的文件名，与 manifest 位于同一目录。
const AddressFileName = "agent_address.txt"

// Manifest 是单个 agent 的完整启动描述。
type Manifest struct {
	Version      int            `yaml:"version"`
	Agent        Identity       `yaml:"agent"`
	WebhookURL   string         `yaml:"webhook_url,omitempty"`
	Capabilities []string       `yaml:"capabilities"`
	Tools        []string       `yaml:"tools"`
	SystemPrompt string         `yaml:"system_prompt,omitempty"`
	Documents    Documents      `yaml:"documents"`
	LLM          LLM            `yaml:"llm"`
	Web3         Web3           `yaml:"web3"`
	Verifier     Verifier       `yaml:"verifier"`
	Refund       *refund.Config `yaml:"refund,omitempty"`
	Wallet       *Wallet        `yaml:"wallet,omitempty"`
}

// Identity 描述 agent 身份与监听地址。
type Identity struct {
	ID                string   `yaml:"id"`
	Kind              string   `yaml:"kind"`
	Name              string   `yaml:"name"`
	CompanyID         string   `yaml:"company_id,omitempty"`
	CompanyName       string   `yaml:"company_name,omitempty"`
	Description       string   `yaml:"description,omitempty"`
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"`
	SeedPhrase        string   `yaml:"seed_phrase"`
	Mailbox           bool     `yaml:"mailbox"`
	Endpoint          []string `yaml:"endpoint,omitempty"`
	Products          []string `yaml:"products,omitempty"`
	SupportCategories []string `yaml:"support_categories,omitempty"`
}

// Documents 是公司知识库文档。
type Documents struct {
	URLs    []string `yaml:"urls,omitempty"`
	Context string   `yaml:"context,omitempty"`
}

// LLM 描述子进程调用大模型的方式，密钥只以环境变量名出现。
type LLM struct {
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxToolRounds  int     `yaml:"max_tool_rounds"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
}

// Web3 指向链定义文件。
type Web3 struct {
	ChainConfig  string `yaml:"chain_config,omitempty"`
	DefaultChain string `yaml:"default_chain"`
}

// Verifier 描述交易核验 API。
type Verifier struct {
	BaseURL         string  `yaml:"base_url"`
	APIKeyEnv       string  `yaml:"api_key_env"`
	RequestsPerSec  float64 `yaml:"requests_per_second"`
	TimeoutSeconds  int     `yaml:"timeout_seconds"`
	ReceiptPollMsec int     `yaml:"receipt_poll_ms"`
}

// Wallet 是 agent 钱包在 manifest 中的投影。
type Wallet struct {
	Address             string `yaml:"address"`
	EncryptedPrivateKey string `yaml:"encrypted_private_key"`
	Chain               string `yaml:"chain"`
	ChainID             int64  `yaml:"chain_id"`
	NativeToken         string `yaml:"native_token,omitempty"`
	ENSName             string `yaml:"ens_name,omitempty"`
	KeyEnv              string `yaml:"key_env,omitempty"`
}

var headerTemplate = template.Must(template.New("header").Funcs(template.FuncMap{"join": strings.Join, "line": headerLine}).Parse(`# AgentHub agent manifest
# agent:   {{line .Agent.Name}} ({{line .Agent.ID}})
{{- if .Agent.CompanyName}}
# company: {{line .Agent.CompanyName}} ({{line .Agent.CompanyID}})
{{- end}}
# port:    {{.Agent.Port}}
# tools:   {{if .Tools}}{{line (join .Tools ", ")}}{{else}}none{{end}}
# generated at {{.GeneratedAt}}
# run with: agenthubd agent --manifest <this file>
`))

// headerLine 将控制字符替换为空格，保证值停留在同一注释行内。
func headerLine(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || unicode.In(r, unicode.Zl, unicode.Zp) {
			return ' '
		}
		return r
	}, s)
}

type headerView struct {
	Manifest
	GeneratedAt string
}

// Render 生成 manifest 文本：模板渲染的注释头加 YAML 正文。
func Render(m Manifest, now time.Time) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	if m.Version == 0 {
		m.Version = ManifestVersion
	}

	var buf bytes.Buffer
	if err := headerTemplate.Execute(&buf, headerView{Manifest: m, GeneratedAt: now.UTC().Format(time.RFC3339)}); err != nil {
		return "", fmt.Errorf("渲染 manifest 头失败: %w", err)
	}
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return "", fmt.Errorf("序列化 manifest 失败: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("序列化 manifest 失败: %w", err)
	}
	return buf.String(), nil
}

// Validate 检查 manifest 的必填字段。
func (m Manifest) Validate() error {
	if strings.TrimSpace(m.Agent.ID) == "" {
		return errors.New("manifest 缺少 agent.id")
	}
	if strings.TrimSpace(m.Agent.Name) == "" {
		return errors.New("manifest 缺少 agent.name")
	}
	if m.Agent.Port <= 0 || m.Agent.Port > 65535 {
		return fmt.Errorf("manifest 端口非法: %d", m.Agent.Port)
	}
	return nil
}

// Dir 返回 agent 专属目录。
func Dir(root, id string) string {
	return filepath.Join(root, "agent_"+id)
}

// Write 将 manifest 写入 {root}/agent_{id}/agent_{id}.yaml 并返回路径。
func Write(root, id, content string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", errors.New("agent id 为空")
	}
	dir := Dir(root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("创建 agent 目录失败: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("agent_%s.yaml", id))
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("写入 manifest 失败: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

// Load 读取并校验 manifest。
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取 manifest 失败: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("解析 manifest 失败: %w", err)
	}
	if m.Version > ManifestVersion {
		return nil, fmt.Errorf("不支持的 manifest 版本 %d", m.Version)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Remove 删除 manifest、地址文件与子进程日志，目录为空时一并删除。
func Remove(path string) error {
	if path == "" {
		return nil
	}
	var errs []error
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	for _, p := range []string{path, AddressPath(path), stem + ".out.log", stem + ".err.log"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	_ = os.Remove(filepath.Dir(path))
	return errors.Join(errs...)
}

// AddressPath 返回 manifest 旁的地址文件路径。
func AddressPath(manifestPath string) string {
	return filepath.Join(filepath.Dir(manifestPath), AddressFileName)
}

// ReadAddress 读取子进程写回的地址。
func ReadAddress(manifestPath string) (string, bool) {
	data, err := os.ReadFile(AddressPath(manifestPath))
	if err != nil {
		return "", false
	}
	addr := strings.TrimSpace(string(data))
	return addr, addr != ""
}

// WriteAddress 由子进程调用，写入自身地址。
func WriteAddress(manifestPath, address string) error {
	return os.WriteFile(AddressPath(manifestPath), []byte(address+"\n"), 0o644)
}
