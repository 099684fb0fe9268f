package company

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"AgentHub/internal/capability"
	"AgentHub/internal/codegen"
	"AgentHub/internal/config"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/events"
	"AgentHub/internal/observability/metrics"
	"AgentHub/internal/process"
	"AgentHub/internal/registry"
	"AgentHub/internal/tools"
	"AgentHub/internal/wallet"
	"AgentHub/pkg/logger"

	"github.com/google/uuid"
)

const documentContextLimit = 20000

// Options 组装 Service 的依赖。
type Options struct {
	Store     registry.Store
	Processes Processes
	Wallets   Wallets
	Documents Documents
	Events    events.Publisher

	Agents   config.AgentsConfig
	LLM      config.LLMConfig
	Web3     config.Web3Config
	Verifier config.VerifierConfig
	// WalletKeyEnv 是子进程读取钱包加密口令的环境变量名。
	WalletKeyEnv string
	// ChildEnv 追加到每个子进程的环境变量。
	ChildEnv []string

	HTTPClient *http.Client
	Now        func() time.Time
	// PortFree 判断端口当前能否绑定，默认尝试监听。
	PortFree func(host string, port int) bool
}

// Service 实现 agent 管理的全部操作。
type Service struct {
	store     registry.Store
	procs     Processes
	wallets   Wallets
	documents Documents
	events    events.Publisher

	agents       config.AgentsConfig
	llm          config.LLMConfig
	web3         config.Web3Config
	verifier     config.VerifierConfig
	walletKeyEnv string
	childEnv     []string

	client   *http.Client
	now      func() time.Time
	portFree func(host string, port int) bool
	logger   *slog.Logger

	mu       sync.Mutex
	reserved map[int]string
}

// NewService 创建 agent 管理服务。
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("未提供 agent 注册表")
	}
	if opts.Processes == nil {
		return nil, errors.New("未提供进程管理器")
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Agents.ProxyTimeout()
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	portFree := opts.PortFree
	if portFree == nil {
		portFree = canBind
	}
	if opts.Agents.PortRangeStart <= 0 {
		opts.Agents.PortRangeStart = 8001
	}
	if opts.Agents.PortRangeEnd < opts.Agents.PortRangeStart {
		opts.Agents.PortRangeEnd = opts.Agents.PortRangeStart + 998
	}
	if opts.Agents.Host == "" {
		opts.Agents.Host = "127.0.0.1"
	}
	if opts.Agents.DefaultSeedPhrase == "" {
		opts.Agents.DefaultSeedPhrase = "default_seed_phrase"
	}
	return &Service{
		store:        opts.Store,
		procs:        opts.Processes,
		wallets:      opts.Wallets,
		documents:    opts.Documents,
		events:       opts.Events,
		agents:       opts.Agents,
		llm:          opts.LLM,
		web3:         opts.Web3,
		verifier:     opts.Verifier,
		walletKeyEnv: opts.WalletKeyEnv,
		childEnv:     append([]string(nil), opts.ChildEnv...),
		client:       client,
		now:          now,
		portFree:     portFree,
		logger:       logger.Named("company"),
		reserved:     make(map[int]string),
	}, nil
}

// Create 创建公司 agent：校验能力、分配端口、生成 manifest、拉起子进程并登记。
func (s *Service) Create(ctx context.Context, req CreateRequest) (registry.Record, error) {
	req.CompanyID = strings.TrimSpace(req.CompanyID)
	req.CompanyName = strings.TrimSpace(req.CompanyName)
	req.AgentName = strings.TrimSpace(req.AgentName)
	switch {
	case req.CompanyID == "":
		return registry.Record{}, xerrors.New(xerrors.CodeInvalidArgument, "company_id is required")
	case req.CompanyName == "":
		return registry.Record{}, xerrors.New(xerrors.CodeInvalidArgument, "company_name is required")
	case req.AgentName == "":
		return registry.Record{}, xerrors.New(xerrors.CodeInvalidArgument, "agent_name is required")
	}
	for _, f := range [][2]string{{"company_id", req.CompanyID}, {"company_name", req.CompanyName}, {"agent_name", req.AgentName}} {
		if err := singleLine(f[0], f[1]); err != nil {
			return registry.Record{}, err
		}
	}
	if v := capability.Validate(req.Capabilities); !v.Valid {
		return registry.Record{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf(
			"Invalid capabilities: %s. Available capabilities: %s",
			strings.Join(v.Invalid, ", "), strings.Join(v.Available, ", ")))
	}

	id := uuid.NewString()
	port, release, err := s.reservePort(ctx, id, req.Port)
	if err != nil {
		return registry.Record{}, err
	}
	defer release()

	record := registry.Record{
		AgentID:           id,
		Kind:              registry.KindCompany,
		AgentName:         req.AgentName,
		CompanyID:         req.CompanyID,
		CompanyName:       req.CompanyName,
		Port:              port,
		Address:           placeholderAddress(id, req.AgentName),
		SeedPhrase:        s.seed(req.SeedPhrase),
		Mailbox:           boolOr(req.Mailbox, true),
		Capabilities:      append([]string{}, req.Capabilities...),
		Description:       req.Description,
		WebhookURL:        req.WebhookURL,
		DocumentURLs:      req.DocumentURLs,
		Products:          req.Products,
		SupportCategories: req.SupportCategories,
	}

	if req.CreateWallet {
		record.Wallet = s.createWallet(ctx, record, req.WalletChain)
	}
	if req.RefundConfig != nil {
		cfg := *req.RefundConfig
		if cfg.AgentPrivateKey == "" && record.Wallet != nil {
			cfg.AgentPrivateKey = record.Wallet.EncryptedPrivateKey
		}
		record.RefundConfig = &cfg
	}

	manifest := s.manifest(record, s.documentContext(ctx, record))
	if err := s.launch(ctx, &record, manifest); err != nil {
		return registry.Record{}, err
	}
	return record, nil
}

// singleLine 拒绝包含控制字符的名称字段。
func singleLine(field, value string) error {
	if strings.IndexFunc(value, unicode.IsControl) >= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, field+" must not contain control characters")
	}
	return nil
}

// CreatePlain 创建不带公司信息的基础 agent。
func (s *Service) CreatePlain(ctx context.Context, req PlainCreateRequest) (registry.Record, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return registry.Record{}, xerrors.New(xerrors.CodeInvalidArgument, "name is required")
	}
	if err := singleLine("name", req.Name); err != nil {
		return registry.Record{}, err
	}
	id := uuid.NewString()
	port, release, err := s.reservePort(ctx, id, req.Port)
	if err != nil {
		return registry.Record{}, err
	}
	defer release()

	record := registry.Record{
		AgentID:    id,
		Kind:       registry.KindBasic,
		Name:       req.Name,
		Port:       port,
		Address:    placeholderAddress(id, req.Name),
		SeedPhrase: s.seed(req.SeedPhrase),
		Mailbox:    boolOr(req.Mailbox, true),
		Endpoint:   req.Endpoint,
	}
	if err := s.launch(ctx, &record, s.manifest(record, "")); err != nil {
		return registry.Record{}, err
	}
	return record, nil
}

// launch 写入 manifest、拉起子进程并写入注册表；任何一步失败都会清理已生成的文件。
func (s *Service) launch(ctx context.Context, record *registry.Record, manifest codegen.Manifest) error {
	content, err := codegen.Render(manifest, s.now())
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "Failed to render agent manifest")
	}
	path, err := codegen.Write(s.agents.Directory, record.AgentID, content)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "Failed to write agent manifest")
	}
	record.FilePath = path

	handle, err := s.spawn(ctx, *record)
	if err != nil {
		_ = codegen.Remove(path)
		metrics.AgentLifecycle.WithLabelValues("failed").Inc()
		events.Emit(ctx, s.events, events.New(events.TypeAgentFailed, record.AgentID, record.CompanyID,
			map[string]string{"error": xerrors.MessageOf(err)}))
		return err
	}

	record.SetPID(handle.PID)
	record.Status = registry.StatusRunning
	record.CreatedAt = s.now().Format(time.RFC3339Nano)
	if addr, ok := codegen.ReadAddress(path); ok {
		record.Address = addr
	}
	if err := s.store.Put(ctx, *record); err != nil {
		_ = s.procs.Stop(context.Background(), handle.PID)
		_ = codegen.Remove(path)
		return err
	}

	metrics.AgentLifecycle.WithLabelValues("created").Inc()
	logger.Audit().Info("agent created",
		slog.String("agent_id", record.AgentID),
		slog.String("kind", record.Kind),
		slog.String("company_id", record.CompanyID),
		slog.Int("port", record.Port),
		slog.Int("pid", handle.PID))
	events.Emit(ctx, s.events, events.New(events.TypeAgentCreated, record.AgentID, record.CompanyID, map[string]string{
		"port": strconv.Itoa(record.Port),
		"kind": record.Kind,
	}))
	return nil
}

func (s *Service) spawn(ctx context.Context, record registry.Record) (*process.Handle, error) {
	command, args, err := s.command()
	if err != nil {
		return nil, err
	}
	args = append(args, "--manifest", record.FilePath)
	dir := codegen.Dir(s.agents.Directory, record.AgentID)
	return s.procs.Start(ctx, process.Spec{
		ID:      record.AgentID,
		Command: command,
		Args:    args,
		Dir:     dir,
		Env:     s.childEnv,
		LogDir:  dir,
	})
}

func (s *Service) command() (string, []string, error) {
	if len(s.agents.Command) > 0 {
		return s.agents.Command[0], append([]string{}, s.agents.Command[1:]...), nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", nil, xerrors.Wrap(xerrors.CodeProcessFailure, err, "无法定位 agent 可执行文件")
	}
	return exe, []string{"agent"}, nil
}

func (s *Service) manifest(record registry.Record, docContext string) codegen.Manifest {
	m := codegen.Manifest{
		Version: codegen.ManifestVersion,
		Agent: codegen.Identity{
			ID:                record.AgentID,
			Kind:              record.Kind,
			Name:              record.DisplayName(),
			CompanyID:         record.CompanyID,
			CompanyName:       record.CompanyName,
			Description:       record.Description,
			Host:              s.agents.Host,
			Port:              record.Port,
			SeedPhrase:        record.SeedPhrase,
			Mailbox:           record.Mailbox,
			Endpoint:          record.Endpoint,
			Products:          record.Products,
			SupportCategories: record.SupportCategories,
		},
		WebhookURL:   record.WebhookURL,
		Capabilities: record.Capabilities,
		Tools:        capability.ToolNames(record.Capabilities),
		Documents:    codegen.Documents{URLs: record.DocumentURLs, Context: docContext},
		LLM: codegen.LLM{
			BaseURL:        s.llm.BaseURL,
			Model:          s.llm.Model,
			APIKeyEnv:      s.llm.APIKeyEnv,
			TimeoutSeconds: s.llm.TimeoutSeconds,
			MaxToolRounds:  s.agents.MaxToolRounds,
			Temperature:    0.7,
			MaxTokens:      1000,
		},
		Web3: codegen.Web3{ChainConfig: s.web3.ChainConfig, DefaultChain: s.web3.DefaultChain},
		Verifier: codegen.Verifier{
			BaseURL:         s.verifier.BaseURL,
			APIKeyEnv:       s.verifier.APIKeyEnv,
			RequestsPerSec:  s.verifier.RequestsPerSec,
			TimeoutSeconds:  s.verifier.TimeoutSeconds,
			ReceiptPollMsec: s.verifier.ReceiptPollMsec,
		},
		Refund: record.RefundConfig,
	}
	if record.Kind == registry.KindCompany {
		m.SystemPrompt = capability.SystemPrompt(capability.PromptInput{
			CompanyName:       record.CompanyName,
			Capabilities:      record.Capabilities,
			SupportCategories: record.SupportCategories,
			Products:          record.Products,
		})
	}
	if w := record.Wallet; w != nil {
		m.Wallet = &codegen.Wallet{
			Address:             w.Address,
			EncryptedPrivateKey: w.EncryptedPrivateKey,
			Chain:               w.Chain,
			ChainID:             w.ChainID,
			NativeToken:         w.NativeToken,
			ENSName:             w.ENSName,
			KeyEnv:              s.walletKeyEnv,
		}
	}
	return m
}

func (s *Service) createWallet(ctx context.Context, record registry.Record, chain string) *wallet.Record {
	if s.wallets == nil {
		s.logger.Warn("wallet requested but wallet service is not configured", "agent_id", record.AgentID)
		return nil
	}
	w, err := s.wallets.CreateAgentWallet(ctx, record.AgentName, record.CompanyName, record.AgentID, chain)
	if err != nil {
		s.logger.Warn("create agent wallet failed", "agent_id", record.AgentID, "error", err)
		return nil
	}
	if w.ENSStatus == wallet.ENSStatusPrepared {
		events.Emit(ctx, s.events, events.New(events.TypeENSPrepared, record.AgentID, record.CompanyID,
			map[string]string{"ens_name": w.ENSName, "address": w.Address}))
	}
	return w
}

func (s *Service) documentContext(ctx context.Context, record registry.Record) string {
	if s.documents == nil || len(record.DocumentURLs) == 0 {
		return ""
	}
	processed, err := s.documents.ProcessMany(ctx, record.DocumentURLs, 0)
	if err != nil {
		s.logger.Warn("load company documents failed", "agent_id", record.AgentID, "error", err)
		return ""
	}
	return tools.Truncate(processed.Content, documentContextLimit)
}

// reservePort 在服务锁内完成端口检查与占位，返回的 release 在登记完成后释放占位。
func (s *Service) reservePort(ctx context.Context, id string, requested int) (int, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.store.List(ctx)
	if err != nil {
		return 0, nil, err
	}
	taken := make(map[int]struct{}, len(records)+len(s.reserved))
	for _, r := range records {
		taken[r.Port] = struct{}{}
	}
	for p := range s.reserved {
		taken[p] = struct{}{}
	}

	port := requested
	if port != 0 {
		if port < 1 || port > 65535 {
			return 0, nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("Invalid port %d", port))
		}
		if _, ok := taken[port]; ok || !s.portFree(s.agents.Host, port) {
			return 0, nil, xerrors.New(xerrors.CodeConflict, fmt.Sprintf("Port %d is already in use", port))
		}
	} else {
		port = 0
		for p := s.agents.PortRangeStart; p <= s.agents.PortRangeEnd; p++ {
			if _, ok := taken[p]; ok {
				continue
			}
			if s.portFree(s.agents.Host, p) {
				port = p
				break
			}
		}
		if port == 0 {
			return 0, nil, xerrors.New(xerrors.CodeConflict, fmt.Sprintf(
				"No free port available in range %d-%d", s.agents.PortRangeStart, s.agents.PortRangeEnd))
		}
	}
	s.reserved[port] = id
	return port, func() {
		s.mu.Lock()
		delete(s.reserved, port)
		s.mu.Unlock()
	}, nil
}

func canBind(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

func (s *Service) seed(requested string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return s.agents.DefaultSeedPhrase
}

func placeholderAddress(id, name string) string {
	return fmt.Sprintf("agent_%s@%s", id, name)
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
