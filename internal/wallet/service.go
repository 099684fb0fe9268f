package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/web3"
	"AgentHub/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ENS 登记状态。
const (
	ENSStatusPrepared = "prepared"
	ENSStatusFailed   = "failed"
	ENSStatusSkipped  = "skipped"
)

// Record 描述代理的钱包。
type Record struct {
	Address             string `json:"address"`
	EncryptedPrivateKey string `json:"encrypted_private_key"`
	Chain               string `json:"chain"`
	ChainID             int64  `json:"chain_id"`
	NativeToken         string `json:"native_token"`
	CreatedAt           string `json:"created_at"`
	Balance             string `json:"balance"`
	BalanceUpdatedAt    string `json:"balance_updated_at,omitempty"`
	ENSName             string `json:"ens_name,omitempty"`
	ENSRegistered       bool   `json:"ens_registered"`
	ENSStatus           string `json:"ens_registration_status,omitempty"`
	ENSNote             string `json:"ens_registration_note,omitempty"`
	ENSNetwork          string `json:"ens_network,omitempty"`
	ENSAvailable        *bool  `json:"ens_registry_available,omitempty"`
	ENSError            string `json:"ens_error,omitempty"`
	AgentID             string `json:"agent_id,omitempty"`
	AgentName           string `json:"agent_name,omitempty"`
	CompanyName         string `json:"company_name,omitempty"`
}

// Clone 返回记录的深拷贝。
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.ENSAvailable != nil {
		v := *r.ENSAvailable
		clone.ENSAvailable = &v
	}
	return &clone
}

// Chains 抽象了链客户端注册表。
type Chains interface {
	Client(ctx context.Context, name string) (web3.Client, error)
	Definition(name string) (web3.ChainDefinition, bool)
}

// Service 负责钱包生成、余额刷新与 ENS 查询。
type Service struct {
	chains   Chains
	cipher   *KeyCipher
	ensChain string
	registry common.Address
	now      func() time.Time
	logger   *slog.Logger
}

// Option 自定义 Service。
type Option func(*Service)

// WithENSChain 指定用于 ENS 查询的链。
func WithENSChain(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.ensChain = name
		}
	}
}

// WithENSRegistry 覆盖 ENS 注册表地址。
func WithENSRegistry(addr common.Address) Option {
	return func(s *Service) {
		s.registry = addr
	}
}

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService 创建钱包服务。
func NewService(chains Chains, cipher *KeyCipher, opts ...Option) (*Service, error) {
	if chains == nil {
		return nil, errors.New("未提供链客户端注册表")
	}
	if cipher == nil {
		return nil, errors.New("未提供私钥加密器")
	}
	s := &Service{
		chains:   chains,
		cipher:   cipher,
		ensChain: "ethereum",
		registry: RegistryAddress,
		now:      time.Now,
		logger:   logger.Named("wallet"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if cipher.Ephemeral() {
		s.logger.Warn("wallet encryption key not configured, generated a process-local key")
	}
	return s, nil
}

// Cipher 返回私钥加密器。
func (s *Service) Cipher() *KeyCipher {
	return s.cipher
}

// Generate 在指定链上生成新钱包，私钥加密保存。
func (s *Service) Generate(chain string) (*Record, error) {
	chain = strings.ToLower(strings.TrimSpace(chain))
	def, ok := s.chains.Definition(chain)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("Unsupported chain: %s", chain))
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "Wallet generation failed")
	}
	encrypted, err := s.cipher.Encrypt(hexutil.Encode(crypto.FromECDSA(key)))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "Wallet generation failed")
	}

	record := &Record{
		Address:             crypto.PubkeyToAddress(key.PublicKey).Hex(),
		EncryptedPrivateKey: encrypted,
		Chain:               chain,
		ChainID:             def.ChainID,
		NativeToken:         def.NativeToken,
		CreatedAt:           s.now().Format(time.RFC3339),
		Balance:             "0",
	}
	s.logger.Info("generated wallet", "address", record.Address, "chain", chain)
	return record, nil
}

// CreateAgentWallet 生成钱包、准备 ENS 名称并刷新余额。
func (s *Service) CreateAgentWallet(ctx context.Context, agentName, companyName, agentID, chain string) (*Record, error) {
	record, err := s.Generate(chain)
	if err != nil {
		return nil, err
	}
	s.PrepareRegistration(ctx, record, agentName, agentID)
	if err := s.RefreshBalance(ctx, record); err != nil {
		s.logger.Warn("refresh wallet balance failed", "address", record.Address, "error", err)
	}
	record.AgentID = agentID
	record.AgentName = agentName
	record.CompanyName = companyName
	return record, nil
}

// PrepareRegistration 为以太坊钱包挑选 ENS 名称并标记为 prepared；链上登记不在此执行。
func (s *Service) PrepareRegistration(ctx context.Context, record *Record, agentName, agentID string) {
	if record == nil {
		return
	}
	def, _ := s.chains.Definition(record.Chain)
	if !def.ENS {
		record.ENSStatus = ENSStatusSkipped
		record.ENSNote = fmt.Sprintf("ENS registration only supported on Ethereum, skipping for %s", record.Chain)
		return
	}

	ens, err := s.ens(ctx)
	if err != nil {
		record.ENSStatus = ENSStatusFailed
		record.ENSError = "ENS not initialized"
		return
	}

	clean := CleanLabel(agentName)
	name := clean + ".eth"
	taken := s.resolves(ctx, ens, name)
	if taken {
		short := strings.ToLower(agentID)
		if len(short) > 8 {
			short = short[:8]
		}
		name = clean + short + ".eth"
		taken = s.resolves(ctx, ens, name)
	}

	available := !taken
	record.ENSName = name
	record.ENSRegistered = false
	record.ENSStatus = ENSStatusPrepared
	record.ENSNote = fmt.Sprintf("ENS name %s prepared for Sepolia testnet. Registration requires funding and manual setup.", name)
	record.ENSNetwork = "sepolia"
	record.ENSAvailable = &available
	record.ENSError = ""
	logger.Audit().Info("ens_prepared", "address", record.Address, "ens_name", name, "available", available)
}

func (s *Service) resolves(ctx context.Context, ens *ENS, name string) bool {
	addr, err := ens.Resolve(ctx, name)
	return err == nil && addr != (common.Address{})
}

// CleanLabel 去掉空格、下划线与连字符并转小写。
func CleanLabel(name string) string {
	replacer := strings.NewReplacer(" ", "", "_", "", "-", "")
	return strings.ToLower(replacer.Replace(name))
}

// RefreshBalance 查询链上余额并以 ether 字符串写回记录。
func (s *Service) RefreshBalance(ctx context.Context, record *Record) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "wallet is empty")
	}
	client, err := s.chains.Client(ctx, record.Chain)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainFailure, err, "连接链失败")
	}
	wei, err := client.BalanceAt(ctx, common.HexToAddress(record.Address))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainFailure, err, "查询余额失败")
	}
	record.Balance = web3.WeiToEther(wei)
	record.BalanceUpdatedAt = s.now().Format(time.RFC3339)
	return nil
}

// PrivateKey 解密钱包私钥。
func (s *Service) PrivateKey(record *Record) (*ecdsa.PrivateKey, error) {
	if record == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "wallet is empty")
	}
	return DecryptKey(s.cipher, record.EncryptedPrivateKey)
}

// Decrypt 解密任意经本服务加密的私钥字符串。
func (s *Service) Decrypt(encrypted string) (*ecdsa.PrivateKey, error) {
	return DecryptKey(s.cipher, encrypted)
}

// DecryptKey 解密并解析十六进制私钥。
func DecryptKey(cipher *KeyCipher, encrypted string) (*ecdsa.PrivateKey, error) {
	plain, err := cipher.Decrypt(encrypted)
	if err != nil {
		return nil, err
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(plain), "0x"))
	if err != nil {
		return nil, fmt.Errorf("Failed to decrypt private key: %w", err)
	}
	return key, nil
}

// Validate 检查钱包记录结构。
func Validate(record *Record) bool {
	if record == nil {
		return false
	}
	if record.EncryptedPrivateKey == "" || record.Chain == "" || record.ChainID == 0 || record.CreatedAt == "" {
		return false
	}
	return strings.HasPrefix(record.Address, "0x") && len(record.Address) == 42
}

func (s *Service) ens(ctx context.Context) (*ENS, error) {
	client, err := s.chains.Client(ctx, s.ensChain)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "ENS not initialized")
	}
	return NewENS(client, s.registry), nil
}

// Resolve 将 ENS 名称解析为地址，未找到时返回空串。
func (s *Service) Resolve(ctx context.Context, name string) (string, error) {
	ens, err := s.ens(ctx)
	if err != nil {
		return "", err
	}
	addr, err := ens.Resolve(ctx, name)
	return addressOrEmpty(addr, err)
}

// Reverse 返回地址对应的 ENS 名称，未找到时返回空串。
func (s *Service) Reverse(ctx context.Context, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "Invalid address format")
	}
	ens, err := s.ens(ctx)
	if err != nil {
		return "", err
	}
	name, err := ens.Reverse(ctx, common.HexToAddress(address))
	return stringOrEmpty(name, err)
}

// Owner 返回 ENS 名称的持有者。
func (s *Service) Owner(ctx context.Context, name string) (string, error) {
	ens, err := s.ens(ctx)
	if err != nil {
		return "", err
	}
	addr, err := ens.Owner(ctx, name)
	return addressOrEmpty(addr, err)
}

// Resolver 返回 ENS 名称的解析器地址。
func (s *Service) Resolver(ctx context.Context, name string) (string, error) {
	ens, err := s.ens(ctx)
	if err != nil {
		return "", err
	}
	addr, err := ens.Resolver(ctx, name)
	return addressOrEmpty(addr, err)
}

// Text 读取 ENS 文本记录。
func (s *Service) Text(ctx context.Context, name, key string) (string, error) {
	ens, err := s.ens(ctx)
	if err != nil {
		return "", err
	}
	value, err := ens.Text(ctx, name, key)
	return stringOrEmpty(value, err)
}

func addressOrEmpty(addr common.Address, err error) (string, error) {
	if errors.Is(err, ErrNameNotFound) {
		return "", nil
	}
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "ENS 查询失败")
	}
	return addr.Hex(), nil
}

func stringOrEmpty(value string, err error) (string, error) {
	if errors.Is(err, ErrNameNotFound) {
		return "", nil
	}
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "ENS 查询失败")
	}
	return value, nil
}

// Resolution 是诊断中单个名称的解析结果。
type Resolution struct {
	Address     string `json:"address,omitempty"`
	ReverseName string `json:"reverse_name,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// DiagnosticReport 汇总 ENS 连通性检查。
type DiagnosticReport struct {
	ENSInitialized bool                  `json:"ens_initialized"`
	Web3Connected  bool                  `json:"web3_connected"`
	NetworkInfo    map[string]any        `json:"network_info"`
	TestResolution map[string]Resolution `json:"test_resolution"`
	Errors         []string              `json:"errors"`
	Summary        map[string]any        `json:"summary"`
}

// DiagnosticNames 是用于连通性测试的知名名称。
var DiagnosticNames = []string{"vitalik.eth", "ens.eth", "ethereum.eth"}

// Diagnostics 检查 ENS 链连接并解析几个知名名称。
func (s *Service) Diagnostics(ctx context.Context) DiagnosticReport {
	result := DiagnosticReport{
		NetworkInfo:    map[string]any{},
		TestResolution: map[string]Resolution{},
		Errors:         []string{},
	}

	client, err := s.chains.Client(ctx, s.ensChain)
	if err != nil {
		result.Errors = append(result.Errors, "ENS instance not initialized")
	} else {
		result.ENSInitialized = true
		snapshot, err := client.FetchChainSnapshot(ctx)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Web3 connection error: %v", err))
		} else {
			result.Web3Connected = true
			def, _ := s.chains.Definition(s.ensChain)
			result.NetworkInfo = map[string]any{
				"chain_id":     snapshot.ChainID,
				"block_number": snapshot.BlockNumber,
				"network":      def.Network,
			}
		}
	}

	successes := 0
	if result.ENSInitialized {
		ens := NewENS(client, s.registry)
		for _, name := range DiagnosticNames {
			addr, err := ens.Resolve(ctx, name)
			switch {
			case err == nil:
				entry := Resolution{Address: addr.Hex(), Success: true}
				if reverse, rerr := ens.Reverse(ctx, addr); rerr == nil {
					entry.ReverseName = reverse
				}
				result.TestResolution[name] = entry
				successes++
			case errors.Is(err, ErrNameNotFound):
				result.TestResolution[name] = Resolution{}
			default:
				result.TestResolution[name] = Resolution{Error: err.Error()}
				result.Errors = append(result.Errors, fmt.Sprintf("Resolution error for %s: %v", name, err))
			}
		}
	}

	result.Summary = map[string]any{
		"total_tests":            len(DiagnosticNames),
		"successful_resolutions": successes,
		"overall_success":        result.ENSInitialized && result.Web3Connected && successes > 0,
	}
	return result
}
