package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"AgentHub/internal/config"
	"AgentHub/internal/web3"
	"AgentHub/internal/web3/ethereum"
)

// Dialer creates a client for a chain definition.
type Dialer func(ctx context.Context, name string, def web3.ChainDefinition) (web3.Client, error)

// Registry manages a set of chain clients keyed by human readable names.
// Clients are dialed on first use and cached afterwards.
type Registry struct {
	defaultChain string
	defs         web3.ChainDefinitions
	dial         Dialer

	mu      sync.Mutex
	clients map[string]web3.Client
}

// NewRegistry loads chain definitions and prepares lazy EVM clients.
func NewRegistry(cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	return NewRegistryWithDialer(defs, cfg.DefaultChain, DialEVM)
}

// NewRegistryWithDialer builds a registry around a custom dialer.
func NewRegistryWithDialer(defs web3.ChainDefinitions, defaultChain string, dial Dialer) (*Registry, error) {
	if len(defs.Chains) == 0 {
		return nil, errors.New("未配置任何链")
	}
	if dial == nil {
		return nil, errors.New("未提供链客户端构造函数")
	}
	defaultChain = strings.ToLower(strings.TrimSpace(defaultChain))
	if defaultChain == "" {
		defaultChain = defs.Names()[0]
	}
	if _, ok := defs.Lookup(defaultChain); !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	return &Registry{
		defaultChain: defaultChain,
		defs:         defs,
		dial:         dial,
		clients:      make(map[string]web3.Client),
	}, nil
}

// DialEVM connects to an EVM chain over JSON-RPC.
func DialEVM(ctx context.Context, name string, def web3.ChainDefinition) (web3.Client, error) {
	chainType := strings.ToLower(strings.TrimSpace(def.Type))
	if chainType != "" && chainType != "evm" {
		return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, def.Type)
	}
	client, err := ethereum.NewClient(ctx, ethereum.Config{
		Name:    name,
		RPCURL:  def.ResolveRPCURL(),
		ChainID: def.ChainID,
		Notes:   def.Description,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Client returns the chain client identified by name, dialing it on first use.
func (r *Registry) Client(ctx context.Context, name string) (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = r.defaultChain
	}
	def, ok := r.defs.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("Unsupported chain: %s", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[key]; ok {
		return client, nil
	}
	client, err := r.dial(ctx, key, def)
	if err != nil {
		return nil, fmt.Errorf("初始化链 %s 失败: %w", key, err)
	}
	r.clients[key] = client
	return client, nil
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient(ctx context.Context) (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	return r.Client(ctx, r.defaultChain)
}

// DefaultChain returns the default chain name.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// Definition returns the static metadata of a chain.
func (r *Registry) Definition(name string) (web3.ChainDefinition, bool) {
	if r == nil {
		return web3.ChainDefinition{}, false
	}
	return r.defs.Lookup(name)
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of configured chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	return r.defs.Names()
}
