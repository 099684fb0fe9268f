package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type         string `yaml:"type"`
	RPCURL       string `yaml:"rpc_url"`
	RPCURLEnv    string `yaml:"rpc_url_env"`
	ChainID      int64  `yaml:"chain_id"`
	Network      string `yaml:"network"`
	NativeToken  string `yaml:"native_token"`
	VerifierName string `yaml:"verifier_name"`
	ENS          bool   `yaml:"ens"`
	Description  string `yaml:"description"`
}

// ResolveRPCURL returns the RPC endpoint, preferring the environment override.
func (d ChainDefinition) ResolveRPCURL() string {
	if d.RPCURLEnv != "" {
		if v := strings.TrimSpace(os.Getenv(d.RPCURLEnv)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(d.RPCURL)
}

// DefaultChainDefinitions returns the built-in testnet definitions.
func DefaultChainDefinitions() ChainDefinitions {
	return ChainDefinitions{Chains: map[string]ChainDefinition{
		"ethereum": {
			Type:         "evm",
			RPCURL:       "https://sepolia.gateway.tenderly.co",
			RPCURLEnv:    "ETHEREUM_RPC_URL",
			ChainID:      11155111,
			Network:      "sepolia",
			NativeToken:  "ETH",
			VerifierName: "eth-sepolia",
			ENS:          true,
			Description:  "Ethereum Sepolia testnet",
		},
		"polygon": {
			Type:         "evm",
			RPCURL:       "https://polygon-amoy-bor-rpc.publicnode.com",
			RPCURLEnv:    "POLYGON_RPC_URL",
			ChainID:      80002,
			Network:      "amoy",
			NativeToken:  "AMOY",
			VerifierName: "polygon-amoy",
			Description:  "Polygon Amoy testnet",
		},
		"bsc": {
			Type:         "evm",
			RPCURL:       "https://sepolia.base.org",
			RPCURLEnv:    "BASE_RPC_URL",
			ChainID:      84532,
			Network:      "base-sepolia",
			NativeToken:  "ETH",
			VerifierName: "base-sepolia",
			Description:  "Base Sepolia testnet",
		},
	}}
}

// LoadChainDefinitions parses the YAML file containing chain metadata and
// merges it over the built-in definitions.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	defs := DefaultChainDefinitions()
	if strings.TrimSpace(path) == "" {
		return defs, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var loaded ChainDefinitions
	if err := yaml.Unmarshal(content, &loaded); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	for name, chain := range loaded.Chains {
		defs.Chains[strings.ToLower(strings.TrimSpace(name))] = chain
	}
	return defs, nil
}

// Lookup finds a chain by case-insensitive name.
func (d ChainDefinitions) Lookup(name string) (ChainDefinition, bool) {
	chain, ok := d.Chains[strings.ToLower(strings.TrimSpace(name))]
	return chain, ok
}

// Names returns the sorted chain names.
func (d ChainDefinitions) Names() []string {
	names := make([]string, 0, len(d.Chains))
	for name := range d.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
