package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"AgentHub/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// RegistryAddress 是 ENS 注册表在主网与 Sepolia 上的统一地址。
var RegistryAddress = common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")

const ensABIJSON = `[
 {"type":"function","name":"resolver","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"owner","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"addr","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"name","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"text","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"},{"name":"key","type":"string"}],"outputs":[{"name":"","type":"string"}]}
]`

// ENSABI 同时覆盖注册表与公共解析器用到的方法。
var ENSABI = mustParseABI(ensABIJSON)

// ErrNameNotFound 表示名称没有解析器或记录。
var ErrNameNotFound = errors.New("ens name not found")

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse ens abi: %v", err))
	}
	return parsed
}

// Namehash 计算 EIP-137 定义的名称哈希。
func Namehash(name string) common.Hash {
	var node common.Hash
	name = NormalizeName(name)
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := crypto.Keccak256([]byte(labels[i]))
		node = common.BytesToHash(crypto.Keccak256(node.Bytes(), labelHash))
	}
	return node
}

// NormalizeName 做最基本的规范化：去空白并转小写。
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ReverseName 返回地址对应的反向解析名称。
func ReverseName(addr common.Address) string {
	return strings.ToLower(strings.TrimPrefix(addr.Hex(), "0x")) + ".addr.reverse"
}

// ENS 通过注册表合约完成名称查询。
type ENS struct {
	client   web3.Client
	registry common.Address
}

// NewENS 创建 ENS 查询器。
func NewENS(client web3.Client, registry common.Address) *ENS {
	if registry == (common.Address{}) {
		registry = RegistryAddress
	}
	return &ENS{client: client, registry: registry}
}

// Owner 返回名称的持有者。
func (e *ENS) Owner(ctx context.Context, name string) (common.Address, error) {
	return e.callAddress(ctx, e.registry, "owner", Namehash(name))
}

// Resolver 返回名称的解析器合约地址。
func (e *ENS) Resolver(ctx context.Context, name string) (common.Address, error) {
	return e.callAddress(ctx, e.registry, "resolver", Namehash(name))
}

// Resolve 将名称解析为地址。
func (e *ENS) Resolve(ctx context.Context, name string) (common.Address, error) {
	node := Namehash(name)
	resolver, err := e.callAddress(ctx, e.registry, "resolver", node)
	if err != nil {
		return common.Address{}, err
	}
	return e.callAddress(ctx, resolver, "addr", node)
}

// Reverse 返回地址的主名称。
func (e *ENS) Reverse(ctx context.Context, addr common.Address) (string, error) {
	node := Namehash(ReverseName(addr))
	resolver, err := e.callAddress(ctx, e.registry, "resolver", node)
	if err != nil {
		return "", err
	}
	return e.callString(ctx, resolver, "name", node)
}

// Text 读取名称的文本记录。
func (e *ENS) Text(ctx context.Context, name, key string) (string, error) {
	node := Namehash(name)
	resolver, err := e.callAddress(ctx, e.registry, "resolver", node)
	if err != nil {
		return "", err
	}
	return e.callString(ctx, resolver, "text", node, key)
}

func (e *ENS) call(ctx context.Context, to common.Address, method string, args ...any) ([]any, error) {
	if e == nil || e.client == nil {
		return nil, errors.New("ENS not initialized")
	}
	input, err := ENSABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 调用失败: %w", method, err)
	}
	out, err := e.client.CallContract(ctx, gethcore.CallMsg{To: &to, Data: input})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNameNotFound
	}
	values, err := ENSABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("解析 %s 返回值失败: %w", method, err)
	}
	if len(values) == 0 {
		return nil, ErrNameNotFound
	}
	return values, nil
}

func (e *ENS) callAddress(ctx context.Context, to common.Address, method string, node common.Hash) (common.Address, error) {
	values, err := e.call(ctx, to, method, [32]byte(node))
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok || addr == (common.Address{}) {
		return common.Address{}, ErrNameNotFound
	}
	return addr, nil
}

func (e *ENS) callString(ctx context.Context, to common.Address, method string, node common.Hash, extra ...any) (string, error) {
	args := append([]any{[32]byte(node)}, extra...)
	values, err := e.call(ctx, to, method, args...)
	if err != nil {
		return "", err
	}
	text, ok := values[0].(string)
	if !ok || text == "" {
		return "", ErrNameNotFound
	}
	return text, nil
}
