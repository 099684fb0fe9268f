package wallet

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"AgentHub/internal/web3"
	"AgentHub/internal/web3/ethereum"
	"AgentHub/internal/web3/ethtest"
	"AgentHub/internal/web3/provider"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var resolverAddress = common.HexToAddress("0x00000000000000000000000000000000000000e5")

// fakeENS 模拟注册表与公共解析器。
type fakeENS struct {
	addrs map[common.Hash]common.Address
	names map[common.Hash]string
	texts map[string]string
}

func (f *fakeENS) handle(to common.Address, input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, errors.New("short input")
	}
	method, err := ENSABI.MethodById(input[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, err
	}
	node := common.Hash(args[0].([32]byte))

	switch method.Name {
	case "resolver":
		_, hasAddr := f.addrs[node]
		_, hasName := f.names[node]
		if to != RegistryAddress || (!hasAddr && !hasName) {
			return method.Outputs.Pack(common.Address{})
		}
		return method.Outputs.Pack(resolverAddress)
	case "owner":
		return method.Outputs.Pack(f.addrs[node])
	case "addr":
		return method.Outputs.Pack(f.addrs[node])
	case "name":
		return method.Outputs.Pack(f.names[node])
	case "text":
		return method.Outputs.Pack(f.texts[node.Hex()+"/"+args[1].(string)])
	}
	return nil, errors.New("unexpected method")
}

func newTestService(t *testing.T, ens *fakeENS) (*Service, *ethtest.Chain) {
	t.Helper()
	chain := ethtest.New(11155111)
	if ens != nil {
		chain.HandleCalls(ens.handle)
	}
	dial := func(ctx context.Context, name string, def web3.ChainDefinition) (web3.Client, error) {
		return ethereum.NewClientFromRPC(name, chain.Dial(), def.ChainID), nil
	}
	registry, err := provider.NewRegistryWithDialer(web3.DefaultChainDefinitions(), "ethereum", dial)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	cipher, err := NewKeyCipher("test-secret")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc, err := NewService(registry, cipher, WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	t.Cleanup(func() {
		registry.Close()
		chain.Close()
	})
	return svc, chain
}

func TestNamehashVectors(t *testing.T) {
	cases := map[string]string{
		"":        "0x0000000000000000000000000000000000000000000000000000000000000000",
		"eth":     "0x93cdeb708b7545dc668eb9280176169d1c33cfd8ed6f04690a0bcc88a93fc4ae",
		"foo.eth": "0xde9b09fd7c5f901e23a3f19fecc54828e9c848539801e86591bd9801b019f84f",
		"FOO.eth": "0xde9b09fd7c5f901e23a3f19fecc54828e9c848539801e86591bd9801b019f84f",
	}
	for name, want := range cases {
		if got := Namehash(name).Hex(); got != want {
			t.Fatalf("Namehash(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestKeyCipherRoundTrip(t *testing.T) {
	cipher, err := NewKeyCipher("secret")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	encrypted, err := cipher.Encrypt("0xdeadbeef")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if strings.Contains(encrypted, "deadbeef") {
		t.Fatalf("ciphertext leaks plaintext")
	}
	plain, err := cipher.Decrypt(encrypted)
	if err != nil || plain != "0xdeadbeef" {
		t.Fatalf("decrypt = %q, %v", plain, err)
	}

	other, _ := NewKeyCipher("other")
	if _, err := other.Decrypt(encrypted); err == nil || !strings.HasPrefix(err.Error(), "Failed to decrypt private key") {
		t.Fatalf("expected decrypt failure with wrong secret, got %v", err)
	}

	same, _ := NewKeyCipher("secret")
	if plain, err := same.Decrypt(encrypted); err != nil || plain != "0xdeadbeef" {
		t.Fatalf("cipher with same secret should decrypt: %q %v", plain, err)
	}
}

func TestEphemeralCipherExposesSecret(t *testing.T) {
	cipher, err := NewKeyCipher("")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	if !cipher.Ephemeral() || len(cipher.Secret()) != 64 {
		t.Fatalf("expected random 32 byte secret, got %q", cipher.Secret())
	}
	child, _ := NewKeyCipher(cipher.Secret())
	encrypted, _ := cipher.Encrypt("k")
	if plain, err := child.Decrypt(encrypted); err != nil || plain != "k" {
		t.Fatalf("child cipher failed: %q %v", plain, err)
	}
}

func TestGenerateWallet(t *testing.T) {
	svc, _ := newTestService(t, nil)

	record, err := svc.Generate("Ethereum")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !Validate(record) {
		t.Fatalf("invalid record %+v", record)
	}
	if record.Chain != "ethereum" || record.ChainID != 11155111 || record.NativeToken != "ETH" || record.Balance != "0" {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.CreatedAt != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected created_at %s", record.CreatedAt)
	}

	key, err := svc.PrivateKey(record)
	if err != nil {
		t.Fatalf("decrypt key: %v", err)
	}
	if crypto.PubkeyToAddress(key.PublicKey).Hex() != record.Address {
		t.Fatalf("decrypted key does not match address")
	}

	if _, err := svc.Generate("solana"); err == nil {
		t.Fatalf("expected unsupported chain error")
	}
}

func TestRefreshBalance(t *testing.T) {
	svc, chain := newTestService(t, nil)
	record, err := svc.Generate("ethereum")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	wei, _ := new(big.Int).SetString("1500000000000000000", 10)
	chain.SetBalance(common.HexToAddress(record.Address), wei)

	if err := svc.RefreshBalance(context.Background(), record); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if record.Balance != "1.5" || record.BalanceUpdatedAt == "" {
		t.Fatalf("unexpected balance %+v", record)
	}
}

func TestPrepareRegistrationUsesFallbackWhenTaken(t *testing.T) {
	taken := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	ens := &fakeENS{addrs: map[common.Hash]common.Address{Namehash("acmebot.eth"): taken}}
	svc, _ := newTestService(t, ens)

	record, err := svc.CreateAgentWallet(context.Background(), "Acme_Bot", "Acme", "ABCDEF1234567890", "ethereum")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if record.ENSName != "acmebotabcdef12.eth" {
		t.Fatalf("unexpected ens name %s", record.ENSName)
	}
	if record.ENSStatus != ENSStatusPrepared || record.ENSRegistered || record.ENSNetwork != "sepolia" {
		t.Fatalf("unexpected ens fields %+v", record)
	}
	if record.ENSAvailable == nil || !*record.ENSAvailable {
		t.Fatalf("fallback name should be available")
	}
	if !strings.Contains(record.ENSNote, "acmebotabcdef12.eth prepared for Sepolia testnet") {
		t.Fatalf("unexpected note %s", record.ENSNote)
	}
	if record.AgentID != "ABCDEF1234567890" || record.AgentName != "Acme_Bot" || record.CompanyName != "Acme" {
		t.Fatalf("agent metadata missing %+v", record)
	}
}

func TestPrepareRegistrationSkipsOtherChains(t *testing.T) {
	svc, _ := newTestService(t, &fakeENS{})
	record, err := svc.CreateAgentWallet(context.Background(), "bot", "Acme", "id", "polygon")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if record.ENSStatus != ENSStatusSkipped || record.ENSName != "" {
		t.Fatalf("expected skipped ens on polygon, got %+v", record)
	}
}

func TestResolveAndReverse(t *testing.T) {
	target := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	ens := &fakeENS{
		addrs: map[common.Hash]common.Address{Namehash("vitalik.eth"): target},
		names: map[common.Hash]string{Namehash(ReverseName(target)): "vitalik.eth"},
		texts: map[string]string{Namehash("vitalik.eth").Hex() + "/url": "https://vitalik.ca"},
	}
	svc, _ := newTestService(t, ens)
	ctx := context.Background()

	addr, err := svc.Resolve(ctx, "Vitalik.eth")
	if err != nil || addr != target.Hex() {
		t.Fatalf("resolve = %s, %v", addr, err)
	}
	name, err := svc.Reverse(ctx, target.Hex())
	if err != nil || name != "vitalik.eth" {
		t.Fatalf("reverse = %s, %v", name, err)
	}
	text, err := svc.Text(ctx, "vitalik.eth", "url")
	if err != nil || text != "https://vitalik.ca" {
		t.Fatalf("text = %s, %v", text, err)
	}
	missing, err := svc.Resolve(ctx, "nobody.eth")
	if err != nil || missing != "" {
		t.Fatalf("missing name should resolve to empty, got %s %v", missing, err)
	}
	if _, err := svc.Reverse(ctx, "not-an-address"); err == nil {
		t.Fatalf("expected invalid address error")
	}

	diag := svc.Diagnostics(ctx)
	if !diag.ENSInitialized || !diag.Web3Connected {
		t.Fatalf("unexpected diagnostics %+v", diag)
	}
	if !diag.TestResolution["vitalik.eth"].Success || diag.TestResolution["ens.eth"].Success {
		t.Fatalf("unexpected resolutions %+v", diag.TestResolution)
	}
	if diag.Summary["successful_resolutions"] != 1 || diag.Summary["overall_success"] != true {
		t.Fatalf("unexpected summary %+v", diag.Summary)
	}
}
