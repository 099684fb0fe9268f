package codegen

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"AgentHub/internal/refund"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleManifest() Manifest {
	return Manifest{
		Agent: Identity{
			ID:          "4bd2e5f3",
			Kind:        "company",
			Name:        "acme_support",
			CompanyID:   "acme",
			CompanyName: "Acme Pay",
			Host:        "127.0.0.1",
			Port:        8123,
			SeedPhrase:  "acme seed",
			Mailbox:     true,
		},
		WebhookURL:   "http://localhost:9000/hook",
		Capabilities: []string{"calculator", "refund_processing"},
		Tools:        []string{"calculate", "process_refund"},
		SystemPrompt: "You are an expert AI support agent for Acme Pay.\nBe precise.",
		Documents:    Documents{URLs: []string{"https://acme.test/policy.pdf"}},
		LLM:          LLM{BaseURL: "https://api.asi1.ai/v1", Model: "asi1-mini", APIKeyEnv: "ASI_API_KEY", MaxToolRounds: 3},
		Web3:         Web3{DefaultChain: "ethereum"},
		Refund: &refund.Config{
			MaxRefundAmount: "1000000000000000000",
			ExpectedAddress: "0x00000000000000000000000000000000000000aa",
		},
		Wallet: &Wallet{Address: "0x00000000000000000000000000000000000000bb", EncryptedPrivateKey: "c2VjcmV0", Chain: "ethereum", ChainID: 11155111},
	}
}

func TestRenderWriteLoadRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	content, err := Render(sampleManifest(), now)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(content, "# AgentHub agent manifest\n# agent:   acme_support (4bd2e5f3)\n# company: Acme Pay (acme)\n"))
	assert.Contains(t, content, "# tools:   calculate, process_refund\n")
	assert.Contains(t, content, "# generated at 2024-05-01T12:00:00Z\n")
	assert.Contains(t, content, "version: 1\n")

	root := t.TempDir()
	path, err := Write(root, "4bd2e5f3", content)
	require.NoError(t, err)
	assert.Equal(t, "agent_4bd2e5f3.yaml", filepath.Base(path))
	assert.Equal(t, "agent_4bd2e5f3", filepath.Base(filepath.Dir(path)))

	loaded, err := Load(path)
	require.NoError(t, err)
	want := sampleManifest()
	want.Version = ManifestVersion
	assert.Equal(t, want, *loaded)
}

func TestRenderValidates(t *testing.T) {
	m := sampleManifest()
	m.Agent.Port = 0
	_, err := Render(m, time.Now())
	assert.Error(t, err)

	m = sampleManifest()
	m.Agent.ID = ""
	_, err = Render(m, time.Now())
	assert.Error(t, err)
}

func TestRenderWithoutCompanyOrTools(t *testing.T) {
	m := Manifest{Agent: Identity{ID: "plain", Kind: "basic", Name: "echo", Port: 8001}}
	content, err := Render(m, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, content, "# company:")
	assert.Contains(t, content, "# tools:   none\n")
}

func TestLoadRejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 99\nagent:\n  id: x\n  name: y\n  port: 1\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestAddressSidecarAndRemove(t *testing.T) {
	root := t.TempDir()
	path, err := Write(root, "abc", "version: 1\n")
	require.NoError(t, err)

	_, ok := ReadAddress(path)
	assert.False(t, ok)

	require.NoError(t, WriteAddress(path, "agent1qxyz"))
	addr, ok := ReadAddress(path)
	assert.True(t, ok)
	assert.Equal(t, "agent1qxyz", addr)

	require.NoError(t, Remove(path))
	_, err = os.Stat(Dir(root, "abc"))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, Remove(path))
}

func TestHeaderKeepsNamesOnCommentLines(t *testing.T) {
	m := sampleManifest()
	m.Agent.Name = "Helper\nversion: 99"
	m.Agent.CompanyName = "Acme\r\nport: 1"
	content, err := Render(m, time.Now())
	require.NoError(t, err)
	assert.Contains(t, content, "# agent:   Helper version: 99 (4bd2e5f3)\n")
	assert.Contains(t, content, "# company: Acme  port: 1 (acme)\n")

	path, err := Write(t.TempDir(), m.Agent.ID, content)
	require.NoError(t, err)
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ManifestVersion, loaded.Version)
	assert.Equal(t, 8123, loaded.Agent.Port)
	assert.Equal(t, "Helper\nversion: 99", loaded.Agent.Name)
}

func TestRemoveDeletesAgentLogs(t *testing.T) {
	root := t.TempDir()
	path, err := Write(root, "abc", "version: 1\n")
	require.NoError(t, err)
	dir := Dir(root, "abc")
	for _, name := range []string{"agent_abc.out.log", "agent_abc.err.log"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("started\n"), 0o644))
	}

	require.NoError(t, Remove(path))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
