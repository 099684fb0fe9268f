package capability

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateListsAvailableSet(t *testing.T) {
	ok := Validate([]string{Calculator, RefundProcessing})
	assert.True(t, ok.Valid)
	assert.Empty(t, ok.Invalid)
	assert.Equal(t, Available(), ok.Available)
	assert.Len(t, ok.Available, 9)

	bad := Validate([]string{Calculator, "teleportation", "Calculator"})
	assert.False(t, bad.Valid)
	assert.Equal(t, []string{"teleportation", "Calculator"}, bad.Invalid)
	assert.Equal(t, Available(), bad.Available)

	empty := Validate(nil)
	assert.True(t, empty.Valid)
	assert.NotNil(t, empty.Invalid)
}

func TestToolsForConcatenatesWithoutDuplicates(t *testing.T) {
	names := ToolNames([]string{DocumentReference, RefundProcessing, DocumentReference, CustomerSupport})
	assert.Equal(t, []string{
		ToolSearchDocuments,
		ToolProcessRefund,
		ToolValidateRefund,
		ToolOverpaymentRefund,
	}, names)

	assert.Empty(t, ToolsFor([]string{BillingSupport, GeneralInquiries}))
}

func TestToolSchemasAreStrictObjects(t *testing.T) {
	for _, tool := range ToolsFor(Available()) {
		params := tool.Function.Parameters
		require.Equal(t, "object", params["type"], tool.Function.Name)
		require.Equal(t, false, params["additionalProperties"], tool.Function.Name)
		required, ok := params["required"].([]string)
		require.True(t, ok, tool.Function.Name)
		props := params["properties"].(map[string]any)
		for _, field := range required {
			_, ok := props[field]
			assert.True(t, ok, "%s requires undeclared %s", tool.Function.Name, field)
		}
	}
}

func TestSystemPrompt(t *testing.T) {
	prompt := SystemPrompt(PromptInput{
		CompanyName:  "Acme Pay",
		Capabilities: []string{Calculator, "unknown"},
		Products:     []string{"Checkout", "Links"},
	})

	assert.True(t, strings.HasPrefix(prompt, "You are an expert AI support agent for Acme Pay"))
	assert.Contains(t, prompt, "- Perform mathematical calculations and evaluations\n")
	assert.Contains(t, prompt, "- calculate: Perform mathematical calculations and evaluations safely")
	assert.Contains(t, prompt, "COMPANY PRODUCTS/SERVICES: Checkout, Links")
	assert.Contains(t, prompt, "SUPPORT CATEGORIES: general, technical, billing")
	assert.NotContains(t, prompt, "process_refund")
}

func TestDescribeAndHas(t *testing.T) {
	infos := Describe()
	require.Len(t, infos, 9)
	assert.Equal(t, DocumentReference, infos[0].Name)
	assert.Equal(t, []string{ToolSearchDocuments}, infos[0].Tools)
	assert.Empty(t, infos[8].Tools)

	assert.True(t, Has([]string{"Refund_Processing"}, RefundProcessing))
	assert.False(t, Has(nil, Calculator))
}
