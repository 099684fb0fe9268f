package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchTermsWithCaseChangingMultibyteText(t *testing.T) {
	// 'Ⱥ' 小写后字节数变长，偏移必须基于原文计算。
	content := strings.Repeat("Ⱥ", 400) + " Refund policy applies"
	require.NotPanics(t, func() {
		hits, found := SearchTerms(content, []string{"refund", "POLICY"}, 200)
		assert.Equal(t, 2, found)
		hit := hits["refund"]
		require.True(t, hit.Found)
		assert.Equal(t, strings.Index(content, "Refund"), hit.Position)
		require.NotNil(t, hit.Context)
		assert.Contains(t, *hit.Context, "Refund policy applies")
	})
}

func TestSearchTermsMissingAndEmptyTerms(t *testing.T) {
	hits, found := SearchTerms("Shipping takes 3 days.", []string{"", "warranty", "SHIPPING"}, 8)
	assert.Equal(t, 1, found)
	assert.Equal(t, -1, hits[""].Position)
	assert.Equal(t, -1, hits["warranty"].Position)
	assert.Equal(t, 0, hits["SHIPPING"].Position)
	assert.Equal(t, "Shipping takes 3", *hits["SHIPPING"].Context)
}

func TestSearchTermsTreatsTermLiterally(t *testing.T) {
	hits, found := SearchTerms("Total: $5.00 (incl. tax)", []string{"$5.00 (incl"}, 5)
	assert.Equal(t, 1, found)
	assert.True(t, hits["$5.00 (incl"].Found)
}
