package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculate(t *testing.T) {
	cases := []struct {
		expr   string
		result string
		typ    string
	}{
		{"2 + 3 * 4", "14", "int"},
		{"(2 + 3) * 4", "20", "int"},
		{"10 / 4", "2.5", "float"},
		{"10 / 5", "2.0", "float"},
		{"7 // 2", "3", "int"},
		{"-7 // 2", "-4", "int"},
		{"-7 % 3", "2", "int"},
		{"2 ** 3 ** 2", "512", "int"},
		{"2^10", "1024", "int"},
		{"-2 ** 2", "-4", "int"},
		{"sqrt(16)", "4.0", "float"},
		{"max(1, 5, 3)", "5", "int"},
		{"round(2.5)", "2", "int"},
		{"factorial(5)", "120", "int"},
		{"log2(8)", "3.0", "float"},
		{"1_000 + 1", "1001", "int"},
		{"1e3", "1000.0", "float"},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			got := Calculate(tc.expr)
			if assert.True(t, got.Success, got.Error) {
				assert.Equal(t, tc.result, got.Result)
				assert.Equal(t, tc.typ, got.Type)
			}
		})
	}
}

func TestCalculateErrors(t *testing.T) {
	cases := map[string]string{
		"1 / 0":            "division by zero",
		"sqrt(-1)":         "math domain error",
		"foo + 1":          "name 'foo' is not defined",
		"2 +":              "unexpected end of expression",
		"(1 + 2":           "missing closing parenthesis",
		"__import__('os')": "invalid character '\\''",
		"":                 "expression is empty",
	}
	for expr, msg := range cases {
		got := Calculate(expr)
		assert.False(t, got.Success, expr)
		assert.Equal(t, msg, got.Error, expr)
	}
}

func TestCalculationText(t *testing.T) {
	assert.Equal(t, "CALCULATION RESULT:\n\nExpression: 1+1\nResult: 2\nType: int", Calculate("1+1").Text())
	assert.Equal(t, "Calculation error for '1/0': division by zero", Calculate("1/0").Text())
}
