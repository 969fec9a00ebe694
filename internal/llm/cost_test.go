package llm

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCostEstimate(t *testing.T) {
	tests := []struct {
		name  string
		model string
		usage Usage
		want  string
	}{
		{
			name:  "gpt-4o-mini",
			model: "gpt-4o-mini",
			usage: Usage{PromptTokens: 1000, CompletionTokens: 1000},
			want:  "0.00075",
		},
		{
			// Longest prefix must win over the shorter "gpt-4o".
			name:  "dated mini snapshot",
			model: "gpt-4o-mini-2024-07-18",
			usage: Usage{PromptTokens: 2000, CompletionTokens: 500},
			want:  "0.0006",
		},
		{
			name:  "gpt-4o full",
			model: "gpt-4o",
			usage: Usage{PromptTokens: 1000, CompletionTokens: 1000},
			want:  "0.0125",
		},
		{
			name:  "unknown model uses default price",
			model: "some-local-model",
			usage: Usage{PromptTokens: 1000, CompletionTokens: 1000},
			want:  "0.003",
		},
		{
			name:  "zero usage",
			model: "gpt-4o-mini",
			usage: Usage{},
			want:  "0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CostEstimate(tt.model, tt.usage)
			want := decimal.RequireFromString(tt.want)
			assert.True(t, got.Equal(want), "CostEstimate = %s, want %s", got, want)
		})
	}
}

func TestCostEstimateSixDecimalPlaces(t *testing.T) {
	got := CostEstimate("gpt-4o-mini", Usage{PromptTokens: 7, CompletionTokens: 3})
	assert.GreaterOrEqual(t, got.Exponent(), int32(-6), "cost %s carries more than six decimal places", got)
	assert.True(t, got.IsPositive(), "cost %s must be positive for non-zero usage", got)
}
