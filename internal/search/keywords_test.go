package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseKeywords(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "lowercases and strips punctuation",
			raw:  "Oil, Prices!",
			want: []string{"oil", "prices"},
		},
		{
			name: "drops russian stopwords",
			raw:  "новости о ценах на нефть",
			want: []string{"новости", "ценах", "нефть"},
		},
		{
			name: "drops english stopwords",
			raw:  "the price of oil and gas",
			want: []string{"price", "oil", "gas"},
		},
		{
			name: "dedupes preserving first occurrence order",
			raw:  "oil gas oil",
			want: []string{"oil", "gas"},
		},
		{
			name: "guillemets and dashes",
			raw:  "«Газпром» — нефть",
			want: []string{"газпром", "нефть"},
		},
		{
			name: "empty input",
			raw:  "   ",
			want: []string{},
		},
		{
			name: "only stopwords",
			raw:  "и в на the of",
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseKeywords(tt.raw))
		})
	}
}
