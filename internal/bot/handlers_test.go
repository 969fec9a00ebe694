package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tnsehq/tnse/internal/ranker"
)

func TestParseSearchArgs(t *testing.T) {
	tests := []struct {
		name         string
		args         string
		wantKeywords []string
		wantSort     ranker.SortMode
		wantHours    int
		wantCategory string
		wantEnriched bool
		wantErr      bool
	}{
		{
			name:         "plain keywords",
			args:         "Oil Prices",
			wantKeywords: []string{"oil", "prices"},
			wantEnriched: true,
		},
		{
			name:         "filters mixed with keywords",
			args:         "нефть sort:views hours:48 category:Economy",
			wantKeywords: []string{"нефть"},
			wantSort:     ranker.SortViews,
			wantHours:    48,
			wantCategory: "economy",
			wantEnriched: true,
		},
		{
			name:         "unknown filter key treated as keyword",
			args:         "re:invent summit",
			wantKeywords: []string{"re:invent", "summit"},
			wantEnriched: true,
		},
		{
			name:    "non-numeric hours rejected",
			args:    "oil hours:soon",
			wantErr: true,
		},
		{
			name:    "negative hours rejected",
			args:    "oil hours:-4",
			wantErr: true,
		},
		{
			name:         "invalid sort falls back to combined",
			args:         "oil sort:bogus",
			wantKeywords: []string{"oil"},
			wantSort:     ranker.SortCombined,
			wantEnriched: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := parseSearchArgs(tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKeywords, q.Keywords)
			assert.Equal(t, tt.wantSort, q.Sort)
			assert.Equal(t, tt.wantHours, q.MaxAgeHours)
			assert.Equal(t, tt.wantCategory, q.Category)
			assert.Equal(t, tt.wantEnriched, q.IncludeEnrichment)
		})
	}
}

func TestTruncateText(t *testing.T) {
	long := make([]rune, maxMessageLength+50)
	for i := range long {
		long[i] = 'щ'
	}
	got := truncateText(string(long))
	runes := []rune(got)
	assert.LessOrEqual(t, len(runes), maxMessageLength)
	assert.Equal(t, "...", string(runes[len(runes)-3:]), "truncated message must end with ellipsis")

	assert.Equal(t, "short", truncateText("short"), "short message must pass through unchanged")
}
