package ranker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecencyFactor(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		publishedAt time.Time
		windowHours float64
		want        float64
	}{
		{"just published", now, 24, 1},
		{"future post clamps to one", now.Add(2 * time.Hour), 24, 1},
		{"half window", now.Add(-12 * time.Hour), 24, 0.5},
		{"at window edge", now.Add(-24 * time.Hour), 24, 0},
		{"past window", now.Add(-48 * time.Hour), 24, 0},
		{"zero window disables decay", now.Add(-100 * time.Hour), 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RecencyFactor(tt.publishedAt, now, tt.windowHours), 1e-9)
		})
	}
}

func TestCombinedScore(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cand := Candidate{RelativeEngagement: 0.4, PublishedAt: now.Add(-12 * time.Hour)}

	tests := []struct {
		name string
		cfg  Config
		want float64
	}{
		{"full recency weight", Config{WindowHours: 24, RecencyWeight: 1.0}, 0.2},
		{"no recency weight", Config{WindowHours: 24, RecencyWeight: 0}, 0.4},
		{"half recency weight", Config{WindowHours: 24, RecencyWeight: 0.5}, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.cfg.CombinedScore(cand, now), 1e-9)
		})
	}
}

type rankedPost struct {
	name string
	c    Candidate
}

func TestSortModes(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	posts := []rankedPost{
		{"old-popular", Candidate{ViewCount: 9000, ReactionScore: 50, RelativeEngagement: 0.9, PublishedAt: now.Add(-20 * time.Hour)}},
		{"fresh-modest", Candidate{ViewCount: 1000, ReactionScore: 200, RelativeEngagement: 0.2, PublishedAt: now.Add(-1 * time.Hour)}},
		{"middling", Candidate{ViewCount: 3000, ReactionScore: 80, RelativeEngagement: 0.5, PublishedAt: now.Add(-10 * time.Hour)}},
	}

	tests := []struct {
		mode  SortMode
		first string
	}{
		{SortViews, "old-popular"},
		{SortReactions, "fresh-modest"},
		{SortEngagement, "old-popular"},
		{SortRecency, "fresh-modest"},
		// combined: 0.9*(4/24)=0.15, 0.2*(23/24)≈0.192, 0.5*(14/24)≈0.292
		{SortCombined, "middling"},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			items := append([]rankedPost(nil), posts...)
			Sort(items, tt.mode, DefaultConfig(), now, func(p rankedPost) Candidate { return p.c })
			assert.Equal(t, tt.first, items[0].name)
		})
	}
}

func TestSortTieBreaks(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// Same view count; relative engagement must decide first.
	items := []rankedPost{
		{"lower-engagement", Candidate{ViewCount: 100, RelativeEngagement: 0.1, PublishedAt: now.Add(-2 * time.Hour)}},
		{"higher-engagement", Candidate{ViewCount: 100, RelativeEngagement: 0.3, PublishedAt: now.Add(-3 * time.Hour)}},
	}
	Sort(items, SortViews, DefaultConfig(), now, func(p rankedPost) Candidate { return p.c })
	assert.Equal(t, "higher-engagement", items[0].name, "tie-break by relative engagement")

	// Same engagement and views; newer post wins.
	items = []rankedPost{
		{"older", Candidate{ViewCount: 100, RelativeEngagement: 0.1, PublishedAt: now.Add(-5 * time.Hour)}},
		{"newer", Candidate{ViewCount: 100, RelativeEngagement: 0.1, PublishedAt: now.Add(-1 * time.Hour)}},
	}
	Sort(items, SortViews, DefaultConfig(), now, func(p rankedPost) Candidate { return p.c })
	assert.Equal(t, "newer", items[0].name, "tie-break by published time")
}

func TestParseSortMode(t *testing.T) {
	tests := []struct {
		raw  string
		want SortMode
	}{
		{"views", SortViews},
		{"reactions", SortReactions},
		{"engagement", SortEngagement},
		{"recency", SortRecency},
		{"combined", SortCombined},
		{"", SortCombined},
		{"bogus", SortCombined},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseSortMode(tt.raw), "ParseSortMode(%q)", tt.raw)
	}
}
