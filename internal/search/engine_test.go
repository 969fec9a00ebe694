package search

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tnsehq/tnse/internal/ranker"
	"github.com/tnsehq/tnse/internal/store"
)

type fakeSearcher struct {
	results   []store.SearchResult
	err       error
	calls     int
	gotParams store.SearchParams
}

func (f *fakeSearcher) SearchPosts(_ context.Context, p store.SearchParams) ([]store.SearchResult, error) {
	f.calls++
	f.gotParams = p
	return f.results, f.err
}

type fakeCache struct {
	entries map[string][]byte
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, bool) {
	raw, ok := f.entries[key]
	return raw, ok
}

func (f *fakeCache) Set(_ context.Context, key string, val []byte, _ time.Duration) {
	f.sets++
	f.entries[key] = val
}

func testResult(id string, publishedAt time.Time, views int, relEng float64) store.SearchResult {
	return store.SearchResult{
		Post: store.Post{
			ID:                id,
			TelegramMessageID: 100,
			PublishedAt:       publishedAt,
		},
		ChannelUsername: "testchannel",
		ChannelTitle:    "Test Channel",
		Text:            "oil prices climbed again",
		Engagement: &store.EngagementSnapshot{
			ViewCount:          views,
			ReactionScore:      5,
			RelativeEngagement: relEng,
		},
	}
}

func newEngine(t *testing.T, storage Searcher, cache Cache) *Engine {
	t.Helper()
	e := New(slog.Default(), storage, cache, Config{
		DefaultLimit:  10,
		WindowHours:   24,
		RecencyWeight: 0.3,
	})
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	return e
}

func TestSearchEmptyKeywords(t *testing.T) {
	searcher := &fakeSearcher{}
	e := newEngine(t, searcher, nil)

	page, err := e.Search(context.Background(), Query{})
	require.NoError(t, err)
	assert.Empty(t, page.Results)
	assert.Zero(t, page.Total)
	assert.Equal(t, 10, page.Limit, "empty page should carry the default limit")
	assert.Zero(t, searcher.calls, "storage must not be queried for an empty keyword set")
}

func TestSearchPassesNormalizedParams(t *testing.T) {
	searcher := &fakeSearcher{}
	e := newEngine(t, searcher, nil)

	_, err := e.Search(context.Background(), Query{Keywords: []string{"oil"}})
	require.NoError(t, err)
	wantCutoff := e.now().UTC().Add(-24 * time.Hour)
	assert.True(t, searcher.gotParams.Cutoff.Equal(wantCutoff),
		"cutoff = %v, want %v", searcher.gotParams.Cutoff, wantCutoff)
	assert.Equal(t, defaultCandidateLimit, searcher.gotParams.CandidateLimit)
}

func TestSearchRanksAndPages(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	searcher := &fakeSearcher{results: []store.SearchResult{
		testResult("old-popular", now.Add(-20*time.Hour), 9000, 0.9),
		testResult("fresh-quiet", now.Add(-1*time.Hour), 100, 0.1),
		testResult("balanced", now.Add(-6*time.Hour), 3000, 0.5),
	}}
	e := newEngine(t, searcher, nil)

	page, err := e.Search(context.Background(), Query{
		Keywords: []string{"oil"},
		Sort:     ranker.SortEngagement,
		Limit:    2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Results, 2)
	assert.Equal(t, "old-popular", page.Results[0].PostID)
	assert.Equal(t, "balanced", page.Results[1].PostID)
	assert.Positive(t, page.Results[0].Score, "combined score must be populated")

	// Second page holds the remainder.
	page2, err := e.Search(context.Background(), Query{
		Keywords: []string{"oil"},
		Sort:     ranker.SortEngagement,
		Limit:    2,
		Offset:   2,
	})
	require.NoError(t, err)
	require.Len(t, page2.Results, 1)
	assert.Equal(t, "fresh-quiet", page2.Results[0].PostID)

	// Offset past the end yields an empty page, not an error.
	page3, err := e.Search(context.Background(), Query{
		Keywords: []string{"oil"},
		Offset:   50,
	})
	require.NoError(t, err)
	assert.Empty(t, page3.Results)
	assert.Equal(t, 3, page3.Total)
}

func TestSearchCacheRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	searcher := &fakeSearcher{results: []store.SearchResult{
		testResult("p1", now.Add(-2*time.Hour), 500, 0.4),
	}}
	cache := newFakeCache()
	e := newEngine(t, searcher, cache)

	q := Query{Keywords: []string{"oil", "prices"}}
	first, err := e.Search(context.Background(), q)
	require.NoError(t, err)
	assert.False(t, first.Cached, "first search must not be served from cache")
	assert.Equal(t, 1, cache.sets)

	second, err := e.Search(context.Background(), q)
	require.NoError(t, err)
	assert.True(t, second.Cached, "second search should be a cache hit")
	assert.Equal(t, 1, searcher.calls)
	require.Len(t, second.Results, 1)
	assert.Equal(t, "p1", second.Results[0].PostID)

	// Keyword order must not fragment the cache.
	third, err := e.Search(context.Background(), Query{Keywords: []string{"prices", "oil"}})
	require.NoError(t, err)
	assert.True(t, third.Cached, "reordered keywords should hit the same cache entry")
}

func TestSearchCorruptCacheEntryIgnored(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	searcher := &fakeSearcher{results: []store.SearchResult{
		testResult("p1", now.Add(-1*time.Hour), 100, 0.2),
	}}
	cache := newFakeCache()
	e := newEngine(t, searcher, cache)

	q := Query{Keywords: []string{"oil"}}
	e.normalize(&q)
	cache.entries[CacheKey(q)] = []byte("{not json")

	page, err := e.Search(context.Background(), Query{Keywords: []string{"oil"}})
	require.NoError(t, err)
	assert.False(t, page.Cached, "corrupt entry must not be served as a hit")
	assert.Equal(t, 1, searcher.calls)
}

func TestSearchCancelledContextSkipsCacheSet(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	searcher := &fakeSearcher{results: []store.SearchResult{
		testResult("p1", now.Add(-1*time.Hour), 100, 0.2),
	}}
	cache := newFakeCache()
	e := newEngine(t, searcher, cache)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Search(ctx, Query{Keywords: []string{"oil"}})
	require.Error(t, err)
	assert.Zero(t, cache.sets, "cancelled search must not populate the cache")
}

func TestCacheKeyDistinguishesQueryShape(t *testing.T) {
	base := Query{Keywords: []string{"oil"}, MaxAgeHours: 24, Sort: ranker.SortCombined, Limit: 10}
	variants := []Query{
		{Keywords: []string{"gas"}, MaxAgeHours: 24, Sort: ranker.SortCombined, Limit: 10},
		{Keywords: []string{"oil"}, MaxAgeHours: 48, Sort: ranker.SortCombined, Limit: 10},
		{Keywords: []string{"oil"}, MaxAgeHours: 24, Sort: ranker.SortViews, Limit: 10},
		{Keywords: []string{"oil"}, MaxAgeHours: 24, Sort: ranker.SortCombined, Limit: 10, Offset: 10},
		{Keywords: []string{"oil"}, MaxAgeHours: 24, Sort: ranker.SortCombined, Limit: 10, Category: "economy"},
	}
	baseKey := CacheKey(base)
	for i, v := range variants {
		assert.NotEqual(t, baseKey, CacheKey(v), "variant %d produced the same key as the base query", i)
	}
}
