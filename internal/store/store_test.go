package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tnsehq/tnse/internal/db"
)

// testStore connects to the database named by TEST_POSTGRES_DSN, running
// migrations first. Tests are skipped when the variable is unset.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	require.NoError(t, db.Migrate(dsn))
	pool, err := db.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return New(slog.Default(), pool)
}

func createTestChannel(t *testing.T, s *Store, username string, subscribers int) Channel {
	t.Helper()
	ch, err := s.CreateChannel(context.Background(), Channel{
		TelegramID:      time.Now().UnixNano(),
		AccessHash:      12345,
		Username:        username,
		Title:           "Test " + username,
		SubscriberCount: subscribers,
		IsActive:        true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := s.HardDeleteChannel(context.Background(), ch.ID); err != nil {
			t.Logf("cleanup channel %s: %v", ch.ID, err)
		}
	})
	return ch
}

func testMessage(id int64, text string, publishedAt time.Time) CollectedMessage {
	return CollectedMessage{
		TelegramMessageID:  id,
		PublishedAt:        publishedAt,
		Text:               text,
		Language:           "ru",
		ViewCount:          1000,
		ForwardCount:       10,
		ReactionScore:      25,
		RelativeEngagement: 0.1035,
		Reactions:          map[string]int{"👍": 20, "❤": 5},
	}
}

func TestInsertBatchAndCursor(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	ch := createTestChannel(t, s, fmt.Sprintf("cursor%d", time.Now().UnixNano()), 10000)
	now := time.Now().UTC().Truncate(time.Second)

	res, err := s.InsertBatch(ctx, ch.ID, []CollectedMessage{
		testMessage(101, "нефть подорожала", now.Add(-2*time.Hour)),
		testMessage(102, "газ подешевел", now.Add(-1*time.Hour)),
	}, 102)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Zero(t, res.Duplicates)
	assert.Empty(t, res.Failed)

	got, err := s.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastCollectedMessageID)
	assert.EqualValues(t, 102, *got.LastCollectedMessageID)
	assert.NotNil(t, got.LastCollectedAt, "LastCollectedAt must be set after a batch")

	// Re-inserting the same ids must dedupe, not error, and the cursor
	// must not move backwards.
	res, err = s.InsertBatch(ctx, ch.ID, []CollectedMessage{
		testMessage(101, "нефть подорожала", now.Add(-2*time.Hour)),
		testMessage(103, "новый пост", now),
	}, 101)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Duplicates)

	got, err = s.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 102, *got.LastCollectedMessageID, "cursor must not move backwards")
}

func TestInsertBatchSnapshotAndReactions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	ch := createTestChannel(t, s, fmt.Sprintf("snap%d", time.Now().UnixNano()), 10000)
	now := time.Now().UTC().Truncate(time.Second)

	_, err := s.InsertBatch(ctx, ch.ID, []CollectedMessage{testMessage(201, "пост", now)}, 201)
	require.NoError(t, err)

	results, err := s.SearchPosts(ctx, SearchParams{
		Keywords:       []string{"пост"},
		Cutoff:         now.Add(-time.Hour),
		CandidateLimit: 10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	post := results[0].Post

	snap, err := s.LatestSnapshot(ctx, post.ID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 1000, snap.ViewCount)
	assert.Equal(t, 25, snap.ReactionScore)

	reactions, err := s.SnapshotReactions(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, reactions["👍"])
	assert.Equal(t, 5, reactions["❤"])
}

func TestSearchPostsFullTextAndKeywordArms(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	ch := createTestChannel(t, s, fmt.Sprintf("search%d", time.Now().UnixNano()), 10000)
	now := time.Now().UTC().Truncate(time.Second)

	_, err := s.InsertBatch(ctx, ch.ID, []CollectedMessage{
		testMessage(301, "цены на нефть выросли", now.Add(-1*time.Hour)),
		testMessage(302, "совсем другая тема", now.Add(-1*time.Hour)),
		testMessage(303, "старая новость про нефть", now.Add(-72*time.Hour)),
	}, 303)
	require.NoError(t, err)

	results, err := s.SearchPosts(ctx, SearchParams{
		Keywords:       []string{"нефть"},
		Cutoff:         now.Add(-24 * time.Hour),
		CandidateLimit: 10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1, "window must exclude the old post")
	assert.EqualValues(t, 301, results[0].Post.TelegramMessageID)
	assert.NotNil(t, results[0].Engagement, "candidate must join its engagement snapshot")

	// The implicit-keyword arm matches posts whose text never mentions the
	// term once enrichment has extracted it.
	enriched := results[0]
	_, err = s.InsertEnrichment(ctx, Enrichment{
		PostID:           enriched.Post.ID,
		ExplicitKeywords: []string{"нефть", "цены"},
		ImplicitKeywords: []string{"энергетика"},
		Category:         "economy",
		Sentiment:        "neutral",
		Entities:         Entities{Persons: []string{}, Organizations: []string{}, Locations: []string{}},
		ModelUsed:        "gpt-4o-mini",
	})
	require.NoError(t, err)

	results, err = s.SearchPosts(ctx, SearchParams{
		Keywords:          []string{"энергетика"},
		Cutoff:            now.Add(-24 * time.Hour),
		IncludeEnrichment: true,
		CandidateLimit:    10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1, "keyword arm must surface the enriched post")
	assert.Equal(t, enriched.Post.ID, results[0].Post.ID)

	// Category filter excludes non-matching enrichments.
	results, err = s.SearchPosts(ctx, SearchParams{
		Keywords:          []string{"нефть"},
		Cutoff:            now.Add(-24 * time.Hour),
		IncludeEnrichment: true,
		Category:          "sports",
		CandidateLimit:    10,
	})
	require.NoError(t, err)
	assert.Empty(t, results, "category filter must not leak candidates")
}

func TestEnrichmentLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	ch := createTestChannel(t, s, fmt.Sprintf("enrich%d", time.Now().UnixNano()), 5000)
	now := time.Now().UTC().Truncate(time.Second)

	_, err := s.InsertBatch(ctx, ch.ID, []CollectedMessage{testMessage(401, "текст для обогащения", now)}, 401)
	require.NoError(t, err)

	pending, err := s.ListUnenriched(ctx, 100)
	require.NoError(t, err)
	var post *UnenrichedPost
	for i := range pending {
		if pending[i].TextContent == "текст для обогащения" {
			post = &pending[i]
		}
	}
	require.NotNil(t, post, "freshly inserted post missing from the unenriched queue")

	e := Enrichment{
		PostID:           post.PostID,
		ExplicitKeywords: []string{"текст"},
		ImplicitKeywords: []string{},
		Category:         "other",
		Sentiment:        "neutral",
		Entities:         Entities{Persons: []string{}, Organizations: []string{}, Locations: []string{}},
		ModelUsed:        "gpt-4o-mini",
		TokenCount:       321,
	}
	_, err = s.InsertEnrichment(ctx, e)
	require.NoError(t, err)
	_, err = s.InsertEnrichment(ctx, e)
	require.ErrorIs(t, err, ErrAlreadyEnriched)

	pending, err = s.ListUnenriched(ctx, 100)
	require.NoError(t, err)
	for _, p := range pending {
		assert.NotEqual(t, post.PostID, p.PostID, "enriched post must leave the queue")
	}
}

func TestUsageLedger(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	dayStart := time.Now().UTC().Add(-time.Minute)

	before, err := s.DailyCostSince(ctx, dayStart)
	require.NoError(t, err)

	entry, err := s.InsertUsage(ctx, UsageEntry{
		Model:            "gpt-4o-mini",
		PromptTokens:     400,
		CompletionTokens: 100,
		TotalTokens:      500,
		EstimatedCostUSD: decimal.RequireFromString("0.000120"),
		TaskName:         "enrichment",
		PostsProcessed:   1,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID, "inserted usage entry must carry an id")

	after, err := s.DailyCostSince(ctx, dayStart)
	require.NoError(t, err)
	delta := after.Sub(before)
	assert.True(t, delta.Equal(decimal.RequireFromString("0.000120")),
		"daily cost delta = %s, want 0.000120", delta)

	entries, err := s.ListUsage(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "gpt-4o-mini", entries[0].Model)
}

func TestTopicLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	name := fmt.Sprintf("topic-%d", time.Now().UnixNano())

	saved, err := s.SaveTopic(ctx, SavedTopic{
		Name:     name,
		Keywords: []string{"нефть", "цены"},
		SortMode: "combined",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.DeleteTopic(context.Background(), name) })

	// Saving under the same name overwrites the keyword set.
	updated, err := s.SaveTopic(ctx, SavedTopic{
		Name:     name,
		Keywords: []string{"газ"},
		SortMode: "views",
	})
	require.NoError(t, err)
	assert.Equal(t, saved.ID, updated.ID, "update must not create a new row")

	got, err := s.GetTopic(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, []string{"газ"}, got.Keywords)
	assert.Equal(t, "views", got.SortMode)

	require.NoError(t, s.DeleteTopic(ctx, name))
	require.ErrorIs(t, s.DeleteTopic(ctx, name), ErrTopicNotFound)
}

func TestChannelLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	username := fmt.Sprintf("life%d", time.Now().UnixNano())
	ch := createTestChannel(t, s, username, 100)

	dup := ch
	dup.ID = ""
	_, err := s.CreateChannel(ctx, dup)
	require.ErrorIs(t, err, ErrChannelExists)

	require.NoError(t, s.SetChannelActive(ctx, ch.ID, false))
	active, err := s.ListActiveChannels(ctx)
	require.NoError(t, err)
	for _, a := range active {
		assert.NotEqual(t, ch.ID, a.ID, "deactivated channel still listed as active")
	}

	require.NoError(t, s.RecordHealth(ctx, ch.ID, HealthRateLimited, "flood wait 30s"))
	health, err := s.LatestHealth(ctx, ch.ID)
	require.NoError(t, err)
	require.NotNil(t, health)
	assert.Equal(t, HealthRateLimited, health.Status)
}
