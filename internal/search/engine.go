// Package search runs hybrid keyword queries over collected posts and ranks
// the results.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tnsehq/tnse/internal/ranker"
	"github.com/tnsehq/tnse/internal/store"
)

// defaultCandidateLimit bounds the raw candidate set handed to the ranker.
const defaultCandidateLimit = 500

// Query is one search request. Keywords is the normalized form; callers
// holding raw user text go through ParseKeywords first.
type Query struct {
	Keywords    []string
	MaxAgeHours int
	Sort        ranker.SortMode
	// Category and Sentiment filter on enrichment annotations; either empty
	// string means no filter.
	Category  string
	Sentiment string
	// IncludeEnrichment extends matching to LLM-extracted keyword arrays.
	IncludeEnrichment bool
	Limit             int
	Offset            int
}

// Result is one ranked search hit.
type Result struct {
	PostID          string    `json:"post_id"`
	ChannelUsername string    `json:"channel_username"`
	ChannelTitle    string    `json:"channel_title"`
	MessageID       int64     `json:"message_id"`
	Text            string    `json:"text"`
	PublishedAt     time.Time `json:"published_at"`
	ViewCount       int       `json:"view_count"`
	ForwardCount    int       `json:"forward_count"`
	ReactionScore   float64   `json:"reaction_score"`
	Engagement      float64   `json:"engagement"`
	Score           float64   `json:"score"`
	Category        string    `json:"category,omitempty"`
	Sentiment       string    `json:"sentiment,omitempty"`
}

// Page is one page of ranked results plus totals over the full match set.
type Page struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
	// Cached reports whether the page was served from the result cache.
	Cached bool `json:"-"`
}

// Searcher is the storage surface the engine queries.
type Searcher interface {
	SearchPosts(ctx context.Context, p store.SearchParams) ([]store.SearchResult, error)
}

// Config tunes the engine.
type Config struct {
	CacheTTL       time.Duration
	DefaultLimit   int
	WindowHours    int
	RecencyWeight  float64
	CandidateLimit int
}

// Engine executes queries: cache lookup, candidate query, ranking, paging.
type Engine struct {
	storage Searcher
	cache   Cache
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// New builds an Engine. A nil cache disables result caching.
func New(log *slog.Logger, storage Searcher, cache Cache, cfg Config) *Engine {
	if cache == nil {
		cache = noopCache{}
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = 24
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = defaultCandidateLimit
	}
	return &Engine{
		storage: storage,
		cache:   cache,
		cfg:     cfg,
		logger:  log.With(slog.String("service", "search")),
		now:     time.Now,
	}
}

// Search runs one query. An empty keyword set returns an empty page without
// touching storage. Cache failures degrade to a normal query; a cancelled
// search never populates the cache.
func (e *Engine) Search(ctx context.Context, q Query) (Page, error) {
	e.normalize(&q)
	if len(q.Keywords) == 0 {
		return Page{Results: []Result{}, Limit: q.Limit, Offset: q.Offset}, nil
	}

	key := CacheKey(q)
	if raw, ok := e.cache.Get(ctx, key); ok {
		var page Page
		if err := json.Unmarshal(raw, &page); err == nil {
			page.Cached = true
			return page, nil
		}
		e.logger.Debug("discarding undecodable cache entry", slog.String("key", key))
	}

	now := e.now().UTC()
	cutoff := now.Add(-time.Duration(q.MaxAgeHours) * time.Hour)
	candidates, err := e.storage.SearchPosts(ctx, store.SearchParams{
		Keywords:          q.Keywords,
		Cutoff:            cutoff,
		IncludeEnrichment: q.IncludeEnrichment,
		Category:          q.Category,
		Sentiment:         q.Sentiment,
		CandidateLimit:    e.cfg.CandidateLimit,
	})
	if err != nil {
		return Page{}, fmt.Errorf("search query: %w", err)
	}

	page := e.rank(candidates, q, now)

	if ctx.Err() == nil {
		if raw, err := json.Marshal(page); err == nil {
			e.cache.Set(ctx, key, raw, e.cfg.CacheTTL)
		}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return page, ctx.Err()
	}
	return page, nil
}

func (e *Engine) normalize(q *Query) {
	if q.Limit <= 0 {
		q.Limit = e.cfg.DefaultLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.MaxAgeHours <= 0 {
		q.MaxAgeHours = e.cfg.WindowHours
	}
	if q.Sort == "" {
		q.Sort = ranker.SortCombined
	}
}

// rank orders the full candidate set and slices out the requested page.
func (e *Engine) rank(candidates []store.SearchResult, q Query, now time.Time) Page {
	rcfg := ranker.Config{
		WindowHours:   float64(q.MaxAgeHours),
		RecencyWeight: e.cfg.RecencyWeight,
	}
	ranker.Sort(candidates, q.Sort, rcfg, now, candidateMetrics)

	page := Page{
		Results: []Result{},
		Total:   len(candidates),
		Limit:   q.Limit,
		Offset:  q.Offset,
	}
	start := q.Offset
	if start > len(candidates) {
		start = len(candidates)
	}
	end := start + q.Limit
	if end > len(candidates) {
		end = len(candidates)
	}
	for _, c := range candidates[start:end] {
		r := Result{
			PostID:          c.Post.ID,
			ChannelUsername: c.ChannelUsername,
			ChannelTitle:    c.ChannelTitle,
			MessageID:       c.Post.TelegramMessageID,
			Text:            c.Text,
			PublishedAt:     c.Post.PublishedAt,
		}
		if c.Engagement != nil {
			r.ViewCount = c.Engagement.ViewCount
			r.ForwardCount = c.Engagement.ForwardCount
			r.ReactionScore = c.Engagement.ReactionScore
			r.Engagement = c.Engagement.RelativeEngagement
		}
		if c.Enrichment != nil {
			r.Category = c.Enrichment.Category
			r.Sentiment = c.Enrichment.Sentiment
		}
		r.Score = rcfg.CombinedScore(candidateMetrics(c), now)
		page.Results = append(page.Results, r)
	}
	return page
}

func candidateMetrics(r store.SearchResult) ranker.Candidate {
	c := ranker.Candidate{PublishedAt: r.Post.PublishedAt}
	if r.Engagement != nil {
		c.ViewCount = r.Engagement.ViewCount
		c.ReactionScore = r.Engagement.ReactionScore
		c.RelativeEngagement = r.Engagement.RelativeEngagement
	}
	return c
}
