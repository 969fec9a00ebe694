// Package ranker orders search candidates by engagement and recency.
package ranker

import (
	"sort"
	"time"
)

// SortMode selects the ranking dimension.
type SortMode string

const (
	SortCombined   SortMode = "combined"
	SortViews      SortMode = "views"
	SortReactions  SortMode = "reactions"
	SortEngagement SortMode = "engagement"
	SortRecency    SortMode = "recency"
)

// ParseSortMode maps a raw string to a SortMode, defaulting to combined.
func ParseSortMode(raw string) SortMode {
	switch SortMode(raw) {
	case SortViews, SortReactions, SortEngagement, SortRecency:
		return SortMode(raw)
	default:
		return SortCombined
	}
}

// Candidate carries the metrics the ranker needs from one post.
type Candidate struct {
	ViewCount          int
	ReactionScore      float64
	RelativeEngagement float64
	PublishedAt        time.Time
}

// Config holds the tunable ranking parameters.
type Config struct {
	// WindowHours is the recency decay window.
	WindowHours float64
	// RecencyWeight blends recency into the combined score, in [0, 1].
	// At 1.0 the combined score is engagement times the recency factor.
	RecencyWeight float64
}

// DefaultConfig returns the standard 24h window with full recency weighting.
func DefaultConfig() Config {
	return Config{WindowHours: 24, RecencyWeight: 1.0}
}

// RecencyFactor is a piecewise-linear weight in [0, 1]: 1 for posts at or
// after now, decaying linearly to 0 at windowHours of age.
func RecencyFactor(publishedAt, now time.Time, windowHours float64) float64 {
	if windowHours <= 0 {
		return 1
	}
	hoursSince := now.Sub(publishedAt).Hours()
	if hoursSince <= 0 {
		return 1
	}
	if hoursSince >= windowHours {
		return 0
	}
	return 1 - hoursSince/windowHours
}

// CombinedScore computes the engagement-and-recency score of one candidate.
func (c Config) CombinedScore(cand Candidate, now time.Time) float64 {
	recency := RecencyFactor(cand.PublishedAt, now, c.WindowHours)
	w := c.RecencyWeight
	return cand.RelativeEngagement * ((1 - w) + w*recency)
}

// Sort stably orders items by the given mode, descending. Ties break along
// the natural engagement order: relative engagement, then view count, then
// published time.
func Sort[T any](items []T, mode SortMode, cfg Config, now time.Time, metrics func(T) Candidate) {
	key := func(t T) float64 {
		c := metrics(t)
		switch mode {
		case SortViews:
			return float64(c.ViewCount)
		case SortReactions:
			return c.ReactionScore
		case SortEngagement:
			return c.RelativeEngagement
		case SortRecency:
			return float64(c.PublishedAt.UnixNano())
		default:
			return cfg.CombinedScore(c, now)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		ki, kj := key(items[i]), key(items[j])
		if ki != kj {
			return ki > kj
		}
		ci, cj := metrics(items[i]), metrics(items[j])
		if ci.RelativeEngagement != cj.RelativeEngagement {
			return ci.RelativeEngagement > cj.RelativeEngagement
		}
		if ci.ViewCount != cj.ViewCount {
			return ci.ViewCount > cj.ViewCount
		}
		return ci.PublishedAt.After(cj.PublishedAt)
	})
}
