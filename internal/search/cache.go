package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores serialized result pages. Implementations must treat failures
// as misses; caching is an optimization, never a correctness dependency.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// CacheKey derives a deterministic key from the full query shape. Keywords
// are sorted first so word order does not fragment the cache.
func CacheKey(q Query) string {
	keywords := append([]string(nil), q.Keywords...)
	sort.Strings(keywords)
	canonical, _ := json.Marshal(struct {
		Keywords  []string `json:"keywords"`
		MaxAge    int      `json:"max_age_hours"`
		Sort      string   `json:"sort"`
		Category  string   `json:"category"`
		Sentiment string   `json:"sentiment"`
		Enriched  bool     `json:"enriched"`
		Limit     int      `json:"limit"`
		Offset    int      `json:"offset"`
	}{keywords, q.MaxAgeHours, string(q.Sort), q.Category, q.Sentiment, q.IncludeEnrichment, q.Limit, q.Offset})
	sum := sha256.Sum256(canonical)
	return "search:" + hex.EncodeToString(sum[:])
}

// RedisCache is the Redis-backed Cache. All errors are logged at debug and
// reported as misses.
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisCache wraps a connected client.
func NewRedisCache(log *slog.Logger, client *redis.Client) *RedisCache {
	return &RedisCache{
		client: client,
		logger: log.With(slog.String("service", "search-cache")),
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("cache get failed", slog.Any("error", err))
		}
		return nil, false
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Debug("cache set failed", slog.Any("error", err))
	}
}

var _ Cache = (*RedisCache)(nil)

// noopCache serves deployments without Redis configured.
type noopCache struct{}

func (noopCache) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (noopCache) Set(context.Context, string, []byte, time.Duration) {}
