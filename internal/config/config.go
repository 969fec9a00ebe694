// Package config loads the service configuration from the environment.
package config

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/redis/go-redis/v9"
)

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" env-default:"info"`
	Format string `env:"LOG_FORMAT" env-default:"text"`
}

type TelegramConfig struct {
	BotToken string `env:"TELEGRAM_BOT_TOKEN"`
	APIID    int    `env:"TELEGRAM_API_ID"`
	APIHash  string `env:"TELEGRAM_API_HASH"`
	// SessionDir holds the MTProto session file for the harvester account.
	SessionDir string `env:"TELEGRAM_SESSION_DIR" env-default:"data"`
	// RequestsPerSecond and RequestsPerMinute bound the API call rate.
	RequestsPerSecond int `env:"TELEGRAM_RPS" env-default:"1"`
	RequestsPerMinute int `env:"TELEGRAM_RPM" env-default:"20"`
	// MaxFloodWaitSeconds caps the server-indicated flood-wait sleep.
	MaxFloodWaitSeconds int `env:"TELEGRAM_MAX_FLOOD_WAIT_SECONDS" env-default:"60"`
	RetryAttempts       int `env:"TELEGRAM_RETRY_ATTEMPTS" env-default:"3"`
}

// HasAPICredentials reports whether MTProto operations are possible.
func (c TelegramConfig) HasAPICredentials() bool {
	return c.APIID != 0 && c.APIHash != ""
}

type PostgresConfig struct {
	URL      string `env:"DATABASE_URL"`
	Host     string `env:"POSTGRES_HOST" env-default:"127.0.0.1"`
	Port     int    `env:"POSTGRES_PORT" env-default:"5432"`
	User     string `env:"POSTGRES_USER" env-default:"postgres"`
	Password string `env:"POSTGRES_PASSWORD"`
	Database string `env:"POSTGRES_DB" env-default:"tnse"`
	SSLMode  string `env:"POSTGRES_SSLMODE" env-default:"disable"`
}

// DSN returns the connection string. The URL form takes precedence over the
// discrete parameters; passwords may arrive URL-encoded in either form.
func (c PostgresConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	password := c.Password
	if decoded, err := url.QueryUnescape(password); err == nil {
		password = decoded
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

type RedisConfig struct {
	URL      string `env:"REDIS_URL"`
	Host     string `env:"REDIS_HOST"`
	Port     int    `env:"REDIS_PORT" env-default:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

// Enabled reports whether result caching is configured.
func (c RedisConfig) Enabled() bool {
	return c.URL != "" || c.Host != ""
}

// Options builds client options. The rediss:// scheme enables TLS.
func (c RedisConfig) Options() (*redis.Options, error) {
	if c.URL != "" {
		opts, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		if opts.TLSConfig == nil && strings.HasPrefix(c.URL, "rediss://") {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Password: c.Password,
		DB:       c.DB,
	}, nil
}

type LLMConfig struct {
	APIKey  string `env:"OPENAI_API_KEY"`
	BaseURL string `env:"OPENAI_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model   string `env:"OPENAI_MODEL" env-default:"gpt-4o-mini"`
	// RequestsPerMinute is the client-side bucket for completion calls.
	RequestsPerMinute int     `env:"LLM_RPM" env-default:"30"`
	TimeoutSeconds    int     `env:"LLM_TIMEOUT_SECONDS" env-default:"60"`
	RetryAttempts     int     `env:"LLM_RETRY_ATTEMPTS" env-default:"3"`
	DailyCostCapUSD   float64 `env:"LLM_DAILY_COST_CAP_USD" env-default:"10.00"`
	// MaxInputChars truncates enrichment input at a word boundary.
	MaxInputChars int `env:"LLM_MAX_INPUT_CHARS" env-default:"4000"`
}

// Enabled reports whether enrichment is configured.
func (c LLMConfig) Enabled() bool { return c.APIKey != "" }

type CollectionConfig struct {
	IntervalSeconds     int `env:"COLLECTION_INTERVAL_SECONDS" env-default:"900"`
	ContentWindowHours  int `env:"CONTENT_WINDOW_HOURS" env-default:"24"`
	FetchLimit          int `env:"COLLECTION_FETCH_LIMIT" env-default:"100"`
	Concurrency         int `env:"COLLECTION_CONCURRENCY" env-default:"4"`
	SyncCooldownSeconds int `env:"SYNC_COOLDOWN_SECONDS" env-default:"300"`
	RetryAttempts       int `env:"COLLECTION_RETRY_ATTEMPTS" env-default:"3"`
	// RetentionDays of 0 disables the retention sweep.
	RetentionDays int `env:"RETENTION_DAYS" env-default:"0"`
}

type EnrichmentConfig struct {
	RequestsPerMinute int `env:"ENRICHMENT_RPM" env-default:"10"`
	BatchSize         int `env:"ENRICHMENT_BATCH_SIZE" env-default:"20"`
	IntervalSeconds   int `env:"ENRICHMENT_INTERVAL_SECONDS" env-default:"300"`
}

type SearchConfig struct {
	CacheTTLSeconds int     `env:"SEARCH_CACHE_TTL_SECONDS" env-default:"300"`
	RecencyWeight   float64 `env:"SEARCH_RECENCY_WEIGHT" env-default:"1.0"`
	DefaultLimit    int     `env:"SEARCH_DEFAULT_LIMIT" env-default:"10"`
}

type Config struct {
	Log        LogConfig
	Telegram   TelegramConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Collection CollectionConfig
	Enrichment EnrichmentConfig
	Search     SearchConfig

	// AllowedUserIDs restricts bot access when non-empty.
	AllowedUserIDs string `env:"ALLOWED_USER_IDS"`
	// ReactionWeightsRaw is a comma-separated emoji=weight map.
	ReactionWeightsRaw string `env:"REACTION_WEIGHTS"`
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if cfg.Search.RecencyWeight < 0 || cfg.Search.RecencyWeight > 1 {
		return Config{}, fmt.Errorf("SEARCH_RECENCY_WEIGHT must be in [0, 1], got %g", cfg.Search.RecencyWeight)
	}
	return cfg, nil
}

// AllowedIDs parses the comma-separated allow list. Empty means open access.
func (c Config) AllowedIDs() []int64 {
	if strings.TrimSpace(c.AllowedUserIDs) == "" {
		return nil
	}
	parts := strings.Split(c.AllowedUserIDs, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// ReactionWeights parses the per-emoji weight overrides. Emoji absent from
// the map score with weight 1.0.
func (c Config) ReactionWeights() map[string]float64 {
	weights := make(map[string]float64)
	for _, pair := range strings.Split(c.ReactionWeightsRaw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			continue
		}
		weights[strings.TrimSpace(k)] = w
	}
	return weights
}
