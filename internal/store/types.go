package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Channel is a monitored public Telegram channel.
type Channel struct {
	ID                     string
	TelegramID             int64
	AccessHash             int64
	Username               string
	Title                  string
	Description            string
	SubscriberCount        int
	IsActive               bool
	LastCollectedMessageID *int64
	LastCollectedAt        *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// HealthStatus enumerates channel health states.
type HealthStatus string

const (
	HealthHealthy      HealthStatus = "healthy"
	HealthRateLimited  HealthStatus = "rate_limited"
	HealthInaccessible HealthStatus = "inaccessible"
	HealthRemoved      HealthStatus = "removed"
)

// ChannelHealth is one entry of the append-only per-channel health log.
type ChannelHealth struct {
	ID           string
	ChannelID    string
	Status       HealthStatus
	ErrorMessage string
	CheckedAt    time.Time
}

// Post is a collected channel message. Posts are immutable once written.
type Post struct {
	ID                   string
	ChannelID            string
	TelegramMessageID    int64
	PublishedAt          time.Time
	IsForwarded          bool
	ForwardFromChannelID *int64
	ForwardFromMessageID *int64
	CreatedAt            time.Time
}

// PostContent carries the text of a post, absent for media-only posts.
type PostContent struct {
	ID          string
	PostID      string
	TextContent string
	Language    string
}

// MediaType enumerates supported attachment kinds.
type MediaType string

const (
	MediaPhoto     MediaType = "photo"
	MediaVideo     MediaType = "video"
	MediaDocument  MediaType = "document"
	MediaAudio     MediaType = "audio"
	MediaAnimation MediaType = "animation"
)

// Media describes one attachment of a collected message.
type Media struct {
	Type            MediaType
	FileID          string
	FileSize        int64
	MimeType        string
	Width           int
	Height          int
	DurationSeconds int
}

// EngagementSnapshot is one observation of a post's metrics.
type EngagementSnapshot struct {
	ID                 string
	PostID             string
	ViewCount          int
	ForwardCount       int
	ReplyCount         int
	ReactionScore      float64
	RelativeEngagement float64
	CollectedAt        time.Time
}

// ReactionCount holds the per-emoji reaction tally of one snapshot.
type ReactionCount struct {
	SnapshotID string
	Emoji      string
	Count      int
}

// Entities groups named entities extracted by enrichment.
type Entities struct {
	Persons       []string `json:"persons"`
	Organizations []string `json:"organizations"`
	Locations     []string `json:"locations"`
}

// Enrichment is the LLM-produced annotation of a post.
type Enrichment struct {
	ID               string
	PostID           string
	ExplicitKeywords []string
	ImplicitKeywords []string
	Category         string
	Sentiment        string
	Entities         Entities
	ModelUsed        string
	TokenCount       int
	ProcessingTimeMS int64
	EnrichedAt       time.Time
}

// SavedTopic is a user-saved search.
type SavedTopic struct {
	ID        string
	Name      string
	Keywords  []string
	SortMode  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UsageEntry is one row of the append-only LLM cost ledger.
type UsageEntry struct {
	ID               string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCostUSD decimal.Decimal
	TaskName         string
	PostsProcessed   int
	CreatedAt        time.Time
}

// CollectedMessage is the typed write unit of one collection batch: the
// message plus the engagement observed at collection time.
type CollectedMessage struct {
	TelegramMessageID    int64
	PublishedAt          time.Time
	Text                 string
	Language             string
	IsForwarded          bool
	ForwardFromChannelID *int64
	ForwardFromMessageID *int64
	Media                []Media
	ViewCount            int
	ForwardCount         int
	ReplyCount           int
	ReactionScore        float64
	RelativeEngagement   float64
	Reactions            map[string]int
}

// BatchResult reports the outcome of one InsertBatch call.
type BatchResult struct {
	Inserted   int
	Duplicates int
	// Failed maps telegram message ids to the error that rolled back their
	// savepoint. Failures never abort the surrounding batch.
	Failed map[int64]error
}

// SearchResult is one candidate row of the hybrid search query, carrying the
// post, its latest engagement snapshot, and any enrichment.
type SearchResult struct {
	Post            Post
	ChannelUsername string
	ChannelTitle    string
	SubscriberCount int
	Text            string
	Language        string
	Engagement      *EngagementSnapshot
	Enrichment      *Enrichment
}
