// Package collector harvests recent channel posts with their engagement and
// persists them through the store.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tnsehq/tnse/internal/store"
	"github.com/tnsehq/tnse/internal/telegram"
)

// Status summarizes one CollectChannel outcome.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Report describes one channel collection run.
type Report struct {
	ChannelID string
	Username  string
	Status    Status
	Collected int
	Skipped   int
	Errors    []string
	Elapsed   time.Duration
}

// Fetcher is the slice of the Telegram adapter the collector needs.
type Fetcher interface {
	FetchMessages(ctx context.Context, channelID, accessHash, minID int64, maxAge time.Duration, limit int) (telegram.FetchResult, error)
}

// Storage is the slice of the store the collector needs.
type Storage interface {
	GetChannel(ctx context.Context, id string) (store.Channel, error)
	InsertBatch(ctx context.Context, channelID string, msgs []store.CollectedMessage, advanceCursorTo int64) (store.BatchResult, error)
	UpdateSubscriberCount(ctx context.Context, id string, count int) error
	RecordHealth(ctx context.Context, channelID string, status store.HealthStatus, message string) error
}

// Config holds collection tunables.
type Config struct {
	// WindowHours bounds the age of harvested messages.
	WindowHours int
	// FetchLimit caps one history request.
	FetchLimit int
	// ReactionWeights maps emoji to score weight; absent emoji weigh 1.0.
	ReactionWeights map[string]float64
}

// Collector performs per-channel harvests resuming from the stored cursor.
type Collector struct {
	fetcher Fetcher
	storage Storage
	cfg     Config
	logger  *slog.Logger
}

// New creates a Collector.
func New(log *slog.Logger, fetcher Fetcher, storage Storage, cfg Config) *Collector {
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = 24
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 100
	}
	return &Collector{
		fetcher: fetcher,
		storage: storage,
		cfg:     cfg,
		logger:  log.With(slog.String("service", "collector")),
	}
}

// ReactionScore computes the weighted sum over per-emoji counts. Unknown
// emoji weigh 1.0; negative weights are allowed.
func ReactionScore(reactions map[string]int, weights map[string]float64) float64 {
	var score float64
	for emoji, count := range reactions {
		weight, ok := weights[emoji]
		if !ok {
			weight = 1.0
		}
		score += float64(count) * weight
	}
	return score
}

// RelativeEngagement normalizes popularity by channel size. A channel with
// no known subscribers scores zero.
func RelativeEngagement(views int, reactionScore float64, subscriberCount int) float64 {
	if subscriberCount <= 0 {
		return 0
	}
	return (float64(views) + reactionScore) / float64(subscriberCount)
}

// CollectChannel harvests the channel's window since its cursor. The cursor
// advances inside the same transaction as the inserted rows; a partially
// failed batch keeps its successful messages and never moves the cursor past
// what was committed.
func (c *Collector) CollectChannel(ctx context.Context, channelID string) (Report, error) {
	start := time.Now()
	report := Report{ChannelID: channelID}

	channel, err := c.storage.GetChannel(ctx, channelID)
	if err != nil {
		report.Status = StatusFailed
		report.Errors = append(report.Errors, err.Error())
		return report, fmt.Errorf("load channel: %w", err)
	}
	report.Username = channel.Username

	if !channel.IsActive {
		report.Status = StatusSkipped
		report.Elapsed = time.Since(start)
		return report, nil
	}

	var minID int64
	if channel.LastCollectedMessageID != nil {
		minID = *channel.LastCollectedMessageID
	}

	window := time.Duration(c.cfg.WindowHours) * time.Hour
	fetched, err := c.fetcher.FetchMessages(ctx, channel.TelegramID, channel.AccessHash, minID, window, c.cfg.FetchLimit)
	if err != nil {
		report.Status = StatusFailed
		report.Errors = append(report.Errors, err.Error())
		report.Elapsed = time.Since(start)
		c.recordHealth(ctx, channelID, err)
		return report, fmt.Errorf("fetch messages: %w", err)
	}

	// The history response reports the current participant count; refresh
	// the stored figure so relative engagement tracks channel growth.
	subscribers := channel.SubscriberCount
	if fetched.SubscriberCount > 0 && fetched.SubscriberCount != channel.SubscriberCount {
		subscribers = fetched.SubscriberCount
		if err := c.storage.UpdateSubscriberCount(ctx, channelID, subscribers); err != nil {
			c.logger.Warn("update subscriber count failed",
				slog.String("channel_id", channelID), slog.Any("error", err))
		}
	}

	if fetched.Count == 0 {
		report.Status = StatusCompleted
		report.Elapsed = time.Since(start)
		c.recordHealthOK(ctx, channelID)
		return report, nil
	}

	batch := make([]store.CollectedMessage, 0, fetched.Count)
	for _, msg := range fetched.Messages {
		batch = append(batch, c.toCollected(msg, subscribers))
	}

	result, err := c.storage.InsertBatch(ctx, channelID, batch, fetched.MaxMessageID)
	if err != nil {
		report.Status = StatusFailed
		report.Errors = append(report.Errors, err.Error())
		report.Elapsed = time.Since(start)
		return report, fmt.Errorf("persist batch: %w", err)
	}

	report.Status = StatusCompleted
	report.Collected = result.Inserted
	report.Skipped = result.Duplicates
	for id, ferr := range result.Failed {
		report.Errors = append(report.Errors, fmt.Sprintf("message %d: %v", id, ferr))
	}
	report.Elapsed = time.Since(start)

	c.recordHealthOK(ctx, channelID)
	c.logger.Info("channel collected",
		slog.String("channel_id", channelID),
		slog.String("username", channel.Username),
		slog.Int("collected", report.Collected),
		slog.Int("duplicates", report.Skipped),
		slog.Int("errors", len(report.Errors)),
		slog.Int64("duration_ms", report.Elapsed.Milliseconds()))
	return report, nil
}

// toCollected converts a fetched message into the typed write unit,
// computing the reaction score and relative engagement.
func (c *Collector) toCollected(msg telegram.Message, subscriberCount int) store.CollectedMessage {
	score := ReactionScore(msg.Reactions, c.cfg.ReactionWeights)
	media := make([]store.Media, 0, len(msg.Media))
	for _, m := range msg.Media {
		media = append(media, store.Media{
			Type:            store.MediaType(m.Type),
			FileID:          m.FileID,
			FileSize:        m.FileSize,
			MimeType:        m.MimeType,
			Width:           m.Width,
			Height:          m.Height,
			DurationSeconds: m.DurationSeconds,
		})
	}
	return store.CollectedMessage{
		TelegramMessageID:    msg.ID,
		PublishedAt:          msg.Date,
		Text:                 msg.Text,
		Language:             msg.Language,
		IsForwarded:          msg.IsForwarded,
		ForwardFromChannelID: msg.ForwardFromChannelID,
		ForwardFromMessageID: msg.ForwardFromMessageID,
		Media:                media,
		ViewCount:            msg.ViewCount,
		ForwardCount:         msg.ForwardCount,
		ReplyCount:           msg.ReplyCount,
		ReactionScore:        score,
		RelativeEngagement:   RelativeEngagement(msg.ViewCount, score, subscriberCount),
		Reactions:            msg.Reactions,
	}
}

func (c *Collector) recordHealth(ctx context.Context, channelID string, cause error) {
	status := store.HealthInaccessible
	if telegram.IsRateLimited(cause) || errors.Is(cause, context.DeadlineExceeded) {
		status = store.HealthRateLimited
	}
	if err := c.storage.RecordHealth(ctx, channelID, status, cause.Error()); err != nil {
		c.logger.Warn("record health failed",
			slog.String("channel_id", channelID), slog.Any("error", err))
	}
}

func (c *Collector) recordHealthOK(ctx context.Context, channelID string) {
	if err := c.storage.RecordHealth(ctx, channelID, store.HealthHealthy, ""); err != nil {
		c.logger.Warn("record health failed",
			slog.String("channel_id", channelID), slog.Any("error", err))
	}
}
