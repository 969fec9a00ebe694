// Package store persists channels, posts, engagement, enrichments, and the
// LLM usage ledger in Postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tnsehq/tnse/internal/db"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrChannelExists   = errors.New("channel already exists")
	ErrTopicNotFound   = errors.New("topic not found")
)

// Store provides typed read/write operations over the TNSE schema.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store backed by the given connection pool.
func New(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("service", "store")),
	}
}

const channelColumns = `id, telegram_id, access_hash, username, title, description, subscriber_count,
	is_active, last_collected_message_id, last_collected_at, created_at, updated_at`

func scanChannel(row pgx.Row) (Channel, error) {
	var (
		ch        Channel
		id        pgtype.UUID
		msgID     pgtype.Int8
		collected pgtype.Timestamptz
	)
	err := row.Scan(&id, &ch.TelegramID, &ch.AccessHash, &ch.Username, &ch.Title, &ch.Description,
		&ch.SubscriberCount, &ch.IsActive, &msgID, &collected, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return Channel{}, err
	}
	ch.ID = db.UUIDString(id)
	if msgID.Valid {
		v := msgID.Int64
		ch.LastCollectedMessageID = &v
	}
	if collected.Valid {
		t := collected.Time.UTC()
		ch.LastCollectedAt = &t
	}
	return ch, nil
}

// CreateChannel inserts a new monitored channel. The username is stored
// lowercase; a live duplicate returns ErrChannelExists.
func (s *Store) CreateChannel(ctx context.Context, ch Channel) (Channel, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO channels (telegram_id, access_hash, username, title, description, subscriber_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+channelColumns,
		ch.TelegramID, ch.AccessHash, strings.ToLower(ch.Username), ch.Title, ch.Description, ch.SubscriberCount)
	created, err := scanChannel(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Channel{}, ErrChannelExists
		}
		return Channel{}, fmt.Errorf("create channel: %w", err)
	}
	return created, nil
}

// GetChannel fetches a channel by internal id.
func (s *Store) GetChannel(ctx context.Context, id string) (Channel, error) {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return Channel{}, err
	}
	row := s.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, uid)
	ch, err := scanChannel(row)
	if err != nil {
		if db.IsNoRows(err) {
			return Channel{}, ErrChannelNotFound
		}
		return Channel{}, fmt.Errorf("get channel: %w", err)
	}
	return ch, nil
}

// GetChannelByUsername fetches an active channel by its lowercase username.
func (s *Store) GetChannelByUsername(ctx context.Context, username string) (Channel, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE username = $1 AND is_active`,
		strings.ToLower(username))
	ch, err := scanChannel(row)
	if err != nil {
		if db.IsNoRows(err) {
			return Channel{}, ErrChannelNotFound
		}
		return Channel{}, fmt.Errorf("get channel by username: %w", err)
	}
	return ch, nil
}

// GetChannelByTelegramID fetches a channel by its Telegram-native id.
func (s *Store) GetChannelByTelegramID(ctx context.Context, telegramID int64) (Channel, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE telegram_id = $1`, telegramID)
	ch, err := scanChannel(row)
	if err != nil {
		if db.IsNoRows(err) {
			return Channel{}, ErrChannelNotFound
		}
		return Channel{}, fmt.Errorf("get channel by telegram id: %w", err)
	}
	return ch, nil
}

// ListActiveChannels returns all channels eligible for collection.
func (s *Store) ListActiveChannels(ctx context.Context) ([]Channel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE is_active ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list active channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// UpdateSubscriberCount refreshes the channel's subscriber count.
func (s *Store) UpdateSubscriberCount(ctx context.Context, id string, count int) error {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE channels SET subscriber_count = $2, updated_at = now() WHERE id = $1`, uid, count)
	if err != nil {
		return fmt.Errorf("update subscriber count: %w", err)
	}
	return nil
}

// SetChannelActive soft-deletes or reactivates a channel.
func (s *Store) SetChannelActive(ctx context.Context, id string, active bool) error {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE channels SET is_active = $2, updated_at = now() WHERE id = $1`, uid, active)
	if err != nil {
		return fmt.Errorf("set channel active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// HardDeleteChannel removes a channel and cascades over all its posts.
func (s *Store) HardDeleteChannel(ctx context.Context, id string) error {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, uid)
	if err != nil {
		return fmt.Errorf("hard delete channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// RecordHealth appends one entry to the channel health log.
func (s *Store) RecordHealth(ctx context.Context, channelID string, status HealthStatus, message string) error {
	uid, err := db.ParseUUID(channelID)
	if err != nil {
		return err
	}
	var msg pgtype.Text
	if message != "" {
		msg = pgtype.Text{String: message, Valid: true}
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO channel_health (channel_id, status, error_message) VALUES ($1, $2, $3)`,
		uid, string(status), msg)
	if err != nil {
		return fmt.Errorf("record health: %w", err)
	}
	return nil
}

// LatestHealth returns the most recent health entry for a channel, or nil
// when the channel has never been checked.
func (s *Store) LatestHealth(ctx context.Context, channelID string) (*ChannelHealth, error) {
	uid, err := db.ParseUUID(channelID)
	if err != nil {
		return nil, err
	}
	var (
		h   ChannelHealth
		id  pgtype.UUID
		msg pgtype.Text
	)
	row := s.pool.QueryRow(ctx, `
		SELECT id, status, error_message, checked_at
		FROM channel_health WHERE channel_id = $1
		ORDER BY checked_at DESC LIMIT 1`, uid)
	if err := row.Scan(&id, &h.Status, &msg, &h.CheckedAt); err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest health: %w", err)
	}
	h.ID = db.UUIDString(id)
	h.ChannelID = channelID
	h.ErrorMessage = msg.String
	return &h, nil
}

// DeletePostsBefore removes posts older than the cutoff; the cascade takes
// content, media, snapshots, reaction counts, and enrichments with them.
func (s *Store) DeletePostsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM posts WHERE published_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}
