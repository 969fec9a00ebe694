package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tnsehq/tnse/internal/db"
)

// InsertBatch writes one collection batch for a channel inside a single
// transaction. Each message runs under its own savepoint so a failing
// message never loses its successful siblings; a duplicate
// (channel_id, telegram_message_id) is counted and skipped. When
// advanceCursorTo is positive the channel cursor moves in the same
// transaction, so a crash mid-batch cannot advance it past uncommitted rows.
func (s *Store) InsertBatch(ctx context.Context, channelID string, msgs []CollectedMessage, advanceCursorTo int64) (BatchResult, error) {
	result := BatchResult{Failed: make(map[int64]error)}

	chUUID, err := db.ParseUUID(channelID)
	if err != nil {
		return result, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, msg := range msgs {
		nested, err := tx.Begin(ctx) // pgx nested Begin maps to a savepoint
		if err != nil {
			return result, fmt.Errorf("begin savepoint: %w", err)
		}

		inserted, err := s.insertMessage(ctx, nested, chUUID, msg)
		if err != nil {
			_ = nested.Rollback(ctx)
			result.Failed[msg.TelegramMessageID] = err
			s.logger.Warn("message insert failed",
				slog.String("channel_id", channelID),
				slog.Int64("telegram_message_id", msg.TelegramMessageID),
				slog.Any("error", err))
			continue
		}
		if err := nested.Commit(ctx); err != nil {
			return result, fmt.Errorf("release savepoint: %w", err)
		}
		if inserted {
			result.Inserted++
		} else {
			result.Duplicates++
		}
	}

	if advanceCursorTo > 0 {
		_, err := tx.Exec(ctx, `
			UPDATE channels
			SET last_collected_message_id = GREATEST(COALESCE(last_collected_message_id, 0), $2),
			    last_collected_at = now(),
			    updated_at = now()
			WHERE id = $1`, chUUID, advanceCursorTo)
		if err != nil {
			return result, fmt.Errorf("advance cursor: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return BatchResult{Failed: map[int64]error{}}, fmt.Errorf("commit batch: %w", err)
	}
	return result, nil
}

// insertMessage writes the post and its satellite rows. Returns false when
// the post already existed.
func (s *Store) insertMessage(ctx context.Context, tx pgx.Tx, chUUID pgtype.UUID, msg CollectedMessage) (bool, error) {
	var postID pgtype.UUID
	err := tx.QueryRow(ctx, `
		INSERT INTO posts (channel_id, telegram_message_id, published_at, is_forwarded,
			forward_from_channel_id, forward_from_message_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (channel_id, telegram_message_id) DO NOTHING
		RETURNING id`,
		chUUID, msg.TelegramMessageID, msg.PublishedAt.UTC(), msg.IsForwarded,
		int8OrNull(msg.ForwardFromChannelID), int8OrNull(msg.ForwardFromMessageID),
	).Scan(&postID)
	if err != nil {
		if db.IsNoRows(err) {
			// Conflict path: the post is already stored, nothing to do.
			return false, nil
		}
		return false, fmt.Errorf("insert post: %w", err)
	}

	if msg.Text != "" || msg.Language != "" {
		var lang pgtype.Text
		if msg.Language != "" {
			lang = pgtype.Text{String: msg.Language, Valid: true}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO post_content (post_id, text_content, language) VALUES ($1, $2, $3)`,
			postID, msg.Text, lang); err != nil {
			return false, fmt.Errorf("insert content: %w", err)
		}
	}

	for _, m := range msg.Media {
		if _, err := tx.Exec(ctx, `
			INSERT INTO post_media (post_id, media_type, file_id, file_size, mime_type, width, height, duration_seconds)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			postID, string(m.Type), m.FileID, m.FileSize, textOrNull(m.MimeType),
			intOrNull(m.Width), intOrNull(m.Height), intOrNull(m.DurationSeconds)); err != nil {
			return false, fmt.Errorf("insert media: %w", err)
		}
	}

	var snapshotID pgtype.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO engagement_snapshots (post_id, view_count, forward_count, reply_count,
			reaction_score, relative_engagement, collected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		postID, msg.ViewCount, msg.ForwardCount, msg.ReplyCount,
		msg.ReactionScore, msg.RelativeEngagement, time.Now().UTC(),
	).Scan(&snapshotID)
	if err != nil {
		return false, fmt.Errorf("insert snapshot: %w", err)
	}

	for emoji, count := range msg.Reactions {
		if _, err := tx.Exec(ctx, `
			INSERT INTO reaction_counts (snapshot_id, emoji, count) VALUES ($1, $2, $3)`,
			snapshotID, emoji, count); err != nil {
			return false, fmt.Errorf("insert reaction count: %w", err)
		}
	}

	return true, nil
}

// GetPost fetches a post by internal id.
func (s *Store) GetPost(ctx context.Context, id string) (Post, error) {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return Post{}, err
	}
	var (
		p      Post
		pid    pgtype.UUID
		chID   pgtype.UUID
		fwdCh  pgtype.Int8
		fwdMsg pgtype.Int8
	)
	row := s.pool.QueryRow(ctx, `
		SELECT id, channel_id, telegram_message_id, published_at, is_forwarded,
			forward_from_channel_id, forward_from_message_id, created_at
		FROM posts WHERE id = $1`, uid)
	if err := row.Scan(&pid, &chID, &p.TelegramMessageID, &p.PublishedAt, &p.IsForwarded,
		&fwdCh, &fwdMsg, &p.CreatedAt); err != nil {
		return Post{}, fmt.Errorf("get post: %w", err)
	}
	p.ID = db.UUIDString(pid)
	p.ChannelID = db.UUIDString(chID)
	if fwdCh.Valid {
		v := fwdCh.Int64
		p.ForwardFromChannelID = &v
	}
	if fwdMsg.Valid {
		v := fwdMsg.Int64
		p.ForwardFromMessageID = &v
	}
	return p, nil
}

// GetPostContent returns the text content of a post, or nil for media-only posts.
func (s *Store) GetPostContent(ctx context.Context, postID string) (*PostContent, error) {
	uid, err := db.ParseUUID(postID)
	if err != nil {
		return nil, err
	}
	var (
		c    PostContent
		id   pgtype.UUID
		lang pgtype.Text
	)
	row := s.pool.QueryRow(ctx,
		`SELECT id, text_content, language FROM post_content WHERE post_id = $1`, uid)
	if err := row.Scan(&id, &c.TextContent, &lang); err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get post content: %w", err)
	}
	c.ID = db.UUIDString(id)
	c.PostID = postID
	c.Language = lang.String
	return &c, nil
}

// LatestSnapshot returns the newest engagement snapshot of a post, or nil.
func (s *Store) LatestSnapshot(ctx context.Context, postID string) (*EngagementSnapshot, error) {
	uid, err := db.ParseUUID(postID)
	if err != nil {
		return nil, err
	}
	var (
		snap EngagementSnapshot
		id   pgtype.UUID
	)
	row := s.pool.QueryRow(ctx, `
		SELECT id, view_count, forward_count, reply_count, reaction_score,
			relative_engagement, collected_at
		FROM engagement_snapshots
		WHERE post_id = $1
		ORDER BY collected_at DESC
		LIMIT 1`, uid)
	if err := row.Scan(&id, &snap.ViewCount, &snap.ForwardCount, &snap.ReplyCount,
		&snap.ReactionScore, &snap.RelativeEngagement, &snap.CollectedAt); err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	snap.ID = db.UUIDString(id)
	snap.PostID = postID
	return &snap, nil
}

// SnapshotReactions returns the per-emoji counts of one snapshot.
func (s *Store) SnapshotReactions(ctx context.Context, snapshotID string) (map[string]int, error) {
	uid, err := db.ParseUUID(snapshotID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT emoji, count FROM reaction_counts WHERE snapshot_id = $1`, uid)
	if err != nil {
		return nil, fmt.Errorf("snapshot reactions: %w", err)
	}
	defer rows.Close()

	reactions := make(map[string]int)
	for rows.Next() {
		var (
			emoji string
			count int
		)
		if err := rows.Scan(&emoji, &count); err != nil {
			return nil, err
		}
		reactions[emoji] = count
	}
	return reactions, rows.Err()
}

func int8OrNull(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}

func intOrNull(v int) pgtype.Int4 {
	if v == 0 {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(v), Valid: true}
}

func textOrNull(v string) pgtype.Text {
	if v == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: v, Valid: true}
}
