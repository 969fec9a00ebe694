package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tnsehq/tnse/internal/db"
)

// SearchParams drives the hybrid candidate query. Keywords must already be
// normalized (lowercase, deduplicated, stopword-filtered).
type SearchParams struct {
	Keywords []string
	Cutoff   time.Time
	// IncludeEnrichment enables the keyword-array arms; when false only the
	// full-text arm is evaluated.
	IncludeEnrichment bool
	Category          string
	Sentiment         string
	// CandidateLimit bounds the raw candidate set handed to the ranker.
	CandidateLimit int
}

// buildSearchQuery assembles the candidate statement. The keyword-array arms
// and their bound parameter exist only when enrichment matching is on, so
// every placeholder is numbered from the arguments actually present.
func buildSearchQuery(p SearchParams) (string, []any) {
	args := []any{p.Cutoff.UTC(), strings.Join(p.Keywords, " ")}

	match := `(
		to_tsvector('russian', COALESCE(pc.text_content, '')) @@ plainto_tsquery('russian', $2)
		OR to_tsvector('simple', COALESCE(pc.text_content, '')) @@ plainto_tsquery('simple', $2)`
	if p.IncludeEnrichment {
		args = append(args, p.Keywords)
		match += fmt.Sprintf(`
		OR pe.explicit_keywords && $%[1]d
		OR pe.implicit_keywords && $%[1]d`, len(args))
	}
	match += `)`

	sql := `
		SELECT p.id, p.channel_id, p.telegram_message_id, p.published_at, p.is_forwarded,
			c.username, c.title, c.subscriber_count,
			COALESCE(pc.text_content, ''), COALESCE(pc.language, ''),
			es.id, es.view_count, es.forward_count, es.reply_count,
			es.reaction_score, es.relative_engagement, es.collected_at,
			pe.id, pe.explicit_keywords, pe.implicit_keywords, pe.category,
			pe.sentiment, pe.entities
		FROM posts p
		JOIN channels c ON c.id = p.channel_id
		LEFT JOIN post_content pc ON pc.post_id = p.id
		LEFT JOIN post_enrichments pe ON pe.post_id = p.id
		LEFT JOIN LATERAL (
			SELECT id, view_count, forward_count, reply_count, reaction_score,
				relative_engagement, collected_at
			FROM engagement_snapshots
			WHERE post_id = p.id
			ORDER BY collected_at DESC
			LIMIT 1
		) es ON TRUE
		WHERE p.published_at >= $1 AND ` + match

	if p.Category != "" {
		args = append(args, p.Category)
		sql += fmt.Sprintf(" AND pe.category = $%d", len(args))
	}
	if p.Sentiment != "" {
		args = append(args, p.Sentiment)
		sql += fmt.Sprintf(" AND pe.sentiment = $%d", len(args))
	}

	sql += " ORDER BY p.published_at DESC"
	if p.CandidateLimit > 0 {
		args = append(args, p.CandidateLimit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return sql, args
}

// SearchPosts runs the hybrid full-text + keyword-array query and joins each
// candidate to its latest engagement snapshot via a lateral one-row-per-post
// subquery.
func (s *Store) SearchPosts(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	if len(p.Keywords) == 0 {
		return nil, nil
	}
	sql, args := buildSearchQuery(p)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			r        SearchResult
			postID   pgtype.UUID
			chID     pgtype.UUID
			snapID   pgtype.UUID
			views    pgtype.Int4
			forwards pgtype.Int4
			replies  pgtype.Int4
			score    pgtype.Float8
			relative pgtype.Float8
			snapAt   pgtype.Timestamptz
			enrID    pgtype.UUID
			explicit []string
			implicit []string
			category pgtype.Text
			sent     pgtype.Text
			entities []byte
		)
		err := rows.Scan(&postID, &chID, &r.Post.TelegramMessageID, &r.Post.PublishedAt,
			&r.Post.IsForwarded, &r.ChannelUsername, &r.ChannelTitle, &r.SubscriberCount,
			&r.Text, &r.Language,
			&snapID, &views, &forwards, &replies, &score, &relative, &snapAt,
			&enrID, &explicit, &implicit, &category, &sent, &entities)
		if err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		r.Post.ID = db.UUIDString(postID)
		r.Post.ChannelID = db.UUIDString(chID)

		if snapID.Valid {
			r.Engagement = &EngagementSnapshot{
				ID:                 db.UUIDString(snapID),
				PostID:             r.Post.ID,
				ViewCount:          int(views.Int32),
				ForwardCount:       int(forwards.Int32),
				ReplyCount:         int(replies.Int32),
				ReactionScore:      score.Float64,
				RelativeEngagement: relative.Float64,
				CollectedAt:        snapAt.Time.UTC(),
			}
		}
		if enrID.Valid {
			enr := &Enrichment{
				ID:               db.UUIDString(enrID),
				PostID:           r.Post.ID,
				ExplicitKeywords: explicit,
				ImplicitKeywords: implicit,
				Category:         category.String,
				Sentiment:        sent.String,
			}
			if len(entities) > 0 {
				if err := json.Unmarshal(entities, &enr.Entities); err != nil {
					return nil, fmt.Errorf("unmarshal entities: %w", err)
				}
			}
			r.Enrichment = enr
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
