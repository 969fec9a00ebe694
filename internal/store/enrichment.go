package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tnsehq/tnse/internal/db"
)

// ErrAlreadyEnriched indicates the post already has an enrichment row.
var ErrAlreadyEnriched = errors.New("post already enriched")

// UnenrichedPost is a post eligible for enrichment: it has text content and
// no enrichment row yet.
type UnenrichedPost struct {
	PostID      string
	TextContent string
	Language    string
}

// ListUnenriched returns up to limit enrichable posts, oldest first.
func (s *Store) ListUnenriched(ctx context.Context, limit int) ([]UnenrichedPost, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, pc.text_content, COALESCE(pc.language, '')
		FROM posts p
		JOIN post_content pc ON pc.post_id = p.id
		LEFT JOIN post_enrichments pe ON pe.post_id = p.id
		WHERE pe.id IS NULL AND pc.text_content <> ''
		ORDER BY p.published_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unenriched: %w", err)
	}
	defer rows.Close()

	var posts []UnenrichedPost
	for rows.Next() {
		var (
			p  UnenrichedPost
			id pgtype.UUID
		)
		if err := rows.Scan(&id, &p.TextContent, &p.Language); err != nil {
			return nil, err
		}
		p.PostID = db.UUIDString(id)
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// InsertEnrichment writes the enrichment row for a post. Exactly one row per
// post is allowed; a second insert returns ErrAlreadyEnriched.
func (s *Store) InsertEnrichment(ctx context.Context, e Enrichment) (Enrichment, error) {
	postUUID, err := db.ParseUUID(e.PostID)
	if err != nil {
		return Enrichment{}, err
	}
	entities, err := json.Marshal(e.Entities)
	if err != nil {
		return Enrichment{}, fmt.Errorf("marshal entities: %w", err)
	}
	var (
		id         pgtype.UUID
		enrichedAt pgtype.Timestamptz
	)
	err = s.pool.QueryRow(ctx, `
		INSERT INTO post_enrichments (post_id, explicit_keywords, implicit_keywords,
			category, sentiment, entities, model_used, token_count, processing_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, enriched_at`,
		postUUID, e.ExplicitKeywords, e.ImplicitKeywords, e.Category, e.Sentiment,
		entities, e.ModelUsed, e.TokenCount, e.ProcessingTimeMS,
	).Scan(&id, &enrichedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Enrichment{}, ErrAlreadyEnriched
		}
		return Enrichment{}, fmt.Errorf("insert enrichment: %w", err)
	}
	e.ID = db.UUIDString(id)
	e.EnrichedAt = enrichedAt.Time.UTC()
	return e, nil
}

// GetEnrichment returns the enrichment of a post, or nil when absent.
func (s *Store) GetEnrichment(ctx context.Context, postID string) (*Enrichment, error) {
	postUUID, err := db.ParseUUID(postID)
	if err != nil {
		return nil, err
	}
	var (
		e        Enrichment
		id       pgtype.UUID
		entities []byte
	)
	row := s.pool.QueryRow(ctx, `
		SELECT id, explicit_keywords, implicit_keywords, category, sentiment,
			entities, model_used, token_count, processing_time_ms, enriched_at
		FROM post_enrichments WHERE post_id = $1`, postUUID)
	err = row.Scan(&id, &e.ExplicitKeywords, &e.ImplicitKeywords, &e.Category,
		&e.Sentiment, &entities, &e.ModelUsed, &e.TokenCount, &e.ProcessingTimeMS, &e.EnrichedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get enrichment: %w", err)
	}
	if err := json.Unmarshal(entities, &e.Entities); err != nil {
		return nil, fmt.Errorf("unmarshal entities: %w", err)
	}
	e.ID = db.UUIDString(id)
	e.PostID = postID
	return &e, nil
}
