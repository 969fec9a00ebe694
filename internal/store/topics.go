package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tnsehq/tnse/internal/db"
)

// SaveTopic creates or replaces a saved topic by its lowercase name.
// Keywords are stored as a JSON array so values containing commas survive
// the round trip.
func (s *Store) SaveTopic(ctx context.Context, t SavedTopic) (SavedTopic, error) {
	keywords, err := json.Marshal(t.Keywords)
	if err != nil {
		return SavedTopic{}, fmt.Errorf("marshal keywords: %w", err)
	}
	var (
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	err = s.pool.QueryRow(ctx, `
		INSERT INTO saved_topics (name, keywords, sort_mode)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET keywords = EXCLUDED.keywords, sort_mode = EXCLUDED.sort_mode, updated_at = now()
		RETURNING id, created_at, updated_at`,
		strings.ToLower(t.Name), keywords, t.SortMode,
	).Scan(&id, &createdAt, &updatedAt)
	if err != nil {
		return SavedTopic{}, fmt.Errorf("save topic: %w", err)
	}
	t.ID = db.UUIDString(id)
	t.Name = strings.ToLower(t.Name)
	t.CreatedAt = createdAt.Time.UTC()
	t.UpdatedAt = updatedAt.Time.UTC()
	return t, nil
}

// GetTopic fetches a saved topic by name.
func (s *Store) GetTopic(ctx context.Context, name string) (SavedTopic, error) {
	var (
		t        SavedTopic
		id       pgtype.UUID
		keywords []byte
	)
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, keywords, sort_mode, created_at, updated_at
		FROM saved_topics WHERE name = $1`, strings.ToLower(name))
	if err := row.Scan(&id, &t.Name, &keywords, &t.SortMode, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if db.IsNoRows(err) {
			return SavedTopic{}, ErrTopicNotFound
		}
		return SavedTopic{}, fmt.Errorf("get topic: %w", err)
	}
	if err := json.Unmarshal(keywords, &t.Keywords); err != nil {
		return SavedTopic{}, fmt.Errorf("unmarshal keywords: %w", err)
	}
	t.ID = db.UUIDString(id)
	return t, nil
}

// ListTopics returns all saved topics ordered by name.
func (s *Store) ListTopics(ctx context.Context) ([]SavedTopic, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, keywords, sort_mode, created_at, updated_at
		FROM saved_topics ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var topics []SavedTopic
	for rows.Next() {
		var (
			t        SavedTopic
			id       pgtype.UUID
			keywords []byte
		)
		if err := rows.Scan(&id, &t.Name, &keywords, &t.SortMode, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(keywords, &t.Keywords); err != nil {
			return nil, fmt.Errorf("unmarshal keywords: %w", err)
		}
		t.ID = db.UUIDString(id)
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// DeleteTopic removes a saved topic by name.
func (s *Store) DeleteTopic(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM saved_topics WHERE name = $1`, strings.ToLower(name))
	if err != nil {
		return fmt.Errorf("delete topic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTopicNotFound
	}
	return nil
}
