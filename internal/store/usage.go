package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/tnsehq/tnse/internal/db"
)

// InsertUsage appends one entry to the LLM cost ledger.
func (s *Store) InsertUsage(ctx context.Context, u UsageEntry) (UsageEntry, error) {
	var (
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO llm_usage_log (model, prompt_tokens, completion_tokens, total_tokens,
			estimated_cost_usd, task_name, posts_processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		u.Model, u.PromptTokens, u.CompletionTokens, u.TotalTokens,
		u.EstimatedCostUSD, u.TaskName, u.PostsProcessed,
	).Scan(&id, &createdAt)
	if err != nil {
		return UsageEntry{}, fmt.Errorf("insert usage: %w", err)
	}
	u.ID = db.UUIDString(id)
	u.CreatedAt = createdAt.Time.UTC()
	return u, nil
}

// DailyCostSince sums estimated cost over entries created at or after the
// given instant, normally the current UTC day start.
func (s *Store) DailyCostSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	row := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(estimated_cost_usd), 0)
		FROM llm_usage_log WHERE created_at >= $1`, since.UTC())
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("daily cost: %w", err)
	}
	return total, nil
}

// ListUsage returns recent ledger entries, newest first.
func (s *Store) ListUsage(ctx context.Context, limit int) ([]UsageEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, model, prompt_tokens, completion_tokens, total_tokens,
			estimated_cost_usd, task_name, posts_processed, created_at
		FROM llm_usage_log
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var entries []UsageEntry
	for rows.Next() {
		var (
			u  UsageEntry
			id pgtype.UUID
		)
		if err := rows.Scan(&id, &u.Model, &u.PromptTokens, &u.CompletionTokens,
			&u.TotalTokens, &u.EstimatedCostUSD, &u.TaskName, &u.PostsProcessed, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.ID = db.UUIDString(id)
		entries = append(entries, u)
	}
	return entries, rows.Err()
}
