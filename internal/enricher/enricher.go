// Package enricher annotates collected posts with LLM-extracted keywords,
// categories, sentiment, and named entities, under a daily cost cap.
package enricher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/ratelimit"

	"github.com/tnsehq/tnse/internal/llm"
	"github.com/tnsehq/tnse/internal/store"
)

// ErrNotConfigured indicates enrichment is disabled for lack of an API key.
var ErrNotConfigured = errors.New("enrichment is not configured")

// ErrCostCapExceeded indicates the daily spend cap blocks further calls.
var ErrCostCapExceeded = errors.New("daily llm cost cap exceeded")

const taskEnrichment = "enrichment"

// Completer is the LLM surface the enricher needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.CompletionResult, error)
	Model() string
}

// Storage is the persistence surface the enricher needs.
type Storage interface {
	ListUnenriched(ctx context.Context, limit int) ([]store.UnenrichedPost, error)
	InsertEnrichment(ctx context.Context, e store.Enrichment) (store.Enrichment, error)
	InsertUsage(ctx context.Context, u store.UsageEntry) (store.UsageEntry, error)
	DailyCostSince(ctx context.Context, since time.Time) (decimal.Decimal, error)
}

// Config tunes the enricher.
type Config struct {
	// RequestsPerMinute paces completion calls within one batch.
	RequestsPerMinute int
	// BatchSize bounds how many posts one EnrichPending pass processes.
	BatchSize int
	// DailyCostCapUSD stops enrichment for the rest of the UTC day once the
	// ledger reaches it. Zero disables the cap.
	DailyCostCapUSD float64
	// MaxInputChars truncates post text at a word boundary before prompting.
	MaxInputChars int
}

// Report summarizes one EnrichPending pass.
type Report struct {
	Processed int
	Failed    int
	Skipped   int
	CostUSD   decimal.Decimal
}

// Enricher runs the enrichment pipeline.
type Enricher struct {
	client  Completer
	storage Storage
	cfg     Config
	logger  *slog.Logger
	pacer   ratelimit.Limiter
	now     func() time.Time

	// capWarned dedups the 80% warning within one UTC day.
	capWarnedDay string
}

// New builds an Enricher. A nil client marks enrichment unconfigured; every
// operation then returns ErrNotConfigured.
func New(log *slog.Logger, client Completer, storage Storage, cfg Config) *Enricher {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 10
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &Enricher{
		client:  client,
		storage: storage,
		cfg:     cfg,
		logger:  log.With(slog.String("service", "enricher")),
		pacer:   ratelimit.New(rpm, ratelimit.Per(time.Minute)),
		now:     time.Now,
	}
}

// Enabled reports whether the enricher can issue LLM calls.
func (e *Enricher) Enabled() bool { return e.client != nil }

// checkCostCap compares the UTC-day ledger total against the cap before a
// call is issued. At 80% it warns once per day; at or over 100% it blocks.
func (e *Enricher) checkCostCap(ctx context.Context) error {
	if e.cfg.DailyCostCapUSD <= 0 {
		return nil
	}
	now := e.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	spent, err := e.storage.DailyCostSince(ctx, dayStart)
	if err != nil {
		return fmt.Errorf("read cost ledger: %w", err)
	}
	limit := decimal.NewFromFloat(e.cfg.DailyCostCapUSD)
	if spent.GreaterThanOrEqual(limit) {
		return fmt.Errorf("%w: spent %s of %s USD", ErrCostCapExceeded, spent.StringFixed(6), limit.StringFixed(2))
	}
	if projected := spent.Add(e.projectedCallCost()); projected.GreaterThan(limit) {
		return fmt.Errorf("%w: next call would bring spend to %s of %s USD",
			ErrCostCapExceeded, projected.StringFixed(6), limit.StringFixed(2))
	}
	day := now.Format("2006-01-02")
	if spent.GreaterThanOrEqual(limit.Mul(decimal.NewFromFloat(0.8))) && e.capWarnedDay != day {
		e.capWarnedDay = day
		e.logger.Warn("llm daily cost above 80% of cap",
			slog.String("spent_usd", spent.StringFixed(6)),
			slog.String("cap_usd", limit.StringFixed(2)))
	}
	return nil
}

// projectedCallCost is a conservative worst-case estimate of the next
// completion, priced as a full-length prompt plus a generous completion, so
// a call is refused rather than issued into a budget it would overrun.
func (e *Enricher) projectedCallCost() decimal.Decimal {
	// Rough chars-per-token ratio for mixed ru/en text.
	promptTokens := 1500
	if e.cfg.MaxInputChars > 0 {
		promptTokens = e.cfg.MaxInputChars/4 + 500
	}
	return llm.CostEstimate(e.client.Model(), llm.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: 500,
	})
}

// EnrichPost enriches a single post. On success the enrichment row and a
// ledger entry are written; on failure nothing is persisted except the
// ledger entry when tokens were actually consumed.
func (e *Enricher) EnrichPost(ctx context.Context, post store.UnenrichedPost) (store.Enrichment, error) {
	enrichment, _, err := e.enrichOne(ctx, post)
	return enrichment, err
}

func (e *Enricher) enrichOne(ctx context.Context, post store.UnenrichedPost) (store.Enrichment, decimal.Decimal, error) {
	if !e.Enabled() {
		return store.Enrichment{}, decimal.Zero, ErrNotConfigured
	}
	if err := e.checkCostCap(ctx); err != nil {
		return store.Enrichment{}, decimal.Zero, err
	}

	res, err := e.client.Complete(ctx, llm.Request{
		Messages:    BuildMessages(post.TextContent, e.cfg.MaxInputChars),
		Temperature: 0.1,
		JSONMode:    true,
	})
	if err != nil {
		// A parse failure still consumed tokens; keep the ledger honest.
		if errors.Is(err, llm.ErrBadResponse) && res.Usage.TotalTokens > 0 {
			e.recordUsage(ctx, res, 0)
		}
		return store.Enrichment{}, decimal.Zero, fmt.Errorf("enrich post %s: %w", post.PostID, err)
	}

	enrichment := parseResult(res.ParsedJSON)
	enrichment.PostID = post.PostID
	enrichment.ModelUsed = res.Model
	enrichment.TokenCount = res.Usage.TotalTokens
	enrichment.ProcessingTimeMS = res.DurationMS

	stored, err := e.storage.InsertEnrichment(ctx, enrichment)
	if err != nil && !errors.Is(err, store.ErrAlreadyEnriched) {
		e.recordUsage(ctx, res, 0)
		return store.Enrichment{}, decimal.Zero, err
	}
	cost := e.recordUsage(ctx, res, 1)
	if errors.Is(err, store.ErrAlreadyEnriched) {
		return enrichment, cost, err
	}
	return stored, cost, nil
}

func (e *Enricher) recordUsage(ctx context.Context, res llm.CompletionResult, posts int) decimal.Decimal {
	cost := llm.CostEstimate(res.Model, res.Usage)
	if _, err := e.storage.InsertUsage(ctx, store.UsageEntry{
		Model:            res.Model,
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
		TotalTokens:      res.Usage.TotalTokens,
		EstimatedCostUSD: cost,
		TaskName:         taskEnrichment,
		PostsProcessed:   posts,
	}); err != nil {
		e.logger.Error("record llm usage", slog.Any("error", err))
	}
	return cost
}

// EnrichPending processes up to BatchSize unenriched posts, oldest first. A
// single post failing never stops the batch; hitting the cost cap does.
func (e *Enricher) EnrichPending(ctx context.Context) (Report, error) {
	var report Report
	if !e.Enabled() {
		return report, ErrNotConfigured
	}
	posts, err := e.storage.ListUnenriched(ctx, e.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	if len(posts) == 0 {
		return report, nil
	}

	for _, post := range posts {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		e.pacer.Take()

		_, cost, err := e.enrichOne(ctx, post)
		switch {
		case errors.Is(err, ErrCostCapExceeded):
			report.Skipped = len(posts) - report.Processed - report.Failed
			e.logger.Warn("enrichment stopped by cost cap",
				slog.Int("processed", report.Processed),
				slog.Int("skipped", report.Skipped))
			return report, err
		case errors.Is(err, store.ErrAlreadyEnriched):
			report.Skipped++
		case err != nil:
			report.Failed++
			e.logger.Error("enrichment failed",
				slog.String("post_id", post.PostID),
				slog.Any("error", err))
		default:
			report.Processed++
			report.CostUSD = report.CostUSD.Add(cost)
		}
	}

	e.logger.Info("enrichment pass complete",
		slog.Int("processed", report.Processed),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped))
	return report, nil
}
