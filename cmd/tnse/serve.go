package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/tnsehq/tnse/internal/bot"
	"github.com/tnsehq/tnse/internal/collector"
	"github.com/tnsehq/tnse/internal/config"
	"github.com/tnsehq/tnse/internal/db"
	"github.com/tnsehq/tnse/internal/enricher"
	"github.com/tnsehq/tnse/internal/llm"
	"github.com/tnsehq/tnse/internal/logger"
	"github.com/tnsehq/tnse/internal/scheduler"
	"github.com/tnsehq/tnse/internal/search"
	"github.com/tnsehq/tnse/internal/store"
	"github.com/tnsehq/tnse/internal/telegram"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBPool,
			provideStore,
			provideRedisClient,
			provideTelegramAdapter,
			provideLLMClient,
			provideChannelManager,
			provideCollector,
			provideCooldown,
			provideScheduler,
			provideEnricher,
			provideSearchEngine,
			provideBot,
		),
		fx.Invoke(
			logServiceStatus,
			startScheduler,
			startEnricher,
			startBot,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

// provideDBPool migrates the schema and opens the pool. A failure here takes
// the process down with a non-zero exit.
func provideDBPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	dsn := cfg.Postgres.DSN()
	if err := db.Migrate(dsn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := db.Open(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

func provideStore(log *slog.Logger, pool *pgxpool.Pool) *store.Store {
	return store.New(log, pool)
}

// provideRedisClient returns nil when no Redis is configured; the search
// engine then runs without a result cache.
func provideRedisClient(lc fx.Lifecycle, cfg config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled() {
		return nil, nil
	}
	opts, err := cfg.Redis.Options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return client.Close() }})
	return client, nil
}

// provideTelegramAdapter returns nil when MTProto credentials are absent;
// collection then stays off while search over existing data keeps working.
func provideTelegramAdapter(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) *telegram.Adapter {
	if !cfg.Telegram.HasAPICredentials() {
		return nil
	}
	adapter := telegram.NewAdapter(log, cfg.Telegram)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { adapter.Close(); return nil }})
	return adapter
}

// provideLLMClient returns nil without an API key; enrichment stays off.
func provideLLMClient(log *slog.Logger, cfg config.Config) *llm.Client {
	if !cfg.LLM.Enabled() {
		return nil
	}
	return llm.NewClient(log, cfg.LLM)
}

func provideChannelManager(log *slog.Logger, adapter *telegram.Adapter, st *store.Store) *collector.Manager {
	var resolver collector.Resolver
	if adapter != nil {
		resolver = adapter
	}
	return collector.NewManager(log, resolver, st)
}

func provideCollector(log *slog.Logger, adapter *telegram.Adapter, st *store.Store, cfg config.Config) *collector.Collector {
	if adapter == nil {
		return nil
	}
	return collector.New(log, adapter, st, collector.Config{
		WindowHours:     cfg.Collection.ContentWindowHours,
		FetchLimit:      cfg.Collection.FetchLimit,
		ReactionWeights: cfg.ReactionWeights(),
	})
}

func provideCooldown(cfg config.Config) *scheduler.Cooldown {
	return scheduler.NewCooldown(time.Duration(cfg.Collection.SyncCooldownSeconds) * time.Second)
}

func provideScheduler(log *slog.Logger, st *store.Store, coll *collector.Collector, cooldown *scheduler.Cooldown, cfg config.Config) *scheduler.Scheduler {
	if coll == nil {
		return nil
	}
	sched := scheduler.New(log, st, coll, cooldown, scheduler.Config{
		Interval:        time.Duration(cfg.Collection.IntervalSeconds) * time.Second,
		Concurrency:     cfg.Collection.Concurrency,
		RetryAttempts:   cfg.Collection.RetryAttempts,
		RetentionWindow: time.Duration(cfg.Collection.RetentionDays) * 24 * time.Hour,
	})
	if cfg.Collection.RetentionDays > 0 {
		sched.WithRetention(st)
	}
	return sched
}

func provideEnricher(log *slog.Logger, client *llm.Client, st *store.Store, cfg config.Config) *enricher.Enricher {
	var completer enricher.Completer
	if client != nil {
		completer = client
	}
	return enricher.New(log, completer, st, enricher.Config{
		RequestsPerMinute: cfg.Enrichment.RequestsPerMinute,
		BatchSize:         cfg.Enrichment.BatchSize,
		DailyCostCapUSD:   cfg.LLM.DailyCostCapUSD,
		MaxInputChars:     cfg.LLM.MaxInputChars,
	})
}

func provideSearchEngine(log *slog.Logger, st *store.Store, redisClient *redis.Client, cfg config.Config) *search.Engine {
	var cache search.Cache
	if redisClient != nil {
		cache = search.NewRedisCache(log, redisClient)
	}
	return search.New(log, st, cache, search.Config{
		CacheTTL:      time.Duration(cfg.Search.CacheTTLSeconds) * time.Second,
		DefaultLimit:  cfg.Search.DefaultLimit,
		WindowHours:   cfg.Collection.ContentWindowHours,
		RecencyWeight: cfg.Search.RecencyWeight,
	})
}

// provideBot requires the bot token; a missing or rejected token fails the
// whole app.
func provideBot(log *slog.Logger, cfg config.Config, channels *collector.Manager,
	sched *scheduler.Scheduler, engine *search.Engine, enr *enricher.Enricher, st *store.Store) (*bot.Bot, error) {
	if cfg.Telegram.BotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	return bot.New(log, cfg.Telegram.BotToken, cfg.AllowedIDs(), bot.Services{
		Channels:  channels,
		Scheduler: sched,
		Search:    engine,
		Enricher:  enr,
		Store:     st,
	})
}

func logServiceStatus(log *slog.Logger, cfg config.Config, adapter *telegram.Adapter,
	client *llm.Client, redisClient *redis.Client) {
	status := func(on bool) string {
		if on {
			return "enabled"
		}
		return "disabled"
	}
	log.Info("collection "+status(adapter != nil),
		slog.Int("interval_seconds", cfg.Collection.IntervalSeconds))
	log.Info("enrichment " + status(client != nil))
	log.Info("search cache " + status(redisClient != nil))
}

func startScheduler(lc fx.Lifecycle, sched *scheduler.Scheduler) {
	if sched == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return sched.Start() },
		OnStop:  func(ctx context.Context) error { sched.Stop(); return nil },
	})
}

// startEnricher runs EnrichPending on its own cron cadence.
func startEnricher(lc fx.Lifecycle, log *slog.Logger, enr *enricher.Enricher, cfg config.Config) {
	if !enr.Enabled() {
		return
	}
	interval := cfg.Enrichment.IntervalSeconds
	if interval <= 0 {
		interval = 300
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %ds", interval), func() {
		if _, err := enr.EnrichPending(ctx); err != nil {
			log.Error("enrichment pass failed", slog.Any("error", err))
		}
	})
	if err != nil {
		cancel()
		log.Error("schedule enrichment", slog.Any("error", err))
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { c.Start(); return nil },
		OnStop: func(context.Context) error {
			cancel()
			<-c.Stop().Done()
			return nil
		},
	})
}

func startBot(lc fx.Lifecycle, b *bot.Bot) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				b.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
