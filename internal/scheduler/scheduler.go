// Package scheduler fans periodic and manual collection out over the active
// channels.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/tnsehq/tnse/internal/collector"
	"github.com/tnsehq/tnse/internal/store"
	"github.com/tnsehq/tnse/internal/telegram"
)

// ErrCooldown is returned when a caller retriggers a manual sync too soon.
// The remaining wait travels in CooldownError.
var ErrCooldown = errors.New("manual sync is cooling down")

// CooldownError carries the remaining cooldown back to the caller.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("manual sync is cooling down, retry in %s", e.Remaining.Round(time.Second))
}

func (e *CooldownError) Unwrap() error { return ErrCooldown }

// SweepReport aggregates one fan-out over the active channels.
type SweepReport struct {
	ChannelsProcessed int
	PostsCollected    int
	Errors            []string
	Elapsed           time.Duration
}

// ChannelLister is the slice of the store the scheduler needs.
type ChannelLister interface {
	ListActiveChannels(ctx context.Context) ([]store.Channel, error)
	GetChannelByUsername(ctx context.Context, username string) (store.Channel, error)
}

// Collector runs one channel harvest.
type Collector interface {
	CollectChannel(ctx context.Context, channelID string) (collector.Report, error)
}

// Config holds scheduler tunables.
type Config struct {
	Interval      time.Duration
	Concurrency   int
	RetryAttempts int
	// RetentionWindow enables the periodic retention sweep when positive.
	RetentionWindow time.Duration
}

// Scheduler owns the periodic collection loop and the manual sync surface.
type Scheduler struct {
	channels  ChannelLister
	collector Collector
	cooldown  *Cooldown
	cfg       Config
	logger    *slog.Logger

	cron   *cron.Cron
	cancel context.CancelFunc

	// sweeper is set when a retention window is configured.
	sweeper interface {
		DeletePostsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}
}

// New creates a Scheduler. It does not start any loop.
func New(log *slog.Logger, channels ChannelLister, coll Collector, cooldown *Cooldown, cfg Config) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	return &Scheduler{
		channels:  channels,
		collector: coll,
		cooldown:  cooldown,
		cfg:       cfg,
		logger:    log.With(slog.String("service", "scheduler")),
	}
}

// WithRetention attaches the retention sweeper.
func (s *Scheduler) WithRetention(sweeper interface {
	DeletePostsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}) *Scheduler {
	s.sweeper = sweeper
	return s
}

// Start launches the periodic loop. The first sweep runs on the first tick.
func (s *Scheduler) Start() error {
	if s.cron != nil {
		return errors.New("scheduler already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.cron = cron.New()

	spec := fmt.Sprintf("@every %ds", int(s.cfg.Interval.Seconds()))
	if _, err := s.cron.AddFunc(spec, func() {
		report := s.CollectAll(ctx)
		s.logger.Info("collection sweep finished",
			slog.Int("channels", report.ChannelsProcessed),
			slog.Int("posts", report.PostsCollected),
			slog.Int("errors", len(report.Errors)),
			slog.Int64("duration_ms", report.Elapsed.Milliseconds()))
	}); err != nil {
		return fmt.Errorf("schedule collection: %w", err)
	}

	if s.sweeper != nil && s.cfg.RetentionWindow > 0 {
		if _, err := s.cron.AddFunc("@hourly", func() {
			cutoff := time.Now().UTC().Add(-s.cfg.RetentionWindow)
			deleted, err := s.sweeper.DeletePostsBefore(ctx, cutoff)
			if err != nil {
				s.logger.Error("retention sweep failed", slog.Any("error", err))
				return
			}
			if deleted > 0 {
				s.logger.Info("retention sweep", slog.Int64("deleted", deleted))
			}
		}); err != nil {
			return fmt.Errorf("schedule retention: %w", err)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", slog.Duration("interval", s.cfg.Interval))
	return nil
}

// Stop halts the loop and cancels in-flight sweeps.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// CollectAll harvests every active channel with bounded concurrency. One
// channel's failure never cancels another.
func (s *Scheduler) CollectAll(ctx context.Context) SweepReport {
	start := time.Now()
	report := SweepReport{}

	channels, err := s.channels.ListActiveChannels(ctx)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		report.Elapsed = time.Since(start)
		return report
	}

	sem := semaphore.NewWeighted(int64(s.cfg.Concurrency))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, channel := range channels {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			report.Errors = append(report.Errors, err.Error())
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(ch store.Channel) {
			defer wg.Done()
			defer sem.Release(1)

			chReport, err := s.collectWithRetry(ctx, ch.ID)
			mu.Lock()
			defer mu.Unlock()
			report.ChannelsProcessed++
			report.PostsCollected += chReport.Collected
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", ch.Username, err))
			}
			for _, msg := range chReport.Errors {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", ch.Username, msg))
			}
		}(channel)
	}
	wg.Wait()

	report.Elapsed = time.Since(start)
	return report
}

// collectWithRetry retries transient collection failures with exponential
// backoff. Permanent failures (auth, not-found, private) surface immediately.
func (s *Scheduler) collectWithRetry(ctx context.Context, channelID string) (collector.Report, error) {
	var report collector.Report
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second

	err := backoff.Retry(func() error {
		var err error
		report, err = s.collector.CollectChannel(ctx, channelID)
		if err == nil {
			return nil
		}
		if isPermanentCollectError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.cfg.RetryAttempts)), ctx))
	return report, err
}

func isPermanentCollectError(err error) bool {
	return errors.Is(err, telegram.ErrChannelNotFound) ||
		errors.Is(err, telegram.ErrChannelPrivate) ||
		errors.Is(err, telegram.ErrNotConfigured) ||
		errors.Is(err, store.ErrChannelNotFound) ||
		errors.Is(err, context.Canceled)
}

// SyncAll runs a caller-initiated sweep over all active channels, subject to
// the per-caller cooldown.
func (s *Scheduler) SyncAll(ctx context.Context, callerID int64) (SweepReport, error) {
	if remaining, ok := s.cooldown.Try(callerID); !ok {
		return SweepReport{}, &CooldownError{Remaining: remaining}
	}
	return s.CollectAll(ctx), nil
}

// SyncChannel runs a caller-initiated single-channel sync, subject to the
// same per-caller cooldown.
func (s *Scheduler) SyncChannel(ctx context.Context, callerID int64, username string) (collector.Report, error) {
	if remaining, ok := s.cooldown.Try(callerID); !ok {
		return collector.Report{}, &CooldownError{Remaining: remaining}
	}
	channel, err := s.channels.GetChannelByUsername(ctx, telegram.NormalizeIdentifier(username))
	if err != nil {
		return collector.Report{}, err
	}
	return s.collectWithRetry(ctx, channel.ID)
}
