// Package telegram adapts the MTProto API for channel resolution and
// message harvesting.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"golang.org/x/time/rate"

	"github.com/tnsehq/tnse/internal/config"
)

// Adapter wraps a gotd client with lazy connection, flood-wait handling, and
// a process-wide dual token bucket (per-second and per-minute). Callers never
// connect explicitly; the first API call dials.
type Adapter struct {
	cfg    config.TelegramConfig
	logger *slog.Logger

	perSecond *rate.Limiter
	perMinute *rate.Limiter

	mu      sync.Mutex
	started bool
	ready   chan struct{}
	runErr  error
	api     *tg.Client
	stop    context.CancelFunc
}

// NewAdapter creates an Adapter. It does not dial.
func NewAdapter(log *slog.Logger, cfg config.TelegramConfig) *Adapter {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 20
	}
	return &Adapter{
		cfg:       cfg,
		logger:    log.With(slog.String("service", "telegram")),
		perSecond: rate.NewLimiter(rate.Limit(rps), rps),
		perMinute: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
	}
}

// Close stops the background client, if one was started.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil {
		a.stop()
		a.stop = nil
	}
}

// ensureConnected lazily starts the MTProto client and waits until it is
// usable or failed.
func (a *Adapter) ensureConnected(ctx context.Context) (*tg.Client, error) {
	if !a.cfg.HasAPICredentials() {
		return nil, ErrNotConfigured
	}

	a.mu.Lock()
	if !a.started {
		a.started = true
		a.ready = make(chan struct{})
		runCtx, cancel := context.WithCancel(context.Background())
		a.stop = cancel
		go a.run(runCtx)
	}
	ready := a.ready
	a.mu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runErr != nil {
		return nil, a.runErr
	}
	return a.api, nil
}

// run owns the client lifetime. It terminates when the adapter is closed.
func (a *Adapter) run(ctx context.Context) {
	maxWait := time.Duration(a.cfg.MaxFloodWaitSeconds) * time.Second
	if maxWait <= 0 {
		maxWait = time.Minute
	}
	waiter := floodwait.NewWaiter().WithMaxWait(maxWait)

	client := telegram.NewClient(a.cfg.APIID, a.cfg.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{
			Path: filepath.Join(a.cfg.SessionDir, "tnse.session"),
		},
		Middlewares: []telegram.Middleware{waiter},
	})

	err := waiter.Run(ctx, func(ctx context.Context) error {
		return client.Run(ctx, func(ctx context.Context) error {
			status, err := client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("auth status: %w", err)
			}
			if !status.Authorized {
				return errors.New("telegram session is not authorized; run the login flow first")
			}
			a.mu.Lock()
			a.api = client.API()
			a.mu.Unlock()
			close(a.ready)
			<-ctx.Done()
			return ctx.Err()
		})
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.api == nil {
		// Failed before becoming ready; release waiters with the error.
		a.runErr = err
		close(a.ready)
	}
	a.api = nil
	a.started = false
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("telegram client stopped", slog.Any("error", err))
	}
}

// acquire takes one token from both buckets, honoring cancellation.
func (a *Adapter) acquire(ctx context.Context) error {
	if err := a.perSecond.Wait(ctx); err != nil {
		return err
	}
	return a.perMinute.Wait(ctx)
}

// withRetry runs op with exponential backoff and jitter for transient
// failures. Permanent errors stop immediately.
func (a *Adapter) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	attempts := a.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}

	return backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		err = classify(err)
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		a.logger.Debug("transient telegram error, retrying", slog.Any("error", err))
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts)), ctx))
}

// NormalizeIdentifier reduces any accepted channel identifier form
// (@name, name, t.me/name, https://t.me/name) to the lowercase username.
func NormalizeIdentifier(identifier string) string {
	s := strings.TrimSpace(identifier)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "t.me/")
	s = strings.TrimPrefix(s, "@")
	s = strings.TrimSuffix(s, "/")
	return strings.ToLower(s)
}

// Resolve looks up a public channel by any accepted identifier form.
func (a *Adapter) Resolve(ctx context.Context, identifier string) (ChannelInfo, error) {
	username := NormalizeIdentifier(identifier)
	if username == "" {
		return ChannelInfo{}, fmt.Errorf("%w: empty identifier", ErrChannelNotFound)
	}

	api, err := a.ensureConnected(ctx)
	if err != nil {
		return ChannelInfo{}, err
	}

	var info ChannelInfo
	err = a.withRetry(ctx, func(ctx context.Context) error {
		if err := a.acquire(ctx); err != nil {
			return err
		}
		resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
			Username: username,
		})
		if err != nil {
			return err
		}
		channel := findChannel(resolved.Chats)
		if channel == nil {
			return ErrChannelNotFound
		}
		info = ChannelInfo{
			TelegramID:      channel.ID,
			AccessHash:      channel.AccessHash,
			Username:        strings.ToLower(channel.Username),
			Title:           channel.Title,
			SubscriberCount: channel.ParticipantsCount,
		}
		return nil
	})
	if err != nil {
		return ChannelInfo{}, err
	}

	// The short resolve response often omits the description and the
	// participant count; the full-channel call fills them in when possible.
	if full, err := a.fullChannel(ctx, api, info.TelegramID, info.AccessHash); err != nil {
		a.logger.Debug("full channel lookup failed",
			slog.String("username", username), slog.Any("error", err))
	} else {
		info.Description = full.About
		if full.ParticipantsCount > 0 {
			info.SubscriberCount = full.ParticipantsCount
		}
	}
	return info, nil
}

func (a *Adapter) fullChannel(ctx context.Context, api *tg.Client, id, accessHash int64) (*tg.ChannelFull, error) {
	var full *tg.ChannelFull
	err := a.withRetry(ctx, func(ctx context.Context) error {
		if err := a.acquire(ctx); err != nil {
			return err
		}
		res, err := api.ChannelsGetFullChannel(ctx, &tg.InputChannel{
			ChannelID:  id,
			AccessHash: accessHash,
		})
		if err != nil {
			return err
		}
		cf, ok := res.FullChat.(*tg.ChannelFull)
		if !ok {
			return fmt.Errorf("unexpected full chat type %T", res.FullChat)
		}
		full = cf
		return nil
	})
	return full, err
}

// FetchMessages pulls recent channel history. Only messages with
// id > minID published within maxAge are returned; a negative minID is
// clamped to zero.
func (a *Adapter) FetchMessages(ctx context.Context, channelID, accessHash, minID int64, maxAge time.Duration, limit int) (FetchResult, error) {
	if minID < 0 {
		minID = 0
	}
	if limit <= 0 {
		limit = 100
	}

	api, err := a.ensureConnected(ctx)
	if err != nil {
		return FetchResult{}, err
	}

	var history tg.MessagesMessagesClass
	err = a.withRetry(ctx, func(ctx context.Context) error {
		if err := a.acquire(ctx); err != nil {
			return err
		}
		history, err = api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer: &tg.InputPeerChannel{
				ChannelID:  channelID,
				AccessHash: accessHash,
			},
			MinID: int(minID),
			Limit: limit,
		})
		return err
	})
	if err != nil {
		return FetchResult{}, err
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	result := extractHistory(history, minID, cutoff)
	a.logger.Debug("fetched channel history",
		slog.Int64("channel_id", channelID),
		slog.Int64("min_id", minID),
		slog.Int("count", result.Count),
		slog.Int64("max_message_id", result.MaxMessageID))
	return result, nil
}

func findChannel(chats []tg.ChatClass) *tg.Channel {
	for _, c := range chats {
		if channel, ok := c.(*tg.Channel); ok {
			return channel
		}
	}
	return nil
}
