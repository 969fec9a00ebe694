package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tnsehq/tnse/internal/store"
	"github.com/tnsehq/tnse/internal/telegram"
)

// Resolver is the slice of the Telegram adapter channel management needs.
type Resolver interface {
	Resolve(ctx context.Context, identifier string) (telegram.ChannelInfo, error)
}

// ChannelStorage is the slice of the store channel management needs.
type ChannelStorage interface {
	CreateChannel(ctx context.Context, ch store.Channel) (store.Channel, error)
	GetChannelByUsername(ctx context.Context, username string) (store.Channel, error)
	GetChannelByTelegramID(ctx context.Context, telegramID int64) (store.Channel, error)
	ListActiveChannels(ctx context.Context) ([]store.Channel, error)
	SetChannelActive(ctx context.Context, id string, active bool) error
	RecordHealth(ctx context.Context, channelID string, status store.HealthStatus, message string) error
}

// Manager adds, removes, and lists monitored channels.
type Manager struct {
	resolver Resolver
	storage  ChannelStorage
	logger   *slog.Logger
}

// NewManager creates a channel Manager. A nil resolver marks the Telegram
// API unconfigured; AddChannel then fails with telegram.ErrNotConfigured.
func NewManager(log *slog.Logger, resolver Resolver, storage ChannelStorage) *Manager {
	return &Manager{
		resolver: resolver,
		storage:  storage,
		logger:   log.With(slog.String("service", "channels")),
	}
}

// AddChannel resolves a public channel and registers it for collection.
// Re-adding a previously deactivated channel reactivates it in place,
// keeping its posts and cursor.
func (m *Manager) AddChannel(ctx context.Context, identifier string) (store.Channel, error) {
	if m.resolver == nil {
		return store.Channel{}, telegram.ErrNotConfigured
	}
	info, err := m.resolver.Resolve(ctx, identifier)
	if err != nil {
		return store.Channel{}, fmt.Errorf("resolve %q: %w", identifier, err)
	}

	existing, err := m.storage.GetChannelByTelegramID(ctx, info.TelegramID)
	switch {
	case err == nil:
		if existing.IsActive {
			return existing, store.ErrChannelExists
		}
		if err := m.storage.SetChannelActive(ctx, existing.ID, true); err != nil {
			return store.Channel{}, err
		}
		existing.IsActive = true
		m.logger.Info("channel reactivated",
			slog.String("username", existing.Username),
			slog.String("channel_id", existing.ID))
		return existing, nil
	case !errors.Is(err, store.ErrChannelNotFound):
		return store.Channel{}, err
	}

	created, err := m.storage.CreateChannel(ctx, store.Channel{
		TelegramID:      info.TelegramID,
		AccessHash:      info.AccessHash,
		Username:        info.Username,
		Title:           info.Title,
		Description:     info.Description,
		SubscriberCount: info.SubscriberCount,
		IsActive:        true,
	})
	if err != nil {
		return store.Channel{}, err
	}
	if err := m.storage.RecordHealth(ctx, created.ID, store.HealthHealthy, ""); err != nil {
		m.logger.Warn("record initial health", slog.Any("error", err))
	}
	m.logger.Info("channel added",
		slog.String("username", created.Username),
		slog.Int64("telegram_id", created.TelegramID),
		slog.Int("subscribers", created.SubscriberCount))
	return created, nil
}

// RemoveChannel deactivates a channel by identifier. Collected posts are
// retained; only collection stops.
func (m *Manager) RemoveChannel(ctx context.Context, identifier string) (store.Channel, error) {
	username := telegram.NormalizeIdentifier(identifier)
	ch, err := m.storage.GetChannelByUsername(ctx, username)
	if err != nil {
		return store.Channel{}, err
	}
	if err := m.storage.SetChannelActive(ctx, ch.ID, false); err != nil {
		return store.Channel{}, err
	}
	if err := m.storage.RecordHealth(ctx, ch.ID, store.HealthRemoved, "removed by user"); err != nil {
		m.logger.Warn("record removal health", slog.Any("error", err))
	}
	ch.IsActive = false
	m.logger.Info("channel removed", slog.String("username", ch.Username))
	return ch, nil
}

// ListChannels returns all channels currently being collected.
func (m *Manager) ListChannels(ctx context.Context) ([]store.Channel, error) {
	return m.storage.ListActiveChannels(ctx)
}
