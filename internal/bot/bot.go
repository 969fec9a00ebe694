// Package bot is the Telegram chat surface: a thin command dispatcher over
// the core services.
package bot

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tnsehq/tnse/internal/collector"
	"github.com/tnsehq/tnse/internal/enricher"
	"github.com/tnsehq/tnse/internal/scheduler"
	"github.com/tnsehq/tnse/internal/search"
	"github.com/tnsehq/tnse/internal/store"
)

const maxMessageLength = 4096

// Services bundles the capabilities the bot exposes. Optional fields may be
// nil; their commands then answer with a not-configured notice.
type Services struct {
	Channels  *collector.Manager
	Scheduler *scheduler.Scheduler
	Search    *search.Engine
	Enricher  *enricher.Enricher
	Store     *store.Store
}

// Bot long-polls Telegram updates and dispatches commands.
type Bot struct {
	api      *tgbotapi.BotAPI
	logger   *slog.Logger
	services Services
	// allowed is the access allow list; empty means open access.
	allowed map[int64]bool
}

// New connects to the Bot API. The token is validated by the initial getMe
// call inside NewBotAPI.
func New(log *slog.Logger, token string, allowedIDs []int64, services Services) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	allowed := make(map[int64]bool, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = true
	}
	b := &Bot{
		api:      api,
		logger:   log.With(slog.String("service", "bot")),
		services: services,
		allowed:  allowed,
	}
	b.logger.Info("bot authorized", slog.String("username", api.Self.UserName))
	return b, nil
}

// Run long-polls updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := b.api.GetUpdatesChan(updateConfig)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			// Drain so the library's polling goroutine can exit; an in-flight
			// long-poll otherwise keeps the old getUpdates session alive.
			for range updates {
			}
			return
		case update, ok := <-updates:
			if !ok {
				b.logger.Info("updates channel closed")
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	userID := msg.From.ID
	if len(b.allowed) > 0 && !b.allowed[userID] {
		b.logger.Warn("access denied",
			slog.Int64("user_id", userID),
			slog.String("command", msg.Command()))
		b.reply(msg, "You are not authorized to use this bot.")
		return
	}

	command := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	b.logger.Info("command received",
		slog.Int64("user_id", userID),
		slog.String("command", command))

	var response string
	switch command {
	case "start", "help":
		response = helpText
	case "search":
		response = b.cmdSearch(ctx, args)
	case "add":
		response = b.cmdAdd(ctx, args)
	case "remove":
		response = b.cmdRemove(ctx, args)
	case "list":
		response = b.cmdList(ctx)
	case "sync":
		response = b.cmdSync(ctx, userID, args)
	case "topics":
		response = b.cmdTopics(ctx)
	case "save_topic":
		response = b.cmdSaveTopic(ctx, args)
	case "delete_topic":
		response = b.cmdDeleteTopic(ctx, args)
	case "usage":
		response = b.cmdUsage(ctx)
	default:
		response = "Unknown command. Send /help for the command list."
	}
	b.reply(msg, response)
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	if text == "" {
		return
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, truncateText(sanitizeText(text)))
	out.ReplyToMessageID = msg.MessageID
	out.DisableWebPagePreview = true
	if _, err := b.api.Send(out); err != nil {
		b.logger.Error("send reply failed", slog.Any("error", err))
	}
}

// sanitizeText strips invalid UTF-8 byte sequences the Bot API rejects.
func sanitizeText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateText cuts to the Bot API message limit on a rune boundary.
func truncateText(text string) string {
	if len(text) <= maxMessageLength {
		return text
	}
	const suffix = "..."
	limit := maxMessageLength - len(suffix)
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + suffix
}
