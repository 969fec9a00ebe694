package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tnsehq/tnse/internal/ranker"
	"github.com/tnsehq/tnse/internal/scheduler"
	"github.com/tnsehq/tnse/internal/search"
	"github.com/tnsehq/tnse/internal/store"
	"github.com/tnsehq/tnse/internal/telegram"
)

const helpText = `News search engine commands:
/search <keywords> [sort:combined|views|reactions|engagement|recency] [hours:N] [category:X] [sentiment:X]
/add <@channel|t.me/channel> — start collecting a public channel
/remove <@channel> — stop collecting a channel
/list — channels being collected
/sync [@channel] — collect now instead of waiting for the schedule
/topics — saved searches
/save_topic <name> <keywords...> — save a search
/delete_topic <name>
/usage — LLM spend for recent enrichment`

const notConfigured = "%s is not configured."

func (b *Bot) cmdSearch(ctx context.Context, args string) string {
	if b.services.Search == nil {
		return fmt.Sprintf(notConfigured, "Search")
	}
	if args == "" {
		return "Usage: /search <keywords> [sort:views] [hours:48]"
	}
	query, err := parseSearchArgs(args)
	if err != nil {
		return err.Error()
	}
	if len(query.Keywords) == 0 {
		return "No searchable keywords in the query."
	}

	page, err := b.services.Search.Search(ctx, query)
	if err != nil {
		b.logger.Error("search failed", slog.Any("error", err))
		return "Search failed, try again later."
	}
	if len(page.Results) == 0 {
		return "Nothing found."
	}
	return formatResults(page)
}

// parseSearchArgs splits option tokens of the form key:value out of the raw
// query; everything else is keyword text.
func parseSearchArgs(args string) (search.Query, error) {
	var q search.Query
	var words []string
	for _, token := range strings.Fields(args) {
		key, value, found := strings.Cut(token, ":")
		if !found {
			words = append(words, token)
			continue
		}
		switch strings.ToLower(key) {
		case "sort":
			q.Sort = ranker.ParseSortMode(strings.ToLower(value))
		case "hours":
			var hours int
			if _, err := fmt.Sscanf(value, "%d", &hours); err != nil || hours <= 0 {
				return search.Query{}, fmt.Errorf("hours must be a positive number, got %q", value)
			}
			q.MaxAgeHours = hours
		case "category":
			q.Category = strings.ToLower(value)
			q.IncludeEnrichment = true
		case "sentiment":
			q.Sentiment = strings.ToLower(value)
			q.IncludeEnrichment = true
		default:
			words = append(words, token)
		}
	}
	q.Keywords = search.ParseKeywords(strings.Join(words, " "))
	q.IncludeEnrichment = q.IncludeEnrichment || len(q.Keywords) > 0
	return q, nil
}

func formatResults(page search.Page) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d posts:\n", page.Total)
	for i, r := range page.Results {
		title := r.ChannelTitle
		if title == "" {
			title = "@" + r.ChannelUsername
		}
		fmt.Fprintf(&sb, "\n%d. %s — %s\n", page.Offset+i+1, title,
			r.PublishedAt.Format("02 Jan 15:04"))
		fmt.Fprintf(&sb, "%s\n", snippet(r.Text, 200))
		fmt.Fprintf(&sb, "views %d · reactions %.0f", r.ViewCount, r.ReactionScore)
		if r.Category != "" {
			fmt.Fprintf(&sb, " · %s", r.Category)
		}
		fmt.Fprintf(&sb, "\nhttps://t.me/%s/%d\n", r.ChannelUsername, r.MessageID)
	}
	return sb.String()
}

func snippet(text string, maxRunes int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + "…"
}

func (b *Bot) cmdAdd(ctx context.Context, args string) string {
	if b.services.Channels == nil {
		return fmt.Sprintf(notConfigured, "Channel management")
	}
	if args == "" {
		return "Usage: /add <@channel|t.me/channel>"
	}
	ch, err := b.services.Channels.AddChannel(ctx, args)
	switch {
	case errors.Is(err, store.ErrChannelExists):
		return fmt.Sprintf("@%s is already being collected.", ch.Username)
	case errors.Is(err, telegram.ErrNotConfigured):
		return fmt.Sprintf(notConfigured, "The Telegram API")
	case errors.Is(err, telegram.ErrChannelNotFound):
		return fmt.Sprintf("Channel %s not found.", args)
	case errors.Is(err, telegram.ErrChannelPrivate):
		return fmt.Sprintf("Channel %s is private; only public channels can be collected.", args)
	case err != nil:
		b.logger.Error("add channel failed", slog.Any("error", err))
		return "Could not add the channel, try again later."
	}
	return fmt.Sprintf("Now collecting @%s (%s, %d subscribers).",
		ch.Username, ch.Title, ch.SubscriberCount)
}

func (b *Bot) cmdRemove(ctx context.Context, args string) string {
	if b.services.Channels == nil {
		return fmt.Sprintf(notConfigured, "Channel management")
	}
	if args == "" {
		return "Usage: /remove <@channel>"
	}
	ch, err := b.services.Channels.RemoveChannel(ctx, args)
	switch {
	case errors.Is(err, store.ErrChannelNotFound):
		return fmt.Sprintf("Channel %s is not in the collection list.", args)
	case err != nil:
		b.logger.Error("remove channel failed", slog.Any("error", err))
		return "Could not remove the channel, try again later."
	}
	return fmt.Sprintf("Stopped collecting @%s. Collected posts are kept.", ch.Username)
}

func (b *Bot) cmdList(ctx context.Context) string {
	if b.services.Channels == nil {
		return fmt.Sprintf(notConfigured, "Channel management")
	}
	channels, err := b.services.Channels.ListChannels(ctx)
	if err != nil {
		b.logger.Error("list channels failed", slog.Any("error", err))
		return "Could not list channels, try again later."
	}
	if len(channels) == 0 {
		return "No channels yet. Add one with /add <@channel>."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Collecting %d channels:\n", len(channels))
	for _, ch := range channels {
		fmt.Fprintf(&sb, "• @%s — %s (%d subscribers)\n", ch.Username, ch.Title, ch.SubscriberCount)
	}
	return sb.String()
}

func (b *Bot) cmdSync(ctx context.Context, userID int64, args string) string {
	if b.services.Scheduler == nil {
		return fmt.Sprintf(notConfigured, "Collection")
	}
	var cdErr *scheduler.CooldownError
	if args != "" {
		report, err := b.services.Scheduler.SyncChannel(ctx, userID, args)
		switch {
		case errors.As(err, &cdErr):
			return fmt.Sprintf("Please wait %s before the next manual sync.",
				cdErr.Remaining.Round(time.Second))
		case errors.Is(err, store.ErrChannelNotFound):
			return fmt.Sprintf("Channel %s is not in the collection list.", args)
		case err != nil:
			b.logger.Error("manual channel sync failed", slog.Any("error", err))
			return "Sync failed, try again later."
		}
		return fmt.Sprintf("Synced %s: %d new posts.", args, report.Collected)
	}

	report, err := b.services.Scheduler.SyncAll(ctx, userID)
	switch {
	case errors.As(err, &cdErr):
		return fmt.Sprintf("Please wait %s before the next manual sync.",
			cdErr.Remaining.Round(time.Second))
	case err != nil:
		b.logger.Error("manual sync failed", slog.Any("error", err))
		return "Sync failed, try again later."
	}
	return fmt.Sprintf("Synced %d channels: %d new posts in %s.",
		report.ChannelsProcessed, report.PostsCollected, report.Elapsed.Round(time.Second))
}

func (b *Bot) cmdTopics(ctx context.Context) string {
	if b.services.Store == nil {
		return fmt.Sprintf(notConfigured, "Topic storage")
	}
	topics, err := b.services.Store.ListTopics(ctx)
	if err != nil {
		b.logger.Error("list topics failed", slog.Any("error", err))
		return "Could not list topics, try again later."
	}
	if len(topics) == 0 {
		return "No saved topics. Save one with /save_topic <name> <keywords>."
	}
	var sb strings.Builder
	sb.WriteString("Saved topics:\n")
	for _, t := range topics {
		fmt.Fprintf(&sb, "• %s: %s\n", t.Name, strings.Join(t.Keywords, " "))
	}
	return sb.String()
}

func (b *Bot) cmdSaveTopic(ctx context.Context, args string) string {
	if b.services.Store == nil {
		return fmt.Sprintf(notConfigured, "Topic storage")
	}
	name, rest, _ := strings.Cut(args, " ")
	keywords := search.ParseKeywords(rest)
	if name == "" || len(keywords) == 0 {
		return "Usage: /save_topic <name> <keywords...>"
	}
	topic, err := b.services.Store.SaveTopic(ctx, store.SavedTopic{
		Name:     name,
		Keywords: keywords,
		SortMode: string(ranker.SortCombined),
	})
	if err != nil {
		b.logger.Error("save topic failed", slog.Any("error", err))
		return "Could not save the topic, try again later."
	}
	return fmt.Sprintf("Saved topic %q: %s", topic.Name, strings.Join(topic.Keywords, " "))
}

func (b *Bot) cmdDeleteTopic(ctx context.Context, args string) string {
	if b.services.Store == nil {
		return fmt.Sprintf(notConfigured, "Topic storage")
	}
	if args == "" {
		return "Usage: /delete_topic <name>"
	}
	err := b.services.Store.DeleteTopic(ctx, args)
	switch {
	case errors.Is(err, store.ErrTopicNotFound):
		return fmt.Sprintf("No topic named %q.", args)
	case err != nil:
		b.logger.Error("delete topic failed", slog.Any("error", err))
		return "Could not delete the topic, try again later."
	}
	return fmt.Sprintf("Deleted topic %q.", args)
}

func (b *Bot) cmdUsage(ctx context.Context) string {
	if b.services.Store == nil || b.services.Enricher == nil || !b.services.Enricher.Enabled() {
		return fmt.Sprintf(notConfigured, "Enrichment")
	}
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	today, err := b.services.Store.DailyCostSince(ctx, dayStart)
	if err != nil {
		b.logger.Error("read cost ledger failed", slog.Any("error", err))
		return "Could not read the usage ledger, try again later."
	}
	entries, err := b.services.Store.ListUsage(ctx, 10)
	if err != nil {
		b.logger.Error("list usage failed", slog.Any("error", err))
		return "Could not read the usage ledger, try again later."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "LLM spend today: $%s\n", today.StringFixed(4))
	if len(entries) > 0 {
		sb.WriteString("\nRecent calls:\n")
		for _, e := range entries {
			fmt.Fprintf(&sb, "• %s %s — %d tokens, $%s, %d posts\n",
				e.CreatedAt.Format("02 Jan 15:04"), e.Model,
				e.TotalTokens, e.EstimatedCostUSD.StringFixed(6), e.PostsProcessed)
		}
	}
	return sb.String()
}
