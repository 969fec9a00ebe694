package telegram

import (
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeIdentifier(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"@WorldNews", "worldnews"},
		{"worldnews", "worldnews"},
		{"t.me/worldnews", "worldnews"},
		{"https://t.me/WorldNews", "worldnews"},
		{"http://t.me/worldnews/", "worldnews"},
		{"  @worldnews  ", "worldnews"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeIdentifier(tt.raw), "NormalizeIdentifier(%q)", tt.raw)
	}
}

func TestExtractHistoryFilters(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-24 * time.Hour)

	msgs := []tg.MessageClass{
		&tg.Message{ID: 5, Date: int(now.Add(-1 * time.Hour).Unix()), Message: "below cursor"},
		&tg.Message{ID: 10, Date: int(now.Add(-30 * time.Hour).Unix()), Message: "too old"},
		&tg.Message{ID: 11, Date: int(now.Add(-2 * time.Hour).Unix()), Message: "fresh"},
		&tg.Message{ID: 12, Date: int(now.Add(-1 * time.Hour).Unix()), Message: "freshest"},
		&tg.MessageEmpty{ID: 13},
	}
	history := &tg.MessagesChannelMessages{Messages: msgs}

	result := extractHistory(history, 5, cutoff)
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, int64(12), result.MaxMessageID)
	for _, m := range result.Messages {
		assert.Greater(t, m.ID, int64(5), "messages at or below the cursor must be filtered")
	}
}

func TestExtractHistorySubscriberCount(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	history := &tg.MessagesChannelMessages{
		Messages: []tg.MessageClass{
			&tg.Message{ID: 20, Date: int(now.Unix()), Message: "item"},
		},
		Chats: []tg.ChatClass{
			&tg.Channel{ID: 42, Username: "news", ParticipantsCount: 15000},
		},
	}

	result := extractHistory(history, 0, now.Add(-time.Hour))
	assert.Equal(t, 15000, result.SubscriberCount, "channel participant count must travel with the history")

	// Absent chats leave the count at zero.
	bare := extractHistory(&tg.MessagesChannelMessages{}, 0, now)
	assert.Zero(t, bare.SubscriberCount)
}

func TestExtractReactions(t *testing.T) {
	reactions := tg.MessageReactions{
		Results: []tg.ReactionCount{
			{Reaction: &tg.ReactionEmoji{Emoticon: "👍"}, Count: 12},
			{Reaction: &tg.ReactionEmoji{Emoticon: "❤"}, Count: 3},
			{Reaction: &tg.ReactionCustomEmoji{DocumentID: 5555}, Count: 2},
		},
	}
	counts := extractReactions(reactions)
	assert.Equal(t, 12, counts["👍"])
	assert.Equal(t, 3, counts["❤"])
	assert.Equal(t, 2, counts["custom:5555"], "custom emoji must be keyed by document id")
	assert.Nil(t, extractReactions(tg.MessageReactions{}), "no reactions must map to nil")
}

func TestExtractMessageForward(t *testing.T) {
	published := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	msg := &tg.Message{
		ID:      77,
		Message: "forwarded item",
		Views:   1000,
	}
	fwd := tg.MessageFwdHeader{}
	fwd.SetFromID(&tg.PeerChannel{ChannelID: 4242})
	fwd.SetChannelPost(31)
	msg.SetFwdFrom(fwd)

	m := extractMessage(msg, published)
	assert.True(t, m.IsForwarded, "forward header must mark the message forwarded")
	require.NotNil(t, m.ForwardFromChannelID)
	assert.Equal(t, int64(4242), *m.ForwardFromChannelID)
	require.NotNil(t, m.ForwardFromMessageID)
	assert.Equal(t, int64(31), *m.ForwardFromMessageID)
}

func TestExtractMediaVideo(t *testing.T) {
	media := &tg.MessageMediaDocument{}
	doc := &tg.Document{
		ID:       909,
		Size:     2048,
		MimeType: "video/mp4",
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeVideo{W: 1280, H: 720, Duration: 12.0},
		},
	}
	media.SetDocument(doc)

	desc, ok := extractMedia(media)
	require.True(t, ok, "video document must be extracted")
	assert.Equal(t, "video", desc.Type)
	assert.Equal(t, 1280, desc.Width)
	assert.Equal(t, 12, desc.DurationSeconds)
}
