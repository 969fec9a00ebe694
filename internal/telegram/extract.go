package telegram

import (
	"strconv"
	"time"

	"github.com/gotd/td/tg"
)

// extractHistory converts a raw history response into typed messages,
// applying the id and age filters.
func extractHistory(history tg.MessagesMessagesClass, minID int64, cutoff time.Time) FetchResult {
	var (
		raw   []tg.MessageClass
		chats []tg.ChatClass
	)
	switch hist := history.(type) {
	case *tg.MessagesMessages:
		raw = hist.Messages
		chats = hist.Chats
	case *tg.MessagesMessagesSlice:
		raw = hist.Messages
		chats = hist.Chats
	case *tg.MessagesChannelMessages:
		raw = hist.Messages
		chats = hist.Chats
	default:
		return FetchResult{}
	}

	result := FetchResult{}
	// The history response carries the channel itself; its participant
	// count is the freshest subscriber figure available.
	if channel := findChannel(chats); channel != nil {
		result.SubscriberCount = channel.ParticipantsCount
	}
	for _, msgClass := range raw {
		msg, ok := msgClass.(*tg.Message)
		if !ok {
			continue
		}
		published := time.Unix(int64(msg.Date), 0).UTC()
		if int64(msg.ID) <= minID || published.Before(cutoff) {
			continue
		}

		m := extractMessage(msg, published)
		result.Messages = append(result.Messages, m)
		if m.ID > result.MaxMessageID {
			result.MaxMessageID = m.ID
		}
	}
	result.Count = len(result.Messages)
	return result
}

func extractMessage(msg *tg.Message, published time.Time) Message {
	m := Message{
		ID:        int64(msg.ID),
		Date:      published,
		Text:      msg.Message,
		ViewCount: msg.Views,
		Reactions: extractReactions(msg.Reactions),
	}
	m.ForwardCount = msg.Forwards
	if replies, ok := msg.GetReplies(); ok {
		m.ReplyCount = replies.Replies
	}
	if fwd, ok := msg.GetFwdFrom(); ok {
		m.IsForwarded = true
		if peer, ok := fwd.GetFromID(); ok {
			if ch, ok := peer.(*tg.PeerChannel); ok {
				id := ch.ChannelID
				m.ForwardFromChannelID = &id
			}
		}
		if post, ok := fwd.GetChannelPost(); ok {
			id := int64(post)
			m.ForwardFromMessageID = &id
		}
	}
	if msg.Media != nil {
		if desc, ok := extractMedia(msg.Media); ok {
			m.Media = append(m.Media, desc)
		}
	}
	return m
}

// extractReactions maps every distinct reaction kind to its count. Custom
// emoji reactions are keyed by their document id so no kind is ever lost.
func extractReactions(reactions tg.MessageReactions) map[string]int {
	if len(reactions.Results) == 0 {
		return nil
	}
	counts := make(map[string]int, len(reactions.Results))
	for _, r := range reactions.Results {
		switch reaction := r.Reaction.(type) {
		case *tg.ReactionEmoji:
			counts[reaction.Emoticon] += r.Count
		case *tg.ReactionCustomEmoji:
			counts["custom:"+strconv.FormatInt(reaction.DocumentID, 10)] += r.Count
		}
	}
	return counts
}

func extractMedia(media tg.MessageMediaClass) (MediaDescriptor, bool) {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return MediaDescriptor{}, false
		}
		desc := MediaDescriptor{
			Type:   "photo",
			FileID: strconv.FormatInt(photo.ID, 10),
		}
		for _, size := range photo.Sizes {
			if s, ok := size.(*tg.PhotoSize); ok {
				if s.W > desc.Width {
					desc.Width = s.W
					desc.Height = s.H
					desc.FileSize = int64(s.Size)
				}
			}
		}
		return desc, true
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return MediaDescriptor{}, false
		}
		desc := MediaDescriptor{
			Type:     "document",
			FileID:   strconv.FormatInt(doc.ID, 10),
			FileSize: doc.Size,
			MimeType: doc.MimeType,
		}
		for _, attr := range doc.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeVideo:
				desc.Type = "video"
				desc.Width = a.W
				desc.Height = a.H
				desc.DurationSeconds = int(a.Duration)
			case *tg.DocumentAttributeAudio:
				desc.Type = "audio"
				desc.DurationSeconds = a.Duration
			case *tg.DocumentAttributeAnimated:
				desc.Type = "animation"
			}
		}
		return desc, true
	default:
		return MediaDescriptor{}, false
	}
}
