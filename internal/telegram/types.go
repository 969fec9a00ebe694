package telegram

import "time"

// ChannelInfo describes a resolved public channel.
type ChannelInfo struct {
	TelegramID      int64
	AccessHash      int64
	Username        string
	Title           string
	Description     string
	SubscriberCount int
}

// MediaDescriptor describes one attachment of a fetched message.
type MediaDescriptor struct {
	Type            string // photo, video, document, audio, animation
	FileID          string
	FileSize        int64
	MimeType        string
	Width           int
	Height          int
	DurationSeconds int
}

// Message is one fetched channel message with its engagement counters.
// Reactions keeps every distinct emoji with its count; it is never collapsed
// into a total.
type Message struct {
	ID                   int64
	Date                 time.Time
	Text                 string
	Language             string
	Media                []MediaDescriptor
	IsForwarded          bool
	ForwardFromChannelID *int64
	ForwardFromMessageID *int64
	ViewCount            int
	ForwardCount         int
	ReplyCount           int
	Reactions            map[string]int
}

// FetchResult is the outcome of one FetchMessages call. MaxMessageID is the
// greatest id across the batch, zero when the batch is empty.
// SubscriberCount is the channel's participant count as reported alongside
// the history, zero when the response did not include it.
type FetchResult struct {
	Messages        []Message
	MaxMessageID    int64
	Count           int
	SubscriberCount int
}
