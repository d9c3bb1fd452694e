package message

import (
	"strings"
	"time"
)

// Message is one canonical inbound chat message
type Message struct {
	ID              int64  `db:"id"`
	SourceMessageID int64  `db:"source_message_id"`
	ChatID          int64  `db:"chat_id"`
	SenderID        int64  `db:"sender_id"`
	SenderUsername  string `db:"sender_username"`
	SenderName      string `db:"sender_name"`

	Body          *string `db:"body"`
	Kind          Kind    `db:"kind"`
	ThreadID      *int64  `db:"thread_id"`
	ReplyToID     *int64  `db:"reply_to_id"`
	ForwardedFrom *string `db:"forwarded_from"`
	Source        Source  `db:"source"`

	MessageAt time.Time `db:"message_at"` // event time, not ingestion time
	TopicName *string   `db:"topic_name"`
	CreatedAt time.Time `db:"created_at"`

	// Not persisted
	TopicHint string `db:"-"` // topic name carried by a relayed payload
	UpdateID  int64  `db:"-"` // polling offset of the carrying update
}

// Text returns the trimmed body or "" when there is none
func (m *Message) Text() string {
	if m.Body == nil {
		return ""
	}
	return strings.TrimSpace(*m.Body)
}

// HasThread reports whether the message belongs to a forum topic
func (m *Message) HasThread() bool {
	return m.ThreadID != nil && *m.ThreadID != 0
}

// Kind is the content type of a message
type Kind string

const (
	KindText      Kind = "text"
	KindPhoto     Kind = "photo"
	KindVideo     Kind = "video"
	KindDocument  Kind = "document"
	KindAudio     Kind = "audio"
	KindVoice     Kind = "voice"
	KindSticker   Kind = "sticker"
	KindAnimation Kind = "animation"
	KindLocation  Kind = "location"
	KindPoll      Kind = "poll"
)

// Valid checks if kind is one of the stored kinds
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindPhoto, KindVideo, KindDocument, KindAudio,
		KindVoice, KindSticker, KindAnimation, KindLocation, KindPoll:
		return true
	}
	return false
}

// String returns string representation
func (k Kind) String() string {
	return string(k)
}

// Source identifies the inbound path a message came through
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePolling Source = "polling"
	SourceRelay   Source = "relay"
)

// String returns string representation
func (s Source) String() string {
	return string(s)
}

// ThreadRef points at a thread whose messages still lack a topic name
type ThreadRef struct {
	ThreadID int64  `db:"thread_id"`
	ChatID   int64  `db:"chat_id"`
	Missing  int    `db:"missing"`
	Sample   string `db:"sample"`
}

// IDPair holds the two most recent source message ids of a chat
type IDPair struct {
	ChatID   int64 `db:"chat_id"`
	Latest   int64 `db:"latest"`
	Previous int64 `db:"previous"`
}

// Gap is the distance between the two ids; 0 when a chat has a single message
func (p IDPair) Gap() int64 {
	if p.Previous == 0 {
		return 0
	}
	return p.Latest - p.Previous
}
