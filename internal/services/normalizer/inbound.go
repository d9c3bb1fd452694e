package normalizer

import (
	"time"

	"callwatch/pkg/telegram"
)

// Inbound is one of the accepted inbound shapes: WebhookUpdate, PolledUpdate, RelayedMessage
type Inbound interface {
	inbound()
}

// WebhookUpdate is an update pushed to the webhook endpoint
type WebhookUpdate struct {
	Update *telegram.Update
}

// PolledUpdate is an update returned by getUpdates
type PolledUpdate struct {
	Update *telegram.Update
}

// RelayedMessage is the flat payload posted by an external relay bot
type RelayedMessage struct {
	SenderID       int64      `json:"sender_id"`
	SenderUsername string     `json:"sender_username"`
	SenderName     string     `json:"sender_name"`
	ChatID         int64      `json:"chat_id"`
	MessageID      int64      `json:"message_id"`
	Text           string     `json:"text"`
	TopicID        *int64     `json:"topic_id,omitempty"`
	TopicName      string     `json:"topic_name,omitempty"`
	ReplyToID      *int64     `json:"reply_to_id,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

func (WebhookUpdate) inbound()  {}
func (PolledUpdate) inbound()   {}
func (RelayedMessage) inbound() {}
