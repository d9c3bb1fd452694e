package normalizer

import (
	"strings"
	"time"

	"callwatch/internal/domain/message"
	"callwatch/pkg/errors"
	"callwatch/pkg/telegram"
)

// Normalizer converts inbound shapes into canonical messages. It has no side effects.
type Normalizer struct {
	now func() time.Time
}

// New creates a normalizer using the wall clock for relays without a timestamp
func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

// NewWithClock creates a normalizer with a fixed clock (tests)
func NewWithClock(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// Normalize returns the canonical message.
// Malformed input yields *errors.ValidationError; content without a storable kind
// yields errors.ErrNotIngestible.
func (n *Normalizer) Normalize(in Inbound) (*message.Message, error) {
	switch v := in.(type) {
	case WebhookUpdate:
		return n.fromUpdate(v.Update, message.SourceWebhook)
	case PolledUpdate:
		return n.fromUpdate(v.Update, message.SourcePolling)
	case RelayedMessage:
		return n.fromRelay(v)
	case nil:
		return nil, errors.NewValidationError("message", "payload is required", nil)
	default:
		return nil, errors.NewValidationError("message", "unsupported inbound shape", in)
	}
}

func (n *Normalizer) fromUpdate(u *telegram.Update, source message.Source) (*message.Message, error) {
	tm := u.EffectiveMessage()
	if tm == nil {
		return nil, errors.NewValidationError("message", "update carries no message", nil)
	}
	if tm.Chat == nil || tm.Chat.ID == 0 {
		return nil, errors.NewValidationError("chat.id", "chat id is required", nil)
	}
	if tm.MessageID == 0 {
		return nil, errors.NewValidationError("message_id", "message id is required", 0)
	}

	kind, body, ok := classify(tm)
	if !ok {
		return nil, errors.ErrNotIngestible
	}

	m := &message.Message{
		SourceMessageID: tm.MessageID,
		ChatID:          tm.Chat.ID,
		Kind:            kind,
		Body:            body,
		Source:          source,
		MessageAt:       n.eventTime(tm.Date),
		UpdateID:        u.UpdateID,
	}

	switch {
	case tm.From != nil:
		m.SenderID = tm.From.ID
		m.SenderUsername = tm.From.Username
		m.SenderName = tm.From.DisplayName()
	case tm.SenderChat != nil:
		m.SenderID = tm.SenderChat.ID
		m.SenderUsername = tm.SenderChat.Username
		m.SenderName = tm.SenderChat.Title
	}

	if tm.MessageThreadID != 0 && (tm.IsTopicMessage || tm.Chat.IsForum) {
		thread := tm.MessageThreadID
		m.ThreadID = &thread
	}

	if r := tm.ReplyTo; r != nil {
		if r.ForumTopicCreated != nil {
			// Implicit reply to the topic root: it names the topic, it is not a real reply
			m.TopicHint = r.ForumTopicCreated.Name
		} else if r.MessageID != 0 {
			replyTo := r.MessageID
			m.ReplyToID = &replyTo
		}
	}

	if fwd := forwardedFrom(tm); fwd != "" {
		m.ForwardedFrom = &fwd
	}

	return m, nil
}

func (n *Normalizer) fromRelay(r RelayedMessage) (*message.Message, error) {
	if r.ChatID == 0 {
		return nil, errors.NewValidationError("chat_id", "chat id is required", 0)
	}
	if r.MessageID == 0 {
		return nil, errors.NewValidationError("message_id", "message id is required", 0)
	}

	text := strings.TrimSpace(r.Text)
	if text == "" {
		return nil, errors.ErrNotIngestible
	}

	at := n.now().UTC()
	if r.Timestamp != nil && !r.Timestamp.IsZero() {
		at = r.Timestamp.UTC()
	}

	m := &message.Message{
		SourceMessageID: r.MessageID,
		ChatID:          r.ChatID,
		SenderID:        r.SenderID,
		SenderUsername:  strings.TrimPrefix(r.SenderUsername, "@"),
		SenderName:      r.SenderName,
		Body:            &text,
		Kind:            message.KindText,
		ReplyToID:       r.ReplyToID,
		Source:          message.SourceRelay,
		MessageAt:       at,
		TopicHint:       strings.TrimSpace(r.TopicName),
	}
	if r.TopicID != nil && *r.TopicID != 0 {
		thread := *r.TopicID
		m.ThreadID = &thread
	}
	return m, nil
}

func (n *Normalizer) eventTime(unix int64) time.Time {
	if unix <= 0 {
		return n.now().UTC()
	}
	return time.Unix(unix, 0).UTC()
}

// classify picks the message kind and its body. Media bodies are the caption.
// Anything unrecognised survives as text only when it has text.
func classify(m *telegram.Message) (message.Kind, *string, bool) {
	caption := optional(m.Caption)

	switch {
	case len(m.Photo) > 0:
		return message.KindPhoto, caption, true
	case m.Animation != nil:
		// Telegram also fills document for animations; animation wins
		return message.KindAnimation, caption, true
	case m.Video != nil:
		return message.KindVideo, caption, true
	case m.Document != nil:
		return message.KindDocument, caption, true
	case m.Audio != nil:
		return message.KindAudio, caption, true
	case m.Voice != nil:
		return message.KindVoice, caption, true
	case m.Sticker != nil:
		return message.KindSticker, optional(m.Sticker.Emoji), true
	case m.Location != nil:
		return message.KindLocation, nil, true
	case m.Poll != nil:
		return message.KindPoll, optional(m.Poll.Question), true
	}

	if text := optional(m.Text); text != nil {
		return message.KindText, text, true
	}
	if caption != nil {
		return message.KindText, caption, true
	}
	return "", nil, false
}

func forwardedFrom(m *telegram.Message) string {
	switch {
	case m.ForwardFrom != nil:
		if m.ForwardFrom.Username != "" {
			return "@" + m.ForwardFrom.Username
		}
		return m.ForwardFrom.DisplayName()
	case m.ForwardFromChat != nil:
		if m.ForwardFromChat.Title != "" {
			return m.ForwardFromChat.Title
		}
		if m.ForwardFromChat.Username != "" {
			return "@" + m.ForwardFromChat.Username
		}
	case m.ForwardSenderName != "":
		return m.ForwardSenderName
	}
	return ""
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
