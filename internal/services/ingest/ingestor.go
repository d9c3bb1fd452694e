package ingest

import (
	"context"

	"callwatch/internal/domain/message"
	"callwatch/internal/metrics"
	"callwatch/internal/services/topics"
	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
)

// TopicResolver names the forum thread of a message
type TopicResolver interface {
	Resolve(ctx context.Context, threadID, chatID int64, s topics.Sample) (string, error)
}

// Result describes what happened to one message
type Result struct {
	ID       int64
	Inserted bool // false when the message was already stored
}

// Ingestor persists normalized messages exactly once
type Ingestor struct {
	messages message.Repository
	resolver TopicResolver
	log      *logger.Logger
}

// NewIngestor creates a new ingestor
func NewIngestor(messages message.Repository, resolver TopicResolver, log *logger.Logger) *Ingestor {
	return &Ingestor{
		messages: messages,
		resolver: resolver,
		log:      log.With("component", "ingestor"),
	}
}

// Ingest stores m unless (source_message_id, chat_id) is already known.
// Topic resolution failures are logged and the message is stored untitled.
func (i *Ingestor) Ingest(ctx context.Context, m *message.Message) (Result, error) {
	id, err := i.messages.FindID(ctx, m.SourceMessageID, m.ChatID)
	if err == nil {
		metrics.IngestResults.WithLabelValues("duplicate").Inc()
		return Result{ID: id}, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		metrics.IngestResults.WithLabelValues("error").Inc()
		return Result{}, errors.NewIngestError("lookup", m.ChatID, m.SourceMessageID, err)
	}

	if m.HasThread() {
		name, err := i.resolver.Resolve(ctx, *m.ThreadID, m.ChatID, topics.Sample{
			Text:        m.Text(),
			Participant: participant(m),
			Hint:        m.TopicHint,
		})
		if err != nil {
			i.log.Warnw("Failed to resolve topic, storing message untitled",
				"chat_id", m.ChatID,
				"thread_id", *m.ThreadID,
				"error", err,
			)
		} else {
			m.TopicName = &name
		}
	}

	id, inserted, err := i.messages.Insert(ctx, m)
	if err != nil {
		metrics.IngestResults.WithLabelValues("error").Inc()
		return Result{}, errors.NewIngestError("insert", m.ChatID, m.SourceMessageID, err)
	}
	m.ID = id

	if !inserted {
		metrics.IngestResults.WithLabelValues("duplicate").Inc()
		i.log.Debugw("Lost insert race, message already stored",
			"chat_id", m.ChatID,
			"source_message_id", m.SourceMessageID,
			"id", id,
		)
		return Result{ID: id}, nil
	}

	metrics.IngestResults.WithLabelValues("inserted").Inc()
	i.log.Debugw("Message stored",
		"id", id,
		"chat_id", m.ChatID,
		"source_message_id", m.SourceMessageID,
		"kind", m.Kind,
		"source", m.Source,
	)
	return Result{ID: id, Inserted: true}, nil
}

func participant(m *message.Message) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.SenderUsername
}
