package consumers

import (
	"context"
	"encoding/json"

	kafkago "github.com/segmentio/kafka-go"

	"callwatch/internal/adapters/kafka"
	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
)

// MessageSource is the subset of kafka.Consumer the notification consumer needs
type MessageSource interface {
	Consume(ctx context.Context, handler kafka.MessageHandler) error
	Close() error
}

// NotificationConsumer delivers signals.created events to the announce chat
type NotificationConsumer struct {
	source    MessageSource
	announcer *Announcer
	log       *logger.Logger
}

// NewNotificationConsumer creates a new notification consumer
func NewNotificationConsumer(source MessageSource, announcer *Announcer, log *logger.Logger) *NotificationConsumer {
	return &NotificationConsumer{
		source:    source,
		announcer: announcer,
		log:       log.With("component", "notification_consumer"),
	}
}

// Start consumes until ctx is done, then closes the source
func (nc *NotificationConsumer) Start(ctx context.Context) error {
	nc.log.Infow("Starting notification consumer", "topic", kafka.TopicSignalsCreated)

	defer func() {
		if err := nc.source.Close(); err != nil {
			nc.log.Errorw("Failed to close notification consumer", "error", err)
		}
	}()

	return nc.source.Consume(ctx, nc.handle)
}

func (nc *NotificationConsumer) handle(ctx context.Context, msg kafkago.Message) error {
	var event kafka.SignalCreated
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return errors.Wrap(err, "failed to decode signal event")
	}

	delivered, err := nc.announcer.Announce(ctx, event.SignalID)
	if err != nil {
		return err
	}
	if !delivered {
		nc.log.Debugw("Announcement skipped", "signal_id", event.SignalID)
	}
	return nil
}
