package kafka

import (
	"context"
	"time"

	"github.com/google/uuid"

	"callwatch/internal/domain/signal"
	"callwatch/internal/metrics"
	"callwatch/pkg/logger"
)

// ChannelKafka names the delivery channel reported by Notifier
const ChannelKafka = "kafka"

// Publisher writes an event to a topic
type Publisher interface {
	Publish(ctx context.Context, topic, key string, event interface{}) error
}

// Notifier hands new signals to the notification consumer through Kafka
type Notifier struct {
	pub Publisher
	log *logger.Logger
	now func() time.Time
}

var _ signal.Notifier = (*Notifier)(nil)

// NewNotifier creates a Kafka-backed signal notifier
func NewNotifier(pub Publisher, log *logger.Logger) *Notifier {
	return &Notifier{
		pub: pub,
		log: log.With("component", "signal_notifier"),
		now: time.Now,
	}
}

// Notify publishes a SignalCreated event keyed by the signal id
func (n *Notifier) Notify(ctx context.Context, signalID uuid.UUID) (signal.Delivery, error) {
	event := SignalCreated{SignalID: signalID, OccurredAt: n.now().UTC()}
	if err := n.pub.Publish(ctx, TopicSignalsCreated, signalID.String(), event); err != nil {
		metrics.NotifierCalls.WithLabelValues("error").Inc()
		return signal.Delivery{Channel: ChannelKafka}, err
	}

	metrics.NotifierCalls.WithLabelValues("published").Inc()
	n.log.Debugw("Signal notification queued", "signal_id", signalID)
	return signal.Delivery{Delivered: true, Channel: ChannelKafka}, nil
}
