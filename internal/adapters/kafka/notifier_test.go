package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
)

type published struct {
	topic string
	key   string
	event interface{}
}

type fakePublisher struct {
	calls []published
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, topic, key string, event interface{}) error {
	f.calls = append(f.calls, published{topic, key, event})
	return f.err
}

func TestNotifier_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNotifier(pub, logger.Nop())
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n.now = func() time.Time { return at }
	id := uuid.New()

	d, err := n.Notify(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, d.Delivered)
	assert.Equal(t, ChannelKafka, d.Channel)

	require.Len(t, pub.calls, 1)
	assert.Equal(t, TopicSignalsCreated, pub.calls[0].topic)
	assert.Equal(t, id.String(), pub.calls[0].key)
	assert.Equal(t, SignalCreated{SignalID: id, OccurredAt: at}, pub.calls[0].event)
}

func TestNotifier_PublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.ErrUnavailable}
	n := NewNotifier(pub, logger.Nop())

	d, err := n.Notify(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errors.ErrUnavailable)
	assert.False(t, d.Delivered)
}
