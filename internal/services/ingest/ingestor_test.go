package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callwatch/internal/domain/message"
	"callwatch/internal/services/topics"
	"callwatch/internal/testsupport/mocks"
	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
)

type resolverFunc func(ctx context.Context, threadID, chatID int64, s topics.Sample) (string, error)

func (f resolverFunc) Resolve(ctx context.Context, threadID, chatID int64, s topics.Sample) (string, error) {
	return f(ctx, threadID, chatID, s)
}

func noResolve(t *testing.T) resolverFunc {
	return func(context.Context, int64, int64, topics.Sample) (string, error) {
		t.Fatal("resolver must not be called")
		return "", nil
	}
}

func newMessage(threadID *int64) *message.Message {
	body := "long btc 42000"
	return &message.Message{
		SourceMessageID: 10,
		ChatID:          -1001,
		SenderID:        5,
		SenderUsername:  "alice",
		SenderName:      "Alice",
		Body:            &body,
		Kind:            message.KindText,
		ThreadID:        threadID,
		Source:          message.SourceWebhook,
		MessageAt:       time.Unix(1700000000, 0).UTC(),
		TopicHint:       "Hinted",
	}
}

func TestIngest_AlreadyStored(t *testing.T) {
	messages := &mocks.MessageRepository{
		FindIDFunc: func(context.Context, int64, int64) (int64, error) { return 77, nil },
		InsertFunc: func(context.Context, *message.Message) (int64, bool, error) {
			t.Fatal("insert must not be called for a known message")
			return 0, false, nil
		},
	}
	in := NewIngestor(messages, noResolve(t), logger.Nop())

	res, err := in.Ingest(context.Background(), newMessage(nil))
	require.NoError(t, err)
	assert.Equal(t, Result{ID: 77, Inserted: false}, res)
}

func TestIngest_ResolvesTopicBeforeInsert(t *testing.T) {
	thread := int64(3)
	var sample topics.Sample
	var stored *message.Message
	messages := &mocks.MessageRepository{
		InsertFunc: func(_ context.Context, m *message.Message) (int64, bool, error) {
			stored = m
			return 100, true, nil
		},
	}
	resolver := resolverFunc(func(_ context.Context, threadID, chatID int64, s topics.Sample) (string, error) {
		assert.Equal(t, int64(3), threadID)
		assert.Equal(t, int64(-1001), chatID)
		sample = s
		return "Trading Signals", nil
	})
	in := NewIngestor(messages, resolver, logger.Nop())

	res, err := in.Ingest(context.Background(), newMessage(&thread))
	require.NoError(t, err)
	assert.Equal(t, Result{ID: 100, Inserted: true}, res)

	require.NotNil(t, stored.TopicName)
	assert.Equal(t, "Trading Signals", *stored.TopicName)
	assert.Equal(t, topics.Sample{Text: "long btc 42000", Participant: "Alice", Hint: "Hinted"}, sample)
}

func TestIngest_ResolverFailureStoresUntitled(t *testing.T) {
	thread := int64(3)
	var stored *message.Message
	messages := &mocks.MessageRepository{
		InsertFunc: func(_ context.Context, m *message.Message) (int64, bool, error) {
			stored = m
			return 1, true, nil
		},
	}
	resolver := resolverFunc(func(context.Context, int64, int64, topics.Sample) (string, error) {
		return "", errors.ErrUnavailable
	})
	in := NewIngestor(messages, resolver, logger.Nop())

	res, err := in.Ingest(context.Background(), newMessage(&thread))
	require.NoError(t, err)
	assert.True(t, res.Inserted)
	assert.Nil(t, stored.TopicName)
}

func TestIngest_LostRace(t *testing.T) {
	messages := &mocks.MessageRepository{
		InsertFunc: func(context.Context, *message.Message) (int64, bool, error) {
			return 55, false, nil
		},
	}
	in := NewIngestor(messages, noResolve(t), logger.Nop())

	res, err := in.Ingest(context.Background(), newMessage(nil))
	require.NoError(t, err)
	assert.Equal(t, Result{ID: 55, Inserted: false}, res)
}

func TestIngest_PersistenceErrorsAreIngestErrors(t *testing.T) {
	tests := []struct {
		name     string
		messages *mocks.MessageRepository
		wantOp   string
	}{
		{
			name: "lookup",
			messages: &mocks.MessageRepository{
				FindIDFunc: func(context.Context, int64, int64) (int64, error) { return 0, errors.ErrUnavailable },
			},
			wantOp: "lookup",
		},
		{
			name: "insert",
			messages: &mocks.MessageRepository{
				InsertFunc: func(context.Context, *message.Message) (int64, bool, error) {
					return 0, false, errors.ErrUnavailable
				},
			},
			wantOp: "insert",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := NewIngestor(tt.messages, noResolve(t), logger.Nop())

			_, err := in.Ingest(context.Background(), newMessage(nil))
			require.Error(t, err)

			var ie *errors.IngestError
			require.True(t, errors.As(err, &ie))
			assert.Equal(t, tt.wantOp, ie.Op)
			assert.Equal(t, int64(-1001), ie.ChatID)
			assert.Equal(t, int64(10), ie.SourceMessageID)
			assert.ErrorIs(t, err, errors.ErrUnavailable)
		})
	}
}
