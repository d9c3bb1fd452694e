package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callwatch/internal/domain/message"
	"callwatch/internal/domain/topic"
	"callwatch/internal/testsupport"
	"callwatch/pkg/errors"
)

func TestMessageRepository_InsertIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	defer testDB.Close()

	repo := NewMessageRepository(testDB.Tx())
	ctx := context.Background()

	m := newTestMessage(testsupport.UniqueChatID(), nil, "gm")

	id, inserted, err := repo.Insert(ctx, m)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, id)

	again, inserted, err := repo.Insert(ctx, m)
	require.NoError(t, err)
	assert.False(t, inserted, "second insert of the same pair must be a no-op")
	assert.Equal(t, id, again)

	found, err := repo.FindID(ctx, m.SourceMessageID, m.ChatID)
	require.NoError(t, err)
	assert.Equal(t, id, found)
}

func TestMessageRepository_FindIDNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	defer testDB.Close()

	repo := NewMessageRepository(testDB.Tx())

	_, err := repo.FindID(context.Background(), 1, testsupport.UniqueChatID())
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestMessageRepository_InsertBumpsTopicCounter(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	defer testDB.Close()

	ctx := context.Background()
	messages := NewMessageRepository(testDB.Tx())
	topics := NewTopicRepository(testDB.Tx())

	chatID := testsupport.UniqueChatID()
	threadID := testsupport.UniqueThreadID()
	_, err := topics.CreateIfAbsent(ctx, &topic.Topic{ThreadID: threadID, ChatID: chatID, Name: "Trading Signals"})
	require.NoError(t, err)

	first := newTestMessage(chatID, &threadID, "long BTC")
	second := newTestMessage(chatID, &threadID, "short ETH")
	second.MessageAt = first.MessageAt.Add(time.Minute)

	_, _, err = messages.Insert(ctx, first)
	require.NoError(t, err)
	_, _, err = messages.Insert(ctx, second)
	require.NoError(t, err)
	_, _, err = messages.Insert(ctx, second) // duplicate does not count
	require.NoError(t, err)

	got, err := topics.GetByThread(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.MessageCount)
	require.NotNil(t, got.LastActivityAt)
	assert.WithinDuration(t, second.MessageAt, *got.LastActivityAt, time.Second)
}

func TestMessageRepository_MissingTopicDiagnostics(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	defer testDB.Close()

	ctx := context.Background()
	repo := NewMessageRepository(testDB.Tx())

	chatID := testsupport.UniqueChatID()
	threadID := testsupport.UniqueThreadID()
	for i := 0; i < 3; i++ {
		_, _, err := repo.Insert(ctx, newTestMessage(chatID, &threadID, "entry 100 stop 90"))
		require.NoError(t, err)
	}

	refs, err := repo.ThreadsMissingTopic(ctx, 200)
	require.NoError(t, err)

	var found *message.ThreadRef
	for i := range refs {
		if refs[i].ThreadID == threadID {
			found = &refs[i]
		}
	}
	require.NotNil(t, found, "thread should be listed as missing a topic")
	assert.Equal(t, 3, found.Missing)
	assert.Contains(t, found.Sample, "entry 100")

	updated, err := repo.SetTopicName(ctx, threadID, "Trading Signals")
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated)

	sender, err := repo.TopSender(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", sender)
}

func TestMessageRepository_LatestIDPair(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	defer testDB.Close()

	ctx := context.Background()
	repo := NewMessageRepository(testDB.Tx())

	chatID := testsupport.UniqueChatID()
	low := newTestMessage(chatID, nil, "a")
	low.SourceMessageID = 1000
	high := newTestMessage(chatID, nil, "b")
	high.SourceMessageID = 1075

	_, _, err := repo.Insert(ctx, low)
	require.NoError(t, err)
	_, _, err = repo.Insert(ctx, high)
	require.NoError(t, err)

	pair, err := repo.LatestIDPair(ctx)
	require.NoError(t, err)
	assert.Equal(t, chatID, pair.ChatID)
	assert.Equal(t, int64(75), pair.Gap())
}
