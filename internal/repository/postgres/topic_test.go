package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callwatch/internal/domain/topic"
	"callwatch/internal/testsupport"
	"callwatch/pkg/errors"
)

func TestTopicRepository_CreateIfAbsent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	defer testDB.Close()

	repo := NewTopicRepository(testDB.Tx())
	ctx := context.Background()
	threadID := testsupport.UniqueThreadID()

	created, err := repo.CreateIfAbsent(ctx, &topic.Topic{ThreadID: threadID, ChatID: -1, Name: "Market Analysis"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateIfAbsent(ctx, &topic.Topic{ThreadID: threadID, ChatID: -1, Name: "Something Else"})
	require.NoError(t, err)
	assert.False(t, created, "existing thread keeps its first name")

	got, err := repo.GetByThread(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, "Market Analysis", got.Name)
}

func TestTopicRepository_RejectsEmptyName(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	defer testDB.Close()

	repo := NewTopicRepository(testDB.Tx())

	_, err := repo.CreateIfAbsent(context.Background(), &topic.Topic{ThreadID: testsupport.UniqueThreadID()})
	assert.True(t, errors.IsValidation(err))
}

func TestTopicRepository_RenameOnlyGeneric(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	defer testDB.Close()

	repo := NewTopicRepository(testDB.Tx())
	ctx := context.Background()

	generic := testsupport.UniqueThreadID()
	curated := testsupport.UniqueThreadID()
	_, err := repo.CreateIfAbsent(ctx, &topic.Topic{ThreadID: generic, ChatID: -1, Name: "Discussion Thread 1", IsGeneric: true})
	require.NoError(t, err)
	_, err = repo.CreateIfAbsent(ctx, &topic.Topic{ThreadID: curated, ChatID: -1, Name: "News & Updates"})
	require.NoError(t, err)

	ok, err := repo.Rename(ctx, generic, "Trading Signals", false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Rename(ctx, curated, "Trading Signals", false)
	require.NoError(t, err)
	assert.False(t, ok, "non-generic topics are never renamed")

	ok, err = repo.Rename(ctx, generic, "Price Discussion", false)
	require.NoError(t, err)
	assert.False(t, ok, "an upgraded topic is no longer generic")
}

func TestTopicRepository_ActiveMapping(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	defer testDB.Close()

	repo := NewTopicRepository(testDB.Tx())
	ctx := context.Background()
	threadID := testsupport.UniqueThreadID()

	_, err := repo.ActiveMapping(ctx, threadID)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = testDB.Tx().ExecContext(ctx,
		`INSERT INTO topic_mappings (thread_id, name, is_active) VALUES ($1, 'Old', FALSE), ($1, 'VIP Calls', TRUE)`,
		threadID)
	require.NoError(t, err)

	m, err := repo.ActiveMapping(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, "VIP Calls", m.Name)

	n, err := repo.CountActiveMappings(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}

func TestTopicRepository_RefreshCounters(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)
	defer testDB.Close()

	ctx := context.Background()
	topics := NewTopicRepository(testDB.Tx())
	messages := NewMessageRepository(testDB.Tx())

	chatID := testsupport.UniqueChatID()
	threadID := testsupport.UniqueThreadID()
	_, _, err := messages.Insert(ctx, newTestMessage(chatID, &threadID, "one"))
	require.NoError(t, err)
	_, _, err = messages.Insert(ctx, newTestMessage(chatID, &threadID, "two"))
	require.NoError(t, err)

	// Topic created after its messages starts with a drifted counter
	_, err = topics.CreateIfAbsent(ctx, &topic.Topic{ThreadID: threadID, ChatID: chatID, Name: "Community Chat"})
	require.NoError(t, err)

	n, err := topics.RefreshCounters(ctx, 200)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	got, err := topics.GetByThread(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.MessageCount)
	assert.NotNil(t, got.LastActivityAt)
}
