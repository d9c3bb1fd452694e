package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"callwatch/internal/domain/message"
	"callwatch/internal/testsupport"
)

func ptr[T any](v T) *T {
	return &v
}

func newTestMessage(chatID int64, threadID *int64, body string) *message.Message {
	return &message.Message{
		SourceMessageID: testsupport.UniqueMessageID(),
		ChatID:          chatID,
		SenderID:        42,
		SenderUsername:  "alice",
		SenderName:      "Alice",
		Body:            ptr(body),
		Kind:            message.KindText,
		ThreadID:        threadID,
		Source:          message.SourceWebhook,
		MessageAt:       time.Now().UTC().Truncate(time.Millisecond),
	}
}

func seedChannel(t *testing.T, db DBTX, chatID int64, autoProcess bool, minConfidence float64) uuid.UUID {
	t.Helper()

	analystID := uuid.New()
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO channel_configs (chat_id, monitoring_enabled, analyst_id, analyst_name, auto_process, min_confidence)
		 VALUES ($1, TRUE, $2, 'alice', $3, $4)`,
		chatID, analystID, autoProcess, minConfidence,
	)
	require.NoError(t, err)
	return analystID
}
