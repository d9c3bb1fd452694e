package message

import (
	"context"
	"time"
)

// Repository defines the interface for message persistence
type Repository interface {
	// FindID returns the stored id for (sourceMessageID, chatID) or errors.ErrNotFound
	FindID(ctx context.Context, sourceMessageID, chatID int64) (int64, error)

	// Insert stores the message and bumps its topic counter in one statement.
	// A lost uniqueness race returns inserted=false with the winner's id.
	Insert(ctx context.Context, m *Message) (id int64, inserted bool, err error)

	RecentByThread(ctx context.Context, threadID int64, limit int) ([]*Message, error)
	TopSender(ctx context.Context, threadID int64) (string, error)
	SetTopicName(ctx context.Context, threadID int64, name string) (int64, error)
	ThreadsMissingTopic(ctx context.Context, limit int) ([]ThreadRef, error)

	// Diagnostics
	CountSince(ctx context.Context, since time.Time) (int, error)
	CountMissingTopic(ctx context.Context) (int, error)
	LastMessageAt(ctx context.Context) (*time.Time, error)
	LatestIDPair(ctx context.Context) (*IDPair, error)

	// DeleteDuplicates removes at most limit rows that repeat an earlier row's
	// chat, sender, body and event time under a different source id
	DeleteDuplicates(ctx context.Context, limit int) (int, error)
}
