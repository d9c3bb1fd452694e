package topic

import "context"

// Repository defines the interface for topic and mapping persistence
type Repository interface {
	ActiveMapping(ctx context.Context, threadID int64) (*Mapping, error)
	CountActiveMappings(ctx context.Context) (int, error)

	GetByThread(ctx context.Context, threadID int64) (*Topic, error)

	// CreateIfAbsent inserts the topic unless the thread already has one
	CreateIfAbsent(ctx context.Context, t *Topic) (created bool, err error)

	// Rename rewrites the name of a generic topic; returns false when the row
	// is missing or no longer generic
	Rename(ctx context.Context, threadID int64, name string, generic bool) (bool, error)

	ListGeneric(ctx context.Context, limit int) ([]*Topic, error)

	// RefreshCounters recomputes message_count and last_activity_at from stored messages
	RefreshCounters(ctx context.Context, limit int) (int, error)
}
