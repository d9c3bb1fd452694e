package postgres

import (
	"context"
	"database/sql"

	"callwatch/internal/domain/topic"
	"callwatch/pkg/errors"
)

// Compile-time check
var _ topic.Repository = (*TopicRepository)(nil)

// TopicRepository implements topic.Repository using sqlx
type TopicRepository struct {
	db DBTX
}

// NewTopicRepository creates a new topic repository
func NewTopicRepository(db DBTX) *TopicRepository {
	return &TopicRepository{db: db}
}

// ActiveMapping returns the active override for a thread
func (r *TopicRepository) ActiveMapping(ctx context.Context, threadID int64) (*topic.Mapping, error) {
	var m topic.Mapping
	err := r.db.GetContext(ctx, &m,
		`SELECT id, thread_id, name, is_active, created_at
		 FROM topic_mappings WHERE thread_id = $1 AND is_active`,
		threadID,
	)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CountActiveMappings counts curated overrides
func (r *TopicRepository) CountActiveMappings(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM topic_mappings WHERE is_active`)
	return n, err
}

// GetByThread retrieves the topic of a thread
func (r *TopicRepository) GetByThread(ctx context.Context, threadID int64) (*topic.Topic, error) {
	var t topic.Topic
	err := r.db.GetContext(ctx, &t, `SELECT * FROM telegram_topics WHERE thread_id = $1`, threadID)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateIfAbsent inserts a topic; a concurrent creator for the same thread wins silently
func (r *TopicRepository) CreateIfAbsent(ctx context.Context, t *topic.Topic) (bool, error) {
	if t.Name == "" {
		return false, errors.NewValidationError("name", "topic name must not be empty", t.ThreadID)
	}

	query := `
		INSERT INTO telegram_topics (thread_id, chat_id, name, is_active, is_generic, display_order)
		VALUES ($1, $2, $3, TRUE, $4, $5)
		ON CONFLICT (thread_id) DO NOTHING
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		t.ThreadID, t.ChatID, t.Name, t.IsGeneric, t.DisplayOrder,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	t.IsActive = true
	return true, nil
}

// Rename rewrites a generic topic's name
func (r *TopicRepository) Rename(ctx context.Context, threadID int64, name string, generic bool) (bool, error) {
	if name == "" {
		return false, errors.NewValidationError("name", "topic name must not be empty", threadID)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE telegram_topics SET name = $2, is_generic = $3, updated_at = NOW()
		 WHERE thread_id = $1 AND is_generic`,
		threadID, name, generic,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListGeneric returns placeholder-named topics, busiest first
func (r *TopicRepository) ListGeneric(ctx context.Context, limit int) ([]*topic.Topic, error) {
	var topics []*topic.Topic
	err := r.db.SelectContext(ctx, &topics,
		`SELECT * FROM telegram_topics WHERE is_generic AND is_active
		 ORDER BY message_count DESC, thread_id LIMIT $1`,
		limit,
	)
	return topics, err
}

// RefreshCounters recomputes counters from stored messages for up to limit drifted topics
func (r *TopicRepository) RefreshCounters(ctx context.Context, limit int) (int, error) {
	query := `
		WITH actual AS (
			SELECT thread_id, COUNT(*) AS cnt, MAX(message_at) AS last_at
			FROM telegram_messages
			WHERE thread_id IS NOT NULL
			GROUP BY thread_id
		), drifted AS (
			SELECT t.thread_id, COALESCE(a.cnt, 0) AS cnt, a.last_at
			FROM telegram_topics t LEFT JOIN actual a ON a.thread_id = t.thread_id
			WHERE t.message_count <> COALESCE(a.cnt, 0)
				OR t.last_activity_at IS DISTINCT FROM a.last_at
			ORDER BY t.thread_id
			LIMIT $1
		)
		UPDATE telegram_topics t SET
			message_count = d.cnt,
			last_activity_at = d.last_at,
			updated_at = NOW()
		FROM drifted d
		WHERE t.thread_id = d.thread_id`
	res, err := r.db.ExecContext(ctx, query, limit)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
