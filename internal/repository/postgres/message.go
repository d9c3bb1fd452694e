package postgres

import (
	"context"
	"database/sql"
	"time"

	"callwatch/internal/domain/message"
	"callwatch/pkg/errors"
)

// Compile-time check
var _ message.Repository = (*MessageRepository)(nil)

// MessageRepository implements message.Repository using sqlx
type MessageRepository struct {
	db DBTX
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

// FindID returns the id of an already stored message
func (r *MessageRepository) FindID(ctx context.Context, sourceMessageID, chatID int64) (int64, error) {
	var id int64
	err := r.db.GetContext(ctx, &id,
		`SELECT id FROM telegram_messages WHERE source_message_id = $1 AND chat_id = $2`,
		sourceMessageID, chatID,
	)
	if err == sql.ErrNoRows {
		return 0, errors.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Insert stores the message and bumps the owning topic in the same statement.
// The topic update only runs when the insert actually wrote a row.
func (r *MessageRepository) Insert(ctx context.Context, m *message.Message) (int64, bool, error) {
	query := `
		WITH ins AS (
			INSERT INTO telegram_messages (
				source_message_id, chat_id, sender_id, sender_username, sender_name,
				body, kind, thread_id, reply_to_id, forwarded_from,
				source, message_at, topic_name
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
			)
			ON CONFLICT (source_message_id, chat_id) DO NOTHING
			RETURNING id, thread_id, message_at
		), bump AS (
			UPDATE telegram_topics t SET
				message_count = t.message_count + 1,
				last_activity_at = GREATEST(COALESCE(t.last_activity_at, ins.message_at), ins.message_at),
				updated_at = NOW()
			FROM ins
			WHERE ins.thread_id IS NOT NULL AND t.thread_id = ins.thread_id
		)
		SELECT id FROM ins`

	var id int64
	err := r.db.GetContext(ctx, &id, query,
		m.SourceMessageID, m.ChatID, m.SenderID, m.SenderUsername, m.SenderName,
		m.Body, m.Kind, m.ThreadID, m.ReplyToID, m.ForwardedFrom,
		m.Source, m.MessageAt, m.TopicName,
	)
	if err == sql.ErrNoRows {
		// Lost the race to a concurrent ingest of the same pair
		existing, findErr := r.FindID(ctx, m.SourceMessageID, m.ChatID)
		if findErr != nil {
			return 0, false, errors.Wrap(findErr, "find concurrently inserted message")
		}
		return existing, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// RecentByThread returns the latest messages of a thread, newest first
func (r *MessageRepository) RecentByThread(ctx context.Context, threadID int64, limit int) ([]*message.Message, error) {
	var msgs []*message.Message
	query := `
		SELECT id, source_message_id, chat_id, sender_id, sender_username, sender_name,
			body, kind, thread_id, reply_to_id, forwarded_from, source, message_at,
			topic_name, created_at
		FROM telegram_messages
		WHERE thread_id = $1
		ORDER BY message_at DESC
		LIMIT $2`
	if err := r.db.SelectContext(ctx, &msgs, query, threadID, limit); err != nil {
		return nil, err
	}
	return msgs, nil
}

// TopSender returns the display name of the most active participant of a thread
func (r *MessageRepository) TopSender(ctx context.Context, threadID int64) (string, error) {
	var name string
	query := `
		SELECT COALESCE(NULLIF(sender_name, ''), NULLIF(sender_username, ''), '')
		FROM telegram_messages
		WHERE thread_id = $1
		GROUP BY sender_id, sender_name, sender_username
		ORDER BY COUNT(*) DESC, MIN(message_at)
		LIMIT 1`
	err := r.db.GetContext(ctx, &name, query, threadID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return name, err
}

// SetTopicName back-fills the topic name on messages of a thread that lack one
func (r *MessageRepository) SetTopicName(ctx context.Context, threadID int64, name string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE telegram_messages SET topic_name = $2
		 WHERE thread_id = $1 AND (topic_name IS NULL OR topic_name = '')`,
		threadID, name,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ThreadsMissingTopic lists threads that have messages without a topic name
func (r *MessageRepository) ThreadsMissingTopic(ctx context.Context, limit int) ([]message.ThreadRef, error) {
	var refs []message.ThreadRef
	query := `
		SELECT thread_id, MIN(chat_id) AS chat_id, COUNT(*) AS missing,
			COALESCE(string_agg(body, E'\n' ORDER BY message_at DESC) FILTER (WHERE body IS NOT NULL), '') AS sample
		FROM telegram_messages
		WHERE thread_id IS NOT NULL AND (topic_name IS NULL OR topic_name = '')
		GROUP BY thread_id
		ORDER BY COUNT(*) DESC
		LIMIT $1`
	if err := r.db.SelectContext(ctx, &refs, query, limit); err != nil {
		return nil, err
	}
	return refs, nil
}

// CountSince counts messages ingested after the given time
func (r *MessageRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM telegram_messages WHERE created_at >= $1`, since)
	return n, err
}

// CountMissingTopic counts threaded messages without a resolved topic name
func (r *MessageRepository) CountMissingTopic(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM telegram_messages
		 WHERE thread_id IS NOT NULL AND (topic_name IS NULL OR topic_name = '')`)
	return n, err
}

// LastMessageAt returns the ingestion time of the newest message, nil when empty
func (r *MessageRepository) LastMessageAt(ctx context.Context) (*time.Time, error) {
	var at sql.NullTime
	if err := r.db.GetContext(ctx, &at, `SELECT MAX(created_at) FROM telegram_messages`); err != nil {
		return nil, err
	}
	if !at.Valid {
		return nil, nil
	}
	return &at.Time, nil
}

// LatestIDPair returns the two most recent source ids of the most recently active chat
func (r *MessageRepository) LatestIDPair(ctx context.Context) (*message.IDPair, error) {
	var pair message.IDPair
	query := `
		WITH latest_chat AS (
			SELECT chat_id FROM telegram_messages ORDER BY created_at DESC, id DESC LIMIT 1
		), top2 AS (
			SELECT m.source_message_id,
				ROW_NUMBER() OVER (ORDER BY m.source_message_id DESC) AS rn
			FROM telegram_messages m JOIN latest_chat c ON m.chat_id = c.chat_id
			ORDER BY m.source_message_id DESC
			LIMIT 2
		)
		SELECT (SELECT chat_id FROM latest_chat) AS chat_id,
			COALESCE(MAX(source_message_id) FILTER (WHERE rn = 1), 0) AS latest,
			COALESCE(MAX(source_message_id) FILTER (WHERE rn = 2), 0) AS previous
		FROM top2
		HAVING COUNT(*) > 0`
	err := r.db.GetContext(ctx, &pair, query)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

// DeleteDuplicates removes repeated copies of the same message stored under different source ids
func (r *MessageRepository) DeleteDuplicates(ctx context.Context, limit int) (int, error) {
	query := `
		WITH ranked AS (
			SELECT id, ROW_NUMBER() OVER (
				PARTITION BY chat_id, sender_id, body, message_at ORDER BY id
			) AS rn
			FROM telegram_messages
			WHERE body IS NOT NULL AND created_at >= NOW() - INTERVAL '1 day'
		), doomed AS (
			SELECT id FROM ranked WHERE rn > 1 ORDER BY id LIMIT $1
		)
		DELETE FROM telegram_messages m USING doomed WHERE m.id = doomed.id`
	res, err := r.db.ExecContext(ctx, query, limit)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
