package topic

import "time"

// Topic is a named forum thread inside a chat
type Topic struct {
	ID             int64      `db:"id"`
	ThreadID       int64      `db:"thread_id"`
	ChatID         int64      `db:"chat_id"`
	Name           string     `db:"name"`
	IsActive       bool       `db:"is_active"`
	IsGeneric      bool       `db:"is_generic"` // placeholder or participant fallback, eligible for upgrade
	MessageCount   int64      `db:"message_count"`
	LastActivityAt *time.Time `db:"last_activity_at"`
	DisplayOrder   int        `db:"display_order"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// Mapping is an admin-curated thread name override
type Mapping struct {
	ID        int64     `db:"id"`
	ThreadID  int64     `db:"thread_id"`
	Name      string    `db:"name"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
}
