package syncjob

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"callwatch/pkg/errors"
)

// Job is one polling ingestion run
type Job struct {
	ID              uuid.UUID  `db:"id"`
	ProcessID       string     `db:"process_id"`
	Status          Status     `db:"status"`
	StartedAt       time.Time  `db:"started_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	FinishedAt      *time.Time `db:"finished_at"`
	CancelRequested bool       `db:"cancel_requested"`
	MessagesSynced  int        `db:"messages_synced"`
	MessagesCleaned int        `db:"messages_cleaned"`
	ErrorCount      int        `db:"error_count"`
	ErrorMessage    *string    `db:"error_message"`
	Metadata        Metadata   `db:"metadata"`
}

// Status defines sync job lifecycle status
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// String returns string representation
func (s Status) String() string {
	return string(s)
}

// Cancellation reasons
const (
	ReasonCancelRequested = "cancel_requested"
	ReasonForceStopped    = "force_stopped"
	ReasonStale           = "stale"
	ReasonShutdown        = "shutdown"
)

// Metadata is the free-form JSONB document of a job
type Metadata struct {
	TriggeredBy  string `json:"triggered_by,omitempty"`
	BatchSize    int    `json:"batch_size,omitempty"`
	Offset       int64  `json:"offset,omitempty"`
	LastUpdateID int64  `json:"last_update_id,omitempty"` // low-water mark for the next run
	Fetched      int    `json:"fetched,omitempty"`
	Skipped      int    `json:"skipped,omitempty"`
	Duplicates   int    `json:"duplicates,omitempty"`
	CancelReason string `json:"cancel_reason,omitempty"`
	CleanupRan   bool   `json:"cleanup_ran,omitempty"`
}

// Value implements driver.Valuer (JSONB)
func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner (JSONB)
func (m *Metadata) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	case nil:
		*m = Metadata{}
		return nil
	}
	return errors.Newf("sync job metadata: unsupported scan type %T", src)
}

// FinishParams carries the final metrics of a run
type FinishParams struct {
	Status          Status
	MessagesSynced  int
	MessagesCleaned int
	ErrorCount      int
	ErrorMessage    *string
	Metadata        Metadata
}
