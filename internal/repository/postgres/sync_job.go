package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"callwatch/internal/domain/syncjob"
	"callwatch/pkg/errors"
)

// Postgres error code for unique_violation
const pgUniqueViolation = "23505"

// Compile-time check
var _ syncjob.Repository = (*SyncJobRepository)(nil)

// SyncJobRepository implements syncjob.Repository using sqlx
type SyncJobRepository struct {
	db DBTX
}

// NewSyncJobRepository creates a new sync job repository
func NewSyncJobRepository(db DBTX) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// Start inserts a running job. The partial unique index on running rows is the gate.
func (r *SyncJobRepository) Start(ctx context.Context, job *syncjob.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = syncjob.StatusRunning

	query := `
		INSERT INTO sync_jobs (id, process_id, status, metadata)
		VALUES ($1, $2, 'running', $3)
		RETURNING started_at, updated_at`

	err := r.db.QueryRowContext(ctx, query, job.ID, job.ProcessID, job.Metadata).
		Scan(&job.StartedAt, &job.UpdatedAt)
	if isUniqueViolation(err) {
		return errors.ErrSyncAlreadyRunning
	}
	return err
}

// UpdateProgress records intermediate metrics and refreshes updated_at
func (r *SyncJobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, synced, errorCount int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_jobs SET messages_synced = $2, error_count = $3, updated_at = NOW()
		 WHERE id = $1 AND status = 'running'`,
		id, synced, errorCount,
	)
	return err
}

// Finish moves a running job to its terminal status
func (r *SyncJobRepository) Finish(ctx context.Context, id uuid.UUID, p syncjob.FinishParams) error {
	if !p.Status.Terminal() {
		return errors.NewValidationError("status", "finish requires a terminal status", p.Status)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_jobs SET
			status = $2,
			messages_synced = $3,
			messages_cleaned = $4,
			error_count = $5,
			error_message = $6,
			metadata = metadata || $7::jsonb,
			finished_at = NOW(),
			updated_at = NOW()
		 WHERE id = $1 AND status = 'running'`,
		id, p.Status, p.MessagesSynced, p.MessagesCleaned, p.ErrorCount, p.ErrorMessage, p.Metadata,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Already terminal, e.g. force-stopped while the batch was draining
		return errors.ErrNotFound
	}
	return nil
}

// IsCancelRequested reads the cooperative cancellation flag
func (r *SyncJobRepository) IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	var requested bool
	err := r.db.GetContext(ctx, &requested,
		`SELECT cancel_requested OR status <> 'running' FROM sync_jobs WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return false, errors.ErrNotFound
	}
	return requested, err
}

// RequestCancel flags a job for cancellation
func (r *SyncJobRepository) RequestCancel(ctx context.Context, id *uuid.UUID) (uuid.UUID, error) {
	var jobID uuid.UUID
	err := r.db.GetContext(ctx, &jobID,
		`UPDATE sync_jobs SET cancel_requested = TRUE, updated_at = NOW()
		 WHERE status = 'running' AND ($1::uuid IS NULL OR id = $1)
		 RETURNING id`,
		id,
	)
	if err == sql.ErrNoRows {
		return uuid.Nil, errors.ErrNotFound
	}
	return jobID, err
}

// CancelAllRunning unconditionally cancels every running job
func (r *SyncJobRepository) CancelAllRunning(ctx context.Context, reason string) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_jobs SET
			status = 'cancelled',
			cancel_requested = TRUE,
			error_message = $1,
			metadata = metadata || jsonb_build_object('cancel_reason', $1::text),
			finished_at = NOW(),
			updated_at = NOW()
		 WHERE status = 'running'`,
		reason,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CancelStale cancels running jobs that stopped reporting progress
func (r *SyncJobRepository) CancelStale(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_jobs SET
			status = 'cancelled',
			error_message = 'stale',
			metadata = metadata || jsonb_build_object('cancel_reason', 'stale'),
			finished_at = NOW(),
			updated_at = NOW()
		 WHERE status = 'running' AND updated_at < $1`,
		time.Now().Add(-olderThan),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Running returns the job currently holding the running slot
func (r *SyncJobRepository) Running(ctx context.Context) (*syncjob.Job, error) {
	var job syncjob.Job
	err := r.db.GetContext(ctx, &job, `SELECT * FROM sync_jobs WHERE status = 'running' LIMIT 1`)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// LastCompleted returns the most recently finished successful job
func (r *SyncJobRepository) LastCompleted(ctx context.Context) (*syncjob.Job, error) {
	var job syncjob.Job
	err := r.db.GetContext(ctx, &job,
		`SELECT * FROM sync_jobs WHERE status = 'completed' ORDER BY finished_at DESC LIMIT 1`)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Recent returns the latest jobs, newest first
func (r *SyncJobRepository) Recent(ctx context.Context, limit int) ([]*syncjob.Job, error) {
	var jobs []*syncjob.Job
	err := r.db.SelectContext(ctx, &jobs,
		`SELECT * FROM sync_jobs ORDER BY started_at DESC LIMIT $1`, limit)
	return jobs, err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}
