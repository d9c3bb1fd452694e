package syncjob

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for sync job persistence
type Repository interface {
	// Start inserts a running job; errors.ErrSyncAlreadyRunning when another job holds the slot
	Start(ctx context.Context, job *Job) error

	UpdateProgress(ctx context.Context, id uuid.UUID, synced, errorCount int) error

	// Finish moves a running job to a terminal status; terminal jobs are never reopened
	Finish(ctx context.Context, id uuid.UUID, p FinishParams) error

	IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error)

	// RequestCancel flags the given job, or the running one when id is nil
	RequestCancel(ctx context.Context, id *uuid.UUID) (uuid.UUID, error)

	CancelAllRunning(ctx context.Context, reason string) (int, error)
	CancelStale(ctx context.Context, olderThan time.Duration) (int, error)

	Running(ctx context.Context) (*Job, error)
	LastCompleted(ctx context.Context) (*Job, error)
	Recent(ctx context.Context, limit int) ([]*Job, error)
}
