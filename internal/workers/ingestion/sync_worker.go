package ingestion

import (
	"context"
	"time"

	"callwatch/internal/services/syncer"
	"callwatch/internal/workers"
	"callwatch/pkg/errors"
)

// SyncRunner runs one polling sync
type SyncRunner interface {
	Run(ctx context.Context, req syncer.Request) syncer.RunResult
}

// SyncWorker triggers a polling sync run on every tick
type SyncWorker struct {
	*workers.BaseWorker
	runner    SyncRunner
	batchSize int
	cleanup   bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(runner SyncRunner, batchSize int, cleanup bool, interval time.Duration, enabled bool) *SyncWorker {
	return &SyncWorker{
		BaseWorker: workers.NewBaseWorker("telegram_sync", interval, enabled),
		runner:     runner,
		batchSize:  batchSize,
		cleanup:    cleanup,
	}
}

// Run executes one sync. Only a failed run is reported as an error.
func (w *SyncWorker) Run(ctx context.Context) error {
	res := w.runner.Run(ctx, syncer.Request{
		BatchSize:   w.batchSize,
		Cleanup:     w.cleanup,
		TriggeredBy: w.Name(),
	})

	switch res.Status {
	case syncer.StatusFailed:
		return errors.Newf("sync failed: %s", res.Message)
	case syncer.StatusBackingOff, syncer.StatusAlreadyRunning:
		w.Log().Debugw("Sync skipped", "status", res.Status, "retry_after", res.RetryAfter)
	case syncer.StatusCancelled:
		w.Log().Infow("Sync cancelled", "job_id", res.JobID, "message", res.Message)
	}
	return nil
}
