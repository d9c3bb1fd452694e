package syncer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"callwatch/internal/domain/message"
	"callwatch/internal/domain/syncjob"
	"callwatch/internal/metrics"
	"callwatch/internal/services/normalizer"
	"callwatch/internal/services/pipeline"
	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
	"callwatch/pkg/telegram"
)

// HardMaxBatchSize caps every run regardless of configuration
const HardMaxBatchSize = 100

// progressEvery is how many updates pass between progress writes
const progressEvery = 25

// Run statuses
const (
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
	StatusCancelled      = "cancelled"
	StatusAlreadyRunning = "already_running"
	StatusBackingOff     = "backing_off"
)

// UpdateSource fetches pending updates starting at offset
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, limit int) ([]telegram.Update, error)
}

// Handler runs one inbound payload through the pipeline
type Handler interface {
	Handle(ctx context.Context, in normalizer.Inbound) (pipeline.Outcome, error)
}

// Config holds orchestrator tuning
type Config struct {
	BatchSize          int
	MaxBatchSize       int
	CancelPollInterval time.Duration
	BackoffMax         time.Duration
	CleanupLimit       int
}

// Request describes one run
type Request struct {
	BatchSize   int    `json:"batch_size,omitempty"`
	Cleanup     bool   `json:"cleanup"`
	Force       bool   `json:"force"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}

// RunResult is the structured outcome of a run. Failures are reported here, never as errors.
type RunResult struct {
	Status       string     `json:"status"`
	JobID        *uuid.UUID `json:"job_id,omitempty"`
	Fetched      int        `json:"fetched"`
	Synced       int        `json:"synced"`
	Duplicates   int        `json:"duplicates"`
	Skipped      int        `json:"skipped"`
	Errors       int        `json:"errors"`
	Cleaned      int        `json:"cleaned"`
	LastUpdateID int64      `json:"last_update_id,omitempty"`
	RetryAfter   string     `json:"retry_after,omitempty"`
	Message      string     `json:"message,omitempty"`
}

// StatusReport combines process state with persisted jobs
type StatusReport struct {
	Process       ProcessState   `json:"process"`
	Running       *syncjob.Job   `json:"running,omitempty"`
	LastCompleted *syncjob.Job   `json:"last_completed,omitempty"`
	Recent        []*syncjob.Job `json:"recent"`
}

// Orchestrator runs polling ingestion with exclusivity, backoff and cancellation
type Orchestrator struct {
	jobs     syncjob.Repository
	messages message.Repository
	source   UpdateSource
	handler  Handler
	process  *Process
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

// NewOrchestrator creates a new sync orchestrator
func NewOrchestrator(
	jobs syncjob.Repository,
	messages message.Repository,
	source UpdateSource,
	handler Handler,
	process *Process,
	cfg Config,
	log *logger.Logger,
) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxBatchSize <= 0 || cfg.MaxBatchSize > HardMaxBatchSize {
		cfg.MaxBatchSize = HardMaxBatchSize
	}
	if cfg.CancelPollInterval <= 0 {
		cfg.CancelPollInterval = 5 * time.Second
	}
	if cfg.CleanupLimit <= 0 {
		cfg.CleanupLimit = 500
	}
	return &Orchestrator{
		jobs:     jobs,
		messages: messages,
		source:   source,
		handler:  handler,
		process:  process,
		cfg:      cfg,
		log:      log.With("component", "sync_orchestrator", "process_id", process.ID),
		now:      time.Now,
	}
}

// Process returns the per-process state
func (o *Orchestrator) Process() *Process {
	return o.process
}

// Run executes one sync run and reports its outcome
func (o *Orchestrator) Run(ctx context.Context, req Request) RunResult {
	if !req.Force {
		if wait := o.process.retryAfter(o.now()); wait > 0 {
			metrics.RecordSyncRun(StatusBackingOff, 0)
			return RunResult{
				Status:     StatusBackingOff,
				RetryAfter: wait.Round(time.Second).String(),
				Message:    fmt.Sprintf("backing off after %d consecutive failures", o.process.Snapshot().ConsecutiveErrors),
			}
		}
	}

	if !o.process.inFlight.CompareAndSwap(false, true) {
		metrics.RecordSyncRun(StatusAlreadyRunning, 0)
		return RunResult{Status: StatusAlreadyRunning, Message: "a sync run is already in progress in this process"}
	}
	defer o.process.inFlight.Store(false)

	start := o.now()
	res, err := o.run(ctx, req)

	switch {
	case res.Status == StatusAlreadyRunning:
		metrics.RecordSyncRun(res.Status, 0)
		return res
	case err != nil:
		res.Status = StatusFailed
		res.Message = err.Error()
		count, delay := o.process.recordFailure(o.now(), res.Message, o.cfg.BackoffMax)
		metrics.SetSyncBackoff(count, delay)
		o.log.Errorw("Sync run failed",
			"job_id", res.JobID,
			"consecutive_errors", count,
			"backoff", delay,
			"error", err,
		)
	case res.Status == StatusCompleted:
		count, delay := o.process.recordSuccess()
		metrics.SetSyncBackoff(count, delay)
	}

	metrics.RecordSyncRun(res.Status, o.now().Sub(start))
	o.log.Infow("Sync run finished",
		"status", res.Status,
		"job_id", res.JobID,
		"fetched", res.Fetched,
		"synced", res.Synced,
		"duplicates", res.Duplicates,
		"skipped", res.Skipped,
		"errors", res.Errors,
		"cleaned", res.Cleaned,
	)
	return res
}

func (o *Orchestrator) run(ctx context.Context, req Request) (RunResult, error) {
	batch := o.batchSize(req.BatchSize)

	offset, lastSeen, err := o.offset(ctx)
	if err != nil {
		return RunResult{}, err
	}

	job := &syncjob.Job{
		ProcessID: o.process.ID,
		Status:    syncjob.StatusRunning,
		StartedAt: o.now(),
		Metadata: syncjob.Metadata{
			TriggeredBy: req.TriggeredBy,
			BatchSize:   batch,
			Offset:      offset,
		},
	}
	if err := o.jobs.Start(ctx, job); err != nil {
		if errors.Is(err, errors.ErrSyncAlreadyRunning) {
			return RunResult{Status: StatusAlreadyRunning, Message: "another sync job is running"}, nil
		}
		return RunResult{}, errors.Wrap(err, "failed to start sync job")
	}

	jobID := job.ID
	res := RunResult{JobID: &jobID, LastUpdateID: lastSeen}

	runCtx, cancel := context.WithCancel(ctx)
	o.process.attach(job.ID, cancel)
	defer func() {
		cancel()
		o.process.detach()
	}()
	go o.watchCancel(runCtx, job.ID)

	runErr := o.ingest(runCtx, offset, batch, &res)

	cancelled := runCtx.Err() != nil
	reason := o.process.reason()
	if cancelled && reason == "" {
		reason = syncjob.ReasonShutdown
	}

	if runErr == nil && !cancelled && req.Cleanup && res.Errors == 0 {
		o.cleanup(runCtx, &res)
	}

	meta := job.Metadata
	meta.LastUpdateID = res.LastUpdateID
	meta.Fetched = res.Fetched
	meta.Skipped = res.Skipped
	meta.Duplicates = res.Duplicates
	meta.CleanupRan = res.Cleaned > 0

	params := syncjob.FinishParams{
		MessagesSynced:  res.Synced,
		MessagesCleaned: res.Cleaned,
		ErrorCount:      res.Errors,
		Metadata:        meta,
	}
	switch {
	case cancelled:
		res.Status = StatusCancelled
		res.Message = "cancelled: " + reason
		params.Status = syncjob.StatusCancelled
		params.Metadata.CancelReason = reason
	case runErr != nil:
		res.Status = StatusFailed
		msg := runErr.Error()
		params.Status = syncjob.StatusFailed
		params.ErrorMessage = &msg
	default:
		res.Status = StatusCompleted
		params.Status = syncjob.StatusCompleted
	}

	if err := o.finish(ctx, job.ID, params); err != nil && runErr == nil {
		return res, err
	}
	return res, runErr
}

// ingest fetches one batch and feeds it through the handler in update order.
// LastUpdateID only advances across the error-free prefix so failed updates are fetched again.
func (o *Orchestrator) ingest(ctx context.Context, offset int64, batch int, res *RunResult) error {
	updates, err := o.source.GetUpdates(ctx, offset, batch)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, "failed to fetch updates")
	}
	res.Fetched = len(updates)

	sort.Slice(updates, func(i, j int) bool { return updates[i].UpdateID < updates[j].UpdateID })

	blocked := false
	for i := range updates {
		if ctx.Err() != nil {
			return nil
		}

		u := updates[i]
		out, err := o.handler.Handle(ctx, normalizer.PolledUpdate{Update: &u})
		switch {
		case err == nil:
			if out.Ingest.Inserted {
				res.Synced++
			} else {
				res.Duplicates++
			}
		case errors.IsValidation(err) || errors.Is(err, errors.ErrNotIngestible):
			res.Skipped++
		case ctx.Err() != nil:
			return nil
		default:
			res.Errors++
			blocked = true
			o.log.Warnw("Failed to process update",
				"update_id", u.UpdateID,
				"error", err,
			)
		}

		if !blocked {
			res.LastUpdateID = u.UpdateID
		}

		if (i+1)%progressEvery == 0 {
			if err := o.jobs.UpdateProgress(ctx, *res.JobID, res.Synced, res.Errors); err != nil && ctx.Err() == nil {
				o.log.Warnw("Failed to record sync progress", "job_id", res.JobID, "error", err)
			}
		}
	}
	return nil
}

func (o *Orchestrator) cleanup(ctx context.Context, res *RunResult) {
	n, err := o.messages.DeleteDuplicates(ctx, o.cfg.CleanupLimit)
	if err != nil {
		o.log.Warnw("Duplicate cleanup failed", "job_id", res.JobID, "error", err)
		return
	}
	res.Cleaned = n
}

// finish writes the terminal state even when the run context is gone.
// A job already closed elsewhere (force stop, stale sweep) is left as is.
func (o *Orchestrator) finish(ctx context.Context, id uuid.UUID, p syncjob.FinishParams) error {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := o.jobs.Finish(fctx, id, p)
	if errors.Is(err, errors.ErrNotFound) {
		o.log.Infow("Sync job was already closed", "job_id", id, "status", p.Status)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to finish sync job")
	}
	return nil
}

func (o *Orchestrator) watchCancel(ctx context.Context, id uuid.UUID) {
	ticker := time.NewTicker(o.cfg.CancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requested, err := o.jobs.IsCancelRequested(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				o.log.Warnw("Failed to poll cancellation flag", "job_id", id, "error", err)
				continue
			}
			if requested {
				o.log.Infow("Cancellation requested", "job_id", id)
				o.process.cancelJob(id, syncjob.ReasonCancelRequested)
				return
			}
		}
	}
}

func (o *Orchestrator) batchSize(requested int) int {
	size := requested
	if size <= 0 {
		size = o.cfg.BatchSize
	}
	if size > o.cfg.MaxBatchSize {
		size = o.cfg.MaxBatchSize
	}
	return size
}

// offset returns the next getUpdates offset and the last update id already consumed
func (o *Orchestrator) offset(ctx context.Context) (int64, int64, error) {
	last, err := o.jobs.LastCompleted(ctx)
	if errors.Is(err, errors.ErrNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to load last completed sync job")
	}
	if last.Metadata.LastUpdateID == 0 {
		return 0, 0, nil
	}
	return last.Metadata.LastUpdateID + 1, last.Metadata.LastUpdateID, nil
}

// RequestCancel flags a job for cancellation; nil targets the running job.
// A run owned by this process is cancelled immediately.
func (o *Orchestrator) RequestCancel(ctx context.Context, id *uuid.UUID) (uuid.UUID, error) {
	jobID, err := o.jobs.RequestCancel(ctx, id)
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "failed to request sync cancellation")
	}
	if o.process.cancelJob(jobID, syncjob.ReasonCancelRequested) {
		o.log.Infow("Cancelled local sync run", "job_id", jobID)
	}
	return jobID, nil
}

// ForceStop marks every running job cancelled and stops the local run
func (o *Orchestrator) ForceStop(ctx context.Context) (int, error) {
	o.process.cancelJob(uuid.Nil, syncjob.ReasonForceStopped)

	n, err := o.jobs.CancelAllRunning(ctx, syncjob.ReasonForceStopped)
	if err != nil {
		return 0, errors.Wrap(err, "failed to force stop sync jobs")
	}
	o.log.Warnw("Force stopped sync jobs", "count", n)
	return n, nil
}

// ResetErrors clears the backoff state
func (o *Orchestrator) ResetErrors() ProcessState {
	o.process.Reset()
	st := o.process.Snapshot()
	metrics.SetSyncBackoff(0, o.process.floor)
	o.log.Infow("Sync backoff reset")
	return st
}

// Status reports process state with the running, last completed and recent jobs
func (o *Orchestrator) Status(ctx context.Context, recent int) (StatusReport, error) {
	if recent <= 0 {
		recent = 10
	}
	report := StatusReport{Process: o.process.Snapshot()}

	running, err := o.jobs.Running(ctx)
	switch {
	case err == nil:
		report.Running = running
	case !errors.Is(err, errors.ErrNotFound):
		return report, errors.Wrap(err, "failed to load running sync job")
	}

	last, err := o.jobs.LastCompleted(ctx)
	switch {
	case err == nil:
		report.LastCompleted = last
	case !errors.Is(err, errors.ErrNotFound):
		return report, errors.Wrap(err, "failed to load last completed sync job")
	}

	jobs, err := o.jobs.Recent(ctx, recent)
	if err != nil {
		return report, errors.Wrap(err, "failed to load recent sync jobs")
	}
	report.Recent = jobs
	return report, nil
}
