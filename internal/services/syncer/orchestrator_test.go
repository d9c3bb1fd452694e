package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callwatch/internal/domain/syncjob"
	"callwatch/internal/services/ingest"
	"callwatch/internal/services/normalizer"
	"callwatch/internal/services/pipeline"
	"callwatch/internal/testsupport/mocks"
	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
	"callwatch/pkg/telegram"
)

type fakeSource struct {
	mu      sync.Mutex
	updates []telegram.Update
	err     error
	offset  int64
	limit   int
}

func (f *fakeSource) GetUpdates(_ context.Context, offset int64, limit int) ([]telegram.Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offset, f.limit = offset, limit
	return f.updates, f.err
}

type fakeHandler struct {
	mu   sync.Mutex
	seen []int64
	fn   func(ctx context.Context, updateID int64) (pipeline.Outcome, error)
}

func (f *fakeHandler) Handle(ctx context.Context, in normalizer.Inbound) (pipeline.Outcome, error) {
	u := in.(normalizer.PolledUpdate).Update
	f.mu.Lock()
	f.seen = append(f.seen, u.UpdateID)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, u.UpdateID)
	}
	return inserted(), nil
}

func inserted() pipeline.Outcome {
	return pipeline.Outcome{Ingest: ingest.Result{ID: 1, Inserted: true}}
}

func updates(ids ...int64) []telegram.Update {
	out := make([]telegram.Update, 0, len(ids))
	for _, id := range ids {
		out = append(out, telegram.Update{UpdateID: id})
	}
	return out
}

type fixture struct {
	jobs     *mocks.SyncJobRepository
	messages *mocks.MessageRepository
	source   *fakeSource
	handler  *fakeHandler
	orch     *Orchestrator

	mu       sync.Mutex
	finished []syncjob.FinishParams
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		jobs:     &mocks.SyncJobRepository{},
		messages: &mocks.MessageRepository{},
		source:   &fakeSource{},
		handler:  &fakeHandler{},
	}
	f.jobs.FinishFunc = func(_ context.Context, _ uuid.UUID, p syncjob.FinishParams) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.finished = append(f.finished, p)
		return nil
	}
	if cfg.CancelPollInterval == 0 {
		cfg.CancelPollInterval = time.Hour
	}
	f.orch = NewOrchestrator(f.jobs, f.messages, f.source, f.handler, NewProcess("test", time.Minute), cfg, logger.Nop())
	return f
}

func (f *fixture) lastFinish(t *testing.T) syncjob.FinishParams {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.finished)
	return f.finished[len(f.finished)-1]
}

func TestRun_Completed(t *testing.T) {
	f := newFixture(Config{})
	f.jobs.LastCompletedFunc = func(context.Context) (*syncjob.Job, error) {
		return &syncjob.Job{Metadata: syncjob.Metadata{LastUpdateID: 9}}, nil
	}
	f.source.updates = updates(12, 10, 11)
	f.handler.fn = func(_ context.Context, id int64) (pipeline.Outcome, error) {
		switch id {
		case 11:
			return pipeline.Outcome{Ingest: ingest.Result{ID: 5}}, nil
		case 12:
			return pipeline.Outcome{}, errors.ErrNotIngestible
		}
		return inserted(), nil
	}
	var cleanupLimit int
	f.messages.DeleteDuplicatesFunc = func(_ context.Context, limit int) (int, error) {
		cleanupLimit = limit
		return 2, nil
	}

	res := f.orch.Run(context.Background(), Request{Cleanup: true, TriggeredBy: "test"})

	assert.Equal(t, StatusCompleted, res.Status)
	require.NotNil(t, res.JobID)
	assert.Equal(t, int64(10), f.source.offset)
	assert.Equal(t, []int64{10, 11, 12}, f.handler.seen)
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, res.Cleaned)
	assert.Equal(t, 500, cleanupLimit)
	assert.Equal(t, int64(12), res.LastUpdateID)

	p := f.lastFinish(t)
	assert.Equal(t, syncjob.StatusCompleted, p.Status)
	assert.Equal(t, 1, p.MessagesSynced)
	assert.Equal(t, 2, p.MessagesCleaned)
	assert.Equal(t, int64(12), p.Metadata.LastUpdateID)
	assert.Equal(t, "test", p.Metadata.TriggeredBy)
	assert.True(t, p.Metadata.CleanupRan)
	assert.Nil(t, p.ErrorMessage)
}

func TestRun_EmptyBatchKeepsOffset(t *testing.T) {
	f := newFixture(Config{})
	f.jobs.LastCompletedFunc = func(context.Context) (*syncjob.Job, error) {
		return &syncjob.Job{Metadata: syncjob.Metadata{LastUpdateID: 41}}, nil
	}

	res := f.orch.Run(context.Background(), Request{})

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, int64(41), f.lastFinish(t).Metadata.LastUpdateID)
}

func TestRun_ErrorsSkipCleanupAndHoldOffset(t *testing.T) {
	f := newFixture(Config{})
	f.source.updates = updates(1, 2, 3)
	f.handler.fn = func(_ context.Context, id int64) (pipeline.Outcome, error) {
		if id == 2 {
			return pipeline.Outcome{}, errors.NewIngestError("insert", -100, 2, errors.ErrUnavailable)
		}
		return inserted(), nil
	}
	cleaned := false
	f.messages.DeleteDuplicatesFunc = func(context.Context, int) (int, error) {
		cleaned = true
		return 0, nil
	}

	res := f.orch.Run(context.Background(), Request{Cleanup: true})

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, int64(1), res.LastUpdateID)
	assert.False(t, cleaned)
	assert.Equal(t, 1, f.lastFinish(t).ErrorCount)
}

func TestRun_BatchSizeClamp(t *testing.T) {
	f := newFixture(Config{})
	f.orch.Run(context.Background(), Request{BatchSize: 500})
	assert.Equal(t, HardMaxBatchSize, f.source.limit)

	f = newFixture(Config{BatchSize: 10, MaxBatchSize: 20})
	f.orch.Run(context.Background(), Request{})
	assert.Equal(t, 10, f.source.limit)
	f.orch.Run(context.Background(), Request{BatchSize: 30})
	assert.Equal(t, 20, f.source.limit)
}

func TestRun_FailureBacksOff(t *testing.T) {
	f := newFixture(Config{BackoffMax: 10 * time.Minute})
	f.source.err = errors.New("telegram: bad gateway")

	res := f.orch.Run(context.Background(), Request{})
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Message, "bad gateway")

	p := f.lastFinish(t)
	assert.Equal(t, syncjob.StatusFailed, p.Status)
	require.NotNil(t, p.ErrorMessage)

	res = f.orch.Run(context.Background(), Request{})
	assert.Equal(t, StatusBackingOff, res.Status)
	assert.NotEmpty(t, res.RetryAfter)

	res = f.orch.Run(context.Background(), Request{Force: true})
	assert.Equal(t, StatusFailed, res.Status)
}

func TestRun_BackoffGrowthAndReset(t *testing.T) {
	f := newFixture(Config{BackoffMax: 3 * time.Minute})
	f.source.err = errors.New("timeout")

	for i := 0; i < 3; i++ {
		f.orch.Run(context.Background(), Request{Force: true})
	}
	st := f.orch.Process().Snapshot()
	assert.Equal(t, 3, st.ConsecutiveErrors)
	assert.Equal(t, (3 * time.Minute).String(), st.BackoffDelay)

	f.source.err = nil
	res := f.orch.Run(context.Background(), Request{Force: true})
	assert.Equal(t, StatusCompleted, res.Status)

	st = f.orch.Process().Snapshot()
	assert.Equal(t, 0, st.ConsecutiveErrors)
	assert.Equal(t, time.Minute.String(), st.BackoffDelay)
}

func TestRun_AlreadyRunningInStore(t *testing.T) {
	f := newFixture(Config{})
	f.jobs.StartFunc = func(context.Context, *syncjob.Job) error {
		return errors.ErrSyncAlreadyRunning
	}

	res := f.orch.Run(context.Background(), Request{})

	assert.Equal(t, StatusAlreadyRunning, res.Status)
	assert.Empty(t, f.handler.seen)
	assert.Equal(t, 0, f.orch.Process().Snapshot().ConsecutiveErrors)
}

func TestRun_AlreadyRunningInProcess(t *testing.T) {
	f := newFixture(Config{})
	started := false
	f.jobs.StartFunc = func(context.Context, *syncjob.Job) error {
		started = true
		return nil
	}
	f.orch.Process().inFlight.Store(true)

	res := f.orch.Run(context.Background(), Request{})

	assert.Equal(t, StatusAlreadyRunning, res.Status)
	assert.False(t, started)
}

func TestRun_CancelRequestedByWatcher(t *testing.T) {
	f := newFixture(Config{CancelPollInterval: time.Millisecond})
	f.source.updates = updates(1, 2)
	f.jobs.IsCancelRequestedFunc = func(context.Context, uuid.UUID) (bool, error) {
		return true, nil
	}
	f.handler.fn = func(ctx context.Context, _ int64) (pipeline.Outcome, error) {
		select {
		case <-ctx.Done():
			return pipeline.Outcome{}, ctx.Err()
		case <-time.After(5 * time.Second):
			return inserted(), nil
		}
	}

	res := f.orch.Run(context.Background(), Request{})

	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, []int64{1}, f.handler.seen)
	assert.Equal(t, 0, res.Errors)

	p := f.lastFinish(t)
	assert.Equal(t, syncjob.StatusCancelled, p.Status)
	assert.Equal(t, syncjob.ReasonCancelRequested, p.Metadata.CancelReason)
	assert.Nil(t, f.orch.Process().Snapshot().CurrentJobID)
}

func TestRun_ForceStopDuringRun(t *testing.T) {
	f := newFixture(Config{})
	f.source.updates = updates(1, 2)
	var reason string
	f.jobs.CancelAllRunningFunc = func(_ context.Context, r string) (int, error) {
		reason = r
		return 1, nil
	}
	f.jobs.FinishFunc = func(context.Context, uuid.UUID, syncjob.FinishParams) error {
		return errors.ErrNotFound
	}
	f.handler.fn = func(ctx context.Context, _ int64) (pipeline.Outcome, error) {
		n, err := f.orch.ForceStop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return pipeline.Outcome{}, ctx.Err()
	}

	res := f.orch.Run(context.Background(), Request{})

	assert.Equal(t, StatusCancelled, res.Status)
	assert.Contains(t, res.Message, syncjob.ReasonForceStopped)
	assert.Equal(t, syncjob.ReasonForceStopped, reason)
	assert.Equal(t, []int64{1}, f.handler.seen)
}

func TestRequestCancel(t *testing.T) {
	f := newFixture(Config{})

	_, err := f.orch.RequestCancel(context.Background(), nil)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	want := uuid.New()
	f.jobs.RequestCancelFunc = func(_ context.Context, id *uuid.UUID) (uuid.UUID, error) {
		assert.Nil(t, id)
		return want, nil
	}
	got, err := f.orch.RequestCancel(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStatusAndReset(t *testing.T) {
	f := newFixture(Config{})
	running := &syncjob.Job{ID: uuid.New(), Status: syncjob.StatusRunning}
	f.jobs.RunningFunc = func(context.Context) (*syncjob.Job, error) { return running, nil }
	f.jobs.RecentFunc = func(_ context.Context, limit int) ([]*syncjob.Job, error) {
		assert.Equal(t, 10, limit)
		return []*syncjob.Job{running}, nil
	}
	f.source.err = errors.New("boom")
	f.orch.Run(context.Background(), Request{})

	report, err := f.orch.Status(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, running, report.Running)
	assert.Nil(t, report.LastCompleted)
	assert.Len(t, report.Recent, 1)
	assert.Equal(t, 1, report.Process.ConsecutiveErrors)
	require.NotNil(t, report.Process.LastFailure)

	st := f.orch.ResetErrors()
	assert.Equal(t, 0, st.ConsecutiveErrors)
	assert.Nil(t, st.LastFailure)

	f.source.err = nil
	assert.Equal(t, StatusCompleted, f.orch.Run(context.Background(), Request{}).Status)
}
