package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Process is the sync state owned by one running instance.
// The database stays the source of truth for exclusivity; inFlight only
// short-circuits overlapping calls inside the same process.
type Process struct {
	ID string

	inFlight atomic.Bool

	mu                sync.Mutex
	floor             time.Duration
	consecutiveErrors int
	delay             time.Duration
	lastFailure       time.Time
	lastError         string

	jobID        uuid.UUID
	cancel       context.CancelFunc
	cancelReason string
}

// ProcessState is a point-in-time copy of Process
type ProcessState struct {
	ID                string     `json:"process_id"`
	InFlight          bool       `json:"in_flight"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	BackoffDelay      string     `json:"backoff_delay"`
	LastFailure       *time.Time `json:"last_failure,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	CurrentJobID      *uuid.UUID `json:"current_job_id,omitempty"`
}

// NewProcess creates the per-process state. floor is the backoff delay after a success.
func NewProcess(id string, floor time.Duration) *Process {
	if id == "" {
		id = uuid.NewString()
	}
	return &Process{ID: id, floor: floor, delay: floor}
}

// Snapshot returns the current state
func (p *Process) Snapshot() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := ProcessState{
		ID:                p.ID,
		InFlight:          p.inFlight.Load(),
		ConsecutiveErrors: p.consecutiveErrors,
		BackoffDelay:      p.delay.String(),
		LastError:         p.lastError,
	}
	if !p.lastFailure.IsZero() {
		t := p.lastFailure
		st.LastFailure = &t
	}
	if p.jobID != uuid.Nil {
		id := p.jobID
		st.CurrentJobID = &id
	}
	return st
}

// retryAfter returns how long callers must wait before the next run, zero when free
func (p *Process) retryAfter(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.consecutiveErrors == 0 {
		return 0
	}
	elapsed := now.Sub(p.lastFailure)
	if elapsed >= p.delay {
		return 0
	}
	return p.delay - elapsed
}

func (p *Process) recordSuccess() (int, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveErrors = 0
	p.delay = p.floor
	p.lastError = ""
	return p.consecutiveErrors, p.delay
}

func (p *Process) recordFailure(now time.Time, msg string, ceiling time.Duration) (int, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveErrors++
	p.delay *= 2
	if p.delay <= 0 {
		p.delay = p.floor
	}
	if ceiling > 0 && p.delay > ceiling {
		p.delay = ceiling
	}
	p.lastFailure = now
	p.lastError = msg
	return p.consecutiveErrors, p.delay
}

// Reset clears the error count and returns the delay to the floor
func (p *Process) Reset() {
	p.recordSuccess()
	p.mu.Lock()
	p.lastFailure = time.Time{}
	p.mu.Unlock()
}

func (p *Process) attach(jobID uuid.UUID, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobID = jobID
	p.cancel = cancel
	p.cancelReason = ""
}

// detach clears the current job and returns the reason it was cancelled with, if any
func (p *Process) detach() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	reason := p.cancelReason
	p.jobID = uuid.Nil
	p.cancel = nil
	p.cancelReason = ""
	return reason
}

// cancelJob cancels the local run when it belongs to jobID, or any run when jobID is uuid.Nil
func (p *Process) cancelJob(jobID uuid.UUID, reason string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return false
	}
	if jobID != uuid.Nil && jobID != p.jobID {
		return false
	}
	if p.cancelReason == "" {
		p.cancelReason = reason
	}
	p.cancel()
	return true
}

func (p *Process) reason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelReason
}
