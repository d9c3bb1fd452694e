package ingestion

import (
	"context"
	"time"

	"callwatch/internal/services/health"
	"callwatch/internal/workers"
)

// HealthChecker checks and repairs pipeline state
type HealthChecker interface {
	Check(ctx context.Context) health.Report
	Repair(ctx context.Context) (health.RepairResult, error)
}

// HealthWorker publishes the health score and optionally repairs when it drops
type HealthWorker struct {
	*workers.BaseWorker
	monitor     HealthChecker
	autoRepair  bool
	repairBelow int
}

// NewHealthWorker creates a new health worker
func NewHealthWorker(monitor HealthChecker, autoRepair bool, repairBelow int, interval time.Duration, enabled bool) *HealthWorker {
	return &HealthWorker{
		BaseWorker:  workers.NewBaseWorker("pipeline_health", interval, enabled),
		monitor:     monitor,
		autoRepair:  autoRepair,
		repairBelow: repairBelow,
	}
}

// Run executes a check and, when enabled and the score is low, a repair
func (w *HealthWorker) Run(ctx context.Context) error {
	report := w.monitor.Check(ctx)
	if !w.autoRepair || report.Score >= w.repairBelow {
		return nil
	}

	w.Log().Infow("Health below threshold, running repair", "score", report.Score, "threshold", w.repairBelow)
	_, err := w.monitor.Repair(ctx)
	return err
}
