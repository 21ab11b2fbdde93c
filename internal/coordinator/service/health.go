package service

import (
	"context"
	"time"

	"github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
)

// HealthReport summarises one health check round.
type HealthReport struct {
	RemovedWorkers int
	ExpiredTasks   int
	CancelledJobs  int
}

// WorkerHealthChecker sweeps the cluster on a fixed interval. A sweep drops
// workers whose last heartbeat is older than the stale timeout and hands
// their attempts back to the job service, expires attempts that ran past
// their timeout and cancels jobs whose output directory disappeared.
type WorkerHealthChecker struct {
	interval time.Duration
	stale    time.Duration
	workers  core.WorkerService
	jobs     core.JobService
	logger   logging.Logger
}

func NewWorkerHealthChecker(
	interval time.Duration,
	staleTimeout time.Duration,
	workers core.WorkerService,
	jobs core.JobService,
	logger logging.Logger,
) *WorkerHealthChecker {
	return &WorkerHealthChecker{
		interval: interval,
		stale:    staleTimeout,
		workers:  workers,
		jobs:     jobs,
		logger:   logger,
	}
}

// Start runs sweeps until ctx is cancelled.
func (h *WorkerHealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		report := h.RunOnce(ctx)
		if report != (HealthReport{}) {
			h.logger.Debug("Health sweep finished",
				"removed_workers", report.RemovedWorkers,
				"expired_tasks", report.ExpiredTasks,
				"cancelled_jobs", report.CancelledJobs,
			)
		}
	}
}

// RunOnce performs a single sweep. A failing stage is logged and does not
// stop the stages after it.
func (h *WorkerHealthChecker) RunOnce(ctx context.Context) HealthReport {
	report := HealthReport{RemovedWorkers: h.evictStale()}

	report.ExpiredTasks = h.jobs.ExpireTasks(ctx)
	if report.ExpiredTasks > 0 {
		h.logger.Info("Expired task attempts", "count", report.ExpiredTasks)
	}
	report.CancelledJobs = h.jobs.CheckOutputs(ctx)
	if report.CancelledJobs > 0 {
		h.logger.Info("Cancelled jobs with deleted output", "count", report.CancelledJobs)
	}
	return report
}

func (h *WorkerHealthChecker) evictStale() int {
	stale, err := h.workers.GetStaleWorkers(h.stale)
	if err != nil {
		h.logger.Error("Failed to get stale workers", "error", err)
		return 0
	}

	removed := 0
	for _, w := range stale {
		h.logger.Info("Removing stale worker", "worker_id", w.ID, "address", w.Address, "last_heartbeat", w.LastHeartbeatAt)

		// The worker leaves the pool first so requeued tasks cannot land on it.
		if err := h.workers.RemoveWorker(w.ID); err != nil {
			h.logger.Error("Failed to remove stale worker", "worker_id", w.ID, "error", err)
		} else {
			removed++
		}
		if err := h.jobs.RequeueWorkerTasks(w.ID); err != nil {
			h.logger.Error("Failed to requeue worker tasks", "worker_id", w.ID, "error", err)
		}
	}
	return removed
}
