package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	coordcore "github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	"github.com/nemanja-m/mrfs/internal/worker/core"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	reportRetries            = 5
)

type Config struct {
	ID uuid.UUID
	// Address is where the coordinator reaches the worker's task endpoint.
	Address string
	Slots   int
}

type workerService struct {
	cfg      Config
	client   core.CoordinatorClient
	executor core.TaskExecutor
	logger   logging.Logger

	mu       sync.Mutex
	inFlight int
	queue    chan coordcore.TaskAssignment

	heartbeatInterval atomic.Int64
	reportBackoff     func() backoff.BackOff
}

func NewWorkerService(
	cfg Config,
	client core.CoordinatorClient,
	executor core.TaskExecutor,
	logger logging.Logger,
) core.WorkerService {
	if cfg.Slots <= 0 {
		cfg.Slots = 1
	}
	w := &workerService{
		cfg:      cfg,
		client:   client,
		executor: executor,
		logger:   logger,
		queue:    make(chan coordcore.TaskAssignment, cfg.Slots),
		reportBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			return backoff.WithMaxRetries(b, reportRetries)
		},
	}
	w.heartbeatInterval.Store(int64(defaultHeartbeatInterval))
	return w
}

// Run registers with the coordinator and serves assignments until ctx is done.
func (w *workerService) Run(ctx context.Context) error {
	if err := w.register(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to register worker: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.runHeartbeatLoop(gctx)
		return nil
	})
	for slot := 0; slot < w.cfg.Slots; slot++ {
		g.Go(func() error {
			w.runSlot(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (w *workerService) AssignTask(ctx context.Context, assignment coordcore.TaskAssignment) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inFlight >= w.cfg.Slots {
		return errs.New(errs.Unreachable, "assign task", "worker %s has no free slot", w.cfg.ID)
	}
	w.inFlight++
	// Cannot block: the queue holds at most inFlight assignments.
	w.queue <- assignment

	w.logger.Info("Task accepted",
		"task_id", assignment.TaskID.String(),
		"job_id", assignment.JobID.String(),
		"type", string(assignment.Type),
		"attempt", assignment.Attempt,
	)
	return nil
}

func (w *workerService) register(ctx context.Context) error {
	register := func() error {
		interval, err := w.client.RegisterWorker(ctx, w.cfg.Address, w.cfg.Slots)
		if err != nil {
			if !errs.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if interval > 0 {
			w.heartbeatInterval.Store(int64(interval))
		}
		w.logger.Info("Worker registered", "worker_id", w.cfg.ID.String(), "address", w.cfg.Address, "slots", w.cfg.Slots)
		return nil
	}
	notify := func(err error, wait time.Duration) {
		w.logger.Warn("Registration failed, retrying", "worker_id", w.cfg.ID.String(), "wait", wait, "error", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	return backoff.RetryNotify(register, backoff.WithContext(b, ctx), notify)
}

func (w *workerService) runHeartbeatLoop(ctx context.Context) {
	interval := time.Duration(w.heartbeatInterval.Load())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.client.SendHeartbeat(ctx)
			switch {
			case err == nil:
				w.logger.Debug("Heartbeat sent successfully")
			case errs.Is(err, errs.NotFound):
				w.logger.Warn("Coordinator lost track of worker, registering again", "worker_id", w.cfg.ID.String())
				if err := w.register(ctx); err != nil && ctx.Err() == nil {
					w.logger.Error("Failed to register worker again", "error", err)
				}
			default:
				w.logger.Error("Failed to send heartbeat", "error", err)
			}

			if next := time.Duration(w.heartbeatInterval.Load()); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (w *workerService) runSlot(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case assignment := <-w.queue:
			w.runTask(ctx, assignment)
		}
	}
}

func (w *workerService) runTask(ctx context.Context, assignment coordcore.TaskAssignment) {
	report := coordcore.TaskReport{
		TaskID:   assignment.TaskID,
		WorkerID: w.cfg.ID,
		Attempt:  assignment.Attempt,
		Status:   coordcore.TaskStatusRunning,
	}
	if err := w.client.ReportTaskResult(ctx, report); err != nil {
		w.logger.Warn("Failed to report task start", "task_id", assignment.TaskID.String(), "error", err)
	}

	output, err := w.execute(ctx, assignment)
	w.release()

	if ctx.Err() != nil {
		// The coordinator expires the attempt once the worker is gone.
		return
	}

	if err != nil {
		w.logger.Error("Task execution failed", "task_id", assignment.TaskID.String(), "error", err)
		report.Status = coordcore.TaskStatusFailed
		report.Kind = errs.KindOf(err)
		if report.Kind == errs.Internal {
			report.Kind = errs.TaskFailed
		}
		report.Error = err.Error()
	} else {
		w.logger.Info("Task completed", "task_id", assignment.TaskID.String(), "output", output)
		report.Status = coordcore.TaskStatusCompleted
		report.Output = output
	}

	if err := w.report(ctx, report); err != nil {
		w.logger.Error("Failed to report task result", "task_id", assignment.TaskID.String(), "error", err)
	}
}

// execute turns a panic in user code into a failed attempt.
func (w *workerService) execute(ctx context.Context, assignment coordcore.TaskAssignment) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.New(errs.TaskFailed, "execute task", "panic: %v", r)
		}
	}()
	return w.executor.Execute(ctx, assignment)
}

func (w *workerService) report(ctx context.Context, report coordcore.TaskReport) error {
	op := func() error {
		err := w.client.ReportTaskResult(ctx, report)
		if err != nil && !errs.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(w.reportBackoff(), ctx))
}

func (w *workerService) release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight--
}
