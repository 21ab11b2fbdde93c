package core

import (
	"context"
	"time"

	coordcore "github.com/nemanja-m/mrfs/internal/coordinator/core"
)

type CoordinatorClient interface {
	RegisterWorker(ctx context.Context, addr string, slots int) (time.Duration, error)
	// SendHeartbeat returns a NOT_FOUND error when the coordinator no longer
	// knows the worker and it has to register again.
	SendHeartbeat(ctx context.Context) error
	ReportTaskResult(ctx context.Context, report coordcore.TaskReport) error
	Close() error
}

type WorkerService interface {
	Run(ctx context.Context) error
	// AssignTask queues an assignment for a free slot. It fails with
	// UNREACHABLE when every slot is busy.
	AssignTask(ctx context.Context, assignment coordcore.TaskAssignment) error
}

// TaskExecutor runs one task attempt and returns the path of its output.
type TaskExecutor interface {
	Execute(ctx context.Context, assignment coordcore.TaskAssignment) (string, error)
}
