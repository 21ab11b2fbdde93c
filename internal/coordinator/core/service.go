package core

import (
	"context"
	"time"

	"github.com/google/uuid"

	metacore "github.com/nemanja-m/mrfs/internal/metadata/core"
	"github.com/nemanja-m/mrfs/pkg/dfs"
)

// JobService defines the interface for job orchestration and management
type JobService interface {
	SubmitJob(ctx context.Context, job *Job) error
	GetJob(id uuid.UUID) (*Job, error)
	GetJobs(filter JobFilter) ([]*Job, int, error)
	GetTasks(jobID uuid.UUID) ([]*Task, error)
	CancelJob(ctx context.Context, id uuid.UUID) error

	// Dispatch assigns pending tasks to workers with free slots and returns
	// the number of tasks handed out.
	Dispatch(ctx context.Context) int
	ReportTaskResult(ctx context.Context, report TaskReport) error
	RequeueWorkerTasks(workerID uuid.UUID) error
	// ExpireTasks fails running attempts older than their task timeout.
	ExpireTasks(ctx context.Context) int
	// CheckOutputs cancels running jobs whose output directory was deleted.
	CheckOutputs(ctx context.Context) int
	// Pending signals that tasks became ready for dispatch.
	Pending() <-chan struct{}
}

// WorkerService defines the interface for worker management
type WorkerService interface {
	RegisterWorker(worker *Worker) error
	RecordHeartbeat(workerID uuid.UUID) error
	RemoveWorker(workerID uuid.UUID) error
	GetStaleWorkers(timeout time.Duration) ([]*Worker, error)
	ListWorkers() ([]*Worker, error)
}

// WorkerClient is the coordinator's handle on a worker process.
type WorkerClient interface {
	AssignTask(ctx context.Context, assignment TaskAssignment) error
}

type WorkerDialer interface {
	Dial(addr string) (WorkerClient, error)
}

// FileSystem is the part of the DFS client the coordinator uses to plan
// inputs and publish outputs.
type FileSystem interface {
	Glob(ctx context.Context, pattern string) ([]metacore.EntryInfo, error)
	Stat(ctx context.Context, path string) (*metacore.EntryInfo, error)
	List(ctx context.Context, path string) ([]metacore.EntryInfo, error)
	Locate(ctx context.Context, path string) (*metacore.LocatedFile, error)
	Exists(ctx context.Context, path string) (bool, error)
	Mkdir(ctx context.Context, path string) error
	Delete(ctx context.Context, path string, recursive bool) error
	Rename(ctx context.Context, src, dst string) error
	WriteFile(ctx context.Context, path string, data []byte, opts ...dfs.CreateOption) error
}
