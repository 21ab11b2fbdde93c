package core

import (
	"time"

	"github.com/google/uuid"
)

// JobStore persists jobs and their tasks. Stores keep their own copies:
// callers may keep mutating what they saved.
type JobStore interface {
	// SaveJob inserts or replaces job and the given tasks.
	SaveJob(job *Job, tasks ...*Task) error
	GetJobByID(id uuid.UUID) (*Job, error)
	GetJobs(filter JobFilter) ([]*Job, int, error)
	GetTaskByID(id uuid.UUID) (*Task, error)
	GetTasksByJobID(jobID uuid.UUID) ([]*Task, error)
	// LoadAll returns every stored job with its tasks, oldest job first.
	LoadAll() ([]*Job, map[uuid.UUID][]*Task, error)
}

type WorkerStore interface {
	AddWorker(worker *Worker) error
	GetWorkerByID(id uuid.UUID) (*Worker, error)
	GetAllWorkers() ([]*Worker, error)
	UpdateWorkerHeartbeat(id uuid.UUID, timestamp time.Time) error
	RemoveWorker(id uuid.UUID) error
	GetStaleWorkers(threshold time.Time) ([]*Worker, error)
}
