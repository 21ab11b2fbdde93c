package storage

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
)

type InMemoryJobStore struct {
	mu    sync.RWMutex
	jobs  map[uuid.UUID]*core.Job
	tasks map[uuid.UUID]*core.Task
	// jobID -> task ids in creation order
	jobTasks map[uuid.UUID][]uuid.UUID
}

func NewInMemoryJobStore() *InMemoryJobStore {
	return &InMemoryJobStore{
		jobs:     make(map[uuid.UUID]*core.Job),
		tasks:    make(map[uuid.UUID]*core.Task),
		jobTasks: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (s *InMemoryJobStore) SaveJob(job *core.Job, tasks ...*core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveLocked(job, tasks)
	return nil
}

func (s *InMemoryJobStore) saveLocked(job *core.Job, tasks []*core.Task) {
	s.jobs[job.ID] = cloneJob(job)
	for _, task := range tasks {
		if _, exists := s.tasks[task.ID]; !exists {
			s.jobTasks[task.JobID] = append(s.jobTasks[task.JobID], task.ID)
		}
		s.tasks[task.ID] = cloneTask(task)
	}
}

func (s *InMemoryJobStore) GetJobByID(id uuid.UUID) (*core.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[id]
	if !exists {
		return nil, errs.New(errs.NotFound, "get job", "job %s not found", id)
	}
	return cloneJob(job), nil
}

// GetJobs returns jobs newest first.
func (s *InMemoryJobStore) GetJobs(filter core.JobFilter) ([]*core.Job, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []*core.Job
	for _, job := range s.jobs {
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		filtered = append(filtered, job)
	}
	slices.SortFunc(filtered, func(a, b *core.Job) int {
		if c := b.SubmittedAt.Compare(a.SubmittedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})

	total := len(filtered)
	start := min(max(filter.Offset, 0), total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}

	page := make([]*core.Job, 0, end-start)
	for _, job := range filtered[start:end] {
		page = append(page, cloneJob(job))
	}
	return page, total, nil
}

func (s *InMemoryJobStore) GetTaskByID(id uuid.UUID) (*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, exists := s.tasks[id]
	if !exists {
		return nil, errs.New(errs.NotFound, "get task", "task %s not found", id)
	}
	return cloneTask(task), nil
}

func (s *InMemoryJobStore) GetTasksByJobID(jobID uuid.UUID) ([]*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, exists := s.jobs[jobID]; !exists {
		return nil, errs.New(errs.NotFound, "get tasks", "job %s not found", jobID)
	}
	return s.tasksLocked(jobID), nil
}

func (s *InMemoryJobStore) tasksLocked(jobID uuid.UUID) []*core.Task {
	ids := s.jobTasks[jobID]
	tasks := make([]*core.Task, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, cloneTask(s.tasks[id]))
	}
	return tasks
}

func (s *InMemoryJobStore) LoadAll() ([]*core.Job, map[uuid.UUID][]*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*core.Job, 0, len(s.jobs))
	tasks := make(map[uuid.UUID][]*core.Task, len(s.jobs))
	for id, job := range s.jobs {
		jobs = append(jobs, cloneJob(job))
		tasks[id] = s.tasksLocked(id)
	}
	slices.SortFunc(jobs, func(a, b *core.Job) int {
		if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return jobs, tasks, nil
}

type InMemoryWorkerStore struct {
	mu      sync.RWMutex
	workers map[uuid.UUID]*core.Worker
}

func NewInMemoryWorkerStore() *InMemoryWorkerStore {
	return &InMemoryWorkerStore{
		workers: make(map[uuid.UUID]*core.Worker),
	}
}

// AddWorker registers worker, replacing an earlier registration with the
// same id.
func (s *InMemoryWorkerStore) AddWorker(worker *core.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := *worker
	s.workers[worker.ID] = &w
	return nil
}

func (s *InMemoryWorkerStore) GetWorkerByID(id uuid.UUID) (*core.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	worker, exists := s.workers[id]
	if !exists {
		return nil, errs.New(errs.NotFound, "get worker", "worker %s not found", id)
	}
	w := *worker
	return &w, nil
}

// GetAllWorkers returns workers ordered by id.
func (s *InMemoryWorkerStore) GetAllWorkers() ([]*core.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	workers := make([]*core.Worker, 0, len(s.workers))
	for _, worker := range s.workers {
		w := *worker
		workers = append(workers, &w)
	}
	slices.SortFunc(workers, func(a, b *core.Worker) int {
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return workers, nil
}

func (s *InMemoryWorkerStore) UpdateWorkerHeartbeat(id uuid.UUID, timestamp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	worker, exists := s.workers[id]
	if !exists {
		return errs.New(errs.NotFound, "heartbeat", "worker %s is not registered", id)
	}
	worker.LastHeartbeatAt = timestamp
	return nil
}

func (s *InMemoryWorkerStore) RemoveWorker(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workers, id)
	return nil
}

func (s *InMemoryWorkerStore) GetStaleWorkers(threshold time.Time) ([]*core.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stale []*core.Worker
	for _, worker := range s.workers {
		if worker.LastHeartbeatAt.Before(threshold) {
			w := *worker
			stale = append(stale, &w)
		}
	}
	slices.SortFunc(stale, func(a, b *core.Worker) int {
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return stale, nil
}

func cloneJob(job *core.Job) *core.Job {
	c := *job
	c.Input.Paths = slices.Clone(job.Input.Paths)
	c.Errors = slices.Clone(job.Errors)
	c.StartedAt = cloneTime(job.StartedAt)
	c.CompletedAt = cloneTime(job.CompletedAt)
	if job.Failure != nil {
		f := *job.Failure
		c.Failure = &f
	}
	return &c
}

func cloneTask(task *core.Task) *core.Task {
	c := *task
	c.Splits = slices.Clone(task.Splits)
	c.Inputs = slices.Clone(task.Inputs)
	c.ExcludedWorkers = slices.Clone(task.ExcludedWorkers)
	c.StartedAt = cloneTime(task.StartedAt)
	c.EndedAt = cloneTime(task.EndedAt)
	if task.WorkerID != nil {
		id := *task.WorkerID
		c.WorkerID = &id
	}
	if task.Error != nil {
		msg := *task.Error
		c.Error = &msg
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
