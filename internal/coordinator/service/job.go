package service

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/mrfs/internal/coordinator/core"
	metacore "github.com/nemanja-m/mrfs/internal/metadata/core"
	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	"github.com/nemanja-m/mrfs/pkg/jobs"
)

const cleanupTimeout = 30 * time.Second

type JobConfig struct {
	MaxAttempts             int
	TaskTimeout             time.Duration
	ScratchDir              string
	IntermediateReplication int
}

func JobConfigFrom(cfg config.JobsConfig) JobConfig {
	return JobConfig{
		MaxAttempts:             cfg.MaxAttempts,
		TaskTimeout:             cfg.TaskTimeout,
		ScratchDir:              cfg.ScratchDir,
		IntermediateReplication: cfg.IntermediateReplication,
	}
}

type jobState struct {
	job     *core.Job
	tasks   []*core.Task
	queue   core.TaskPriorityQueue
	scratch string
}

func (js *jobState) mapPhaseCompleted() bool {
	for _, task := range js.tasks {
		if task.Type == core.TaskTypeMap && task.Status != core.TaskStatusCompleted {
			return false
		}
	}
	return true
}

func (js *jobState) completed() bool {
	for _, task := range js.tasks {
		if task.Status != core.TaskStatusCompleted {
			return false
		}
	}
	return true
}

type assignment struct {
	worker  *core.Worker
	request core.TaskAssignment
}

type jobService struct {
	cfg           JobConfig
	jobStore      core.JobStore
	workerService core.WorkerService
	dialer        core.WorkerDialer
	fs            core.FileSystem
	logger        logging.Logger
	now           func() time.Time

	mu    sync.Mutex
	jobs  map[uuid.UUID]*jobState
	order []uuid.UUID
	tasks map[uuid.UUID]*core.Task
	// running counts attempts in flight per worker.
	running map[uuid.UUID]int
	// committing holds reduce tasks whose output is being published.
	committing map[uuid.UUID]struct{}

	pending chan struct{}
}

// NewJobService creates the job service and resumes jobs found in jobStore.
// Attempts that were running when the previous coordinator stopped are
// scheduled again.
func NewJobService(
	cfg JobConfig,
	jobStore core.JobStore,
	workerService core.WorkerService,
	dialer core.WorkerDialer,
	fs core.FileSystem,
	logger logging.Logger,
) (core.JobService, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Minute
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = "/.mrfs/jobs"
	}

	s := &jobService{
		cfg:           cfg,
		jobStore:      jobStore,
		workerService: workerService,
		dialer:        dialer,
		fs:            fs,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		jobs:          make(map[uuid.UUID]*jobState),
		tasks:         make(map[uuid.UUID]*core.Task),
		running:       make(map[uuid.UUID]int),
		committing:    make(map[uuid.UUID]struct{}),
		pending:       make(chan struct{}, 1),
	}
	if err := s.restore(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *jobService) restore() error {
	stored, tasks, err := s.jobStore.LoadAll()
	if err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resumed := 0
	for _, job := range stored {
		js := s.registerLocked(job, tasks[job.ID])
		if job.Status.Terminal() {
			continue
		}
		job.Status = core.JobStatusRunning
		for _, task := range js.tasks {
			if task.Status == core.TaskStatusRunning {
				task.Status = core.TaskStatusPending
				task.WorkerID = nil
				task.StartedAt = nil
			}
			if task.Status == core.TaskStatusPending {
				_ = js.queue.Push(task, core.PriorityOf(task))
			}
		}
		s.refreshProgressLocked(js)
		s.saveLocked(js)
		resumed++
	}

	if resumed > 0 {
		s.logger.Info("Resumed jobs", "count", resumed)
		s.notify()
	}
	return nil
}

func (s *jobService) registerLocked(job *core.Job, tasks []*core.Task) *jobState {
	js := &jobState{
		job:     job,
		tasks:   tasks,
		queue:   core.NewTaskPriorityQueue(),
		scratch: core.ScratchDir(s.cfg.ScratchDir, job.ID),
	}
	s.jobs[job.ID] = js
	s.order = append(s.order, job.ID)
	for _, task := range tasks {
		s.tasks[task.ID] = task
	}
	return js
}

func (s *jobService) SubmitJob(ctx context.Context, job *core.Job) error {
	if err := s.prepare(job); err != nil {
		return err
	}

	s.logger.Info("Submitting job", "job_id", job.ID.String(), "name", job.Name)

	files, err := s.resolveInputs(ctx, job.Input.Paths)
	if err != nil {
		return err
	}

	exists, err := s.fs.Exists(ctx, job.Output.Path)
	if err != nil {
		return err
	}
	if exists && !job.Output.Overwrite {
		return s.rejectJob(job, errs.New(errs.JobFailed, "submit job", "output path %s already exists", job.Output.Path))
	}
	if exists {
		s.logger.Info("Overwriting job output", "job_id", job.ID.String(), "output", job.Output.Path)
		if err := s.fs.Delete(ctx, job.Output.Path, true); err != nil {
			return err
		}
	}
	if err := s.fs.Mkdir(ctx, job.Output.Path); err != nil {
		return err
	}

	partitions := core.PlanSplits(files, job.Config.NumPartitions, job.Config.SpanRecords)

	tasks := make([]*core.Task, 0, len(partitions)+job.Config.NumReducers)
	for i, splits := range partitions {
		tasks = append(tasks, &core.Task{
			ID:          uuid.New(),
			JobID:       job.ID,
			Type:        core.TaskTypeMap,
			Index:       i,
			Status:      core.TaskStatusPending,
			Splits:      splits,
			NumReducers: job.Config.NumReducers,
		})
	}
	for i := range job.Config.NumReducers {
		tasks = append(tasks, &core.Task{
			ID:          uuid.New(),
			JobID:       job.ID,
			Type:        core.TaskTypeReduce,
			Index:       i,
			Status:      core.TaskStatusPending,
			NumReducers: job.Config.NumReducers,
		})
	}

	job.Status = core.JobStatusRunning
	job.StartedAt = ptrTime(s.now())

	s.mu.Lock()
	js := s.registerLocked(job, tasks)
	// Map tasks have higher priority than reduce tasks.
	for _, task := range tasks {
		_ = js.queue.Push(task, core.PriorityOf(task))
	}
	s.refreshProgressLocked(js)
	s.saveLocked(js)
	s.mu.Unlock()

	s.logger.Info(
		"Job submitted",
		"job_id", job.ID.String(),
		"num_input_files", len(files),
		"num_map_tasks", len(partitions),
		"num_reduce_tasks", job.Config.NumReducers,
		"scratch_dir", js.scratch,
	)
	s.notify()
	return nil
}

func (s *jobService) prepare(job *core.Job) error {
	const op = "submit job"

	if _, err := jobs.Get(job.Name); err != nil {
		return errs.New(errs.InvalidArgument, op, "unknown job %q, registered jobs: %v", job.Name, jobs.List())
	}
	if len(job.Input.Paths) == 0 {
		return errs.New(errs.InvalidArgument, op, "at least one input path is required")
	}
	output, err := metacore.CleanPath(job.Output.Path)
	if err != nil {
		return err
	}
	if output == metacore.Root || metacore.IsWithin(output, s.cfg.ScratchDir) || metacore.IsWithin(s.cfg.ScratchDir, output) {
		return errs.New(errs.InvalidArgument, op, "output path %s is reserved", output)
	}
	job.Output.Path = output

	if job.Config.NumReducers <= 0 {
		job.Config.NumReducers = 1
	}
	if job.Config.MaxAttempts <= 0 {
		job.Config.MaxAttempts = s.cfg.MaxAttempts
	}
	if job.Config.TaskTimeout <= 0 {
		job.Config.TaskTimeout = s.cfg.TaskTimeout
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = s.now()
	}
	job.Status = core.JobStatusPending
	job.Errors = []core.JobError{}
	job.Failure = nil
	return nil
}

// rejectJob records job as failed before it ran and returns err.
func (s *jobService) rejectJob(job *core.Job, err error) error {
	job.Status = core.JobStatusFailed
	job.CompletedAt = ptrTime(s.now())
	job.Failure = &core.JobFailure{Kind: errs.KindOf(err), Message: err.Error()}

	s.mu.Lock()
	js := s.registerLocked(job, nil)
	s.saveLocked(js)
	s.mu.Unlock()

	s.logger.Warn("Job rejected", "job_id", job.ID.String(), "error", err)
	return err
}

// resolveInputs expands files, directories and glob patterns into the block
// layout of every input file, in a stable order without duplicates.
func (s *jobService) resolveInputs(ctx context.Context, patterns []string) ([]core.InputFile, error) {
	const op = "resolve inputs"

	var paths []string
	seen := make(map[string]bool)
	add := func(entries []metacore.EntryInfo) {
		for _, entry := range entries {
			if entry.IsDir || hiddenName(entry.Name) || seen[entry.Path] {
				continue
			}
			seen[entry.Path] = true
			paths = append(paths, entry.Path)
		}
	}

	for _, pattern := range patterns {
		if strings.ContainsAny(pattern, "*?[{") {
			entries, err := s.fs.Glob(ctx, pattern)
			if err != nil {
				return nil, err
			}
			add(entries)
			continue
		}

		info, err := s.fs.Stat(ctx, pattern)
		if err != nil {
			return nil, err
		}
		if !info.IsDir {
			add([]metacore.EntryInfo{*info})
			continue
		}
		entries, err := s.fs.List(ctx, info.Path)
		if err != nil {
			return nil, err
		}
		add(entries)
	}
	if len(paths) == 0 {
		return nil, errs.New(errs.InvalidArgument, op, "no input files matched %v", patterns)
	}

	files := make([]core.InputFile, 0, len(paths))
	for _, p := range paths {
		located, err := s.fs.Locate(ctx, p)
		if err != nil {
			return nil, err
		}
		file := core.InputFile{Path: p}
		for _, block := range located.Blocks {
			file.BlockSizes = append(file.BlockSizes, block.Size)
		}
		files = append(files, file)
	}
	return files, nil
}

// hiddenName reports names skipped when a directory is used as input, such
// as job markers.
func hiddenName(name string) bool {
	return strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")
}

func (s *jobService) GetJob(id uuid.UUID) (*core.Job, error) {
	return s.jobStore.GetJobByID(id)
}

func (s *jobService) GetJobs(filter core.JobFilter) ([]*core.Job, int, error) {
	return s.jobStore.GetJobs(filter)
}

func (s *jobService) GetTasks(jobID uuid.UUID) ([]*core.Task, error) {
	return s.jobStore.GetTasksByJobID(jobID)
}

func (s *jobService) Pending() <-chan struct{} {
	return s.pending
}

func (s *jobService) notify() {
	select {
	case s.pending <- struct{}{}:
	default:
	}
}

func (s *jobService) Dispatch(ctx context.Context) int {
	workers, err := s.workerService.ListWorkers()
	if err != nil {
		s.logger.Error("Failed to list workers", "error", err)
		return 0
	}
	if len(workers) == 0 {
		return 0
	}

	s.mu.Lock()
	var planned []assignment
	for _, id := range s.order {
		js := s.jobs[id]
		if js.job.Status != core.JobStatusRunning {
			continue
		}
		started := false
		for js.queue.Len() > 0 {
			top, _ := js.queue.Top()
			// All map tasks must be completed before running reduce tasks.
			if top.Type == core.TaskTypeReduce && !js.mapPhaseCompleted() {
				break
			}
			worker := s.pickWorkerLocked(top, workers)
			if worker == nil {
				break
			}
			_, _ = js.queue.Pop()
			planned = append(planned, assignment{worker: worker, request: s.startAttemptLocked(js, top, worker)})
			started = true
		}
		if started {
			s.refreshProgressLocked(js)
			s.saveLocked(js)
		}
	}
	s.mu.Unlock()

	assigned := 0
	for _, a := range planned {
		if err := s.assign(ctx, a); err != nil {
			s.logger.Warn("Task assignment failed",
				"task_id", a.request.TaskID.String(),
				"worker_id", a.worker.ID.String(),
				"error", err,
			)
			s.revert(a)
			continue
		}
		assigned++
	}
	return assigned
}

func (s *jobService) assign(ctx context.Context, a assignment) error {
	client, err := s.dialer.Dial(a.worker.Address)
	if err != nil {
		return errs.Wrap(errs.Unreachable, "dial worker", err)
	}
	return client.AssignTask(ctx, a.request)
}

// pickWorkerLocked returns the least loaded worker with a free slot,
// preferring workers the task has not failed on. Ties go to the lowest
// worker id.
func (s *jobService) pickWorkerLocked(task *core.Task, workers []*core.Worker) *core.Worker {
	var best, fallback *core.Worker
	for _, w := range workers {
		load := s.running[w.ID]
		if load >= max(w.Slots, 1) {
			continue
		}
		if slices.Contains(task.ExcludedWorkers, w.ID) {
			if fallback == nil || load < s.running[fallback.ID] {
				fallback = w
			}
			continue
		}
		if best == nil || load < s.running[best.ID] {
			best = w
		}
	}
	if best != nil {
		return best
	}
	return fallback
}

func (s *jobService) startAttemptLocked(js *jobState, task *core.Task, worker *core.Worker) core.TaskAssignment {
	workerID := worker.ID
	task.Attempt++
	task.Status = core.TaskStatusRunning
	task.WorkerID = &workerID
	task.StartedAt = ptrTime(s.now())
	task.EndedAt = nil
	task.OutputDir = core.AttemptDir(js.scratch, task.Type, task.Index, task.Attempt)
	s.running[workerID]++

	request := core.TaskAssignment{
		TaskID:      task.ID,
		JobID:       task.JobID,
		JobName:     js.job.Name,
		Type:        task.Type,
		Index:       task.Index,
		Attempt:     task.Attempt,
		Splits:      task.Splits,
		NumReducers: task.NumReducers,
		OutputDir:   task.OutputDir,
		SpanRecords: js.job.Config.SpanRecords,
		UseCombiner: js.job.Config.UseCombiner,
	}
	switch task.Type {
	case core.TaskTypeMap:
		request.Replication = s.cfg.IntermediateReplication
	case core.TaskTypeReduce:
		task.Inputs = task.Inputs[:0]
		for _, t := range js.tasks {
			if t.Type == core.TaskTypeMap {
				task.Inputs = append(task.Inputs, t.Output)
			}
		}
		request.Inputs = slices.Clone(task.Inputs)
	}

	s.logger.Debug("Task started",
		"task_id", task.ID.String(),
		"job_id", task.JobID.String(),
		"type", string(task.Type),
		"attempt", task.Attempt,
		"worker_id", workerID.String(),
	)
	return request
}

// revert puts a task back in the queue after its assignment RPC failed. The
// attempt number is not reused.
func (s *jobService) revert(a assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[a.request.TaskID]
	if !ok || !s.isAttemptLocked(task, a.worker.ID, a.request.Attempt) {
		return
	}
	js := s.jobs[task.JobID]
	s.releaseLocked(task)
	task.Status = core.TaskStatusPending
	task.StartedAt = nil
	_ = js.queue.Push(task, core.PriorityOf(task))
	s.refreshProgressLocked(js)
	s.saveLocked(js)
}

func (s *jobService) isAttemptLocked(task *core.Task, workerID uuid.UUID, attempt int) bool {
	return task.Status == core.TaskStatusRunning &&
		task.Attempt == attempt &&
		task.WorkerID != nil && *task.WorkerID == workerID
}

func (s *jobService) releaseLocked(task *core.Task) {
	if task.WorkerID == nil {
		return
	}
	if s.running[*task.WorkerID] <= 1 {
		delete(s.running, *task.WorkerID)
	} else {
		s.running[*task.WorkerID]--
	}
	task.WorkerID = nil
}

func (s *jobService) ReportTaskResult(ctx context.Context, report core.TaskReport) error {
	s.mu.Lock()
	task, ok := s.tasks[report.TaskID]
	if !ok {
		s.mu.Unlock()
		return errs.New(errs.NotFound, "report task", "task %s not found", report.TaskID)
	}
	if !s.isAttemptLocked(task, report.WorkerID, report.Attempt) {
		s.mu.Unlock()
		s.logger.Debug("Discarding stale task report",
			"task_id", report.TaskID.String(),
			"worker_id", report.WorkerID.String(),
			"attempt", report.Attempt,
			"status", string(report.Status),
		)
		return nil
	}
	js := s.jobs[task.JobID]

	switch report.Status {
	case core.TaskStatusRunning:
		s.mu.Unlock()
		return nil

	case core.TaskStatusCompleted:
		if task.Type == core.TaskTypeMap {
			task.Output = task.OutputDir
			s.completeLocked(js, task)
			mapsDone := js.mapPhaseCompleted()
			s.saveLocked(js)
			s.mu.Unlock()

			if mapsDone {
				s.logger.Info("Map phase completed", "job_id", js.job.ID.String())
			}
			s.notify()
			return nil
		}
		s.committing[task.ID] = struct{}{}
		s.mu.Unlock()
		return s.commitReduce(ctx, js, task, report)

	case core.TaskStatusFailed:
		kind := report.Kind
		if kind == "" {
			kind = errs.TaskFailed
		}
		failed := s.failAttemptLocked(js, task, kind, report.Error)
		s.saveLocked(js)
		s.mu.Unlock()

		if failed {
			s.cleanup(ctx, js, true)
		} else {
			s.notify()
		}
		return nil

	default:
		s.mu.Unlock()
		return errs.New(errs.InvalidArgument, "report task", "unexpected task status %q", report.Status)
	}
}

// commitReduce publishes the attempt output as a part of the job output.
// Readers of the output directory only ever see whole parts.
func (s *jobService) commitReduce(ctx context.Context, js *jobState, task *core.Task, report core.TaskReport) error {
	s.mu.Lock()
	src := path.Join(task.OutputDir, core.PartName(task.Index))
	dst := path.Join(js.job.Output.Path, core.PartName(task.Index))
	s.mu.Unlock()

	err := s.fs.Rename(ctx, src, dst)
	if errs.Is(err, errs.AlreadyExists) {
		// Left over from an attempt committed before a coordinator restart.
		if err = s.fs.Delete(ctx, dst, false); err == nil {
			err = s.fs.Rename(ctx, src, dst)
		}
	}

	s.mu.Lock()
	delete(s.committing, task.ID)
	if !s.isAttemptLocked(task, report.WorkerID, report.Attempt) {
		s.mu.Unlock()
		return nil
	}

	if err != nil {
		s.logger.Warn("Failed to publish reduce output", "task_id", task.ID.String(), "error", err)
		failed := s.failAttemptLocked(js, task, errs.KindOf(err), err.Error())
		s.saveLocked(js)
		s.mu.Unlock()
		if failed {
			s.cleanup(ctx, js, true)
		} else {
			s.notify()
		}
		return nil
	}

	task.Output = dst
	s.completeLocked(js, task)
	finished := js.completed()
	s.saveLocked(js)
	s.mu.Unlock()

	if !finished {
		return nil
	}

	// The marker exists before anyone can observe the job as completed.
	s.finish(ctx, js)

	s.mu.Lock()
	if js.job.Status == core.JobStatusRunning {
		js.job.Status = core.JobStatusCompleted
		js.job.CompletedAt = ptrTime(s.now())
		s.saveLocked(js)
	}
	s.mu.Unlock()

	s.logger.Info("Job completed",
		"job_id", js.job.ID.String(),
		"output", js.job.Output.Path,
		"duration", js.job.Duration().String(),
	)
	return nil
}

func (s *jobService) completeLocked(js *jobState, task *core.Task) {
	s.releaseLocked(task)
	task.Status = core.TaskStatusCompleted
	task.EndedAt = ptrTime(s.now())
	task.Error = nil
	task.ErrorKind = ""
	s.refreshProgressLocked(js)

	s.logger.Debug("Task completed",
		"task_id", task.ID.String(),
		"job_id", task.JobID.String(),
		"type", string(task.Type),
		"attempt", task.Attempt,
	)
}

// failAttemptLocked records a failed attempt and either re-queues the task or
// fails the job once the task ran out of attempts. It reports whether the job
// failed.
func (s *jobService) failAttemptLocked(js *jobState, task *core.Task, kind errs.Kind, message string) bool {
	now := s.now()

	task.Failures++
	task.Error = &message
	task.ErrorKind = kind
	task.EndedAt = ptrTime(now)
	if task.WorkerID != nil && !slices.Contains(task.ExcludedWorkers, *task.WorkerID) {
		task.ExcludedWorkers = append(task.ExcludedWorkers, *task.WorkerID)
	}
	s.releaseLocked(task)

	js.job.Errors = append(js.job.Errors, core.JobError{
		TaskID:    task.ID,
		Attempt:   task.Attempt,
		Kind:      kind,
		Error:     message,
		Timestamp: now,
	})

	s.logger.Warn("Task attempt failed",
		"task_id", task.ID.String(),
		"job_id", task.JobID.String(),
		"type", string(task.Type),
		"attempt", task.Attempt,
		"failures", task.Failures,
		"kind", string(kind),
		"error", message,
	)

	if task.Failures < js.job.Config.MaxAttempts {
		task.Status = core.TaskStatusPending
		_ = js.queue.Push(task, core.PriorityOf(task))
		s.refreshProgressLocked(js)
		return false
	}

	task.Status = core.TaskStatusFailed
	js.job.Status = core.JobStatusFailed
	js.job.CompletedAt = ptrTime(now)
	js.job.Failure = &core.JobFailure{
		TaskID:   task.ID,
		TaskType: task.Type,
		Kind:     kind,
		Message:  fmt.Sprintf("%s task %d failed %d times: %s", strings.ToLower(string(task.Type)), task.Index, task.Failures, message),
	}
	s.cancelTasksLocked(js)

	s.logger.Error("Job failed",
		"job_id", js.job.ID.String(),
		"task_id", task.ID.String(),
		"kind", string(kind),
		"error", message,
	)
	return true
}

// cancelTasksLocked moves every unfinished task to CANCELLED and releases its
// worker slot. Reports from attempts still running elsewhere are discarded.
func (s *jobService) cancelTasksLocked(js *jobState) {
	now := s.now()
	for _, task := range js.tasks {
		if task.Status.Terminal() {
			continue
		}
		js.queue.Remove(task.ID)
		s.releaseLocked(task)
		task.Status = core.TaskStatusCancelled
		task.EndedAt = ptrTime(now)
	}
	s.refreshProgressLocked(js)
}

func (s *jobService) CancelJob(ctx context.Context, id uuid.UUID) error {
	return s.cancel(ctx, id, "cancelled by request")
}

func (s *jobService) cancel(ctx context.Context, id uuid.UUID, reason string) error {
	const op = "cancel job"

	s.mu.Lock()
	js, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return errs.New(errs.NotFound, op, "job %s not found", id)
	}
	switch js.job.Status {
	case core.JobStatusCancelled:
		s.mu.Unlock()
		return nil
	case core.JobStatusCompleted, core.JobStatusFailed:
		s.mu.Unlock()
		return errs.New(errs.InvalidArgument, op, "job %s already %s", id, strings.ToLower(string(js.job.Status)))
	}

	js.job.Status = core.JobStatusCancelled
	js.job.CompletedAt = ptrTime(s.now())
	s.cancelTasksLocked(js)
	s.saveLocked(js)
	s.mu.Unlock()

	s.logger.Info("Job cancelled", "job_id", id.String(), "reason", reason)
	s.cleanup(ctx, js, true)
	return nil
}

func (s *jobService) RequeueWorkerTasks(workerID uuid.UUID) error {
	s.mu.Lock()
	requeued := 0
	for _, id := range s.order {
		js := s.jobs[id]
		changed := false
		for _, task := range js.tasks {
			if task.Status != core.TaskStatusRunning || task.WorkerID == nil || *task.WorkerID != workerID {
				continue
			}
			if _, ok := s.committing[task.ID]; ok {
				continue
			}
			s.releaseLocked(task)
			task.Status = core.TaskStatusPending
			task.StartedAt = nil
			_ = js.queue.Push(task, core.PriorityOf(task))
			changed = true
			requeued++
		}
		if changed {
			s.refreshProgressLocked(js)
			s.saveLocked(js)
		}
	}
	s.mu.Unlock()

	if requeued > 0 {
		s.logger.Info("Requeued worker tasks", "worker_id", workerID.String(), "count", requeued)
		s.notify()
	}
	return nil
}

func (s *jobService) ExpireTasks(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	expired := 0
	var failed []*jobState
	for _, id := range s.order {
		js := s.jobs[id]
		if js.job.Status != core.JobStatusRunning {
			continue
		}
		changed := false
		for _, task := range js.tasks {
			if task.Status != core.TaskStatusRunning || task.StartedAt == nil {
				continue
			}
			if _, ok := s.committing[task.ID]; ok {
				continue
			}
			if now.Sub(*task.StartedAt) <= js.job.Config.TaskTimeout {
				continue
			}
			expired++
			changed = true
			if s.failAttemptLocked(js, task, errs.Timeout, "attempt exceeded task timeout") {
				failed = append(failed, js)
				break
			}
		}
		if changed {
			s.saveLocked(js)
		}
	}
	s.mu.Unlock()

	for _, js := range failed {
		s.cleanup(ctx, js, true)
	}
	if expired > 0 {
		s.notify()
	}
	return expired
}

func (s *jobService) CheckOutputs(ctx context.Context) int {
	type output struct {
		id   uuid.UUID
		path string
	}

	s.mu.Lock()
	var outputs []output
	for _, id := range s.order {
		js := s.jobs[id]
		if js.job.Status == core.JobStatusRunning {
			outputs = append(outputs, output{id: id, path: js.job.Output.Path})
		}
	}
	s.mu.Unlock()

	cancelled := 0
	for _, o := range outputs {
		exists, err := s.fs.Exists(ctx, o.path)
		if err != nil {
			s.logger.Warn("Failed to check job output", "job_id", o.id.String(), "error", err)
			continue
		}
		if exists {
			continue
		}
		if err := s.cancel(ctx, o.id, "output path was deleted"); err == nil {
			cancelled++
		}
	}
	return cancelled
}

// finish marks a completed job's output and drops its intermediate data.
func (s *jobService) finish(ctx context.Context, js *jobState) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	marker := path.Join(js.job.Output.Path, core.SuccessMarker)
	if err := s.fs.WriteFile(ctx, marker, nil); err != nil {
		s.logger.Warn("Failed to write success marker", "job_id", js.job.ID.String(), "error", err)
	}
	s.cleanup(ctx, js, false)
}

// cleanup removes intermediate data of an ended job and, when dropOutput is
// set, the partial output.
func (s *jobService) cleanup(ctx context.Context, js *jobState, dropOutput bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	dirs := []string{js.scratch}
	if dropOutput {
		dirs = append(dirs, js.job.Output.Path)
	}
	for _, dir := range dirs {
		if err := s.fs.Delete(ctx, dir, true); err != nil && !errs.Is(err, errs.NotFound) {
			s.logger.Warn("Failed to remove job data", "job_id", js.job.ID.String(), "path", dir, "error", err)
		}
	}
}

func (s *jobService) refreshProgressLocked(js *jobState) {
	var progress core.JobProgress
	for _, task := range js.tasks {
		p := &progress.Map
		if task.Type == core.TaskTypeReduce {
			p = &progress.Reduce
		}
		p.Total++
		switch task.Status {
		case core.TaskStatusPending:
			p.Pending++
		case core.TaskStatusRunning:
			p.Running++
		case core.TaskStatusCompleted:
			p.Completed++
		case core.TaskStatusFailed:
			p.Failed++
		case core.TaskStatusCancelled:
			p.Cancelled++
		}
	}
	js.job.Progress = progress
}

func (s *jobService) saveLocked(js *jobState) {
	if err := s.jobStore.SaveJob(js.job, js.tasks...); err != nil {
		s.logger.Error("Failed to save job", "job_id", js.job.ID.String(), "error", err)
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
