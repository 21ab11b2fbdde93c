package core

import (
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/mrfs/internal/shared/errs"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

type Job struct {
	ID       uuid.UUID    `json:"id"`
	Name     string       `json:"name"`
	Status   JobStatus    `json:"status"`
	Progress JobProgress  `json:"progress"`
	Input    InputConfig  `json:"input"`
	Output   OutputConfig `json:"output"`
	Config   JobConfig    `json:"config"`
	Owner    string       `json:"owner"`

	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Errors  []JobError  `json:"errors"`
	Failure *JobFailure `json:"failure,omitempty"`
}

func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// InputConfig lists input files, directories or glob patterns in the DFS.
type InputConfig struct {
	Paths []string `json:"paths"`
}

type OutputConfig struct {
	Path      string `json:"path"`
	Overwrite bool   `json:"overwrite"`
}

type JobConfig struct {
	// NumPartitions is the requested number of map tasks. Zero means one
	// partition per input block.
	NumPartitions int           `json:"num_partitions"`
	NumReducers   int           `json:"num_reducers"`
	MaxAttempts   int           `json:"max_attempts"`
	TaskTimeout   time.Duration `json:"task_timeout"`
	// SpanRecords lets line records cross block boundaries, which allows a
	// partition to start or end inside a block.
	SpanRecords bool `json:"span_records"`
	UseCombiner bool `json:"use_combiner"`
}

type JobProgress struct {
	Map    TaskProgress `json:"map"`
	Reduce TaskProgress `json:"reduce"`
}

type TaskProgress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// JobError records one failed task attempt.
type JobError struct {
	TaskID    uuid.UUID `json:"task_id"`
	Attempt   int       `json:"attempt"`
	Kind      errs.Kind `json:"kind"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// JobFailure explains why a job failed: the task that exhausted its
// attempts and the kind of its last error.
type JobFailure struct {
	TaskID   uuid.UUID `json:"task_id,omitempty"`
	TaskType TaskType  `json:"task_type,omitempty"`
	Kind     errs.Kind `json:"kind"`
	Message  string    `json:"message"`
}

type TaskType string

const (
	TaskTypeMap    TaskType = "MAP"
	TaskTypeReduce TaskType = "REDUCE"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Split is a byte range of one input file. FirstBlock and EndBlock delimit
// the blocks it was planned from.
type Split struct {
	Path       string `json:"path"`
	FirstBlock int    `json:"first_block"`
	EndBlock   int    `json:"end_block"`
	Offset     int64  `json:"offset"`
	Length     int64  `json:"length"`
}

type Task struct {
	ID     uuid.UUID  `json:"id"`
	JobID  uuid.UUID  `json:"job_id"`
	Type   TaskType   `json:"type"`
	Index  int        `json:"index"`
	Status TaskStatus `json:"status"`

	// Splits is the input of a map task.
	Splits []Split `json:"splits,omitempty"`
	// Inputs are the map output directories a reduce task merges.
	Inputs      []string `json:"inputs,omitempty"`
	NumReducers int      `json:"num_reducers"`
	// OutputDir is the scratch directory of the current attempt and Output
	// the location reported by the attempt that completed.
	OutputDir string `json:"output_dir,omitempty"`
	Output    string `json:"output,omitempty"`

	WorkerID        *uuid.UUID  `json:"worker_id,omitempty"`
	Attempt         int         `json:"attempt"`
	Failures        int         `json:"failures"`
	ExcludedWorkers []uuid.UUID `json:"excluded_workers,omitempty"`
	Error           *string     `json:"error,omitempty"`
	ErrorKind       errs.Kind   `json:"error_kind,omitempty"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

type WorkerStatus string

const (
	WorkerStatusActive WorkerStatus = "ACTIVE"
)

type Worker struct {
	ID              uuid.UUID    `json:"id"`
	Address         string       `json:"address"`
	Slots           int          `json:"slots"`
	Status          WorkerStatus `json:"status"`
	LastHeartbeatAt time.Time    `json:"last_heartbeat_at"`
}

// TaskAssignment is everything a worker needs to run one task attempt.
type TaskAssignment struct {
	TaskID      uuid.UUID `json:"task_id"`
	JobID       uuid.UUID `json:"job_id"`
	JobName     string    `json:"job_name"`
	Type        TaskType  `json:"type"`
	Index       int       `json:"index"`
	Attempt     int       `json:"attempt"`
	Splits      []Split   `json:"splits,omitempty"`
	Inputs      []string  `json:"inputs,omitempty"`
	NumReducers int       `json:"num_reducers"`
	OutputDir   string    `json:"output_dir"`
	// Replication applies to files the attempt writes. Zero uses the
	// worker's default.
	Replication int  `json:"replication,omitempty"`
	SpanRecords bool `json:"span_records"`
	UseCombiner bool `json:"use_combiner"`
}

// TaskReport is a state transition reported by a worker for one attempt.
type TaskReport struct {
	TaskID   uuid.UUID  `json:"task_id"`
	WorkerID uuid.UUID  `json:"worker_id"`
	Attempt  int        `json:"attempt"`
	Status   TaskStatus `json:"status"`
	Output   string     `json:"output,omitempty"`
	Kind     errs.Kind  `json:"kind,omitempty"`
	Error    string     `json:"error,omitempty"`
}

type JobFilter struct {
	Status *JobStatus
	Limit  int
	Offset int
}
