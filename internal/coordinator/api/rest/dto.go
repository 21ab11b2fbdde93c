package rest

import (
	"time"
)

type SubmitJobRequest struct {
	Name   string       `json:"name"`
	Input  InputConfig  `json:"input"`
	Output OutputConfig `json:"output"`
	Config JobConfig    `json:"config"`
}

type InputConfig struct {
	Paths []string `json:"paths"` // Files, directories or glob patterns
}

type OutputConfig struct {
	Path      string `json:"path"`
	Overwrite bool   `json:"overwrite,omitempty"`
}

type JobConfig struct {
	NumPartitions      int  `json:"numPartitions,omitempty"`
	NumReducers        int  `json:"numReducers"`
	MaxAttempts        *int `json:"maxAttempts,omitempty"`
	TaskTimeoutSeconds *int `json:"taskTimeoutSeconds,omitempty"`
	SpanRecords        bool `json:"spanRecords,omitempty"`
	UseCombiner        bool `json:"useCombiner,omitempty"`
}

type SubmitJobResponse struct {
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
	MapTasks    int       `json:"map_tasks"`
	ReduceTasks int       `json:"reduce_tasks"`
	Links       Links     `json:"links"`
}

type Links struct {
	Self  string `json:"self"`
	Tasks string `json:"tasks"`
}

type GetJobResponse struct {
	JobID      string         `json:"job_id"`
	Name       string         `json:"name"`
	Status     string         `json:"status"`
	Owner      string         `json:"owner,omitempty"`
	Progress   ProgressInfo   `json:"progress"`
	Timestamps TimestampsInfo `json:"timestamps"`
	Output     OutputInfo     `json:"output"`
	Errors     []ErrorInfo    `json:"errors"`
	Failure    *FailureInfo   `json:"failure,omitempty"`
}

type ProgressInfo struct {
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

type TimestampsInfo struct {
	Submitted time.Time  `json:"submitted"`
	Started   *time.Time `json:"started"`
	Completed *time.Time `json:"completed"`
}

type OutputInfo struct {
	Location  string `json:"location"`
	Available bool   `json:"available"`
}

type ErrorInfo struct {
	TaskID    string    `json:"task_id"`
	Attempt   int       `json:"attempt"`
	Kind      string    `json:"kind"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

type FailureInfo struct {
	TaskID   string `json:"task_id,omitempty"`
	TaskType string `json:"task_type,omitempty"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

type ListJobsResponse struct {
	Jobs       []JobSummary `json:"jobs"`
	Total      int          `json:"total"`
	Limit      int          `json:"limit"`
	Offset     int          `json:"offset"`
	NextOffset *int         `json:"next_offset,omitempty"`
}

type JobSummary struct {
	JobID       string     `json:"job_id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type GetTasksResponse struct {
	Tasks []TaskInfo `json:"tasks"`
}

type TaskInfo struct {
	TaskID    string     `json:"task_id"`
	Type      string     `json:"type"` // "MAP" or "REDUCE"
	Index     int        `json:"index"`
	Status    string     `json:"status"`
	Attempts  int        `json:"attempts"`
	Failures  int        `json:"failures"`
	WorkerID  string     `json:"worker_id,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
