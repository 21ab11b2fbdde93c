package rest

import (
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/mrfs/internal/coordinator/core"
)

// ToJob converts the request into a job. Unset limits are filled in by the
// job service.
func (req *SubmitJobRequest) ToJob() *core.Job {
	job := &core.Job{
		ID:     uuid.New(),
		Name:   req.Name,
		Status: core.JobStatusPending,
		Input: core.InputConfig{
			Paths: req.Input.Paths,
		},
		Output: core.OutputConfig{
			Path:      req.Output.Path,
			Overwrite: req.Output.Overwrite,
		},
		Config: core.JobConfig{
			NumPartitions: req.Config.NumPartitions,
			NumReducers:   req.Config.NumReducers,
			SpanRecords:   req.Config.SpanRecords,
			UseCombiner:   req.Config.UseCombiner,
		},
		SubmittedAt: time.Now().UTC(),
		Errors:      []core.JobError{},
	}
	if req.Config.MaxAttempts != nil {
		job.Config.MaxAttempts = *req.Config.MaxAttempts
	}
	if req.Config.TaskTimeoutSeconds != nil {
		job.Config.TaskTimeout = time.Duration(*req.Config.TaskTimeoutSeconds) * time.Second
	}
	return job
}

func toTaskProgress(p core.TaskProgress) TaskProgress {
	return TaskProgress{
		Total:     p.Total,
		Pending:   p.Pending,
		Running:   p.Running,
		Completed: p.Completed,
		Failed:    p.Failed,
		Cancelled: p.Cancelled,
	}
}

func ToGetJobResponse(job *core.Job) GetJobResponse {
	errors := make([]ErrorInfo, 0, len(job.Errors))
	for _, e := range job.Errors {
		errors = append(errors, ErrorInfo{
			TaskID:    e.TaskID.String(),
			Attempt:   e.Attempt,
			Kind:      string(e.Kind),
			Error:     e.Error,
			Timestamp: e.Timestamp,
		})
	}

	resp := GetJobResponse{
		JobID:  job.ID.String(),
		Name:   job.Name,
		Status: string(job.Status),
		Owner:  job.Owner,
		Progress: ProgressInfo{
			Map:    toTaskProgress(job.Progress.Map),
			Reduce: toTaskProgress(job.Progress.Reduce),
		},
		Timestamps: TimestampsInfo{
			Submitted: job.SubmittedAt,
			Started:   job.StartedAt,
			Completed: job.CompletedAt,
		},
		Output: OutputInfo{
			Location:  job.Output.Path,
			Available: job.Status == core.JobStatusCompleted,
		},
		Errors: errors,
	}

	if f := job.Failure; f != nil {
		resp.Failure = &FailureInfo{
			TaskType: string(f.TaskType),
			Kind:     string(f.Kind),
			Message:  f.Message,
		}
		if f.TaskID != uuid.Nil {
			resp.Failure.TaskID = f.TaskID.String()
		}
	}
	return resp
}

func ToJobSummary(job *core.Job) JobSummary {
	return JobSummary{
		JobID:       job.ID.String(),
		Name:        job.Name,
		Status:      string(job.Status),
		SubmittedAt: job.SubmittedAt,
		CompletedAt: job.CompletedAt,
	}
}

func ToTaskInfo(task *core.Task) TaskInfo {
	info := TaskInfo{
		TaskID:    task.ID.String(),
		Type:      string(task.Type),
		Index:     task.Index,
		Status:    string(task.Status),
		Attempts:  task.Attempt,
		Failures:  task.Failures,
		StartTime: task.StartedAt,
		EndTime:   task.EndedAt,
	}
	if task.WorkerID != nil {
		info.WorkerID = task.WorkerID.String()
	}
	if task.Error != nil {
		info.Error = *task.Error
	}
	return info
}
