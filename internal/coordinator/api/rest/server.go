package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
)

// IdentityHeader carries the caller identity recorded as job owner.
const IdentityHeader = "X-Mrfs-Identity"

const (
	defaultListLimit = 10
	maxListLimit     = 1000
)

type API struct {
	jobService core.JobService
	logger     logging.Logger
}

func NewAPI(jobService core.JobService, logger logging.Logger) *API {
	return &API{
		jobService: jobService,
		logger:     logger,
	}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/jobs", a.submitJob)
	mux.HandleFunc("GET /api/jobs", a.listJobs)
	mux.HandleFunc("GET /api/jobs/{id}", a.getJob)
	mux.HandleFunc("GET /api/jobs/{id}/tasks", a.getJobTasks)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", a.cancelJob)
}

func (a *API) submitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if err := a.validateSubmitJobRequest(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	job := req.ToJob()
	job.Owner = r.Header.Get(IdentityHeader)
	if err := a.jobService.SubmitJob(r.Context(), job); err != nil {
		a.respondServiceError(w, "failed to submit job", err)
		return
	}

	id := job.ID.String()
	a.respondJSON(w, http.StatusCreated, SubmitJobResponse{
		JobID:       id,
		Status:      string(job.Status),
		SubmittedAt: job.SubmittedAt,
		MapTasks:    job.Progress.Map.Total,
		ReduceTasks: job.Progress.Reduce.Total,
		Links: Links{
			Self:  fmt.Sprintf("/api/jobs/%s", id),
			Tasks: fmt.Sprintf("/api/jobs/%s/tasks", id),
		},
	})
}

// getJob handles GET /api/jobs/{id}
func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.parseJobID(w, r)
	if !ok {
		return
	}

	job, err := a.jobService.GetJob(jobID)
	if err != nil {
		a.respondServiceError(w, "job not found", err)
		return
	}

	a.respondJSON(w, http.StatusOK, ToGetJobResponse(job))
}

// listJobs handles GET /api/jobs with filters and pagination
func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := core.JobFilter{Limit: defaultListLimit}
	if status := query.Get("status"); status != "" {
		s := core.JobStatus(status)
		filter.Status = &s
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			filter.Limit = min(l, maxListLimit)
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			filter.Offset = o
		}
	}

	jobs, total, err := a.jobService.GetJobs(filter)
	if err != nil {
		a.respondServiceError(w, "failed to list jobs", err)
		return
	}

	summaries := make([]JobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, ToJobSummary(job))
	}

	var nextOffset *int
	if end := filter.Offset + len(jobs); end < total {
		nextOffset = &end
	}

	a.respondJSON(w, http.StatusOK, ListJobsResponse{
		Jobs:       summaries,
		Total:      total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
		NextOffset: nextOffset,
	})
}

// getJobTasks handles GET /api/jobs/{id}/tasks
func (a *API) getJobTasks(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.parseJobID(w, r)
	if !ok {
		return
	}

	if _, err := a.jobService.GetJob(jobID); err != nil {
		a.respondServiceError(w, "job not found", err)
		return
	}
	tasks, err := a.jobService.GetTasks(jobID)
	if err != nil {
		a.respondServiceError(w, "failed to get tasks", err)
		return
	}

	infos := make([]TaskInfo, 0, len(tasks))
	for _, task := range tasks {
		infos = append(infos, ToTaskInfo(task))
	}
	a.respondJSON(w, http.StatusOK, GetTasksResponse{Tasks: infos})
}

// cancelJob handles POST /api/jobs/{id}/cancel
func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.parseJobID(w, r)
	if !ok {
		return
	}

	if err := a.jobService.CancelJob(r.Context(), jobID); err != nil {
		a.respondServiceError(w, "failed to cancel job", err)
		return
	}

	job, err := a.jobService.GetJob(jobID)
	if err != nil {
		a.respondServiceError(w, "job not found", err)
		return
	}
	a.respondJSON(w, http.StatusOK, ToGetJobResponse(job))
}

func (a *API) parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid job ID", err.Error())
		return uuid.Nil, false
	}
	return jobID, true
}

func (a *API) validateSubmitJobRequest(req *SubmitJobRequest) error {
	if req.Name == "" {
		return fmt.Errorf("job name is required")
	}

	if len(req.Input.Paths) == 0 {
		return fmt.Errorf("at least one input path is required")
	}

	if req.Output.Path == "" {
		return fmt.Errorf("output path is required")
	}

	if req.Config.NumReducers < 0 || req.Config.NumPartitions < 0 {
		return fmt.Errorf("numReducers and numPartitions must not be negative")
	}

	if req.Config.MaxAttempts != nil && *req.Config.MaxAttempts <= 0 {
		return fmt.Errorf("maxAttempts must be greater than 0")
	}

	if req.Config.TaskTimeoutSeconds != nil && *req.Config.TaskTimeoutSeconds <= 0 {
		return fmt.Errorf("taskTimeoutSeconds must be greater than 0")
	}

	return nil
}

func (a *API) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error("Failed to encode response", "error", err)
	}
}

func (a *API) respondError(w http.ResponseWriter, statusCode int, error string, message string) {
	resp := ErrorResponse{
		Error:   error,
		Message: message,
		Code:    statusCode,
	}
	a.respondJSON(w, statusCode, resp)
}

func (a *API) respondServiceError(w http.ResponseWriter, summary string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("Request failed", "error", err)
	}
	a.respondError(w, status, summary, err.Error())
}

func statusOf(err error) int {
	switch errs.KindOf(err) {
	case errs.InvalidArgument:
		return http.StatusBadRequest
	case errs.NotFound:
		return http.StatusNotFound
	case errs.AlreadyExists, errs.JobFailed, errs.NotEmpty:
		return http.StatusConflict
	case errs.PermissionDenied:
		return http.StatusForbidden
	case errs.Unreachable, errs.Timeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func NewServer(cfg config.RESTConfig, jobService core.JobService, logger logging.Logger) *http.Server {
	api := NewAPI(jobService, logger)
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	handler := ChainMiddleware(
		mux,
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		IdentityMiddleware,
	)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
