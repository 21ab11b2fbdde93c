package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
)

// mockJobService keeps jobs in submission order and plans one map task per
// input path.
type mockJobService struct {
	core.JobService

	mu        sync.Mutex
	jobs      []*core.Job
	tasks     map[uuid.UUID][]*core.Task
	submitErr error
}

func newMockJobService() *mockJobService {
	return &mockJobService{tasks: make(map[uuid.UUID][]*core.Task)}
}

func (m *mockJobService) SubmitJob(ctx context.Context, job *core.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return m.submitErr
	}
	job.Status = core.JobStatusRunning
	job.Progress.Map.Total = len(job.Input.Paths)
	job.Progress.Reduce.Total = max(job.Config.NumReducers, 1)
	for i := range job.Input.Paths {
		m.tasks[job.ID] = append(m.tasks[job.ID], &core.Task{
			ID:     uuid.New(),
			JobID:  job.ID,
			Type:   core.TaskTypeMap,
			Index:  i,
			Status: core.TaskStatusPending,
		})
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *mockJobService) GetJob(id uuid.UUID) (*core.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ID == id {
			return job, nil
		}
	}
	return nil, errs.New(errs.NotFound, "get job", "job %s not found", id)
}

func (m *mockJobService) GetJobs(filter core.JobFilter) ([]*core.Job, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var filtered []*core.Job
	for _, job := range m.jobs {
		if filter.Status == nil || job.Status == *filter.Status {
			filtered = append(filtered, job)
		}
	}
	start := min(filter.Offset, len(filtered))
	end := min(start+filter.Limit, len(filtered))
	return filtered[start:end], len(filtered), nil
}

func (m *mockJobService) GetTasks(jobID uuid.UUID) ([]*core.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.tasks[jobID]), nil
}

func (m *mockJobService) CancelJob(ctx context.Context, id uuid.UUID) error {
	job, err := m.GetJob(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.Status == core.JobStatusCompleted {
		return errs.New(errs.InvalidArgument, "cancel job", "job %s already completed", id)
	}
	job.Status = core.JobStatusCancelled
	return nil
}

func newTestMux(jobService core.JobService) *http.ServeMux {
	mux := http.NewServeMux()
	NewAPI(jobService, newMockLogger()).RegisterRoutes(mux)
	return mux
}

func doJSON(t *testing.T, mux http.Handler, method, target string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(IdentityHeader, "alice")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if out != nil {
		require.NoError(t, json.NewDecoder(w.Body).Decode(out))
	}
	return w.Code
}

func validRequest() SubmitJobRequest {
	return SubmitJobRequest{
		Name:   "wordcount",
		Input:  InputConfig{Paths: []string{"/in/a.txt", "/in/b.txt"}},
		Output: OutputConfig{Path: "/out"},
		Config: JobConfig{NumReducers: 3},
	}
}

func TestSubmitJob(t *testing.T) {
	jobService := newMockJobService()
	mux := newTestMux(jobService)

	attempts, timeout := 5, 30
	req := validRequest()
	req.Config.MaxAttempts = &attempts
	req.Config.TaskTimeoutSeconds = &timeout
	req.Config.UseCombiner = true

	var resp SubmitJobResponse
	code := doJSON(t, mux, http.MethodPost, "/api/jobs", req, &resp)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "RUNNING", resp.Status)
	require.Equal(t, 2, resp.MapTasks)
	require.Equal(t, 3, resp.ReduceTasks)
	require.Equal(t, "/api/jobs/"+resp.JobID, resp.Links.Self)

	job := jobService.jobs[0]
	require.Equal(t, resp.JobID, job.ID.String())
	require.Equal(t, "alice", job.Owner)
	require.Equal(t, 5, job.Config.MaxAttempts)
	require.Equal(t, 30*time.Second, job.Config.TaskTimeout)
	require.True(t, job.Config.UseCombiner)
	require.Equal(t, "/out", job.Output.Path)
}

func TestSubmitJob_Validation(t *testing.T) {
	zero := 0
	tests := []struct {
		name   string
		modify func(*SubmitJobRequest)
	}{
		{"missing name", func(r *SubmitJobRequest) { r.Name = "" }},
		{"missing inputs", func(r *SubmitJobRequest) { r.Input.Paths = nil }},
		{"missing output", func(r *SubmitJobRequest) { r.Output.Path = "" }},
		{"negative reducers", func(r *SubmitJobRequest) { r.Config.NumReducers = -1 }},
		{"zero attempts", func(r *SubmitJobRequest) { r.Config.MaxAttempts = &zero }},
		{"zero timeout", func(r *SubmitJobRequest) { r.Config.TaskTimeoutSeconds = &zero }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobService := newMockJobService()
			req := validRequest()
			tt.modify(&req)

			var resp ErrorResponse
			code := doJSON(t, newTestMux(jobService), http.MethodPost, "/api/jobs", req, &resp)
			require.Equal(t, http.StatusBadRequest, code)
			require.Equal(t, "validation failed", resp.Error)
			require.Empty(t, jobService.jobs)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader([]byte("{")))
		w := httptest.NewRecorder()
		newTestMux(newMockJobService()).ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSubmitJob_ServiceErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{errs.New(errs.InvalidArgument, "submit job", "unknown job"), http.StatusBadRequest},
		{errs.New(errs.NotFound, "stat", "no such input"), http.StatusNotFound},
		{errs.New(errs.JobFailed, "submit job", "output exists"), http.StatusConflict},
		{errs.New(errs.Unreachable, "glob", "metadata down"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		jobService := newMockJobService()
		jobService.submitErr = tt.err

		var resp ErrorResponse
		code := doJSON(t, newTestMux(jobService), http.MethodPost, "/api/jobs", validRequest(), &resp)
		require.Equal(t, tt.code, code)
		require.Equal(t, tt.code, resp.Code)
		require.Equal(t, tt.err.Error(), resp.Message)
	}
}

func TestGetJob(t *testing.T) {
	jobService := newMockJobService()
	mux := newTestMux(jobService)

	var created SubmitJobResponse
	require.Equal(t, http.StatusCreated, doJSON(t, mux, http.MethodPost, "/api/jobs", validRequest(), &created))

	var resp GetJobResponse
	require.Equal(t, http.StatusOK, doJSON(t, mux, http.MethodGet, "/api/jobs/"+created.JobID, nil, &resp))
	require.Equal(t, created.JobID, resp.JobID)
	require.Equal(t, "wordcount", resp.Name)
	require.Equal(t, "/out", resp.Output.Location)
	require.False(t, resp.Output.Available)
	require.NotNil(t, resp.Errors)

	require.Equal(t, http.StatusNotFound, doJSON(t, mux, http.MethodGet, "/api/jobs/"+uuid.NewString(), nil, nil))
	require.Equal(t, http.StatusBadRequest, doJSON(t, mux, http.MethodGet, "/api/jobs/not-a-uuid", nil, nil))
}

func TestListJobs(t *testing.T) {
	jobService := newMockJobService()
	mux := newTestMux(jobService)
	for range 3 {
		require.Equal(t, http.StatusCreated, doJSON(t, mux, http.MethodPost, "/api/jobs", validRequest(), nil))
	}
	jobService.jobs[1].Status = core.JobStatusCompleted

	var page ListJobsResponse
	require.Equal(t, http.StatusOK, doJSON(t, mux, http.MethodGet, "/api/jobs?limit=2", nil, &page))
	require.Equal(t, 3, page.Total)
	require.Len(t, page.Jobs, 2)
	require.NotNil(t, page.NextOffset)
	require.Equal(t, 2, *page.NextOffset)

	require.Equal(t, http.StatusOK, doJSON(t, mux, http.MethodGet, "/api/jobs?limit=2&offset=2", nil, &page))
	require.Len(t, page.Jobs, 1)
	require.Nil(t, page.NextOffset)

	var completed ListJobsResponse
	require.Equal(t, http.StatusOK, doJSON(t, mux, http.MethodGet, "/api/jobs?status=COMPLETED", nil, &completed))
	require.Equal(t, 1, completed.Total)
	require.Equal(t, "COMPLETED", completed.Jobs[0].Status)
}

func TestListJobs_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	w := httptest.NewRecorder()
	newTestMux(newMockJobService()).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"jobs":[]`)
}

func TestGetJobTasks(t *testing.T) {
	mux := newTestMux(newMockJobService())

	var created SubmitJobResponse
	require.Equal(t, http.StatusCreated, doJSON(t, mux, http.MethodPost, "/api/jobs", validRequest(), &created))

	var resp GetTasksResponse
	require.Equal(t, http.StatusOK, doJSON(t, mux, http.MethodGet, created.Links.Tasks, nil, &resp))
	require.Len(t, resp.Tasks, 2)
	require.Equal(t, "MAP", resp.Tasks[0].Type)
	require.Equal(t, "PENDING", resp.Tasks[0].Status)
	require.Equal(t, 1, resp.Tasks[1].Index)

	require.Equal(t, http.StatusNotFound, doJSON(t, mux, http.MethodGet, "/api/jobs/"+uuid.NewString()+"/tasks", nil, nil))
}

func TestCancelJob(t *testing.T) {
	jobService := newMockJobService()
	mux := newTestMux(jobService)

	var created SubmitJobResponse
	require.Equal(t, http.StatusCreated, doJSON(t, mux, http.MethodPost, "/api/jobs", validRequest(), &created))

	var resp GetJobResponse
	require.Equal(t, http.StatusOK, doJSON(t, mux, http.MethodPost, "/api/jobs/"+created.JobID+"/cancel", nil, &resp))
	require.Equal(t, "CANCELLED", resp.Status)

	jobService.jobs[0].Status = core.JobStatusCompleted
	require.Equal(t, http.StatusBadRequest, doJSON(t, mux, http.MethodPost, "/api/jobs/"+created.JobID+"/cancel", nil, nil))
	require.Equal(t, http.StatusNotFound, doJSON(t, mux, http.MethodPost, "/api/jobs/"+uuid.NewString()+"/cancel", nil, nil))
}

func TestMethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodDelete, "/api/jobs", nil)
	w := httptest.NewRecorder()
	newTestMux(newMockJobService()).ServeHTTP(w, req)

	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
