package grpc

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/coordinator/service"
	"github.com/nemanja-m/mrfs/internal/coordinator/storage"
	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	"github.com/nemanja-m/mrfs/internal/shared/rpc"
)

// fakeJobService keeps submitted jobs in memory without planning tasks.
type fakeJobService struct {
	core.JobService

	mu       sync.Mutex
	jobs     map[uuid.UUID]*core.Job
	reports  []core.TaskReport
	requeued []uuid.UUID
}

func newFakeJobService() *fakeJobService {
	return &fakeJobService{jobs: make(map[uuid.UUID]*core.Job)}
}

func (f *fakeJobService) SubmitJob(ctx context.Context, job *core.Job) error {
	if job.Name == "" {
		return errs.New(errs.InvalidArgument, "submit job", "job name is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job.Status = core.JobStatusRunning
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobService) GetJob(id uuid.UUID) (*core.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "get job", "job %s not found", id)
	}
	return job, nil
}

func (f *fakeJobService) GetJobs(filter core.JobFilter) ([]*core.Job, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var jobs []*core.Job
	for _, job := range f.jobs {
		if filter.Status == nil || job.Status == *filter.Status {
			jobs = append(jobs, job)
		}
	}
	return jobs, len(jobs), nil
}

func (f *fakeJobService) GetTasks(jobID uuid.UUID) ([]*core.Task, error) {
	return []*core.Task{{ID: uuid.New(), JobID: jobID, Type: core.TaskTypeMap, Status: core.TaskStatusPending}}, nil
}

func (f *fakeJobService) CancelJob(ctx context.Context, id uuid.UUID) error {
	job, err := f.GetJob(id)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job.Status = core.JobStatusCancelled
	return nil
}

func (f *fakeJobService) ReportTaskResult(ctx context.Context, report core.TaskReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
	return nil
}

func (f *fakeJobService) RequeueWorkerTasks(workerID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, workerID)
	return nil
}

func startServer(t *testing.T, jobService core.JobService) (*Client, core.WorkerService) {
	t.Helper()

	workerService := service.NewWorkerService(storage.NewInMemoryWorkerStore(), logging.NewNopLogger())

	lis := bufconn.Listen(1 << 20)
	server := NewServer(
		config.GRPCConfig{Addr: "bufnet", HeartbeatInterval: 2 * time.Second},
		rpc.NewAllowList(nil),
		workerService,
		jobService,
		logging.NewNopLogger(),
	)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	client, err := NewClient(
		config.ConnConfig{Addr: "passthrough:///bufnet", Identity: "alice"},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, workerService
}

func TestClient_SubmitAndQueryJob(t *testing.T) {
	jobService := newFakeJobService()
	client, _ := startServer(t, jobService)
	ctx := context.Background()

	job, err := client.SubmitJob(ctx, SubmitJobRequest{
		Name:   "wordcount",
		Input:  core.InputConfig{Paths: []string{"/in"}},
		Output: core.OutputConfig{Path: "/out"},
		Config: core.JobConfig{NumReducers: 2},
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, job.ID)
	require.Equal(t, "alice", job.Owner)
	require.Equal(t, core.JobStatusRunning, job.Status)
	require.Equal(t, 2, job.Config.NumReducers)

	status, err := client.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, status.ID)

	running := core.JobStatusRunning
	list, err := client.ListJobs(ctx, ListJobsRequest{Status: &running, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, list.Total)

	tasks, err := client.GetTasks(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	require.NoError(t, client.CancelJob(ctx, job.ID))
	status, err = client.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, core.JobStatusCancelled, status.Status)
}

func TestClient_ErrorKinds(t *testing.T) {
	client, _ := startServer(t, newFakeJobService())
	ctx := context.Background()

	_, err := client.SubmitJob(ctx, SubmitJobRequest{})
	require.True(t, errs.Is(err, errs.InvalidArgument))

	_, err = client.GetJobStatus(ctx, uuid.New())
	require.True(t, errs.Is(err, errs.NotFound))

	_, err = client.GetTasks(ctx, uuid.New())
	require.True(t, errs.Is(err, errs.NotFound))

	err = client.CancelJob(ctx, uuid.New())
	require.True(t, errs.Is(err, errs.NotFound))
}

func TestClient_WorkerLifecycle(t *testing.T) {
	jobService := newFakeJobService()
	client, workerService := startServer(t, jobService)
	ctx := context.Background()
	workerID := uuid.New()

	resp, err := client.Heartbeat(ctx, workerID)
	require.NoError(t, err)
	require.True(t, resp.Reregister)

	reg, err := client.RegisterWorker(ctx, RegisterWorkerRequest{WorkerID: workerID, Address: "w1:50051", Slots: 3})
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, reg.HeartbeatInterval)
	require.Equal(t, []uuid.UUID{workerID}, jobService.requeued)

	workers, err := workerService.ListWorkers()
	require.NoError(t, err)
	require.Len(t, workers, 1)
	require.Equal(t, 3, workers[0].Slots)

	resp, err = client.Heartbeat(ctx, workerID)
	require.NoError(t, err)
	require.False(t, resp.Reregister)

	_, err = client.RegisterWorker(ctx, RegisterWorkerRequest{Address: "w1:50051"})
	require.True(t, errs.Is(err, errs.InvalidArgument))

	report := core.TaskReport{
		TaskID:   uuid.New(),
		WorkerID: workerID,
		Attempt:  2,
		Status:   core.TaskStatusFailed,
		Kind:     errs.Unreadable,
		Error:    "no replica",
	}
	require.NoError(t, client.ReportTaskResult(ctx, report))
	require.Equal(t, []core.TaskReport{report}, jobService.reports)
}
