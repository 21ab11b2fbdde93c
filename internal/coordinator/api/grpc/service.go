package grpc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	"github.com/nemanja-m/mrfs/internal/shared/rpc"
)

const (
	ServiceName = "mrfs.coordinator.JobService"

	DefaultHeartbeatInterval = 15 * time.Second
)

type SubmitJobRequest struct {
	Name   string            `json:"name"`
	Input  core.InputConfig  `json:"input"`
	Output core.OutputConfig `json:"output"`
	Config core.JobConfig    `json:"config"`
}

type JobRequest struct {
	JobID uuid.UUID `json:"job_id"`
}

type ListJobsRequest struct {
	Status *core.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type ListJobsResponse struct {
	Jobs  []*core.Job `json:"jobs"`
	Total int         `json:"total"`
}

type TasksResponse struct {
	Tasks []*core.Task `json:"tasks"`
}

type RegisterWorkerRequest struct {
	WorkerID uuid.UUID `json:"worker_id"`
	Address  string    `json:"address"`
	Slots    int       `json:"slots"`
}

type RegisterWorkerResponse struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
}

type HeartbeatRequest struct {
	WorkerID uuid.UUID `json:"worker_id"`
}

type HeartbeatResponse struct {
	// Reregister asks a worker the coordinator no longer knows to register
	// again.
	Reregister bool `json:"reregister"`
}

// JobCoordinator is the set of calls served under ServiceName.
type JobCoordinator interface {
	SubmitJob(ctx context.Context, req *SubmitJobRequest) (*core.Job, error)
	GetJobStatus(ctx context.Context, req *JobRequest) (*core.Job, error)
	ListJobs(ctx context.Context, req *ListJobsRequest) (*ListJobsResponse, error)
	CancelJob(ctx context.Context, req *JobRequest) (*rpc.Empty, error)
	GetTasks(ctx context.Context, req *JobRequest) (*TasksResponse, error)
	ReportTaskResult(ctx context.Context, req *core.TaskReport) (*rpc.Empty, error)
	RegisterWorker(ctx context.Context, req *RegisterWorkerRequest) (*RegisterWorkerResponse, error)
	Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*JobCoordinator)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(ServiceName, "SubmitJob", JobCoordinator.SubmitJob),
		rpc.Unary(ServiceName, "GetJobStatus", JobCoordinator.GetJobStatus),
		rpc.Unary(ServiceName, "ListJobs", JobCoordinator.ListJobs),
		rpc.Unary(ServiceName, "CancelJob", JobCoordinator.CancelJob),
		rpc.Unary(ServiceName, "GetTasks", JobCoordinator.GetTasks),
		rpc.Unary(ServiceName, "ReportTaskResult", JobCoordinator.ReportTaskResult),
		rpc.Unary(ServiceName, "RegisterWorker", JobCoordinator.RegisterWorker),
		rpc.Unary(ServiceName, "Heartbeat", JobCoordinator.Heartbeat),
	},
}

type CoordinatorService struct {
	jobService        core.JobService
	workerService     core.WorkerService
	heartbeatInterval time.Duration
	logger            logging.Logger
}

func NewCoordinatorService(
	heartbeatInterval time.Duration,
	workerService core.WorkerService,
	jobService core.JobService,
	logger logging.Logger,
) *CoordinatorService {
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	return &CoordinatorService{
		jobService:        jobService,
		workerService:     workerService,
		heartbeatInterval: heartbeatInterval,
		logger:            logger,
	}
}

func (s *CoordinatorService) SubmitJob(ctx context.Context, req *SubmitJobRequest) (*core.Job, error) {
	job := &core.Job{
		ID:          uuid.New(),
		Name:        req.Name,
		Input:       req.Input,
		Output:      req.Output,
		Config:      req.Config,
		Owner:       rpc.IdentityFrom(ctx),
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.jobService.SubmitJob(ctx, job); err != nil {
		return nil, err
	}
	return s.jobService.GetJob(job.ID)
}

func (s *CoordinatorService) GetJobStatus(ctx context.Context, req *JobRequest) (*core.Job, error) {
	return s.jobService.GetJob(req.JobID)
}

func (s *CoordinatorService) ListJobs(ctx context.Context, req *ListJobsRequest) (*ListJobsResponse, error) {
	jobs, total, err := s.jobService.GetJobs(core.JobFilter{Status: req.Status, Limit: req.Limit, Offset: req.Offset})
	if err != nil {
		return nil, err
	}
	return &ListJobsResponse{Jobs: jobs, Total: total}, nil
}

func (s *CoordinatorService) CancelJob(ctx context.Context, req *JobRequest) (*rpc.Empty, error) {
	if err := s.jobService.CancelJob(ctx, req.JobID); err != nil {
		return nil, err
	}
	return &rpc.Empty{}, nil
}

func (s *CoordinatorService) GetTasks(ctx context.Context, req *JobRequest) (*TasksResponse, error) {
	if _, err := s.jobService.GetJob(req.JobID); err != nil {
		return nil, err
	}
	tasks, err := s.jobService.GetTasks(req.JobID)
	if err != nil {
		return nil, err
	}
	return &TasksResponse{Tasks: tasks}, nil
}

func (s *CoordinatorService) ReportTaskResult(ctx context.Context, req *core.TaskReport) (*rpc.Empty, error) {
	if err := s.jobService.ReportTaskResult(ctx, *req); err != nil {
		return nil, err
	}
	return &rpc.Empty{}, nil
}

func (s *CoordinatorService) RegisterWorker(ctx context.Context, req *RegisterWorkerRequest) (*RegisterWorkerResponse, error) {
	if req.WorkerID == uuid.Nil || req.Address == "" {
		return nil, errs.New(errs.InvalidArgument, "register worker", "worker id and address are required")
	}
	worker := &core.Worker{
		ID:      req.WorkerID,
		Address: req.Address,
		Slots:   req.Slots,
	}

	s.logger.Debug("Received worker registration", "worker_id", worker.ID.String(), "address", worker.Address)

	if err := s.workerService.RegisterWorker(worker); err != nil {
		s.logger.Error("Failed to register worker", "worker_id", worker.ID.String(), "error", err)
		return nil, err
	}

	// A worker that registers again lost whatever it was running.
	if err := s.jobService.RequeueWorkerTasks(worker.ID); err != nil {
		s.logger.Error("Failed to requeue worker tasks", "worker_id", worker.ID.String(), "error", err)
	}

	s.logger.Info("Worker registered successfully", "worker_id", worker.ID.String(), "slots", worker.Slots)
	return &RegisterWorkerResponse{HeartbeatInterval: s.heartbeatInterval}, nil
}

func (s *CoordinatorService) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	err := s.workerService.RecordHeartbeat(req.WorkerID)
	if errs.Is(err, errs.NotFound) {
		s.logger.Warn("Heartbeat from unknown worker", "worker_id", req.WorkerID.String())
		return &HeartbeatResponse{Reregister: true}, nil
	}
	if err != nil {
		s.logger.Error("Failed to record heartbeat", "worker_id", req.WorkerID.String(), "error", err)
		return nil, err
	}

	s.logger.Debug("Heartbeat received", "worker_id", req.WorkerID.String())
	return &HeartbeatResponse{}, nil
}
