package grpc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/rpc"
)

// Client calls the job coordinator. It serves both job submitters and
// workers.
type Client struct {
	conn *grpc.ClientConn
}

func NewClient(cfg config.ConnConfig, opts ...grpc.DialOption) (*Client, error) {
	conn, err := rpc.Dial(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coordinator: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) SubmitJob(ctx context.Context, req SubmitJobRequest) (*core.Job, error) {
	return rpc.Invoke[core.Job](ctx, c.conn, ServiceName, "SubmitJob", &req)
}

func (c *Client) GetJobStatus(ctx context.Context, jobID uuid.UUID) (*core.Job, error) {
	return rpc.Invoke[core.Job](ctx, c.conn, ServiceName, "GetJobStatus", &JobRequest{JobID: jobID})
}

func (c *Client) ListJobs(ctx context.Context, req ListJobsRequest) (*ListJobsResponse, error) {
	return rpc.Invoke[ListJobsResponse](ctx, c.conn, ServiceName, "ListJobs", &req)
}

func (c *Client) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	_, err := rpc.Invoke[rpc.Empty](ctx, c.conn, ServiceName, "CancelJob", &JobRequest{JobID: jobID})
	return err
}

func (c *Client) GetTasks(ctx context.Context, jobID uuid.UUID) ([]*core.Task, error) {
	resp, err := rpc.Invoke[TasksResponse](ctx, c.conn, ServiceName, "GetTasks", &JobRequest{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *Client) ReportTaskResult(ctx context.Context, report core.TaskReport) error {
	_, err := rpc.Invoke[rpc.Empty](ctx, c.conn, ServiceName, "ReportTaskResult", &report)
	return err
}

func (c *Client) RegisterWorker(ctx context.Context, req RegisterWorkerRequest) (*RegisterWorkerResponse, error) {
	return rpc.Invoke[RegisterWorkerResponse](ctx, c.conn, ServiceName, "RegisterWorker", &req)
}

func (c *Client) Heartbeat(ctx context.Context, workerID uuid.UUID) (*HeartbeatResponse, error) {
	return rpc.Invoke[HeartbeatResponse](ctx, c.conn, ServiceName, "Heartbeat", &HeartbeatRequest{WorkerID: workerID})
}
