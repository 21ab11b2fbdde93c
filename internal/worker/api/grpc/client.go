package grpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	coordgrpc "github.com/nemanja-m/mrfs/internal/coordinator/api/grpc"
	coordcore "github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/internal/shared/rpc"
)

// CoordinatorClient is a worker's connection to the job coordinator.
type CoordinatorClient struct {
	client   *coordgrpc.Client
	workerID uuid.UUID
}

func NewCoordinatorClient(cfg config.ConnConfig, workerID uuid.UUID, opts ...grpc.DialOption) (*CoordinatorClient, error) {
	client, err := coordgrpc.NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &CoordinatorClient{client: client, workerID: workerID}, nil
}

func (c *CoordinatorClient) RegisterWorker(ctx context.Context, addr string, slots int) (time.Duration, error) {
	resp, err := c.client.RegisterWorker(ctx, coordgrpc.RegisterWorkerRequest{
		WorkerID: c.workerID,
		Address:  addr,
		Slots:    slots,
	})
	if err != nil {
		return 0, err
	}
	return resp.HeartbeatInterval, nil
}

func (c *CoordinatorClient) SendHeartbeat(ctx context.Context) error {
	resp, err := c.client.Heartbeat(ctx, c.workerID)
	if err != nil {
		return err
	}
	if resp.Reregister {
		return errs.New(errs.NotFound, "heartbeat", "coordinator does not know worker %s", c.workerID)
	}
	return nil
}

func (c *CoordinatorClient) ReportTaskResult(ctx context.Context, report coordcore.TaskReport) error {
	report.WorkerID = c.workerID
	return c.client.ReportTaskResult(ctx, report)
}

func (c *CoordinatorClient) Close() error {
	return c.client.Close()
}

// Client is the coordinator's connection to one worker.
type Client struct {
	conn *grpc.ClientConn
}

func NewClient(cfg config.ConnConfig, opts ...grpc.DialOption) (*Client, error) {
	conn, err := rpc.Dial(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to worker %s: %w", cfg.Addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) AssignTask(ctx context.Context, assignment coordcore.TaskAssignment) error {
	_, err := rpc.Invoke[rpc.Empty](ctx, c.conn, ServiceName, "AssignTask", &assignment)
	return err
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Dialer hands out one cached Client per worker address.
type Dialer struct {
	cfg  config.ConnConfig
	opts []grpc.DialOption

	mu      sync.Mutex
	clients map[string]*Client
}

// NewDialer uses cfg for every connection, with Addr taken from the worker.
func NewDialer(cfg config.ConnConfig, opts ...grpc.DialOption) *Dialer {
	return &Dialer{
		cfg:     cfg,
		opts:    opts,
		clients: make(map[string]*Client),
	}
}

func (d *Dialer) Dial(addr string) (coordcore.WorkerClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if client, ok := d.clients[addr]; ok {
		return client, nil
	}

	cfg := d.cfg
	cfg.Addr = addr
	client, err := NewClient(cfg, d.opts...)
	if err != nil {
		return nil, errs.Wrap(errs.Unreachable, "dial worker", err)
	}
	d.clients[addr] = client
	return client, nil
}

func (d *Dialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for addr, client := range d.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.clients, addr)
	}
	return firstErr
}
