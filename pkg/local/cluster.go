package local

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	coordcore "github.com/nemanja-m/mrfs/internal/coordinator/core"
	coordservice "github.com/nemanja-m/mrfs/internal/coordinator/service"
	coordstorage "github.com/nemanja-m/mrfs/internal/coordinator/storage"
	metaservice "github.com/nemanja-m/mrfs/internal/metadata/service"
	metastorage "github.com/nemanja-m/mrfs/internal/metadata/storage"
	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	storagecore "github.com/nemanja-m/mrfs/internal/storage/core"
	"github.com/nemanja-m/mrfs/internal/storage/disk"
	storageservice "github.com/nemanja-m/mrfs/internal/storage/service"
	workercore "github.com/nemanja-m/mrfs/internal/worker/core"
	workerservice "github.com/nemanja-m/mrfs/internal/worker/service"
	"github.com/nemanja-m/mrfs/pkg/dfs"
)

type ClusterConfig struct {
	// DataDir holds one block directory per storage node.
	DataDir      string
	StorageNodes int
	Workers      int
	Slots        int
	Replication  int
	BlockSize    int64

	MaxAttempts int
	TaskTimeout time.Duration

	HeartbeatInterval time.Duration
	ScheduleInterval  time.Duration
	// RepairInterval runs repair rounds in the background. Zero leaves repair
	// to explicit RunRepair calls.
	RepairInterval time.Duration
	Forward        config.ForwardConfig
}

func (c *ClusterConfig) applyDefaults() {
	if c.StorageNodes <= 0 {
		c.StorageNodes = 3
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Slots <= 0 {
		c.Slots = 2
	}
	if c.Replication <= 0 {
		c.Replication = min(3, c.StorageNodes)
	}
	if c.BlockSize <= 0 {
		c.BlockSize = 1024 * 1024
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 200 * time.Millisecond
	}
	if c.ScheduleInterval <= 0 {
		c.ScheduleInterval = 50 * time.Millisecond
	}
	if c.Forward.InitialInterval <= 0 {
		c.Forward.InitialInterval = 20 * time.Millisecond
	}
	if c.Forward.MaxElapsedTime <= 0 {
		c.Forward.MaxElapsedTime = time.Second
	}
}

// Cluster runs a metadata coordinator, storage nodes, a job coordinator and
// workers in one process, connected through a Network.
type Cluster struct {
	cfg     ClusterConfig
	network *Network
	logger  logging.Logger

	meta     *metaservice.Coordinator
	repairer *metaservice.Repairer
	nodes    []*storageservice.Node
	fs       *dfs.FileSystem

	workerService coordcore.WorkerService
	jobService    coordcore.JobService
	workers       []workercore.WorkerService
	workerAddrs   []string

	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewCluster(ctx context.Context, cfg ClusterConfig, logger logging.Logger) (*Cluster, error) {
	if cfg.DataDir == "" {
		return nil, errs.New(errs.InvalidArgument, "new cluster", "data directory is required")
	}
	cfg.applyDefaults()

	c := &Cluster{cfg: cfg, network: NewNetwork(), logger: logger}

	meta, err := metaservice.NewCoordinator(
		metaservice.Config{DefaultReplication: cfg.Replication, DefaultBlockSize: cfg.BlockSize},
		metastorage.NewInMemoryNamespaceStore(),
		c.network.Blocks(),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start metadata coordinator: %w", err)
	}
	c.meta = meta
	c.repairer = metaservice.NewRepairer(cfg.RepairInterval, meta, logger)

	for i := 1; i <= cfg.StorageNodes; i++ {
		node, err := c.startNode(ctx, i)
		if err != nil {
			c.closeNodes()
			return nil, err
		}
		c.nodes = append(c.nodes, node)
	}

	c.fs = dfs.New(meta, c.network.Blocks(), dfs.Config{
		BlockSize:   cfg.BlockSize,
		Replication: cfg.Replication,
		Retry:       config.RetryConfig{InitialInterval: 10 * time.Millisecond, MaxRetries: 3},
	}, logger)

	c.workerService = coordservice.NewWorkerService(coordstorage.NewInMemoryWorkerStore(), logger)
	c.jobService, err = coordservice.NewJobService(
		coordservice.JobConfig{MaxAttempts: cfg.MaxAttempts, TaskTimeout: cfg.TaskTimeout},
		coordstorage.NewInMemoryJobStore(),
		c.workerService,
		c.network.Workers(),
		c.fs,
		logger,
	)
	if err != nil {
		c.closeNodes()
		return nil, fmt.Errorf("failed to start job coordinator: %w", err)
	}

	executor := workerservice.NewMapReduceExecutor(workerservice.NewDFSFileStore(c.fs), logger)
	for i := 1; i <= cfg.Workers; i++ {
		addr := fmt.Sprintf("worker-%d", i)
		id := uuid.New()
		worker := workerservice.NewWorkerService(
			workerservice.Config{ID: id, Address: addr, Slots: cfg.Slots},
			&coordinatorLink{workerID: id, workerService: c.workerService, jobService: c.jobService, interval: cfg.HeartbeatInterval},
			executor,
			logger,
		)
		c.network.AddWorker(addr, worker)
		c.workers = append(c.workers, worker)
		c.workerAddrs = append(c.workerAddrs, addr)
	}

	c.start(ctx)
	if err := c.awaitWorkers(ctx); err != nil {
		c.Close()
		return nil, err
	}

	logger.Info("Local cluster started", "storage_nodes", cfg.StorageNodes, "workers", cfg.Workers, "replication", cfg.Replication)
	return c, nil
}

func (c *Cluster) startNode(ctx context.Context, i int) (*storageservice.Node, error) {
	id := fmt.Sprintf("node-%d", i)
	store, err := disk.NewStore(filepath.Join(c.cfg.DataDir, id))
	if err != nil {
		return nil, fmt.Errorf("failed to open block store for %s: %w", id, err)
	}

	node := storageservice.NewNode(
		storageservice.NodeConfig{ID: storagecore.NodeID(id), Addr: id, HeartbeatInterval: c.cfg.HeartbeatInterval, Forward: c.cfg.Forward},
		store,
		c.network.Blocks(),
		c.meta,
		c.logger,
	)
	c.network.AddNode(id, node)

	if err := node.Register(ctx, c.meta); err != nil {
		node.Close()
		return nil, fmt.Errorf("failed to register %s: %w", id, err)
	}
	return node, nil
}

func (c *Cluster) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	c.cancel = cancel
	c.group = g

	for _, node := range c.nodes {
		g.Go(func() error { return node.Run(gctx, c.meta) })
	}
	for _, worker := range c.workers {
		g.Go(func() error { return worker.Run(gctx) })
	}

	scheduler := coordservice.NewScheduler(c.cfg.ScheduleInterval, c.jobService, c.logger)
	health := coordservice.NewWorkerHealthChecker(c.cfg.HeartbeatInterval, 5*c.cfg.HeartbeatInterval, c.workerService, c.jobService, c.logger)
	g.Go(func() error {
		scheduler.Start(gctx)
		return nil
	})
	g.Go(func() error {
		health.Start(gctx)
		return nil
	})
	if c.cfg.RepairInterval > 0 {
		g.Go(func() error {
			c.repairer.Start(gctx)
			return nil
		})
	}
}

func (c *Cluster) awaitWorkers(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.After(5 * time.Second)

	for {
		workers, err := c.workerService.ListWorkers()
		if err == nil && len(workers) == len(c.workers) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return errs.New(errs.Timeout, "start cluster", "workers did not register")
		case <-ticker.C:
		}
	}
}

func (c *Cluster) FileSystem() *dfs.FileSystem {
	return c.fs
}

func (c *Cluster) Network() *Network {
	return c.network
}

func (c *Cluster) Jobs() coordcore.JobService {
	return c.jobService
}

// Metadata exposes the metadata coordinator for inspection.
func (c *Cluster) Metadata() *metaservice.Coordinator {
	return c.meta
}

// NodeAddr returns the address of the i-th storage node, counting from 0.
func (c *Cluster) NodeAddr(i int) string {
	return c.nodes[i].Target().Addr
}

// WorkerAddr returns the address of the i-th worker, counting from 0.
func (c *Cluster) WorkerAddr(i int) string {
	return c.workerAddrs[i]
}

// WaitReplication blocks until storage nodes finished forwarding replicas.
func (c *Cluster) WaitReplication() {
	for _, node := range c.nodes {
		node.Wait()
	}
}

// RunRepair checks node liveness and runs one repair round. It returns the
// number of replicas created.
func (c *Cluster) RunRepair(ctx context.Context) int {
	return c.repairer.RunOnce(ctx)
}

func (c *Cluster) Submit(ctx context.Context, job *coordcore.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	return c.jobService.SubmitJob(ctx, job)
}

// WaitJob polls until the job reaches a terminal status.
func (c *Cluster) WaitJob(ctx context.Context, id uuid.UUID) (*coordcore.Job, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		job, err := c.jobService.GetJob(id)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, errs.Wrap(errs.Timeout, "wait job", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close stops every component and waits for background work to finish.
func (c *Cluster) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	var err error
	if c.group != nil {
		if waitErr := c.group.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) {
			err = waitErr
		}
	}
	c.closeNodes()
	return err
}

func (c *Cluster) closeNodes() {
	for _, node := range c.nodes {
		node.Close()
	}
}

// coordinatorLink connects a worker runtime to the in-process job
// coordinator the way the gRPC service does.
type coordinatorLink struct {
	workerID      uuid.UUID
	workerService coordcore.WorkerService
	jobService    coordcore.JobService
	interval      time.Duration
}

func (l *coordinatorLink) RegisterWorker(ctx context.Context, addr string, slots int) (time.Duration, error) {
	worker := &coordcore.Worker{ID: l.workerID, Address: addr, Slots: slots}
	if err := l.workerService.RegisterWorker(worker); err != nil {
		return 0, err
	}
	if err := l.jobService.RequeueWorkerTasks(l.workerID); err != nil {
		return 0, err
	}
	return l.interval, nil
}

func (l *coordinatorLink) SendHeartbeat(ctx context.Context) error {
	return l.workerService.RecordHeartbeat(l.workerID)
}

func (l *coordinatorLink) ReportTaskResult(ctx context.Context, report coordcore.TaskReport) error {
	return l.jobService.ReportTaskResult(ctx, report)
}

func (l *coordinatorLink) Close() error {
	return nil
}
