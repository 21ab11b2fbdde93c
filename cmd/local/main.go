package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	coordcore "github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	"github.com/nemanja-m/mrfs/pkg/jobs"
	"github.com/nemanja-m/mrfs/pkg/local"

	_ "github.com/nemanja-m/mrfs/examples/grep"
	_ "github.com/nemanja-m/mrfs/examples/wordcount"
)

func main() {
	var (
		input       = flag.String("input", "", "comma-separated input files or glob patterns")
		output      = flag.String("output", "", "output directory")
		jobName     = flag.String("job", "", "job to run (e.g., wordcount, grep)")
		reducers    = flag.Int("reducers", 4, "number of reduce tasks")
		partitions  = flag.Int("partitions", 0, "number of map tasks, 0 for one per block")
		nodes       = flag.Int("nodes", 3, "number of storage nodes")
		workers     = flag.Int("workers", 2, "number of workers")
		slots       = flag.Int("slots", 2, "task slots per worker")
		replication = flag.Int("replication", 2, "block replication factor")
		blockSize   = flag.Int64("block-size", 1024*1024, "block size in bytes")
		spanRecords = flag.Bool("span-records", true, "let records cross block boundaries")
		combine     = flag.Bool("combine", false, "apply the job combiner to map output")
		dataDir     = flag.String("data-dir", "", "directory for block data, defaults to a temporary directory")
		logLevel    = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logger := logging.New(config.LoggingConfig{Level: *logLevel, Format: "text"})

	if *input == "" {
		logger.Fatal("Input pattern must be specified using the -input flag")
	}
	if *output == "" {
		logger.Fatal("Output directory must be specified using the -output flag")
	}
	if *reducers <= 0 {
		logger.Fatal("Number of reducers must be positive", "reducers", *reducers)
	}
	if _, err := jobs.Get(*jobName); err != nil {
		logger.Fatal("Unknown job", "job", *jobName, "available", jobs.List())
	}

	dir := *dataDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "mrfs-local-*")
		if err != nil {
			logger.Fatal("Failed to create data directory", "error", err)
		}
		dir = tmp
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	job, err := run(ctx, logger, local.ClusterConfig{
		DataDir:      dir,
		StorageNodes: *nodes,
		Workers:      *workers,
		Slots:        *slots,
		Replication:  *replication,
		BlockSize:    *blockSize,
	}, local.EngineConfig{
		Job:           *jobName,
		Input:         strings.Split(*input, ","),
		Output:        *output,
		NumPartitions: *partitions,
		NumReducers:   *reducers,
		SpanRecords:   *spanRecords,
		UseCombiner:   *combine,
	})
	stop()
	if *dataDir == "" {
		os.RemoveAll(dir)
	}
	if err != nil {
		logger.Fatal("Job failed", "error", err)
	}

	logger.Info("Job completed successfully",
		"job_id", job.ID.String(),
		"duration", job.Duration().String(),
		"map_tasks", job.Progress.Map.Total,
		"reduce_tasks", job.Progress.Reduce.Total,
	)
}

func run(ctx context.Context, logger logging.Logger, clusterCfg local.ClusterConfig, engineCfg local.EngineConfig) (*coordcore.Job, error) {
	cluster, err := local.NewCluster(ctx, clusterCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start local cluster: %w", err)
	}
	defer func() {
		if err := cluster.Close(); err != nil {
			logger.Warn("Local cluster stopped with error", "error", err)
		}
	}()

	logger.Info("Starting job", "job", engineCfg.Job, "input", engineCfg.Input, "output", engineCfg.Output, "reducers", engineCfg.NumReducers)
	return local.NewEngine(cluster, engineCfg, logger).Run(ctx)
}
