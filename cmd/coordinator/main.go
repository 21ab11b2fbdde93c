package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	coordgrpc "github.com/nemanja-m/mrfs/internal/coordinator/api/grpc"
	"github.com/nemanja-m/mrfs/internal/coordinator/api/rest"
	"github.com/nemanja-m/mrfs/internal/coordinator/service"
	"github.com/nemanja-m/mrfs/internal/coordinator/storage"
	metagrpc "github.com/nemanja-m/mrfs/internal/metadata/api/grpc"
	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	"github.com/nemanja-m/mrfs/internal/shared/rpc"
	storagegrpc "github.com/nemanja-m/mrfs/internal/storage/api/grpc"
	workergrpc "github.com/nemanja-m/mrfs/internal/worker/api/grpc"
	"github.com/nemanja-m/mrfs/pkg/dfs"

	_ "github.com/nemanja-m/mrfs/examples/grep"
	_ "github.com/nemanja-m/mrfs/examples/wordcount"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.LoadCoordinator(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	meta, err := metagrpc.NewClient(cfg.Metadata)
	if err != nil {
		logger.Fatal("Failed to create metadata client", "error", err)
	}
	defer meta.Close()

	blocks := storagegrpc.NewDialer(cfg.Metadata)
	defer blocks.Close()

	fs := dfs.New(meta, blocks, dfs.Config{
		Replication: cfg.Jobs.IntermediateReplication,
		Retry:       config.RetryConfig{InitialInterval: 100 * time.Millisecond, MaxRetries: 5},
	}, logger)

	jobStore, err := storage.NewFileJobStore(cfg.Jobs.StatePath)
	if err != nil {
		logger.Fatal("Failed to open job store", "path", cfg.Jobs.StatePath, "error", err)
	}

	workers := workergrpc.NewDialer(cfg.Workers)
	defer workers.Close()

	workerService := service.NewWorkerService(storage.NewInMemoryWorkerStore(), logger)
	jobService, err := service.NewJobService(
		service.JobConfigFrom(cfg.Jobs),
		jobStore,
		workerService,
		workers,
		fs,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to restore jobs", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := service.NewScheduler(cfg.Jobs.ScheduleInterval, jobService, logger)
	go scheduler.Start(ctx)

	healthChecker := service.NewWorkerHealthChecker(
		cfg.Health.CheckInterval,
		cfg.Health.StaleTimeout,
		workerService,
		jobService,
		logger,
	)
	go healthChecker.Start(ctx)

	grpcServer := coordgrpc.NewServer(
		cfg.GRPC,
		rpc.NewAllowList(cfg.Auth.AllowedIdentities),
		workerService,
		jobService,
		logger,
	)
	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server error", "error", err)
		}
	}()

	restServer := rest.NewServer(cfg.REST, jobService, logger)
	go func() {
		logger.Info("Starting REST API server", "addr", cfg.REST.Addr)
		if err := restServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("REST server error", "error", err)
		}
	}()

	logger.Info("Job coordinator started",
		"rest_addr", cfg.REST.Addr,
		"grpc_addr", cfg.GRPC.Addr,
		"max_attempts", cfg.Jobs.MaxAttempts,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down job coordinator")
	cancel()

	// Give in-flight requests 30 seconds to finish
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := restServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("REST server forced to shutdown", "error", err)
	}
	grpcServer.Stop()

	logger.Info("Job coordinator stopped")
}
