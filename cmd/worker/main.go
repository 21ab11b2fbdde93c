package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	metagrpc "github.com/nemanja-m/mrfs/internal/metadata/api/grpc"
	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	"github.com/nemanja-m/mrfs/internal/shared/rpc"
	storagegrpc "github.com/nemanja-m/mrfs/internal/storage/api/grpc"
	"github.com/nemanja-m/mrfs/internal/worker/api/grpc"
	"github.com/nemanja-m/mrfs/internal/worker/service"
	"github.com/nemanja-m/mrfs/pkg/dfs"

	_ "github.com/nemanja-m/mrfs/examples/grep"
	_ "github.com/nemanja-m/mrfs/examples/wordcount"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.LoadWorker(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	workerID := uuid.New()

	client, err := grpc.NewCoordinatorClient(cfg.Coordinator, workerID)
	if err != nil {
		logger.Fatal("Failed to create coordinator client", "error", err)
	}
	defer client.Close()

	meta, err := metagrpc.NewClient(cfg.Metadata)
	if err != nil {
		logger.Fatal("Failed to create metadata client", "error", err)
	}
	defer meta.Close()

	blocks := storagegrpc.NewDialer(cfg.Metadata)
	defer blocks.Close()

	fs := dfs.New(meta, blocks, dfs.ConfigFrom(cfg.Output), logger)
	executor := service.NewMapReduceExecutor(service.NewDFSFileStore(fs), logger)

	workerService := service.NewWorkerService(
		service.Config{ID: workerID, Address: cfg.Server.AdvertiseAddr, Slots: cfg.Slots},
		client,
		executor,
		logger,
	)

	server := grpc.NewServer(cfg.Server.GRPC(), rpc.NewAllowList(cfg.Auth.AllowedIdentities), workerService, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("gRPC server error", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- workerService.Run(ctx) }()

	logger.Info("Worker started",
		"worker_id", workerID.String(),
		"addr", cfg.Server.Addr,
		"advertise_addr", cfg.Server.AdvertiseAddr,
		"slots", cfg.Slots,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-done:
		if err != nil {
			logger.Error("Worker stopped", "error", err)
		}
	}

	logger.Info("Shutting down worker", "worker_id", workerID.String())
	cancel()
	server.Stop()
}
