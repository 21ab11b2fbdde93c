package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	metagrpc "github.com/nemanja-m/mrfs/internal/metadata/api/grpc"
	"github.com/nemanja-m/mrfs/internal/metadata/service"
	"github.com/nemanja-m/mrfs/internal/metadata/storage"
	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	"github.com/nemanja-m/mrfs/internal/shared/rpc"
	storagegrpc "github.com/nemanja-m/mrfs/internal/storage/api/grpc"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.LoadMetadata(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	dialer := storagegrpc.NewDialer(cfg.Storage)
	defer dialer.Close()

	coordinator, err := service.NewCoordinator(
		service.Config{
			DefaultReplication: cfg.Namespace.DefaultReplication,
			DefaultBlockSize:   cfg.Namespace.DefaultBlockSize,
			NodeStaleTimeout:   cfg.Repair.NodeStaleTimeout,
		},
		storage.NewFileNamespaceStore(cfg.Namespace.SnapshotPath),
		dialer,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to restore namespace", "path", cfg.Namespace.SnapshotPath, "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repairer := service.NewRepairer(cfg.Repair.Interval, coordinator, logger)
	go repairer.Start(ctx)

	server := metagrpc.NewServer(cfg.GRPC, rpc.NewAllowList(cfg.Auth.AllowedIdentities), coordinator, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("gRPC server error", "error", err)
		}
	}()

	logger.Info("Metadata coordinator started",
		"addr", cfg.GRPC.Addr,
		"replication", cfg.Namespace.DefaultReplication,
		"block_size", cfg.Namespace.DefaultBlockSize,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down metadata coordinator")
	cancel()
	server.Stop()
	logger.Info("Metadata coordinator stopped")
}
