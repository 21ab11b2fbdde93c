package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	metagrpc "github.com/nemanja-m/mrfs/internal/metadata/api/grpc"
	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	"github.com/nemanja-m/mrfs/internal/shared/rpc"
	storagegrpc "github.com/nemanja-m/mrfs/internal/storage/api/grpc"
	"github.com/nemanja-m/mrfs/internal/storage/core"
	"github.com/nemanja-m/mrfs/internal/storage/disk"
	"github.com/nemanja-m/mrfs/internal/storage/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.LoadStorage(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	store, err := disk.NewStore(cfg.DataDir)
	if err != nil {
		logger.Fatal("Failed to open block store", "dir", cfg.DataDir, "error", err)
	}

	meta, err := metagrpc.NewClient(cfg.Metadata)
	if err != nil {
		logger.Fatal("Failed to create metadata client", "error", err)
	}
	defer meta.Close()

	peers := storagegrpc.NewDialer(cfg.Peers)
	defer peers.Close()

	node := service.NewNode(
		service.NodeConfig{
			ID:                core.NodeID(cfg.NodeID),
			Addr:              cfg.AdvertiseAddr,
			HeartbeatInterval: cfg.GRPC.HeartbeatInterval,
			Forward:           cfg.Forward,
		},
		store,
		peers,
		meta,
		logger,
	)
	defer node.Close()

	server := storagegrpc.NewServer(cfg.GRPC, rpc.NewAllowList(cfg.Auth.AllowedIdentities), node, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("gRPC server error", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- node.Run(ctx, meta) }()

	logger.Info("Storage node started",
		"node_id", cfg.NodeID,
		"addr", cfg.GRPC.Addr,
		"advertise_addr", cfg.AdvertiseAddr,
		"data_dir", cfg.DataDir,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-done:
		logger.Error("Storage node stopped", "error", err)
	}

	logger.Info("Shutting down storage node", "node_id", cfg.NodeID)
	cancel()
	server.Stop()
}
