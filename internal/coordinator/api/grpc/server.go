package grpc

import (
	"github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	"github.com/nemanja-m/mrfs/internal/shared/rpc"
)

func NewServer(
	cfg config.GRPCConfig,
	auth rpc.Authorizer,
	workerService core.WorkerService,
	jobService core.JobService,
	logger logging.Logger,
) *rpc.Server {
	server := rpc.NewServer(cfg, auth, logger)
	server.RegisterService(
		&serviceDesc,
		NewCoordinatorService(
			cfg.HeartbeatInterval,
			workerService,
			jobService,
			logger,
		),
	)
	return server
}
