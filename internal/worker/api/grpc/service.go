package grpc

import (
	"context"

	"google.golang.org/grpc"

	coordcore "github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	"github.com/nemanja-m/mrfs/internal/shared/rpc"
	"github.com/nemanja-m/mrfs/internal/worker/core"
)

const ServiceName = "mrfs.worker.Worker"

// TaskEndpoint is the set of calls the coordinator makes on a worker.
type TaskEndpoint interface {
	AssignTask(ctx context.Context, req *coordcore.TaskAssignment) (*rpc.Empty, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TaskEndpoint)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(ServiceName, "AssignTask", TaskEndpoint.AssignTask),
	},
}

type taskEndpoint struct {
	workerService core.WorkerService
}

func (e *taskEndpoint) AssignTask(ctx context.Context, req *coordcore.TaskAssignment) (*rpc.Empty, error) {
	if err := e.workerService.AssignTask(ctx, *req); err != nil {
		return nil, err
	}
	return &rpc.Empty{}, nil
}

func NewServer(
	cfg config.GRPCConfig,
	auth rpc.Authorizer,
	workerService core.WorkerService,
	logger logging.Logger,
) *rpc.Server {
	server := rpc.NewServer(cfg, auth, logger)
	server.RegisterService(&serviceDesc, &taskEndpoint{workerService: workerService})
	return server
}
