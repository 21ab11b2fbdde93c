package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	"github.com/nemanja-m/mrfs/internal/shared/rpc"
	"github.com/nemanja-m/mrfs/internal/storage/core"
)

const ServiceName = "mrfs.storage.BlockService"

type WriteBlockRequest struct {
	Block core.BlockID  `json:"block"`
	Data  []byte        `json:"data"`
	Chain []core.Target `json:"chain"`
}

type BlockRequest struct {
	Block core.BlockID `json:"block"`
}

type ReadBlockResponse struct {
	Data []byte `json:"data"`
}

type ReplicateBlockRequest struct {
	Block  core.BlockID `json:"block"`
	Target core.Target  `json:"target"`
}

type BlockListMessage struct {
	Blocks []core.BlockID `json:"blocks"`
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*core.BlockService)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(ServiceName, "WriteBlock", writeBlock),
		rpc.Unary(ServiceName, "ReadBlock", readBlock),
		rpc.Unary(ServiceName, "ReplicateBlock", replicateBlock),
		rpc.Unary(ServiceName, "DeleteBlocks", deleteBlocks),
		rpc.Unary(ServiceName, "BlockReport", blockReport),
	},
}

// NewServer exposes blocks over gRPC.
func NewServer(cfg config.GRPCConfig, auth rpc.Authorizer, blocks core.BlockService, logger logging.Logger) *rpc.Server {
	server := rpc.NewServer(cfg, auth, logger)
	server.RegisterService(&serviceDesc, blocks)
	return server
}

func writeBlock(srv core.BlockService, ctx context.Context, req *WriteBlockRequest) (*rpc.Empty, error) {
	if err := srv.WriteBlock(ctx, req.Block, req.Data, req.Chain); err != nil {
		return nil, err
	}
	return &rpc.Empty{}, nil
}

func readBlock(srv core.BlockService, ctx context.Context, req *BlockRequest) (*ReadBlockResponse, error) {
	data, err := srv.ReadBlock(ctx, req.Block)
	if err != nil {
		return nil, err
	}
	return &ReadBlockResponse{Data: data}, nil
}

func replicateBlock(srv core.BlockService, ctx context.Context, req *ReplicateBlockRequest) (*rpc.Empty, error) {
	if err := srv.ReplicateBlock(ctx, req.Block, req.Target); err != nil {
		return nil, err
	}
	return &rpc.Empty{}, nil
}

func deleteBlocks(srv core.BlockService, ctx context.Context, req *BlockListMessage) (*rpc.Empty, error) {
	if err := srv.DeleteBlocks(ctx, req.Blocks); err != nil {
		return nil, err
	}
	return &rpc.Empty{}, nil
}

func blockReport(srv core.BlockService, ctx context.Context, _ *rpc.Empty) (*BlockListMessage, error) {
	blocks, err := srv.BlockReport(ctx)
	if err != nil {
		return nil, err
	}
	return &BlockListMessage{Blocks: blocks}, nil
}
