package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/nemanja-m/mrfs/internal/metadata/core"
	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	"github.com/nemanja-m/mrfs/internal/shared/rpc"
	storagecore "github.com/nemanja-m/mrfs/internal/storage/core"
)

const (
	NamespaceServiceName = "mrfs.metadata.Namespace"
	NodeServiceName      = "mrfs.metadata.NodeService"
)

type CreateRequest struct {
	Path    string             `json:"path"`
	Options core.CreateOptions `json:"options"`
}

type AllocateBlockRequest struct {
	Handle  core.FileHandle      `json:"handle"`
	Exclude []storagecore.NodeID `json:"exclude"`
}

type CommitBlockRequest struct {
	Handle core.FileHandle    `json:"handle"`
	Commit core.CommitRequest `json:"commit"`
}

type HandleRequest struct {
	Handle core.FileHandle     `json:"handle"`
	Block  storagecore.BlockID `json:"block,omitempty"`
}

type PathRequest struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
}

type RenameRequest struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

type EntriesResponse struct {
	Entries []core.EntryInfo `json:"entries"`
}

type RegisterNodeRequest struct {
	Info   core.NodeInfo         `json:"info"`
	Report []storagecore.BlockID `json:"report"`
}

type BlockReceivedRequest struct {
	Node  storagecore.NodeID  `json:"node"`
	Block storagecore.BlockID `json:"block"`
	Size  int64               `json:"size"`
}

type ReplicationFailedRequest struct {
	Node   storagecore.NodeID  `json:"node"`
	Block  storagecore.BlockID `json:"block"`
	Target storagecore.Target  `json:"target"`
}

var namespaceDesc = grpc.ServiceDesc{
	ServiceName: NamespaceServiceName,
	HandlerType: (*core.MetadataService)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(NamespaceServiceName, "Create", func(srv core.MetadataService, ctx context.Context, req *CreateRequest) (*core.FileHandle, error) {
			return srv.Create(ctx, req.Path, req.Options)
		}),
		rpc.Unary(NamespaceServiceName, "AllocateBlock", func(srv core.MetadataService, ctx context.Context, req *AllocateBlockRequest) (*core.BlockAllocation, error) {
			return srv.AllocateBlock(ctx, req.Handle, req.Exclude)
		}),
		rpc.Unary(NamespaceServiceName, "CommitBlock", func(srv core.MetadataService, ctx context.Context, req *CommitBlockRequest) (*rpc.Empty, error) {
			return empty(srv.CommitBlock(ctx, req.Handle, req.Commit))
		}),
		rpc.Unary(NamespaceServiceName, "Complete", func(srv core.MetadataService, ctx context.Context, req *HandleRequest) (*rpc.Empty, error) {
			return empty(srv.Complete(ctx, req.Handle))
		}),
		rpc.Unary(NamespaceServiceName, "Abandon", func(srv core.MetadataService, ctx context.Context, req *HandleRequest) (*rpc.Empty, error) {
			return empty(srv.Abandon(ctx, req.Handle, req.Block))
		}),
		rpc.Unary(NamespaceServiceName, "Open", func(srv core.MetadataService, ctx context.Context, req *PathRequest) (*core.LocatedFile, error) {
			return srv.Open(ctx, req.Path)
		}),
		rpc.Unary(NamespaceServiceName, "Delete", func(srv core.MetadataService, ctx context.Context, req *PathRequest) (*rpc.Empty, error) {
			return empty(srv.Delete(ctx, req.Path, req.Recursive))
		}),
		rpc.Unary(NamespaceServiceName, "Rename", func(srv core.MetadataService, ctx context.Context, req *RenameRequest) (*rpc.Empty, error) {
			return empty(srv.Rename(ctx, req.Src, req.Dst))
		}),
		rpc.Unary(NamespaceServiceName, "List", func(srv core.MetadataService, ctx context.Context, req *PathRequest) (*EntriesResponse, error) {
			entries, err := srv.List(ctx, req.Path)
			if err != nil {
				return nil, err
			}
			return &EntriesResponse{Entries: entries}, nil
		}),
		rpc.Unary(NamespaceServiceName, "Mkdir", func(srv core.MetadataService, ctx context.Context, req *PathRequest) (*rpc.Empty, error) {
			return empty(srv.Mkdir(ctx, req.Path))
		}),
		rpc.Unary(NamespaceServiceName, "Stat", func(srv core.MetadataService, ctx context.Context, req *PathRequest) (*core.EntryInfo, error) {
			return srv.Stat(ctx, req.Path)
		}),
		rpc.Unary(NamespaceServiceName, "Glob", func(srv core.MetadataService, ctx context.Context, req *PathRequest) (*EntriesResponse, error) {
			entries, err := srv.Glob(ctx, req.Path)
			if err != nil {
				return nil, err
			}
			return &EntriesResponse{Entries: entries}, nil
		}),
	},
}

var nodeDesc = grpc.ServiceDesc{
	ServiceName: NodeServiceName,
	HandlerType: (*core.NodeService)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(NodeServiceName, "RegisterNode", func(srv core.NodeService, ctx context.Context, req *RegisterNodeRequest) (*core.HeartbeatReply, error) {
			return srv.RegisterNode(ctx, req.Info, req.Report)
		}),
		rpc.Unary(NodeServiceName, "Heartbeat", func(srv core.NodeService, ctx context.Context, req *core.NodeHeartbeat) (*core.HeartbeatReply, error) {
			return srv.Heartbeat(ctx, *req)
		}),
		rpc.Unary(NodeServiceName, "BlockReceived", func(srv core.NodeService, ctx context.Context, req *BlockReceivedRequest) (*rpc.Empty, error) {
			return empty(srv.BlockReceived(ctx, req.Node, req.Block, req.Size))
		}),
		rpc.Unary(NodeServiceName, "ReplicationFailed", func(srv core.NodeService, ctx context.Context, req *ReplicationFailedRequest) (*rpc.Empty, error) {
			return empty(srv.ReplicationFailed(ctx, req.Node, req.Block, req.Target))
		}),
	},
}

// Coordinator is what the metadata server exposes.
type Coordinator interface {
	core.MetadataService
	core.NodeService
}

func NewServer(cfg config.GRPCConfig, auth rpc.Authorizer, coordinator Coordinator, logger logging.Logger) *rpc.Server {
	server := rpc.NewServer(cfg, auth, logger)
	server.RegisterService(&namespaceDesc, coordinator)
	server.RegisterService(&nodeDesc, coordinator)
	return server
}

func empty(err error) (*rpc.Empty, error) {
	if err != nil {
		return nil, err
	}
	return &rpc.Empty{}, nil
}
