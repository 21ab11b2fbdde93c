package core

import (
	"context"

	storagecore "github.com/nemanja-m/mrfs/internal/storage/core"
)

// MetadataService is the namespace API used by clients.
type MetadataService interface {
	Create(ctx context.Context, path string, opts CreateOptions) (*FileHandle, error)
	AllocateBlock(ctx context.Context, handle FileHandle, exclude []storagecore.NodeID) (*BlockAllocation, error)
	CommitBlock(ctx context.Context, handle FileHandle, req CommitRequest) error
	Complete(ctx context.Context, handle FileHandle) error
	Abandon(ctx context.Context, handle FileHandle, block storagecore.BlockID) error
	Open(ctx context.Context, path string) (*LocatedFile, error)
	Delete(ctx context.Context, path string, recursive bool) error
	Rename(ctx context.Context, src, dst string) error
	List(ctx context.Context, path string) ([]EntryInfo, error)
	Mkdir(ctx context.Context, path string) error
	Stat(ctx context.Context, path string) (*EntryInfo, error)
	Glob(ctx context.Context, pattern string) ([]EntryInfo, error)
}

// NodeService is the API storage nodes use to report to the coordinator.
type NodeService interface {
	RegisterNode(ctx context.Context, info NodeInfo, report []storagecore.BlockID) (*HeartbeatReply, error)
	Heartbeat(ctx context.Context, hb NodeHeartbeat) (*HeartbeatReply, error)
	BlockReceived(ctx context.Context, node storagecore.NodeID, block storagecore.BlockID, size int64) error
	ReplicationFailed(ctx context.Context, node storagecore.NodeID, block storagecore.BlockID, target storagecore.Target) error
}
