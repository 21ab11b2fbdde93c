package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/nemanja-m/mrfs/internal/metadata/core"
	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/rpc"
	storagecore "github.com/nemanja-m/mrfs/internal/storage/core"
)

// Client implements core.MetadataService and core.NodeService over gRPC.
type Client struct {
	conn *grpc.ClientConn
}

func NewClient(cfg config.ConnConfig, opts ...grpc.DialOption) (*Client, error) {
	conn, err := rpc.Dial(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to metadata coordinator: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) Create(ctx context.Context, path string, opts core.CreateOptions) (*core.FileHandle, error) {
	return rpc.Invoke[core.FileHandle](ctx, c.conn, NamespaceServiceName, "Create", &CreateRequest{Path: path, Options: opts})
}

func (c *Client) AllocateBlock(ctx context.Context, handle core.FileHandle, exclude []storagecore.NodeID) (*core.BlockAllocation, error) {
	return rpc.Invoke[core.BlockAllocation](ctx, c.conn, NamespaceServiceName, "AllocateBlock", &AllocateBlockRequest{
		Handle:  handle,
		Exclude: exclude,
	})
}

func (c *Client) CommitBlock(ctx context.Context, handle core.FileHandle, req core.CommitRequest) error {
	_, err := rpc.Invoke[rpc.Empty](ctx, c.conn, NamespaceServiceName, "CommitBlock", &CommitBlockRequest{Handle: handle, Commit: req})
	return err
}

func (c *Client) Complete(ctx context.Context, handle core.FileHandle) error {
	_, err := rpc.Invoke[rpc.Empty](ctx, c.conn, NamespaceServiceName, "Complete", &HandleRequest{Handle: handle})
	return err
}

func (c *Client) Abandon(ctx context.Context, handle core.FileHandle, block storagecore.BlockID) error {
	_, err := rpc.Invoke[rpc.Empty](ctx, c.conn, NamespaceServiceName, "Abandon", &HandleRequest{Handle: handle, Block: block})
	return err
}

func (c *Client) Open(ctx context.Context, path string) (*core.LocatedFile, error) {
	return rpc.Invoke[core.LocatedFile](ctx, c.conn, NamespaceServiceName, "Open", &PathRequest{Path: path})
}

func (c *Client) Delete(ctx context.Context, path string, recursive bool) error {
	_, err := rpc.Invoke[rpc.Empty](ctx, c.conn, NamespaceServiceName, "Delete", &PathRequest{Path: path, Recursive: recursive})
	return err
}

func (c *Client) Rename(ctx context.Context, src, dst string) error {
	_, err := rpc.Invoke[rpc.Empty](ctx, c.conn, NamespaceServiceName, "Rename", &RenameRequest{Src: src, Dst: dst})
	return err
}

func (c *Client) List(ctx context.Context, path string) ([]core.EntryInfo, error) {
	resp, err := rpc.Invoke[EntriesResponse](ctx, c.conn, NamespaceServiceName, "List", &PathRequest{Path: path})
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *Client) Mkdir(ctx context.Context, path string) error {
	_, err := rpc.Invoke[rpc.Empty](ctx, c.conn, NamespaceServiceName, "Mkdir", &PathRequest{Path: path})
	return err
}

func (c *Client) Stat(ctx context.Context, path string) (*core.EntryInfo, error) {
	return rpc.Invoke[core.EntryInfo](ctx, c.conn, NamespaceServiceName, "Stat", &PathRequest{Path: path})
}

func (c *Client) Glob(ctx context.Context, pattern string) ([]core.EntryInfo, error) {
	resp, err := rpc.Invoke[EntriesResponse](ctx, c.conn, NamespaceServiceName, "Glob", &PathRequest{Path: pattern})
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *Client) RegisterNode(ctx context.Context, info core.NodeInfo, report []storagecore.BlockID) (*core.HeartbeatReply, error) {
	return rpc.Invoke[core.HeartbeatReply](ctx, c.conn, NodeServiceName, "RegisterNode", &RegisterNodeRequest{Info: info, Report: report})
}

func (c *Client) Heartbeat(ctx context.Context, hb core.NodeHeartbeat) (*core.HeartbeatReply, error) {
	return rpc.Invoke[core.HeartbeatReply](ctx, c.conn, NodeServiceName, "Heartbeat", &hb)
}

func (c *Client) BlockReceived(ctx context.Context, node storagecore.NodeID, block storagecore.BlockID, size int64) error {
	_, err := rpc.Invoke[rpc.Empty](ctx, c.conn, NodeServiceName, "BlockReceived", &BlockReceivedRequest{Node: node, Block: block, Size: size})
	return err
}

func (c *Client) ReplicationFailed(ctx context.Context, node storagecore.NodeID, block storagecore.BlockID, target storagecore.Target) error {
	_, err := rpc.Invoke[rpc.Empty](ctx, c.conn, NodeServiceName, "ReplicationFailed", &ReplicationFailedRequest{Node: node, Block: block, Target: target})
	return err
}
