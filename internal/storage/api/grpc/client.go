package grpc

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"

	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/rpc"
	"github.com/nemanja-m/mrfs/internal/storage/core"
)

// Client talks to a single storage node.
type Client struct {
	conn *grpc.ClientConn
	addr string
}

func NewClient(cfg config.ConnConfig, opts ...grpc.DialOption) (*Client, error) {
	conn, err := rpc.Dial(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to storage node %s: %w", cfg.Addr, err)
	}
	return &Client{conn: conn, addr: cfg.Addr}, nil
}

func (c *Client) WriteBlock(ctx context.Context, id core.BlockID, data []byte, chain []core.Target) error {
	_, err := rpc.Invoke[rpc.Empty](ctx, c.conn, ServiceName, "WriteBlock", &WriteBlockRequest{
		Block: id,
		Data:  data,
		Chain: chain,
	})
	return err
}

func (c *Client) ReadBlock(ctx context.Context, id core.BlockID) ([]byte, error) {
	resp, err := rpc.Invoke[ReadBlockResponse](ctx, c.conn, ServiceName, "ReadBlock", &BlockRequest{Block: id})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) ReplicateBlock(ctx context.Context, id core.BlockID, target core.Target) error {
	_, err := rpc.Invoke[rpc.Empty](ctx, c.conn, ServiceName, "ReplicateBlock", &ReplicateBlockRequest{
		Block:  id,
		Target: target,
	})
	return err
}

func (c *Client) DeleteBlocks(ctx context.Context, ids []core.BlockID) error {
	_, err := rpc.Invoke[rpc.Empty](ctx, c.conn, ServiceName, "DeleteBlocks", &BlockListMessage{Blocks: ids})
	return err
}

func (c *Client) BlockReport(ctx context.Context) ([]core.BlockID, error) {
	resp, err := rpc.Invoke[BlockListMessage](ctx, c.conn, ServiceName, "BlockReport", &rpc.Empty{})
	if err != nil {
		return nil, err
	}
	return resp.Blocks, nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Dialer hands out one cached Client per storage node address.
type Dialer struct {
	cfg  config.ConnConfig
	opts []grpc.DialOption

	mu      sync.Mutex
	clients map[string]*Client
}

// NewDialer uses cfg for every connection, with Addr taken from the target.
func NewDialer(cfg config.ConnConfig, opts ...grpc.DialOption) *Dialer {
	return &Dialer{
		cfg:     cfg,
		opts:    opts,
		clients: make(map[string]*Client),
	}
}

func (d *Dialer) Dial(target core.Target) (core.BlockService, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if client, ok := d.clients[target.Addr]; ok {
		return client, nil
	}

	cfg := d.cfg
	cfg.Addr = target.Addr
	client, err := NewClient(cfg, d.opts...)
	if err != nil {
		return nil, err
	}
	d.clients[target.Addr] = client
	return client, nil
}

func (d *Dialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for addr, client := range d.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.clients, addr)
	}
	return firstErr
}
