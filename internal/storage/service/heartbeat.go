package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	metacore "github.com/nemanja-m/mrfs/internal/metadata/core"
)

// Run registers the node with the metadata coordinator and heartbeats until
// ctx is done.
func (n *Node) Run(ctx context.Context, meta metacore.NodeService) error {
	register := func() error {
		return n.Register(ctx, meta)
	}
	notify := func(err error, wait time.Duration) {
		n.logger.Warn("Registration failed, retrying", "node_id", n.cfg.ID, "wait", wait, "error", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	if err := backoff.RetryNotify(register, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}

	interval := n.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := n.Heartbeat(ctx, meta); err != nil {
				n.logger.Warn("Heartbeat failed", "node_id", n.cfg.ID, "error", err)
			}
		}
	}
}

// Register announces the node together with a full block report.
func (n *Node) Register(ctx context.Context, meta metacore.NodeService) error {
	report, err := n.store.List()
	if err != nil {
		return err
	}

	reply, err := meta.RegisterNode(ctx, metacore.NodeInfo{ID: n.cfg.ID, Addr: n.cfg.Addr}, report)
	if err != nil {
		return err
	}

	n.logger.Info("Node registered", "node_id", n.cfg.ID, "blocks", len(report))
	return n.apply(ctx, reply)
}

func (n *Node) Heartbeat(ctx context.Context, meta metacore.NodeService) error {
	report, err := n.store.List()
	if err != nil {
		return err
	}

	reply, err := meta.Heartbeat(ctx, metacore.NodeHeartbeat{
		Node:   n.cfg.ID,
		Addr:   n.cfg.Addr,
		Blocks: len(report),
	})
	if err != nil {
		return err
	}

	if reply.Reregister {
		return n.Register(ctx, meta)
	}
	return n.apply(ctx, reply)
}

func (n *Node) apply(ctx context.Context, reply *metacore.HeartbeatReply) error {
	if reply == nil || len(reply.DeleteBlocks) == 0 {
		return nil
	}
	n.logger.Debug("Deleting blocks on request", "node_id", n.cfg.ID, "count", len(reply.DeleteBlocks))
	return n.DeleteBlocks(ctx, reply.DeleteBlocks)
}
