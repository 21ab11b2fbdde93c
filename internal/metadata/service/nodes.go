package service

import (
	"context"
	"sort"
	"time"

	"github.com/nemanja-m/mrfs/internal/metadata/core"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
	storagecore "github.com/nemanja-m/mrfs/internal/storage/core"
)

// NodeView is a snapshot of a registered storage node.
type NodeView struct {
	Info     core.NodeInfo
	Status   core.NodeStatus
	LastSeen time.Time
	Blocks   int
}

// RegisterNode (re)admits a storage node. The block report replaces what the
// coordinator knew about the node; reported blocks the namespace no longer
// references are returned for deletion.
func (c *Coordinator) RegisterNode(
	ctx context.Context,
	info core.NodeInfo,
	report []storagecore.BlockID,
) (*core.HeartbeatReply, error) {
	if info.ID == "" {
		return nil, errs.New(errs.InvalidArgument, "register node", "node id is required")
	}

	c.lockReplicas()
	defer c.unlockReplicas()

	n, ok := c.nodes[info.ID]
	if !ok {
		n = &nodeState{pending: make(map[storagecore.BlockID]struct{})}
		c.nodes[info.ID] = n
	}
	for id := range n.blocks {
		if b, ok := c.blocks[id]; ok {
			delete(b.replicas, info.ID)
		}
	}
	n.info = info
	n.status = core.NodeAlive
	n.lastSeen = c.now()
	n.blocks = make(map[storagecore.BlockID]struct{}, len(report))

	reply := &core.HeartbeatReply{DeleteBlocks: n.deletes}
	n.deletes = nil

	for _, id := range report {
		b, ok := c.blocks[id]
		if !ok {
			reply.DeleteBlocks = append(reply.DeleteBlocks, id)
			continue
		}
		if _, bad := b.bad[info.ID]; bad {
			reply.DeleteBlocks = append(reply.DeleteBlocks, id)
			continue
		}
		c.addReplicaLocked(b, info.ID)
	}
	for _, b := range c.blocks {
		c.evaluateLocked(b)
	}

	c.logger.Info("Storage node registered", "node_id", info.ID, "addr", info.Addr, "blocks", len(n.blocks), "orphans", len(reply.DeleteBlocks))
	return reply, nil
}

func (c *Coordinator) Heartbeat(ctx context.Context, hb core.NodeHeartbeat) (*core.HeartbeatReply, error) {
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()

	n, ok := c.nodes[hb.Node]
	if !ok || n.status != core.NodeAlive {
		return &core.HeartbeatReply{Reregister: true}, nil
	}

	n.lastSeen = c.now()
	if hb.Addr != "" {
		n.info.Addr = hb.Addr
	}

	reply := &core.HeartbeatReply{DeleteBlocks: n.deletes}
	n.deletes = nil
	return reply, nil
}

func (c *Coordinator) BlockReceived(
	ctx context.Context,
	node storagecore.NodeID,
	block storagecore.BlockID,
	size int64,
) error {
	c.lockReplicas()
	defer c.unlockReplicas()

	n, ok := c.nodes[node]
	if !ok {
		return errs.New(errs.NotFound, "block received", "node %s is not registered", node)
	}

	b, ok := c.blocks[block]
	if !ok {
		n.deletes = append(n.deletes, block)
		return nil
	}

	c.addReplicaLocked(b, node)
	c.evaluateLocked(b)
	c.logger.Debug("Replica confirmed", "node_id", node, "block_id", block, "replicas", len(b.replicas))
	return nil
}

// ReplicationFailed records that node could not forward block to target and
// queues the block so repair picks a replacement target.
func (c *Coordinator) ReplicationFailed(
	ctx context.Context,
	node storagecore.NodeID,
	block storagecore.BlockID,
	target storagecore.Target,
) error {
	c.lockReplicas()
	defer c.unlockReplicas()

	b, ok := c.blocks[block]
	if !ok {
		return nil
	}
	delete(b.pending, target.Node)
	if t, ok := c.nodes[target.Node]; ok {
		delete(t.pending, block)
	}
	c.evaluateLocked(b)

	c.logger.Warn("Replication failed", "node_id", node, "block_id", block, "target", target.Node)
	return nil
}

// CheckNodes marks nodes without a recent heartbeat as dead and queues their
// blocks for repair. It returns the nodes marked dead.
func (c *Coordinator) CheckNodes() []storagecore.NodeID {
	c.lockReplicas()
	defer c.unlockReplicas()

	deadline := c.now().Add(-c.cfg.NodeStaleTimeout)
	var dead []storagecore.NodeID
	for id, n := range c.nodes {
		if n.status != core.NodeAlive || !n.lastSeen.Before(deadline) {
			continue
		}
		n.status = core.NodeDead
		dead = append(dead, id)

		for block := range n.blocks {
			if b, ok := c.blocks[block]; ok {
				c.evaluateLocked(b)
			}
		}
		for block := range n.pending {
			if b, ok := c.blocks[block]; ok {
				delete(b.pending, id)
			}
		}
		n.pending = make(map[storagecore.BlockID]struct{})

		c.logger.Warn("Storage node is stale, marking dead", "node_id", id, "last_seen", n.lastSeen)
	}
	sort.Slice(dead, func(i, j int) bool { return dead[i] < dead[j] })
	return dead
}

func (c *Coordinator) Nodes() []NodeView {
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()

	views := make([]NodeView, 0, len(c.nodes))
	for _, n := range c.nodes {
		views = append(views, NodeView{
			Info:     n.info,
			Status:   n.status,
			LastSeen: n.lastSeen,
			Blocks:   len(n.blocks),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Info.ID < views[j].Info.ID })
	return views
}

// placeLocked picks up to r distinct live nodes, least loaded first with ties
// broken by node id.
func (c *Coordinator) placeLocked(r int, exclude map[storagecore.NodeID]struct{}) []*nodeState {
	candidates := make([]*nodeState, 0, len(c.nodes))
	for id, n := range c.nodes {
		if n.status != core.NodeAlive {
			continue
		}
		if _, skip := exclude[id]; skip {
			continue
		}
		candidates = append(candidates, n)
	}

	sort.Slice(candidates, func(i, j int) bool {
		li, lj := candidates[i].load(), candidates[j].load()
		if li != lj {
			return li < lj
		}
		return candidates[i].info.ID < candidates[j].info.ID
	})

	if len(candidates) > r {
		candidates = candidates[:r]
	}
	return candidates
}
