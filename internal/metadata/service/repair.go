package service

import (
	"context"
	"time"

	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	storagecore "github.com/nemanja-m/mrfs/internal/storage/core"
)

type repairWork struct {
	block   storagecore.BlockID
	source  storagecore.Target
	targets []storagecore.Target
}

// Repair walks the under-replicated queue once and asks a live holder of each
// block to copy it to newly placed nodes. Blocks without any live replica stay
// queued; readers see them as lost. It returns the number of new replicas.
func (c *Coordinator) Repair(ctx context.Context) int {
	if c.dialer == nil {
		return 0
	}

	work := c.planRepair()

	repaired := 0
	for _, w := range work {
		client, err := c.dialer.Dial(w.source)
		if err != nil {
			c.logger.Warn("Repair source unreachable", "block_id", w.block, "source", w.source.Node, "error", err)
			c.releasePending(w.block, w.targets)
			continue
		}

		for i, target := range w.targets {
			err := client.ReplicateBlock(ctx, w.block, target)
			if errs.Is(err, errs.NotFound) || errs.Is(err, errs.IOError) {
				// The source lost or corrupted its copy; the next round uses
				// another holder.
				c.logger.Warn("Repair source has no readable copy", "block_id", w.block, "source", w.source.Node, "error", err)
				c.dropSource(w.block, w.source.Node, errs.Is(err, errs.IOError))
				c.releasePending(w.block, w.targets[i:])
				break
			}
			if err != nil {
				c.logger.Warn("Repair replication failed", "block_id", w.block, "source", w.source.Node, "target", target.Node, "error", err)
				c.releasePending(w.block, []storagecore.Target{target})
				continue
			}
			c.recordRepair(w.block, target.Node)
			repaired++
		}
	}

	if repaired > 0 {
		c.logger.Info("Repair round finished", "replicas", repaired, "queued", len(c.UnderReplicated()))
	}
	return repaired
}

func (c *Coordinator) planRepair() []repairWork {
	c.lockReplicas()
	defer c.unlockReplicas()

	var work []repairWork
	for _, key := range c.repair.Keys() {
		id := storagecore.BlockID(key.(string))
		b, ok := c.blocks[id]
		if !ok {
			c.repair.Remove(key)
			continue
		}
		if !b.info.Committed {
			continue
		}

		live := c.liveReplicasLocked(b)
		missing := b.info.Replication - len(live)
		if missing <= 0 {
			c.repair.Remove(key)
			continue
		}
		if len(live) == 0 {
			continue
		}

		exclude := make(map[storagecore.NodeID]struct{}, len(b.replicas)+len(b.pending))
		for node := range b.replicas {
			exclude[node] = struct{}{}
		}
		for node := range b.pending {
			exclude[node] = struct{}{}
		}
		for node := range b.bad {
			exclude[node] = struct{}{}
		}
		nodes := c.placeLocked(missing, exclude)
		if len(nodes) == 0 {
			continue
		}

		w := repairWork{block: id, source: c.nodes[live[0]].target()}
		for _, n := range nodes {
			b.pending[n.info.ID] = struct{}{}
			n.pending[id] = struct{}{}
			w.targets = append(w.targets, n.target())
		}
		work = append(work, w)
	}
	return work
}

func (c *Coordinator) recordRepair(block storagecore.BlockID, node storagecore.NodeID) {
	c.lockReplicas()
	defer c.unlockReplicas()

	b, ok := c.blocks[block]
	if !ok {
		if n, ok := c.nodes[node]; ok {
			n.deletes = append(n.deletes, block)
		}
		return
	}
	c.addReplicaLocked(b, node)
	c.evaluateLocked(b)
}

// dropSource forgets node as a holder of block. A corrupt copy is also
// queued for deletion on the node.
func (c *Coordinator) dropSource(block storagecore.BlockID, node storagecore.NodeID, corrupt bool) {
	c.lockReplicas()
	defer c.unlockReplicas()

	b, ok := c.blocks[block]
	if !ok {
		return
	}
	delete(b.replicas, node)
	b.bad[node] = struct{}{}
	if n, ok := c.nodes[node]; ok {
		delete(n.blocks, block)
		if corrupt {
			n.deletes = append(n.deletes, block)
		}
	}
	c.evaluateLocked(b)
}

func (c *Coordinator) releasePending(block storagecore.BlockID, targets []storagecore.Target) {
	c.lockReplicas()
	defer c.unlockReplicas()

	for _, t := range targets {
		if b, ok := c.blocks[block]; ok {
			delete(b.pending, t.Node)
		}
		if n, ok := c.nodes[t.Node]; ok {
			delete(n.pending, block)
		}
	}
}

// Repairer drives node liveness checks and repair rounds on a fixed interval.
type Repairer struct {
	interval    time.Duration
	coordinator *Coordinator
	logger      logging.Logger
}

func NewRepairer(interval time.Duration, coordinator *Coordinator, logger logging.Logger) *Repairer {
	return &Repairer{
		interval:    interval,
		coordinator: coordinator,
		logger:      logger,
	}
}

func (r *Repairer) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce checks node liveness and performs a single repair round.
func (r *Repairer) RunOnce(ctx context.Context) int {
	if dead := r.coordinator.CheckNodes(); len(dead) > 0 {
		r.logger.Info("Storage nodes marked dead", "nodes", dead)
	}
	return r.coordinator.Repair(ctx)
}
