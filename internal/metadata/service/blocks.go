package service

import (
	"context"
	"sort"
	"time"

	"github.com/nemanja-m/mrfs/internal/metadata/core"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
	storagecore "github.com/nemanja-m/mrfs/internal/storage/core"
)

func (c *Coordinator) AllocateBlock(
	ctx context.Context,
	handle core.FileHandle,
	exclude []storagecore.NodeID,
) (*core.BlockAllocation, error) {
	const op = "allocate block"

	var alloc *core.BlockAllocation
	err := c.withHandle(handle, op, func(fn *fileNode) error {
		excluded := make(map[storagecore.NodeID]struct{}, len(exclude))
		for _, id := range exclude {
			excluded[id] = struct{}{}
		}

		c.lockReplicas()
		defer c.unlockReplicas()

		nodes := c.placeLocked(fn.entry.Replication, excluded)
		if len(nodes) == 0 {
			return errs.New(errs.Unreachable, op, "no live storage nodes available for %s", fn.entry.Path)
		}

		id := storagecore.NewBlockID()
		b := newBlockState(core.BlockInfo{
			ID:          id,
			File:        fn.entry.Path,
			Replication: fn.entry.Replication,
		})
		targets := make([]storagecore.Target, 0, len(nodes))
		for _, n := range nodes {
			b.pending[n.info.ID] = struct{}{}
			n.pending[id] = struct{}{}
			targets = append(targets, n.target())
		}
		c.blocks[id] = b
		fn.allocated[id] = struct{}{}

		alloc = &core.BlockAllocation{Block: id, Targets: targets, BlockSize: fn.entry.BlockSize}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Block allocated", "path", handle.Path, "block_id", alloc.Block, "targets", len(alloc.Targets))
	return alloc, nil
}

// CommitBlock appends an allocated block to its file once at least one
// replica confirmed it. Blocks short of their replication factor are queued
// for repair.
func (c *Coordinator) CommitBlock(ctx context.Context, handle core.FileHandle, req core.CommitRequest) error {
	const op = "commit block"

	retried := false
	err := c.withHandle(handle, op, func(fn *fileNode) error {
		if _, ok := fn.allocated[req.Block]; !ok {
			if committedLast(fn, req.Block, c.blockSize(req.Block), req.Size) {
				retried = true
				return nil
			}
			return errs.New(errs.NotFound, op, "block %s is not allocated to %s", req.Block, fn.entry.Path)
		}
		if len(req.Confirmed) == 0 {
			return errs.New(errs.IOError, op, "block %s has no confirmed replica", req.Block)
		}
		if req.Size < 0 || req.Size > fn.entry.BlockSize {
			return errs.New(errs.InvalidArgument, op, "block size %d outside [0, %d]", req.Size, fn.entry.BlockSize)
		}

		c.lockReplicas()
		b, ok := c.blocks[req.Block]
		if !ok {
			c.unlockReplicas()
			return errs.New(errs.NotFound, op, "block %s is unknown", req.Block)
		}
		b.info.Size = req.Size
		b.info.Committed = true
		for _, node := range req.Confirmed {
			c.addReplicaLocked(b, node)
		}
		c.evaluateLocked(b)
		c.unlockReplicas()

		delete(fn.allocated, req.Block)
		fn.entry.Blocks = append(fn.entry.Blocks, req.Block)
		fn.entry.Length += req.Size
		fn.entry.ModifiedAt = c.now()
		return nil
	})
	if err != nil || retried {
		return err
	}

	c.logger.Debug("Block committed", "path", handle.Path, "block_id", req.Block, "size", req.Size, "confirmed", len(req.Confirmed))
	c.persist()
	return nil
}

// Complete finalizes the file. Its block list is immutable afterwards.
func (c *Coordinator) Complete(ctx context.Context, handle core.FileHandle) error {
	const op = "complete"

	c.nsMu.Lock()
	fn, ok := c.handles[handle.ID]
	if !ok {
		sealed := false
		if prev := c.files[handle.Path]; prev != nil {
			prev.mu.Lock()
			sealed = prev.sealedBy == handle.ID && prev.entry.State == core.FileFinalized
			prev.mu.Unlock()
		}
		c.nsMu.Unlock()
		if sealed {
			return nil
		}
		return errs.New(errs.NotFound, op, "no write session for %s", handle.Path)
	}
	delete(c.handles, handle.ID)

	fn.mu.Lock()
	fn.entry.State = core.FileFinalized
	fn.entry.ModifiedAt = c.now()
	fn.sealedBy = fn.handle
	fn.handle = ""
	abandoned := make([]storagecore.BlockID, 0, len(fn.allocated))
	for id := range fn.allocated {
		abandoned = append(abandoned, id)
	}
	fn.allocated = make(map[storagecore.BlockID]struct{})
	path := fn.entry.Path
	fn.mu.Unlock()

	c.lockReplicas()
	for _, id := range abandoned {
		c.dropBlockLocked(id)
	}
	c.unlockReplicas()
	c.nsMu.Unlock()

	c.logger.Info("File finalized", "path", path)
	c.persist()
	return nil
}

// Abandon drops an allocated block that was never committed.
func (c *Coordinator) Abandon(ctx context.Context, handle core.FileHandle, block storagecore.BlockID) error {
	const op = "abandon block"

	return c.withHandle(handle, op, func(fn *fileNode) error {
		if _, ok := fn.allocated[block]; !ok {
			if !c.hasBlock(block) {
				// Already dropped by an earlier call.
				return nil
			}
			return errs.New(errs.NotFound, op, "block %s is not allocated to %s", block, fn.entry.Path)
		}
		delete(fn.allocated, block)

		c.lockReplicas()
		c.dropBlockLocked(block)
		c.unlockReplicas()

		c.logger.Debug("Block abandoned", "path", fn.entry.Path, "block_id", block)
		return nil
	})
}

func (c *Coordinator) Open(ctx context.Context, path string) (*core.LocatedFile, error) {
	const op = "open"

	path, err := core.CleanPath(path)
	if err != nil {
		return nil, err
	}

	c.nsMu.RLock()
	fn, ok := c.files[path]
	if !ok {
		_, isDir := c.dirs[path]
		c.nsMu.RUnlock()
		if isDir {
			return nil, errs.New(errs.InvalidArgument, op, "%s is a directory", path)
		}
		return nil, errs.New(errs.NotFound, op, "%s does not exist", path)
	}
	fn.mu.Lock()
	entry := fn.entry
	entry.Blocks = append([]storagecore.BlockID(nil), fn.entry.Blocks...)
	fn.mu.Unlock()
	c.nsMu.RUnlock()

	located := &core.LocatedFile{Entry: entry, Blocks: make([]core.LocatedBlock, 0, len(entry.Blocks))}

	c.lockReplicas()
	defer c.unlockReplicas()

	var offset int64
	for _, id := range entry.Blocks {
		lb := core.LocatedBlock{ID: id, Offset: offset}
		if b, ok := c.blocks[id]; ok {
			lb.Size = b.info.Size
			for _, node := range c.liveReplicasLocked(b) {
				lb.Replicas = append(lb.Replicas, c.nodes[node].target())
			}
		}
		lb.Lost = len(lb.Replicas) == 0
		if lb.Lost {
			c.logger.Warn("Block has no live replica", "path", path, "block_id", id)
		}
		located.Blocks = append(located.Blocks, lb)
		offset += lb.Size
	}
	return located, nil
}

// Block reports the coordinator's view of a block; Replicas lists live
// holders only.
func (c *Coordinator) Block(id storagecore.BlockID) (*core.BlockInfo, error) {
	c.lockReplicas()
	defer c.unlockReplicas()

	b, ok := c.blocks[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "block", "block %s is unknown", id)
	}
	info := b.info
	info.Replicas = c.liveReplicasLocked(b)
	return &info, nil
}

// UnderReplicated lists the blocks waiting in the repair queue.
func (c *Coordinator) UnderReplicated() []storagecore.BlockID {
	c.blocksMu.Lock()
	defer c.blocksMu.Unlock()

	ids := make([]storagecore.BlockID, 0, c.repair.Size())
	for _, key := range c.repair.Keys() {
		ids = append(ids, storagecore.BlockID(key.(string)))
	}
	return ids
}

func (c *Coordinator) withHandle(handle core.FileHandle, op string, fn func(*fileNode) error) error {
	c.nsMu.RLock()
	defer c.nsMu.RUnlock()

	file, ok := c.handles[handle.ID]
	if !ok {
		return errs.New(errs.NotFound, op, "no write session for %s", handle.Path)
	}

	file.mu.Lock()
	defer file.mu.Unlock()

	if file.entry.State != core.FileOpenForWrite {
		return errs.New(errs.InvalidArgument, op, "%s is not open for write", file.entry.Path)
	}
	return fn(file)
}

// blockSize returns the committed size of id, or -1 when the block is
// unknown or uncommitted.
func (c *Coordinator) blockSize(id storagecore.BlockID) int64 {
	c.lockReplicas()
	defer c.unlockReplicas()
	b, ok := c.blocks[id]
	if !ok || !b.info.Committed {
		return -1
	}
	return b.info.Size
}

func (c *Coordinator) hasBlock(id storagecore.BlockID) bool {
	c.lockReplicas()
	defer c.unlockReplicas()
	_, ok := c.blocks[id]
	return ok
}

// committedLast reports whether id is the last block of fn and was committed
// with size, which is what a retried CommitBlock looks like.
func committedLast(fn *fileNode, id storagecore.BlockID, committed, size int64) bool {
	n := len(fn.entry.Blocks)
	return n > 0 && fn.entry.Blocks[n-1] == id && committed == size
}

func (c *Coordinator) addReplicaLocked(b *blockState, node storagecore.NodeID) {
	b.replicas[node] = struct{}{}
	delete(b.pending, node)
	if n, ok := c.nodes[node]; ok {
		n.blocks[b.info.ID] = struct{}{}
		delete(n.pending, b.info.ID)
	}
}

// evaluateLocked keeps a committed block in the repair queue while it has
// fewer live replicas than its replication factor.
func (c *Coordinator) evaluateLocked(b *blockState) {
	if !b.info.Committed {
		return
	}
	key := string(b.info.ID)
	if len(c.liveReplicasLocked(b)) < b.info.Replication {
		c.repair.Put(key, struct{}{})
		return
	}
	c.repair.Remove(key)
}

func (c *Coordinator) liveReplicasLocked(b *blockState) []storagecore.NodeID {
	live := make([]storagecore.NodeID, 0, len(b.replicas))
	for node := range b.replicas {
		if n, ok := c.nodes[node]; ok && n.status == core.NodeAlive {
			live = append(live, node)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })
	return live
}

// dropBlockLocked forgets a block and queues its deletion on every node that
// holds or may hold it. It returns those nodes.
func (c *Coordinator) dropBlockLocked(id storagecore.BlockID) []storagecore.NodeID {
	b, ok := c.blocks[id]
	if !ok {
		return nil
	}

	holders := make([]storagecore.NodeID, 0, len(b.replicas)+len(b.pending))
	for node := range b.replicas {
		holders = append(holders, node)
	}
	for node := range b.pending {
		if _, dup := b.replicas[node]; !dup {
			holders = append(holders, node)
		}
	}

	for _, node := range holders {
		if n, ok := c.nodes[node]; ok {
			delete(n.blocks, id)
			delete(n.pending, id)
			n.deletes = append(n.deletes, id)
		}
	}
	delete(c.blocks, id)
	c.repair.Remove(string(id))
	return holders
}

func (c *Coordinator) targetsLocked(plan map[storagecore.NodeID][]storagecore.BlockID) map[storagecore.NodeID]storagecore.Target {
	targets := make(map[storagecore.NodeID]storagecore.Target, len(plan))
	for node := range plan {
		if n, ok := c.nodes[node]; ok && n.status == core.NodeAlive {
			targets[node] = n.target()
		}
	}
	return targets
}

// deleteReplicas asks live holders to drop blocks right away. Anything that
// fails is still delivered with the next heartbeat reply.
func (c *Coordinator) deleteReplicas(
	ctx context.Context,
	targets map[storagecore.NodeID]storagecore.Target,
	plan map[storagecore.NodeID][]storagecore.BlockID,
) {
	if c.dialer == nil || len(targets) == 0 {
		return
	}

	go func() {
		for node, target := range targets {
			client, err := c.dialer.Dial(target)
			if err != nil {
				continue
			}
			callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			err = client.DeleteBlocks(callCtx, plan[node])
			cancel()
			if err != nil {
				c.logger.Debug("Direct block deletion failed", "node_id", node, "error", err)
				continue
			}
			c.clearDeletes(node, plan[node])
		}
	}()
}

func (c *Coordinator) clearDeletes(node storagecore.NodeID, ids []storagecore.BlockID) {
	done := make(map[storagecore.BlockID]struct{}, len(ids))
	for _, id := range ids {
		done[id] = struct{}{}
	}

	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()

	n, ok := c.nodes[node]
	if !ok {
		return
	}
	kept := n.deletes[:0]
	for _, id := range n.deletes {
		if _, ok := done[id]; !ok {
			kept = append(kept, id)
		}
	}
	n.deletes = kept
}
