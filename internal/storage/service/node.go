package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	"github.com/nemanja-m/mrfs/internal/storage/core"
)

type NodeConfig struct {
	ID                core.NodeID
	Addr              string
	HeartbeatInterval time.Duration
	Forward           config.ForwardConfig
}

// Node serves blocks from a local store and pushes new blocks down the
// replica chain chosen by the metadata coordinator.
type Node struct {
	cfg      NodeConfig
	store    core.BlockStore
	dialer   core.Dialer
	reporter core.Reporter
	logger   logging.Logger

	mu       sync.Mutex
	inflight map[core.BlockID]struct{}

	forwards sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewNode(
	cfg NodeConfig,
	store core.BlockStore,
	dialer core.Dialer,
	reporter core.Reporter,
	logger logging.Logger,
) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		cfg:      cfg,
		store:    store,
		dialer:   dialer,
		reporter: reporter,
		logger:   logger,
		inflight: make(map[core.BlockID]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (n *Node) ID() core.NodeID {
	return n.cfg.ID
}

func (n *Node) Target() core.Target {
	return core.Target{Node: n.cfg.ID, Addr: n.cfg.Addr}
}

func (n *Node) WriteBlock(ctx context.Context, id core.BlockID, data []byte, chain []core.Target) error {
	if !n.begin(id) {
		return errs.New(errs.AlreadyExists, "write block", "write of block %s already in progress", id)
	}
	defer n.end(id)

	meta, err := n.store.Put(id, data)
	if err != nil {
		if errs.KindOf(err) == errs.Internal {
			return errs.Wrap(errs.IOError, "write block", err)
		}
		return err
	}

	n.logger.Debug("Block stored", "node_id", n.cfg.ID, "block_id", id, "size", meta.Size)

	if n.reporter != nil {
		if err := n.reporter.BlockReceived(ctx, n.cfg.ID, id, meta.Size); err != nil {
			n.logger.Warn("Failed to report received block", "block_id", id, "error", err)
		}
	}

	if len(chain) > 0 {
		n.forwards.Add(1)
		go n.forward(id, data, chain)
	}
	return nil
}

func (n *Node) ReadBlock(ctx context.Context, id core.BlockID) ([]byte, error) {
	return n.store.Get(id)
}

func (n *Node) ReplicateBlock(ctx context.Context, id core.BlockID, target core.Target) error {
	data, err := n.store.Get(id)
	if err != nil {
		return err
	}

	client, err := n.dialer.Dial(target)
	if err != nil {
		return errs.Wrap(errs.Unreachable, "replicate block", err)
	}

	err = client.WriteBlock(ctx, id, data, nil)
	if err == nil || errs.Is(err, errs.AlreadyExists) {
		n.logger.Info("Block replicated", "block_id", id, "target", target.Node)
		return nil
	}
	return errs.Wrap(errs.Unreachable, "replicate block", err)
}

func (n *Node) DeleteBlocks(ctx context.Context, ids []core.BlockID) error {
	var failed error
	for _, id := range ids {
		err := n.store.Delete(id)
		if err != nil && !errs.Is(err, errs.NotFound) {
			failed = errors.Join(failed, err)
			continue
		}
		n.logger.Debug("Block deleted", "node_id", n.cfg.ID, "block_id", id)
	}
	return failed
}

func (n *Node) BlockReport(ctx context.Context) ([]core.BlockID, error) {
	return n.store.List()
}

// Wait blocks until every pending forward finished.
func (n *Node) Wait() {
	n.forwards.Wait()
}

// Close abandons pending forwards and waits for them to return.
func (n *Node) Close() {
	n.cancel()
	n.forwards.Wait()
}

func (n *Node) forward(id core.BlockID, data []byte, chain []core.Target) {
	defer n.forwards.Done()

	next, rest := chain[0], chain[1:]
	op := func() error {
		client, err := n.dialer.Dial(next)
		if err != nil {
			return err
		}
		err = client.WriteBlock(n.ctx, id, data, rest)
		switch {
		case err == nil, errs.Is(err, errs.AlreadyExists):
			return nil
		case errs.Retryable(err):
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	notify := func(err error, wait time.Duration) {
		n.logger.Debug("Retrying block forward", "block_id", id, "target", next.Node, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(n.forwardBackoff(), n.ctx), notify)
	if err == nil {
		n.logger.Debug("Block forwarded", "block_id", id, "target", next.Node)
		return
	}

	n.logger.Warn("Failed to forward block", "block_id", id, "target", next.Node, "error", err)
	if n.reporter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.reporter.ReplicationFailed(ctx, n.cfg.ID, id, next); err != nil {
		n.logger.Warn("Failed to report replication failure", "block_id", id, "error", err)
	}
}

func (n *Node) forwardBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if n.cfg.Forward.InitialInterval > 0 {
		b.InitialInterval = n.cfg.Forward.InitialInterval
	}
	if n.cfg.Forward.MaxElapsedTime > 0 {
		b.MaxElapsedTime = n.cfg.Forward.MaxElapsedTime
	}
	return b
}

func (n *Node) begin(id core.BlockID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, busy := n.inflight[id]; busy {
		return false
	}
	n.inflight[id] = struct{}{}
	return true
}

func (n *Node) end(id core.BlockID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.inflight, id)
}
