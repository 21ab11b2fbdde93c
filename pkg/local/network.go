package local

import (
	"context"
	"slices"
	"sync"

	coordcore "github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
	storagecore "github.com/nemanja-m/mrfs/internal/storage/core"
	workercore "github.com/nemanja-m/mrfs/internal/worker/core"
)

// Network connects in-process storage nodes and workers by address. Any
// address can be cut off to simulate a crashed or partitioned process.
type Network struct {
	mu          sync.RWMutex
	nodes       map[string]storagecore.BlockService
	workers     map[string]workercore.WorkerService
	unreachable map[string]bool
}

func NewNetwork() *Network {
	return &Network{
		nodes:       make(map[string]storagecore.BlockService),
		workers:     make(map[string]workercore.WorkerService),
		unreachable: make(map[string]bool),
	}
}

func (n *Network) AddNode(addr string, node storagecore.BlockService) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[addr] = node
}

func (n *Network) AddWorker(addr string, worker workercore.WorkerService) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.workers[addr] = worker
}

// SetReachable cuts off or restores every call to addr.
func (n *Network) SetReachable(addr string, reachable bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if reachable {
		delete(n.unreachable, addr)
	} else {
		n.unreachable[addr] = true
	}
}

// Blocks returns a dialer for storage nodes.
func (n *Network) Blocks() storagecore.Dialer {
	return blockDialer{network: n}
}

// Workers returns a dialer for worker task endpoints.
func (n *Network) Workers() coordcore.WorkerDialer {
	return workerDialer{network: n}
}

func (n *Network) node(op, addr string) (storagecore.BlockService, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	node, ok := n.nodes[addr]
	if !ok || n.unreachable[addr] {
		return nil, errs.New(errs.Unreachable, op, "storage node %s is unreachable", addr)
	}
	return node, nil
}

func (n *Network) worker(op, addr string) (workercore.WorkerService, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	worker, ok := n.workers[addr]
	if !ok || n.unreachable[addr] {
		return nil, errs.New(errs.Unreachable, op, "worker %s is unreachable", addr)
	}
	return worker, nil
}

type blockDialer struct {
	network *Network
}

// Dial never fails; reachability is checked on every call so a connection
// breaks as soon as its address is cut off.
func (d blockDialer) Dial(target storagecore.Target) (storagecore.BlockService, error) {
	return &nodeConn{network: d.network, addr: target.Addr}, nil
}

type nodeConn struct {
	network *Network
	addr    string
}

func (c *nodeConn) WriteBlock(ctx context.Context, id storagecore.BlockID, data []byte, chain []storagecore.Target) error {
	node, err := c.network.node("write block", c.addr)
	if err != nil {
		return err
	}
	return node.WriteBlock(ctx, id, slices.Clone(data), slices.Clone(chain))
}

func (c *nodeConn) ReadBlock(ctx context.Context, id storagecore.BlockID) ([]byte, error) {
	node, err := c.network.node("read block", c.addr)
	if err != nil {
		return nil, err
	}
	return node.ReadBlock(ctx, id)
}

func (c *nodeConn) ReplicateBlock(ctx context.Context, id storagecore.BlockID, target storagecore.Target) error {
	node, err := c.network.node("replicate block", c.addr)
	if err != nil {
		return err
	}
	return node.ReplicateBlock(ctx, id, target)
}

func (c *nodeConn) DeleteBlocks(ctx context.Context, ids []storagecore.BlockID) error {
	node, err := c.network.node("delete blocks", c.addr)
	if err != nil {
		return err
	}
	return node.DeleteBlocks(ctx, slices.Clone(ids))
}

func (c *nodeConn) BlockReport(ctx context.Context) ([]storagecore.BlockID, error) {
	node, err := c.network.node("block report", c.addr)
	if err != nil {
		return nil, err
	}
	return node.BlockReport(ctx)
}

type workerDialer struct {
	network *Network
}

func (d workerDialer) Dial(addr string) (coordcore.WorkerClient, error) {
	return &workerConn{network: d.network, addr: addr}, nil
}

type workerConn struct {
	network *Network
	addr    string
}

func (c *workerConn) AssignTask(ctx context.Context, assignment coordcore.TaskAssignment) error {
	worker, err := c.network.worker("assign task", c.addr)
	if err != nil {
		return err
	}
	assignment.Splits = slices.Clone(assignment.Splits)
	assignment.Inputs = slices.Clone(assignment.Inputs)
	return worker.AssignTask(ctx, assignment)
}
