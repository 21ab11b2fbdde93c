package service

import (
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/sets/treeset"

	"github.com/nemanja-m/mrfs/internal/metadata/core"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	storagecore "github.com/nemanja-m/mrfs/internal/storage/core"
)

type Config struct {
	DefaultReplication int
	DefaultBlockSize   int64
	NodeStaleTimeout   time.Duration
}

type fileNode struct {
	mu        sync.Mutex
	entry     core.FileEntry
	handle    string
	allocated map[storagecore.BlockID]struct{}
	// request is the Create request id that opened the file; sealedBy the
	// handle that finalized it. Both let retried calls succeed.
	request  string
	sealedBy string
}

type dirNode struct {
	path      string
	owner     string
	createdAt time.Time
	children  *treeset.Set
}

type blockState struct {
	info     core.BlockInfo
	replicas map[storagecore.NodeID]struct{}
	pending  map[storagecore.NodeID]struct{}
	// bad holds nodes that failed to serve the block from disk. They are
	// never used as a source or a target for it again.
	bad map[storagecore.NodeID]struct{}
}

type nodeState struct {
	info     core.NodeInfo
	status   core.NodeStatus
	lastSeen time.Time
	blocks   map[storagecore.BlockID]struct{}
	pending  map[storagecore.BlockID]struct{}
	deletes  []storagecore.BlockID
}

func (n *nodeState) load() int {
	return len(n.blocks) + len(n.pending)
}

func (n *nodeState) target() storagecore.Target {
	return storagecore.Target{Node: n.info.ID, Addr: n.info.Addr}
}

// Coordinator owns the namespace, block placement and replica bookkeeping.
//
// Lock order: saveMu, nsMu, fileNode.mu, blocksMu, nodesMu. Every operation
// acquires a prefix of that order and never calls out while holding a lock.
type Coordinator struct {
	cfg    Config
	store  core.NamespaceStore
	dialer storagecore.Dialer
	logger logging.Logger
	now    func() time.Time

	saveMu sync.Mutex

	nsMu    sync.RWMutex
	files   map[string]*fileNode
	dirs    map[string]*dirNode
	handles map[string]*fileNode

	blocksMu sync.Mutex
	blocks   map[storagecore.BlockID]*blockState
	repair   *treemap.Map

	nodesMu sync.Mutex
	nodes   map[storagecore.NodeID]*nodeState
}

func NewCoordinator(
	cfg Config,
	store core.NamespaceStore,
	dialer storagecore.Dialer,
	logger logging.Logger,
) (*Coordinator, error) {
	if cfg.DefaultReplication <= 0 {
		cfg.DefaultReplication = 3
	}
	if cfg.DefaultBlockSize <= 0 {
		cfg.DefaultBlockSize = 64 * 1024 * 1024
	}
	if cfg.NodeStaleTimeout <= 0 {
		cfg.NodeStaleTimeout = 30 * time.Second
	}

	c := &Coordinator{
		cfg:     cfg,
		store:   store,
		dialer:  dialer,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		files:   make(map[string]*fileNode),
		dirs:    make(map[string]*dirNode),
		handles: make(map[string]*fileNode),
		blocks:  make(map[storagecore.BlockID]*blockState),
		repair:  treemap.NewWithStringComparator(),
		nodes:   make(map[storagecore.NodeID]*nodeState),
	}
	c.dirs[core.Root] = newDirNode(core.Root, "", c.now())

	if err := c.restore(); err != nil {
		return nil, err
	}
	return c, nil
}

func newDirNode(path, owner string, createdAt time.Time) *dirNode {
	return &dirNode{
		path:      path,
		owner:     owner,
		createdAt: createdAt,
		children:  treeset.NewWithStringComparator(),
	}
}

func newBlockState(info core.BlockInfo) *blockState {
	return &blockState{
		info:     info,
		replicas: make(map[storagecore.NodeID]struct{}),
		pending:  make(map[storagecore.NodeID]struct{}),
		bad:      make(map[storagecore.NodeID]struct{}),
	}
}

func (c *Coordinator) lockReplicas() {
	c.blocksMu.Lock()
	c.nodesMu.Lock()
}

func (c *Coordinator) unlockReplicas() {
	c.nodesMu.Unlock()
	c.blocksMu.Unlock()
}

func (c *Coordinator) restore() error {
	if c.store == nil {
		return nil
	}
	snapshot, err := c.store.Load()
	if err != nil {
		return err
	}
	if snapshot == nil {
		return nil
	}

	for _, d := range snapshot.Dirs {
		if d.Path == core.Root {
			continue
		}
		c.dirs[d.Path] = newDirNode(d.Path, d.Owner, d.CreatedAt)
	}
	for path := range c.dirs {
		if path == core.Root {
			continue
		}
		if parent, ok := c.dirs[core.ParentPath(path)]; ok {
			parent.children.Add(core.BaseName(path))
		}
	}

	for _, entry := range snapshot.Files {
		if entry.State == core.FileOpenForWrite {
			// Writers do not survive a restart; keep what they committed.
			entry.State = core.FileFinalized
			c.logger.Warn("Finalizing file left open for write", "path", entry.Path)
		}
		c.files[entry.Path] = &fileNode{entry: entry, allocated: make(map[storagecore.BlockID]struct{})}
		if parent, ok := c.dirs[core.ParentPath(entry.Path)]; ok {
			parent.children.Add(core.BaseName(entry.Path))
		}
	}

	for _, info := range snapshot.Blocks {
		info.Replicas = nil
		c.blocks[info.ID] = newBlockState(info)
	}

	c.logger.Info("Namespace restored", "files", len(snapshot.Files), "dirs", len(snapshot.Dirs), "blocks", len(snapshot.Blocks))
	return nil
}

// persist saves a consistent snapshot of the namespace. Callers must not hold
// any coordinator lock.
func (c *Coordinator) persist() {
	if c.store == nil {
		return
	}

	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	snapshot := &core.Snapshot{SavedAt: c.now()}

	c.nsMu.RLock()
	for _, d := range c.dirs {
		snapshot.Dirs = append(snapshot.Dirs, d.entry())
	}
	for _, fn := range c.files {
		fn.mu.Lock()
		entry := fn.entry
		entry.Blocks = append([]storagecore.BlockID(nil), fn.entry.Blocks...)
		fn.mu.Unlock()
		snapshot.Files = append(snapshot.Files, entry)
	}

	c.blocksMu.Lock()
	for _, b := range c.blocks {
		if b.info.Committed {
			snapshot.Blocks = append(snapshot.Blocks, b.info)
		}
	}
	c.blocksMu.Unlock()
	c.nsMu.RUnlock()

	if err := c.store.Save(snapshot); err != nil {
		c.logger.Error("Failed to save namespace snapshot", "error", err)
	}
}

func (d *dirNode) entry() core.DirectoryEntry {
	children := make([]string, 0, d.children.Size())
	for _, v := range d.children.Values() {
		children = append(children, v.(string))
	}
	return core.DirectoryEntry{
		Path:      d.path,
		Children:  children,
		Owner:     d.owner,
		CreatedAt: d.createdAt,
	}
}
