package service

import (
	"context"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/nemanja-m/mrfs/internal/metadata/core"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/internal/shared/rpc"
	storagecore "github.com/nemanja-m/mrfs/internal/storage/core"
)

func (c *Coordinator) Create(ctx context.Context, path string, opts core.CreateOptions) (*core.FileHandle, error) {
	const op = "create"

	path, err := core.CleanPath(path)
	if err != nil {
		return nil, err
	}
	if path == core.Root {
		return nil, errs.New(errs.AlreadyExists, op, "%s is a directory", path)
	}
	if opts.Replication < 0 || opts.BlockSize < 0 {
		return nil, errs.New(errs.InvalidArgument, op, "replication and block size must not be negative")
	}

	replication := opts.Replication
	if replication == 0 {
		replication = c.cfg.DefaultReplication
	}
	blockSize := opts.BlockSize
	if blockSize == 0 {
		blockSize = c.cfg.DefaultBlockSize
	}

	owner := rpc.IdentityFrom(ctx)
	now := c.now()

	c.nsMu.Lock()
	if prev := c.files[path]; prev != nil && opts.RequestID != "" {
		prev.mu.Lock()
		reopened := prev.request == opts.RequestID && prev.handle != "" && prev.entry.State == core.FileOpenForWrite
		handle := core.FileHandle{ID: prev.handle, Path: path, Replication: prev.entry.Replication, BlockSize: prev.entry.BlockSize}
		prev.mu.Unlock()
		if reopened {
			c.nsMu.Unlock()
			c.logger.Debug("Create retried", "path", path, "request_id", opts.RequestID)
			return &handle, nil
		}
	}
	if c.existsLocked(path) {
		c.nsMu.Unlock()
		return nil, errs.New(errs.AlreadyExists, op, "%s already exists", path)
	}
	if err := c.mkdirsLocked(core.ParentPath(path), owner); err != nil {
		c.nsMu.Unlock()
		return nil, err
	}

	fn := &fileNode{
		entry: core.FileEntry{
			Path:        path,
			Replication: replication,
			BlockSize:   blockSize,
			State:       core.FileOpenForWrite,
			Owner:       owner,
			CreatedAt:   now,
			ModifiedAt:  now,
		},
		handle:    uuid.NewString(),
		allocated: make(map[storagecore.BlockID]struct{}),
		request:   opts.RequestID,
	}
	c.files[path] = fn
	c.handles[fn.handle] = fn
	c.dirs[core.ParentPath(path)].children.Add(core.BaseName(path))
	c.nsMu.Unlock()

	c.logger.Info("File created", "path", path, "replication", replication, "block_size", blockSize)
	c.persist()

	return &core.FileHandle{ID: fn.handle, Path: path, Replication: replication, BlockSize: blockSize}, nil
}

func (c *Coordinator) Mkdir(ctx context.Context, path string) error {
	path, err := core.CleanPath(path)
	if err != nil {
		return err
	}

	c.nsMu.Lock()
	if _, ok := c.files[path]; ok {
		c.nsMu.Unlock()
		return errs.New(errs.AlreadyExists, "mkdir", "file %s already exists", path)
	}
	err = c.mkdirsLocked(path, rpc.IdentityFrom(ctx))
	c.nsMu.Unlock()
	if err != nil {
		return err
	}

	c.persist()
	return nil
}

func (c *Coordinator) Delete(ctx context.Context, path string, recursive bool) error {
	const op = "delete"

	path, err := core.CleanPath(path)
	if err != nil {
		return err
	}
	if path == core.Root {
		return errs.New(errs.InvalidArgument, op, "cannot delete the root directory")
	}

	c.nsMu.Lock()
	var victims []*fileNode
	switch {
	case c.files[path] != nil:
		victims = append(victims, c.files[path])
		delete(c.files, path)
	case c.dirs[path] != nil:
		dir := c.dirs[path]
		if !dir.children.Empty() && !recursive {
			c.nsMu.Unlock()
			return errs.New(errs.NotEmpty, op, "directory %s has %d children", path, dir.children.Size())
		}
		for p, fn := range c.files {
			if core.IsWithin(p, path) {
				victims = append(victims, fn)
				delete(c.files, p)
			}
		}
		for p := range c.dirs {
			if core.IsWithin(p, path) {
				delete(c.dirs, p)
			}
		}
	default:
		c.nsMu.Unlock()
		return errs.New(errs.NotFound, op, "%s does not exist", path)
	}
	c.dirs[core.ParentPath(path)].children.Remove(core.BaseName(path))

	var doomed []storagecore.BlockID
	for _, fn := range victims {
		fn.mu.Lock()
		fn.entry.State = core.FileDeleted
		doomed = append(doomed, fn.entry.Blocks...)
		for id := range fn.allocated {
			doomed = append(doomed, id)
		}
		if fn.handle != "" {
			delete(c.handles, fn.handle)
			fn.handle = ""
		}
		fn.mu.Unlock()
	}

	c.lockReplicas()
	plan := make(map[storagecore.NodeID][]storagecore.BlockID)
	for _, id := range doomed {
		for _, node := range c.dropBlockLocked(id) {
			plan[node] = append(plan[node], id)
		}
	}
	targets := c.targetsLocked(plan)
	c.unlockReplicas()
	c.nsMu.Unlock()

	c.logger.Info("Path deleted", "path", path, "files", len(victims), "blocks", len(doomed))
	c.persist()
	c.deleteReplicas(ctx, targets, plan)
	return nil
}

func (c *Coordinator) Rename(ctx context.Context, src, dst string) error {
	const op = "rename"

	src, err := core.CleanPath(src)
	if err != nil {
		return err
	}
	dst, err = core.CleanPath(dst)
	if err != nil {
		return err
	}
	if src == core.Root || dst == core.Root {
		return errs.New(errs.InvalidArgument, op, "cannot rename the root directory")
	}
	if src == dst {
		return nil
	}
	if core.IsWithin(dst, src) {
		return errs.New(errs.InvalidArgument, op, "cannot move %s inside itself", src)
	}

	c.nsMu.Lock()
	if !c.existsLocked(src) {
		c.nsMu.Unlock()
		return errs.New(errs.NotFound, op, "%s does not exist", src)
	}
	if c.existsLocked(dst) {
		c.nsMu.Unlock()
		return errs.New(errs.AlreadyExists, op, "%s already exists", dst)
	}
	if err := c.mkdirsLocked(core.ParentPath(dst), rpc.IdentityFrom(ctx)); err != nil {
		c.nsMu.Unlock()
		return err
	}

	moved := make(map[string]*fileNode)
	for p, fn := range c.files {
		if core.IsWithin(p, src) {
			moved[dst+strings.TrimPrefix(p, src)] = fn
			delete(c.files, p)
		}
	}
	var movedDirs []*dirNode
	for p, d := range c.dirs {
		if core.IsWithin(p, src) {
			movedDirs = append(movedDirs, d)
			delete(c.dirs, p)
		}
	}
	for _, d := range movedDirs {
		d.path = dst + strings.TrimPrefix(d.path, src)
		c.dirs[d.path] = d
	}

	now := c.now()
	var renamedBlocks []storagecore.BlockID
	for p, fn := range moved {
		c.files[p] = fn
		fn.mu.Lock()
		fn.entry.Path = p
		fn.entry.ModifiedAt = now
		renamedBlocks = append(renamedBlocks, fn.entry.Blocks...)
		fn.mu.Unlock()
	}

	c.dirs[core.ParentPath(src)].children.Remove(core.BaseName(src))
	c.dirs[core.ParentPath(dst)].children.Add(core.BaseName(dst))

	c.blocksMu.Lock()
	for _, id := range renamedBlocks {
		if b, ok := c.blocks[id]; ok {
			b.info.File = dst + strings.TrimPrefix(b.info.File, src)
		}
	}
	c.blocksMu.Unlock()
	c.nsMu.Unlock()

	c.logger.Info("Path renamed", "src", src, "dst", dst)
	c.persist()
	return nil
}

func (c *Coordinator) List(ctx context.Context, path string) ([]core.EntryInfo, error) {
	path, err := core.CleanPath(path)
	if err != nil {
		return nil, err
	}

	c.nsMu.RLock()
	defer c.nsMu.RUnlock()

	if fn, ok := c.files[path]; ok {
		return []core.EntryInfo{fileInfo(fn)}, nil
	}

	dir, ok := c.dirs[path]
	if !ok {
		return nil, errs.New(errs.NotFound, "list", "%s does not exist", path)
	}

	entries := make([]core.EntryInfo, 0, dir.children.Size())
	for _, v := range dir.children.Values() {
		child := joinPath(path, v.(string))
		if fn, ok := c.files[child]; ok {
			entries = append(entries, fileInfo(fn))
		} else if d, ok := c.dirs[child]; ok {
			entries = append(entries, dirInfo(d))
		}
	}
	return entries, nil
}

func (c *Coordinator) Stat(ctx context.Context, path string) (*core.EntryInfo, error) {
	path, err := core.CleanPath(path)
	if err != nil {
		return nil, err
	}

	c.nsMu.RLock()
	defer c.nsMu.RUnlock()

	if fn, ok := c.files[path]; ok {
		info := fileInfo(fn)
		return &info, nil
	}
	if d, ok := c.dirs[path]; ok {
		info := dirInfo(d)
		return &info, nil
	}
	return nil, errs.New(errs.NotFound, "stat", "%s does not exist", path)
}

// Glob returns files and directories whose path matches a doublestar
// pattern, ordered by path.
func (c *Coordinator) Glob(ctx context.Context, pattern string) ([]core.EntryInfo, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, errs.New(errs.InvalidArgument, "glob", "invalid pattern %q", pattern)
	}

	c.nsMu.RLock()
	defer c.nsMu.RUnlock()

	var matches []core.EntryInfo
	for p, fn := range c.files {
		if ok, _ := doublestar.Match(pattern, p); ok {
			matches = append(matches, fileInfo(fn))
		}
	}
	for p, d := range c.dirs {
		if p == core.Root {
			continue
		}
		if ok, _ := doublestar.Match(pattern, p); ok {
			matches = append(matches, dirInfo(d))
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Path < matches[j].Path })
	return matches, nil
}

func (c *Coordinator) existsLocked(path string) bool {
	_, isFile := c.files[path]
	_, isDir := c.dirs[path]
	return isFile || isDir
}

// mkdirsLocked creates path and its missing ancestors.
func (c *Coordinator) mkdirsLocked(path, owner string) error {
	if _, ok := c.dirs[path]; ok {
		return nil
	}
	if _, ok := c.files[path]; ok {
		return errs.New(errs.InvalidArgument, "mkdir", "%s is a file", path)
	}
	parent := core.ParentPath(path)
	if err := c.mkdirsLocked(parent, owner); err != nil {
		return err
	}
	c.dirs[path] = newDirNode(path, owner, c.now())
	c.dirs[parent].children.Add(core.BaseName(path))
	return nil
}

func fileInfo(fn *fileNode) core.EntryInfo {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	return core.EntryInfo{
		Name:        core.BaseName(fn.entry.Path),
		Path:        fn.entry.Path,
		Length:      fn.entry.Length,
		Replication: fn.entry.Replication,
		BlockSize:   fn.entry.BlockSize,
		State:       fn.entry.State,
		Owner:       fn.entry.Owner,
		CreatedAt:   fn.entry.CreatedAt,
	}
}

func dirInfo(d *dirNode) core.EntryInfo {
	return core.EntryInfo{
		Name:      core.BaseName(d.path),
		Path:      d.path,
		IsDir:     true,
		Owner:     d.owner,
		CreatedAt: d.createdAt,
	}
}

func joinPath(dir, name string) string {
	if dir == core.Root {
		return core.Root + name
	}
	return dir + "/" + name
}
