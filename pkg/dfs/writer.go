package dfs

import (
	"context"
	"errors"

	metacore "github.com/nemanja-m/mrfs/internal/metadata/core"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
	storagecore "github.com/nemanja-m/mrfs/internal/storage/core"
)

// Writer streams a file into fixed-size blocks. Each full block is written
// to the head of its replica chain and committed before more data is
// buffered. A Writer is not safe for concurrent use.
type Writer struct {
	ctx      context.Context
	fs       *FileSystem
	handle   metacore.FileHandle
	progress ProgressListener

	buf     []byte
	written int64
	err     error
	closed  bool
}

const defaultBlockSize = 64 << 20

func newWriter(ctx context.Context, fs *FileSystem, handle metacore.FileHandle, progress ProgressListener) *Writer {
	if handle.BlockSize <= 0 {
		handle.BlockSize = defaultBlockSize
	}
	return &Writer{
		ctx:      ctx,
		fs:       fs,
		handle:   handle,
		progress: progress,
	}
}

// Path returns the path of the file being written.
func (w *Writer) Path() string {
	return w.handle.Path
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errs.New(errs.InvalidArgument, "write", "%s is closed", w.handle.Path)
	}
	if w.err != nil {
		return 0, w.err
	}

	n := 0
	for len(p) > 0 {
		room := int(w.handle.BlockSize) - len(w.buf)
		chunk := min(room, len(p))
		w.buf = append(w.buf, p[:chunk]...)
		p = p[chunk:]
		n += chunk
		w.written += int64(chunk)

		if int64(len(w.buf)) == w.handle.BlockSize {
			if err := w.flushBlock(); err != nil {
				w.err = err
				return n, err
			}
		}
	}

	if w.progress != nil {
		w.progress.OnProgress(w.written)
	}
	return n, nil
}

// Flush commits buffered data as a partial block. Subsequent writes start a
// new block.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if len(w.buf) == 0 {
		return nil
	}
	if err := w.flushBlock(); err != nil {
		w.err = err
		return err
	}
	return nil
}

// Close flushes remaining data and finalizes the file. A failed writer
// abandons the file, leaving it open for write on the coordinator until it is
// deleted.
func (w *Writer) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true

	if err := w.Flush(); err != nil {
		return err
	}

	err := w.fs.retry(w.ctx, "complete", func() error {
		return w.fs.meta.Complete(w.ctx, w.handle)
	})
	if err != nil {
		w.err = err
		return err
	}

	w.fs.logger.Debug("File written", "path", w.handle.Path, "bytes", w.written)
	return nil
}

func (w *Writer) flushBlock() error {
	data := w.buf

	var excluded []storagecore.NodeID
	for attempt := 0; attempt < 2; attempt++ {
		alloc, err := w.allocate(excluded)
		if err != nil {
			return err
		}

		node, failed, err := w.writeChain(alloc, data)
		if err == nil {
			commit := metacore.CommitRequest{
				Block:     alloc.Block,
				Size:      int64(len(data)),
				Confirmed: []storagecore.NodeID{node},
			}
			err := w.fs.retry(w.ctx, "commit block", func() error {
				return w.fs.meta.CommitBlock(w.ctx, w.handle, commit)
			})
			if err != nil {
				return err
			}
			// Storage nodes may still be forwarding data.
			w.buf = nil
			return nil
		}

		w.fs.logger.Warn("Block write failed on every target",
			"path", w.handle.Path, "block_id", alloc.Block, "attempt", attempt+1, "error", err)

		abandonErr := w.fs.retry(w.ctx, "abandon block", func() error {
			return w.fs.meta.Abandon(w.ctx, w.handle, alloc.Block)
		})
		if abandonErr != nil {
			return errors.Join(err, abandonErr)
		}
		excluded = append(excluded, failed...)
	}

	return errs.New(errs.Unreachable, "write block", "no storage node accepted a block of %s", w.handle.Path)
}

func (w *Writer) allocate(excluded []storagecore.NodeID) (*metacore.BlockAllocation, error) {
	var alloc *metacore.BlockAllocation
	err := w.fs.retry(w.ctx, "allocate block", func() error {
		var err error
		alloc, err = w.fs.meta.AllocateBlock(w.ctx, w.handle, excluded)
		return err
	})
	return alloc, err
}

// writeChain writes data to the first reachable target, handing it the rest
// of the chain. It returns the node that accepted the block, or the nodes
// that failed.
func (w *Writer) writeChain(alloc *metacore.BlockAllocation, data []byte) (storagecore.NodeID, []storagecore.NodeID, error) {
	var (
		failed []storagecore.NodeID
		errset []error
	)
	for i, target := range alloc.Targets {
		err := w.writeTo(target, alloc.Block, data, alloc.Targets[i+1:])
		if err == nil || errs.Is(err, errs.AlreadyExists) {
			return target.Node, failed, nil
		}
		w.fs.logger.Debug("Block target failed", "block_id", alloc.Block, "node_id", target.Node, "error", err)
		failed = append(failed, target.Node)
		errset = append(errset, err)
	}
	if len(errset) == 0 {
		errset = append(errset, errs.New(errs.Unreachable, "write block", "allocation of %s has no targets", alloc.Block))
	}
	return "", failed, errors.Join(errset...)
}

func (w *Writer) writeTo(target storagecore.Target, id storagecore.BlockID, data []byte, chain []storagecore.Target) error {
	client, err := w.fs.blocks.Dial(target)
	if err != nil {
		return errs.Wrap(errs.Unreachable, "dial", err)
	}
	return client.WriteBlock(w.ctx, id, data, chain)
}
