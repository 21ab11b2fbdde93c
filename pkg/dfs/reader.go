package dfs

import (
	"context"
	"errors"
	"io"
	"sort"

	metacore "github.com/nemanja-m/mrfs/internal/metadata/core"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
)

// Reader reads a finalized file block by block, falling back to the next
// replica when one fails. A Reader is not safe for concurrent use.
type Reader struct {
	ctx  context.Context
	fs   *FileSystem
	file *metacore.LocatedFile

	offset int64
	// cached block
	block int
	data  []byte
}

func newReader(ctx context.Context, fs *FileSystem, file *metacore.LocatedFile) *Reader {
	return &Reader{ctx: ctx, fs: fs, file: file, block: -1}
}

// Size returns the file length recorded when it was opened.
func (r *Reader) Size() int64 {
	return r.file.Entry.Length
}

func (r *Reader) Entry() metacore.FileEntry {
	return r.file.Entry
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.file == nil {
		return 0, errs.New(errs.InvalidArgument, "read", "reader is closed")
	}
	if len(p) == 0 {
		return 0, nil
	}
	if r.offset >= r.Size() {
		return 0, io.EOF
	}

	idx := r.blockAt(r.offset)
	if idx < 0 {
		return 0, io.EOF
	}
	if idx != r.block {
		data, err := r.fetch(r.file.Blocks[idx])
		if err != nil {
			return 0, err
		}
		r.block = idx
		r.data = data
	}

	lb := r.file.Blocks[idx]
	n := copy(p, r.data[r.offset-lb.Offset:])
	r.offset += int64(n)
	return n, nil
}

func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.offset + offset
	case io.SeekEnd:
		abs = r.Size() + offset
	default:
		return 0, errs.New(errs.InvalidArgument, "seek", "invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errs.New(errs.InvalidArgument, "seek", "negative position %d", abs)
	}
	r.offset = abs
	return abs, nil
}

func (r *Reader) Close() error {
	r.file = nil
	r.data = nil
	return nil
}

// blockAt returns the index of the block containing offset, skipping empty
// blocks.
func (r *Reader) blockAt(offset int64) int {
	blocks := r.file.Blocks
	i := sort.Search(len(blocks), func(i int) bool {
		return blocks[i].Offset+blocks[i].Size > offset
	})
	if i == len(blocks) {
		return -1
	}
	return i
}

func (r *Reader) fetch(lb metacore.LocatedBlock) ([]byte, error) {
	const op = "read block"

	if lb.Lost || len(lb.Replicas) == 0 {
		return nil, errs.New(errs.Unreadable, op, "block %s of %s has no live replica", lb.ID, r.file.Entry.Path)
	}

	var errset []error
	for _, target := range lb.Replicas {
		client, err := r.fs.blocks.Dial(target)
		if err != nil {
			errset = append(errset, errs.Wrap(errs.Unreachable, "dial", err))
			continue
		}
		data, err := client.ReadBlock(r.ctx, lb.ID)
		if err != nil {
			errset = append(errset, err)
			r.fs.logger.Debug("Replica read failed", "block_id", lb.ID, "node_id", target.Node, "error", err)
			continue
		}
		if int64(len(data)) != lb.Size {
			errset = append(errset, errs.New(errs.IOError, op,
				"replica %s of block %s has %d bytes, expected %d", target.Node, lb.ID, len(data), lb.Size))
			continue
		}
		return data, nil
	}

	return nil, errs.Wrap(errs.Unreadable, op, errors.Join(errset...))
}
