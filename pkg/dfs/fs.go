// Package dfs gives file semantics on top of the metadata coordinator and
// storage nodes: block-rolling writes, replica fallback on reads and the
// usual namespace operations.
package dfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	metacore "github.com/nemanja-m/mrfs/internal/metadata/core"
	"github.com/nemanja-m/mrfs/internal/shared/config"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	storagecore "github.com/nemanja-m/mrfs/internal/storage/core"
)

type Config struct {
	// BlockSize and Replication apply to created files; zero values defer to
	// the coordinator defaults.
	BlockSize   int64
	Replication int
	Retry       config.RetryConfig
}

// ConfigFrom converts loaded client settings.
func ConfigFrom(cfg config.ClientConfig) Config {
	return Config{
		BlockSize:   cfg.BlockSize,
		Replication: cfg.Replication,
		Retry:       cfg.Retry,
	}
}

type FileSystem struct {
	meta   metacore.MetadataService
	blocks storagecore.Dialer
	cfg    Config
	logger logging.Logger
}

func New(
	meta metacore.MetadataService,
	blocks storagecore.Dialer,
	cfg Config,
	logger logging.Logger,
) *FileSystem {
	return &FileSystem{
		meta:   meta,
		blocks: blocks,
		cfg:    cfg,
		logger: logger,
	}
}

// ProgressListener is notified synchronously from Write with the number of
// bytes accepted so far.
type ProgressListener interface {
	OnProgress(bytesTransferred int64)
}

type ProgressFunc func(bytesTransferred int64)

func (f ProgressFunc) OnProgress(bytesTransferred int64) {
	f(bytesTransferred)
}

type createOptions struct {
	replication int
	blockSize   int64
	progress    ProgressListener
}

type CreateOption func(*createOptions)

func WithReplication(replication int) CreateOption {
	return func(o *createOptions) {
		o.replication = replication
	}
}

func WithBlockSize(blockSize int64) CreateOption {
	return func(o *createOptions) {
		o.blockSize = blockSize
	}
}

func WithProgress(listener ProgressListener) CreateOption {
	return func(o *createOptions) {
		o.progress = listener
	}
}

// Create starts a new file. The file becomes visible immediately and is
// finalized when the returned Writer is closed.
func (fs *FileSystem) Create(ctx context.Context, path string, opts ...CreateOption) (*Writer, error) {
	o := createOptions{replication: fs.cfg.Replication, blockSize: fs.cfg.BlockSize}
	for _, opt := range opts {
		opt(&o)
	}

	var handle *metacore.FileHandle
	req := metacore.CreateOptions{
		Replication: o.replication,
		BlockSize:   o.blockSize,
		RequestID:   uuid.NewString(),
	}
	err := fs.retry(ctx, "create", func() error {
		var err error
		handle, err = fs.meta.Create(ctx, path, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	return newWriter(ctx, fs, *handle, o.progress), nil
}

func (fs *FileSystem) Open(ctx context.Context, path string) (*Reader, error) {
	file, err := fs.Locate(ctx, path)
	if err != nil {
		return nil, err
	}
	return newReader(ctx, fs, file), nil
}

// Locate returns the block layout of a finalized file without reading it.
func (fs *FileSystem) Locate(ctx context.Context, path string) (*metacore.LocatedFile, error) {
	var file *metacore.LocatedFile
	err := fs.retry(ctx, "locate", func() error {
		var err error
		file, err = fs.meta.Open(ctx, path)
		return err
	})
	return file, err
}

// OpenAt opens path positioned at offset.
func (fs *FileSystem) OpenAt(ctx context.Context, path string, offset int64) (*Reader, error) {
	r, err := fs.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	return r, nil
}

func (fs *FileSystem) Mkdir(ctx context.Context, path string) error {
	return fs.retry(ctx, "mkdir", func() error {
		return fs.meta.Mkdir(ctx, path)
	})
}

func (fs *FileSystem) Delete(ctx context.Context, path string, recursive bool) error {
	return fs.retry(ctx, "delete", func() error {
		return fs.meta.Delete(ctx, path, recursive)
	})
}

func (fs *FileSystem) Rename(ctx context.Context, src, dst string) error {
	return fs.retry(ctx, "rename", func() error {
		return fs.meta.Rename(ctx, src, dst)
	})
}

func (fs *FileSystem) List(ctx context.Context, path string) ([]metacore.EntryInfo, error) {
	var entries []metacore.EntryInfo
	err := fs.retry(ctx, "list", func() error {
		var err error
		entries, err = fs.meta.List(ctx, path)
		return err
	})
	return entries, err
}

func (fs *FileSystem) Stat(ctx context.Context, path string) (*metacore.EntryInfo, error) {
	var info *metacore.EntryInfo
	err := fs.retry(ctx, "stat", func() error {
		var err error
		info, err = fs.meta.Stat(ctx, path)
		return err
	})
	return info, err
}

func (fs *FileSystem) Exists(ctx context.Context, path string) (bool, error) {
	_, err := fs.Stat(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case errs.Is(err, errs.NotFound):
		return false, nil
	default:
		return false, err
	}
}

func (fs *FileSystem) Glob(ctx context.Context, pattern string) ([]metacore.EntryInfo, error) {
	var entries []metacore.EntryInfo
	err := fs.retry(ctx, "glob", func() error {
		var err error
		entries, err = fs.meta.Glob(ctx, pattern)
		return err
	})
	return entries, err
}

func (fs *FileSystem) WriteFile(ctx context.Context, path string, data []byte, opts ...CreateOption) error {
	w, err := fs.Create(ctx, path, opts...)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (fs *FileSystem) ReadFile(ctx context.Context, path string) ([]byte, error) {
	r, err := fs.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// CopyFromLocal uploads a local file to dst.
func (fs *FileSystem) CopyFromLocal(ctx context.Context, local, dst string, opts ...CreateOption) error {
	src, err := os.Open(local)
	if err != nil {
		return errs.Wrap(errs.IOError, "copy from local", err)
	}
	defer src.Close()

	w, err := fs.Create(ctx, dst, opts...)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload %s: %w", local, err)
	}
	return w.Close()
}

// CopyToLocal downloads src into a local file, replacing it only once the
// whole file was read.
func (fs *FileSystem) CopyToLocal(ctx context.Context, src, local string) error {
	r, err := fs.Open(ctx, src)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return errs.Wrap(errs.IOError, "copy to local", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(local), filepath.Base(local)+".*.part")
	if err != nil {
		return errs.Wrap(errs.IOError, "copy to local", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to download %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.IOError, "copy to local", err)
	}
	return errs.Wrap(errs.IOError, "copy to local", os.Rename(tmp.Name(), local))
}

// retry runs a metadata call, retrying only UNREACHABLE and TIMEOUT failures.
func (fs *FileSystem) retry(ctx context.Context, op string, call func() error) error {
	b := backoff.NewExponentialBackOff()
	if fs.cfg.Retry.InitialInterval > 0 {
		b.InitialInterval = fs.cfg.Retry.InitialInterval
	}
	b.MaxElapsedTime = 0

	operation := func() error {
		err := call()
		if err != nil && !errs.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		fs.logger.Debug("Retrying metadata call", "op", op, "wait", wait, "error", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, fs.cfg.Retry.MaxRetries), ctx)
	return backoff.RetryNotify(operation, policy, notify)
}
