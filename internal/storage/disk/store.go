package disk

import (
	"errors"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/internal/storage/core"
)

const (
	blockExt = ".blk"
	tmpExt   = ".tmp"
)

// Store keeps every block in its own file under <dir>/blocks/<id[:2]>/.
// Blocks are written to a temporary file and published with a hard link, so
// writes and reads of different blocks never wait on each other and a
// duplicate id loses the link race with ALREADY_EXISTS.
type Store struct {
	root string
	sync func(*os.File) error
}

func NewStore(dir string) (*Store, error) {
	root := filepath.Join(dir, "blocks")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.Wrap(errs.IOError, "open store", err)
	}

	s := &Store{root: root, sync: (*os.File).Sync}
	if err := s.removeTemporary(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Put(id core.BlockID, data []byte) (core.BlockMeta, error) {
	const op = "put block"

	path, err := s.path(id)
	if err != nil {
		return core.BlockMeta{}, err
	}

	if _, err := os.Stat(path); err == nil {
		return core.BlockMeta{}, errs.New(errs.AlreadyExists, op, "block %s already stored", id)
	}

	meta := core.BlockMeta{
		ID:        id,
		Size:      int64(len(data)),
		Checksum:  crc32.ChecksumIEEE(data),
		CreatedAt: time.Now().UTC(),
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return core.BlockMeta{}, errs.Wrap(errs.IOError, op, err)
	}

	tmp, err := os.CreateTemp(dir, string(id)+"-*"+tmpExt)
	if err != nil {
		return core.BlockMeta{}, errs.Wrap(errs.IOError, op, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(encodeBlock(meta, data)); err != nil {
		tmp.Close()
		return core.BlockMeta{}, errs.Wrap(errs.IOError, op, err)
	}
	if err := s.sync(tmp); err != nil {
		tmp.Close()
		return core.BlockMeta{}, errs.Wrap(errs.IOError, op, err)
	}
	if err := tmp.Close(); err != nil {
		return core.BlockMeta{}, errs.Wrap(errs.IOError, op, err)
	}
	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return core.BlockMeta{}, errs.New(errs.AlreadyExists, op, "block %s already stored", id)
		}
		return core.BlockMeta{}, errs.Wrap(errs.IOError, op, err)
	}

	return meta, nil
}

func (s *Store) Get(id core.BlockID) ([]byte, error) {
	const op = "get block"

	path, err := s.path(id)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errs.New(errs.NotFound, op, "block %s not stored", id)
	}
	if err != nil {
		return nil, errs.Wrap(errs.IOError, op, err)
	}

	meta, payload, err := decodeBlock(raw)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, op, err)
	}
	if meta.ID != id || int64(len(payload)) != meta.Size {
		return nil, errs.New(errs.IOError, op, "block %s is truncated or misplaced", id)
	}
	if crc32.ChecksumIEEE(payload) != meta.Checksum {
		return nil, errs.New(errs.IOError, op, "block %s checksum mismatch", id)
	}
	return payload, nil
}

func (s *Store) Has(id core.BlockID) bool {
	path, err := s.path(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func (s *Store) Delete(id core.BlockID) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return errs.New(errs.NotFound, "delete block", "block %s not stored", id)
	}
	return errs.Wrap(errs.IOError, "delete block", err)
}

func (s *Store) List() ([]core.BlockID, error) {
	var ids []core.BlockID
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), blockExt) {
			return nil
		}
		ids = append(ids, core.BlockID(strings.TrimSuffix(d.Name(), blockExt)))
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "list blocks", err)
	}
	return ids, nil
}

func (s *Store) path(id core.BlockID) (string, error) {
	name := string(id)
	if len(name) < 2 || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", errs.New(errs.InvalidArgument, "block path", "invalid block id %q", name)
	}
	return filepath.Join(s.root, name[:2], name+blockExt), nil
}

// removeTemporary drops writes interrupted by a crash.
func (s *Store) removeTemporary() error {
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), tmpExt) {
			return os.Remove(path)
		}
		return nil
	})
	return errs.Wrap(errs.IOError, "open store", err)
}
