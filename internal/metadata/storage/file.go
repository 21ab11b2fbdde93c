package storage

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/nemanja-m/mrfs/internal/metadata/core"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
)

// FileNamespaceStore keeps the namespace snapshot as a JSON file replaced
// atomically on every save.
type FileNamespaceStore struct {
	mu   sync.Mutex
	path string
}

func NewFileNamespaceStore(path string) *FileNamespaceStore {
	return &FileNamespaceStore{path: path}
}

func (s *FileNamespaceStore) Load() (*core.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "load snapshot", err)
	}

	var snapshot core.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, errs.Wrap(errs.IOError, "load snapshot", err)
	}
	return &snapshot, nil
}

func (s *FileNamespaceStore) Save(snapshot *core.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return errs.Wrap(errs.Internal, "save snapshot", err)
	}
	return errs.Wrap(errs.IOError, "save snapshot", writeAtomic(s.path, data))
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// InMemoryNamespaceStore keeps the last snapshot in memory.
type InMemoryNamespaceStore struct {
	mu       sync.Mutex
	snapshot []byte
	saves    int
}

func NewInMemoryNamespaceStore() *InMemoryNamespaceStore {
	return &InMemoryNamespaceStore{}
}

func (s *InMemoryNamespaceStore) Load() (*core.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot == nil {
		return nil, nil
	}
	var snapshot core.Snapshot
	if err := json.Unmarshal(s.snapshot, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (s *InMemoryNamespaceStore) Save(snapshot *core.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = data
	s.saves++
	return nil
}

// Saves reports how many snapshots were written.
func (s *InMemoryNamespaceStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
