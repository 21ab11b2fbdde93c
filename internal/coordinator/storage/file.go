package storage

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
)

type fileSnapshot struct {
	Jobs  []*core.Job  `json:"jobs"`
	Tasks []*core.Task `json:"tasks"`
}

// FileJobStore is an InMemoryJobStore that rewrites a JSON snapshot of all
// jobs after every save, so a restarted coordinator can resume them.
type FileJobStore struct {
	*InMemoryJobStore
	path string
}

func NewFileJobStore(path string) (*FileJobStore, error) {
	s := &FileJobStore{
		InMemoryJobStore: NewInMemoryJobStore(),
		path:             path,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "load jobs", err)
	}

	var snapshot fileSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, errs.Wrap(errs.IOError, "load jobs", err)
	}

	byJob := make(map[uuid.UUID][]*core.Task)
	for _, task := range snapshot.Tasks {
		byJob[task.JobID] = append(byJob[task.JobID], task)
	}
	for _, job := range snapshot.Jobs {
		s.saveLocked(job, byJob[job.ID])
	}
	return s, nil
}

func (s *FileJobStore) SaveJob(job *core.Job, tasks ...*core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saveLocked(job, tasks)

	var snapshot fileSnapshot
	for id, job := range s.jobs {
		snapshot.Jobs = append(snapshot.Jobs, job)
		snapshot.Tasks = append(snapshot.Tasks, s.tasksLocked(id)...)
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return errs.Wrap(errs.Internal, "save jobs", err)
	}
	return errs.Wrap(errs.IOError, "save jobs", writeAtomic(s.path, data))
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
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
