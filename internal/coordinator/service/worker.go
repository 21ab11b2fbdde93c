package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
)

type workerService struct {
	store  core.WorkerStore
	logger logging.Logger
	now    func() time.Time
}

func NewWorkerService(workerStore core.WorkerStore, logger logging.Logger) core.WorkerService {
	return &workerService{
		store:  workerStore,
		logger: logger,
		now:    time.Now,
	}
}

// RegisterWorker adds worker to the pool as ACTIVE. A worker that comes back
// under a new id on an address still held by an old registration replaces
// it; attempts still assigned to the old id time out.
func (s *workerService) RegisterWorker(worker *core.Worker) error {
	const op = "register worker"
	if worker.ID == uuid.Nil || worker.Address == "" {
		return errs.New(errs.InvalidArgument, op, "worker id and address are required")
	}
	if worker.Slots <= 0 {
		worker.Slots = 1
	}
	s.logger.Debug("Registering worker", "worker_id", worker.ID, "address", worker.Address, "slots", worker.Slots)

	existing, err := s.store.GetAllWorkers()
	if err != nil {
		return errs.Wrap(errs.KindOf(err), op, err)
	}
	for _, old := range existing {
		if old.Address != worker.Address || old.ID == worker.ID {
			continue
		}
		s.logger.Info("Replacing worker registration", "old_worker_id", old.ID, "worker_id", worker.ID, "address", old.Address)
		if err := s.store.RemoveWorker(old.ID); err != nil && !errs.Is(err, errs.NotFound) {
			return errs.Wrap(errs.KindOf(err), op, err)
		}
	}

	worker.Status = core.WorkerStatusActive
	worker.LastHeartbeatAt = s.now()
	return s.store.AddWorker(worker)
}

// RecordHeartbeat returns a NOT_FOUND error for workers that are not
// registered, which tells the worker to register again.
func (s *workerService) RecordHeartbeat(workerID uuid.UUID) error {
	return s.store.UpdateWorkerHeartbeat(workerID, s.now())
}

func (s *workerService) RemoveWorker(workerID uuid.UUID) error {
	return s.store.RemoveWorker(workerID)
}

// GetStaleWorkers returns the workers whose last heartbeat is older than
// timeout.
func (s *workerService) GetStaleWorkers(timeout time.Duration) ([]*core.Worker, error) {
	return s.store.GetStaleWorkers(s.now().Add(-timeout))
}

// ListWorkers returns the registered workers ordered by id.
func (s *workerService) ListWorkers() ([]*core.Worker, error) {
	return s.store.GetAllWorkers()
}
