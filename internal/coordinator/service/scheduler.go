package service

import (
	"context"
	"time"

	"github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
)

// Scheduler hands pending tasks to workers whenever new work is ready and on
// a fixed interval, which also picks up workers that freed a slot.
type Scheduler struct {
	interval   time.Duration
	jobService core.JobService
	logger     logging.Logger
}

func NewScheduler(interval time.Duration, jobService core.JobService, logger logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{
		interval:   interval,
		jobService: jobService,
		logger:     logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.jobService.Pending():
		}
		if n := s.jobService.Dispatch(ctx); n > 0 {
			s.logger.Debug("Dispatched tasks", "count", n)
		}
	}
}
