package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/mrfs/internal/coordinator/core"
)

type mockWorkerServiceForHealth struct {
	mu            sync.Mutex
	staleWorkers  []*core.Worker
	removedIDs    []uuid.UUID
	staleErr      error
	getStaleCount int
}

func (m *mockWorkerServiceForHealth) RegisterWorker(worker *core.Worker) error {
	return nil
}

func (m *mockWorkerServiceForHealth) RecordHeartbeat(workerID uuid.UUID) error {
	return nil
}

func (m *mockWorkerServiceForHealth) ListWorkers() ([]*core.Worker, error) {
	return nil, nil
}

func (m *mockWorkerServiceForHealth) RemoveWorker(workerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removedIDs = append(m.removedIDs, workerID)
	return nil
}

func (m *mockWorkerServiceForHealth) GetStaleWorkers(timeout time.Duration) ([]*core.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getStaleCount++
	if m.staleErr != nil {
		return nil, m.staleErr
	}
	return m.staleWorkers, nil
}

func (m *mockWorkerServiceForHealth) getRemovedIDs() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID{}, m.removedIDs...)
}

func (m *mockWorkerServiceForHealth) getStaleCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getStaleCount
}

// mockJobServiceForHealth implements the job service calls made by the
// health checker. The rest are never called.
type mockJobServiceForHealth struct {
	core.JobService

	mu          sync.Mutex
	requeuedIDs []uuid.UUID
	expired     int
	checked     int
}

func (m *mockJobServiceForHealth) RequeueWorkerTasks(workerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeuedIDs = append(m.requeuedIDs, workerID)
	return nil
}

func (m *mockJobServiceForHealth) ExpireTasks(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired++
	return 0
}

func (m *mockJobServiceForHealth) CheckOutputs(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checked++
	return 1
}

func (m *mockJobServiceForHealth) counts() (requeued []uuid.UUID, expired, checked int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID{}, m.requeuedIDs...), m.expired, m.checked
}

func TestWorkerHealthChecker_RunOnce(t *testing.T) {
	worker1 := &core.Worker{ID: uuid.New(), Address: "worker1:5000"}
	worker2 := &core.Worker{ID: uuid.New(), Address: "worker2:5000"}

	workerService := &mockWorkerServiceForHealth{staleWorkers: []*core.Worker{worker1, worker2}}
	jobService := &mockJobServiceForHealth{}
	logger := &workerTestLogger{}

	checker := NewWorkerHealthChecker(time.Hour, 15*time.Second, workerService, jobService, logger)
	report := checker.RunOnce(context.Background())
	require.Equal(t, 2, report.RemovedWorkers)

	require.Equal(t, []uuid.UUID{worker1.ID, worker2.ID}, workerService.getRemovedIDs())
	requeued, expired, checked := jobService.counts()
	require.Equal(t, []uuid.UUID{worker1.ID, worker2.ID}, requeued)
	require.Equal(t, 1, expired)
	require.Equal(t, 1, checked)

	messages := logger.getMessages()
	require.Contains(t, messages, "Removing stale worker")
	require.Contains(t, messages, "Cancelled jobs with deleted output")
}

func TestWorkerHealthChecker_StaleLookupFails(t *testing.T) {
	workerService := &mockWorkerServiceForHealth{staleErr: errors.New("store down")}
	jobService := &mockJobServiceForHealth{}
	logger := &workerTestLogger{}

	checker := NewWorkerHealthChecker(time.Hour, 15*time.Second, workerService, jobService, logger)
	checker.RunOnce(context.Background())

	require.Empty(t, workerService.getRemovedIDs())
	require.Contains(t, logger.getMessages(), "Failed to get stale workers")

	// Task expiry still runs.
	_, expired, _ := jobService.counts()
	require.Equal(t, 1, expired)
}

func TestWorkerHealthChecker_StopsOnContextCancel(t *testing.T) {
	workerService := &mockWorkerServiceForHealth{}
	checker := NewWorkerHealthChecker(5*time.Millisecond, 15*time.Second, workerService, &mockJobServiceForHealth{}, &workerTestLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return workerService.getStaleCallCount() >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("health checker did not stop after context cancellation")
	}
}

// dispatchCounter counts Dispatch calls and exposes a pending channel.
type dispatchCounter struct {
	core.JobService

	mu      sync.Mutex
	calls   int
	pending chan struct{}
}

func (d *dispatchCounter) Dispatch(ctx context.Context) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return 1
}

func (d *dispatchCounter) Pending() <-chan struct{} {
	return d.pending
}

func (d *dispatchCounter) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func TestScheduler_DispatchesOnPending(t *testing.T) {
	jobService := &dispatchCounter{pending: make(chan struct{}, 1)}
	scheduler := NewScheduler(time.Hour, jobService, &workerTestLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scheduler.Start(ctx)

	jobService.pending <- struct{}{}
	require.Eventually(t, func() bool { return jobService.count() == 1 }, time.Second, 5*time.Millisecond)

	jobService.pending <- struct{}{}
	require.Eventually(t, func() bool { return jobService.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_DispatchesOnInterval(t *testing.T) {
	jobService := &dispatchCounter{pending: make(chan struct{})}
	scheduler := NewScheduler(5*time.Millisecond, jobService, &workerTestLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scheduler.Start(ctx)

	require.Eventually(t, func() bool { return jobService.count() >= 3 }, time.Second, 5*time.Millisecond)
}
