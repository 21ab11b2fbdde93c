package service

import (
	"context"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/coordinator/storage"
	metacore "github.com/nemanja-m/mrfs/internal/metadata/core"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	pkgcore "github.com/nemanja-m/mrfs/pkg/core"
	"github.com/nemanja-m/mrfs/pkg/dfs"
	"github.com/nemanja-m/mrfs/pkg/jobs"
)

const testJobName = "service-test"

func init() {
	jobs.MustRegister(testJobName, jobs.Job{
		Map:    func(key, value string) []pkgcore.KeyValue { return nil },
		Reduce: func(key string, values []string) []pkgcore.KeyValue { return nil },
	})
}

// mockFileSystem is a flat namespace keyed by path.
type mockFileSystem struct {
	mu        sync.Mutex
	files     map[string][]int64
	dirs      map[string]bool
	renameErr error
}

func newMockFileSystem() *mockFileSystem {
	return &mockFileSystem{
		files: make(map[string][]int64),
		dirs:  map[string]bool{metacore.Root: true},
	}
}

func (m *mockFileSystem) put(p string, blockSizes ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirLocked(path.Dir(p))
	m.files[p] = blockSizes
}

func (m *mockFileSystem) has(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, file := m.files[p]
	return file || m.dirs[p]
}

func (m *mockFileSystem) mkdirLocked(p string) {
	for ; p != metacore.Root; p = path.Dir(p) {
		m.dirs[p] = true
	}
}

func (m *mockFileSystem) entryLocked(p string) (metacore.EntryInfo, bool) {
	if m.dirs[p] {
		return metacore.EntryInfo{Name: path.Base(p), Path: p, IsDir: true}, true
	}
	if _, ok := m.files[p]; ok {
		return metacore.EntryInfo{Name: path.Base(p), Path: p}, true
	}
	return metacore.EntryInfo{}, false
}

func (m *mockFileSystem) Glob(_ context.Context, pattern string) ([]metacore.EntryInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []metacore.EntryInfo
	for p := range m.files {
		if ok, _ := path.Match(pattern, p); ok {
			entries = append(entries, metacore.EntryInfo{Name: path.Base(p), Path: p})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (m *mockFileSystem) Stat(_ context.Context, p string) (*metacore.EntryInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entryLocked(p)
	if !ok {
		return nil, errs.New(errs.NotFound, "stat", "%s not found", p)
	}
	return &entry, nil
}

func (m *mockFileSystem) List(_ context.Context, p string) ([]metacore.EntryInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []metacore.EntryInfo
	for _, paths := range [][]string{mapKeys(m.files), mapKeys(m.dirs)} {
		for _, child := range paths {
			if child != p && path.Dir(child) == p {
				entry, _ := m.entryLocked(child)
				entries = append(entries, entry)
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (m *mockFileSystem) Locate(_ context.Context, p string) (*metacore.LocatedFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sizes, ok := m.files[p]
	if !ok {
		return nil, errs.New(errs.NotFound, "locate", "%s not found", p)
	}
	located := &metacore.LocatedFile{}
	var offset int64
	for _, size := range sizes {
		located.Blocks = append(located.Blocks, metacore.LocatedBlock{Offset: offset, Size: size})
		offset += size
	}
	return located, nil
}

func (m *mockFileSystem) Exists(_ context.Context, p string) (bool, error) {
	return m.has(p), nil
}

func (m *mockFileSystem) Mkdir(_ context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirLocked(p)
	return nil
}

func (m *mockFileSystem) Delete(_ context.Context, p string, recursive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entryLocked(p); !ok {
		return errs.New(errs.NotFound, "delete", "%s not found", p)
	}
	for f := range m.files {
		if metacore.IsWithin(f, p) {
			delete(m.files, f)
		}
	}
	for d := range m.dirs {
		if metacore.IsWithin(d, p) {
			delete(m.dirs, d)
		}
	}
	return nil
}

func (m *mockFileSystem) Rename(_ context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.renameErr != nil {
		return m.renameErr
	}
	sizes, ok := m.files[src]
	if !ok {
		return errs.New(errs.NotFound, "rename", "%s not found", src)
	}
	if _, exists := m.entryLocked(dst); exists {
		return errs.New(errs.AlreadyExists, "rename", "%s already exists", dst)
	}
	delete(m.files, src)
	m.files[dst] = sizes
	return nil
}

func (m *mockFileSystem) WriteFile(_ context.Context, p string, data []byte, _ ...dfs.CreateOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirLocked(path.Dir(p))
	m.files[p] = []int64{int64(len(data))}
	return nil
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// mockWorkerDialer records every assignment handed to a worker address.
type mockWorkerDialer struct {
	mu          sync.Mutex
	assignments map[string][]core.TaskAssignment
	unreachable map[string]bool
}

func newMockWorkerDialer() *mockWorkerDialer {
	return &mockWorkerDialer{
		assignments: make(map[string][]core.TaskAssignment),
		unreachable: make(map[string]bool),
	}
}

func (d *mockWorkerDialer) Dial(addr string) (core.WorkerClient, error) {
	return &mockWorkerClient{addr: addr, dialer: d}, nil
}

func (d *mockWorkerDialer) setUnreachable(addr string, unreachable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unreachable[addr] = unreachable
}

func (d *mockWorkerDialer) assigned(addr string) []core.TaskAssignment {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.assignments[addr])
}

func (d *mockWorkerDialer) all() []core.TaskAssignment {
	d.mu.Lock()
	defer d.mu.Unlock()
	var all []core.TaskAssignment
	for _, addr := range slices.Sorted(slices.Values(mapKeys(d.assignments))) {
		all = append(all, d.assignments[addr]...)
	}
	return all
}

type mockWorkerClient struct {
	addr   string
	dialer *mockWorkerDialer
}

func (c *mockWorkerClient) AssignTask(_ context.Context, assignment core.TaskAssignment) error {
	c.dialer.mu.Lock()
	defer c.dialer.mu.Unlock()
	if c.dialer.unreachable[c.addr] {
		return errs.New(errs.Unreachable, "assign task", "worker %s is unreachable", c.addr)
	}
	c.dialer.assignments[c.addr] = append(c.dialer.assignments[c.addr], assignment)
	return nil
}

type jobTestEnv struct {
	svc      *jobService
	store    *storage.InMemoryJobStore
	workers  core.WorkerService
	dialer   *mockWorkerDialer
	fs       *mockFileSystem
	clock    time.Time
	workerID map[string]uuid.UUID
}

func newJobTestEnv(t *testing.T) *jobTestEnv {
	t.Helper()
	env := &jobTestEnv{
		store:    storage.NewInMemoryJobStore(),
		workers:  NewWorkerService(storage.NewInMemoryWorkerStore(), logging.NewNopLogger()),
		dialer:   newMockWorkerDialer(),
		fs:       newMockFileSystem(),
		clock:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		workerID: make(map[string]uuid.UUID),
	}
	env.svc = env.newService(t)
	return env
}

func (env *jobTestEnv) newService(t *testing.T) *jobService {
	t.Helper()
	cfg := JobConfig{MaxAttempts: 3, TaskTimeout: time.Minute, ScratchDir: "/.mrfs/jobs", IntermediateReplication: 1}
	svc, err := NewJobService(cfg, env.store, env.workers, env.dialer, env.fs, logging.NewNopLogger())
	require.NoError(t, err)
	js := svc.(*jobService)
	js.now = func() time.Time { return env.clock }
	return js
}

// addWorker registers a worker whose id sorts by n.
func (env *jobTestEnv) addWorker(t *testing.T, n, slots int) string {
	t.Helper()
	id := uuid.MustParse("00000000-0000-0000-0000-" + strings.Repeat("0", 11) + string(rune('0'+n)))
	addr := "worker-" + string(rune('0'+n))
	require.NoError(t, env.workers.RegisterWorker(&core.Worker{ID: id, Address: addr, Slots: slots}))
	env.workerID[addr] = id
	return addr
}

func (env *jobTestEnv) submit(t *testing.T, numReducers int, inputs ...string) *core.Job {
	t.Helper()
	job := &core.Job{
		Name:   testJobName,
		Input:  core.InputConfig{Paths: inputs},
		Output: core.OutputConfig{Path: "/out"},
		Config: core.JobConfig{NumReducers: numReducers, MaxAttempts: 2},
	}
	require.NoError(t, env.svc.SubmitJob(context.Background(), job))
	return job
}

// complete reports a successful attempt, first writing the part file a
// reduce attempt would leave behind.
func (env *jobTestEnv) complete(t *testing.T, addr string, a core.TaskAssignment) {
	t.Helper()
	if a.Type == core.TaskTypeReduce {
		env.fs.put(path.Join(a.OutputDir, core.PartName(a.Index)), 3)
	}
	require.NoError(t, env.svc.ReportTaskResult(context.Background(), core.TaskReport{
		TaskID:   a.TaskID,
		WorkerID: env.workerID[addr],
		Attempt:  a.Attempt,
		Status:   core.TaskStatusCompleted,
	}))
}

func (env *jobTestEnv) fail(t *testing.T, addr string, a core.TaskAssignment) {
	t.Helper()
	require.NoError(t, env.svc.ReportTaskResult(context.Background(), core.TaskReport{
		TaskID:   a.TaskID,
		WorkerID: env.workerID[addr],
		Attempt:  a.Attempt,
		Status:   core.TaskStatusFailed,
		Kind:     errs.TaskFailed,
		Error:    "boom",
	}))
}

func (env *jobTestEnv) task(t *testing.T, jobID, taskID uuid.UUID) *core.Task {
	t.Helper()
	tasks, err := env.store.GetTasksByJobID(jobID)
	require.NoError(t, err)
	for _, task := range tasks {
		if task.ID == taskID {
			return task
		}
	}
	t.Fatalf("task %s not found", taskID)
	return nil
}

func TestSubmitJob_PlansTasks(t *testing.T) {
	env := newJobTestEnv(t)
	env.fs.put("/in/a.txt", 10, 10)
	env.fs.put("/in/b.txt", 5)
	env.fs.put("/in/_SUCCESS", 0)

	job := env.submit(t, 2, "/in")

	require.Equal(t, core.JobStatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)
	require.Equal(t, 3, job.Progress.Map.Total)
	require.Equal(t, 3, job.Progress.Map.Pending)
	require.Equal(t, 2, job.Progress.Reduce.Total)
	require.True(t, env.fs.has("/out"))

	tasks, err := env.svc.GetTasks(job.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 5)
	require.Equal(t, core.TaskTypeMap, tasks[0].Type)
	require.Equal(t, "/in/a.txt", tasks[0].Splits[0].Path)
	require.Equal(t, "/in/b.txt", tasks[2].Splits[0].Path)
	require.Equal(t, core.TaskTypeReduce, tasks[4].Type)
	require.Equal(t, 1, tasks[4].Index)

	stored, err := env.svc.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, core.JobStatusRunning, stored.Status)
}

func TestSubmitJob_Glob(t *testing.T) {
	env := newJobTestEnv(t)
	env.fs.put("/logs/a.log", 4)
	env.fs.put("/logs/b.txt", 4)
	env.fs.put("/logs/c.log", 4)

	job := env.submit(t, 1, "/logs/*.log", "/logs/a.log")

	tasks, err := env.svc.GetTasks(job.ID)
	require.NoError(t, err)
	var inputs []string
	for _, task := range tasks {
		for _, split := range task.Splits {
			inputs = append(inputs, split.Path)
		}
	}
	require.Equal(t, []string{"/logs/a.log", "/logs/c.log"}, inputs)
}

func TestSubmitJob_Rejected(t *testing.T) {
	t.Run("unknown job", func(t *testing.T) {
		env := newJobTestEnv(t)
		env.fs.put("/in/a", 1)
		err := env.svc.SubmitJob(context.Background(), &core.Job{
			Name:   "missing",
			Input:  core.InputConfig{Paths: []string{"/in"}},
			Output: core.OutputConfig{Path: "/out"},
		})
		require.True(t, errs.Is(err, errs.InvalidArgument))
	})

	t.Run("no matching inputs", func(t *testing.T) {
		env := newJobTestEnv(t)
		err := env.svc.SubmitJob(context.Background(), &core.Job{
			Name:   testJobName,
			Input:  core.InputConfig{Paths: []string{"/in/*.txt"}},
			Output: core.OutputConfig{Path: "/out"},
		})
		require.True(t, errs.Is(err, errs.InvalidArgument))
	})

	t.Run("missing input", func(t *testing.T) {
		env := newJobTestEnv(t)
		err := env.svc.SubmitJob(context.Background(), &core.Job{
			Name:   testJobName,
			Input:  core.InputConfig{Paths: []string{"/nope"}},
			Output: core.OutputConfig{Path: "/out"},
		})
		require.True(t, errs.Is(err, errs.NotFound))
	})

	t.Run("reserved output", func(t *testing.T) {
		env := newJobTestEnv(t)
		env.fs.put("/in/a", 1)
		err := env.svc.SubmitJob(context.Background(), &core.Job{
			Name:   testJobName,
			Input:  core.InputConfig{Paths: []string{"/in"}},
			Output: core.OutputConfig{Path: "/.mrfs/jobs/x"},
		})
		require.True(t, errs.Is(err, errs.InvalidArgument))
	})
}

func TestSubmitJob_ExistingOutput(t *testing.T) {
	t.Run("fails without overwrite", func(t *testing.T) {
		env := newJobTestEnv(t)
		env.fs.put("/in/a", 1)
		env.fs.put("/out/old", 1)

		job := &core.Job{
			Name:   testJobName,
			Input:  core.InputConfig{Paths: []string{"/in"}},
			Output: core.OutputConfig{Path: "/out"},
		}
		err := env.svc.SubmitJob(context.Background(), job)
		require.True(t, errs.Is(err, errs.JobFailed))
		require.True(t, env.fs.has("/out/old"))

		stored, err := env.svc.GetJob(job.ID)
		require.NoError(t, err)
		require.Equal(t, core.JobStatusFailed, stored.Status)
		require.NotNil(t, stored.Failure)
		require.Equal(t, errs.JobFailed, stored.Failure.Kind)
	})

	t.Run("overwrite replaces output", func(t *testing.T) {
		env := newJobTestEnv(t)
		env.fs.put("/in/a", 1)
		env.fs.put("/out/old", 1)

		job := &core.Job{
			Name:   testJobName,
			Input:  core.InputConfig{Paths: []string{"/in"}},
			Output: core.OutputConfig{Path: "/out", Overwrite: true},
		}
		require.NoError(t, env.svc.SubmitJob(context.Background(), job))
		require.False(t, env.fs.has("/out/old"))
		require.True(t, env.fs.has("/out"))
	})
}

func TestDispatch_NoWorkers(t *testing.T) {
	env := newJobTestEnv(t)
	env.fs.put("/in/a", 1)
	env.submit(t, 1, "/in")

	require.Zero(t, env.svc.Dispatch(context.Background()))
}

func TestDispatch_ReducesWaitForMaps(t *testing.T) {
	env := newJobTestEnv(t)
	worker := env.addWorker(t, 1, 4)
	env.fs.put("/in/a", 5)
	env.fs.put("/in/b", 5)
	job := env.submit(t, 1, "/in")

	require.Equal(t, 2, env.svc.Dispatch(context.Background()))
	maps := env.dialer.assigned(worker)
	require.Len(t, maps, 2)
	for _, a := range maps {
		require.Equal(t, core.TaskTypeMap, a.Type)
		require.Equal(t, 1, a.Attempt)
		require.Equal(t, testJobName, a.JobName)
		require.Equal(t, 1, a.Replication)
		require.Equal(t, core.AttemptDir(core.ScratchDir("/.mrfs/jobs", job.ID), core.TaskTypeMap, a.Index, 1), a.OutputDir)
	}

	env.complete(t, worker, maps[0])
	require.Zero(t, env.svc.Dispatch(context.Background()))

	env.complete(t, worker, maps[1])
	require.Equal(t, 1, env.svc.Dispatch(context.Background()))

	reduce := env.dialer.assigned(worker)[2]
	require.Equal(t, core.TaskTypeReduce, reduce.Type)
	require.Equal(t, []string{maps[0].OutputDir, maps[1].OutputDir}, reduce.Inputs)
}

func TestDispatch_LeastLoadedWorker(t *testing.T) {
	env := newJobTestEnv(t)
	first := env.addWorker(t, 1, 2)
	second := env.addWorker(t, 2, 2)
	for _, name := range []string{"a", "b", "c"} {
		env.fs.put("/in/"+name, 5)
	}
	env.submit(t, 1, "/in")

	require.Equal(t, 3, env.svc.Dispatch(context.Background()))
	require.Len(t, env.dialer.assigned(first), 2)
	require.Len(t, env.dialer.assigned(second), 1)
	require.Equal(t, 0, env.dialer.assigned(first)[0].Index)
	require.Equal(t, 1, env.dialer.assigned(second)[0].Index)
	require.Equal(t, 2, env.dialer.assigned(first)[1].Index)

	// Every slot is taken.
	require.Zero(t, env.svc.Dispatch(context.Background()))
}

func TestDispatch_RevertsUnreachableWorker(t *testing.T) {
	env := newJobTestEnv(t)
	worker := env.addWorker(t, 1, 1)
	env.fs.put("/in/a", 5)
	job := env.submit(t, 1, "/in")
	env.dialer.setUnreachable(worker, true)

	require.Zero(t, env.svc.Dispatch(context.Background()))

	tasks, err := env.svc.GetTasks(job.ID)
	require.NoError(t, err)
	require.Equal(t, core.TaskStatusPending, tasks[0].Status)
	require.Zero(t, tasks[0].Failures)

	env.dialer.setUnreachable(worker, false)
	require.Equal(t, 1, env.svc.Dispatch(context.Background()))
	require.Equal(t, 2, env.dialer.assigned(worker)[0].Attempt)
}

func TestJobLifecycle_Completes(t *testing.T) {
	env := newJobTestEnv(t)
	worker := env.addWorker(t, 1, 4)
	env.fs.put("/in/a", 5)
	job := env.submit(t, 2, "/in")
	scratch := core.ScratchDir("/.mrfs/jobs", job.ID)

	require.Equal(t, 1, env.svc.Dispatch(context.Background()))
	env.complete(t, worker, env.dialer.assigned(worker)[0])
	require.Equal(t, 2, env.svc.Dispatch(context.Background()))
	for _, a := range env.dialer.assigned(worker)[1:] {
		env.complete(t, worker, a)
	}

	stored, err := env.svc.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, core.JobStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	require.Equal(t, 2, stored.Progress.Reduce.Completed)

	require.True(t, env.fs.has("/out/part-00000"))
	require.True(t, env.fs.has("/out/part-00001"))
	require.True(t, env.fs.has("/out/"+core.SuccessMarker))
	require.False(t, env.fs.has(scratch))
}

func TestReportTaskResult_RetriesOnAnotherWorker(t *testing.T) {
	env := newJobTestEnv(t)
	first := env.addWorker(t, 1, 1)
	second := env.addWorker(t, 2, 1)
	env.fs.put("/in/a", 5)
	job := env.submit(t, 1, "/in")

	require.Equal(t, 1, env.svc.Dispatch(context.Background()))
	attempt := env.dialer.assigned(first)[0]
	env.fail(t, first, attempt)

	task := env.task(t, job.ID, attempt.TaskID)
	require.Equal(t, core.TaskStatusPending, task.Status)
	require.Equal(t, 1, task.Failures)
	require.Equal(t, []uuid.UUID{env.workerID[first]}, task.ExcludedWorkers)

	// The lowest id worker is free but the task already failed there.
	require.Equal(t, 1, env.svc.Dispatch(context.Background()))
	retry := env.dialer.assigned(second)[0]
	require.Equal(t, attempt.TaskID, retry.TaskID)
	require.Equal(t, 2, retry.Attempt)
	require.NotEqual(t, attempt.OutputDir, retry.OutputDir)

	env.complete(t, second, retry)
	task = env.task(t, job.ID, attempt.TaskID)
	require.Equal(t, core.TaskStatusCompleted, task.Status)
	require.Equal(t, retry.OutputDir, task.Output)

	stored, err := env.svc.GetJob(job.ID)
	require.NoError(t, err)
	require.Len(t, stored.Errors, 1)
	require.Equal(t, "boom", stored.Errors[0].Error)
}

func TestReportTaskResult_FailsJobAfterMaxAttempts(t *testing.T) {
	env := newJobTestEnv(t)
	worker := env.addWorker(t, 1, 2)
	env.fs.put("/in/a", 5)
	env.fs.put("/in/b", 5)
	job := env.submit(t, 1, "/in")

	require.Equal(t, 2, env.svc.Dispatch(context.Background()))
	first := env.dialer.assigned(worker)[0]
	env.fail(t, worker, first)

	// Only one worker, so the retry falls back to it.
	require.Equal(t, 1, env.svc.Dispatch(context.Background()))
	retry := env.dialer.assigned(worker)[2]
	require.Equal(t, first.TaskID, retry.TaskID)
	env.fail(t, worker, retry)

	stored, err := env.svc.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, core.JobStatusFailed, stored.Status)
	require.NotNil(t, stored.Failure)
	require.Equal(t, first.TaskID, stored.Failure.TaskID)
	require.Equal(t, core.TaskTypeMap, stored.Failure.TaskType)
	require.Equal(t, errs.TaskFailed, stored.Failure.Kind)
	require.Len(t, stored.Errors, 2)

	tasks, err := env.svc.GetTasks(job.ID)
	require.NoError(t, err)
	require.Equal(t, core.TaskStatusFailed, tasks[0].Status)
	require.Equal(t, core.TaskStatusCancelled, tasks[1].Status)
	require.Equal(t, core.TaskStatusCancelled, tasks[2].Status)
	require.False(t, env.fs.has("/out"))

	// The other attempt reports late and is ignored.
	env.complete(t, worker, env.dialer.assigned(worker)[1])
	tasks, err = env.svc.GetTasks(job.ID)
	require.NoError(t, err)
	require.Equal(t, core.TaskStatusCancelled, tasks[1].Status)
	require.Zero(t, env.svc.Dispatch(context.Background()))
}

func TestReportTaskResult_Stale(t *testing.T) {
	env := newJobTestEnv(t)
	worker := env.addWorker(t, 1, 1)
	env.fs.put("/in/a", 5)
	job := env.submit(t, 1, "/in")
	require.Equal(t, 1, env.svc.Dispatch(context.Background()))
	a := env.dialer.assigned(worker)[0]

	err := env.svc.ReportTaskResult(context.Background(), core.TaskReport{
		TaskID:   a.TaskID,
		WorkerID: env.workerID[worker],
		Attempt:  a.Attempt + 1,
		Status:   core.TaskStatusCompleted,
	})
	require.NoError(t, err)
	require.Equal(t, core.TaskStatusRunning, env.task(t, job.ID, a.TaskID).Status)

	err = env.svc.ReportTaskResult(context.Background(), core.TaskReport{
		TaskID:   a.TaskID,
		WorkerID: uuid.New(),
		Attempt:  a.Attempt,
		Status:   core.TaskStatusFailed,
	})
	require.NoError(t, err)
	require.Equal(t, core.TaskStatusRunning, env.task(t, job.ID, a.TaskID).Status)

	err = env.svc.ReportTaskResult(context.Background(), core.TaskReport{TaskID: uuid.New()})
	require.True(t, errs.Is(err, errs.NotFound))
}

func TestReportTaskResult_CommitFailure(t *testing.T) {
	env := newJobTestEnv(t)
	worker := env.addWorker(t, 1, 1)
	env.fs.put("/in/a", 5)
	job := env.submit(t, 1, "/in")

	require.Equal(t, 1, env.svc.Dispatch(context.Background()))
	env.complete(t, worker, env.dialer.assigned(worker)[0])
	require.Equal(t, 1, env.svc.Dispatch(context.Background()))

	env.fs.renameErr = errs.New(errs.Unreachable, "rename", "metadata unavailable")
	reduce := env.dialer.assigned(worker)[1]
	env.complete(t, worker, reduce)

	task := env.task(t, job.ID, reduce.TaskID)
	require.Equal(t, core.TaskStatusPending, task.Status)
	require.Equal(t, errs.Unreachable, task.ErrorKind)
}

func TestExpireTasks(t *testing.T) {
	env := newJobTestEnv(t)
	worker := env.addWorker(t, 1, 1)
	env.fs.put("/in/a", 5)
	job := env.submit(t, 1, "/in")
	require.Equal(t, 1, env.svc.Dispatch(context.Background()))
	a := env.dialer.assigned(worker)[0]

	env.clock = env.clock.Add(30 * time.Second)
	require.Zero(t, env.svc.ExpireTasks(context.Background()))

	env.clock = env.clock.Add(time.Minute)
	require.Equal(t, 1, env.svc.ExpireTasks(context.Background()))

	task := env.task(t, job.ID, a.TaskID)
	require.Equal(t, core.TaskStatusPending, task.Status)
	require.Equal(t, 1, task.Failures)
	require.Equal(t, errs.Timeout, task.ErrorKind)

	// The worker slot was released.
	require.Equal(t, 1, env.svc.Dispatch(context.Background()))
}

func TestRequeueWorkerTasks(t *testing.T) {
	env := newJobTestEnv(t)
	worker := env.addWorker(t, 1, 1)
	env.fs.put("/in/a", 5)
	job := env.submit(t, 1, "/in")
	require.Equal(t, 1, env.svc.Dispatch(context.Background()))
	a := env.dialer.assigned(worker)[0]
	select {
	case <-env.svc.Pending():
	default:
	}

	require.NoError(t, env.svc.RequeueWorkerTasks(env.workerID[worker]))

	task := env.task(t, job.ID, a.TaskID)
	require.Equal(t, core.TaskStatusPending, task.Status)
	require.Zero(t, task.Failures)
	require.Nil(t, task.WorkerID)

	select {
	case <-env.svc.Pending():
	default:
		t.Fatal("expected pending signal")
	}
}

func TestCancelJob(t *testing.T) {
	env := newJobTestEnv(t)
	worker := env.addWorker(t, 1, 1)
	env.fs.put("/in/a", 5)
	job := env.submit(t, 1, "/in")
	require.Equal(t, 1, env.svc.Dispatch(context.Background()))

	require.True(t, errs.Is(env.svc.CancelJob(context.Background(), uuid.New()), errs.NotFound))
	require.NoError(t, env.svc.CancelJob(context.Background(), job.ID))

	stored, err := env.svc.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, core.JobStatusCancelled, stored.Status)
	require.Equal(t, 1, stored.Progress.Map.Cancelled)
	require.False(t, env.fs.has("/out"))

	// Cancelling twice is a no-op.
	require.NoError(t, env.svc.CancelJob(context.Background(), job.ID))

	// The running attempt finishing later changes nothing.
	env.complete(t, worker, env.dialer.assigned(worker)[0])
	stored, err = env.svc.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, core.JobStatusCancelled, stored.Status)
}

func TestCancelJob_Completed(t *testing.T) {
	env := newJobTestEnv(t)
	worker := env.addWorker(t, 1, 2)
	env.fs.put("/in/a", 5)
	job := env.submit(t, 1, "/in")
	for range 2 {
		require.Equal(t, 1, env.svc.Dispatch(context.Background()))
		assigned := env.dialer.assigned(worker)
		env.complete(t, worker, assigned[len(assigned)-1])
	}

	err := env.svc.CancelJob(context.Background(), job.ID)
	require.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestCheckOutputs(t *testing.T) {
	env := newJobTestEnv(t)
	env.fs.put("/in/a", 5)
	job := env.submit(t, 1, "/in")

	require.Zero(t, env.svc.CheckOutputs(context.Background()))

	require.NoError(t, env.fs.Delete(context.Background(), "/out", true))
	require.Equal(t, 1, env.svc.CheckOutputs(context.Background()))

	stored, err := env.svc.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, core.JobStatusCancelled, stored.Status)
}

func TestNewJobService_ResumesJobs(t *testing.T) {
	env := newJobTestEnv(t)
	worker := env.addWorker(t, 1, 1)
	env.fs.put("/in/a", 5)
	job := env.submit(t, 1, "/in")
	require.Equal(t, 1, env.svc.Dispatch(context.Background()))
	lost := env.dialer.assigned(worker)[0]

	// A new coordinator over the same store.
	env.svc = env.newService(t)

	task := env.task(t, job.ID, lost.TaskID)
	require.Equal(t, core.TaskStatusPending, task.Status)

	require.Equal(t, 1, env.svc.Dispatch(context.Background()))
	resumed := env.dialer.assigned(worker)[1]
	require.Equal(t, lost.TaskID, resumed.TaskID)
	require.Equal(t, 2, resumed.Attempt)

	// The report of the attempt started before the restart is stale.
	env.complete(t, worker, lost)
	require.Equal(t, core.TaskStatusRunning, env.task(t, job.ID, lost.TaskID).Status)
}

func TestGetJobs(t *testing.T) {
	env := newJobTestEnv(t)
	env.fs.put("/in/a", 5)
	for i := range 3 {
		job := &core.Job{
			Name:   testJobName,
			Input:  core.InputConfig{Paths: []string{"/in"}},
			Output: core.OutputConfig{Path: "/out-" + string(rune('a'+i))},
		}
		require.NoError(t, env.svc.SubmitJob(context.Background(), job))
	}
	require.NoError(t, env.svc.CancelJob(context.Background(), env.svc.order[0]))

	running := core.JobStatusRunning
	jobs, total, err := env.svc.GetJobs(core.JobFilter{Status: &running, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, jobs, 2)

	_, err = env.svc.GetJob(uuid.New())
	require.True(t, errs.Is(err, errs.NotFound))
}

func TestDispatch_AllAssignments(t *testing.T) {
	env := newJobTestEnv(t)
	env.addWorker(t, 1, 1)
	env.addWorker(t, 2, 1)
	env.fs.put("/in/a", 5)
	env.fs.put("/in/b", 5)
	first := env.submit(t, 1, "/in/a")
	second := &core.Job{
		Name:   testJobName,
		Input:  core.InputConfig{Paths: []string{"/in/b"}},
		Output: core.OutputConfig{Path: "/out2"},
	}
	require.NoError(t, env.svc.SubmitJob(context.Background(), second))

	require.Equal(t, 2, env.svc.Dispatch(context.Background()))
	var jobIDs []uuid.UUID
	for _, a := range env.dialer.all() {
		jobIDs = append(jobIDs, a.JobID)
	}
	require.ElementsMatch(t, []uuid.UUID{first.ID, second.ID}, jobIDs)
}
