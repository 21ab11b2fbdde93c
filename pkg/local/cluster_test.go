package local

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coordcore "github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	"github.com/nemanja-m/mrfs/pkg/core"
	"github.com/nemanja-m/mrfs/pkg/jobs"

	"github.com/nemanja-m/mrfs/examples/wordcount"
)

const (
	flakyJob   = "local-flaky"
	failingJob = "local-failing"
)

var flakyCalls atomic.Int32

func init() {
	jobs.MustRegister(flakyJob, jobs.Job{
		Map: func(key, value string) []core.KeyValue {
			if flakyCalls.Add(1) <= 2 {
				panic("flaky map")
			}
			return wordcount.Map(key, value)
		},
		Reduce: wordcount.Reduce,
	})
	jobs.MustRegister(failingJob, jobs.Job{
		Map: func(string, string) []core.KeyValue {
			panic("broken map")
		},
		Reduce: wordcount.Reduce,
	})
}

func newTestCluster(t *testing.T, cfg ClusterConfig) *Cluster {
	t.Helper()
	cfg.DataDir = t.TempDir()
	c, err := NewCluster(context.Background(), cfg, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewCluster_RequiresDataDir(t *testing.T) {
	_, err := NewCluster(context.Background(), ClusterConfig{}, logging.NewNopLogger())
	require.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestCluster_FileRoundTripAcrossBlocks(t *testing.T) {
	c := newTestCluster(t, ClusterConfig{BlockSize: 16, Replication: 2})
	ctx := testContext(t)
	fs := c.FileSystem()

	data := bytes.Repeat([]byte("0123456789"), 10)
	require.NoError(t, fs.WriteFile(ctx, "/data/numbers.txt", data))
	c.WaitReplication()

	got, err := fs.ReadFile(ctx, "/data/numbers.txt")
	require.NoError(t, err)
	require.Equal(t, data, got)

	file, err := fs.Locate(ctx, "/data/numbers.txt")
	require.NoError(t, err)
	require.Len(t, file.Blocks, 7)
	require.Equal(t, int64(100), file.Entry.Length)

	r, err := fs.OpenAt(ctx, "/data/numbers.txt", 95)
	require.NoError(t, err)
	defer r.Close()
	tail := make([]byte, 10)
	n, _ := r.Read(tail)
	require.Equal(t, "56789", string(tail[:n]))
}

func TestCluster_WordCount(t *testing.T) {
	c := newTestCluster(t, ClusterConfig{})
	ctx := testContext(t)
	fs := c.FileSystem()

	require.NoError(t, fs.WriteFile(ctx, "/in/a.txt", []byte("a b a c a\n")))
	require.NoError(t, fs.WriteFile(ctx, "/in/b.txt", []byte("b a b c a\n")))

	job := &coordcore.Job{
		Name:   wordcount.Name,
		Input:  coordcore.InputConfig{Paths: []string{"/in"}},
		Output: coordcore.OutputConfig{Path: "/out"},
		Config: coordcore.JobConfig{NumPartitions: 2, NumReducers: 1},
	}
	require.NoError(t, c.Submit(ctx, job))

	done, err := c.WaitJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, coordcore.JobStatusCompleted, done.Status)
	require.Equal(t, 2, done.Progress.Map.Completed)
	require.Equal(t, 1, done.Progress.Reduce.Completed)

	out, err := fs.ReadFile(ctx, "/out/part-00000")
	require.NoError(t, err)
	require.Equal(t, "a\t5\nb\t3\nc\t2\n", string(out))

	exists, err := fs.Exists(ctx, "/out/"+coordcore.SuccessMarker)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestCluster_WordCountSingleFileTwoPartitions(t *testing.T) {
	// 20 bytes in blocks of 16: the block boundary falls on a space.
	c := newTestCluster(t, ClusterConfig{BlockSize: 16})
	ctx := testContext(t)
	fs := c.FileSystem()

	require.NoError(t, fs.WriteFile(ctx, "/in/words.txt", []byte("a b c a a a a b b c\n")))
	file, err := fs.Locate(ctx, "/in/words.txt")
	require.NoError(t, err)
	require.Len(t, file.Blocks, 2)

	job := &coordcore.Job{
		Name:   wordcount.Name,
		Input:  coordcore.InputConfig{Paths: []string{"/in/words.txt"}},
		Output: coordcore.OutputConfig{Path: "/out"},
		Config: coordcore.JobConfig{NumPartitions: 2, NumReducers: 1},
	}
	require.NoError(t, c.Submit(ctx, job))

	done, err := c.WaitJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, coordcore.JobStatusCompleted, done.Status)
	require.Equal(t, 2, done.Progress.Map.Total)
	require.Equal(t, 2, done.Progress.Map.Completed)
	require.Equal(t, 1, done.Progress.Reduce.Completed)

	out, err := fs.ReadFile(ctx, "/out/part-00000")
	require.NoError(t, err)
	require.Equal(t, "a\t5\nb\t3\nc\t2\n", string(out))
}

func TestCluster_RetriesFailedTasks(t *testing.T) {
	flakyCalls.Store(0)
	c := newTestCluster(t, ClusterConfig{MaxAttempts: 3})
	ctx := testContext(t)
	fs := c.FileSystem()

	require.NoError(t, fs.WriteFile(ctx, "/in/line.txt", []byte("x y x\n")))

	job := &coordcore.Job{
		Name:   flakyJob,
		Input:  coordcore.InputConfig{Paths: []string{"/in/line.txt"}},
		Output: coordcore.OutputConfig{Path: "/out"},
	}
	require.NoError(t, c.Submit(ctx, job))

	done, err := c.WaitJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, coordcore.JobStatusCompleted, done.Status)
	require.Len(t, done.Errors, 2)
	for _, jobErr := range done.Errors {
		require.Equal(t, errs.TaskFailed, jobErr.Kind)
		require.Contains(t, jobErr.Error, "flaky map")
	}

	out, err := fs.ReadFile(ctx, "/out/part-00000")
	require.NoError(t, err)
	require.Equal(t, "x\t2\ny\t1\n", string(out))
}

func TestCluster_FailsJobAfterMaxAttempts(t *testing.T) {
	c := newTestCluster(t, ClusterConfig{MaxAttempts: 2})
	ctx := testContext(t)
	fs := c.FileSystem()

	require.NoError(t, fs.WriteFile(ctx, "/in/line.txt", []byte("x y x\n")))

	job := &coordcore.Job{
		Name:   failingJob,
		Input:  coordcore.InputConfig{Paths: []string{"/in"}},
		Output: coordcore.OutputConfig{Path: "/out"},
	}
	require.NoError(t, c.Submit(ctx, job))

	done, err := c.WaitJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, coordcore.JobStatusFailed, done.Status)
	require.NotNil(t, done.Failure)
	require.Equal(t, errs.TaskFailed, done.Failure.Kind)
	require.Equal(t, coordcore.TaskTypeMap, done.Failure.TaskType)
	require.Len(t, done.Errors, 2)

	exists, err := fs.Exists(ctx, "/out/"+coordcore.SuccessMarker)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestCluster_RejectsExistingOutput(t *testing.T) {
	c := newTestCluster(t, ClusterConfig{})
	ctx := testContext(t)
	fs := c.FileSystem()

	require.NoError(t, fs.WriteFile(ctx, "/in/a.txt", []byte("a\n")))
	require.NoError(t, fs.Mkdir(ctx, "/out"))

	err := c.Submit(ctx, &coordcore.Job{
		Name:   wordcount.Name,
		Input:  coordcore.InputConfig{Paths: []string{"/in"}},
		Output: coordcore.OutputConfig{Path: "/out"},
	})
	require.Error(t, err)
}

func TestCluster_RepairRestoresReadability(t *testing.T) {
	c := newTestCluster(t, ClusterConfig{StorageNodes: 3, Replication: 2})
	ctx := testContext(t)
	fs := c.FileSystem()
	network := c.Network()

	first, second, third := c.NodeAddr(0), c.NodeAddr(1), c.NodeAddr(2)

	// Only the first node accepts the block.
	network.SetReachable(second, false)
	network.SetReachable(third, false)
	require.NoError(t, fs.WriteFile(ctx, "/data/report.txt", []byte("quarterly numbers\n")))
	c.WaitReplication()

	network.SetReachable(first, false)
	network.SetReachable(second, true)
	network.SetReachable(third, true)

	_, err := fs.ReadFile(ctx, "/data/report.txt")
	require.True(t, errs.Is(err, errs.Unreadable), "got %v", err)

	network.SetReachable(first, true)
	require.Positive(t, c.RunRepair(ctx))

	network.SetReachable(first, false)
	got, err := fs.ReadFile(ctx, "/data/report.txt")
	require.NoError(t, err)
	require.Equal(t, "quarterly numbers\n", string(got))
}

func TestNetwork_UnreachableWorker(t *testing.T) {
	c := newTestCluster(t, ClusterConfig{Workers: 1})
	network := c.Network()
	network.SetReachable(c.WorkerAddr(0), false)

	client, err := network.Workers().Dial(c.WorkerAddr(0))
	require.NoError(t, err)

	err = client.AssignTask(context.Background(), coordcore.TaskAssignment{})
	require.True(t, errs.Is(err, errs.Unreachable))
	require.True(t, strings.Contains(err.Error(), c.WorkerAddr(0)))
}
