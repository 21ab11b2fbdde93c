package local

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"

	coordcore "github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
)

const transferWorkers = 4

type EngineConfig struct {
	Job string
	// Input lists local files or doublestar patterns.
	Input []string
	// Output is the local directory that receives the part files.
	Output        string
	NumPartitions int
	NumReducers   int
	SpanRecords   bool
	UseCombiner   bool
}

// Engine runs a registered job over local files: it stages the input in the
// cluster file system, runs the job and copies the result back.
type Engine struct {
	cluster *Cluster
	config  EngineConfig
	logger  logging.Logger
}

func NewEngine(cluster *Cluster, config EngineConfig, logger logging.Logger) *Engine {
	return &Engine{cluster: cluster, config: config, logger: logger}
}

func (e *Engine) Run(ctx context.Context) (*coordcore.Job, error) {
	files, err := expandInputs(e.config.Input)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	root := path.Join("/local", id.String())
	inputDir := path.Join(root, "input")
	outputDir := path.Join(root, "output")

	if err := e.upload(ctx, files, inputDir); err != nil {
		return nil, err
	}

	job := &coordcore.Job{
		ID:     id,
		Name:   e.config.Job,
		Input:  coordcore.InputConfig{Paths: []string{inputDir}},
		Output: coordcore.OutputConfig{Path: outputDir},
		Config: coordcore.JobConfig{
			NumPartitions: e.config.NumPartitions,
			NumReducers:   e.config.NumReducers,
			SpanRecords:   e.config.SpanRecords,
			UseCombiner:   e.config.UseCombiner,
		},
	}
	if err := e.cluster.Submit(ctx, job); err != nil {
		return nil, err
	}
	e.logger.Info("Job submitted", "job_id", id.String(), "job", e.config.Job, "inputs", len(files))

	job, err = e.cluster.WaitJob(ctx, id)
	if err != nil {
		return job, err
	}
	if job.Status != coordcore.JobStatusCompleted {
		message := string(job.Status)
		if job.Failure != nil {
			message = job.Failure.Message
		}
		return job, errs.New(errs.JobFailed, "run job", "job %s did not complete: %s", id, message)
	}

	if err := e.download(ctx, outputDir); err != nil {
		return job, err
	}
	e.logger.Info("Job finished", "job_id", id.String(), "duration", job.Duration(), "output", e.config.Output)
	return job, nil
}

func (e *Engine) upload(ctx context.Context, files []string, dir string) error {
	fs := e.cluster.FileSystem()
	if err := fs.Mkdir(ctx, dir); err != nil {
		return err
	}

	pool := NewPool(ctx, transferWorkers)
	for i, file := range files {
		pool.Submit(func(ctx context.Context) error {
			return fs.CopyFromLocal(ctx, file, path.Join(dir, stagedName(i, file)))
		})
	}
	return pool.Wait()
}

func (e *Engine) download(ctx context.Context, dir string) error {
	if err := os.MkdirAll(e.config.Output, 0o755); err != nil {
		return errs.Wrap(errs.IOError, "create output", err)
	}

	fs := e.cluster.FileSystem()
	entries, err := fs.List(ctx, dir)
	if err != nil {
		return err
	}

	pool := NewPool(ctx, transferWorkers)
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		pool.Submit(func(ctx context.Context) error {
			return fs.CopyToLocal(ctx, entry.Path, filepath.Join(e.config.Output, entry.Name))
		})
	}
	return pool.Wait()
}
