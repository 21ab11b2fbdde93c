package service

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	coordcore "github.com/nemanja-m/mrfs/internal/coordinator/core"
	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/internal/shared/logging"
	"github.com/nemanja-m/mrfs/internal/worker/core"
	pkgcore "github.com/nemanja-m/mrfs/pkg/core"
	"github.com/nemanja-m/mrfs/pkg/dfs"
	"github.com/nemanja-m/mrfs/pkg/jobs"
)

// maxFetchers bounds how many map outputs a reduce attempt reads at once.
const maxFetchers = 8

// FileStore is the slice of the file system a task attempt reads and writes.
type FileStore interface {
	OpenAt(ctx context.Context, path string, offset int64) (io.ReadCloser, error)
	// Create starts a new file. Zero replication uses the store's default.
	Create(ctx context.Context, path string, replication int) (io.WriteCloser, error)
}

type dfsFileStore struct {
	fs *dfs.FileSystem
}

func NewDFSFileStore(fs *dfs.FileSystem) FileStore {
	return &dfsFileStore{fs: fs}
}

func (s *dfsFileStore) OpenAt(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	r, err := s.fs.OpenAt(ctx, path, offset)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *dfsFileStore) Create(ctx context.Context, path string, replication int) (io.WriteCloser, error) {
	var opts []dfs.CreateOption
	if replication > 0 {
		opts = append(opts, dfs.WithReplication(replication))
	}
	w, err := s.fs.Create(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	return w, nil
}

type mapReduceExecutor struct {
	store  FileStore
	logger logging.Logger
}

func NewMapReduceExecutor(store FileStore, logger logging.Logger) core.TaskExecutor {
	return &mapReduceExecutor{store: store, logger: logger}
}

func (e *mapReduceExecutor) Execute(ctx context.Context, assignment coordcore.TaskAssignment) (string, error) {
	job, err := jobs.Get(assignment.JobName)
	if err != nil {
		return "", errs.Wrap(errs.TaskFailed, "execute task", err)
	}

	switch assignment.Type {
	case coordcore.TaskTypeMap:
		err = e.runMap(ctx, job, assignment)
	case coordcore.TaskTypeReduce:
		err = e.runReduce(ctx, job, assignment)
	default:
		err = errs.New(errs.InvalidArgument, "execute task", "unknown task type %q", assignment.Type)
	}
	if err != nil {
		return "", err
	}
	return assignment.OutputDir, nil
}

func (e *mapReduceExecutor) runMap(ctx context.Context, job jobs.Job, a coordcore.TaskAssignment) error {
	numReducers := max(a.NumReducers, 1)
	combine := a.UseCombiner && job.Combiner != nil

	sink, err := newPartitionSink(ctx, e.store, a.OutputDir, numReducers, a.Replication, combine)
	if err != nil {
		return err
	}

	emit := func(key, value string) error {
		for _, kv := range job.Map(key, value) {
			if err := sink.add(kv); err != nil {
				return err
			}
		}
		return nil
	}

	records := 0
	for _, split := range a.Splits {
		n, err := e.scanSplit(ctx, split, a.SpanRecords, emit)
		records += n
		if err != nil {
			sink.abort()
			return err
		}
	}

	if err := sink.close(job.Combiner); err != nil {
		return err
	}
	e.logger.Debug("Map attempt finished", "task_id", a.TaskID.String(), "records", records)
	return nil
}

// scanSplit feeds the lines of one split to emit, keyed by their byte offset.
// With spanRecords a line belongs to the split it starts in: a split skips
// the partial line at its start and reads past its end to finish the last
// line. Otherwise the split is cut exactly at its byte range.
func (e *mapReduceExecutor) scanSplit(ctx context.Context, split coordcore.Split, spanRecords bool, emit func(key, value string) error) (int, error) {
	start := split.Offset
	end := split.Offset + split.Length
	if spanRecords && start > 0 {
		start--
	}

	file, err := e.store.OpenAt(ctx, split.Path, start)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var src io.Reader = file
	if !spanRecords {
		src = io.LimitReader(file, split.Length)
	}
	reader := bufio.NewReader(src)

	pos := start
	if spanRecords && split.Offset > 0 {
		skipped, err := reader.ReadString('\n')
		pos += int64(len(skipped))
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
	}

	records := 0
	for pos < end {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			value := strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
			if emitErr := emit(strconv.FormatInt(pos, 10), value); emitErr != nil {
				return records, emitErr
			}
			records++
			pos += int64(len(line))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return records, err
		}
		if err := ctx.Err(); err != nil {
			return records, err
		}
	}
	return records, nil
}

func (e *mapReduceExecutor) runReduce(ctx context.Context, job jobs.Job, a coordcore.TaskAssignment) error {
	fetched := make([][]pkgcore.KeyValue, len(a.Inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxFetchers)
	for i, input := range a.Inputs {
		g.Go(func() error {
			kvs, err := e.fetch(gctx, coordcore.IntermediatePath(input, a.Index))
			if err != nil {
				return err
			}
			fetched[i] = kvs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	groups := make(map[string][]string)
	var keys []string
	for _, kvs := range fetched {
		for _, kv := range kvs {
			if _, seen := groups[kv.Key]; !seen {
				keys = append(keys, kv.Key)
			}
			groups[kv.Key] = append(groups[kv.Key], kv.Value)
		}
	}
	slices.Sort(keys)

	out, err := e.store.Create(ctx, path.Join(a.OutputDir, coordcore.PartName(a.Index)), a.Replication)
	if err != nil {
		return err
	}
	writer := bufio.NewWriter(out)
	for _, key := range keys {
		for _, kv := range job.Reduce(key, groups[key]) {
			if _, err := writer.WriteString(kv.Key + "\t" + kv.Value + "\n"); err != nil {
				out.Close()
				return errs.Wrap(errs.IOError, "write reduce output", err)
			}
		}
	}
	if err := writer.Flush(); err != nil {
		out.Close()
		return errs.Wrap(errs.IOError, "write reduce output", err)
	}
	e.logger.Debug("Reduce attempt finished", "task_id", a.TaskID.String(), "keys", len(keys))
	return out.Close()
}

// fetch reads one intermediate file written by a map attempt.
func (e *mapReduceExecutor) fetch(ctx context.Context, name string) ([]pkgcore.KeyValue, error) {
	file, err := e.store.OpenAt(ctx, name, 0)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var kvs []pkgcore.KeyValue
	decoder := json.NewDecoder(bufio.NewReader(file))
	for {
		var kv pkgcore.KeyValue
		err := decoder.Decode(&kv)
		if errors.Is(err, io.EOF) {
			return kvs, nil
		}
		if err != nil {
			if errs.KindOf(err) == errs.Internal {
				return nil, errs.Wrap(errs.IOError, "decode intermediate data", err)
			}
			return nil, err
		}
		kvs = append(kvs, kv)
	}
}

// partitionSink routes map output to one intermediate file per reducer. When
// combining, pairs are held until close so the combiner sees every value of a
// key.
type partitionSink struct {
	files    []io.WriteCloser
	writers  []*bufio.Writer
	encoders []*json.Encoder
	combine  bool
	held     []pkgcore.KeyValue
}

func newPartitionSink(ctx context.Context, store FileStore, dir string, n, replication int, combine bool) (*partitionSink, error) {
	s := &partitionSink{combine: combine}
	for r := 0; r < n; r++ {
		file, err := store.Create(ctx, coordcore.IntermediatePath(dir, r), replication)
		if err != nil {
			s.abort()
			return nil, err
		}
		writer := bufio.NewWriter(file)
		s.files = append(s.files, file)
		s.writers = append(s.writers, writer)
		s.encoders = append(s.encoders, json.NewEncoder(writer))
	}
	return s, nil
}

func (s *partitionSink) add(kv pkgcore.KeyValue) error {
	if s.combine {
		s.held = append(s.held, kv)
		return nil
	}
	return s.write(kv)
}

func (s *partitionSink) write(kv pkgcore.KeyValue) error {
	r := pkgcore.Partition(kv.Key, len(s.encoders))
	if err := s.encoders[r].Encode(kv); err != nil {
		return errs.Wrap(errs.IOError, "write intermediate data", err)
	}
	return nil
}

func (s *partitionSink) close(combiner pkgcore.ReduceFunc) error {
	if s.combine {
		for _, kv := range combineAll(s.held, combiner) {
			if err := s.write(kv); err != nil {
				s.abort()
				return err
			}
		}
	}

	for r, writer := range s.writers {
		if err := writer.Flush(); err != nil {
			s.abort()
			return errs.Wrap(errs.IOError, "write intermediate data", err)
		}
		if err := s.files[r].Close(); err != nil {
			s.files = s.files[r+1:]
			s.abort()
			return err
		}
	}
	return nil
}

func (s *partitionSink) abort() {
	for _, file := range s.files {
		_ = file.Close()
	}
	s.files = nil
}

// combineAll applies combiner to the values of each key in first-seen order.
func combineAll(kvs []pkgcore.KeyValue, combiner pkgcore.ReduceFunc) []pkgcore.KeyValue {
	groups := make(map[string][]string)
	var keys []string
	for _, kv := range kvs {
		if _, seen := groups[kv.Key]; !seen {
			keys = append(keys, kv.Key)
		}
		groups[kv.Key] = append(groups[kv.Key], kv.Value)
	}

	var out []pkgcore.KeyValue
	for _, key := range keys {
		out = append(out, combiner(key, groups[key])...)
	}
	return out
}
