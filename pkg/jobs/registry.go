// Package jobs maps job names onto the functions that implement them. Both
// the job coordinator and workers resolve submitted jobs by name, so every
// process must register the same jobs, usually through blank imports.
package jobs

import (
	"slices"
	"sync"

	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/pkg/core"
)

type Job struct {
	Map    core.MapFunc
	Reduce core.ReduceFunc
	// Combiner optionally pre-aggregates map output per partition. It must be
	// safe to apply zero or more times.
	Combiner core.ReduceFunc
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Job)
)

func Register(name string, job Job) error {
	if name == "" || job.Map == nil || job.Reduce == nil {
		return errs.New(errs.InvalidArgument, "register job", "job %q needs a name, map and reduce", name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		return errs.New(errs.AlreadyExists, "register job", "job already registered: %s", name)
	}
	registry[name] = job
	return nil
}

// MustRegister is Register for init functions.
func MustRegister(name string, job Job) {
	if err := Register(name, job); err != nil {
		panic(err)
	}
}

func Get(name string) (Job, error) {
	mu.RLock()
	defer mu.RUnlock()
	job, exists := registry[name]
	if !exists {
		return Job{}, errs.New(errs.NotFound, "get job", "job not found: %s", name)
	}
	return job, nil
}

// List returns registered job names in sorted order.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
