package local

import (
	"context"
	"errors"
	"sync"
)

// Task is a unit of work run by a Pool. ctx is cancelled once any task of the
// pool has failed.
type Task func(ctx context.Context) error

// Pool runs tasks on a fixed number of goroutines. The first failure cancels
// the pool: tasks that have not started yet are dropped and Wait reports
// every error returned by the tasks that did run.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan Task
	wg     sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

// NewPool starts size goroutines serving the pool.
func NewPool(ctx context.Context, size int) *Pool {
	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan Task),
	}
	for range max(size, 1) {
		p.wg.Go(p.serve)
	}
	return p
}

func (p *Pool) serve() {
	for task := range p.queue {
		if p.ctx.Err() != nil {
			continue
		}
		if err := task(p.ctx); err != nil {
			p.mu.Lock()
			p.errs = append(p.errs, err)
			p.mu.Unlock()
			p.cancel()
		}
	}
}

// Submit blocks until a goroutine picks task up. It panics after Wait.
func (p *Pool) Submit(task Task) {
	p.queue <- task
}

// Wait stops accepting tasks, waits for the running ones and returns their
// joined errors.
func (p *Pool) Wait() error {
	close(p.queue)
	p.wg.Wait()
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.errs...)
}
