// Package worker runs request jobs on a bounded goroutine pool.
package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New("worker: pool stopped")

// Job is one unit of work.  ctx is the context passed to Submit.
type Job func(ctx context.Context)

// Pool manages a fixed number of goroutines that drain a shared job queue.
//
// The queue buffers workerCount*4 jobs; Submit blocks when it is full.
type Pool struct {
	workerCount int
	jobQueue    chan func()
	wg          sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewPool creates a Pool with workerCount goroutines.  A non-positive count
// means one worker.
func NewPool(workerCount int) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Pool{
		workerCount: workerCount,
		jobQueue:    make(chan func(), workerCount*4),
	}
}

// Workers returns the number of goroutines.
func (p *Pool) Workers() int { return p.workerCount }

// Start launches the worker goroutines.  It must be called exactly once.
func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobQueue {
				job()
			}
		}()
	}
}

// Submit enqueues job.  It blocks while the queue is full and gives up when
// ctx is done.  Jobs whose ctx is done by the time a worker picks them up
// still run; they see the cancelled ctx.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobQueue <- func() { job(ctx) }:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop lets queued jobs finish and waits for the workers to exit.  It is
// safe to call more than once.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobQueue)
	p.mu.Unlock()
	p.wg.Wait()
}

// Run calls fn for i in [0, n) on a pool of concurrency workers and returns
// the errors indexed by i.  Once ctx is done the remaining indexes are not
// scheduled and report ctx.Err().
func Run(ctx context.Context, n, concurrency int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	p := NewPool(min(concurrency, max(n, 1)))
	p.Start()
	for i := range n {
		if err := p.Submit(ctx, func(ctx context.Context) { errs[i] = fn(ctx, i) }); err != nil {
			for j := i; j < n; j++ {
				errs[j] = err
			}
			break
		}
	}
	p.Stop()
	return errs
}
