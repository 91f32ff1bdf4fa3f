package analysis

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

// ErrPoolClosed is returned by Do after Close
var ErrPoolClosed = errors.New("analysis pool closed")

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Pool runs CPU-bound analyses on a fixed set of goroutines
type Pool struct {
	jobs    chan job
	quit    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	workers int
}

// NewPool starts a pool with the given number of workers; zero or less uses
// one worker per CPU
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	p := &Pool{
		jobs:    make(chan job),
		quit:    make(chan struct{}),
		workers: workers,
	}

	for range workers {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case j := <-p.jobs:
			// Jobs whose caller already gave up are skipped
			if err := j.ctx.Err(); err != nil {
				j.done <- err
				continue
			}
			j.done <- j.fn(j.ctx)
		}
	}
}

// Workers returns the number of worker goroutines
func (p *Pool) Workers() int {
	return p.workers
}

// Do runs fn on a worker and waits for it. If ctx ends first, Do returns the
// context error; fn receives the same ctx and should stop early.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolClosed
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the workers after their current jobs finish
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
}
