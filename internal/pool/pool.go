package pool

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// ErrPoolClosed is returned by Do after Close has been called.
var ErrPoolClosed = fmt.Errorf("pool is closed")

// Pool runs submitted functions on a fixed set of worker goroutines.
// Waveform decoding is CPU-bound and proportional to the audio length, so
// every decode call in the service is dispatched here instead of running on
// the caller's goroutine.
type Pool struct {
	tasks chan func()
	quit  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// New creates a pool with the given number of workers. Zero or negative
// worker counts fall back to the number of CPUs.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	p := &Pool{
		tasks: make(chan func()),
		quit:  make(chan struct{}),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

// worker executes handed-off tasks until the pool is closed.
func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case task := <-p.tasks:
			task()
		}
	}
}

// Do runs fn on a pool worker and waits for it to finish. If the context is
// cancelled before a worker picks the task up, Do returns the context error
// and fn never runs. Once started, fn runs to completion: a decode call
// cannot be aborted mid-flight.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}

	select {
	case p.tasks <- task:
	case <-p.quit:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	<-done
	return nil
}

// Close stops accepting tasks and waits for running tasks to finish.
// Idempotent.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}
