// Package pool provides a bounded worker pool used by the node agent to run
// incoming node calls without spawning an unbounded number of goroutines.
package pool

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrQueueFull    = errors.New("job queue is full")
	ErrShuttingDown = errors.New("pool is shutting down")
)

// Job is a named unit of work.
type Job struct {
	name string
	fn   func() error
}

// Pool runs submitted jobs on a fixed set of workers.
type Pool struct {
	maxWorkers int
	jobQueue   chan *Job
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	active     atomic.Int32
}

// NewPool creates a pool and starts its workers. Non-positive arguments fall
// back to 10 workers and a queue ten times the worker count.
func NewPool(maxWorkers int, queueSize int) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	if queueSize <= 0 {
		queueSize = maxWorkers * 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		maxWorkers: maxWorkers,
		jobQueue:   make(chan *Job, queueSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobQueue:
			p.run(job)
		case <-p.ctx.Done():
			// drain what was accepted before shutdown
			for {
				select {
				case job := <-p.jobQueue:
					p.run(job)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) run(job *Job) {
	p.active.Add(1)
	defer p.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("job", job.name).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in pool worker.")
		}
	}()

	if err := job.fn(); err != nil {
		log.Debug().Err(err).Str("job", job.name).Msg("Pool job returned an error.")
	}
}

// Submit queues fn without blocking. It fails with ErrQueueFull when no slot
// is free and with ErrShuttingDown once Shutdown has been called.
func (p *Pool) Submit(ctx context.Context, name string, fn func() error) error {
	if p.IsShuttingDown() {
		return ErrShuttingDown
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrShuttingDown
	case p.jobQueue <- &Job{name: name, fn: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Active returns the number of jobs currently executing.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// QueueSize returns the number of jobs waiting for a worker.
func (p *Pool) QueueSize() int {
	return len(p.jobQueue)
}

func (p *Pool) MaxWorkers() int {
	return p.maxWorkers
}

// Shutdown stops accepting jobs, lets workers drain the queue and waits up
// to timeout for them to exit.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("pool shutdown timed out after " + timeout.String())
	}
}

func (p *Pool) IsShuttingDown() bool {
	select {
	case <-p.ctx.Done():
		return true
	default:
		return false
	}
}
