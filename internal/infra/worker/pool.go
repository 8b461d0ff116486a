// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"sms-agent/internal/infra/metrics"
)

var (
	ErrQueueFull   = errors.New("worker queue full")
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Task is a unit of background work.
type Task = func(ctx context.Context) error

// TaskError is delivered on Pool.Errors for a task that failed or panicked.
type TaskError struct {
	Task string
	Err  error
}

func (e TaskError) Error() string { return e.Task + ": " + e.Err.Error() }
func (e TaskError) Unwrap() error { return e.Err }

// Pool is a small fixed-size executor for fire-and-forget work. Task
// failures never reach the submitter; they go to the Errors channel.
type Pool struct {
	wg     sync.WaitGroup
	jobs   chan namedTask
	errs   chan TaskError
	quit   chan struct{}
	n      int
	log    *zerolog.Logger
	mu     sync.RWMutex
	closed bool
}

type namedTask struct {
	name string
	run  Task
}

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Pool{
		jobs: make(chan namedTask, workers*4),
		errs: make(chan TaskError, workers*4),
		quit: make(chan struct{}),
		n:    workers,
		log:  logger,
	}
}

// Errors returns the channel failed tasks are reported on. When nobody
// drains it and it is full, further errors are logged and dropped.
func (p *Pool) Errors() <-chan TaskError { return p.errs }

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.quit:
					return
				case t := <-p.jobs:
					p.run(ctx, id, t)
				}
			}
		}(i)
	}
}

func (p *Pool) run(ctx context.Context, id int, t namedTask) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncBackgroundTask(t.name, "panic")
			p.report(TaskError{Task: t.name, Err: fmt.Errorf("panic: %v\n%s", r, debug.Stack())})
		}
	}()
	if err := t.run(ctx); err != nil {
		metrics.IncBackgroundTask(t.name, "error")
		p.report(TaskError{Task: t.name, Err: err})
		return
	}
	metrics.IncBackgroundTask(t.name, "ok")
	p.log.Trace().Int("worker", id).Str("task", t.name).Msg("task done")
}

func (p *Pool) report(te TaskError) {
	select {
	case p.errs <- te:
	default:
		metrics.IncBackgroundTask(te.Task, "dropped_error")
		p.log.Warn().Err(te.Err).Str("task", te.Task).Msg("error channel full; dropping task error")
	}
}

// Stop stops the workers and waits for in-flight tasks. Queued tasks that
// have not started are discarded. Submit fails afterwards.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.quit)
	p.mu.Unlock()
	p.wg.Wait()
}

// Submit enqueues task without blocking.
func (p *Pool) Submit(name string, task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- namedTask{name: name, run: task}:
		return nil
	default:
		// drop when saturated to avoid back-pressure on the reply path
		metrics.IncBackgroundTask(name, "rejected")
		return ErrQueueFull
	}
}

// LogErrors drains Errors into logger until ctx is done.
func (p *Pool) LogErrors(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case te := <-p.errs:
			logger.Warn().Err(te.Err).Str("task", te.Task).Msg("background task failed")
		}
	}
}
