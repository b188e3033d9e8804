// Package workerpool provides a bounded worker pool with per-task retries.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("worker pool is stopped")

// Task represents a unit of work to be processed
type Task struct {
	ID      string
	Payload interface{}

	ctx  context.Context
	done chan *Result
}

// Result represents the outcome of task processing
type Result struct {
	TaskID   string
	Attempts int
	Data     interface{}
	Err      error
}

// WorkerFunc processes one task. A returned error is retried unless it is
// marked permanent with Permanent.
type WorkerFunc func(ctx context.Context, task *Task) (interface{}, error)

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Config holds worker pool configuration
type Config struct {
	Workers   int
	QueueSize int
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// RetryDelay is multiplied by the attempt number between retries
	RetryDelay time.Duration
	// ShutdownTimeout bounds how long Stop waits for in-flight tasks
	ShutdownTimeout time.Duration
}

// DefaultConfig returns defaults sized for narrative ingestion.
func DefaultConfig() Config {
	return Config{
		Workers:         8,
		QueueSize:       256,
		MaxRetries:      2,
		RetryDelay:      200 * time.Millisecond,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Retried   int64
	Queued    int
}

// Pool runs tasks on a fixed set of goroutines.
type Pool struct {
	cfg    Config
	fn     WorkerFunc
	logger *zap.Logger

	tasks    chan *Task
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopping chan struct{}
	mu       sync.RWMutex

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
}

// New creates a pool. Call Start before submitting.
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, errors.New("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	return &Pool{
		cfg:      cfg,
		fn:       fn,
		logger:   logger,
		tasks:    make(chan *Task, cfg.QueueSize),
		stopping: make(chan struct{}),
	}, nil
}

// Start launches all workers
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.cfg.Workers),
		zap.Int("queue_size", p.cfg.QueueSize))
}

// Submit queues a task, blocking while the queue is full, and waits for its
// result. ctx bounds both the wait and the task's execution.
func (p *Pool) Submit(ctx context.Context, id string, payload interface{}) (*Result, error) {
	task := &Task{ID: id, Payload: payload, ctx: ctx, done: make(chan *Result, 1)}

	if err := p.enqueue(ctx, task); err != nil {
		return nil, err
	}

	select {
	case res := <-task.done:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) enqueue(ctx context.Context, task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	select {
	case <-p.stopping:
		return ErrStopped
	default:
	}

	select {
	case p.tasks <- task:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopping:
		return ErrStopped
	}
}

// Stop rejects new work and waits up to ShutdownTimeout for queued tasks.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopping)

		// Submitters hold the read lock while sending.
		p.mu.Lock()
		close(p.tasks)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("worker pool stopped")
		case <-time.After(p.cfg.ShutdownTimeout):
			p.logger.Warn("worker pool shutdown timed out")
		}
	})
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Retried:   p.retried.Load(),
		Queued:    len(p.tasks),
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		res := p.run(task)
		if res.Err != nil {
			p.failed.Add(1)
			p.logger.Error("task failed",
				zap.String("task_id", task.ID),
				zap.Int("worker_id", id),
				zap.Int("attempts", res.Attempts),
				zap.Error(res.Err))
		} else {
			p.completed.Add(1)
		}
		task.done <- res
	}
}

func (p *Pool) run(task *Task) *Result {
	ctx := task.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	res := &Result{TaskID: task.ID}
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		res.Attempts = attempt + 1
		data, err := p.fn(ctx, task)
		if err == nil {
			res.Data = data
			res.Err = nil
			return res
		}
		res.Err = err

		var perm permanentError
		if errors.As(err, &perm) || attempt == p.cfg.MaxRetries {
			break
		}

		p.retried.Add(1)
		p.logger.Debug("retrying task",
			zap.String("task_id", task.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		case <-time.After(p.cfg.RetryDelay * time.Duration(attempt+1)):
		}
	}

	if res.Attempts > 1 {
		res.Err = fmt.Errorf("task failed after %d attempts: %w", res.Attempts, res.Err)
	}
	return res
}
