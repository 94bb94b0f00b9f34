// Package jobrunner executes scrape jobs on a bounded worker pool fed by an in-process
// queue and a periodic sweep of runnable jobs.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/domain/model"
)

var (
	// ErrQueueFull is returned by Enqueue when the queue has no free slot.
	// The job stays queued in storage and the sweep picks it up later.
	ErrQueueFull = errors.New("job queue is full")
	// ErrRunnerStopped is returned by Enqueue after the runner has shut down.
	ErrRunnerStopped = errors.New("job runner is stopped")
)

// Executor runs one job to its next persisted state.
type Executor interface {
	Execute(ctx context.Context, jobID string) (*model.Job, error)
}

// RunnableLister lists queued jobs whose next_run_at has passed.
type RunnableLister interface {
	ListRunnable(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// RunnerOptions configures the job runner.
type RunnerOptions struct {
	Executor Executor       // Required
	Jobs     RunnableLister // Optional: enables the sweep
	Clock    core.TimeProvider
	Logger   *slog.Logger

	Concurrency      int           // defaults to 1
	QueueSize        int           // defaults to 256
	SweepInterval    time.Duration // defaults to 5s
	ExecutionTimeout time.Duration // defaults to 2m
}

// Runner pulls job ids from its queue and executes them.
type Runner struct {
	exec    Executor
	jobs    RunnableLister
	clock   core.TimeProvider
	logger  *slog.Logger
	workers int
	sweep   time.Duration
	timeout time.Duration

	queue   chan string
	mu      sync.Mutex
	pending map[string]struct{}
	stopped bool
}

var _ core.JobQueue = (*Runner)(nil)

// NewRunner constructs a Runner. Enqueue may be called before Run.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Executor == nil {
		return nil, errors.New("executor is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = core.RealTimeProvider{}
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = 5 * time.Second
	}
	timeout := opts.ExecutionTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Runner{
		exec:    opts.Executor,
		jobs:    opts.Jobs,
		clock:   clock,
		logger:  logger.With("component", "job_runner"),
		workers: max(opts.Concurrency, 1),
		sweep:   sweep,
		timeout: timeout,
		queue:   make(chan string, queueSize),
		pending: make(map[string]struct{}),
	}, nil
}

// Enqueue hands a job id to the workers. An id that is already waiting is not queued twice.
func (r *Runner) Enqueue(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrRunnerStopped
	}
	if _, ok := r.pending[jobID]; ok {
		return nil
	}
	select {
	case r.queue <- jobID:
		r.pending[jobID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued ids not yet picked up by a worker.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Run starts the workers and the sweep and blocks until ctx is cancelled.
// In-flight executions finish on a context detached from ctx, bounded by the execution timeout.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner",
		"workers", r.workers,
		"queue_size", cap(r.queue),
		"sweep_interval", r.sweep,
		"execution_timeout", r.timeout,
	)

	var wg sync.WaitGroup
	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.workerLoop(ctx)
		}()
	}
	if r.jobs != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.sweepLoop(ctx)
		}()
	}

	<-ctx.Done()
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	wg.Wait()
	r.logger.Info("job runner stopped", "abandoned", r.Pending())
	return nil
}

func (r *Runner) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			r.mu.Lock()
			delete(r.pending, id)
			r.mu.Unlock()
			r.execute(ctx, id)
		}
	}
}

func (r *Runner) execute(ctx context.Context, jobID string) {
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	job, err := r.exec.Execute(execCtx, jobID)
	if err != nil {
		r.logger.ErrorContext(execCtx, "job execution error", "job_id", jobID, "error", err)
		return
	}
	if job != nil {
		r.logger.DebugContext(execCtx, "job executed", "job_id", jobID, "status", job.Status, "attempt", job.Attempt)
	}
}

func (r *Runner) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.sweep)
	defer ticker.Stop()

	if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
		r.logger.WarnContext(ctx, "initial sweep failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.WarnContext(ctx, "sweep failed", "error", err)
			}
		}
	}
}

// Sweep enqueues runnable jobs from storage until the queue is full. It returns the number enqueued.
func (r *Runner) Sweep(ctx context.Context) (int, error) {
	if r.jobs == nil {
		return 0, nil
	}
	free := cap(r.queue) - len(r.queue)
	if free <= 0 {
		return 0, nil
	}
	ids, err := r.jobs.ListRunnable(ctx, r.clock.Now(), free)
	if err != nil {
		return 0, fmt.Errorf("list runnable jobs: %w", err)
	}
	n := 0
	for _, id := range ids {
		if err := r.Enqueue(id); err != nil {
			if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrRunnerStopped) {
				break
			}
			return n, err
		}
		n++
	}
	if n > 0 {
		r.logger.DebugContext(ctx, "sweep enqueued jobs", "count", n)
	}
	return n, nil
}
