// Package workqueue is the in-memory worker pool that executes plain jobs.
// Pending jobs are deduplicated by key: adding a job whose key is already
// pending replaces the pending one.
package workqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/layerqueue/internal/job"
	"github.com/mattjoyce/layerqueue/internal/metrics"
)

// Queue runs job.Runner jobs on a fixed set of workers.
type Queue struct {
	workers int
	logger  *slog.Logger
	timing  *metrics.TimingGauge

	mu      sync.Mutex
	pending []job.Runner
	maxLen  int

	jobCount atomic.Int64
	running  atomic.Int64
	wake     chan struct{}

	stop context.CancelFunc
	wg   sync.WaitGroup
}

// New creates a queue with n workers. Workers run after Start.
func New(n int, logger *slog.Logger) *Queue {
	if n <= 0 {
		n = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		workers: n,
		logger:  logger,
		timing:  metrics.NewTimingGauge(),
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the workers. They exit when ctx ends or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.stop = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, i)
	}
	q.logger.Info("worker pool started", slog.Int("workers", q.workers))
}

// Stop cancels running jobs and waits for the workers to exit. Jobs still
// pending are torn down without running.
func (q *Queue) Stop() {
	if q.stop != nil {
		q.stop()
	}
	q.wg.Wait()

	q.mu.Lock()
	left := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, j := range left {
		j.Teardown()
	}
	q.logger.Info("worker pool stopped", slog.Int("dropped", len(left)))
}

// Add enqueues j. Jobs that cannot run on the pool are rejected.
func (q *Queue) Add(j job.Job) error {
	r, ok := j.(job.Runner)
	if !ok {
		return fmt.Errorf("job %q is not runnable on the worker pool", j.Key())
	}

	q.mu.Lock()
	replaced := false
	for i, p := range q.pending {
		if p.Key() == j.Key() {
			q.pending[i] = r
			replaced = true
			defer p.Teardown()
			break
		}
	}
	if !replaced {
		q.pending = append(q.pending, r)
	}
	if len(q.pending) > q.maxLen {
		q.maxLen = len(q.pending)
	}
	q.mu.Unlock()

	q.AddJobCount()
	q.signal()
	return nil
}

// Remove drops the pending job with j's key. Running jobs are unaffected.
func (q *Queue) Remove(j job.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.pending {
		if p.Key() == j.Key() {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

// QueueSize returns the number of pending jobs.
func (q *Queue) QueueSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// MaxQueueLength returns the most jobs ever pending at once.
func (q *Queue) MaxQueueLength() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxLen
}

// QueuedJobNames returns the keys of pending jobs in run order.
func (q *Queue) QueuedJobNames() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	names := make([]string, len(q.pending))
	for i, p := range q.pending {
		names[i] = p.Key()
	}
	return names
}

// Running returns the number of jobs currently executing.
func (q *Queue) Running() int { return int(q.running.Load()) }

// SetupTimingStatistics records one job duration in the queue-wide timing.
func (q *Queue) SetupTimingStatistics(ms int64) {
	q.timing.SetupTimingStatistics(ms)
}

// AddJobCount increments the total number of jobs accepted.
func (q *Queue) AddJobCount() { q.jobCount.Add(1) }

// JobCount returns the total number of jobs accepted.
func (q *Queue) JobCount() int64 { return q.jobCount.Load() }

// Timing returns the queue-wide timing gauge.
func (q *Queue) Timing() *metrics.TimingGauge { return q.timing }

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() job.Runner {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	j := q.pending[0]
	q.pending = q.pending[1:]
	if len(q.pending) > 0 {
		q.signal()
	}
	return j
}

func (q *Queue) work(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		j := q.pop()
		if j == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
			continue
		}
		q.execute(ctx, id, j)
	}
}

func (q *Queue) execute(ctx context.Context, worker int, j job.Runner) {
	q.running.Add(1)
	defer q.running.Add(-1)
	defer j.Teardown()

	logger := q.logger.With(slog.String("job_key", j.Key()), slog.Int("worker", worker))
	start := time.Now()
	err := q.run(ctx, j)
	ms := time.Since(start).Milliseconds()
	q.SetupTimingStatistics(ms)

	if err != nil {
		logger.Warn("plain job failed", slog.Int64("duration_ms", ms), slog.String("error", err.Error()))
		return
	}
	logger.Debug("plain job completed", slog.Int64("duration_ms", ms))
}

func (q *Queue) run(ctx context.Context, j job.Runner) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.Run(ctx)
}
