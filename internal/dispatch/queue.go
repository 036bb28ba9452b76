package dispatch

import (
	"fmt"
	"log/slog"

	"github.com/mattjoyce/layerqueue/internal/inflight"
	"github.com/mattjoyce/layerqueue/internal/job"
	"github.com/mattjoyce/layerqueue/internal/log"
	"github.com/mattjoyce/layerqueue/internal/metrics"
)

// Queue routes jobs to the worker pool or the command engine and merges
// the statistics of both.
type Queue struct {
	plain    PlainQueue
	registry *inflight.Registry
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// New creates a Queue delegating plain jobs to plain and recording command
// job metrics in collector. A nil logger uses the "dispatch" component logger.
func New(plain PlainQueue, collector *metrics.Collector, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = log.WithComponent("dispatch")
	}
	return &Queue{
		plain:    plain,
		registry: inflight.New(),
		metrics:  collector,
		logger:   logger,
	}
}

// Add submits j. Any job already registered under j's key is removed and
// cancelled first. Failures are logged, never returned.
func (q *Queue) Add(j job.Job) {
	if j == nil {
		return
	}
	defer q.logPanic("add", j)

	q.Remove(j)

	cj, ok := j.(job.CommandJob)
	if !ok {
		if err := q.plain.Add(j); err != nil {
			q.logger.Error("plain job rejected", slog.String("job_key", j.Key()), slog.String("error", err.Error()))
		}
		return
	}

	key := cj.Key()
	if key == "" {
		q.logger.Error("command job has no key, dropped")
		return
	}
	if h, ok := q.registry.Get(key); ok {
		h.Cancel(true)
	}

	q.plain.AddJobCount()
	q.registry.Swap(key, cj.Queue())

	if lj, ok := j.(job.LayerCommandJob); ok {
		q.metrics.Meter(job.MetricID(lj)).Inc()
	}
	q.logger.Debug("command job queued", slog.String("job_key", key))
}

// Remove cancels j if it is in flight, or drops it from the worker pool.
func (q *Queue) Remove(j job.Job) {
	if j == nil {
		return
	}
	defer q.logPanic("remove", j)

	if _, ok := j.(job.CommandJob); !ok {
		q.plain.Remove(j)
		return
	}
	if _, ok := q.registry.Remove(j.Key()); ok {
		q.logger.Debug("command job cancelled", slog.String("job_key", j.Key()))
	}
}

// Cleanup drops finished executions from the registry. With force set,
// executions still running are interrupted and dropped as well.
func (q *Queue) Cleanup(force bool) {
	if n := q.registry.Sweep(force); n > 0 {
		q.logger.Debug("in-flight registry swept", slog.Int("removed", n), slog.Bool("force", force))
	}
}

// QueueSize is the worker pool size plus the number of in-flight commands.
func (q *Queue) QueueSize() int {
	return q.plain.QueueSize() + q.registry.Len()
}

// MaxQueueLength is the sum of both backends' high-water marks.
func (q *Queue) MaxQueueLength() int {
	return q.plain.MaxQueueLength() + q.registry.HighWater()
}

// QueuedJobNames lists worker pool jobs followed by in-flight command keys.
func (q *Queue) QueuedJobNames() []string {
	names := append([]string(nil), q.plain.QueuedJobNames()...)
	return append(names, q.registry.Keys()...)
}

// MetricsRegistry exposes the collector for reporting.
func (q *Queue) MetricsRegistry() *metrics.Collector {
	return q.metrics
}

func (q *Queue) logPanic(op string, j job.Job) {
	if r := recover(); r != nil {
		q.logger.Error("dispatch operation panicked",
			slog.String("op", op),
			slog.String("job_key", j.Key()),
			slog.String("panic", fmt.Sprint(r)),
		)
	}
}
