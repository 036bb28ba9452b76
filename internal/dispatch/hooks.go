package dispatch

import (
	"log/slog"
	"time"

	"github.com/mattjoyce/layerqueue/internal/command"
	"github.com/mattjoyce/layerqueue/internal/job"
)

// Observer turns command engine callbacks into metrics, teardown and
// registry sweeps for a Queue. Register it once with Engine.RegisterHook.
type Observer struct {
	queue  *Queue
	now    func() time.Time
	logger *slog.Logger
}

var (
	_ command.Hook        = (*Observer)(nil)
	_ command.DiscardHook = (*Observer)(nil)
)

// ObserverOption configures an Observer.
type ObserverOption func(*Observer)

// withClock replaces time.Now when measuring elapsed time.
func withClock(now func() time.Time) ObserverOption {
	return func(o *Observer) { o.now = now }
}

// NewObserver returns the engine hook for q.
func NewObserver(q *Queue, opts ...ObserverOption) *Observer {
	o := &Observer{
		queue:  q,
		now:    time.Now,
		logger: q.logger.With(slog.String("component", "hooks")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OnExecutionStart stamps every command job so the overall timing covers
// jobs without the layer capability too.
func (o *Observer) OnExecutionStart(cmd command.Command) {
	cj, ok := cmd.(job.CommandJob)
	if !ok {
		return
	}
	cj.SetStartTime()
	if lj, ok := cmd.(job.LayerCommandJob); ok {
		lj.NotifyStart()
	}
}

func (o *Observer) OnExecutionSuccess(cmd command.Command) {
	o.jobEnded(cmd, true)
}

func (o *Observer) OnError(cmd command.Command, failure command.FailureType, err error) {
	attrs := []any{slog.String("failure_type", string(failure))}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	o.jobEnded(cmd, false, attrs...)
}

// OnFallbackSuccess counts as a failure: the primary execution did not succeed.
func (o *Observer) OnFallbackSuccess(cmd command.Command) {
	o.jobEnded(cmd, false, slog.String("failure_type", "fallback"))
}

// OnDiscarded tears down a job that was cancelled before it started. It
// records no metrics: the job never ran.
func (o *Observer) OnDiscarded(cmd command.Command) {
	j, ok := cmd.(job.Job)
	if !ok {
		return
	}
	o.logger.Debug("command job discarded before start", slog.String("job_key", j.Key()))
	j.Teardown()
}

func (o *Observer) jobEnded(cmd command.Command, success bool, attrs ...any) {
	cj, ok := cmd.(job.CommandJob)
	if !ok {
		o.logger.Debug("ignoring completion of non-job command")
		return
	}

	logger := o.logger.With(slog.String("job_key", cj.Key()))
	if success {
		logger.Debug("job completed", attrs...)
	} else {
		logger.Warn("job failed", attrs...)
	}

	var ms int64
	if start := cj.StartTime(); !start.IsZero() {
		ms = o.now().Sub(start).Milliseconds()
	}

	if lj, ok := cmd.(job.LayerCommandJob); ok {
		lj.NotifyCompleted(success)
		o.record(job.MetricID(lj), ms, success, logger)
	}

	o.queue.plain.SetupTimingStatistics(ms)
	cj.Teardown()
	o.queue.Cleanup(false)
}

func (o *Observer) record(id string, ms int64, success bool, logger *slog.Logger) {
	c := o.queue.metrics
	c.Histogram(id).Observe(float64(ms))

	g, created, err := c.EnsureTimingGauge(id)
	if err != nil {
		logger.Error("timing gauge unavailable", slog.String("metric_id", id), slog.String("error", err.Error()))
	} else {
		if created {
			logger.Debug("timing gauges registered", slog.String("metric_id", id))
		}
		g.SetupTimingStatistics(ms)
	}

	if !success {
		c.FailCounter(id).Inc()
	}
}
