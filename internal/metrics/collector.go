// Package metrics owns the per-job-type histograms, counters, meters and
// timing gauges reported by the dispatch queue. Instruments live in a
// private Prometheus registry and are created lazily per metric identifier.
package metrics

import (
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every exported metric family.
const DefaultNamespace = "layerqueue"

// jobLabel carries the metric identifier on every per-job family.
const jobLabel = "job"

// Kind names one instrument family.
type Kind string

const (
	KindExecTime  Kind = "maplayer.exec.time"
	KindLengthMax Kind = "job.length.max"
	KindLengthMin Kind = "job.length.min"
	KindLengthAvg Kind = "job.length.avg"
	KindFails     Kind = "jobs.fails"
	KindAdded     Kind = "job.added"
)

// Name returns the deterministic dotted name for an instrument of kind
// bound to metric identifier id.
func Name(kind Kind, id string) string {
	return string(kind) + "." + id
}

// Collector is a concurrency-safe set of named instruments.
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	execTime *prometheus.HistogramVec
	fails    *prometheus.CounterVec
	added    *prometheus.CounterVec

	gauges  sync.Map // id -> *TimingGauge
	gaugeMu sync.Mutex

	namesMu sync.Mutex
	names   map[string]struct{}
}

// NewCollector creates a Collector with its own registry. An empty
// namespace falls back to DefaultNamespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	c := &Collector{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
		names:     make(map[string]struct{}),
	}

	c.execTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_exec_time_ms",
		Help:      "Command job execution time in milliseconds.",
		Buckets:   prometheus.ExponentialBuckets(5, 2, 14),
	}, []string{jobLabel})
	c.fails = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_fails_total",
		Help:      "Command jobs that ended in error or fallback.",
	}, []string{jobLabel})
	c.added = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_added_total",
		Help:      "Command jobs submitted to the queue.",
	}, []string{jobLabel})

	c.registry.MustRegister(c.execTime, c.fails, c.added)
	return c
}

// Gatherer exposes the underlying registry for a reporting surface.
func (c *Collector) Gatherer() prometheus.Gatherer { return c.registry }

// Histogram returns the execution-time histogram for id.
func (c *Collector) Histogram(id string) prometheus.Observer {
	c.remember(KindExecTime, id)
	return c.execTime.WithLabelValues(id)
}

// FailCounter returns the failure counter for id.
func (c *Collector) FailCounter(id string) prometheus.Counter {
	c.remember(KindFails, id)
	return c.fails.WithLabelValues(id)
}

// Meter returns the submission meter for id.
func (c *Collector) Meter(id string) prometheus.Counter {
	c.remember(KindAdded, id)
	return c.added.WithLabelValues(id)
}

// TimingGauge returns the gauge for id, if one has been created.
func (c *Collector) TimingGauge(id string) (*TimingGauge, bool) {
	g, ok := c.gauges.Load(id)
	if !ok {
		return nil, false
	}
	return g.(*TimingGauge), true
}

// EnsureTimingGauge returns the gauge for id, creating it and registering
// its max/min/avg gauges on first use. created reports whether this call
// performed the registration.
func (c *Collector) EnsureTimingGauge(id string) (g *TimingGauge, created bool, err error) {
	if g, ok := c.TimingGauge(id); ok {
		return g, false, nil
	}

	c.gaugeMu.Lock()
	defer c.gaugeMu.Unlock()
	if g, ok := c.TimingGauge(id); ok {
		return g, false, nil
	}

	g = NewTimingGauge()
	if err := c.registerTiming(g, prometheus.Labels{jobLabel: id}, "job_length"); err != nil {
		return nil, false, fmt.Errorf("register timing gauges for %q: %w", id, err)
	}
	c.gauges.Store(id, g)
	c.remember(KindLengthMax, id)
	c.remember(KindLengthMin, id)
	c.remember(KindLengthAvg, id)
	return g, true, nil
}

// BindOverall exports g as the queue-wide timing gauges.
func (c *Collector) BindOverall(g *TimingGauge) error {
	return c.registerTiming(g, nil, "queue_job_length")
}

func (c *Collector) registerTiming(g *TimingGauge, labels prometheus.Labels, prefix string) error {
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   c.namespace,
			Name:        prefix + "_max_ms",
			Help:        "Longest job duration in milliseconds.",
			ConstLabels: labels,
		}, func() float64 { return float64(g.Max()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   c.namespace,
			Name:        prefix + "_min_ms",
			Help:        "Shortest job duration in milliseconds.",
			ConstLabels: labels,
		}, func() float64 { return float64(g.Min()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   c.namespace,
			Name:        prefix + "_avg_ms",
			Help:        "Average job duration in milliseconds.",
			ConstLabels: labels,
		}, g.Avg),
	}
	for i, gc := range gauges {
		if err := c.registry.Register(gc); err != nil {
			for _, done := range gauges[:i] {
				c.registry.Unregister(done)
			}
			return err
		}
	}
	return nil
}

// Timings returns a snapshot of every per-id timing gauge.
func (c *Collector) Timings() map[string]Snapshot {
	out := make(map[string]Snapshot)
	c.gauges.Range(func(k, v any) bool {
		out[k.(string)] = v.(*TimingGauge).Snapshot()
		return true
	})
	return out
}

// Names lists every instrument name handed out so far, sorted.
func (c *Collector) Names() []string {
	c.namesMu.Lock()
	defer c.namesMu.Unlock()
	out := make([]string, 0, len(c.names))
	for n := range c.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (c *Collector) remember(kind Kind, id string) {
	c.namesMu.Lock()
	c.names[Name(kind, id)] = struct{}{}
	c.namesMu.Unlock()
}
