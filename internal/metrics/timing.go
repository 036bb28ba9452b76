package metrics

import (
	"math"
	"sync"
)

// TimingGauge tracks the running minimum, maximum and average of job
// durations in milliseconds. It is never reset.
type TimingGauge struct {
	mu    sync.RWMutex
	count int64
	min   int64
	max   int64
	total int64
}

// NewTimingGauge returns an empty gauge.
func NewTimingGauge() *TimingGauge {
	return &TimingGauge{}
}

// SetupTimingStatistics folds one sample into the running statistics.
func (g *TimingGauge) SetupTimingStatistics(ms int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.count == 0 || ms < g.min {
		g.min = ms
	}
	if g.count == 0 || ms > g.max {
		g.max = ms
	}
	g.total += ms
	g.count++
}

// Min returns the smallest sample seen, or 0 before the first sample.
func (g *TimingGauge) Min() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.min
}

// Max returns the largest sample seen, or 0 before the first sample.
func (g *TimingGauge) Max() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.max
}

// Avg returns the mean of all samples, or 0 before the first sample.
func (g *TimingGauge) Avg() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.count == 0 {
		return 0
	}
	return float64(g.total) / float64(g.count)
}

// Count returns the number of samples recorded.
func (g *TimingGauge) Count() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.count
}

// Snapshot is a point-in-time copy of a TimingGauge.
type Snapshot struct {
	Count int64   `json:"count"`
	Min   int64   `json:"min_ms"`
	Max   int64   `json:"max_ms"`
	Avg   float64 `json:"avg_ms"`
}

// Snapshot returns all statistics under a single lock.
func (g *TimingGauge) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := Snapshot{Count: g.count, Min: g.min, Max: g.max}
	if g.count > 0 {
		s.Avg = math.Round(float64(g.total)/float64(g.count)*100) / 100
	}
	return s
}
