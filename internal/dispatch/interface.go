package dispatch

import (
	"github.com/mattjoyce/layerqueue/internal/job"
)

//go:generate mockgen -destination=mocks/mock_plain_queue.go -package=mocks github.com/mattjoyce/layerqueue/internal/dispatch PlainQueue

// PlainQueue is the worker pool that runs plain jobs.
type PlainQueue interface {
	Add(j job.Job) error
	Remove(j job.Job) bool
	QueueSize() int
	MaxQueueLength() int
	QueuedJobNames() []string
	SetupTimingStatistics(ms int64)
	AddJobCount()
}
