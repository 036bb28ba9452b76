// Package job defines the capability set of work accepted by the dispatch
// queue. A job is routed by what it can do rather than by its concrete
// type: Runner jobs go to the worker pool, CommandJob jobs to the command
// engine, and LayerCommandJob jobs additionally feed per-layer metrics.
package job

import (
	"context"
	"time"

	"github.com/mattjoyce/layerqueue/internal/command"
	"github.com/mattjoyce/layerqueue/internal/inflight"
)

// Job is the minimal contract of every submission.
type Job interface {
	// Key is the deduplication identity of the submission.
	Key() string
	// Teardown releases the job's resources. It must not panic.
	Teardown()
}

// Runner is a plain job executed by the worker pool.
type Runner interface {
	Job
	Run(ctx context.Context) error
}

// CommandJob is executed by the command engine.
type CommandJob interface {
	Job
	command.Command
	// Queue submits the job for asynchronous execution.
	Queue() inflight.Handle
	SetStartTime()
	StartTime() time.Time
}

// LayerCommandJob is a CommandJob bound to one map layer.
type LayerCommandJob interface {
	CommandJob
	LayerID() string
	Type() Type
	NotifyStart()
	NotifyCompleted(success bool)
}

// Type tags the kind of work a layer job performs.
type Type string

const (
	TypeNormal         Type = "normal"
	TypeHighlight      Type = "highlight"
	TypeMapClick       Type = "map_click"
	TypeGeoJSON        Type = "geojson"
	TypePropertyFilter Type = "property_filter"
)

// MetricID is the identifier that groups a layer job's metrics.
func MetricID(j LayerCommandJob) string {
	return j.LayerID() + "." + string(j.Type())
}

// Submitter queues commands on an execution engine.
type Submitter interface {
	Queue(cmd command.Command) *command.Future
}

// Notifier receives job lifecycle events.
type Notifier interface {
	Publish(eventType string, data any)
}

// Event types published by layer jobs.
const (
	EventStarted   = "layer.job.started"
	EventCompleted = "layer.job.completed"
)

// Notification is the payload of a layer job event.
type Notification struct {
	Key     string `json:"key"`
	LayerID string `json:"layer_id"`
	Type    Type   `json:"type"`
	Success *bool  `json:"success,omitempty"`
}
