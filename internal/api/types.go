package api

import (
	"github.com/mattjoyce/layerqueue/internal/metrics"
)

// SubmitRequest is the optional JSON body for POST /layers/{layerID}/jobs/{type}.
type SubmitRequest struct {
	Session string            `json:"session,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// SubmitResponse is returned when a job is accepted.
type SubmitResponse struct {
	Key    string `json:"key"`
	Status string `json:"status"`
}

// QueueResponse is returned by GET /queue.
type QueueResponse struct {
	Size      int                         `json:"size"`
	MaxLength int                         `json:"max_length"`
	Jobs      []string                    `json:"jobs"`
	Timings   map[string]metrics.Snapshot `json:"timings"`
	Metrics   []string                    `json:"metrics"`
	Running   int                         `json:"running"`
	JobCount  int64                       `json:"job_count"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	QueueSize     int               `json:"queue_size"`
	Datasource    string            `json:"datasource,omitempty"`
	Breakers      map[string]string `json:"breakers,omitempty"`
	Subscribers   int               `json:"event_subscribers"`
	EventsDropped int64             `json:"events_dropped"`
}
