package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/layerqueue/internal/job"
)

var (
	// ErrUnknownLayer is returned by a LayerFactory for unconfigured layers.
	ErrUnknownLayer = errors.New("unknown layer")
	// ErrTypeNotAllowed is returned by a LayerFactory for job types the layer does not serve.
	ErrTypeNotAllowed = errors.New("job type not allowed for layer")
)

const maxBodyBytes = 64 * 1024

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueSize:     s.queue.QueueSize(),
		Subscribers:   s.events.Subscribers(),
		EventsDropped: s.events.Dropped(),
	}
	status := http.StatusOK

	if s.datasources != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.datasources.Ping(ctx); err != nil {
			s.logger.Warn("datasource ping failed", "error", err)
			resp.Status = "degraded"
			resp.Datasource = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp.Datasource = "ok"
		}
	}
	if s.breakers != nil {
		resp.Breakers = s.breakers.BreakerStates()
	}

	respondJSON(w, status, resp)
}

// handleQueue handles GET /queue.
func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	c := s.queue.MetricsRegistry()
	jobs := s.queue.QueuedJobNames()
	if jobs == nil {
		jobs = []string{}
	}
	resp := QueueResponse{
		Size:      s.queue.QueueSize(),
		MaxLength: s.queue.MaxQueueLength(),
		Jobs:      jobs,
		Timings:   c.Timings(),
		Metrics:   c.Names(),
	}
	if s.workers != nil {
		resp.Running = s.workers.Running()
		resp.JobCount = s.workers.JobCount()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleCleanup handles POST /queue/cleanup?force=true.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "force must be a boolean")
			return
		}
		force = b
	}
	s.queue.Cleanup(force)
	respondJSON(w, http.StatusOK, map[string]int{"size": s.queue.QueueSize()})
}

// handleSubmitLayer handles POST /layers/{layerID}/jobs/{type}.
func (s *Server) handleSubmitLayer(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	j, ok := s.layerJob(w, r, body)
	if !ok {
		return
	}
	s.queue.Add(j)
	respondJSON(w, http.StatusAccepted, SubmitResponse{Key: j.Key(), Status: "queued"})
}

// handleRemoveLayer handles DELETE /layers/{layerID}/jobs/{type}?session=.
func (s *Server) handleRemoveLayer(w http.ResponseWriter, r *http.Request) {
	j, ok := s.layerJob(w, r, SubmitRequest{Session: r.URL.Query().Get("session")})
	if !ok {
		return
	}
	s.queue.Remove(j)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) layerJob(w http.ResponseWriter, r *http.Request, body SubmitRequest) (job.Job, bool) {
	params := url.Values{}
	for k, v := range body.Params {
		params.Set(k, v)
	}
	j, err := s.layers(LayerRequest{
		LayerID: chi.URLParam(r, "layerID"),
		Type:    job.Type(chi.URLParam(r, "type")),
		Session: body.Session,
		Params:  params,
	})
	switch {
	case errors.Is(err, ErrUnknownLayer):
		s.writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	case errors.Is(err, ErrTypeNotAllowed):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	case err != nil:
		s.logger.Error("failed to build layer job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to build layer job")
		return nil, false
	}
	return j, true
}

// handleCheckDatasource handles POST /datasources/{module}/check. The check
// runs on the worker pool.
func (s *Server) handleCheckDatasource(w http.ResponseWriter, r *http.Request) {
	if s.datasources == nil {
		s.writeError(w, http.StatusNotFound, "datasource provisioning is not configured")
		return
	}
	module := chi.URLParam(r, "module")
	key := "datasource." + module
	checker := s.datasources
	s.queue.Add(job.NewFunc(key, func(ctx context.Context) error {
		if !checker.Check(ctx, module) {
			return fmt.Errorf("datasource for module %q unavailable", module)
		}
		return nil
	}, nil))
	respondJSON(w, http.StatusAccepted, SubmitResponse{Key: key, Status: "queued"})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
