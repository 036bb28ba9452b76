package job

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/layerqueue/internal/inflight"
)

// maxBodyBytes caps how much of a layer response is kept as the result.
const maxBodyBytes = 4 << 20

const emptyFeatureCollection = `{"type":"FeatureCollection","features":[]}`

// LayerOptions describes one layer fetch.
type LayerOptions struct {
	// Session scopes the job key to one client. Optional.
	Session string
	LayerID string
	Type    Type
	// URL is the layer service endpoint.
	URL string
	// Params are appended to the URL query. Names listed in Ignored are dropped.
	Params  url.Values
	Ignored []string

	Client   *http.Client
	Engine   Submitter
	Notifier Notifier
	Logger   *slog.Logger
}

// LayerJob fetches one layer response through the command engine.
type LayerJob struct {
	opts LayerOptions

	startMu sync.Mutex
	start   time.Time

	tornDown atomic.Bool
}

// NewLayerJob returns a job for opts. A nil Client uses http.DefaultClient.
func NewLayerJob(opts LayerOptions) *LayerJob {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &LayerJob{opts: opts}
}

func (j *LayerJob) Key() string {
	key := j.opts.LayerID + "." + string(j.opts.Type)
	if j.opts.Session != "" {
		return j.opts.Session + "/" + key
	}
	return key
}

func (j *LayerJob) LayerID() string { return j.opts.LayerID }
func (j *LayerJob) Type() Type      { return j.opts.Type }

// Group shares one circuit breaker between all jobs of a layer.
func (j *LayerJob) Group() string { return "layer." + j.opts.LayerID }

// Queue submits the job to the engine it was built with.
func (j *LayerJob) Queue() inflight.Handle {
	return j.opts.Engine.Queue(j)
}

func (j *LayerJob) SetStartTime() {
	j.startMu.Lock()
	j.start = time.Now()
	j.startMu.Unlock()
}

func (j *LayerJob) StartTime() time.Time {
	j.startMu.Lock()
	defer j.startMu.Unlock()
	return j.start
}

// RequestURL is the URL fetched by Run.
func (j *LayerJob) RequestURL() (string, error) {
	u, err := url.Parse(j.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse layer url: %w", err)
	}
	q := u.Query()
	for name, values := range j.opts.Params {
		if j.ignored(name) {
			continue
		}
		for _, v := range values {
			q.Add(name, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (j *LayerJob) ignored(name string) bool {
	for _, ig := range j.opts.Ignored {
		if strings.EqualFold(ig, name) {
			return true
		}
	}
	return false
}

// Run performs the layer request and returns the response body.
func (j *LayerJob) Run(ctx context.Context) (string, error) {
	target, err := j.RequestURL()
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("build layer request: %w", err)
	}
	resp, err := j.opts.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch layer %s: %w", j.opts.LayerID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read layer %s response: %w", j.opts.LayerID, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("layer %s returned status %d", j.opts.LayerID, resp.StatusCode)
	}
	return string(body), nil
}

// Fallback serves an empty feature collection for GeoJSON requests.
// Other job types have no substitute result.
func (j *LayerJob) Fallback(_ context.Context, cause error) (string, error) {
	if j.opts.Type == TypeGeoJSON {
		return emptyFeatureCollection, nil
	}
	return "", cause
}

func (j *LayerJob) NotifyStart() {
	j.publish(EventStarted, nil)
}

func (j *LayerJob) NotifyCompleted(success bool) {
	j.publish(EventCompleted, &success)
}

func (j *LayerJob) publish(eventType string, success *bool) {
	if j.opts.Notifier == nil {
		return
	}
	j.opts.Notifier.Publish(eventType, Notification{
		Key:     j.Key(),
		LayerID: j.opts.LayerID,
		Type:    j.opts.Type,
		Success: success,
	})
}

// Teardown marks the job finished. Calling it again is a no-op.
func (j *LayerJob) Teardown() {
	if j.tornDown.CompareAndSwap(false, true) {
		j.opts.Logger.Debug("layer job torn down", slog.String("job_key", j.Key()))
	}
}

// TornDown reports whether Teardown has run.
func (j *LayerJob) TornDown() bool { return j.tornDown.Load() }
