package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/layerqueue/internal/auth"
	"github.com/mattjoyce/layerqueue/internal/dispatch"
	"github.com/mattjoyce/layerqueue/internal/events"
	"github.com/mattjoyce/layerqueue/internal/job"
	"github.com/mattjoyce/layerqueue/internal/metrics"
	"github.com/mattjoyce/layerqueue/internal/workqueue"
)

const (
	adminKey    = "admin-key"
	readerToken = "reader-token"
)

type fakeDatasources struct {
	pingErr error
	checks  atomic.Int32
	ok      bool
}

func (f *fakeDatasources) Check(context.Context, string) bool {
	f.checks.Add(1)
	return f.ok
}

func (f *fakeDatasources) Ping(context.Context) error { return f.pingErr }

type fakeBreakers map[string]string

func (f fakeBreakers) BreakerStates() map[string]string { return f }

type testEnv struct {
	server *Server
	queue  *dispatch.Queue
	plain  *workqueue.Queue
	hub    *events.Hub
	ds     *fakeDatasources
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// plainLayerFactory builds worker pool jobs so tests need no command engine.
func plainLayerFactory(req LayerRequest) (job.Job, error) {
	switch {
	case req.LayerID == "missing":
		return nil, ErrUnknownLayer
	case req.Type == "forbidden":
		return nil, ErrTypeNotAllowed
	case req.LayerID == "broken":
		return nil, errors.New("boom")
	}
	key := req.LayerID + "." + string(req.Type)
	if req.Session != "" {
		key = req.Session + "/" + key
	}
	return job.NewFunc(key, func(context.Context) error { return nil }, nil), nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	plain := workqueue.New(1, quietLogger())
	q := dispatch.New(plain, metrics.NewCollector(""), quietLogger())
	hub := events.NewHub(16)
	ds := &fakeDatasources{ok: true}
	s := New(Config{
		APIKey: adminKey,
		Tokens: []auth.TokenConfig{{Token: readerToken, Scopes: []string{auth.ScopeQueueRO, auth.ScopeEventsRO}}},
	}, q, plainLayerFactory, hub, quietLogger(),
		WithDatasources(ds),
		WithBreakers(fakeBreakers{"layer.1": "closed"}),
		WithWorkers(plain),
	)
	return &testEnv{server: s, queue: q, plain: plain, hub: hub, ds: ds}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthzResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Datasource)
	assert.Equal(t, map[string]string{"layer.1": "closed"}, resp.Breakers)
	assert.Equal(t, 0, resp.Subscribers)
	assert.Equal(t, int64(0), resp.EventsDropped)

	env.ds.pingErr = errors.New("pool default: connection refused")
	rec = env.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Contains(t, resp.Datasource, "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.queue.MetricsRegistry().Meter("layer1.WMS").Inc()

	rec := env.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `layerqueue_job_added_total{job="layer1.WMS"} 1`)
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/queue", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/queue", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/queue", readerToken, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/layers/1/jobs/normal", readerToken, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitAndRemoveLayerJob(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/layers/1/jobs/normal", adminKey, `{"session":"s1","params":{"BBOX":"0,0,1,1"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var sub SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sub))
	assert.Equal(t, "s1/1.normal", sub.Key)

	rec = env.do(t, http.MethodGet, "/queue", adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var q QueueResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&q))
	assert.Equal(t, 1, q.Size)
	assert.Equal(t, []string{"s1/1.normal"}, q.Jobs)
	assert.Equal(t, 0, q.Running)
	assert.Equal(t, int64(1), q.JobCount)

	rec = env.do(t, http.MethodDelete, "/layers/1/jobs/normal?session=s1", adminKey, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, env.queue.QueueSize())
	assert.Equal(t, 1, env.queue.MaxQueueLength())
}

func TestSubmitErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{name: "unknown layer", path: "/layers/missing/jobs/normal", want: http.StatusNotFound},
		{name: "type not allowed", path: "/layers/1/jobs/forbidden", want: http.StatusBadRequest},
		{name: "factory failure", path: "/layers/broken/jobs/normal", want: http.StatusInternalServerError},
		{name: "bad json", path: "/layers/1/jobs/normal", body: "{", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, adminKey, tt.body)
			assert.Equal(t, tt.want, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
	assert.Equal(t, 0, env.queue.QueueSize())
}

func TestCleanup(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/queue/cleanup?force=maybe", adminKey, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/queue/cleanup?force=true", adminKey, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"size":0}`, rec.Body.String())
}

func TestCheckDatasourceRunsOnWorkerPool(t *testing.T) {
	env := newTestEnv(t)
	env.plain.Start(context.Background())
	t.Cleanup(env.plain.Stop)

	rec := env.do(t, http.MethodPost, "/datasources/analysis/check", adminKey, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "datasource.analysis")

	require.Eventually(t, func() bool { return env.ds.checks.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t)
	env.hub.Publish(job.EventStarted, job.Notification{Key: "1.normal", LayerID: "1", Type: job.TypeNormal})

	srv := httptest.NewServer(env.server.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+readerToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	readUntilData := func() (string, string) {
		var eventType string
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream closed early")
				if v, found := strings.CutPrefix(line, "event: "); found {
					eventType = v
				}
				if v, found := strings.CutPrefix(line, "data: "); found {
					return eventType, v
				}
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for event")
			}
		}
	}

	typ, data := readUntilData()
	assert.Equal(t, job.EventStarted, typ)
	assert.Contains(t, data, `"key":"1.normal"`)

	env.hub.Publish(job.EventCompleted, map[string]bool{"success": true})
	typ, data = readUntilData()
	assert.Equal(t, job.EventCompleted, typ)
	assert.JSONEq(t, `{"success":true}`, data)
}
