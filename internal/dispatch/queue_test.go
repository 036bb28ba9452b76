package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/layerqueue/internal/dispatch/mocks"
	"github.com/mattjoyce/layerqueue/internal/inflight"
	"github.com/mattjoyce/layerqueue/internal/job"
	"github.com/mattjoyce/layerqueue/internal/metrics"
	"github.com/mattjoyce/layerqueue/internal/workqueue"
)

type fakeHandle struct {
	done        atomic.Bool
	cancels     atomic.Int32
	interrupted atomic.Bool
}

func (h *fakeHandle) IsDone() bool { return h.done.Load() }

func (h *fakeHandle) Cancel(mayInterrupt bool) bool {
	h.cancels.Add(1)
	if mayInterrupt {
		h.interrupted.Store(true)
	}
	return !h.done.Swap(true)
}

// fakeLayerJob is a LayerCommandJob whose Queue hands out a fakeHandle.
type fakeLayerJob struct {
	layerID string
	typ     job.Type
	handle  *fakeHandle
	startAt time.Time

	queued    atomic.Int32
	teardowns atomic.Int32

	mu        sync.Mutex
	start     time.Time
	notified  []string
	completed []bool
}

func newLayerJob(layerID string, typ job.Type) *fakeLayerJob {
	return &fakeLayerJob{layerID: layerID, typ: typ, handle: &fakeHandle{}}
}

func (j *fakeLayerJob) Key() string                         { return j.layerID + "." + string(j.typ) }
func (j *fakeLayerJob) LayerID() string                     { return j.layerID }
func (j *fakeLayerJob) Type() job.Type                      { return j.typ }
func (j *fakeLayerJob) Run(context.Context) (string, error) { return "", nil }
func (j *fakeLayerJob) Teardown()                           { j.teardowns.Add(1) }

func (j *fakeLayerJob) Queue() inflight.Handle {
	j.queued.Add(1)
	return j.handle
}

func (j *fakeLayerJob) SetStartTime() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.startAt.IsZero() {
		j.start = j.startAt
		return
	}
	j.start = time.Now()
}

func (j *fakeLayerJob) StartTime() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.start
}

func (j *fakeLayerJob) NotifyStart() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.notified = append(j.notified, "start")
}

func (j *fakeLayerJob) NotifyCompleted(success bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.notified = append(j.notified, "completed")
	j.completed = append(j.completed, success)
}

func (j *fakeLayerJob) notifications() ([]string, []bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.notified...), append([]bool(nil), j.completed...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestQueue(t *testing.T, plain PlainQueue) *Queue {
	t.Helper()
	return New(plain, metrics.NewCollector(""), quietLogger())
}

func TestAddDeduplicatesCommandJobsByKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	plain := mocks.NewMockPlainQueue(ctrl)
	plain.EXPECT().AddJobCount().Times(2)

	q := newTestQueue(t, plain)
	first := newLayerJob("layer1", "WMS")
	second := newLayerJob("layer1", "WMS")

	q.Add(first)
	q.Add(second)

	assert.Equal(t, 1, q.registry.Len())
	got, ok := q.registry.Get("layer1.WMS")
	require.True(t, ok)
	assert.Same(t, second.handle, got)
	assert.GreaterOrEqual(t, first.handle.cancels.Load(), int32(1))
	assert.True(t, first.handle.interrupted.Load())
	assert.Equal(t, int32(0), second.handle.cancels.Load())
	assert.Equal(t, float64(2), testutil.ToFloat64(q.MetricsRegistry().Meter("layer1.WMS")))
}

func TestAddDelegatesPlainJobs(t *testing.T) {
	ctrl := gomock.NewController(t)
	plain := mocks.NewMockPlainQueue(ctrl)
	q := newTestQueue(t, plain)

	j := job.NewFunc("plain-1", func(context.Context) error { return nil }, nil)
	gomock.InOrder(
		plain.EXPECT().Remove(j).Return(false),
		plain.EXPECT().Add(j).Return(nil),
	)
	q.Add(j)
	assert.Equal(t, 0, q.registry.Len())
}

func TestAddLogsPlainRejection(t *testing.T) {
	ctrl := gomock.NewController(t)
	plain := mocks.NewMockPlainQueue(ctrl)
	var buf bytes.Buffer
	q := New(plain, metrics.NewCollector(""), slog.New(slog.NewJSONHandler(&buf, nil)))

	j := job.NewFunc("plain-1", func(context.Context) error { return nil }, nil)
	plain.EXPECT().Remove(j).Return(false)
	plain.EXPECT().Add(j).Return(errors.New("pool full"))

	q.Add(j)
	assert.Contains(t, buf.String(), "pool full")
}

func TestPanickingBackendIsLoggedNotPropagated(t *testing.T) {
	ctrl := gomock.NewController(t)
	plain := mocks.NewMockPlainQueue(ctrl)
	var buf bytes.Buffer
	q := New(plain, metrics.NewCollector(""), slog.New(slog.NewJSONHandler(&buf, nil)))

	j := job.NewFunc("plain-1", func(context.Context) error { return nil }, nil)
	plain.EXPECT().Remove(j).DoAndReturn(func(job.Job) bool { panic("backend exploded") }).Times(2)

	assert.NotPanics(t, func() { q.Add(j) })
	assert.NotPanics(t, func() { q.Remove(j) })

	out := buf.String()
	assert.Contains(t, out, "dispatch operation panicked")
	assert.Contains(t, out, `"op":"add"`)
	assert.Contains(t, out, `"op":"remove"`)
	assert.Contains(t, out, "backend exploded")
}

func TestAddDropsCommandJobWithoutKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	plain := mocks.NewMockPlainQueue(ctrl)
	q := newTestQueue(t, plain)

	j := newLayerJob("broken", job.TypeNormal)
	q.Add(&keylessJob{fakeLayerJob: j})

	assert.Equal(t, 0, q.registry.Len())
	assert.Equal(t, int32(0), j.queued.Load())
}

type keylessJob struct{ *fakeLayerJob }

func (k *keylessJob) Key() string { return "" }

func TestRemoveCommandJobCancelsWithInterrupt(t *testing.T) {
	ctrl := gomock.NewController(t)
	plain := mocks.NewMockPlainQueue(ctrl)
	plain.EXPECT().AddJobCount()
	q := newTestQueue(t, plain)

	j := newLayerJob("7", job.TypeGeoJSON)
	q.Add(j)
	require.Equal(t, 1, q.registry.Len())

	q.Remove(j)
	assert.Equal(t, 0, q.registry.Len())
	assert.Equal(t, int32(1), j.handle.cancels.Load())
	assert.True(t, j.handle.interrupted.Load())

	q.Remove(j)
	assert.Equal(t, int32(1), j.handle.cancels.Load(), "removing an absent key is a no-op")
}

func TestRemoveDelegatesPlainJobs(t *testing.T) {
	ctrl := gomock.NewController(t)
	plain := mocks.NewMockPlainQueue(ctrl)
	q := newTestQueue(t, plain)

	j := job.NewFunc("plain-1", func(context.Context) error { return nil }, nil)
	plain.EXPECT().Remove(j).Return(true)
	q.Remove(j)
}

func TestCleanupSemantics(t *testing.T) {
	ctrl := gomock.NewController(t)
	plain := mocks.NewMockPlainQueue(ctrl)
	plain.EXPECT().AddJobCount().AnyTimes()
	q := newTestQueue(t, plain)

	jobs := []*fakeLayerJob{
		newLayerJob("a", job.TypeNormal),
		newLayerJob("b", job.TypeNormal),
		newLayerJob("c", job.TypeNormal),
	}
	for _, j := range jobs {
		q.Add(j)
	}
	jobs[0].handle.done.Store(true)

	q.Cleanup(false)
	assert.ElementsMatch(t, []string{"b.normal", "c.normal"}, q.registry.Keys())
	for _, j := range jobs {
		assert.Equal(t, int32(0), j.handle.cancels.Load())
	}

	q.Cleanup(true)
	assert.Equal(t, 0, q.registry.Len())
	assert.Equal(t, int32(0), jobs[0].handle.cancels.Load())
	for _, j := range jobs[1:] {
		assert.Equal(t, int32(1), j.handle.cancels.Load())
		assert.True(t, j.handle.interrupted.Load())
	}
}

func TestQueueSizeMergesBothBackends(t *testing.T) {
	plain := workqueue.New(1, quietLogger())
	q := newTestQueue(t, plain)
	rng := rand.New(rand.NewSource(42))

	var submitted []job.Job
	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("k%d", rng.Intn(12))
		switch rng.Intn(6) {
		case 0, 1:
			j := newLayerJob(key, job.TypeNormal)
			if rng.Intn(3) == 0 {
				j.handle.done.Store(true)
			}
			q.Add(j)
			submitted = append(submitted, j)
		case 2:
			j := job.NewFunc(key, func(context.Context) error { return nil }, nil)
			q.Add(j)
			submitted = append(submitted, j)
		case 3:
			if len(submitted) > 0 {
				q.Remove(submitted[rng.Intn(len(submitted))])
			}
		case 4:
			q.Cleanup(false)
		case 5:
			q.Cleanup(rng.Intn(4) == 0)
		}

		require.Equal(t, plain.QueueSize()+q.registry.Len(), q.QueueSize())
		require.Len(t, q.QueuedJobNames(), q.QueueSize())
		require.GreaterOrEqual(t, q.MaxQueueLength(), q.QueueSize())
	}
}

func TestStatisticsMergeBothBackends(t *testing.T) {
	ctrl := gomock.NewController(t)
	plain := mocks.NewMockPlainQueue(ctrl)
	plain.EXPECT().AddJobCount().Times(2)
	plain.EXPECT().QueueSize().Return(3)
	plain.EXPECT().MaxQueueLength().Return(5)
	plain.EXPECT().QueuedJobNames().Return([]string{"p1", "p2", "p3"})
	q := newTestQueue(t, plain)

	q.Add(newLayerJob("1", job.TypeNormal))
	q.Add(newLayerJob("2", job.TypeNormal))
	q.Cleanup(true)

	assert.Equal(t, 3, q.QueueSize())
	assert.Equal(t, 7, q.MaxQueueLength(), "high-water mark survives removal")
	assert.Equal(t, []string{"p1", "p2", "p3"}, q.QueuedJobNames())
}

func TestConcurrentAddsKeepOneEntryPerKey(t *testing.T) {
	plain := workqueue.New(1, quietLogger())
	q := newTestQueue(t, plain)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		all []*fakeLayerJob
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j := newLayerJob(fmt.Sprintf("layer%d", i%4), job.TypeNormal)
			mu.Lock()
			all = append(all, j)
			mu.Unlock()
			q.Add(j)
			if i%5 == 0 {
				q.Cleanup(false)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, q.registry.Len())
	live := 0
	for _, j := range all {
		if j.handle.cancels.Load() == 0 {
			live++
		}
	}
	assert.Equal(t, 4, live, "every displaced handle was cancelled")
	assert.LessOrEqual(t, q.MaxQueueLength(), 4)
}
