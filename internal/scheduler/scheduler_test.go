package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pankaj28843/docs-mcp-server/internal/backpressure"
	"github.com/pankaj28843/docs-mcp-server/internal/extract"
	"github.com/pankaj28843/docs-mcp-server/internal/job"
	"github.com/pankaj28843/docs-mcp-server/internal/jobstore"
	"github.com/pankaj28843/docs-mcp-server/internal/source"
	"github.com/pankaj28843/docs-mcp-server/internal/tenant"
	"github.com/pankaj28843/docs-mcp-server/pkg/config"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
	"github.com/pankaj28843/docs-mcp-server/pkg/metrics"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	fetch func(ctx context.Context, call int) (*source.Result, error)
}

func (f *fakeSource) Fetch(ctx context.Context) (*source.Result, error) {
	f.mu.Lock()
	f.calls++
	n, fn := f.calls, f.fetch
	f.mu.Unlock()
	return fn(ctx, n)
}

func (f *fakeSource) set(fn func(ctx context.Context, call int) (*source.Result, error)) {
	f.mu.Lock()
	f.fetch = fn
	f.calls = 0
	f.mu.Unlock()
}

func md(uri, text string) source.Unit {
	return source.Unit{URI: uri, ContentType: extract.TypeMarkdown, Body: []byte(text)}
}

func serve(units ...source.Unit) func(context.Context, int) (*source.Result, error) {
	return func(context.Context, int) (*source.Result, error) {
		return &source.Result{Units: units}, nil
	}
}

// blockUntilCancelled reports each call on started and then waits for ctx.
func blockUntilCancelled(started chan<- int) func(context.Context, int) (*source.Result, error) {
	return func(ctx context.Context, call int) (*source.Result, error) {
		started <- call
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

type harness struct {
	sched   *Scheduler
	tenants *tenant.Registry
	bp      *backpressure.Controller
	store   *jobstore.File
	metrics *metrics.Metrics
	sources map[string]*fakeSource

	hookMu sync.Mutex
	hook   func(job.Job)
}

// Notify forwards state changes to the hook installed with onNotify.
func (h *harness) Notify(j job.Job) {
	h.hookMu.Lock()
	fn := h.hook
	h.hookMu.Unlock()
	if fn != nil {
		fn(j)
	}
}

func (h *harness) onNotify(fn func(job.Job)) {
	h.hookMu.Lock()
	h.hook = fn
	h.hookMu.Unlock()
}

func testConfig() config.SyncConfig {
	return config.SyncConfig{
		MaxConcurrent:     2,
		MaxQueued:         16,
		MaxRetries:        3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
		JobTimeout:        5 * time.Second,
		AdmitTimeout:      5 * time.Second,
	}
}

func newHarness(t *testing.T, cfg config.SyncConfig, tenantIDs ...string) *harness {
	t.Helper()
	h := &harness{sources: make(map[string]*fakeSource), metrics: metrics.New(prometheus.NewRegistry())}
	for _, id := range tenantIDs {
		h.sources[id] = &fakeSource{fetch: serve()}
	}
	kinds := source.Kinds{"fake": func(tenantID string, _ config.SourceConfig, _ source.Deps) (source.Fetcher, error) {
		return h.sources[tenantID], nil
	}}
	h.tenants = tenant.NewRegistry(t.TempDir(), kinds, h.metrics)
	for _, id := range tenantIDs {
		_, err := h.tenants.Register(context.Background(), config.TenantConfig{Name: id, Source: config.SourceConfig{Type: "fake"}})
		require.NoError(t, err)
	}
	store, err := jobstore.OpenFile(filepath.Join(t.TempDir(), "history.jsonl"))
	require.NoError(t, err)
	h.store = store
	h.bp = backpressure.NewController(cfg.MaxConcurrent)
	h.sched = New(cfg, h.tenants, h.bp, store, WithMetrics(h.metrics), WithNotifier(h))
	t.Cleanup(func() {
		h.sched.Close()
		store.Close()
	})
	return h
}

func (h *harness) sync(t *testing.T, tenantID string) job.Job {
	t.Helper()
	submitted, err := h.sched.SubmitSync(context.Background(), tenantID, "test")
	require.NoError(t, err)
	return h.wait(t, submitted.ID)
}

func (h *harness) wait(t *testing.T, jobID string) job.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	j, err := h.sched.Wait(ctx, jobID)
	require.NoError(t, err)
	return j
}

func recv(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fetch to start")
		return 0
	}
}

func TestSyncPublishesAndReusesUnchangedDocuments(t *testing.T) {
	h := newHarness(t, testConfig(), "go")
	src := h.sources["go"]

	src.set(serve(md("a.md", "# Goroutines\nGoroutines are cheap."), md("b.md", "Channels connect goroutines.")))
	j := h.sync(t, "go")
	require.Equal(t, job.StateSucceeded, j.State, j.LastError)
	assert.Equal(t, 1, j.Attempt)
	require.NotNil(t, j.Stats)
	assert.Equal(t, 2, j.Stats.Added)
	assert.EqualValues(t, 1, j.Stats.PublishedSnapshot)

	first, err := h.tenants.GetSnapshot("go")
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.Generation)
	assert.Equal(t, 2, first.DocCount())

	// b.md fails to fetch and keeps its revision; a.md changes; c.md is binary.
	src.set(func(context.Context, int) (*source.Result, error) {
		return &source.Result{
			Units:  []source.Unit{md("a.md", "# Goroutines\nGoroutines are very cheap."), {URI: "c.md", ContentType: extract.TypeMarkdown, Body: []byte{0xff, 0x00}}},
			Failed: []source.UnitError{{URI: "b.md", Err: apperrors.ErrFetch}},
		}, nil
	})
	j = h.sync(t, "go")
	require.Equal(t, job.StateSucceeded, j.State, j.LastError)
	assert.Equal(t, 1, j.Stats.Modified)
	assert.Equal(t, 1, j.Stats.Unchanged)
	assert.Zero(t, j.Stats.Deleted)
	assert.Equal(t, 1, j.Stats.ExtractFailures)
	assert.Equal(t, 1, j.Stats.FetchFailures)

	second, _ := h.tenants.GetSnapshot("go")
	assert.EqualValues(t, 2, second.Generation)
	assert.Equal(t, 2, second.DocCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ExtractionFailures.WithLabelValues("go")))

	// Identical content: no new generation.
	src.set(serve(md("a.md", "# Goroutines\nGoroutines are very cheap."), md("b.md", "Channels connect goroutines.")))
	j = h.sync(t, "go")
	require.Equal(t, job.StateSucceeded, j.State)
	assert.Zero(t, j.Stats.PublishedSnapshot)
	third, _ := h.tenants.GetSnapshot("go")
	assert.Same(t, second, third)

	stored, err := h.store.Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateSucceeded, stored.State)
}

func TestRetryThenSucceed(t *testing.T) {
	h := newHarness(t, testConfig(), "go")
	h.sources["go"].set(func(_ context.Context, call int) (*source.Result, error) {
		if call < 3 {
			return nil, fmt.Errorf("%w: connection refused", apperrors.ErrFetch)
		}
		return &source.Result{Units: []source.Unit{md("a.md", "retry worked")}}, nil
	})

	j := h.sync(t, "go")
	assert.Equal(t, job.StateSucceeded, j.State)
	assert.Equal(t, 3, j.Attempt)
	assert.Empty(t, j.LastError)
	snap, _ := h.tenants.GetSnapshot("go")
	assert.EqualValues(t, 1, snap.Generation)
}

func TestExhaustedRetriesKeepPriorSnapshot(t *testing.T) {
	h := newHarness(t, testConfig(), "go")
	src := h.sources["go"]
	src.set(serve(md("a.md", "prior content stays searchable")))
	require.Equal(t, job.StateSucceeded, h.sync(t, "go").State)
	prior, _ := h.tenants.GetSnapshot("go")

	src.set(func(context.Context, int) (*source.Result, error) {
		return nil, errors.New("dial tcp: i/o timeout")
	})
	j := h.sync(t, "go")
	assert.Equal(t, job.StateFailed, j.State)
	assert.Equal(t, 3, j.Attempt)
	assert.Equal(t, apperrors.KindFetch, j.ErrorKind)
	assert.Contains(t, j.LastError, "i/o timeout")

	cur, _ := h.tenants.GetSnapshot("go")
	assert.Same(t, prior, cur)
	assert.Equal(t, 1, cur.DocCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SyncJobsTotal.WithLabelValues("go", "FAILED", "fetch")))
}

func TestNonRetryableFailureStopsAfterOneAttempt(t *testing.T) {
	h := newHarness(t, testConfig(), "go")
	h.sources["go"].set(func(context.Context, int) (*source.Result, error) {
		return nil, fmt.Errorf("%w: bad source settings", apperrors.ErrInvalidInput)
	})
	j := h.sync(t, "go")
	assert.Equal(t, job.StateFailed, j.State)
	assert.Equal(t, 1, j.Attempt)
	assert.Equal(t, apperrors.KindInvalidInput, j.ErrorKind)
}

func TestCancelMidFetch(t *testing.T) {
	h := newHarness(t, testConfig(), "go")
	started := make(chan int, 1)
	h.sources["go"].set(blockUntilCancelled(started))

	submitted, err := h.sched.SubmitSync(context.Background(), "go", "test")
	require.NoError(t, err)
	recv(t, started)

	running, err := h.sched.Status(context.Background(), submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateRunning, running.State)
	assert.Equal(t, 1, h.bp.State().ActiveJobs)

	_, err = h.sched.Cancel(context.Background(), submitted.ID)
	require.NoError(t, err)
	j := h.wait(t, submitted.ID)
	assert.Equal(t, job.StateCancelled, j.State)
	assert.Equal(t, apperrors.KindCancelled, j.ErrorKind)

	snap, _ := h.tenants.GetSnapshot("go")
	assert.Zero(t, snap.Generation)
	assert.Zero(t, h.bp.State().ActiveJobs)
	assert.False(t, h.bp.Running("go"))

	again, err := h.sched.Cancel(context.Background(), submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateCancelled, again.State)
}

func TestSubmitCoalescesPerTenant(t *testing.T) {
	h := newHarness(t, testConfig(), "go")
	started := make(chan int, 1)
	h.sources["go"].set(blockUntilCancelled(started))

	first, err := h.sched.SubmitSync(context.Background(), "go", "test")
	require.NoError(t, err)
	recv(t, started)
	second, err := h.sched.SubmitSync(context.Background(), "go", "test")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = h.sched.Cancel(context.Background(), first.ID)
	require.NoError(t, err)
	h.wait(t, first.ID)

	h.sources["go"].set(serve())
	third := h.sync(t, "go")
	assert.NotEqual(t, first.ID, third.ID)
}

func TestSubmitAfterTerminalStateStartsNewJob(t *testing.T) {
	h := newHarness(t, testConfig(), "go")
	h.sources["go"].set(serve(md("a.md", "content")))

	// Hold the first job between its SUCCEEDED transition and its cleanup.
	reached := make(chan struct{})
	release := make(chan struct{})
	unblock := sync.OnceFunc(func() { close(release) })
	t.Cleanup(unblock)
	var hold sync.Once
	h.onNotify(func(j job.Job) {
		if j.State == job.StateSucceeded {
			hold.Do(func() {
				close(reached)
				<-release
			})
		}
	})

	first, err := h.sched.SubmitSync(context.Background(), "go", "test")
	require.NoError(t, err)
	select {
	case <-reached:
	case <-time.After(5 * time.Second):
		t.Fatal("first job never succeeded")
	}

	second, err := h.sched.SubmitSync(context.Background(), "go", "test")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, job.StatePending, second.State)

	unblock()
	assert.Equal(t, job.StateSucceeded, h.wait(t, first.ID).State)
	assert.Equal(t, job.StateSucceeded, h.wait(t, second.ID).State)
}

func TestCancelDuringRetryBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.InitialBackoff = time.Minute
	cfg.MaxBackoff = time.Minute
	h := newHarness(t, cfg, "go")
	src := h.sources["go"]
	src.set(func(context.Context, int) (*source.Result, error) {
		return nil, fmt.Errorf("%w: connection refused", apperrors.ErrFetch)
	})

	submitted, err := h.sched.SubmitSync(context.Background(), "go", "test")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, err := h.sched.Status(context.Background(), submitted.ID)
		return err == nil && j.State == job.StateRetryScheduled
	}, 5*time.Second, time.Millisecond)
	assert.Zero(t, h.bp.State().ActiveJobs)

	_, err = h.sched.Cancel(context.Background(), submitted.ID)
	require.NoError(t, err)
	j := h.wait(t, submitted.ID)
	assert.Equal(t, job.StateCancelled, j.State)
	assert.Equal(t, apperrors.KindCancelled, j.ErrorKind)
	assert.Equal(t, 1, j.Attempt)

	src.mu.Lock()
	calls := src.calls
	src.mu.Unlock()
	assert.Equal(t, 1, calls)

	snap, _ := h.tenants.GetSnapshot("go")
	assert.Zero(t, snap.Generation)
	assert.Zero(t, h.bp.State().ActiveJobs)
	assert.False(t, h.bp.Running("go"))

	stored, err := h.store.Get(context.Background(), submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateCancelled, stored.State)
}

func TestConcurrencyBoundAcrossTenants(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 2
	tenants := []string{"t1", "t2", "t3", "t4", "t5"}
	h := newHarness(t, cfg, tenants...)

	var running, peak atomic.Int32
	release := make(chan struct{})
	for _, id := range tenants {
		h.sources[id].set(func(ctx context.Context, _ int) (*source.Result, error) {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			assert.LessOrEqual(t, h.bp.State().ActiveJobs, 2)
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &source.Result{Units: []source.Unit{md("a.md", "content")}}, nil
		})
	}

	ids := make([]string, 0, len(tenants))
	for _, id := range tenants {
		j, err := h.sched.SubmitSync(context.Background(), id, "test")
		require.NoError(t, err)
		ids = append(ids, j.ID)
	}
	require.Eventually(t, func() bool { return running.Load() == 2 }, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)

	for _, id := range ids {
		assert.Equal(t, job.StateSucceeded, h.wait(t, id).State)
	}
	assert.EqualValues(t, 2, peak.Load())
	assert.Zero(t, h.bp.State().ActiveJobs)
}

func TestSubmitRejectedWhenQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	cfg.MaxQueued = 1
	h := newHarness(t, cfg, "a", "b", "c")
	started := make(chan int, 3)
	for _, id := range []string{"a", "b", "c"} {
		h.sources[id].set(blockUntilCancelled(started))
	}

	a, err := h.sched.SubmitSync(context.Background(), "a", "test")
	require.NoError(t, err)
	recv(t, started)
	b, err := h.sched.SubmitSync(context.Background(), "b", "test")
	require.NoError(t, err)

	_, err = h.sched.SubmitSync(context.Background(), "c", "test")
	assert.ErrorIs(t, err, apperrors.ErrBackpressureRejected)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SyncRejectedTotal))

	status, err := h.sched.Status(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatePending, status.State)

	h.sched.Cancel(context.Background(), b.ID)
	h.sched.Cancel(context.Background(), a.ID)
	assert.Equal(t, job.StateCancelled, h.wait(t, b.ID).State)
	assert.Equal(t, job.StateCancelled, h.wait(t, a.ID).State)
}

func TestJobTimeoutIsRetriedThenFails(t *testing.T) {
	cfg := testConfig()
	cfg.JobTimeout = 20 * time.Millisecond
	cfg.MaxRetries = 2
	h := newHarness(t, cfg, "go")
	h.sources["go"].set(func(ctx context.Context, _ int) (*source.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	j := h.sync(t, "go")
	assert.Equal(t, job.StateFailed, j.State)
	assert.Equal(t, 2, j.Attempt)
	assert.Equal(t, apperrors.KindTimeout, j.ErrorKind)
}

func TestDeregisterCancelsActiveJob(t *testing.T) {
	h := newHarness(t, testConfig(), "go")
	started := make(chan int, 1)
	h.sources["go"].set(blockUntilCancelled(started))

	submitted, err := h.sched.SubmitSync(context.Background(), "go", "test")
	require.NoError(t, err)
	recv(t, started)

	require.NoError(t, h.tenants.Deregister(context.Background(), "go"))
	j, err := h.sched.Status(context.Background(), submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateCancelled, j.State)

	_, err = h.sched.SubmitSync(context.Background(), "go", "test")
	assert.ErrorIs(t, err, apperrors.ErrTenantNotFound)
}

func TestRecoverFailsInterruptedJobs(t *testing.T) {
	h := newHarness(t, testConfig(), "go")
	ctx := context.Background()
	started := time.Now().UTC()
	interrupted := job.Job{ID: "running-1", TenantID: "go", State: job.StateRunning, Attempt: 1, ScheduledAt: started, StartedAt: &started}
	waiting := job.Job{ID: "retry-1", TenantID: "go", State: job.StateRetryScheduled, Attempt: 1, ScheduledAt: started}
	done := job.Job{ID: "done-1", TenantID: "go", State: job.StateSucceeded, Attempt: 1, ScheduledAt: started}
	for _, j := range []job.Job{interrupted, waiting, done} {
		require.NoError(t, h.store.Save(ctx, j))
	}

	n, err := h.sched.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{"running-1", "retry-1"} {
		j, err := h.sched.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, job.StateFailed, j.State, id)
		assert.Equal(t, apperrors.KindInternal, j.ErrorKind)
	}
	j, _ := h.sched.Status(ctx, "done-1")
	assert.Equal(t, job.StateSucceeded, j.State)
}

func TestUnknownIDs(t *testing.T) {
	h := newHarness(t, testConfig(), "go")
	_, err := h.sched.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, apperrors.ErrJobNotFound)
	_, err = h.sched.Cancel(context.Background(), "nope")
	assert.ErrorIs(t, err, apperrors.ErrJobNotFound)
	_, err = h.sched.SubmitSync(context.Background(), "rust", "test")
	assert.ErrorIs(t, err, apperrors.ErrTenantNotFound)
}
