package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pankaj28843/docs-mcp-server/internal/backpressure"
	"github.com/pankaj28843/docs-mcp-server/internal/events"
	"github.com/pankaj28843/docs-mcp-server/internal/job"
	"github.com/pankaj28843/docs-mcp-server/internal/jobstore"
	"github.com/pankaj28843/docs-mcp-server/internal/ratelimit"
	"github.com/pankaj28843/docs-mcp-server/internal/scheduler"
	"github.com/pankaj28843/docs-mcp-server/internal/search"
	"github.com/pankaj28843/docs-mcp-server/internal/tenant"
	"github.com/pankaj28843/docs-mcp-server/internal/trigger"
	"github.com/pankaj28843/docs-mcp-server/pkg/config"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
	"github.com/pankaj28843/docs-mcp-server/pkg/logger"
)

type recordingCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (c *recordingCache) GetOrCompute(ctx context.Context, _, _ string, compute func(ctx context.Context) (*search.Response, error)) (*search.Response, bool, error) {
	resp, err := compute(ctx)
	return resp, false, err
}

func (c *recordingCache) InvalidateTenant(_ context.Context, tenantID string) error {
	c.mu.Lock()
	c.invalidated = append(c.invalidated, tenantID)
	c.mu.Unlock()
	return nil
}

func (c *recordingCache) calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.invalidated...)
}

type recordingTracker struct {
	mu     sync.Mutex
	events []events.SearchEvent
}

func (r *recordingTracker) TrackSearch(ev events.SearchEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

type fixture struct {
	svc     *Service
	sched   *scheduler.Scheduler
	cache   *recordingCache
	tracker *recordingTracker
	docs    string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Sync.InitialBackoff = time.Millisecond
	cfg.Sync.MaxBackoff = time.Millisecond

	store, err := jobstore.OpenFile(filepath.Join(t.TempDir(), "history.jsonl"))
	require.NoError(t, err)
	tenants := tenant.NewRegistry(t.TempDir(), nil, nil)
	sched := scheduler.New(cfg.Sync, tenants, backpressure.NewController(cfg.Sync.MaxConcurrent), store)

	f := &fixture{
		sched:   sched,
		cache:   &recordingCache{},
		tracker: &recordingTracker{},
		docs:    t.TempDir(),
	}
	coord := search.NewCoordinator(tenants, cfg.Search, f.cache, nil)
	ctx, cancel := context.WithCancel(context.Background())
	opts = append([]Option{WithCache(f.cache), WithTracker(f.tracker)}, opts...)
	f.svc = New(ctx, tenants, sched, coord, opts...)
	t.Cleanup(func() {
		cancel()
		sched.Close()
		store.Close()
	})
	return f
}

func (f *fixture) write(t *testing.T, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.docs, name), []byte(body), 0o644))
}

func (f *fixture) tenantConfig(name string) config.TenantConfig {
	return config.TenantConfig{
		Name:   name,
		Source: config.SourceConfig{Type: "filesystem", Root: f.docs},
	}
}

func (f *fixture) wait(t *testing.T, jobID string) job.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	j, err := f.sched.Wait(ctx, jobID)
	require.NoError(t, err)
	return j
}

func TestRegisterSyncsAndServesSearch(t *testing.T) {
	f := newFixture(t)
	f.write(t, "fox.md", "# Foxes\n\nThe quick brown fox jumps over the lazy dog.\n")
	f.write(t, "cat.md", "# Cats\n\nCats sleep most of the day.\n")

	reg, err := f.svc.RegisterTenant(context.Background(), f.tenantConfig("animals"))
	require.NoError(t, err)
	require.NotNil(t, reg.InitialSync)
	assert.Equal(t, trigger.SourceRegister, reg.InitialSync.Trigger)

	done := f.wait(t, reg.InitialSync.ID)
	require.Equal(t, job.StateSucceeded, done.State, done.LastError)
	assert.Contains(t, f.cache.calls(), "animals", "publish invalidates cached results")

	desc, err := f.svc.DescribeIndex(context.Background(), "animals")
	require.NoError(t, err)
	assert.Equal(t, 2, desc.DocumentCount)
	assert.Greater(t, desc.AvgDocLength, 0.0)
	require.NotNil(t, desc.LastSyncedAt)

	ctx := logger.WithRequestID(context.Background(), "req-42")
	resp, err := f.svc.Search(ctx, "animals", "fox", 5, search.Filters{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Contains(t, resp.Results[0].URI, "fox.md")

	_, err = f.svc.Search(ctx, "animals", "unicorn", 5, search.Filters{})
	require.NoError(t, err)

	f.tracker.mu.Lock()
	defer f.tracker.mu.Unlock()
	require.Len(t, f.tracker.events, 2)
	assert.Equal(t, "req-42", f.tracker.events[0].RequestID)
	assert.Equal(t, 1, f.tracker.events[0].Returned)
	assert.Zero(t, f.tracker.events[1].TotalHits)

	assert.Len(t, f.svc.ListTenants(), 1)
}

func TestRegisterRejectsDuplicatesAndInvalid(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RegisterTenant(context.Background(), f.tenantConfig("docs"))
	require.NoError(t, err)

	_, err = f.svc.RegisterTenant(context.Background(), f.tenantConfig("docs"))
	assert.ErrorIs(t, err, apperrors.ErrTenantExists)

	_, err = f.svc.RegisterTenant(context.Background(), config.TenantConfig{Name: "Bad Name"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.svc.RegisterTenant(context.Background(), config.TenantConfig{
		Name:   "nowhere",
		Source: config.SourceConfig{Type: "ftp"},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSubmitSyncThrottledPerTenant(t *testing.T) {
	f := newFixture(t, WithLimiter(ratelimit.New(1, time.Hour)))
	f.write(t, "a.md", "alpha")
	reg, err := f.svc.RegisterTenant(context.Background(), f.tenantConfig("docs"))
	require.NoError(t, err)
	f.wait(t, reg.InitialSync.ID)

	j, err := f.svc.SubmitSync(context.Background(), "docs", trigger.SourceAPI)
	require.NoError(t, err)
	f.wait(t, j.ID)

	_, err = f.svc.SubmitSync(context.Background(), "docs", trigger.SourceAPI)
	var throttled *ThrottledError
	require.ErrorAs(t, err, &throttled)
	assert.ErrorIs(t, err, apperrors.ErrBackpressureRejected)
	assert.Greater(t, throttled.RetryAfter, time.Duration(0))

	_, err = f.svc.SubmitSync(context.Background(), "missing", trigger.SourceAPI)
	assert.ErrorIs(t, err, apperrors.ErrTenantNotFound)
}

func TestStatusAndCancel(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.md", "alpha")
	reg, err := f.svc.RegisterTenant(context.Background(), f.tenantConfig("docs"))
	require.NoError(t, err)
	f.wait(t, reg.InitialSync.ID)

	status, err := f.svc.GetSyncStatus(context.Background(), reg.InitialSync.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateSucceeded, status.State)
	assert.Equal(t, 1, status.Attempt)

	again, err := f.svc.CancelSync(context.Background(), reg.InitialSync.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateSucceeded, again.State)

	_, err = f.svc.GetSyncStatus(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, apperrors.ErrJobNotFound)

	history, err := f.svc.SyncHistory(context.Background(), "docs")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, reg.InitialSync.ID, history[0].ID)
}

func TestDeregisterDropsTenant(t *testing.T) {
	iv := trigger.NewIntervals(nil)
	t.Cleanup(iv.Stop)
	f := newFixture(t, WithIntervals(iv))
	f.write(t, "a.md", "alpha")
	cfg := f.tenantConfig("docs")
	cfg.SyncInterval = time.Hour
	reg, err := f.svc.RegisterTenant(context.Background(), cfg)
	require.NoError(t, err)
	f.wait(t, reg.InitialSync.ID)

	require.NoError(t, f.svc.DeregisterTenant(context.Background(), "docs"))
	assert.Equal(t, 2, countOf(f.cache.calls(), "docs"), "publish and deregister both invalidate")

	_, err = f.svc.Search(context.Background(), "docs", "alpha", 5, search.Filters{})
	assert.ErrorIs(t, err, apperrors.ErrTenantNotFound)
	_, err = f.svc.DescribeIndex(context.Background(), "docs")
	assert.ErrorIs(t, err, apperrors.ErrTenantNotFound)
	assert.ErrorIs(t, f.svc.DeregisterTenant(context.Background(), "docs"), apperrors.ErrTenantNotFound)
	assert.Empty(t, f.svc.ListTenants())
}

func TestBootstrapJoinsErrors(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Bootstrap(context.Background(), []config.TenantConfig{
		f.tenantConfig("one"),
		{Name: "two", Source: config.SourceConfig{Type: "ftp"}},
		f.tenantConfig("three"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Len(t, f.svc.ListTenants(), 2)
}

func countOf(list []string, want string) int {
	n := 0
	for _, s := range list {
		if s == want {
			n++
		}
	}
	return n
}
