// Package service is the entry point used by every binding (HTTP, CLI and
// Kafka). It combines the tenant registry, the sync scheduler and the search
// coordinator and keeps per-tenant triggers, caches and rate limits in step
// with registrations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pankaj28843/docs-mcp-server/internal/events"
	"github.com/pankaj28843/docs-mcp-server/internal/index"
	"github.com/pankaj28843/docs-mcp-server/internal/job"
	"github.com/pankaj28843/docs-mcp-server/internal/ratelimit"
	"github.com/pankaj28843/docs-mcp-server/internal/scheduler"
	"github.com/pankaj28843/docs-mcp-server/internal/search"
	"github.com/pankaj28843/docs-mcp-server/internal/source"
	"github.com/pankaj28843/docs-mcp-server/internal/tenant"
	"github.com/pankaj28843/docs-mcp-server/internal/trigger"
	"github.com/pankaj28843/docs-mcp-server/pkg/config"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
	"github.com/pankaj28843/docs-mcp-server/pkg/logger"
)

// SearchTracker receives one event per answered search.
type SearchTracker interface {
	TrackSearch(ev events.SearchEvent)
}

var _ SearchTracker = (*events.Collector)(nil)

// ThrottledError is returned when a tenant submits syncs faster than the
// configured rate.
type ThrottledError struct {
	TenantID   string
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s: sync submissions for %s throttled, retry in %s",
		apperrors.ErrBackpressureRejected, e.TenantID, e.RetryAfter.Round(time.Second))
}

func (e *ThrottledError) Unwrap() error { return apperrors.ErrBackpressureRejected }

// Registration is returned by RegisterTenant.
type Registration struct {
	Index       tenant.Description `json:"index"`
	InitialSync *job.Job           `json:"initial_sync,omitempty"`
}

type Service struct {
	ctx       context.Context
	tenants   *tenant.Registry
	scheduler *scheduler.Scheduler
	search    *search.Coordinator

	cache     search.Cache
	tracker   SearchTracker
	limiter   *ratelimit.Limiter
	intervals *trigger.Intervals
	watcher   *trigger.Watcher

	logger *slog.Logger
}

type Option func(*Service)

// WithCache invalidates c whenever a tenant publishes or is removed. The
// coordinator must be built with the same cache.
func WithCache(c search.Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithTracker(t SearchTracker) Option {
	return func(s *Service) { s.tracker = t }
}

// WithLimiter throttles SubmitSync per tenant.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

func WithIntervals(iv *trigger.Intervals) Option {
	return func(s *Service) { s.intervals = iv }
}

func WithWatcher(w *trigger.Watcher) Option {
	return func(s *Service) { s.watcher = w }
}

// New wires the service. ctx bounds the lifetime of the interval triggers
// started for registered tenants.
func New(ctx context.Context, tenants *tenant.Registry, sched *scheduler.Scheduler, coord *search.Coordinator, opts ...Option) *Service {
	s := &Service{
		ctx:       ctx,
		tenants:   tenants,
		scheduler: sched,
		search:    coord,
		logger:    slog.Default().With("component", "service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	tenants.OnPublish(func(ctx context.Context, tenantID string, _ *index.Snapshot) {
		s.invalidate(ctx, tenantID)
	})
	tenants.OnDeregister(func(ctx context.Context, tenantID string) {
		s.stopTriggers(tenantID)
		s.invalidate(ctx, tenantID)
		if s.limiter != nil {
			s.limiter.Reset(tenantID)
		}
	})
	return s
}

// Bootstrap registers the configured tenants. Tenants that have never been
// synced get an initial sync. Failures are joined and do not stop the
// remaining tenants from registering.
func (s *Service) Bootstrap(ctx context.Context, tenants []config.TenantConfig) error {
	var errs []error
	for _, cfg := range tenants {
		if _, err := s.RegisterTenant(ctx, cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) RegisterTenant(ctx context.Context, cfg config.TenantConfig) (Registration, error) {
	t, err := s.tenants.Register(ctx, cfg)
	if err != nil {
		return Registration{}, err
	}
	s.startTriggers(t)

	var reg Registration
	if t.Snapshot().Generation == 0 {
		j, err := s.scheduler.SubmitSync(ctx, cfg.Name, trigger.SourceRegister)
		if err != nil {
			s.logger.WarnContext(ctx, "initial sync not submitted", "tenant", cfg.Name, "error", err)
		} else {
			reg.InitialSync = &j
		}
	}
	reg.Index, err = s.tenants.Describe(cfg.Name)
	if err != nil {
		return Registration{}, err
	}
	return reg, nil
}

// DeregisterTenant cancels the tenant's jobs, stops its triggers and drops
// its persisted state.
func (s *Service) DeregisterTenant(ctx context.Context, tenantID string) error {
	return s.tenants.Deregister(ctx, tenantID)
}

func (s *Service) ListTenants() []tenant.Description {
	ids := s.tenants.List()
	out := make([]tenant.Description, 0, len(ids))
	for _, id := range ids {
		d, err := s.tenants.Describe(id)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (s *Service) DescribeIndex(_ context.Context, tenantID string) (tenant.Description, error) {
	return s.tenants.Describe(tenantID)
}

// SubmitSync queues a sync for tenantID, or returns the job already queued
// or running for it.
func (s *Service) SubmitSync(ctx context.Context, tenantID, source string) (job.Job, error) {
	if _, err := s.tenants.Get(tenantID); err != nil {
		return job.Job{}, err
	}
	if s.limiter != nil {
		if ok, wait := s.limiter.Allow(tenantID); !ok {
			return job.Job{}, &ThrottledError{TenantID: tenantID, RetryAfter: wait}
		}
	}
	return s.scheduler.SubmitSync(ctx, tenantID, source)
}

func (s *Service) GetSyncStatus(ctx context.Context, jobID string) (job.Job, error) {
	return s.scheduler.Status(ctx, jobID)
}

// CancelSync is idempotent: cancelling a finished job returns it unchanged.
func (s *Service) CancelSync(ctx context.Context, jobID string) (job.Job, error) {
	return s.scheduler.Cancel(ctx, jobID)
}

// SyncHistory lists the tenant's jobs, newest first.
func (s *Service) SyncHistory(ctx context.Context, tenantID string) ([]job.Job, error) {
	if _, err := s.tenants.Get(tenantID); err != nil {
		return nil, err
	}
	return s.scheduler.History(ctx, tenantID)
}

func (s *Service) Search(ctx context.Context, tenantID, query string, k int, filters search.Filters) (*search.Response, error) {
	start := time.Now()
	resp, err := s.search.Search(ctx, tenantID, query, k, filters)
	if err != nil {
		return nil, err
	}
	if s.tracker != nil {
		s.tracker.TrackSearch(events.SearchEvent{
			TenantID:   tenantID,
			Query:      query,
			Generation: resp.Generation,
			TotalHits:  resp.TotalHits,
			Returned:   len(resp.Results),
			LatencyMs:  time.Since(start).Milliseconds(),
			CacheHit:   resp.Cached,
			RequestID:  logger.RequestID(ctx),
		})
	}
	return resp, nil
}

func (s *Service) startTriggers(t *tenant.Tenant) {
	cfg := t.Config()
	if s.intervals != nil && cfg.SyncInterval > 0 {
		s.intervals.Add(s.ctx, cfg.Name, cfg.SyncInterval)
	}
	if s.watcher != nil && cfg.Watch {
		if cfg.Source.Type != source.KindFilesystem {
			s.logger.Warn("watch is only supported for filesystem sources", "tenant", cfg.Name, "source", cfg.Source.Type)
			return
		}
		if err := s.watcher.Add(cfg.Name, cfg.Source.Root); err != nil {
			s.logger.Error("watching tenant root failed", "tenant", cfg.Name, "error", err)
		}
	}
}

func (s *Service) stopTriggers(tenantID string) {
	if s.intervals != nil {
		s.intervals.Remove(tenantID)
	}
	if s.watcher != nil {
		s.watcher.Remove(tenantID)
	}
}

func (s *Service) invalidate(ctx context.Context, tenantID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateTenant(ctx, tenantID); err != nil {
		s.logger.Warn("cache invalidation failed", "tenant", tenantID, "error", err)
	}
}
