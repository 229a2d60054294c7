// Package scheduler runs tenant sync jobs through the PENDING, RUNNING and
// terminal states, retrying fetch failures with backoff while the
// backpressure controller bounds how many run at once.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pankaj28843/docs-mcp-server/internal/backpressure"
	"github.com/pankaj28843/docs-mcp-server/internal/extract"
	"github.com/pankaj28843/docs-mcp-server/internal/job"
	"github.com/pankaj28843/docs-mcp-server/internal/jobstore"
	"github.com/pankaj28843/docs-mcp-server/internal/tenant"
	"github.com/pankaj28843/docs-mcp-server/pkg/config"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
	"github.com/pankaj28843/docs-mcp-server/pkg/logger"
	"github.com/pankaj28843/docs-mcp-server/pkg/metrics"
	"github.com/pankaj28843/docs-mcp-server/pkg/resilience"
)

// Service is the capability the outside world uses to drive syncs.
type Service interface {
	SubmitSync(ctx context.Context, tenantID, trigger string) (job.Job, error)
	Status(ctx context.Context, jobID string) (job.Job, error)
	Cancel(ctx context.Context, jobID string) (job.Job, error)
}

var _ Service = (*Scheduler)(nil)

// Notifier receives a copy of a job after every state change.
type Notifier interface {
	Notify(j job.Job)
}

type entry struct {
	job    job.Job
	cancel context.CancelFunc
	done   chan struct{}
}

type Scheduler struct {
	cfg        config.SyncConfig
	tenants    *tenant.Registry
	extractors *extract.Registry
	bp         *backpressure.Controller
	store      jobstore.Store
	metrics    *metrics.Metrics
	notifier   Notifier

	mu       sync.Mutex
	jobs     map[string]*entry
	byTenant map[string]*entry
	waiting  int
	closed   bool

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
	logger    *slog.Logger
}

type Option func(*Scheduler)

func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithExtractors(r *extract.Registry) Option {
	return func(s *Scheduler) { s.extractors = r }
}

// New wires a scheduler and subscribes it to tenant deregistration so that a
// removed tenant's job is cancelled.
func New(cfg config.SyncConfig, tenants *tenant.Registry, bp *backpressure.Controller, store jobstore.Store, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:        cfg,
		tenants:    tenants,
		extractors: extract.NewRegistry(),
		bp:         bp,
		store:      store,
		jobs:       make(map[string]*entry),
		byTenant:   make(map[string]*entry),
		baseCtx:    ctx,
		cancelAll:  cancel,
		logger:     slog.Default().With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics != nil {
		m := s.metrics
		bp.OnChange = func(st backpressure.State) {
			m.SyncActiveJobs.Set(float64(st.ActiveJobs))
			m.SyncQueuedJobs.Set(float64(st.Queued))
		}
	}
	tenants.OnDeregister(func(ctx context.Context, tenantID string) {
		s.cancelTenant(ctx, tenantID)
	})
	return s
}

// SubmitSync starts a sync for tenantID. While the tenant already has an
// active job the request is coalesced onto it and that job is returned.
func (s *Scheduler) SubmitSync(ctx context.Context, tenantID, trigger string) (job.Job, error) {
	if _, err := s.tenants.Get(tenantID); err != nil {
		return job.Job{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return job.Job{}, fmt.Errorf("%w: scheduler is shut down", apperrors.ErrCancelled)
	}
	if e, ok := s.byTenant[tenantID]; ok && e.job.State.Active() {
		j := e.job.Clone()
		s.mu.Unlock()
		logger.FromContext(ctx).Info("sync coalesced onto active job", "tenant", tenantID, "job_id", j.ID, "state", j.State)
		return j, nil
	}
	if s.cfg.MaxQueued > 0 && s.waiting >= s.cfg.MaxQueued {
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.SyncRejectedTotal.Inc()
		}
		return job.Job{}, fmt.Errorf("%w: %d sync jobs already queued", apperrors.ErrBackpressureRejected, s.cfg.MaxQueued)
	}

	jobCtx, cancel := context.WithCancel(s.baseCtx)
	e := &entry{
		job: job.Job{
			ID:          uuid.NewString(),
			TenantID:    tenantID,
			State:       job.StatePending,
			Trigger:     trigger,
			ScheduledAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.jobs[e.job.ID] = e
	s.byTenant[tenantID] = e
	s.waiting++
	snapshot := e.job.Clone()
	s.wg.Add(1)
	s.mu.Unlock()

	s.persist(snapshot)
	jobCtx = logger.WithCorrelationID(jobCtx, snapshot.ID)
	logger.FromContext(ctx).Info("sync submitted", "tenant", tenantID, "job_id", snapshot.ID, "trigger", trigger)
	go s.run(jobCtx, e)
	return snapshot, nil
}

// Status returns the live record of an active job, or the last persisted
// record of a finished one.
func (s *Scheduler) Status(ctx context.Context, jobID string) (job.Job, error) {
	s.mu.Lock()
	if e, ok := s.jobs[jobID]; ok {
		j := e.job.Clone()
		s.mu.Unlock()
		return j, nil
	}
	s.mu.Unlock()
	return s.store.Get(ctx, jobID)
}

// History lists jobs for tenantID, newest first.
func (s *Scheduler) History(ctx context.Context, tenantID string) ([]job.Job, error) {
	return s.store.List(ctx, tenantID)
}

// Cancel asks an active job to stop at its next checkpoint. Cancelling a
// finished job is a no-op that returns its final record.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) (job.Job, error) {
	s.mu.Lock()
	e, ok := s.jobs[jobID]
	if ok {
		j := e.job.Clone()
		s.mu.Unlock()
		e.cancel()
		logger.FromContext(ctx).Info("sync cancellation requested", "job_id", jobID, "tenant", j.TenantID, "state", j.State)
		return j, nil
	}
	s.mu.Unlock()
	return s.store.Get(ctx, jobID)
}

// Wait blocks until the job is no longer active or ctx ends.
func (s *Scheduler) Wait(ctx context.Context, jobID string) (job.Job, error) {
	s.mu.Lock()
	e, ok := s.jobs[jobID]
	s.mu.Unlock()
	if ok {
		select {
		case <-e.done:
		case <-ctx.Done():
			return job.Job{}, apperrors.Classify(ctx.Err(), apperrors.ErrTimeout)
		}
	}
	return s.Status(ctx, jobID)
}

// Recover marks jobs that were active when the process stopped as FAILED.
// It must run before the first SubmitSync.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	jobs, err := s.store.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("listing job history: %w", err)
	}
	now := time.Now().UTC()
	recovered := 0
	for _, j := range jobs {
		if !j.State.Active() {
			continue
		}
		if j.State == job.StateRetryScheduled {
			if err := j.Transition(job.StatePending, now); err != nil {
				return recovered, err
			}
		}
		if err := j.Transition(job.StateFailed, now); err != nil {
			return recovered, err
		}
		j.Fail(fmt.Errorf("%w: interrupted by process restart", apperrors.ErrInternal))
		if err := s.store.Save(ctx, j); err != nil {
			return recovered, fmt.Errorf("saving recovered job %s: %w", j.ID, err)
		}
		recovered++
	}
	if recovered > 0 {
		s.logger.Warn("marked interrupted sync jobs as failed", "count", recovered)
	}
	return recovered, nil
}

// Close cancels every active job and waits for them to finish.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancelAll()
	s.wg.Wait()
	return nil
}

func (s *Scheduler) cancelTenant(ctx context.Context, tenantID string) {
	s.mu.Lock()
	e, ok := s.byTenant[tenantID]
	s.mu.Unlock()
	if !ok {
		return
	}
	e.cancel()
	logger.FromContext(ctx).Info("cancelling sync of deregistered tenant", "tenant", tenantID, "job_id", e.job.ID)
	<-e.done
}

// update applies fn to the job under the lock, then persists and publishes
// the result. Only the job's own goroutine calls update after submission.
func (s *Scheduler) update(e *entry, fn func(j *job.Job) error) (job.Job, error) {
	s.mu.Lock()
	before := e.job.State
	if err := fn(&e.job); err != nil {
		s.mu.Unlock()
		return job.Job{}, err
	}
	after := e.job.State
	waitingBefore := before == job.StatePending || before == job.StateRetryScheduled
	waitingAfter := after == job.StatePending || after == job.StateRetryScheduled
	switch {
	case waitingBefore && !waitingAfter:
		s.waiting--
	case !waitingBefore && waitingAfter:
		s.waiting++
	}
	// A terminal job no longer absorbs submissions for its tenant, even
	// while its final record is still being persisted.
	if after.Terminal() && s.byTenant[e.job.TenantID] == e {
		delete(s.byTenant, e.job.TenantID)
	}
	j := e.job.Clone()
	s.mu.Unlock()
	s.persist(j)
	return j, nil
}

func (s *Scheduler) transition(e *entry, to job.State) (job.Job, error) {
	return s.update(e, func(j *job.Job) error {
		return j.Transition(to, time.Now().UTC())
	})
}

func (s *Scheduler) persist(j job.Job) {
	// The history write must not be lost to a cancelled job context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Save(ctx, j); err != nil {
		s.logger.Error("saving job history failed", "job_id", j.ID, "state", j.State, "error", err)
	}
	if s.notifier != nil {
		s.notifier.Notify(j)
	}
}

func (s *Scheduler) finish(e *entry) {
	s.mu.Lock()
	delete(s.jobs, e.job.ID)
	if s.byTenant[e.job.TenantID] == e {
		delete(s.byTenant, e.job.TenantID)
	}
	j := e.job.Clone()
	s.mu.Unlock()
	e.cancel()

	if s.metrics != nil {
		s.metrics.SyncJobsTotal.WithLabelValues(j.TenantID, string(j.State), string(j.ErrorKind)).Inc()
	}
	log := s.logger.With("job_id", j.ID, "tenant", j.TenantID, "attempt", j.Attempt)
	switch j.State {
	case job.StateSucceeded:
		log.Info("sync succeeded")
	case job.StateCancelled:
		log.Info("sync cancelled")
	default:
		log.Error("sync failed", "error_kind", j.ErrorKind, "error", j.LastError)
	}
}

func (s *Scheduler) backoff(attempt int) time.Duration {
	return resilience.Backoff(attempt, resilience.RetryConfig{
		InitialDelay:   s.cfg.InitialBackoff,
		MaxDelay:       s.cfg.MaxBackoff,
		Multiplier:     s.cfg.BackoffMultiplier,
		JitterFraction: 0.1,
	})
}

func (s *Scheduler) maxAttempts() int {
	if s.cfg.MaxRetries < 1 {
		return 1
	}
	return s.cfg.MaxRetries
}
