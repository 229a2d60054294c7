package scheduler

import (
	"context"
	"time"

	"github.com/pankaj28843/docs-mcp-server/internal/backpressure"
	"github.com/pankaj28843/docs-mcp-server/internal/docstore"
	"github.com/pankaj28843/docs-mcp-server/internal/index"
	"github.com/pankaj28843/docs-mcp-server/internal/job"
	"github.com/pankaj28843/docs-mcp-server/internal/source"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
	"github.com/pankaj28843/docs-mcp-server/pkg/logger"
	"github.com/pankaj28843/docs-mcp-server/pkg/resilience"
	"github.com/pankaj28843/docs-mcp-server/pkg/tracing"
)

// run drives one job to a terminal state. Every attempt acquires its own
// permit and releases it before any backoff wait.
func (s *Scheduler) run(ctx context.Context, e *entry) {
	defer s.wg.Done()
	defer close(e.done)
	defer s.finish(e)

	tenantID := e.job.TenantID
	log := logger.FromContext(ctx).With("tenant", tenantID)

	for {
		permit, err := s.admit(ctx, tenantID)
		if err != nil {
			if ctx.Err() != nil {
				s.cancelled(e, err)
				return
			}
			if s.metrics != nil {
				s.metrics.SyncRejectedTotal.Inc()
			}
			s.update(e, func(j *job.Job) error {
				j.Fail(err)
				return j.Transition(job.StateFailed, time.Now().UTC())
			})
			return
		}

		current, err := s.update(e, func(j *job.Job) error {
			if err := j.Transition(job.StateRunning, time.Now().UTC()); err != nil {
				return err
			}
			j.Attempt++
			return nil
		})
		if err != nil {
			permit.Release()
			log.Error("job state corrupted", "error", err)
			return
		}
		log.Info("sync attempt started", "attempt", current.Attempt)

		start := time.Now()
		stats, err := s.attempt(ctx, tenantID)
		permit.Release()
		if s.metrics != nil {
			s.metrics.SyncDuration.WithLabelValues(tenantID).Observe(time.Since(start).Seconds())
		}

		switch {
		case err == nil:
			s.update(e, func(j *job.Job) error {
				j.Stats = stats
				j.LastError = ""
				j.ErrorKind = apperrors.KindNone
				return j.Transition(job.StateSucceeded, time.Now().UTC())
			})
			return
		case ctx.Err() != nil:
			s.cancelled(e, err)
			return
		}

		retry := apperrors.Retryable(err) && current.Attempt < s.maxAttempts()
		s.update(e, func(j *job.Job) error {
			now := time.Now().UTC()
			j.Fail(err)
			if err := j.Transition(job.StateFailed, now); err != nil {
				return err
			}
			if retry {
				return j.Transition(job.StateRetryScheduled, now)
			}
			return nil
		})
		if !retry {
			return
		}

		delay := s.backoff(current.Attempt)
		log.Warn("sync attempt failed, retry scheduled", "attempt", current.Attempt, "error", err, "delay", delay)
		if err := resilience.Sleep(ctx, delay); err != nil {
			s.cancelled(e, err)
			return
		}
		if _, err := s.transition(e, job.StatePending); err != nil {
			log.Error("job state corrupted", "error", err)
			return
		}
	}
}

func (s *Scheduler) admit(ctx context.Context, tenantID string) (*backpressure.Permit, error) {
	admitCtx := ctx
	if s.cfg.AdmitTimeout > 0 {
		var cancel context.CancelFunc
		admitCtx, cancel = context.WithTimeout(ctx, s.cfg.AdmitTimeout)
		defer cancel()
	}
	return s.bp.Admit(admitCtx, tenantID)
}

func (s *Scheduler) cancelled(e *entry, cause error) {
	s.update(e, func(j *job.Job) error {
		j.LastError = apperrors.Classify(cause, apperrors.ErrCancelled).Error()
		j.ErrorKind = apperrors.KindCancelled
		return j.Transition(job.StateCancelled, time.Now().UTC())
	})
}

// attempt runs one fetch, extract, build and publish pass. Nothing is
// published unless every stage succeeds, and ctx is checked between stages.
func (s *Scheduler) attempt(ctx context.Context, tenantID string) (*job.Stats, error) {
	t, err := s.tenants.Get(tenantID)
	if err != nil {
		return nil, err
	}

	var stats *job.Stats
	err = resilience.WithTimeout(ctx, s.cfg.JobTimeout, "sync", func(ctx context.Context) error {
		ctx, span := tracing.StartSpan(ctx, "sync", "")
		span.SetAttr("tenant", tenantID)
		defer func() {
			span.End()
			span.Log(ctx)
		}()
		var err error
		stats, err = s.pipeline(ctx, t.ID(), t.Snapshot(), t.Fetcher())
		span.Err = err
		return err
	})
	return stats, err
}

func (s *Scheduler) pipeline(ctx context.Context, tenantID string, prev *index.Snapshot, fetcher source.Fetcher) (*job.Stats, error) {
	stats := &job.Stats{}

	var res *source.Result
	err := tracing.Stage(ctx, "fetch", func(ctx context.Context) error {
		var err error
		res, err = fetcher.Fetch(ctx)
		return err
	})
	if err != nil {
		return nil, apperrors.Classify(err, apperrors.ErrFetch)
	}
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	stats.Fetched = len(res.Units)
	stats.FetchFailures = len(res.Failed)

	var docs []*docstore.Document
	tracing.Stage(ctx, "extract", func(ctx context.Context) error {
		docs = s.assemble(ctx, tenantID, prev, res, stats)
		return nil
	})
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}

	store, err := docstore.NewStore(tenantID, docs)
	if err != nil {
		return nil, apperrors.Classify(err, apperrors.ErrIndexBuild)
	}
	changes := docstore.Diff(prev.Docs(), store)
	stats.Added = len(changes.Added)
	stats.Modified = len(changes.Modified)
	stats.Deleted = len(changes.Deleted)
	stats.Unchanged = len(changes.Unchanged)
	stats.Documents = store.Len()

	if changes.Empty() && prev.Generation > 0 {
		logger.FromContext(ctx).Info("sync found no changes", "generation", prev.Generation, "documents", stats.Documents)
		if err := s.tenants.MarkSynced(tenantID); err != nil {
			return nil, err
		}
		return stats, nil
	}

	var snap *index.Snapshot
	err = tracing.Stage(ctx, "build", func(ctx context.Context) error {
		var err error
		snap, err = index.Build(ctx, store, prev.Generation+1)
		return err
	})
	if err != nil {
		return nil, apperrors.Classify(err, apperrors.ErrIndexBuild)
	}
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}

	if err := tracing.Stage(ctx, "publish", func(ctx context.Context) error {
		return s.tenants.Publish(ctx, tenantID, snap)
	}); err != nil {
		return nil, apperrors.Classify(err, apperrors.ErrIndexBuild)
	}
	stats.PublishedSnapshot = snap.Generation

	if s.metrics != nil {
		s.metrics.DocsIndexedTotal.WithLabelValues(tenantID, "added").Add(float64(stats.Added))
		s.metrics.DocsIndexedTotal.WithLabelValues(tenantID, "modified").Add(float64(stats.Modified))
		s.metrics.DocsIndexedTotal.WithLabelValues(tenantID, "deleted").Add(float64(stats.Deleted))
	}
	return stats, nil
}

// assemble turns fetched units into documents. Units whose bytes did not
// change reuse the previous document. A unit that failed to fetch or extract
// keeps its previous revision when there is one and is otherwise left out.
func (s *Scheduler) assemble(ctx context.Context, tenantID string, prev *index.Snapshot, res *source.Result, stats *job.Stats) []*docstore.Document {
	log := logger.FromContext(ctx)
	previous := prev.Docs().ByURI()
	included := make(map[string]bool, len(res.Units))
	docs := make([]*docstore.Document, 0, len(res.Units)+len(res.Failed))
	now := time.Now().UTC()

	keepPrevious := func(uri string) {
		if old, ok := previous[uri]; ok && !included[uri] {
			docs = append(docs, old)
			included[uri] = true
		}
	}

	for _, u := range res.Units {
		if included[u.URI] {
			continue
		}
		if old, ok := previous[u.URI]; ok && old.Revision == docstore.Revision(u.Body) {
			docs = append(docs, old)
			included[u.URI] = true
			continue
		}
		ex, err := s.extractors.Extract(u.ContentType, u.URI, u.Body)
		if err != nil {
			stats.ExtractFailures++
			if s.metrics != nil {
				s.metrics.ExtractionFailures.WithLabelValues(tenantID).Inc()
			}
			log.Warn("skipping document", "uri", u.URI, "error", apperrors.Classify(err, apperrors.ErrExtraction))
			keepPrevious(u.URI)
			continue
		}
		docs = append(docs, docstore.NewDocument(tenantID, u.URI, ex.Title, ex.Text, u.Body, now))
		included[u.URI] = true
	}
	for _, f := range res.Failed {
		log.Warn("source unit failed, keeping previous revision", "uri", f.URI, "error", f.Err)
		keepPrevious(f.URI)
	}
	return docs
}

func checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Classify(err, apperrors.ErrInternal)
	}
	return nil
}
