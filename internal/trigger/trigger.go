// Package trigger turns timers, Kafka sync requests and filesystem changes
// into SubmitSync calls.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pankaj28843/docs-mcp-server/internal/job"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
	"github.com/pankaj28843/docs-mcp-server/pkg/kafka"
)

const (
	SourceInterval = "interval"
	SourceKafka    = "kafka"
	SourceWatch    = "watch"
	SourceAPI      = "api"
	SourceCLI      = "cli"
	SourceRegister = "register"
)

type Submitter interface {
	SubmitSync(ctx context.Context, tenantID, trigger string) (job.Job, error)
}

// submit logs the outcome. A rejection by backpressure is expected under
// load and only warned about.
func submit(ctx context.Context, logger *slog.Logger, sub Submitter, tenantID, source string) error {
	j, err := sub.SubmitSync(ctx, tenantID, source)
	switch {
	case err == nil:
		logger.Debug("sync triggered", "tenant", tenantID, "job_id", j.ID, "trigger", source)
	case errors.Is(err, apperrors.ErrBackpressureRejected):
		logger.Warn("triggered sync rejected", "tenant", tenantID, "trigger", source, "error", err)
	default:
		logger.Error("triggered sync failed", "tenant", tenantID, "trigger", source, "error", err)
	}
	return err
}

// Intervals submits a sync for each tenant on its own ticker.
type Intervals struct {
	sub    Submitter
	mu     sync.Mutex
	stops  map[string]context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewIntervals(sub Submitter) *Intervals {
	return &Intervals{
		sub:    sub,
		stops:  make(map[string]context.CancelFunc),
		logger: slog.Default().With("component", "trigger-interval"),
	}
}

// Add starts (or restarts) the ticker for tenantID. A non-positive interval
// removes it.
func (iv *Intervals) Add(ctx context.Context, tenantID string, every time.Duration) {
	iv.Remove(tenantID)
	if every <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	iv.mu.Lock()
	iv.stops[tenantID] = cancel
	iv.mu.Unlock()

	iv.wg.Add(1)
	go func() {
		defer iv.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				submit(ctx, iv.logger, iv.sub, tenantID, SourceInterval)
			}
		}
	}()
	iv.logger.Info("interval sync scheduled", "tenant", tenantID, "every", every)
}

func (iv *Intervals) Remove(tenantID string) {
	iv.mu.Lock()
	cancel, ok := iv.stops[tenantID]
	delete(iv.stops, tenantID)
	iv.mu.Unlock()
	if ok {
		cancel()
	}
}

func (iv *Intervals) Stop() {
	iv.mu.Lock()
	for id, cancel := range iv.stops {
		cancel()
		delete(iv.stops, id)
	}
	iv.mu.Unlock()
	iv.wg.Wait()
}

// SyncRequest is the JSON body of a message on the sync requests topic.
type SyncRequest struct {
	TenantID    string `json:"tenant_id"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// KafkaHandler decodes sync requests and submits them. The message key is
// used as the tenant id when the body omits it.
func KafkaHandler(sub Submitter) kafka.MessageHandler {
	logger := slog.Default().With("component", "trigger-kafka")
	return func(ctx context.Context, key, value []byte) error {
		req, err := kafka.DecodeJSON[SyncRequest](value)
		if err != nil {
			return fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
		}
		if req.TenantID == "" {
			req.TenantID = string(key)
		}
		if req.TenantID == "" {
			return fmt.Errorf("%w: sync request without tenant_id", apperrors.ErrInvalidInput)
		}
		return submit(ctx, logger.With("requested_by", req.RequestedBy), sub, req.TenantID, SourceKafka)
	}
}
