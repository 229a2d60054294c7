package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pankaj28843/docs-mcp-server/internal/job"
	"github.com/pankaj28843/docs-mcp-server/pkg/kafka"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

var _ Publisher = (*kafka.Producer)(nil)

// Collector buffers events in a channel and flushes them in batches, when a
// batch fills or every flushInterval. Events are keyed by tenant so a
// tenant's events stay ordered within one partition.
type Collector struct {
	publisher     Publisher
	eventCh       chan kafka.Event
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
	closeOnce     sync.Once
}

func NewCollector(publisher Publisher, bufferSize, batchSize int, flushInterval time.Duration) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Collector{
		publisher:     publisher,
		eventCh:       make(chan kafka.Event, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "event-collector"),
		done:          make(chan struct{}),
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.loop(ctx)
	c.logger.Info("event collector started", "buffer_size", cap(c.eventCh), "batch_size", c.batchSize)
}

func (c *Collector) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()
	batch := make([]kafka.Event, 0, c.batchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := c.publisher.PublishBatch(ctx, batch); err != nil {
			c.logger.Error("failed to publish events", "count", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-c.eventCh:
			if !ok {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				flush(flushCtx)
				cancel()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= c.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.drain(&batch)
			flush(flushCtx)
			cancel()
			return
		}
	}
}

func (c *Collector) drain(batch *[]kafka.Event) {
	for {
		select {
		case ev, ok := <-c.eventCh:
			if !ok {
				return
			}
			*batch = append(*batch, ev)
		default:
			return
		}
	}
}

func (c *Collector) track(key string, value any) {
	select {
	case c.eventCh <- kafka.Event{Key: key, Value: value}:
	default:
		c.logger.Warn("event dropped (buffer full)", "key", key)
	}
}

// Notify records a job state change.
func (c *Collector) Notify(j job.Job) {
	c.track(j.TenantID, jobEvent(j))
}

// TrackSearch records a completed search. Searches with no hits are typed as
// zero_result.
func (c *Collector) TrackSearch(ev SearchEvent) {
	ev.Type = EventSearch
	if ev.TotalHits == 0 {
		ev.Type = EventZeroResult
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	c.track(ev.TenantID, ev)
}

// Close stops accepting events, flushes what is buffered and waits for the
// loop to exit. Track calls must not race with Close.
func (c *Collector) Close() {
	c.closeOnce.Do(func() { close(c.eventCh) })
	<-c.done
}
