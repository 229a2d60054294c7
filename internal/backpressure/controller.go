// Package backpressure bounds how many sync jobs run at once across the
// process and guarantees at most one per tenant.
package backpressure

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
)

// State is a point-in-time view of the controller.
type State struct {
	ActiveJobs    int `json:"active_job_count"`
	Queued        int `json:"queued_count"`
	MaxConcurrent int `json:"max_concurrent"`
}

type Controller struct {
	slots   chan struct{}
	active  atomic.Int64
	queued  atomic.Int64
	mu      sync.Mutex
	running map[string]struct{}
	// OnChange, when set, is called after every admission or release.
	OnChange func(State)
	logger   *slog.Logger
}

func NewController(maxConcurrent int) *Controller {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Controller{
		slots:   make(chan struct{}, maxConcurrent),
		running: make(map[string]struct{}),
		logger:  slog.Default().With("component", "backpressure"),
	}
}

// Permit is proof of admission. Release must be called exactly once on every
// exit path; extra calls are ignored.
type Permit struct {
	c        *Controller
	tenantID string
	once     sync.Once
}

func (p *Permit) TenantID() string { return p.tenantID }

func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.c.active.Add(-1)
		<-p.c.slots
		p.c.mu.Lock()
		delete(p.c.running, p.tenantID)
		p.c.mu.Unlock()
		p.c.notify()
	})
}

// Admit reserves the tenant's exclusive slot and one global slot. When all
// global slots are taken it waits only if ctx can end (deadline or
// cancellation); a context that can never end is rejected immediately.
func (c *Controller) Admit(ctx context.Context, tenantID string) (*Permit, error) {
	c.mu.Lock()
	if _, busy := c.running[tenantID]; busy {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: tenant %s already has a running sync", apperrors.ErrBackpressureRejected, tenantID)
	}
	c.running[tenantID] = struct{}{}
	c.mu.Unlock()

	if err := c.acquire(ctx); err != nil {
		c.mu.Lock()
		delete(c.running, tenantID)
		c.mu.Unlock()
		return nil, err
	}
	c.active.Add(1)
	c.notify()
	return &Permit{c: c, tenantID: tenantID}, nil
}

func (c *Controller) acquire(ctx context.Context) error {
	select {
	case c.slots <- struct{}{}:
		return nil
	default:
	}
	if ctx.Done() == nil {
		return fmt.Errorf("%w: %d of %d sync slots in use", apperrors.ErrBackpressureRejected, c.active.Load(), cap(c.slots))
	}
	c.queued.Add(1)
	c.notify()
	defer func() {
		c.queued.Add(-1)
		c.notify()
	}()
	select {
	case c.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: no sync slot freed in time", apperrors.ErrBackpressureRejected)
		}
		return apperrors.Classify(ctx.Err(), apperrors.ErrBackpressureRejected)
	}
}

func (c *Controller) State() State {
	return State{
		ActiveJobs:    int(c.active.Load()),
		Queued:        int(c.queued.Load()),
		MaxConcurrent: cap(c.slots),
	}
}

// Running reports whether tenantID currently holds a permit or is waiting
// for one.
func (c *Controller) Running(tenantID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.running[tenantID]
	return ok
}

func (c *Controller) notify() {
	if c.OnChange != nil {
		c.OnChange(c.State())
	}
}
