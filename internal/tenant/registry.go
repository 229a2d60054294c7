// Package tenant owns the set of registered tenants, each with exactly one
// live index snapshot. Readers take the snapshot with a single atomic load;
// publishing persists the new snapshot and then swaps the pointer.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pankaj28843/docs-mcp-server/internal/index"
	"github.com/pankaj28843/docs-mcp-server/internal/segment"
	"github.com/pankaj28843/docs-mcp-server/internal/source"
	"github.com/pankaj28843/docs-mcp-server/pkg/config"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
	"github.com/pankaj28843/docs-mcp-server/pkg/metrics"
)

type Tenant struct {
	cfg     config.TenantConfig
	dir     string
	fetcher source.Fetcher

	snapshot     atomic.Pointer[index.Snapshot]
	lastSyncedAt atomic.Int64
	publishMu    sync.Mutex
	removed      bool
}

func (t *Tenant) ID() string { return t.cfg.Name }
func (t *Tenant) Config() config.TenantConfig { return t.cfg }
func (t *Tenant) Fetcher() source.Fetcher { return t.fetcher }
func (t *Tenant) Snapshot() *index.Snapshot { return t.snapshot.Load() }
func (t *Tenant) snapshotPath() string { return filepath.Join(t.dir, segment.FileName) }

// LastSyncedAt is the zero time until the first successful sync.
func (t *Tenant) LastSyncedAt() time.Time {
	ns := t.lastSyncedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// Description is the answer to describe_index.
type Description struct {
	TenantID      string     `json:"tenant_id"`
	SourceType    string     `json:"source_type"`
	DocumentCount int        `json:"document_count"`
	AvgDocLength  float64    `json:"avg_doc_length"`
	TermCount     int        `json:"term_count"`
	Generation    uint64     `json:"generation"`
	LastSyncedAt  *time.Time `json:"last_synced_at"`
}

type PublishHook func(ctx context.Context, tenantID string, snap *index.Snapshot)
type DeregisterHook func(ctx context.Context, tenantID string)

type Registry struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant

	dataDir string
	kinds   source.Kinds
	deps    source.Deps
	metrics *metrics.Metrics

	hookMu       sync.RWMutex
	onPublish    []PublishHook
	onDeregister []DeregisterHook

	logger *slog.Logger
}

func NewRegistry(dataDir string, kinds source.Kinds, m *metrics.Metrics) *Registry {
	if kinds == nil {
		kinds = source.DefaultKinds()
	}
	return &Registry{
		tenants: make(map[string]*Tenant),
		dataDir: dataDir,
		kinds:   kinds,
		deps:    source.Deps{HTTPClient: &http.Client{Timeout: 30 * time.Second}, Metrics: m},
		metrics: m,
		logger:  slog.Default().With("component", "tenant-registry"),
	}
}

// OnPublish registers fn to run after every successful publish.
func (r *Registry) OnPublish(fn PublishHook) {
	r.hookMu.Lock()
	r.onPublish = append(r.onPublish, fn)
	r.hookMu.Unlock()
}

// OnDeregister registers fn to run after a tenant is removed from the
// registry and before its files are deleted.
func (r *Registry) OnDeregister(fn DeregisterHook) {
	r.hookMu.Lock()
	r.onDeregister = append(r.onDeregister, fn)
	r.hookMu.Unlock()
}

// Register adds a tenant and restores its persisted snapshot, if any. A
// snapshot that fails verification is discarded and the tenant starts empty.
func (r *Registry) Register(ctx context.Context, cfg config.TenantConfig) (*Tenant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: tenant %q: %w", apperrors.ErrInvalidInput, cfg.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[cfg.Name]; ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrTenantExists, cfg.Name)
	}

	dir := filepath.Join(r.dataDir, cfg.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating tenant directory: %w", err)
	}
	deps := r.deps
	deps.WorkDir = dir
	fetcher, err := r.kinds.New(cfg.Name, cfg.Source, deps)
	if err != nil {
		return nil, err
	}

	t := &Tenant{cfg: cfg, dir: dir, fetcher: fetcher}
	snap, err := segment.Load(t.snapshotPath(), cfg.Name)
	switch {
	case err == nil:
		if !snap.CreatedAt.IsZero() {
			t.lastSyncedAt.Store(snap.CreatedAt.UnixNano())
		}
	case errors.Is(err, os.ErrNotExist):
		snap = index.Empty(cfg.Name)
	default:
		r.logger.Error("discarding unreadable snapshot", "tenant", cfg.Name, "error", err)
		snap = index.Empty(cfg.Name)
	}
	t.snapshot.Store(snap)
	r.tenants[cfg.Name] = t
	r.observe(cfg.Name, snap)

	r.logger.InfoContext(ctx, "tenant registered",
		"tenant", cfg.Name, "source", cfg.Source.Type, "generation", snap.Generation, "documents", snap.DocCount())
	return t, nil
}

// Deregister removes the tenant, runs deregister hooks (which cancel its sync
// jobs) and deletes its persisted state. In-flight searches keep the snapshot
// they already hold.
func (r *Registry) Deregister(ctx context.Context, tenantID string) error {
	r.mu.Lock()
	t, ok := r.tenants[tenantID]
	if ok {
		delete(r.tenants, tenantID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrTenantNotFound, tenantID)
	}

	r.hookMu.RLock()
	hooks := append([]DeregisterHook(nil), r.onDeregister...)
	r.hookMu.RUnlock()
	for _, h := range hooks {
		h(ctx, tenantID)
	}

	t.publishMu.Lock()
	t.removed = true
	err := os.RemoveAll(t.dir)
	t.publishMu.Unlock()
	if err != nil {
		return fmt.Errorf("removing tenant state: %w", err)
	}
	if r.metrics != nil {
		r.metrics.SnapshotGeneration.DeleteLabelValues(tenantID)
		r.metrics.SnapshotDocuments.DeleteLabelValues(tenantID)
	}
	r.logger.InfoContext(ctx, "tenant deregistered", "tenant", tenantID)
	return nil
}

func (r *Registry) Get(tenantID string) (*Tenant, error) {
	r.mu.RLock()
	t, ok := r.tenants[tenantID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrTenantNotFound, tenantID)
	}
	return t, nil
}

// GetSnapshot returns the tenant's current snapshot.
func (r *Registry) GetSnapshot(tenantID string) (*index.Snapshot, error) {
	t, err := r.Get(tenantID)
	if err != nil {
		return nil, err
	}
	return t.Snapshot(), nil
}

// List returns tenant ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Publish persists snap and makes it the tenant's current snapshot. A
// snapshot whose generation is not newer than the current one is rejected.
func (r *Registry) Publish(ctx context.Context, tenantID string, snap *index.Snapshot) error {
	t, err := r.Get(tenantID)
	if err != nil {
		return err
	}
	if snap.TenantID != tenantID {
		return fmt.Errorf("%w: snapshot belongs to %q, not %q", apperrors.ErrInternal, snap.TenantID, tenantID)
	}

	t.publishMu.Lock()
	if t.removed {
		t.publishMu.Unlock()
		return fmt.Errorf("%w: %s", apperrors.ErrTenantNotFound, tenantID)
	}
	cur := t.snapshot.Load()
	if snap.Generation <= cur.Generation {
		t.publishMu.Unlock()
		return fmt.Errorf("%w: stale snapshot generation %d, current is %d", apperrors.ErrIndexBuild, snap.Generation, cur.Generation)
	}
	if err := segment.Write(t.snapshotPath(), snap); err != nil {
		t.publishMu.Unlock()
		return fmt.Errorf("%w: persisting snapshot: %w", apperrors.ErrIndexBuild, err)
	}
	t.snapshot.Store(snap)
	t.lastSyncedAt.Store(time.Now().UnixNano())
	t.publishMu.Unlock()

	r.observe(tenantID, snap)
	r.logger.InfoContext(ctx, "snapshot published",
		"tenant", tenantID, "generation", snap.Generation, "documents", snap.DocCount(), "terms", snap.TermCount())

	r.hookMu.RLock()
	hooks := append([]PublishHook(nil), r.onPublish...)
	r.hookMu.RUnlock()
	for _, h := range hooks {
		h(ctx, tenantID, snap)
	}
	return nil
}

// MarkSynced records a sync that found nothing to change.
func (r *Registry) MarkSynced(tenantID string) error {
	t, err := r.Get(tenantID)
	if err != nil {
		return err
	}
	t.lastSyncedAt.Store(time.Now().UnixNano())
	return nil
}

func (r *Registry) Describe(tenantID string) (Description, error) {
	t, err := r.Get(tenantID)
	if err != nil {
		return Description{}, err
	}
	snap := t.Snapshot()
	d := Description{
		TenantID:      tenantID,
		SourceType:    t.cfg.Source.Type,
		DocumentCount: snap.DocCount(),
		AvgDocLength:  snap.AvgDocLength(),
		TermCount:     snap.TermCount(),
		Generation:    snap.Generation,
	}
	if ts := t.LastSyncedAt(); !ts.IsZero() {
		d.LastSyncedAt = &ts
	}
	return d, nil
}

func (r *Registry) observe(tenantID string, snap *index.Snapshot) {
	if r.metrics == nil {
		return
	}
	r.metrics.SnapshotGeneration.WithLabelValues(tenantID).Set(float64(snap.Generation))
	r.metrics.SnapshotDocuments.WithLabelValues(tenantID).Set(float64(snap.DocCount()))
}
