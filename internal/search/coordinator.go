// Package search answers ranked queries against a tenant's currently
// published snapshot: parse, look up postings, combine candidates, score with
// BM25, keep the top k and attach snippets.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pankaj28843/docs-mcp-server/internal/index"
	"github.com/pankaj28843/docs-mcp-server/internal/parser"
	"github.com/pankaj28843/docs-mcp-server/internal/ranker"
	"github.com/pankaj28843/docs-mcp-server/internal/snippet"
	"github.com/pankaj28843/docs-mcp-server/pkg/config"
	"github.com/pankaj28843/docs-mcp-server/pkg/logger"
	"github.com/pankaj28843/docs-mcp-server/pkg/metrics"
)

// SnapshotSource yields the snapshot currently published for a tenant.
type SnapshotSource interface {
	GetSnapshot(tenantID string) (*index.Snapshot, error)
}

// Filters narrow the candidate set before scoring.
type Filters struct {
	URIPrefix string `json:"uri_prefix,omitempty"`
}

func (f Filters) allows(uri string) bool {
	return f.URIPrefix == "" || strings.HasPrefix(uri, f.URIPrefix)
}

type Result struct {
	DocumentID string          `json:"document_id"`
	Score      float64         `json:"score"`
	URI        string          `json:"uri"`
	Title      string          `json:"title,omitempty"`
	Snippet    snippet.Snippet `json:"snippet"`
}

type Response struct {
	TenantID   string   `json:"tenant_id"`
	Query      string   `json:"query"`
	Generation uint64   `json:"generation"`
	TotalHits  int      `json:"total_hits"`
	Results    []Result `json:"results"`
	Cached     bool     `json:"cached"`
}

type Coordinator struct {
	source  SnapshotSource
	cache   Cache
	cfg     config.SearchConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewCoordinator wires a coordinator. cache and m may be nil.
func NewCoordinator(source SnapshotSource, cfg config.SearchConfig, cache Cache, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		source:  source,
		cache:   cache,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "search-coordinator"),
	}
}

// Search runs query for tenantID and returns at most k results. The snapshot
// is read once, so a reindex publishing mid-call does not affect the result.
func (c *Coordinator) Search(ctx context.Context, tenantID, query string, k int, filters Filters) (*Response, error) {
	start := time.Now()
	snap, err := c.source.GetSnapshot(tenantID)
	if err != nil {
		return nil, err
	}
	plan, err := parser.Parse(query, c.cfg.MaxQueryLength)
	if err != nil {
		c.observe(tenantID, "error", "none", start, 0)
		return nil, err
	}
	k = c.clampK(k)

	if plan.Empty() {
		c.observe(tenantID, "zero_result", "none", start, 0)
		return &Response{TenantID: tenantID, Query: query, Generation: snap.Generation, Results: []Result{}}, nil
	}

	compute := func(ctx context.Context) (*Response, error) {
		return c.execute(ctx, snap, plan, k, filters)
	}
	var (
		resp   *Response
		cached bool
	)
	if c.cache != nil {
		key := fmt.Sprintf("%s|%d|%s|k=%d|prefix=%s", tenantID, snap.Generation, plan.Key(), k, filters.URIPrefix)
		resp, cached, err = c.cache.GetOrCompute(ctx, tenantID, key, compute)
	} else {
		resp, err = compute(ctx)
	}
	if err != nil {
		c.observe(tenantID, "error", "none", start, 0)
		return nil, err
	}
	resp.Query = query
	resp.Cached = cached

	resultType := "hit"
	if len(resp.Results) == 0 {
		resultType = "zero_result"
	}
	cacheStatus := "miss"
	if cached {
		cacheStatus = "hit"
	}
	c.observe(tenantID, resultType, cacheStatus, start, len(resp.Results))
	logger.FromContext(ctx).Debug("query executed",
		"component", "search-coordinator",
		"tenant", tenantID,
		"terms", plan.Terms,
		"generation", snap.Generation,
		"hits", resp.TotalHits,
		"results", len(resp.Results),
		"cached", cached,
	)
	return resp, nil
}

func (c *Coordinator) clampK(k int) int {
	if k <= 0 {
		k = c.cfg.DefaultLimit
	}
	if k <= 0 {
		k = 10
	}
	if c.cfg.MaxResults > 0 && k > c.cfg.MaxResults {
		k = c.cfg.MaxResults
	}
	return k
}

func (c *Coordinator) execute(ctx context.Context, snap *index.Snapshot, plan *parser.QueryPlan, k int, filters Filters) (*Response, error) {
	lists := make([][]string, 0, len(plan.Terms))
	for _, term := range ranker.Unique(plan.Terms) {
		lists = append(lists, snap.Postings(term).DocIDs())
	}
	var candidates []string
	if plan.Type == parser.QueryAND {
		candidates = intersectSorted(lists)
	} else {
		candidates = unionSorted(lists)
	}
	if len(plan.ExcludeTerms) > 0 {
		excluded := make([][]string, 0, len(plan.ExcludeTerms))
		for _, term := range plan.ExcludeTerms {
			excluded = append(excluded, snap.Postings(term).DocIDs())
		}
		candidates = subtractSorted(candidates, unionSorted(excluded))
	}
	if filters.URIPrefix != "" {
		kept := candidates[:0:0]
		for _, id := range candidates {
			if d, ok := snap.Document(id); ok && filters.allows(d.URI) {
				kept = append(kept, id)
			}
		}
		candidates = kept
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	allowed := make(map[string]struct{}, len(candidates))
	for _, id := range candidates {
		allowed[id] = struct{}{}
	}
	scored := ranker.ScoreAll(snap, plan.Terms, func(id string) bool {
		_, ok := allowed[id]
		return ok
	})
	top := TopK(scored, k)

	results := make([]Result, 0, len(top))
	for _, sd := range top {
		d, ok := snap.Document(sd.DocID)
		if !ok {
			continue
		}
		results = append(results, Result{
			DocumentID: sd.DocID,
			Score:      sd.Score,
			URI:        d.URI,
			Title:      d.Title,
			Snippet:    snippet.Extract(d.RawText, plan.Terms, c.cfg.SnippetLength),
		})
	}
	return &Response{
		TenantID:   snap.TenantID,
		Generation: snap.Generation,
		TotalHits:  len(candidates),
		Results:    results,
	}, nil
}

func (c *Coordinator) observe(tenantID, resultType, cacheStatus string, start time.Time, n int) {
	if c.metrics == nil {
		return
	}
	c.metrics.SearchQueriesTotal.WithLabelValues(tenantID, resultType).Inc()
	c.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	c.metrics.SearchResultsCount.Observe(float64(n))
	switch cacheStatus {
	case "hit":
		c.metrics.CacheHitsTotal.Inc()
	case "miss":
		if c.cache != nil {
			c.metrics.CacheMissesTotal.Inc()
		}
	}
}
