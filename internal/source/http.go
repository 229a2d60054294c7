package source

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pankaj28843/docs-mcp-server/internal/extract"
	"github.com/pankaj28843/docs-mcp-server/pkg/config"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
	"github.com/pankaj28843/docs-mcp-server/pkg/resilience"
)

const (
	defaultHTTPConcurrency = 4
	defaultHTTPTimeout     = 30 * time.Second
	userAgent              = "docsearch-fetcher/1.0"
)

// httpStatusError is returned for non-2xx responses. 4xx responses are not
// retried.
type httpStatusError struct {
	url    string
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.url, e.status)
}

type sitemapURLSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

type sitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// HTTP fetches a fixed URL list plus every page named by a sitemap. Pages are
// fetched concurrently with per-page retry behind one circuit breaker.
type HTTP struct {
	tenantID    string
	urls        []string
	sitemapURL  string
	maxPages    int
	concurrency int
	maxBody     int64
	client      *http.Client
	breaker     *resilience.CircuitBreaker
	retry       resilience.RetryConfig
	logger      *slog.Logger
}

func NewHTTP(tenantID string, cfg config.SourceConfig, deps Deps) (Fetcher, error) {
	if len(cfg.URLs) == 0 && cfg.SitemapURL == "" {
		return nil, errors.New("urls or sitemapUrl is required")
	}
	for _, u := range append(append([]string{}, cfg.URLs...), cfg.SitemapURL) {
		if u == "" {
			continue
		}
		if _, err := parseHTTPURL(u); err != nil {
			return nil, err
		}
	}
	client := deps.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultHTTPConcurrency
	}
	maxBody := cfg.MaxFileSize
	if maxBody <= 0 {
		maxBody = defaultMaxFileSize
	}
	cbCfg := resilience.CircuitBreakerConfig{FailureThreshold: 10, ResetTimeout: 30 * time.Second}
	if m := deps.Metrics; m != nil {
		cbCfg.OnStateChange = func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return &HTTP{
		tenantID:    tenantID,
		urls:        cfg.URLs,
		sitemapURL:  cfg.SitemapURL,
		maxPages:    cfg.MaxPages,
		concurrency: concurrency,
		maxBody:     maxBody,
		client:      client,
		breaker:     resilience.NewCircuitBreaker("source-http-"+tenantID, cbCfg),
		retry:       resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
		logger:      slog.Default().With("component", "source-http", "tenant", tenantID),
	}, nil
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url %q must be http or https", raw)
	}
	return u, nil
}

func (h *HTTP) Fetch(ctx context.Context) (*Result, error) {
	targets, err := h.targets(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for _, target := range targets {
		g.Go(func() error {
			unit, err := h.fetchPage(gctx, target)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				res.Failed = append(res.Failed, UnitError{URI: target, Err: err})
				return nil
			}
			res.Units = append(res.Units, unit)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(res.Units) == 0 && len(res.Failed) > 0 {
		return nil, fmt.Errorf("%w: all %d pages failed, first: %w", apperrors.ErrFetch, len(res.Failed), res.Failed[0].Err)
	}
	res.sort()
	h.logger.Info("crawl complete", "pages", len(res.Units), "failed", len(res.Failed))
	return res, nil
}

// targets merges the configured URLs with the sitemap entries, de-duplicated
// and capped at maxPages.
func (h *HTTP) targets(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(u string) {
		if u == "" || seen[u] {
			return
		}
		if h.maxPages > 0 && len(out) >= h.maxPages {
			return
		}
		seen[u] = true
		out = append(out, u)
	}
	for _, u := range h.urls {
		add(u)
	}
	if h.sitemapURL != "" {
		locs, err := h.readSitemap(ctx, h.sitemapURL, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: sitemap %s: %w", apperrors.ErrFetch, h.sitemapURL, err)
		}
		for _, u := range locs {
			if _, err := parseHTTPURL(u); err != nil {
				h.logger.Warn("skipping sitemap entry", "url", u, "error", err)
				continue
			}
			add(u)
		}
	}
	return out, nil
}

// readSitemap accepts a urlset or a sitemap index one level deep.
func (h *HTTP) readSitemap(ctx context.Context, sitemapURL string, depth int) ([]string, error) {
	body, _, err := h.get(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		if depth > 0 {
			return nil, errors.New("nested sitemap index")
		}
		var out []string
		for _, sm := range index.Sitemaps {
			locs, err := h.readSitemap(ctx, sm.Loc, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, locs...)
		}
		return out, nil
	}
	var set sitemapURLSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("decoding sitemap: %w", err)
	}
	out := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		out = append(out, u.Loc)
	}
	return out, nil
}

func (h *HTTP) fetchPage(ctx context.Context, target string) (Unit, error) {
	var unit Unit
	err := h.breaker.Execute(func() error {
		return resilience.Retry(ctx, "fetch "+target, h.retry, func() error {
			body, contentType, err := h.get(ctx, target)
			if err != nil {
				var statusErr *httpStatusError
				if errors.As(err, &statusErr) && statusErr.status < 500 && statusErr.status != http.StatusTooManyRequests {
					return resilience.Permanent(err)
				}
				return err
			}
			unit = Unit{URI: target, ContentType: contentType, Body: body}
			return nil
		})
	})
	if err != nil {
		return Unit{}, fmt.Errorf("%w: %w", apperrors.ErrFetch, err)
	}
	return unit, nil
}

func (h *HTTP) get(ctx context.Context, target string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, "", &httpStatusError{url: target, status: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBody+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(body)) > h.maxBody {
		return nil, "", resilience.Permanent(fmt.Errorf("%w (%d bytes)", errTooLarge, h.maxBody))
	}
	contentType := extract.ContentTypeForPath(req.URL.Path)
	// Servers commonly label markdown as text/plain; the extension is more specific.
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && mt != "application/octet-stream" {
		if !(mt == extract.TypePlain && contentType == extract.TypeMarkdown) {
			contentType = mt
		}
	}
	return body, contentType, nil
}
