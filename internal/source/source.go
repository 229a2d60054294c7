// Package source fetches the raw units of a tenant's documentation. A Fetcher
// variant is chosen per tenant from Kinds by the configured source type.
package source

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/pankaj28843/docs-mcp-server/pkg/config"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
	"github.com/pankaj28843/docs-mcp-server/pkg/metrics"
)

const (
	KindFilesystem = "filesystem"
	KindHTTP       = "http"
	KindGit        = "git"

	defaultMaxFileSize = 4 << 20
)

// Unit is one fetched item before extraction. URI is stable across syncs and
// identifies the document.
type Unit struct {
	URI         string
	ContentType string
	Body        []byte
}

// UnitError records a unit that could not be fetched. The sync keeps the
// previous revision of such a document.
type UnitError struct {
	URI string
	Err error
}

func (e UnitError) Error() string { return fmt.Sprintf("%s: %v", e.URI, e.Err) }

// Result is the outcome of a full fetch. Failed lists units that errored
// individually while the fetch as a whole succeeded.
type Result struct {
	Units  []Unit
	Failed []UnitError
}

// FailedURIs returns the set of URIs that failed individually.
func (r *Result) FailedURIs() map[string]bool {
	out := make(map[string]bool, len(r.Failed))
	for _, f := range r.Failed {
		out[f.URI] = true
	}
	return out
}

func (r *Result) sort() {
	sort.Slice(r.Units, func(i, j int) bool { return r.Units[i].URI < r.Units[j].URI })
	sort.Slice(r.Failed, func(i, j int) bool { return r.Failed[i].URI < r.Failed[j].URI })
}

// Fetcher retrieves the current set of units for one tenant. An error means
// nothing usable was fetched and is classified as ErrFetch.
type Fetcher interface {
	Fetch(ctx context.Context) (*Result, error)
}

// Deps carries shared collaborators handed to every factory.
type Deps struct {
	// WorkDir is a tenant-private directory for fetchers that keep local state.
	WorkDir    string
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

type Factory func(tenantID string, cfg config.SourceConfig, deps Deps) (Fetcher, error)

// Kinds maps a source type tag to its factory.
type Kinds map[string]Factory

func DefaultKinds() Kinds {
	return Kinds{
		KindFilesystem: func(_ string, cfg config.SourceConfig, _ Deps) (Fetcher, error) {
			return NewFilesystem(cfg)
		},
		KindHTTP: NewHTTP,
		KindGit:  NewGit,
	}
}

// Register adds or replaces the factory for kind.
func (k Kinds) Register(kind string, f Factory) {
	k[kind] = f
}

func (k Kinds) New(tenantID string, cfg config.SourceConfig, deps Deps) (Fetcher, error) {
	f, ok := k[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown source type %q", apperrors.ErrInvalidInput, cfg.Type)
	}
	fetcher, err := f(tenantID, cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("%w: %s source: %w", apperrors.ErrInvalidInput, cfg.Type, err)
	}
	return fetcher, nil
}
