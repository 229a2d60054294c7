package docstore

import (
	"fmt"
	"slices"
	"strings"

	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
)

// Store is an immutable, id-ordered set of documents for one tenant.
type Store struct {
	tenantID string
	docs     []*Document
	byID     map[string]*Document
}

// NewStore validates docs and returns them as a Store. Every document must
// belong to tenantID and ids must be unique.
func NewStore(tenantID string, docs []*Document) (*Store, error) {
	s := &Store{
		tenantID: tenantID,
		docs:     make([]*Document, 0, len(docs)),
		byID:     make(map[string]*Document, len(docs)),
	}
	for _, d := range docs {
		if d == nil {
			continue
		}
		if d.TenantID != tenantID {
			return nil, fmt.Errorf("%w: document %s belongs to tenant %q, not %q",
				apperrors.ErrIndexBuild, d.ID, d.TenantID, tenantID)
		}
		if _, dup := s.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate document id %s (%s)", apperrors.ErrIndexBuild, d.ID, d.URI)
		}
		s.byID[d.ID] = d
		s.docs = append(s.docs, d)
	}
	slices.SortFunc(s.docs, func(a, b *Document) int {
		return strings.Compare(a.ID, b.ID)
	})
	return s, nil
}

func (s *Store) TenantID() string { return s.tenantID }

func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.docs)
}

func (s *Store) Get(id string) (*Document, bool) {
	if s == nil {
		return nil, false
	}
	d, ok := s.byID[id]
	return d, ok
}

// All returns the documents ordered by id. The slice must not be modified.
func (s *Store) All() []*Document {
	if s == nil {
		return nil
	}
	return s.docs
}

// ByURI indexes the store by source URI.
func (s *Store) ByURI() map[string]*Document {
	out := make(map[string]*Document, s.Len())
	for _, d := range s.All() {
		out[d.URI] = d
	}
	return out
}

// ChangeSet lists document ids by how they differ between two stores.
type ChangeSet struct {
	Added     []string
	Modified  []string
	Deleted   []string
	Unchanged []string
}

func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// Diff compares two revisions of a tenant's documents. prev may be nil.
func Diff(prev, next *Store) ChangeSet {
	var cs ChangeSet
	for _, d := range next.All() {
		old, ok := prev.Get(d.ID)
		switch {
		case !ok:
			cs.Added = append(cs.Added, d.ID)
		case old.Revision != d.Revision:
			cs.Modified = append(cs.Modified, d.ID)
		default:
			cs.Unchanged = append(cs.Unchanged, d.ID)
		}
	}
	for _, d := range prev.All() {
		if _, ok := next.Get(d.ID); !ok {
			cs.Deleted = append(cs.Deleted, d.ID)
		}
	}
	return cs
}
