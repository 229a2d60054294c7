package index

import (
	"fmt"
	"sort"
	"time"

	"github.com/pankaj28843/docs-mcp-server/internal/docstore"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
)

// Snapshot is an immutable view of a tenant's index. Readers may share a
// Snapshot across goroutines without locking.
type Snapshot struct {
	Generation uint64
	TenantID   string
	CreatedAt  time.Time

	postings map[string]PostingList
	docs     *docstore.Store
	n        int
	avgdl    float64
}

func newSnapshot(tenantID string, generation uint64, createdAt time.Time, entries []TermEntry, docs *docstore.Store) *Snapshot {
	s := &Snapshot{
		Generation: generation,
		TenantID:   tenantID,
		CreatedAt:  createdAt,
		postings:   make(map[string]PostingList, len(entries)),
		docs:       docs,
		n:          docs.Len(),
	}
	for _, e := range entries {
		s.postings[e.Term] = e.Postings
	}
	if s.n > 0 {
		var total int
		for _, d := range docs.All() {
			total += d.Length
		}
		s.avgdl = float64(total) / float64(s.n)
	}
	return s
}

// Empty is the snapshot of a tenant that has never synced.
func Empty(tenantID string) *Snapshot {
	docs, _ := docstore.NewStore(tenantID, nil)
	return newSnapshot(tenantID, 0, time.Time{}, nil, docs)
}

// Restore reassembles a persisted snapshot and checks that its postings only
// reference documents it contains and are sorted.
func Restore(tenantID string, generation uint64, createdAt time.Time, entries []TermEntry, docs []*docstore.Document) (*Snapshot, error) {
	store, err := docstore.NewStore(tenantID, docs)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		for i, p := range e.Postings {
			if _, ok := store.Get(p.DocID); !ok {
				return nil, fmt.Errorf("%w: term %q references unknown document %s", apperrors.ErrIndexBuild, e.Term, p.DocID)
			}
			if i > 0 && e.Postings[i-1].DocID >= p.DocID {
				return nil, fmt.Errorf("%w: postings for %q are not sorted", apperrors.ErrIndexBuild, e.Term)
			}
		}
	}
	return newSnapshot(tenantID, generation, createdAt, entries, store), nil
}

// Postings returns the posting list for an already-normalised term.
func (s *Snapshot) Postings(term string) PostingList {
	return s.postings[term]
}

// DocFreq is the number of documents containing term.
func (s *Snapshot) DocFreq(term string) int {
	return len(s.postings[term])
}

func (s *Snapshot) DocCount() int { return s.n }

func (s *Snapshot) AvgDocLength() float64 { return s.avgdl }

func (s *Snapshot) TermCount() int { return len(s.postings) }

// DocLength returns the term count of docID, or 0 if unknown.
func (s *Snapshot) DocLength(docID string) int {
	d, ok := s.docs.Get(docID)
	if !ok {
		return 0
	}
	return d.Length
}

func (s *Snapshot) Document(docID string) (*docstore.Document, bool) {
	return s.docs.Get(docID)
}

// Docs returns the document store the snapshot was built from.
func (s *Snapshot) Docs() *docstore.Store { return s.docs }

// Entries lists the postings in term order, for persistence.
func (s *Snapshot) Entries() []TermEntry {
	terms := make([]string, 0, len(s.postings))
	for t := range s.postings {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	entries := make([]TermEntry, len(terms))
	for i, t := range terms {
		entries[i] = TermEntry{Term: t, Postings: s.postings[t]}
	}
	return entries
}
