// Package index builds the per-tenant inverted index and exposes it as an
// immutable Snapshot. A Snapshot's postings, document-frequency table, document
// count and average length all derive from the same document store revision.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/pankaj28843/docs-mcp-server/internal/docstore"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
)

// checkEvery is how many documents Build indexes between cancellation checks.
const checkEvery = 64

// Builder accumulates postings for one build. It is not safe for concurrent
// use; Build owns one per call.
type Builder struct {
	tenantID string
	index    map[string]map[string]*Posting
	lengths  map[string]int
	total    int64
}

func NewBuilder(tenantID string) *Builder {
	return &Builder{
		tenantID: tenantID,
		index:    make(map[string]map[string]*Posting),
		lengths:  make(map[string]int),
	}
}

// AddDocument indexes terms for docID. Adding the same docID twice is an
// index build error.
func (b *Builder) AddDocument(docID string, terms []string) error {
	if _, seen := b.lengths[docID]; seen {
		return fmt.Errorf("%w: document %s added twice", apperrors.ErrIndexBuild, docID)
	}
	termData := make(map[string]*Posting)
	for pos, term := range terms {
		p, exists := termData[term]
		if !exists {
			p = &Posting{
				DocID:     docID,
				Positions: make([]int, 0, 4),
			}
			termData[term] = p
		}
		p.Frequency++
		p.Positions = append(p.Positions, pos)
	}
	for term, posting := range termData {
		if _, exists := b.index[term]; !exists {
			b.index[term] = make(map[string]*Posting)
		}
		b.index[term][docID] = posting
	}
	b.lengths[docID] = len(terms)
	b.total += int64(len(terms))
	return nil
}

// Entries returns every term with its postings sorted by document id, in
// term order.
func (b *Builder) Entries() []TermEntry {
	entries := make([]TermEntry, 0, len(b.index))
	for term, docs := range b.index {
		postings := make(PostingList, 0, len(docs))
		for _, posting := range docs {
			postings = append(postings, *posting)
		}
		sort.Slice(postings, func(i, j int) bool {
			return postings[i].DocID < postings[j].DocID
		})
		entries = append(entries, TermEntry{Term: term, Postings: postings})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	return entries
}

// Build rebuilds the whole index from store. It observes ctx every few
// documents so a cancelled sync stops promptly.
func Build(ctx context.Context, store *docstore.Store, generation uint64) (*Snapshot, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil document store", apperrors.ErrIndexBuild)
	}
	start := time.Now()
	b := NewBuilder(store.TenantID())
	for i, d := range store.All() {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, apperrors.Classify(err, apperrors.ErrIndexBuild)
			}
		}
		terms := d.Tokens()
		if len(terms) != d.Length {
			return nil, fmt.Errorf("%w: document %s has %d terms but length %d",
				apperrors.ErrIndexBuild, d.ID, len(terms), d.Length)
		}
		if err := b.AddDocument(d.ID, terms); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Classify(err, apperrors.ErrIndexBuild)
	}
	snap := newSnapshot(store.TenantID(), generation, time.Now().UTC(), b.Entries(), store)
	slog.Default().With("component", "index-builder").Debug("index built",
		"tenant", store.TenantID(),
		"generation", generation,
		"docs", snap.DocCount(),
		"terms", len(snap.postings),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return snap, nil
}
