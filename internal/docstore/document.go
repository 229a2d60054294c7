// Package docstore holds a tenant's documents as an immutable, id-ordered
// collection and computes the change set between two revisions of it.
package docstore

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pankaj28843/docs-mcp-server/internal/tokenizer"
)

// Document is one extracted source unit. A Document is never mutated after
// construction; a changed source produces a new Document with the same ID and
// a different Revision.
type Document struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	URI       string    `json:"uri"`
	Title     string    `json:"title,omitempty"`
	RawText   string    `json:"raw_text"`
	Revision  string    `json:"revision"`
	Length    int       `json:"length"`
	FetchedAt time.Time `json:"fetched_at"`

	// Terms is the tokenized RawText. It is not persisted; Tokens recomputes
	// it for documents restored from disk.
	Terms []string `json:"-"`
}

// DocumentID derives the source-stable id of uri within tenantID.
func DocumentID(tenantID, uri string) string {
	h := sha256.New()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(uri))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Revision is the content address of the raw fetched bytes.
func Revision(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// NewDocument tokenizes text and returns the document for uri. raw is the
// fetched content the revision is computed from.
func NewDocument(tenantID, uri, title, text string, raw []byte, fetchedAt time.Time) *Document {
	terms := tokenizer.Terms(text)
	return &Document{
		ID:        DocumentID(tenantID, uri),
		TenantID:  tenantID,
		URI:       uri,
		Title:     title,
		RawText:   text,
		Revision:  Revision(raw),
		Length:    len(terms),
		FetchedAt: fetchedAt.UTC(),
		Terms:     terms,
	}
}

// Tokens returns the document's term sequence, tokenizing RawText when the
// document was restored without it.
func (d *Document) Tokens() []string {
	if d.Terms != nil || d.RawText == "" {
		return d.Terms
	}
	return tokenizer.Terms(d.RawText)
}
