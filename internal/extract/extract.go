// Package extract turns fetched bytes into the plain text and title that get
// indexed. Extractors are looked up by content type.
package extract

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
)

const (
	TypePlain    = "text/plain"
	TypeMarkdown = "text/markdown"
	TypeHTML     = "text/html"
)

// ContentTypeForPath guesses a content type from a file extension.
func ContentTypeForPath(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".md", ".markdown", ".mdx":
		return TypeMarkdown
	case ".html", ".htm", ".xhtml":
		return TypeHTML
	default:
		return TypePlain
	}
}

// Extracted is the indexable form of one unit.
type Extracted struct {
	Title string
	Text  string
}

type Extractor interface {
	Extract(uri string, body []byte) (Extracted, error)
}

// Registry dispatches on content type. Unknown text/* types fall back to the
// plain extractor; anything else is rejected.
type Registry struct {
	byType map[string]Extractor
}

func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Extractor)}
	r.Register(TypePlain, Plain{})
	r.Register(TypeMarkdown, NewMarkdown())
	r.Register("text/x-markdown", NewMarkdown())
	r.Register(TypeHTML, HTML{})
	r.Register("application/xhtml+xml", HTML{})
	return r
}

func (r *Registry) Register(contentType string, e Extractor) {
	r.byType[contentType] = e
}

// Extract returns ErrExtraction for binary or non-UTF-8 input, unsupported
// types and extractor failures.
func (r *Registry) Extract(contentType, uri string, body []byte) (Extracted, error) {
	if !utf8.Valid(body) {
		return Extracted{}, fmt.Errorf("%w: %s is not valid UTF-8", apperrors.ErrExtraction, uri)
	}
	if bytes.IndexByte(body, 0) >= 0 {
		return Extracted{}, fmt.Errorf("%w: %s contains binary data", apperrors.ErrExtraction, uri)
	}
	e, ok := r.byType[contentType]
	if !ok {
		if !strings.HasPrefix(contentType, "text/") {
			return Extracted{}, fmt.Errorf("%w: unsupported content type %q for %s", apperrors.ErrExtraction, contentType, uri)
		}
		e = r.byType[TypePlain]
	}
	out, err := e.Extract(uri, body)
	if err != nil {
		return Extracted{}, apperrors.Classify(err, apperrors.ErrExtraction)
	}
	if out.Title == "" {
		out.Title = titleFromURI(uri)
	}
	return out, nil
}

// Plain uses the first non-blank line as the title.
type Plain struct{}

func (Plain) Extract(_ string, body []byte) (Extracted, error) {
	text := string(body)
	var title string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			title = line
			break
		}
	}
	if len(title) > 200 {
		title = ""
	}
	return Extracted{Title: title, Text: text}, nil
}

func titleFromURI(uri string) string {
	uri = strings.TrimRight(uri, "/")
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	base := path.Base(uri)
	if base == "." || base == "/" {
		return uri
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
