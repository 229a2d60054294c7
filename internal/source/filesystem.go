package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/pankaj28843/docs-mcp-server/internal/extract"
	"github.com/pankaj28843/docs-mcp-server/pkg/config"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
)

var defaultInclude = []string{"**/*.md", "**/*.markdown", "**/*.txt", "**/*.rst", "**/*.html", "**/*.htm"}

var errTooLarge = errors.New("file exceeds size limit")

type pattern struct {
	text string
	g    glob.Glob
}

type patternSet []pattern

func compilePatterns(texts []string) (patternSet, error) {
	var out patternSet
	for _, t := range texts {
		g, err := glob.Compile(t, '/')
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %q: %w", t, err)
		}
		out = append(out, pattern{text: t, g: g})
		// "**/x" should also match x at the root.
		if rest, ok := strings.CutPrefix(t, "**/"); ok {
			g, err := glob.Compile(rest, '/')
			if err != nil {
				return nil, fmt.Errorf("compiling pattern %q: %w", rest, err)
			}
			out = append(out, pattern{text: rest, g: g})
		}
	}
	return out, nil
}

func (ps patternSet) match(rel string) bool {
	for _, p := range ps {
		if p.g.Match(rel) {
			return true
		}
	}
	return false
}

// Filesystem walks a directory tree and returns every file matching the
// include patterns and none of the exclude patterns. URIs are slash-separated
// paths relative to the root.
type Filesystem struct {
	root        string
	include     patternSet
	exclude     patternSet
	maxFileSize int64
	logger      *slog.Logger
}

func NewFilesystem(cfg config.SourceConfig) (*Filesystem, error) {
	if cfg.Root == "" {
		return nil, errors.New("root is required")
	}
	includes := cfg.Include
	if len(includes) == 0 {
		includes = defaultInclude
	}
	include, err := compilePatterns(includes)
	if err != nil {
		return nil, err
	}
	exclude, err := compilePatterns(cfg.Exclude)
	if err != nil {
		return nil, err
	}
	maxSize := cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = defaultMaxFileSize
	}
	return &Filesystem{
		root:        cfg.Root,
		include:     include,
		exclude:     exclude,
		maxFileSize: maxSize,
		logger:      slog.Default().With("component", "source-filesystem", "root", cfg.Root),
	}, nil
}

// Root returns the directory being walked.
func (f *Filesystem) Root() string { return f.root }

func (f *Filesystem) Fetch(ctx context.Context) (*Result, error) {
	info, err := os.Stat(f.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrFetch, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", apperrors.ErrFetch, f.root)
	}

	res := &Result{}
	walkErr := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, relErr := filepath.Rel(f.root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if err != nil {
			if rel == "." {
				return err
			}
			res.Failed = append(res.Failed, UnitError{URI: rel, Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") || f.exclude.match(rel) || f.exclude.match(rel+"/**") {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !f.include.match(rel) || f.exclude.match(rel) {
			return nil
		}
		body, err := f.readFile(path)
		if err != nil {
			res.Failed = append(res.Failed, UnitError{URI: rel, Err: err})
			return nil
		}
		res.Units = append(res.Units, Unit{URI: rel, ContentType: extract.ContentTypeForPath(rel), Body: body})
		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: walking %s: %w", apperrors.ErrFetch, f.root, walkErr)
	}
	res.sort()
	f.logger.Debug("walk complete", "units", len(res.Units), "failed", len(res.Failed))
	return res, nil
}

func (f *Filesystem) readFile(path string) ([]byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	body, err := io.ReadAll(io.LimitReader(fh, f.maxFileSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.maxFileSize {
		return nil, fmt.Errorf("%w (%d bytes)", errTooLarge, f.maxFileSize)
	}
	return body, nil
}
