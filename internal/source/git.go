package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pankaj28843/docs-mcp-server/pkg/config"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
)

// Git keeps a shallow checkout of a repository up to date with the git CLI
// and walks it like a Filesystem source. Root, when set, is a subdirectory of
// the checkout.
type Git struct {
	repository string
	branch     string
	checkout   string
	walker     *Filesystem
	mu         sync.Mutex
	logger     *slog.Logger
}

func NewGit(tenantID string, cfg config.SourceConfig, deps Deps) (Fetcher, error) {
	if cfg.Repository == "" {
		return nil, errors.New("repository is required")
	}
	checkout := cfg.CheckoutDir
	if checkout == "" {
		if deps.WorkDir == "" {
			return nil, errors.New("checkoutDir is required")
		}
		checkout = filepath.Join(deps.WorkDir, "checkout")
	}
	walkCfg := cfg
	walkCfg.Root = filepath.Join(checkout, filepath.FromSlash(cfg.Root))
	walker, err := NewFilesystem(walkCfg)
	if err != nil {
		return nil, err
	}
	return &Git{
		repository: cfg.Repository,
		branch:     cfg.Branch,
		checkout:   checkout,
		walker:     walker,
		logger:     slog.Default().With("component", "source-git", "tenant", tenantID, "repository", cfg.Repository),
	}, nil
}

func (g *Git) Fetch(ctx context.Context) (*Result, error) {
	g.mu.Lock()
	err := g.update(ctx)
	g.mu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrFetch, err)
	}
	return g.walker.Fetch(ctx)
}

func (g *Git) update(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(g.checkout, ".git")); err == nil {
		ref := g.branch
		if ref == "" {
			ref = "HEAD"
		}
		if err := runGit(ctx, g.checkout, "fetch", "--depth", "1", "origin", ref); err != nil {
			return err
		}
		g.logger.Debug("fetched", "ref", ref)
		return runGit(ctx, g.checkout, "reset", "--hard", "FETCH_HEAD")
	}
	if err := os.MkdirAll(filepath.Dir(g.checkout), 0o755); err != nil {
		return fmt.Errorf("creating checkout parent: %w", err)
	}
	args := []string{"clone", "--depth", "1"}
	if g.branch != "" {
		args = append(args, "--branch", g.branch)
	}
	args = append(args, g.repository, g.checkout)
	g.logger.Info("cloning", "checkout", g.checkout)
	return runGit(ctx, "", args...)
}

func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
