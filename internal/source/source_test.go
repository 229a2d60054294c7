package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pankaj28843/docs-mcp-server/pkg/config"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func uris(res *Result) []string {
	out := make([]string, 0, len(res.Units))
	for _, u := range res.Units {
		out = append(out, u.URI)
	}
	return out
}

func TestFilesystemIncludeExclude(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "README.md", "# readme")
	writeFile(t, root, "guide/intro.md", "intro")
	writeFile(t, root, "guide/page.html", "<p>x</p>")
	writeFile(t, root, "drafts/wip.md", "wip")
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, ".git/config", "x")

	fs, err := NewFilesystem(config.SourceConfig{Root: root, Exclude: []string{"drafts/**"}})
	require.NoError(t, err)
	res, err := fs.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"README.md", "guide/intro.md", "guide/page.html"}, uris(res))
	assert.Equal(t, "text/markdown", res.Units[0].ContentType)
	assert.Equal(t, "text/html", res.Units[2].ContentType)
	assert.Empty(t, res.Failed)
}

func TestFilesystemSizeCapIsUnitFailure(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "small.md", "ok")
	writeFile(t, root, "big.md", "0123456789abcdef")

	fs, err := NewFilesystem(config.SourceConfig{Root: root, MaxFileSize: 8})
	require.NoError(t, err)
	res, err := fs.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"small.md"}, uris(res))
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "big.md", res.Failed[0].URI)
	assert.True(t, res.FailedURIs()["big.md"])
}

func TestFilesystemMissingRoot(t *testing.T) {
	t.Parallel()

	fs, err := NewFilesystem(config.SourceConfig{Root: filepath.Join(t.TempDir(), "nope")})
	require.NoError(t, err)
	_, err = fs.Fetch(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrFetch)
	assert.True(t, apperrors.Retryable(err))
}

func TestKindsNew(t *testing.T) {
	t.Parallel()

	kinds := DefaultKinds()
	_, err := kinds.New("t", config.SourceConfig{Type: "ftp"}, Deps{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = kinds.New("t", config.SourceConfig{Type: KindFilesystem}, Deps{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput, "missing root")

	f, err := kinds.New("t", config.SourceConfig{Type: KindFilesystem, Root: t.TempDir()}, Deps{})
	require.NoError(t, err)
	assert.IsType(t, &Filesystem{}, f)

	_, err = kinds.New("t", config.SourceConfig{Type: KindHTTP, URLs: []string{"ftp://x"}}, Deps{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestHTTPSitemapAndFailures(t *testing.T) {
	t.Parallel()

	var flaky atomic.Int32
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<url><loc>%[1]s/a.html</loc></url><url><loc>%[1]s/b.md</loc></url><url><loc>%[1]s/missing</loc></url><url><loc>%[1]s/flaky</loc></url>
</urlset>`, srv.URL)
	})
	mux.HandleFunc("/a.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body><p>alpha</p></body></html>")
	})
	mux.HandleFunc("/b.md", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "# beta")
	})
	mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		if flaky.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "gamma")
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	f, err := NewHTTP("docs", config.SourceConfig{SitemapURL: srv.URL + "/sitemap.xml", Concurrency: 2}, Deps{HTTPClient: srv.Client()})
	require.NoError(t, err)
	res, err := f.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{srv.URL + "/a.html", srv.URL + "/b.md", srv.URL + "/flaky"}, uris(res))
	assert.Equal(t, "text/html", res.Units[0].ContentType)
	assert.Equal(t, "text/plain", res.Units[2].ContentType)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, srv.URL+"/missing", res.Failed[0].URI)
	assert.ErrorIs(t, res.Failed[0].Err, apperrors.ErrFetch)
	assert.EqualValues(t, 2, flaky.Load())
}

func TestHTTPAllFailedIsFetchError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f, err := NewHTTP("docs", config.SourceConfig{URLs: []string{srv.URL + "/x", srv.URL + "/y"}, MaxPages: 1}, Deps{HTTPClient: srv.Client()})
	require.NoError(t, err)
	_, err = f.Fetch(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrFetch)
}

func TestGitCloneAndPull(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	repo := t.TempDir()
	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-c", "user.email=t@example.com", "-c", "user.name=t", "-c", "commit.gpgsign=false"}, args...)...)
		cmd.Dir = repo
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	git("init", "-q", "-b", "main")
	writeFile(t, repo, "docs/one.md", "one")
	git("add", ".")
	git("commit", "-q", "-m", "first")

	f, err := NewGit("repo", config.SourceConfig{Repository: "file://" + repo, Branch: "main", Root: "docs"}, Deps{WorkDir: t.TempDir()})
	require.NoError(t, err)
	res, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"one.md"}, uris(res))

	writeFile(t, repo, "docs/two.md", "two")
	git("add", ".")
	git("commit", "-q", "-m", "second")
	res, err = f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"one.md", "two.md"}, uris(res))
}
