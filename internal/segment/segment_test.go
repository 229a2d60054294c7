package segment

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pankaj28843/docs-mcp-server/internal/docstore"
	"github.com/pankaj28843/docs-mcp-server/internal/index"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
)

func buildSnapshot(t *testing.T, gen uint64, texts map[string]string) *index.Snapshot {
	t.Helper()
	var docs []*docstore.Document
	for uri, text := range texts {
		docs = append(docs, docstore.NewDocument("go", uri, "Title "+uri, text, []byte(text), time.Unix(1700000000, 0)))
	}
	store, err := docstore.NewStore("go", docs)
	require.NoError(t, err)
	snap, err := index.Build(context.Background(), store, gen)
	require.NoError(t, err)
	return snap
}

func TestWriteLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := Path(t.TempDir(), "go")
	snap := buildSnapshot(t, 7, map[string]string{
		"a.md": "goroutines and channels",
		"b.md": "channels carry values between goroutines",
	})
	require.NoError(t, Write(path, snap))

	h, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), h.Generation)
	assert.Equal(t, uint32(2), h.DocCount)

	loaded, err := Load(path, "go")
	require.NoError(t, err)
	assert.Equal(t, snap.Generation, loaded.Generation)
	assert.True(t, snap.CreatedAt.Equal(loaded.CreatedAt))
	assert.Equal(t, snap.Entries(), loaded.Entries())
	assert.Equal(t, snap.DocCount(), loaded.DocCount())
	assert.InDelta(t, snap.AvgDocLength(), loaded.AvgDocLength(), 1e-12)

	d, ok := loaded.Document(docstore.DocumentID("go", "b.md"))
	require.True(t, ok)
	assert.Equal(t, "channels carry values between goroutines", d.RawText)
	assert.Equal(t, "Title b.md", d.Title)
}

func TestWriteReplacesAtomically(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := Path(dir, "go")
	require.NoError(t, Write(path, buildSnapshot(t, 1, map[string]string{"a": "first"})))
	require.NoError(t, Write(path, buildSnapshot(t, 2, map[string]string{"a": "second", "b": "third"})))

	loaded, err := Load(path, "go")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), loaded.Generation)

	leftovers, err := filepath.Glob(filepath.Join(dir, "go", "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestLoadDetectsCorruption(t *testing.T) {
	t.Parallel()

	path := Path(t.TempDir(), "go")
	require.NoError(t, Write(path, buildSnapshot(t, 1, map[string]string{"a": "some content here"})))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[HeaderSize+2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Load(path, "go")
	assert.ErrorIs(t, err, apperrors.ErrIndexBuild)
}

func TestLoadRejectsCorruptHeaderBounds(t *testing.T) {
	t.Parallel()

	path := Path(t.TempDir(), "go")
	require.NoError(t, Write(path, buildSnapshot(t, 1, map[string]string{"a": "some content here"})))
	orig, err := os.ReadFile(path)
	require.NoError(t, err)

	cases := map[string]int{
		"negative dict size":   47,
		"negative docs offset": 55,
		"negative docs size":   63,
		"negative dict offset": 39,
	}
	for name, signByte := range cases {
		t.Run(name, func(t *testing.T) {
			data := append([]byte(nil), orig...)
			data[signByte] |= 0x80
			corrupt := filepath.Join(t.TempDir(), FileName)
			require.NoError(t, os.WriteFile(corrupt, data, 0o644))

			var loadErr error
			assert.NotPanics(t, func() { _, loadErr = Load(corrupt, "go") })
			assert.ErrorIs(t, loadErr, apperrors.ErrIndexBuild)
		})
	}
}

func TestEmptySnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	path := Path(t.TempDir(), "empty")
	require.NoError(t, Write(path, index.Empty("empty")))
	loaded, err := Load(path, "empty")
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.DocCount())
}
