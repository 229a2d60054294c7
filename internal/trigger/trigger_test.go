package trigger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pankaj28843/docs-mcp-server/internal/job"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recorder) SubmitSync(_ context.Context, tenantID, trigger string) (job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, tenantID+"/"+trigger)
	if r.err != nil {
		return job.Job{}, r.err
	}
	return job.Job{ID: fmt.Sprintf("job-%d", len(r.calls)), TenantID: tenantID}, nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestIntervalsTickAndStop(t *testing.T) {
	rec := &recorder{}
	iv := NewIntervals(rec)
	iv.Add(context.Background(), "go", 5*time.Millisecond)
	iv.Add(context.Background(), "off", 0)

	require.Eventually(t, func() bool { return rec.count() >= 2 }, 2*time.Second, time.Millisecond)
	iv.Stop()
	n := rec.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, rec.count())
	for _, c := range rec.snapshot() {
		assert.Equal(t, "go/interval", c)
	}
}

func TestKafkaHandler(t *testing.T) {
	rec := &recorder{}
	h := KafkaHandler(rec)
	ctx := context.Background()

	require.NoError(t, h(ctx, nil, []byte(`{"tenant_id":"go","requested_by":"ci"}`)))
	require.NoError(t, h(ctx, []byte("rust"), []byte(`{}`)))
	assert.Equal(t, []string{"go/kafka", "rust/kafka"}, rec.snapshot())

	assert.ErrorIs(t, h(ctx, nil, []byte(`{}`)), apperrors.ErrInvalidInput)
	assert.ErrorIs(t, h(ctx, nil, []byte(`not json`)), apperrors.ErrInvalidInput)

	rec.err = apperrors.ErrBackpressureRejected
	assert.ErrorIs(t, h(ctx, nil, []byte(`{"tenant_id":"go"}`)), apperrors.ErrBackpressureRejected)
}

func TestWatcherDebouncesChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "guide"), 0o755))

	rec := &recorder{}
	w, err := NewWatcher(rec, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Add("go", root))
	w.Start(context.Background())
	defer w.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "guide", "a.md"), []byte(fmt.Sprint(i)), 0o644))
	}
	require.Eventually(t, func() bool { return rec.count() == 1 }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{"go/watch"}, rec.snapshot())

	w.Remove("go")
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.md"), []byte("x"), 0o644))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestWithin(t *testing.T) {
	assert.True(t, within("/a/b", "/a/b"))
	assert.True(t, within("/a/b", "/a/b/c.md"))
	assert.False(t, within("/a/b", "/a/bc"))
}
