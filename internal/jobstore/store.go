// Package jobstore keeps the sync job history so the last state of every job
// survives a restart. File is a JSON-lines append log; Postgres stores one row
// per job.
package jobstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pankaj28843/docs-mcp-server/internal/job"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
)

// Store persists job records. Save upserts by job id.
type Store interface {
	Save(ctx context.Context, j job.Job) error
	Get(ctx context.Context, id string) (job.Job, error)
	List(ctx context.Context, tenantID string) ([]job.Job, error)
	Close() error
}

// File appends every saved record to a JSON-lines log and replays it on open;
// the last line for an id wins.
type File struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	jobs   map[string]job.Job
	logger *slog.Logger
}

func OpenFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating job history directory: %w", err)
	}
	jobs := make(map[string]job.Job)
	logger := slog.Default().With("component", "jobstore", "path", path)
	if existing, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(existing)
		scanner.Buffer(make([]byte, 64<<10), 4<<20)
		line := 0
		for scanner.Scan() {
			line++
			var j job.Job
			if err := json.Unmarshal(scanner.Bytes(), &j); err != nil {
				// A torn final write after a crash is expected; skip it.
				logger.Warn("skipping unreadable job history line", "line", line, "error", err)
				continue
			}
			jobs[j.ID] = j
		}
		existing.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading job history: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("opening job history: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening job history for append: %w", err)
	}
	logger.Info("job history loaded", "jobs", len(jobs))
	return &File{f: f, w: bufio.NewWriter(f), jobs: jobs, logger: logger}, nil
}

func (s *File) Save(_ context.Context, j job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshaling job %s: %w", j.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending job %s: %w", j.ID, err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flushing job history: %w", err)
	}
	if j.State.Terminal() {
		if err := s.f.Sync(); err != nil {
			return fmt.Errorf("syncing job history: %w", err)
		}
	}
	s.jobs[j.ID] = j
	return nil
}

func (s *File) Get(_ context.Context, id string) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return job.Job{}, fmt.Errorf("%w: %s", apperrors.ErrJobNotFound, id)
	}
	return j, nil
}

// List returns jobs for tenantID (all tenants when empty), newest first.
func (s *File) List(_ context.Context, tenantID string) ([]job.Job, error) {
	s.mu.Lock()
	out := make([]job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if tenantID == "" || j.TenantID == tenantID {
			out = append(out, j)
		}
	}
	s.mu.Unlock()
	sortNewestFirst(out)
	return out, nil
}

func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}

func sortNewestFirst(jobs []job.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].ScheduledAt.Equal(jobs[k].ScheduledAt) {
			return jobs[i].ScheduledAt.After(jobs[k].ScheduledAt)
		}
		return jobs[i].ID < jobs[k].ID
	})
}
