package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pankaj28843/docs-mcp-server/internal/job"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
	"github.com/pankaj28843/docs-mcp-server/pkg/postgres"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS sync_jobs (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	state        TEXT NOT NULL,
	attempt      INTEGER NOT NULL,
	last_error   TEXT NOT NULL DEFAULT '',
	error_kind   TEXT NOT NULL DEFAULT '',
	trigger      TEXT NOT NULL DEFAULT '',
	scheduled_at TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	ended_at     TIMESTAMPTZ,
	stats        JSONB,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const createJobsIndex = `CREATE INDEX IF NOT EXISTS sync_jobs_tenant_idx ON sync_jobs (tenant_id, scheduled_at DESC)`

const upsertJob = `
INSERT INTO sync_jobs (id, tenant_id, state, attempt, last_error, error_kind, trigger, scheduled_at, started_at, ended_at, stats, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
ON CONFLICT (id) DO UPDATE SET
	state = EXCLUDED.state,
	attempt = EXCLUDED.attempt,
	last_error = EXCLUDED.last_error,
	error_kind = EXCLUDED.error_kind,
	started_at = EXCLUDED.started_at,
	ended_at = EXCLUDED.ended_at,
	stats = EXCLUDED.stats,
	updated_at = now()`

const selectJobColumns = `SELECT id, tenant_id, state, attempt, last_error, error_kind, trigger, scheduled_at, started_at, ended_at, stats FROM sync_jobs`

// Postgres stores job history in the sync_jobs table.
type Postgres struct {
	client *postgres.Client
	logger *slog.Logger
}

// NewPostgres creates the schema if needed.
func NewPostgres(ctx context.Context, client *postgres.Client) (*Postgres, error) {
	if err := client.Migrate(ctx, createJobsTable, createJobsIndex); err != nil {
		return nil, fmt.Errorf("migrating sync_jobs: %w", err)
	}
	return &Postgres{client: client, logger: slog.Default().With("component", "jobstore-postgres")}, nil
}

func (s *Postgres) Save(ctx context.Context, j job.Job) error {
	var stats []byte
	if j.Stats != nil {
		var err error
		if stats, err = json.Marshal(j.Stats); err != nil {
			return fmt.Errorf("marshaling job stats: %w", err)
		}
	}
	_, err := s.client.DB.ExecContext(ctx, upsertJob,
		j.ID, j.TenantID, string(j.State), j.Attempt, j.LastError, string(j.ErrorKind), j.Trigger,
		j.ScheduledAt, j.StartedAt, j.EndedAt, nullableJSON(stats),
	)
	if err != nil {
		return fmt.Errorf("saving job %s: %w", j.ID, err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id string) (job.Job, error) {
	row := s.client.DB.QueryRowContext(ctx, selectJobColumns+` WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Job{}, fmt.Errorf("%w: %s", apperrors.ErrJobNotFound, id)
	}
	return j, err
}

func (s *Postgres) List(ctx context.Context, tenantID string) ([]job.Job, error) {
	query := selectJobColumns + ` ORDER BY scheduled_at DESC, id`
	args := []any{}
	if tenantID != "" {
		query = selectJobColumns + ` WHERE tenant_id = $1 ORDER BY scheduled_at DESC, id`
		args = append(args, tenantID)
	}
	rows, err := s.client.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()
	var out []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Close is a no-op; the connection pool belongs to the caller.
func (s *Postgres) Close() error { return nil }

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (job.Job, error) {
	var (
		j              job.Job
		state, kind    string
		started, ended sql.NullTime
		stats          []byte
	)
	if err := row.Scan(&j.ID, &j.TenantID, &state, &j.Attempt, &j.LastError, &kind, &j.Trigger,
		&j.ScheduledAt, &started, &ended, &stats); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return j, err
		}
		return j, fmt.Errorf("scanning job: %w", err)
	}
	j.State = job.State(state)
	j.ErrorKind = apperrors.Kind(kind)
	if started.Valid {
		t := started.Time
		j.StartedAt = &t
	}
	if ended.Valid {
		t := ended.Time
		j.EndedAt = &t
	}
	if len(stats) > 0 {
		j.Stats = &job.Stats{}
		if err := json.Unmarshal(stats, j.Stats); err != nil {
			return j, fmt.Errorf("decoding job stats: %w", err)
		}
	}
	return j, nil
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
