// Package job models a tenant sync job and the state machine it moves
// through.
package job

import (
	"fmt"
	"time"

	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
)

type State string

const (
	StatePending        State = "PENDING"
	StateRunning        State = "RUNNING"
	StateSucceeded      State = "SUCCEEDED"
	StateFailed         State = "FAILED"
	StateRetryScheduled State = "RETRY_SCHEDULED"
	StateCancelled      State = "CANCELLED"
)

var transitions = map[State][]State{
	StatePending:        {StateRunning, StateCancelled, StateFailed},
	StateRunning:        {StateSucceeded, StateFailed, StateCancelled},
	StateFailed:         {StateRetryScheduled},
	StateRetryScheduled: {StatePending, StateCancelled},
}

// CanTransition reports whether from -> to is a legal edge. PENDING -> FAILED
// covers jobs whose admission was rejected or which were orphaned by a crash.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends a job. The scheduler moves a retried job
// from FAILED to RETRY_SCHEDULED in the same step, so an observed FAILED is
// final.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateCancelled || s == StateFailed
}

// Active reports whether a job in state s still occupies its tenant's queue
// position.
func (s State) Active() bool {
	return s == StatePending || s == StateRunning || s == StateRetryScheduled
}

// Stats summarises what a successful attempt changed.
type Stats struct {
	Fetched           int    `json:"fetched"`
	FetchFailures     int    `json:"fetch_failures"`
	ExtractFailures   int    `json:"extract_failures"`
	Added             int    `json:"added"`
	Modified          int    `json:"modified"`
	Deleted           int    `json:"deleted"`
	Unchanged         int    `json:"unchanged"`
	Documents         int    `json:"documents"`
	PublishedSnapshot uint64 `json:"published_generation,omitempty"`
}

// Job is a sync job record. Values are copied out of the scheduler, never
// shared.
type Job struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	State       State          `json:"state"`
	Attempt     int            `json:"attempt"`
	LastError   string         `json:"last_error,omitempty"`
	ErrorKind   apperrors.Kind `json:"error_kind,omitempty"`
	Trigger     string         `json:"trigger,omitempty"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	EndedAt     *time.Time     `json:"ended_at,omitempty"`
	Stats       *Stats         `json:"stats,omitempty"`
}

// Transition moves j to the next state, stamping times. A FAILED job can only
// leave FAILED through RETRY_SCHEDULED.
func (j *Job) Transition(to State, now time.Time) error {
	if !CanTransition(j.State, to) {
		return fmt.Errorf("%w: illegal job transition %s -> %s", apperrors.ErrInternal, j.State, to)
	}
	j.State = to
	switch to {
	case StateRunning:
		j.StartedAt = &now
		j.EndedAt = nil
	case StateSucceeded, StateFailed, StateCancelled:
		j.EndedAt = &now
	case StateRetryScheduled:
		j.EndedAt = nil
	}
	return nil
}

// Fail records err as the job's last error.
func (j *Job) Fail(err error) {
	if err == nil {
		return
	}
	j.LastError = err.Error()
	j.ErrorKind = apperrors.KindOf(err)
}

// Clone returns a deep copy safe to hand to callers.
func (j *Job) Clone() Job {
	out := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.EndedAt != nil {
		t := *j.EndedAt
		out.EndedAt = &t
	}
	if j.Stats != nil {
		s := *j.Stats
		out.Stats = &s
	}
	return out
}
