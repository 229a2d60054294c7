// Package events publishes sync job transitions and search activity to Kafka
// for downstream consumers. Tracking never blocks the caller.
package events

import (
	"time"

	"github.com/pankaj28843/docs-mcp-server/internal/job"
	apperrors "github.com/pankaj28843/docs-mcp-server/pkg/errors"
)

type EventType string

const (
	EventSyncJob    EventType = "sync_job"
	EventSearch     EventType = "search"
	EventZeroResult EventType = "zero_result"
)

type JobEvent struct {
	Type      EventType      `json:"type"`
	JobID     string         `json:"job_id"`
	TenantID  string         `json:"tenant_id"`
	State     job.State      `json:"state"`
	Attempt   int            `json:"attempt"`
	Trigger   string         `json:"trigger,omitempty"`
	ErrorKind apperrors.Kind `json:"error_kind,omitempty"`
	LastError string         `json:"last_error,omitempty"`
	Stats     *job.Stats     `json:"stats,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type SearchEvent struct {
	Type       EventType `json:"type"`
	TenantID   string    `json:"tenant_id"`
	Query      string    `json:"query"`
	Generation uint64    `json:"generation"`
	TotalHits  int       `json:"total_hits"`
	Returned   int       `json:"returned"`
	LatencyMs  int64     `json:"latency_ms"`
	CacheHit   bool      `json:"cache_hit"`
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func jobEvent(j job.Job) JobEvent {
	return JobEvent{
		Type:      EventSyncJob,
		JobID:     j.ID,
		TenantID:  j.TenantID,
		State:     j.State,
		Attempt:   j.Attempt,
		Trigger:   j.Trigger,
		ErrorKind: j.ErrorKind,
		LastError: j.LastError,
		Stats:     j.Stats,
		Timestamp: time.Now().UTC(),
	}
}
