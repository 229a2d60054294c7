// Package tracing records timed spans for the stages of a sync attempt and a
// search request. Spans nest through the context and are emitted as one
// structured log line each, tagged with the request or correlation id.
package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/pankaj28843/docs-mcp-server/pkg/logger"
)

type contextKey struct{}

// Span represents a timed operation within a trace.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Children  []*Span
	Attrs     map[string]any
	Err       error
	mu        sync.Mutex
}

// StartSpan creates a root span. An empty traceID falls back to the
// correlation id, then the request id, carried by ctx.
func StartSpan(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	if traceID == "" {
		traceID = logger.CorrelationID(ctx)
	}
	if traceID == "" {
		traceID = logger.RequestID(ctx)
	}
	span := &Span{
		Name:      name,
		TraceID:   traceID,
		StartTime: time.Now(),
		Attrs:     make(map[string]any),
	}
	return context.WithValue(ctx, contextKey{}, span), span
}

// StartChildSpan creates a child span linked to the parent in ctx. Without a
// parent it behaves like StartSpan.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	if parent == nil {
		return StartSpan(ctx, name, "")
	}
	child := &Span{
		Name:      name,
		TraceID:   parent.TraceID,
		StartTime: time.Now(),
		Attrs:     make(map[string]any),
	}
	parent.mu.Lock()
	parent.Children = append(parent.Children, child)
	parent.mu.Unlock()
	return context.WithValue(ctx, contextKey{}, child), child
}

// Stage runs fn inside a child span and records its error.
func Stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := StartChildSpan(ctx, name)
	err := fn(ctx)
	span.Err = err
	span.End()
	return err
}

func (s *Span) End() {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.Attrs[key] = value
	s.mu.Unlock()
}

func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(contextKey{}).(*Span); ok {
		return span
	}
	return nil
}

// Log writes the span tree through the context logger.
func (s *Span) Log(ctx context.Context) {
	s.logRecursive(ctx, 0)
}

func (s *Span) logRecursive(ctx context.Context, depth int) {
	attrs := []any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_ms", s.Duration.Milliseconds(),
		"depth", depth,
	}
	s.mu.Lock()
	for k, v := range s.Attrs {
		attrs = append(attrs, k, v)
	}
	children := append([]*Span(nil), s.Children...)
	s.mu.Unlock()
	if s.Err != nil {
		attrs = append(attrs, "error", s.Err)
	}
	logger.FromContext(ctx).Debug("span", attrs...)

	for _, child := range children {
		child.logRecursive(ctx, depth+1)
	}
}
