// Package tracing records a per-request tree of timed spans carried in the
// context and logs it through slog once the request finishes.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type contextKey struct{}

// Span is one timed operation. Children are appended by StartChildSpan.
type Span struct {
	Name    string
	TraceID string

	mu       sync.Mutex
	start    time.Time
	duration time.Duration
	children []*Span
	attrs    map[string]any
}

// StartSpan creates a root span and stores it in the returned context.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	span := &Span{Name: name, TraceID: traceID, start: time.Now()}
	return context.WithValue(ctx, contextKey{}, span), span
}

// StartChildSpan creates a span under the one in ctx. Without a parent the
// span is still returned but belongs to no tree.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	child := &Span{Name: name, start: time.Now()}
	if parent := SpanFromContext(ctx); parent != nil {
		child.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, contextKey{}, child), child
}

func (s *Span) End() {
	s.mu.Lock()
	s.duration = time.Since(s.start)
	s.mu.Unlock()
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attrs == nil {
		s.attrs = make(map[string]any)
	}
	s.attrs[key] = value
}

func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// Attr returns a recorded attribute.
func (s *Span) Attr(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	return v, ok
}

// Children returns a snapshot of the direct children.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// SpanFromContext returns the current span, or nil.
func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

// Log writes the span tree to l at debug level, one record per span.
func (s *Span) Log(ctx context.Context, l *slog.Logger) {
	if !l.Enabled(ctx, slog.LevelDebug) {
		return
	}
	s.log(ctx, l, 0)
}

func (s *Span) log(ctx context.Context, l *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := []any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_us", s.duration.Microseconds(),
		"depth", depth,
	}
	for k, v := range s.attrs {
		attrs = append(attrs, k, v)
	}
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	l.DebugContext(ctx, "span", attrs...)
	for _, child := range children {
		child.log(ctx, l, depth+1)
	}
}
