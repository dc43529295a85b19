// Package tracing records in-process span trees carried through contexts.
// A sync run opens a trace, each page sync hangs a child span off it, and
// the finished tree is written to slog in one pass.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type spanKey struct{}

// Span times one operation. Fields are guarded by mu because page spans may
// finish on different goroutines than their parent.
type Span struct {
	name    string
	traceID string
	start   time.Time

	mu       sync.Mutex
	elapsed  time.Duration
	done     bool
	err      error
	attrs    []slog.Attr
	children []*Span
}

// NewTrace opens a root span identified by traceID.
func NewTrace(ctx context.Context, traceID, name string) (context.Context, *Span) {
	s := &Span{name: name, traceID: traceID, start: time.Now()}
	return context.WithValue(ctx, spanKey{}, s), s
}

// Start opens a span under the one in ctx. Without a parent the span is
// detached and only times the operation.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{name: name, start: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		s.traceID = parent.traceID
		parent.mu.Lock()
		parent.children = append(parent.children, s)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

func (s *Span) TraceID() string { return s.traceID }

func (s *Span) Set(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

// Finish stops the clock and records err, if any. Only the first call
// counts, so a deferred Finish(nil) after an explicit Finish(err) is safe.
func (s *Span) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.elapsed = time.Since(s.start)
	s.err = err
}

func (s *Span) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		return time.Since(s.start)
	}
	return s.elapsed
}

func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Failures counts failed spans in the tree rooted at s.
func (s *Span) Failures() int {
	s.mu.Lock()
	n := 0
	if s.err != nil {
		n = 1
	}
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()
	for _, c := range children {
		n += c.Failures()
	}
	return n
}

// Log writes the tree depth-first. Healthy spans go out at debug and failed
// ones at warn.
func (s *Span) Log(ctx context.Context, logger *slog.Logger) {
	s.log(ctx, logger, 0)
}

func (s *Span) log(ctx context.Context, logger *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := make([]slog.Attr, 0, len(s.attrs)+5)
	attrs = append(attrs,
		slog.String("trace_id", s.traceID),
		slog.String("span", s.name),
		slog.Int("depth", depth),
		slog.Int64("duration_ms", s.elapsed.Milliseconds()),
	)
	attrs = append(attrs, s.attrs...)
	level := slog.LevelDebug
	if s.err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", s.err.Error()))
	}
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	logger.LogAttrs(ctx, level, "span", attrs...)
	for _, c := range children {
		c.log(ctx, logger, depth+1)
	}
}
