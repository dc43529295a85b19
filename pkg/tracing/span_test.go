package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestStartAttachesToTrace(t *testing.T) {
	ctx, root := NewTrace(context.Background(), "run-1", "sync.run")
	pageCtx, page := Start(ctx, "sync.page")
	page.Set("page_id", "p1")
	page.Finish(nil)
	root.Finish(nil)

	children := root.Children()
	if len(children) != 1 || children[0] != page {
		t.Fatalf("children = %v, want the page span", children)
	}
	if page.TraceID() != "run-1" {
		t.Fatalf("child trace id = %q, want run-1", page.TraceID())
	}
	if FromContext(pageCtx) != page || FromContext(ctx) != root {
		t.Fatal("spans not stored in their contexts")
	}
}

func TestDetachedSpan(t *testing.T) {
	_, span := Start(context.Background(), "orphan")
	span.Finish(nil)
	if span.TraceID() != "" {
		t.Fatalf("detached span has trace id %q", span.TraceID())
	}
}

func TestFinishKeepsFirstResult(t *testing.T) {
	_, span := Start(context.Background(), "page")
	span.Finish(errors.New("404"))
	first := span.Elapsed()
	span.Finish(nil)
	if span.Failures() != 1 {
		t.Fatal("second Finish cleared the error")
	}
	if span.Elapsed() != first {
		t.Fatal("second Finish moved the clock")
	}
}

func TestFailuresCountsTree(t *testing.T) {
	ctx, root := NewTrace(context.Background(), "r", "run")
	for _, err := range []error{nil, errors.New("a"), errors.New("b")} {
		_, s := Start(ctx, "page")
		s.Finish(err)
	}
	root.Finish(nil)
	if got := root.Failures(); got != 2 {
		t.Fatalf("Failures = %d, want 2", got)
	}
}

func TestLogReportsFailuresAtWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, root := NewTrace(context.Background(), "r", "run")
	_, bad := Start(ctx, "page")
	bad.Finish(errors.New("404"))
	root.Finish(nil)
	root.Log(ctx, logger)

	out := buf.String()
	if !strings.Contains(out, "span=page") || !strings.Contains(out, "error=404") {
		t.Fatalf("failed span not logged at warn:\n%s", out)
	}
	if strings.Contains(out, "span=run") {
		t.Fatalf("healthy span logged at warn:\n%s", out)
	}
}
