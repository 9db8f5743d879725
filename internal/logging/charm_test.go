package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNewConsoleLogger_WritesAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(&buf, false)

	l.Info(context.Background(), "uploaded", "slug", "myfile")
	l.Debug(context.Background(), "hidden")

	out := buf.String()
	if !strings.Contains(out, "uploaded") || !strings.Contains(out, "myfile") {
		t.Fatalf("expected message and attribute in output, got:\n%s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line must be filtered when not verbose, got:\n%s", out)
	}
}

func TestNewConsoleLogger_VerboseEmitsDebug(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(&buf, true)

	l.Debug(context.Background(), "tick", "percent", 42)

	if !strings.Contains(buf.String(), "tick") {
		t.Fatalf("expected debug line, got:\n%s", buf.String())
	}
}
