package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestRingBuffer_Wraps(t *testing.T) {
	rb := NewRingBuffer(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		rb.Add(LogEntry{Level: "INFO", Message: msg})
	}

	if rb.Len() != 3 {
		t.Fatalf("Expected 3 entries, got %d", rb.Len())
	}
	got := rb.Recent(10, slog.LevelDebug, "")
	var msgs []string
	for _, e := range got {
		msgs = append(msgs, e.Message)
	}
	if strings.Join(msgs, ",") != "b,c,d" {
		t.Errorf("Expected b,c,d oldest first, got %v", msgs)
	}

	got = rb.Recent(2, slog.LevelDebug, "")
	if len(got) != 2 || got[0].Message != "c" || got[1].Message != "d" {
		t.Errorf("Expected the two newest entries, got %+v", got)
	}
}

func TestRingBuffer_Filters(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Add(LogEntry{Level: "DEBUG", Message: "noise", Component: "hub"})
	rb.Add(LogEntry{Level: "WARN", Message: "careful", Component: "hub"})
	rb.Add(LogEntry{Level: "ERROR", Message: "broken", Component: "github"})

	if got := rb.Recent(10, slog.LevelWarn, ""); len(got) != 2 {
		t.Errorf("Expected 2 entries at warn or above, got %d", len(got))
	}
	got := rb.Recent(10, slog.LevelDebug, "hub")
	if len(got) != 2 || got[1].Message != "careful" {
		t.Errorf("Expected hub entries only, got %+v", got)
	}
}

func TestRingBuffer_Subscribe(t *testing.T) {
	rb := NewRingBuffer(10)
	ch := rb.Subscribe()

	rb.Add(LogEntry{Message: "hello"})
	entry := <-ch
	if entry.Message != "hello" {
		t.Errorf("Expected 'hello', got '%s'", entry.Message)
	}

	rb.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("Expected channel closed after unsubscribe")
	}
}

func TestStreamHandler(t *testing.T) {
	var out bytes.Buffer
	rb := NewRingBuffer(10)
	logger, lv := Setup(&out, "info", "json", rb)
	defer slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	hubLogger := logger.With("component", "hub")
	hubLogger.Debug("hidden")
	hubLogger.Warn("Action failed", "plugin", "foo", "error", errors.New("boom"))

	entries := rb.Recent(10, slog.LevelDebug, "")
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Component != "hub" || e.Level != "WARN" {
		t.Errorf("Unexpected entry %+v", e)
	}
	if e.Attrs["plugin"] != "foo" || e.Attrs["error"] != "boom" {
		t.Errorf("Unexpected attrs %v", e.Attrs)
	}
	if !strings.Contains(out.String(), `"msg":"Action failed"`) {
		t.Errorf("Expected JSON output, got %s", out.String())
	}

	lv.Set(slog.LevelDebug)
	hubLogger.Debug("visible")
	if rb.Len() != 2 {
		t.Errorf("Expected debug entry after level change, got %d entries", rb.Len())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, expected %v", tt.in, got, tt.want)
		}
	}
}
