// Package logging sets up slog for the hub and keeps recent entries in memory
// so they can be served over the API.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogEntry represents a structured log entry
type LogEntry struct {
	Time      time.Time              `json:"time"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Component string                 `json:"component,omitempty"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// RingBuffer stores the most recent log entries
type RingBuffer struct {
	entries []LogEntry
	size    int
	head    int
	count   int
	mu      sync.RWMutex

	subscribers map[chan LogEntry]bool
	subMu       sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the specified size
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		entries:     make([]LogEntry, size),
		size:        size,
		subscribers: make(map[chan LogEntry]bool),
	}
}

// Add adds a log entry to the ring buffer
func (rb *RingBuffer) Add(entry LogEntry) {
	rb.mu.Lock()
	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
	rb.mu.Unlock()

	rb.subMu.RLock()
	for ch := range rb.subscribers {
		select {
		case ch <- entry:
		default:
			// Skip if subscriber can't keep up
		}
	}
	rb.subMu.RUnlock()
}

// Recent returns up to n entries, oldest first. Entries below minLevel or
// from another component are skipped when those filters are set.
func (rb *RingBuffer) Recent(n int, minLevel slog.Level, component string) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]LogEntry, 0, min(n, rb.count))
	start := (rb.head - rb.count + rb.size) % rb.size
	for i := rb.count - 1; i >= 0 && len(result) < n; i-- {
		entry := rb.entries[(start+i)%rb.size]
		if ParseLevel(entry.Level) < minLevel {
			continue
		}
		if component != "" && entry.Component != component {
			continue
		}
		result = append(result, entry)
	}

	// Collected newest first
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

// Len returns the number of buffered entries
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Subscribe creates a channel that receives new log entries
func (rb *RingBuffer) Subscribe() chan LogEntry {
	ch := make(chan LogEntry, 100)
	rb.subMu.Lock()
	rb.subscribers[ch] = true
	rb.subMu.Unlock()
	return ch
}

// Unsubscribe removes a subscription
func (rb *RingBuffer) Unsubscribe(ch chan LogEntry) {
	rb.subMu.Lock()
	delete(rb.subscribers, ch)
	rb.subMu.Unlock()
	close(ch)
}

// StreamHandler is a slog handler that captures logs to a ring buffer
type StreamHandler struct {
	buffer   *RingBuffer
	fallback slog.Handler
	level    slog.Leveler
	attrs    []slog.Attr
	groups   []string
}

// NewStreamHandler creates a handler that captures logs to the ring buffer
// and writes them to fallback as JSON or text.
func NewStreamHandler(buffer *RingBuffer, fallback io.Writer, level slog.Leveler, format string) *StreamHandler {
	opts := &slog.HandlerOptions{Level: level}
	var next slog.Handler
	if format == "text" {
		next = slog.NewTextHandler(fallback, opts)
	} else {
		next = slog.NewJSONHandler(fallback, opts)
	}
	return &StreamHandler{
		buffer:   buffer,
		fallback: next,
		level:    level,
	}
}

// Enabled implements slog.Handler
func (h *StreamHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler
func (h *StreamHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]interface{})
	var component string

	add := func(a slog.Attr) {
		if a.Key == "component" {
			component = a.Value.String()
			return
		}
		key := a.Key
		if len(h.groups) > 0 {
			key = strings.Join(h.groups, ".") + "." + key
		}
		attrs[key] = a.Value.Resolve().Any()
	}

	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		add(a)
		return true
	})

	entry := LogEntry{
		Time:      r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Component: component,
	}
	if len(attrs) > 0 {
		if err, ok := attrs["error"].(error); ok {
			attrs["error"] = err.Error()
		}
		entry.Attrs = attrs
	}

	h.buffer.Add(entry)
	return h.fallback.Handle(ctx, r)
}

// WithAttrs implements slog.Handler
func (h *StreamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &StreamHandler{
		buffer:   h.buffer,
		fallback: h.fallback.WithAttrs(attrs),
		level:    h.level,
		attrs:    append(append([]slog.Attr(nil), h.attrs...), attrs...),
		groups:   h.groups,
	}
}

// WithGroup implements slog.Handler
func (h *StreamHandler) WithGroup(name string) slog.Handler {
	return &StreamHandler{
		buffer:   h.buffer,
		fallback: h.fallback.WithGroup(name),
		level:    h.level,
		attrs:    h.attrs,
		groups:   append(append([]string(nil), h.groups...), name),
	}
}

// ParseLevel maps debug, info, warn and error to slog levels, defaulting to
// info. Case is ignored.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds the process logger, installs it as the slog default and
// returns it with the level var so it can be changed at runtime.
func Setup(w io.Writer, level, format string, buffer *RingBuffer) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(ParseLevel(level))

	logger := slog.New(NewStreamHandler(buffer, w, lv, format))
	slog.SetDefault(logger)
	return logger, lv
}
