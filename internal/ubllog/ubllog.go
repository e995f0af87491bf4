// Package ubllog wires log/slog the way bindicator's telemetry package
// wires it (telemetry/slog.go): a handler that fans every record out to
// two sinks at once. Here the second sink is not a telemetry collector but
// a bounded ring buffer standing in for the original's on-chip circular
// log (common/u_log.c's log_cbuffer), so "log print" can replay history
// that scrolled off the console.
package ubllog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// LevelCritical sits above slog.LevelError, mirroring the original's
// LOG_TYPE_CRIT which is distinct from (and more severe than)
// LOG_TYPE_ERROR.
const LevelCritical = slog.Level(12)

// Entry is one ring-buffer record, kept pre-formatted the way
// log_cbuffer_get_message returns an already-assembled string rather than
// structured fields — cheap to print, nothing to reparse.
type Entry struct {
	Time  time.Time
	Level slog.Level
	Msg   string
}

// RingBuffer is a fixed-capacity, overwrite-oldest log buffer.
type RingBuffer struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	next     int
	full     bool
}

// NewRingBuffer returns a RingBuffer holding at most capacity entries.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{entries: make([]Entry, capacity), capacity: capacity}
}

// Append adds an entry, overwriting the oldest one once the buffer is full.
func (r *RingBuffer) Append(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
}

// All returns every buffered entry in chronological order.
func (r *RingBuffer) All() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]Entry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}

	out := make([]Entry, r.capacity)
	copy(out, r.entries[r.next:])
	copy(out[r.capacity-r.next:], r.entries[:r.next])
	return out
}

// Handler is an slog.Handler that writes human-readable text to a console
// writer (when one is attached) and always appends to a RingBuffer.
type Handler struct {
	mu     *sync.Mutex
	out    io.Writer
	ring   *RingBuffer
	level  slog.Leveler
	attrs  []slog.Attr
	group  string
}

// NewHandler creates a Handler. out may be nil, meaning no console is
// currently attached (matching the orchestrator's "CLI owns the UART when
// active" rule, §5) — records still land in ring.
func NewHandler(out io.Writer, ring *RingBuffer, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{mu: &sync.Mutex{}, out: out, ring: ring, level: level}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	line := formatRecord(r, h.group, h.attrs)

	if h.ring != nil {
		h.ring.Append(Entry{Time: r.Time, Level: r.Level, Msg: line})
	}

	if h.out == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintf(h.out, "%s\r\n", decorate(r.Level, line))
	return err
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next = append(next, h.attrs...)
	next = append(next, attrs...)
	return &Handler{mu: h.mu, out: h.out, ring: h.ring, level: h.level, attrs: next, group: h.group}
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &Handler{mu: h.mu, out: h.out, ring: h.ring, level: h.level, attrs: h.attrs, group: group}
}

// SetConsole attaches or detaches the console writer at runtime. No
// package in this repository calls it; the writer passed to NewHandler
// stays attached unless a caller does.
func (h *Handler) SetConsole(out io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.out = out
}

func formatRecord(r slog.Record, group string, attrs []slog.Attr) string {
	msg := r.Message
	if group != "" {
		msg = group + ":" + msg
	}
	r.Attrs(func(a slog.Attr) bool {
		msg += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		return true
	})
	for _, a := range attrs {
		msg += fmt.Sprintf(" %s=%v", a.Key, a.Value)
	}
	return msg
}

func decorate(level slog.Level, msg string) string {
	switch {
	case level >= LevelCritical:
		return "CRITICAL: " + msg
	case level >= slog.LevelError:
		return "ERROR: " + msg
	case level >= slog.LevelWarn:
		return "WARNING: " + msg
	case level >= slog.LevelInfo:
		return "INFO: " + msg
	default:
		return "DEBUG: " + msg
	}
}

// Critical logs msg at LevelCritical, the bootloader's most severe kind.
// The orchestrator uses it when no fallback image is available.
func Critical(l *slog.Logger, msg string, args ...any) {
	l.Log(context.Background(), LevelCritical, msg, args...)
}
