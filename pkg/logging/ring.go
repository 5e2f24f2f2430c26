package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultRingCapacity is used when a non-positive capacity is requested.
const DefaultRingCapacity = 5000

// Entry is one captured record.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   []slog.Attr
}

// String renders the entry as a single log line.
func (e Entry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", e.Time.Format("15:04:05"), e.Level, e.Message)
	for _, a := range e.Attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Resolve())
	}
	return b.String()
}

// ring is the buffer shared by a RingHandler and everything derived from it
// with WithAttrs or WithGroup.
type ring struct {
	mu       sync.RWMutex
	capacity int
	entries  []Entry
}

func (r *ring) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == r.capacity {
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:r.capacity-1]
	}
	r.entries = append(r.entries, e)
}

// RingHandler forwards records to next and keeps the most recent ones in a
// bounded buffer. It is safe for concurrent use.
type RingHandler struct {
	next  slog.Handler
	level slog.Level
	buf   *ring
	// attrs added with WithAttrs, captured alongside record attrs
	attrs []slog.Attr
	group string
}

// NewRingHandler wraps next. Records below level are neither captured nor
// forwarded.
func NewRingHandler(next slog.Handler, capacity int, level slog.Level) *RingHandler {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &RingHandler{
		next:  next,
		level: level,
		buf:   &ring{capacity: capacity, entries: make([]Entry, 0, capacity)},
	}
}

// Capacity returns the maximum number of retained entries.
func (h *RingHandler) Capacity() int { return h.buf.capacity }

func (h *RingHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return lvl >= h.level && h.next.Enabled(ctx, lvl)
}

func (h *RingHandler) Handle(ctx context.Context, rec slog.Record) error {
	err := h.next.Handle(ctx, rec)
	if rec.Level < h.level {
		return err
	}

	e := Entry{Time: rec.Time, Level: rec.Level, Message: rec.Message}
	e.Attrs = append(e.Attrs, h.attrs...)
	rec.Attrs(func(a slog.Attr) bool {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		e.Attrs = append(e.Attrs, a)
		return true
	})
	h.buf.add(e)
	return err
}

func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	c.attrs = append(c.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		c.attrs = append(c.attrs, a)
	}
	return &c
}

func (h *RingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.next = h.next.WithGroup(name)
	if h.group != "" {
		c.group = h.group + "." + name
	} else {
		c.group = name
	}
	return &c
}

// Entries returns a copy of the retained entries, oldest first.
func (h *RingHandler) Entries() []Entry {
	h.buf.mu.RLock()
	defer h.buf.mu.RUnlock()
	out := make([]Entry, len(h.buf.entries))
	copy(out, h.buf.entries)
	return out
}

// Filter returns retained entries at or above threshold, oldest first.
func (h *RingHandler) Filter(threshold slog.Level) []Entry {
	all := h.Entries()
	out := all[:0]
	for _, e := range all {
		if e.Level >= threshold {
			out = append(out, e)
		}
	}
	return out
}

// Clear drops every retained entry.
func (h *RingHandler) Clear() {
	h.buf.mu.Lock()
	defer h.buf.mu.Unlock()
	h.buf.entries = h.buf.entries[:0]
}
