package plog

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is a single record captured by a Recorder.
type Entry struct {
	Level slog.Level
	Msg   string
	Attrs map[string]any
}

// Str returns the string form of the attribute with the given key, or "".
func (e Entry) Str(key string) string {
	v, ok := e.Attrs[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return slog.AnyValue(v).String()
}

// Recorder is an in-memory Sink. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Record implements Sink.
func (r *Recorder) Record(level slog.Level, msg string, args ...any) {
	rec := slog.NewRecord(time.Now(), level, msg, 0)
	rec.Add(args...)
	attrs := make(map[string]any, rec.NumAttrs())
	rec.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Resolve().Any()
		return true
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Msg: msg, Attrs: attrs})
}

// Entries returns a copy of all captured records.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Messages returns the messages of all captured records at or above minLevel.
func (r *Recorder) Messages(minLevel slog.Level) []string {
	var msgs []string
	for _, e := range r.Entries() {
		if e.Level >= minLevel {
			msgs = append(msgs, e.Msg)
		}
	}
	return msgs
}

// Reset discards all captured records.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

var _ Sink = (*Recorder)(nil)
var _ Sink = (*Logger)(nil)
