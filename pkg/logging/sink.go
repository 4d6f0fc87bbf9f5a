package logging

import "sync"

// Sink receives free-form diagnostic lines (distances, heights, volumes,
// modem responses). Components accept a Sink instead of writing to a console.
type Sink interface {
	Line(s string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(s string)

// Line calls f(s).
func (f SinkFunc) Line(s string) { f(s) }

// Discard drops every line.
var Discard Sink = SinkFunc(func(string) {})

// ZapSink forwards diagnostic lines to a Logger at debug level.
func ZapSink(l Logger) Sink {
	return SinkFunc(func(s string) { l.Debugf("%s", s) })
}

// Lines collects lines in memory.
type Lines struct {
	mu    sync.Mutex
	lines []string
}

// Line appends s.
func (l *Lines) Line(s string) {
	l.mu.Lock()
	l.lines = append(l.lines, s)
	l.mu.Unlock()
}

// All returns a copy of the collected lines.
func (l *Lines) All() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}
