// Package diagnostics holds the bounded diagnostic log and the status
// snapshot exported for outside inspection.
package diagnostics

import (
	"fmt"
	"sync"
	"time"
)

// DefaultLogLimit is the number of entries kept when no limit is configured.
const DefaultLogLimit = 100

// Entry is a single diagnostic log line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Log is an append-only ring buffer: once full, the oldest entry is evicted.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	head    int // index of the oldest entry once the buffer has wrapped
	limit   int
	now     func() time.Time
}

// NewLog creates a log bounded to limit entries.
func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	return &Log{
		entries: make([]Entry, 0, limit),
		limit:   limit,
		now:     time.Now,
	}
}

// WithClock overrides the timestamp source (tests).
func (l *Log) WithClock(now func() time.Time) *Log {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

// Append records msg and returns the stored entry.
func (l *Log) Append(msg string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{Timestamp: l.now(), Message: msg}
	if len(l.entries) < l.limit {
		l.entries = append(l.entries, e)
		return e
	}
	l.entries[l.head] = e
	l.head = (l.head + 1) % l.limit
	return e
}

// Appendf is Append with fmt.Sprintf formatting.
func (l *Log) Appendf(format string, args ...interface{}) Entry {
	return l.Append(fmt.Sprintf(format, args...))
}

// Entries returns the buffered entries, oldest first.
func (l *Log) Entries() []Entry {
	return l.Tail(0)
}

// Tail returns the newest n entries in chronological order (n <= 0 means all).
func (l *Log) Tail(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	size := len(l.entries)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Entry, 0, n)
	for i := size - n; i < size; i++ {
		out = append(out, l.entries[(l.head+i)%size])
	}
	return out
}

// Len reports how many entries are buffered.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Limit reports the configured bound.
func (l *Log) Limit() int {
	return l.limit
}
