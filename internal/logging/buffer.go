package logging

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

// LogEntry is one record kept for GET /api/logs.
type LogEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RingBuffer keeps the most recent log entries. Once full, each Write
// replaces the oldest entry.
type RingBuffer struct {
	mu   sync.RWMutex
	buf  []LogEntry
	next int
	full bool
}

// NewRingBuffer creates a buffer holding up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{buf: make([]LogEntry, size)}
}

// Write stores entry.
func (rb *RingBuffer) Write(entry LogEntry) {
	rb.mu.Lock()
	rb.buf[rb.next] = entry
	rb.next++
	if rb.next == len(rb.buf) {
		rb.next = 0
		rb.full = true
	}
	rb.mu.Unlock()
}

// Count returns the number of stored entries.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.countLocked()
}

func (rb *RingBuffer) countLocked() int {
	if rb.full {
		return len(rb.buf)
	}
	return rb.next
}

// Tail returns up to n (all when n <= 0) of the newest entries for
// module (empty for all) at or above level, oldest first.
func (rb *RingBuffer) Tail(n int, module, level string) []LogEntry {
	floor := slog.LevelDebug
	if parsed := parseLevel(level); parsed != nil {
		floor = *parsed
	}

	rb.mu.RLock()
	defer rb.mu.RUnlock()

	count := rb.countLocked()
	if n <= 0 || n > count {
		n = count
	}
	out := make([]LogEntry, 0, n)
	// Walk backwards from the newest entry
	for i := 0; i < count && len(out) < n; i++ {
		e := rb.buf[(rb.next-1-i+len(rb.buf))%len(rb.buf)]
		if module != "" && e.Module != module {
			continue
		}
		if l := parseLevel(e.Level); l != nil && *l < floor {
			continue
		}
		out = append(out, e)
	}
	slices.Reverse(out)
	return out
}
