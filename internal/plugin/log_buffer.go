package plugin

import (
	"sync"
	"time"
)

// Levels of reported plugin messages.
const (
	LevelWarn  = "warn"
	LevelError = "error"
)

// LogEntry is one error or warning reported by a plugin.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Plugin    string    `json:"plugin"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// LogBuffer is a ring buffer of plugin reports.
type LogBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	maxSize int
	head    int
	count   int
}

// NewLogBuffer creates a buffer keeping the last maxSize entries.
func NewLogBuffer(maxSize int) *LogBuffer {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &LogBuffer{
		entries: make([]LogEntry, maxSize),
		maxSize: maxSize,
	}
}

// Log records a message for plugin.
func (b *LogBuffer) Log(plugin, level, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = LogEntry{
		Timestamp: time.Now(),
		Plugin:    plugin,
		Level:     level,
		Message:   message,
	}
	b.head = (b.head + 1) % b.maxSize
	if b.count < b.maxSize {
		b.count++
	}
}

// GetAll returns all entries, newest first.
func (b *LogBuffer) GetAll() []LogEntry {
	return b.filter(func(LogEntry) bool { return true })
}

// GetRecent returns the most recent n entries, newest first.
func (b *LogBuffer) GetRecent(n int) []LogEntry {
	all := b.GetAll()
	if n < 0 {
		n = 0
	}
	if n < len(all) {
		all = all[:n]
	}
	return all
}

func (b *LogBuffer) filter(keep func(LogEntry) bool) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []LogEntry
	for i := 0; i < b.count; i++ {
		idx := (b.head - 1 - i + b.maxSize) % b.maxSize
		if keep(b.entries[idx]) {
			result = append(result, b.entries[idx])
		}
	}
	return result
}

// Count returns the number of entries held.
func (b *LogBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
