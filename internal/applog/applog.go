// Package applog is the adapter's own diagnostic logging: a rotating file
// sink for everything the adapter logs about itself, and an in-memory ring
// buffer of recent entries, readable in-process through All and Subscribe.
package applog

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level orders log severities for filtering.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel maps a config string to a Level, defaulting to LevelInfo for
// anything unrecognized.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Entry is a single log record.
type Entry struct {
	ID        string
	Timestamp time.Time
	Level     Level
	Source    string // "adapter" or "interface"
	Message   string
}

// Logger combines a rotating file sink with an in-memory ring buffer of
// recent entries available for inspection through All and Subscribe.
type Logger struct {
	minLevel Level
	file     *lumberjack.Logger

	mu     sync.RWMutex
	buffer []*Entry
	cap    int
	head   int
	count  int

	subMu       sync.RWMutex
	subscribers map[string]chan *Entry
}

// New creates a Logger writing to path (rotated by lumberjack) and keeping
// the last bufferSize entries in memory. A zero-value path disables the
// file sink; only the in-memory ring is kept.
func New(path string, minLevel Level, bufferSize int) *Logger {
	if bufferSize <= 0 {
		bufferSize = 2000
	}
	l := &Logger{
		minLevel:    minLevel,
		buffer:      make([]*Entry, bufferSize),
		cap:         bufferSize,
		subscribers: make(map[string]chan *Entry),
	}
	if path != "" {
		l.file = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
	}
	return l
}

// Logf records a formatted message at the given level and source.
func (l *Logger) Logf(level Level, source, format string, args ...interface{}) {
	if level < l.minLevel {
		return
	}
	entry := &Entry{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Level:     level,
		Source:    source,
		Message:   fmt.Sprintf(format, args...),
	}
	l.add(entry)
}

func (l *Logger) add(entry *Entry) {
	l.mu.Lock()
	l.buffer[l.head] = entry
	l.head = (l.head + 1) % l.cap
	if l.count < l.cap {
		l.count++
	}
	l.mu.Unlock()

	if l.file != nil {
		fmt.Fprintf(l.file, "%s [%s] %s: %s\n", entry.Timestamp.Format(time.RFC3339Nano), entry.Level, entry.Source, entry.Message)
	}

	l.notifySubscribers(entry)
}

// All returns every buffered entry, oldest first.
func (l *Logger) All() []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*Entry, 0, l.count)
	start := 0
	if l.count == l.cap {
		start = l.head
	}
	for i := 0; i < l.count; i++ {
		idx := (start + i) % l.cap
		if l.buffer[idx] != nil {
			result = append(result, l.buffer[idx])
		}
	}
	return result
}

// Subscribe returns a channel that receives every entry logged from now on.
func (l *Logger) Subscribe() (string, <-chan *Entry) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	id := uuid.New().String()
	ch := make(chan *Entry, 64)
	l.subscribers[id] = ch
	return id, ch
}

// Unsubscribe closes and removes a subscription created by Subscribe.
func (l *Logger) Unsubscribe(id string) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	if ch, ok := l.subscribers[id]; ok {
		close(ch)
		delete(l.subscribers, id)
	}
}

func (l *Logger) notifySubscribers(entry *Entry) {
	l.subMu.RLock()
	defer l.subMu.RUnlock()
	for _, ch := range l.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Close flushes and closes the underlying file sink, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
