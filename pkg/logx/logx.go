// Package logx provides leveled, component-tagged logging for the worker.
package logx

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level identifies the severity of a log line.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Entry is a single structured log record. Recent entries are kept in an
// in-memory ring so diagnostics can be inspected without scraping stdout.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

const ringCapacity = 1000

type ring struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *ring) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if len(r.entries) > ringCapacity {
		r.entries = r.entries[len(r.entries)-ringCapacity:]
	}
}

func (r *ring) snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

//nolint:gochecknoglobals // process-wide log sink configuration
var (
	globalMu   sync.RWMutex
	globalJSON bool
	globalOut  io.Writer = os.Stderr
	globalRing           = &ring{}
)

// SetJSONOutput switches all loggers to emit one JSON object per line.
// Controlled by the jsonLogging settings flag.
func SetJSONOutput(enabled bool) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalJSON = enabled
}

// SetOutput redirects log output, primarily for tests. Passing nil restores
// the default stderr sink.
func SetOutput(w io.Writer) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	globalOut = w
}

// RecentEntries returns a copy of the in-memory log ring.
func RecentEntries() []Entry {
	return globalRing.snapshot()
}

// Logger writes component-tagged log lines.
type Logger struct {
	component string
}

// NewLogger creates a logger tagged with the given component name.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// WithComponent returns a child logger with a suffixed component tag.
func (l *Logger) WithComponent(suffix string) *Logger {
	return &Logger{component: l.component + "/" + suffix}
}

func (l *Logger) log(level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Component: l.component,
		Level:     string(level),
		Message:   msg,
	}
	globalRing.add(entry)

	globalMu.RLock()
	jsonMode := globalJSON
	out := globalOut
	globalMu.RUnlock()

	if jsonMode {
		if line, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(out, string(line))
			return
		}
	}
	fmt.Fprintf(out, "%s [%s] %-5s %s\n", entry.Timestamp, entry.Component, entry.Level, msg)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }

// Info logs at INFO level.
func (l *Logger) Info(format string, args ...any) { l.log(LevelInfo, format, args...) }

// Warn logs at WARN level.
func (l *Logger) Warn(format string, args ...any) { l.log(LevelWarn, format, args...) }

// Error logs at ERROR level.
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }
