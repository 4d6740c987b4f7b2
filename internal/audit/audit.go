// Package audit appends structured events to a user's append-only audit
// trail, one JSON object per line. The trail is the durable record of what
// the coordination layer did on the user's behalf: agents started and
// stopped, locks skipped, modes changed.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level grades an event's severity.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category groups events by subsystem.
type Category string

const (
	CategoryAgent  Category = "agent"
	CategoryMode   Category = "mode"
	CategoryLock   Category = "lock"
	CategoryDaemon Category = "daemon"
	CategoryUser   Category = "user"
)

// Entry is one audit record.
type Entry struct {
	ID       string         `json:"id"`
	TS       time.Time      `json:"ts"`
	Level    Level          `json:"level"`
	Category Category       `json:"category"`
	Event    string         `json:"event"`
	Actor    string         `json:"actor"`
	Details  map[string]any `json:"details,omitempty"`
}

// Logger appends entries to one audit file. A nil Logger discards
// everything, so components can emit unconditionally.
type Logger struct {
	path string
	mu   sync.Mutex
}

// NewLogger returns a Logger appending to the file at path.
func NewLogger(path string) *Logger {
	return &Logger{path: path}
}

// Emit appends one entry, generating its ID and timestamp. Each line is a
// single O_APPEND write, so concurrent emitters from different processes
// do not interleave.
func (l *Logger) Emit(level Level, category Category, event, actor string, details map[string]any) error {
	if l == nil {
		return nil
	}

	entry := Entry{
		ID:       uuid.New().String(),
		TS:       time.Now().UTC(),
		Level:    level,
		Category: category,
		Event:    event,
		Actor:    actor,
		Details:  details,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("creating logs directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// Info emits an info-level entry.
func (l *Logger) Info(category Category, event, actor string, details map[string]any) error {
	return l.Emit(LevelInfo, category, event, actor, details)
}

// Warn emits a warn-level entry.
func (l *Logger) Warn(category Category, event, actor string, details map[string]any) error {
	return l.Emit(LevelWarn, category, event, actor, details)
}

// Error emits an error-level entry.
func (l *Logger) Error(category Category, event, actor string, details map[string]any) error {
	return l.Emit(LevelError, category, event, actor, details)
}

// Tail returns up to limit entries from the end of the trail at path, in
// chronological order. Unparseable lines are skipped; a torn final line
// from a crash must not hide the rest of the history.
func Tail(path string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
		if len(entries) > limit {
			entries = entries[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}
	return entries, nil
}
