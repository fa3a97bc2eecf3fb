// Package history keeps the bounded command-line history and persists it to
// a plain text file, one entry per line.
package history

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/renameio"
)

// DefaultMaxLen is the retained-entry cap used when none is configured.
const DefaultMaxLen = 100

// ErrInvalidMaxLen is returned by SetMaxLen for caps below one.
var ErrInvalidMaxLen = errors.New("history length must be at least 1")

// Log is an ordered, bounded sequence of entered lines, oldest first.
type Log struct {
	path    string
	maxLen  int
	entries []string
}

// New returns an empty log persisted to path. An empty path keeps the log in
// memory only.
func New(path string, maxLen int) *Log {
	if maxLen < 1 {
		maxLen = DefaultMaxLen
	}
	return &Log{path: path, maxLen: maxLen}
}

// Load reads the history file at path, keeping the newest maxLen entries.
// A missing file yields an empty log.
func Load(path string, maxLen int) *Log {
	l := New(path, maxLen)
	if path == "" {
		return l
	}

	f, err := os.Open(path)
	if err != nil {
		slog.Debug("no history loaded", "path", path, "error", err)
		return l
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		l.entries = append(l.entries, line)
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("history read failed", "path", path, "error", err)
	}
	l.trim()
	return l
}

// Path returns the backing file path.
func (l *Log) Path() string { return l.path }

// MaxLen returns the retained-entry cap.
func (l *Log) MaxLen() int { return l.maxLen }

// Len returns the number of entries.
func (l *Log) Len() int { return len(l.entries) }

// Entries returns a copy of the entries, oldest first.
func (l *Log) Entries() []string {
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// Add appends line and persists the log. Empty lines and an immediate repeat
// of the newest entry are not recorded.
func (l *Log) Add(line string) error {
	if line == "" {
		return nil
	}
	if n := len(l.entries); n > 0 && l.entries[n-1] == line {
		return nil
	}
	l.entries = append(l.entries, line)
	l.trim()
	return l.Save()
}

// SetMaxLen changes the retained-entry cap. Shrinking discards the oldest
// entries and persists the result.
func (l *Log) SetMaxLen(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxLen, n)
	}
	l.maxLen = n
	if len(l.entries) <= n {
		return nil
	}
	l.trim()
	return l.Save()
}

// Save atomically rewrites the history file.
func (l *Log) Save() error {
	if l.path == "" {
		return nil
	}
	var b strings.Builder
	for _, e := range l.entries {
		b.WriteString(e)
		b.WriteByte('\n')
	}
	if err := renameio.WriteFile(l.path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("save history %s: %w", l.path, err)
	}
	return nil
}

func (l *Log) trim() {
	if over := len(l.entries) - l.maxLen; over > 0 {
		l.entries = append(l.entries[:0], l.entries[over:]...)
	}
}
