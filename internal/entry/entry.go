// Package entry defines the core data model for captured log entries.
package entry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Level is the severity of a captured entry.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelDebug Level = "debug"
)

// Entry is one captured diagnostic record. Entries are values; once handed
// to a store they are never mutated.
type Entry struct {
	Level     Level           `json:"level"`
	Message   string          `json:"message"`
	Timestamp int64           `json:"timestamp"` // milliseconds since epoch
	Source    string          `json:"source,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// New creates an Entry stamped with the given time.
func New(level Level, message string, ts time.Time, source string) Entry {
	return Entry{
		Level:     level,
		Message:   message,
		Timestamp: ts.UnixMilli(),
		Source:    source,
	}
}

// Time returns the entry timestamp as a time.Time.
func (e Entry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Clone returns a copy of e that shares no memory with it.
func (e Entry) Clone() Entry {
	if e.Data != nil {
		e.Data = append(json.RawMessage(nil), e.Data...)
	}
	return e
}

// AllLevels returns every known level in severity order.
func AllLevels() []Level {
	return []Level{LevelInfo, LevelWarn, LevelError, LevelDebug}
}

// ParseLevel parses a level name case-insensitively. "warning" is accepted
// as an alias of warn.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "debug":
		return LevelDebug, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelWarn, LevelError, LevelDebug:
		return true
	}
	return false
}

// Label returns the upper-case label used in text exports.
func (l Level) Label() string {
	return strings.ToUpper(string(l))
}

// LevelSet is an allow-list of levels.
type LevelSet map[Level]struct{}

// NewLevelSet builds a LevelSet from the given levels.
func NewLevelSet(levels ...Level) LevelSet {
	s := make(LevelSet, len(levels))
	for _, l := range levels {
		s[l] = struct{}{}
	}
	return s
}

// Allows reports whether l is in the set.
func (s LevelSet) Allows(l Level) bool {
	_, ok := s[l]
	return ok
}
