// Package store provides the bounded, in-memory log entry store.
package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/setevik/logrelay/internal/entry"
	"github.com/setevik/logrelay/internal/format"
)

// RecentWindow is the age below which an entry counts towards Stats.RecentCount.
const RecentWindow = 5 * time.Minute

// ErrUnknownFormat is returned by Export for formats other than json and text.
var ErrUnknownFormat = errors.New("unknown export format")

// Store is a FIFO ring buffer of entries. With persist disabled it keeps
// only the most recent entry. All methods are safe for concurrent use and
// reads return copies.
type Store struct {
	mu      sync.RWMutex
	buf     []entry.Entry
	start   int // index of the oldest entry once buf is full
	max     int
	persist bool
	now     func() time.Time
}

// New creates a Store holding at most maxLogs entries. maxLogs below 1 is
// treated as 1.
func New(maxLogs int, persist bool) *Store {
	if maxLogs < 1 {
		maxLogs = 1
	}
	return &Store{
		max:     maxLogs,
		persist: persist,
		now:     time.Now,
	}
}

// Append adds an entry, evicting the oldest one when full.
func (s *Store) Append(e entry.Entry) {
	e = e.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.persist {
		// Replace-latest mode: the buffer only ever holds the last entry.
		s.buf = append(s.buf[:0], e)
		s.start = 0
		return
	}

	if len(s.buf) < s.max {
		s.buf = append(s.buf, e)
		return
	}
	s.buf[s.start] = e
	s.start = (s.start + 1) % s.max
}

// All returns every entry, oldest first.
func (s *Store) All() []entry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

// Recent returns the last n entries, oldest first.
func (s *Store) Recent(n int) []entry.Entry {
	if n <= 0 {
		return []entry.Entry{}
	}
	all := s.All()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Filter controls which entries are returned by Filter. Zero-valued fields
// are ignored; the rest must all match.
type Filter struct {
	Level     entry.Level `json:"level,omitempty"`
	Source    string      `json:"source,omitempty"`
	Search    string      `json:"search,omitempty"`
	StartTime int64       `json:"startTime,omitempty"` // inclusive, ms
	EndTime   int64       `json:"endTime,omitempty"`   // inclusive, ms
}

// Match reports whether e satisfies every set predicate of f.
func (f Filter) Match(e entry.Entry) bool {
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.StartTime != 0 && e.Timestamp < f.StartTime {
		return false
	}
	if f.EndTime != 0 && e.Timestamp > f.EndTime {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

// Filter returns the entries matching f, oldest first.
func (s *Store) Filter(f Filter) []entry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entry.Entry, 0, len(s.buf))
	for i := range s.buf {
		e := s.buf[(s.start+i)%len(s.buf)]
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
	s.start = 0
}

// Export renders the store as "json" (the default) or "text"/"txt".
func (s *Store) Export(fmtName string) (string, error) {
	switch strings.ToLower(fmtName) {
	case "", "json":
		return format.JSON(s.All())
	case "text", "txt":
		return format.Text(s.All()), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, fmtName)
	}
}

// Stats summarises the store contents.
type Stats struct {
	Total       int            `json:"total"`
	ByLevel     map[string]int `json:"byLevel"`
	BySource    map[string]int `json:"bySource"`
	RecentCount int            `json:"recentCount"`
}

// Stats counts entries by level and source. Entries without a source are
// counted as "unknown".
func (s *Store) Stats() Stats {
	now := s.now().UnixMilli()
	window := RecentWindow.Milliseconds()

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Total:    len(s.buf),
		ByLevel:  make(map[string]int),
		BySource: make(map[string]int),
	}
	for _, e := range s.buf {
		level := string(e.Level)
		if level == "" {
			level = "unknown"
		}
		source := e.Source
		if source == "" {
			source = "unknown"
		}
		st.ByLevel[level]++
		st.BySource[source]++
		if now-e.Timestamp < window {
			st.RecentCount++
		}
	}
	return st
}

func (s *Store) snapshotLocked() []entry.Entry {
	out := make([]entry.Entry, len(s.buf))
	for i := range s.buf {
		out[i] = s.buf[(s.start+i)%len(s.buf)]
	}
	return out
}
