package client

import (
	"fmt"
	"sort"
	"strings"

	"github.com/setevik/logrelay/internal/entry"
	"github.com/setevik/logrelay/internal/format"
	"github.com/setevik/logrelay/internal/store"
)

// FormatStats formats store statistics as human-readable text.
func FormatStats(addr string, st store.Stats) string {
	var b strings.Builder

	fmt.Fprintf(&b, "=== %s ===\n", addr)
	fmt.Fprintf(&b, "Total:       %d\n", st.Total)
	fmt.Fprintf(&b, "Last 5 min:  %d\n", st.RecentCount)

	b.WriteString("By level:    ")
	if len(st.ByLevel) == 0 {
		b.WriteString("-")
	}
	levels := make([]string, 0, len(st.ByLevel))
	for _, l := range entry.AllLevels() {
		if n := st.ByLevel[string(l)]; n > 0 {
			levels = append(levels, fmt.Sprintf("%s %d", l.Label(), n))
		}
	}
	b.WriteString(strings.Join(levels, ", "))
	b.WriteString("\n")

	b.WriteString("By source:   ")
	if len(st.BySource) == 0 {
		b.WriteString("-")
	}
	b.WriteString(formatBreakdown(st.BySource))
	b.WriteString("\n")

	return b.String()
}

// FormatEntries renders entries one per line, newest last.
func FormatEntries(entries []entry.Entry) string {
	if len(entries) == 0 {
		return "No log entries found.\n"
	}
	return format.Text(entries) + "\n"
}

// formatBreakdown turns a map[string]int into "foo ×2, bar ×1" sorted by
// count desc, then name.
func formatBreakdown(m map[string]int) string {
	type item struct {
		name  string
		count int
	}

	items := make([]item, 0, len(m))
	for name, count := range m {
		items = append(items, item{name, count})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].count != items[j].count {
			return items[i].count > items[j].count
		}
		return items[i].name < items[j].name
	})

	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = fmt.Sprintf("%s \u00d7%d", it.name, it.count)
	}
	return strings.Join(parts, ", ")
}
