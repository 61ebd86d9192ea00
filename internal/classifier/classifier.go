// Package classifier infers the level of raw text lines captured from a
// process output stream.
package classifier

import (
	"strings"

	"github.com/setevik/logrelay/internal/entry"
)

// Infer returns the level carried by line. Bracketed tags ("[ERROR]") win
// over framework tags ("vite:error"); the leftmost tag of a kind wins. A line
// without either marker gets fallback.
func Infer(line string, fallback entry.Level) entry.Level {
	if lvl, ok := match(bracketTagRe.FindStringSubmatch(line)); ok {
		return lvl
	}
	if lvl, ok := match(frameworkTagRe.FindStringSubmatch(line)); ok {
		return lvl
	}
	return fallback
}

// Lines splits a raw write into non-blank lines with trailing whitespace
// and carriage returns removed.
func Lines(text string) []string {
	if text == "" {
		return nil
	}
	raw := strings.Split(text, "\n")
	lines := raw[:0]
	for _, l := range raw {
		l = strings.TrimRight(l, " \t\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

func match(m []string) (entry.Level, bool) {
	if len(m) < 2 {
		return "", false
	}
	lvl, ok := tagLevels[strings.ToLower(m[1])]
	return lvl, ok
}
