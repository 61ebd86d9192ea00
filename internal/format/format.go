// Package format provides shared formatting utilities.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/setevik/logrelay/internal/entry"
)

// isoLayout matches the millisecond ISO-8601 form used by text exports.
const isoLayout = "2006-01-02T15:04:05.000Z"

// ISOTime formats a millisecond timestamp as UTC ISO-8601 (e.g. "2024-02-19T14:32:05.000Z").
func ISOTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(isoLayout)
}

// Line formats an entry as "[ISO-timestamp] LEVEL [source] message".
func Line(e entry.Entry) string {
	source := e.Source
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("[%s] %s [%s] %s", ISOTime(e.Timestamp), e.Level.Label(), source, e.Message)
}

// Text formats entries one per line.
func Text(entries []entry.Entry) string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = Line(e)
	}
	return strings.Join(lines, "\n")
}

// JSON formats entries as a pretty-printed JSON array. A nil slice yields "[]".
func JSON(entries []entry.Entry) (string, error) {
	if entries == nil {
		entries = []entry.Entry{}
	}
	b, err := marshalIndent(entries)
	if err != nil {
		return "", fmt.Errorf("encoding entries: %w", err)
	}
	return string(b), nil
}

// Arg flattens one logged argument to text. Strings are used as-is, errors
// and Stringers by their text, everything else as indented JSON (map keys
// sorted, so the result is deterministic).
func Arg(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	}
	b, err := marshalIndent(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}

// Args joins the flattened arguments with single spaces. When more than one
// argument was given, data holds the raw argument list as JSON; arguments
// that cannot be encoded are replaced by their flattened text.
func Args(args []any) (message string, data json.RawMessage) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = Arg(a)
	}
	message = strings.Join(parts, " ")

	if len(args) > 1 {
		b, err := json.Marshal(args)
		if err != nil {
			b, _ = json.Marshal(parts)
		}
		data = b
	}
	return message, data
}

func marshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
