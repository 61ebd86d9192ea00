package capture

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/setevik/logrelay/internal/entry"
	"github.com/setevik/logrelay/internal/format"
)

// Console is a leveled print facade in the style of a browser console.
// Every call prints to the real stream; while the interceptor runs it also
// captures the call with its explicit level.
type Console struct {
	i *Interceptor
}

// Console returns the interceptor's console facade.
func (i *Interceptor) Console() *Console {
	return &Console{i: i}
}

// Log prints to stdout at info level.
func (c *Console) Log(args ...any) { c.call(entry.LevelInfo, "console.log", c.i.stdout, args) }

// Info prints to stdout at info level.
func (c *Console) Info(args ...any) { c.call(entry.LevelInfo, "console.info", c.i.stdout, args) }

// Debug prints to stdout at debug level.
func (c *Console) Debug(args ...any) { c.call(entry.LevelDebug, "console.debug", c.i.stdout, args) }

// Warn prints to stderr at warn level.
func (c *Console) Warn(args ...any) { c.call(entry.LevelWarn, "console.warn", c.i.stderr, args) }

// Error prints to stderr at error level.
func (c *Console) Error(args ...any) { c.call(entry.LevelError, "console.error", c.i.stderr, args) }

func (c *Console) call(level entry.Level, source string, dst io.Writer, args []any) {
	msg, data, ok := flatten(args)
	if !ok {
		// A panicking Stringer; fmt recovers those itself.
		_, _ = fmt.Fprintln(dst, args...)
		return
	}
	_, _ = fmt.Fprintln(dst, msg)
	if c.i.running.Load() {
		c.i.record(level, source, msg, data, c.i.now())
	}
}

func flatten(args []any) (msg string, data json.RawMessage, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	msg, data = format.Args(args)
	return msg, data, true
}
