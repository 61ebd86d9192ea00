// Package capture observes a process's output streams and structured
// logging calls and forwards what it sees to a Sink as log entries.
//
// Nothing here patches process globals. The host builds one Interceptor and
// hands its writers, console and slog handler to whatever produces output;
// Start and Stop switch capturing on and off while the wrapped destinations
// keep receiving every byte either way.
package capture

import (
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/setevik/logrelay/internal/classifier"
	"github.com/setevik/logrelay/internal/entry"
)

// Source tags for captured entries.
const (
	SourceStdout  = "stdout"
	SourceStderr  = "stderr"
	SourceSlog    = "slog"
	SourceCommand = "command"
)

// Sink receives captured entries. Append must not block for long; it runs
// on the goroutine that produced the output.
type Sink interface {
	Append(e entry.Entry)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e entry.Entry)

func (f SinkFunc) Append(e entry.Entry) { f(e) }

// Interceptor wraps a pair of output streams and forwards captured lines to
// a Sink while running.
type Interceptor struct {
	sink    Sink
	stdout  io.Writer
	stderr  io.Writer
	running atomic.Bool

	mu   sync.Mutex
	last map[string]int64 // last timestamp issued per source
	now  func() time.Time
}

// New creates a stopped Interceptor. stdout and stderr are the real
// destinations; nil means io.Discard.
func New(sink Sink, stdout, stderr io.Writer) *Interceptor {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &Interceptor{
		sink:   sink,
		stdout: stdout,
		stderr: stderr,
		last:   make(map[string]int64),
		now:    time.Now,
	}
}

// Start begins capturing. Calling it while running is a no-op.
func (i *Interceptor) Start() {
	i.running.Store(true)
}

// Stop stops capturing; the wrapped writers go on forwarding to their
// destinations. Safe to call when not running.
func (i *Interceptor) Stop() {
	i.running.Store(false)
}

// Running reports whether the interceptor is capturing.
func (i *Interceptor) Running() bool {
	return i.running.Load()
}

// Stdout returns a writer that forwards to the real stdout and captures
// each non-blank line, defaulting to info.
func (i *Interceptor) Stdout() io.Writer {
	return &writer{i: i, dst: i.stdout, source: SourceStdout, fallback: entry.LevelInfo}
}

// Stderr returns a writer that forwards to the real stderr and captures
// each non-blank line, defaulting to error.
func (i *Interceptor) Stderr() io.Writer {
	return &writer{i: i, dst: i.stderr, source: SourceStderr, fallback: entry.LevelError}
}

// Stream captures text produced elsewhere (a child process, a command) as if
// it had been written to a wrapped stream tagged source.
func (i *Interceptor) Stream(source, text string, fallback entry.Level) {
	if !i.running.Load() {
		return
	}
	i.captureText(source, text, fallback)
}

type writer struct {
	i        *Interceptor
	dst      io.Writer
	source   string
	fallback entry.Level
}

// Write performs the real write first and returns its result unchanged.
func (w *writer) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	if w.i.running.Load() {
		w.i.captureText(w.source, string(p), w.fallback)
	}
	return n, err
}

func (i *Interceptor) captureText(source, text string, fallback entry.Level) {
	defer func() { _ = recover() }()

	for _, line := range classifier.Lines(text) {
		i.emit(entry.Entry{
			Level:   classifier.Infer(line, fallback),
			Message: line,
			Source:  source,
		}, time.Time{})
	}
}

// record captures a structured call whose level is known.
func (i *Interceptor) record(level entry.Level, source, message string, data json.RawMessage, at time.Time) {
	defer func() { _ = recover() }()

	i.emit(entry.Entry{
		Level:   level,
		Message: message,
		Source:  source,
		Data:    data,
	}, at)
}

func (i *Interceptor) emit(e entry.Entry, at time.Time) {
	e.Timestamp = i.stamp(e.Source, at)
	i.sink.Append(e)
}

// stamp returns a millisecond timestamp that never goes backwards for a
// given source.
func (i *Interceptor) stamp(source string, at time.Time) int64 {
	if at.IsZero() {
		at = i.now()
	}
	ts := at.UnixMilli()

	i.mu.Lock()
	defer i.mu.Unlock()
	if last := i.last[source]; ts < last {
		ts = last
	}
	i.last[source] = ts
	return ts
}
