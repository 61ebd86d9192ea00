package capture

import (
	"context"
)

// Stream names one of a child process's output streams.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Line is one line of child process output.
type Line struct {
	Stream Stream
	Text   string
}

// LineSource is the interface for receiving output lines.
// Implementations include the child process pipe and test mocks.
type LineSource interface {
	// Lines returns a channel of output lines. The channel is closed
	// when the source exits, is stopped, or the context is cancelled.
	Lines(ctx context.Context) (<-chan Line, error)

	// Err returns the exit error once the Lines channel has closed. nil
	// means the source finished cleanly.
	Err() error

	// Stop signals the source to shut down.
	Stop()
}
