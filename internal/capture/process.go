package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
)

// Process implements LineSource by running a child command and reading its
// stdout and stderr line by line.
type Process struct {
	argv   []string
	dir    string
	mu     sync.Mutex
	cmd    *exec.Cmd
	cancel context.CancelFunc
	err    error
}

// NewProcess creates a Process for argv. The command is run directly, not
// through a shell.
func NewProcess(argv []string) *Process {
	return &Process{argv: append([]string(nil), argv...)}
}

// SetDir sets the working directory of the child.
func (p *Process) SetDir(dir string) {
	p.dir = dir
}

func (p *Process) Lines(ctx context.Context) (<-chan Line, error) {
	if len(p.argv) == 0 {
		return nil, errors.New("empty command")
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, p.argv[0], p.argv[1:]...)
	cmd.Dir = p.dir
	p.mu.Lock()
	p.cmd = cmd
	p.cancel = cancel
	p.err = nil
	p.mu.Unlock()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting %s: %w", p.argv[0], err)
	}

	ch := make(chan Line, 64)

	var wg sync.WaitGroup
	wg.Add(2)
	go scanLines(ctx, &wg, stdout, StreamStdout, ch)
	go scanLines(ctx, &wg, stderr, StreamStderr, ch)

	go func() {
		defer close(ch)
		defer cancel()
		// All reads must finish before Wait closes the pipes.
		wg.Wait()
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		if err != nil && ctx.Err() == nil {
			slog.Debug("child process exited", "command", p.argv[0], "error", err)
		}
	}()

	slog.Debug("child process started", "command", p.argv[0], "pid", cmd.Process.Pid)
	return ch, nil
}

// Err returns the exit error of the last run once its Lines channel has
// been closed.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Process) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

func scanLines(ctx context.Context, wg *sync.WaitGroup, r io.Reader, stream Stream, ch chan<- Line) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	// Bundler output can carry very long lines; allow up to 1MB.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case ch <- Line{Stream: stream, Text: scanner.Text()}:
		case <-ctx.Done():
			_, _ = io.Copy(io.Discard, r)
			return
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Warn("child output scanner error", "stream", stream, "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}
