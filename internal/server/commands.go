package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/setevik/logrelay/internal/capture"
	"github.com/setevik/logrelay/internal/classifier"
	"github.com/setevik/logrelay/internal/entry"
	"github.com/setevik/logrelay/internal/protocol"
)

// ErrCommandNotAllowed is reported for execute-command requests outside the
// allow-list.
var ErrCommandNotAllowed = errors.New("command not allowed")

// Executor runs an allowed command.
type Executor interface {
	Execute(ctx context.Context, command string) error
}

func (s *Server) handleCommand(o *observer, data []byte) {
	cmd, err := protocol.Decode(data)
	if err != nil {
		s.logger.Debug("malformed observer message", "observer", o.id, "error", err)
		s.send(o, protocol.Message{Type: protocol.TypeError, Data: "failed to process message"})
		return
	}

	switch c := cmd.(type) {
	case protocol.GetLogs:
		s.send(o, protocol.Message{Type: protocol.TypeLogsResponse, Data: s.store.All()})
	case protocol.GetFilteredLogs:
		s.send(o, protocol.Message{Type: protocol.TypeFilteredLogsResponse, Data: s.store.Filter(c.Filter)})
	case protocol.GetStats:
		s.send(o, protocol.Message{Type: protocol.TypeStatsResponse, Data: s.store.Stats()})
	case protocol.ClearLogs:
		s.clearLogs()
	case protocol.ExportLogs:
		out, err := s.store.Export(c.Format)
		if err != nil {
			s.send(o, protocol.Message{Type: protocol.TypeError, Data: err.Error()})
			return
		}
		s.send(o, protocol.Message{Type: protocol.TypeExportResponse, Data: out})
	case protocol.ExecuteCommand:
		if err := s.ExecuteCommand(c.Command); err != nil {
			s.logger.Debug("command refused", "observer", o.id, "command", c.Command, "error", err)
		}
	case protocol.Unknown:
		s.logger.Warn("unknown observer message type", "observer", o.id, "type", c.Type)
		s.send(o, protocol.Message{Type: protocol.TypeError, Data: "unknown message type: " + c.Type})
	}
}

// ExecuteCommand handles an execute-command request. A command outside the
// allow-list is answered with command-error and nothing runs. An allowed
// command is acknowledged with command-executed and, when an executor is
// configured, run in the background; a failed run is reported as
// command-error.
func (s *Server) ExecuteCommand(command string) error {
	command = strings.TrimSpace(command)
	if command == "" || !s.cfg.CommandAllowed(command) {
		s.broadcast(protocol.Message{Type: protocol.TypeCommandError, Data: "command not allowed: " + command})
		return fmt.Errorf("%w: %q", ErrCommandNotAllowed, command)
	}

	s.broadcast(protocol.Message{
		Type: protocol.TypeCommandExecuted,
		Data: protocol.CommandResult{Command: command, Timestamp: s.now().UnixMilli()},
	})

	if s.exec == nil {
		return nil
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	go func() {
		if err := s.exec.Execute(ctx, command); err != nil {
			s.logger.Debug("command failed", "command", command, "error", err)
			s.broadcast(protocol.Message{Type: protocol.TypeCommandError, Data: fmt.Sprintf("%s: %v", command, err)})
		}
	}()
	return nil
}

// ProcessExecutor runs commands as child processes, without a shell, and
// appends each output line to a sink with source "command".
type ProcessExecutor struct {
	sink    capture.Sink
	dir     string
	timeout time.Duration
}

// NewProcessExecutor creates an executor feeding sink.
func NewProcessExecutor(sink capture.Sink) *ProcessExecutor {
	return &ProcessExecutor{sink: sink, timeout: 10 * time.Minute}
}

// SetDir sets the working directory commands run in.
func (p *ProcessExecutor) SetDir(dir string) {
	p.dir = dir
}

func (p *ProcessExecutor) Execute(ctx context.Context, command string) error {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return errors.New("empty command")
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	proc := capture.NewProcess(argv)
	proc.SetDir(p.dir)
	lines, err := proc.Lines(ctx)
	if err != nil {
		return err
	}
	for line := range lines {
		fallback := entry.LevelInfo
		if line.Stream == capture.StreamStderr {
			fallback = entry.LevelError
		}
		for _, text := range classifier.Lines(line.Text) {
			p.sink.Append(entry.New(classifier.Infer(text, fallback), text, time.Now(), capture.SourceCommand))
		}
	}
	if err := proc.Err(); err != nil {
		return fmt.Errorf("running %s: %w", argv[0], err)
	}
	return nil
}
