// Package server distributes captured log entries to remote observers.
//
// A Server owns the log store and two listeners: a query listener serving
// the HTTP API on the configured port, and a streaming listener on the next
// port where observers connect over WebSocket. New observers first receive
// the current history, then every appended entry.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/setevik/logrelay/internal/config"
	"github.com/setevik/logrelay/internal/entry"
	"github.com/setevik/logrelay/internal/protocol"
	"github.com/setevik/logrelay/internal/store"
)

const readHeaderTimeout = 10 * time.Second

// Option configures a Server.
type Option func(*Server)

// WithExecutor sets the executor run for allowed execute-command requests.
// Without one, allowed commands are only acknowledged.
func WithExecutor(e Executor) Option {
	return func(s *Server) { s.exec = e }
}

// WithClock overrides the time source used for command timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// Server is the distribution server. Its zero value is not usable; call New.
type Server struct {
	cfg    config.Console
	levels entry.LevelSet
	logger *slog.Logger
	store  *store.Store
	exec   Executor
	now    func() time.Time

	// mu orders store appends against observer registration so a joining
	// observer sees every entry exactly once.
	mu        sync.Mutex
	running   bool
	querySrv  *http.Server
	streamSrv *http.Server
	queryLn   net.Listener
	streamLn  net.Listener
	observers map[string]*observer
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a stopped Server. logger must not feed back into the server's
// own capture path.
func New(cfg config.Console, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	levels, err := cfg.Levels()
	if err != nil {
		logger.Warn("invalid log_levels, allowing all", "error", err)
		levels = entry.NewLevelSet(entry.AllLevels()...)
	}

	s := &Server{
		cfg:       cfg,
		levels:    levels,
		logger:    logger,
		store:     store.New(cfg.MaxLogs, cfg.PersistLogs),
		now:       time.Now,
		observers: make(map[string]*observer),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	if s.exec == nil && cfg.ExecuteCommands {
		s.exec = NewProcessExecutor(s)
	}
	return s
}

// Start binds both listeners and begins serving. It is a no-op when the
// server is already running or disabled. On a bind failure the server stays
// stopped and the error is returned; callers may ignore it.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || !s.cfg.Enabled {
		return nil
	}

	queryLn, err := net.Listen("tcp", s.cfg.QueryAddr())
	if err != nil {
		s.logger.Debug("query listener failed", "addr", s.cfg.QueryAddr(), "error", err)
		return fmt.Errorf("query listener: %w", err)
	}
	streamLn, err := net.Listen("tcp", s.cfg.StreamAddr())
	if err != nil {
		_ = queryLn.Close()
		s.logger.Debug("stream listener failed", "addr", s.cfg.StreamAddr(), "error", err)
		return fmt.Errorf("stream listener: %w", err)
	}

	s.queryLn = queryLn
	s.streamLn = streamLn
	s.querySrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: readHeaderTimeout}
	s.streamSrv = &http.Server{Handler: s.StreamHandler(), ReadHeaderTimeout: readHeaderTimeout}
	go s.serve("query", s.querySrv, queryLn)
	go s.serve("stream", s.streamSrv, streamLn)
	s.running = true

	s.event("console server started",
		"query_addr", queryLn.Addr().String(),
		"stream_addr", streamLn.Addr().String(),
	)
	return nil
}

func (s *Server) serve(name string, srv *http.Server, ln net.Listener) {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Debug("listener stopped", "listener", name, "error", err)
	}
}

// Stop closes both listeners and disconnects every observer. The store is
// kept. Stop is idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	querySrv, streamSrv := s.querySrv, s.streamSrv
	s.querySrv, s.streamSrv = nil, nil
	s.queryLn, s.streamLn = nil, nil
	observers := s.observers
	s.observers = make(map[string]*observer)
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	for _, o := range observers {
		go o.closeWith(websocket.StatusGoingAway, "server stopping")
	}
	_ = querySrv.Close()
	_ = streamSrv.Close()

	s.event("console server stopped", "observers", len(observers))
}

// Append records e if its level is allowed and pushes it to every
// observer. Safe for concurrent use.
func (s *Server) Append(e entry.Entry) {
	if !s.levels.Allows(e.Level) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.store.Append(e)
	if len(s.observers) == 0 {
		return
	}
	s.broadcastLocked(protocol.Message{Type: protocol.TypeNewLog, Data: e})
}

// Running reports whether the listeners are up.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Store returns the server's log store.
func (s *Server) Store() *store.Store {
	return s.store
}

// Addr returns the bound query listener address, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryLn == nil {
		return ""
	}
	return s.queryLn.Addr().String()
}

// StreamAddr returns the bound streaming listener address, or "" when
// stopped.
func (s *Server) StreamAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamLn == nil {
		return ""
	}
	return s.streamLn.Addr().String()
}

// ObserverCount returns the number of connected observers.
func (s *Server) ObserverCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

// event logs a lifecycle line, at info when debug output is on.
func (s *Server) event(msg string, args ...any) {
	level := slog.LevelDebug
	if s.cfg.Debug {
		level = slog.LevelInfo
	}
	s.logger.Log(context.Background(), level, msg, args...)
}

func (s *Server) clearLogs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Clear()
	s.broadcastLocked(protocol.Message{Type: protocol.TypeLogsCleared})
}

// broadcast sends msg to every observer.
func (s *Server) broadcast(msg protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(msg)
}

func (s *Server) broadcastLocked(msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Warn("dropping unencodable message", "type", msg.Type, "error", err)
		return
	}
	for _, o := range s.observers {
		o.enqueue(frame)
	}
}

// send delivers msg to one observer if it is still connected.
func (s *Server) send(o *observer, msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Warn("dropping unencodable message", "type", msg.Type, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.observers[o.id] != o {
		return
	}
	o.enqueue(frame)
}
