package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/setevik/logrelay/internal/protocol"
)

const (
	readLimit    = 1 << 20
	writeTimeout = 10 * time.Second
)

// StreamHandler returns the WebSocket handler served by the streaming
// listener. Every path upgrades.
func (s *Server) StreamHandler() http.Handler {
	return http.HandlerFunc(s.handleStream)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(readLimit)

	o := newObserver(uuid.NewString(), conn)
	if err := s.register(o); err != nil {
		s.logger.Warn("observer rejected", "error", err)
		o.abort()
		return
	}
	s.event("observer connected", "observer", o.id, "remote", r.RemoteAddr)

	go s.writeLoop(o)
	s.readLoop(o)

	s.remove(o)
	o.abort()
	s.event("observer disconnected", "observer", o.id)
}

// register queues the history snapshot for o and adds it to the observer
// set in one step, so entries appended meanwhile are neither lost nor
// duplicated.
func (s *Server) register(o *observer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame, err := protocol.Encode(protocol.Message{
		Type: protocol.TypeHistoricalLogs,
		Data: s.store.All(),
	})
	if err != nil {
		return err
	}
	o.enqueue(frame)
	s.observers[o.id] = o
	return nil
}

func (s *Server) remove(o *observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.observers[o.id] == o {
		delete(s.observers, o.id)
	}
}

// dropLocked removes o after a failed write. The connection is already
// broken, so nothing pending can be delivered. Other observers are not
// affected.
func (s *Server) dropLocked(o *observer, reason string) {
	if s.observers[o.id] == o {
		delete(s.observers, o.id)
	}
	s.logger.Debug("dropping observer", "observer", o.id, "reason", reason)
	go o.abort()
}

func (s *Server) writeLoop(o *observer) {
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-o.ready:
		}
		for _, frame := range o.take() {
			ctx, cancel := context.WithTimeout(o.ctx, writeTimeout)
			err := o.conn.Write(ctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				s.mu.Lock()
				s.dropLocked(o, "write failed: "+err.Error())
				s.mu.Unlock()
				return
			}
		}
	}
}

func (s *Server) readLoop(o *observer) {
	for {
		_, data, err := o.conn.Read(o.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
				s.logger.Debug("observer read failed", "observer", o.id, "error", err)
			}
			return
		}
		s.handleCommand(o, data)
	}
}
