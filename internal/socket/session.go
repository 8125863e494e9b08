package socket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// JoinStatus is the lifecycle state of a channel session.
type JoinStatus int

const (
	StatusJoining JoinStatus = iota
	StatusJoined
	StatusLeft
)

func (s JoinStatus) String() string {
	switch s {
	case StatusJoined:
		return "joined"
	case StatusLeft:
		return "left"
	default:
		return "joining"
	}
}

// EventHandler consumes a server-pushed event payload on a session.
type EventHandler func(payload json.RawMessage)

// Session is a single subscription to a remote topic (a room or a user's
// personal channel). It owns its event bindings; the connection routes
// every frame for the topic here. The back-reference to the connection is
// used only for sending and leaving, never for ownership.
type Session struct {
	conn  *Conn
	topic string

	mu       sync.Mutex
	status   JoinStatus
	handlers map[string]EventHandler
}

func newSession(c *Conn, topic string) *Session {
	return &Session{
		conn:     c,
		topic:    topic,
		status:   StatusJoining,
		handlers: make(map[string]EventHandler),
	}
}

// Topic returns the session's topic identifier.
func (s *Session) Topic() string { return s.topic }

// Status returns the session's join status.
func (s *Session) Status() JoinStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// On binds a handler for a server-pushed event. Binding the same event
// twice is a no-op; this guards against double-binding when a session is
// rebuilt on reload.
func (s *Session) On(event string, h EventHandler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[event]; ok {
		slog.Debug("event already bound", "topic", s.topic, "event", event)
		return
	}
	s.handlers[event] = h
}

// Join performs the join round-trip and returns the server's snapshot
// payload. On any failure the session is removed from the connection's
// registry so no half-joined state is retained.
func (s *Session) Join(ctx context.Context, payload any) (json.RawMessage, error) {
	f, err := NewFrame(s.topic, EventJoin, payload)
	if err != nil {
		s.fail()
		return nil, err
	}

	reply, err := s.conn.request(ctx, f)
	if err != nil {
		s.fail()
		return nil, err
	}
	if !reply.Ok() {
		s.fail()
		return nil, NewError(ErrCodeJoin, "join rejected for "+s.topic+": "+reply.Reason(), nil)
	}

	s.mu.Lock()
	s.status = StatusJoined
	s.mu.Unlock()
	return reply.Response, nil
}

// Leave tears the subscription down and removes the session from the
// connection registry. The leave frame is best effort; a dead transport
// does not make Leave fail.
func (s *Session) Leave(ctx context.Context) {
	s.mu.Lock()
	if s.status == StatusLeft {
		s.mu.Unlock()
		return
	}
	s.status = StatusLeft
	s.mu.Unlock()

	if f, err := NewFrame(s.topic, EventLeave, nil); err == nil {
		_ = s.conn.Send(f)
	}
	s.conn.removeSession(s.topic)
}

// Push sends an event on this session's topic without waiting for a
// reply.
func (s *Session) Push(event string, payload any) error {
	f, err := NewFrame(s.topic, event, payload)
	if err != nil {
		return err
	}
	return s.conn.Send(f)
}

func (s *Session) fail() {
	s.mu.Lock()
	s.status = StatusLeft
	s.mu.Unlock()
	s.conn.removeSession(s.topic)
}

func (s *Session) markLeft() {
	s.mu.Lock()
	s.status = StatusLeft
	s.mu.Unlock()
}

func (s *Session) deliver(event string, payload json.RawMessage) {
	s.mu.Lock()
	h := s.handlers[event]
	s.mu.Unlock()
	if h != nil {
		h(payload)
	}
}
