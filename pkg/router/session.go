package router

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"onebridge/pkg/heartbeat"
	"onebridge/pkg/onebot"
)

// ErrSessionClosed is returned when sending on a session that has closed.
var ErrSessionClosed = errors.New("session closed")

// Conn is the subset of *websocket.Conn a session needs. Reads happen on one
// goroutine; writes are serialized by the session.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Sender delivers outbound actions to the gateway.
type Sender interface {
	Send(action onebot.Action) error
}

type State string

const (
	StateAwaitingHandshake State = "awaiting_handshake"
	StateActive            State = "active"
	StateClosed            State = "closed"
)

// Session is one accepted gateway connection. It owns the socket and the
// connection's heartbeat monitor.
type Session struct {
	id       string
	path     string
	openedAt time.Time
	conn     Conn
	monitor  *heartbeat.Monitor
	log      *slog.Logger

	writeMu sync.Mutex

	mu    sync.RWMutex
	state State
	done  chan struct{}
}

// SessionInfo is a snapshot of one session for status endpoints.
type SessionInfo struct {
	ID        string           `json:"id"`
	Path      string           `json:"path"`
	State     State            `json:"state"`
	OpenedAt  time.Time        `json:"opened_at"`
	Heartbeat heartbeat.Status `json:"heartbeat"`
}

func newSession(conn Conn, path string, interval time.Duration, log *slog.Logger) *Session {
	id := uuid.NewString()
	log = log.With("session_id", id)

	return &Session{
		id:       id,
		path:     path,
		openedAt: time.Now().UTC(),
		conn:     conn,
		monitor:  heartbeat.NewMonitor(interval, log),
		log:      log,
		state:    StateAwaitingHandshake,
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Monitor returns the session's heartbeat monitor.
func (s *Session) Monitor() *heartbeat.Monitor { return s.monitor }

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:        s.id,
		Path:      s.path,
		State:     s.State(),
		OpenedAt:  s.openedAt,
		Heartbeat: s.monitor.Status(),
	}
}

// Send encodes action and writes it as one text frame.
func (s *Session) Send(action onebot.Action) error {
	payload, err := action.Encode()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write %s: %w", action.Action, err)
	}
	return nil
}

func (s *Session) activate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAwaitingHandshake {
		return false
	}
	s.state = StateActive
	return true
}

// close moves the session to StateClosed, optionally sending a close frame
// first. It reports false when the session was already closed.
func (s *Session) close(code int, reason string) bool {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false
	}
	s.state = StateClosed
	close(s.done)
	s.mu.Unlock()

	// A writer blocked on a dead peer must not hold up Close.
	if code != 0 && s.writeMu.TryLock() {
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		s.writeMu.Unlock()
	}
	_ = s.conn.Close()

	return true
}
