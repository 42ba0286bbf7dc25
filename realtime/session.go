// Package realtime serves the per-board websocket channel: authenticated
// sessions, board rooms and the command handlers that persist mutations and
// rebroadcast their outcome.
package realtime

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session is one authenticated websocket connection.
type Session struct {
	ID     string
	UserID string

	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Bool
}

func newSession(userID string, conn *websocket.Conn, buffer int) *Session {
	return &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// Send queues msg for the write goroutine. A session whose queue is full is
// closed so the client reconnects and refetches instead of missing frames.
func (s *Session) Send(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	default:
		s.dropped.Store(true)
		s.Close()
		return false
	}
}

// Close stops the session. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Dropped reports whether the session was closed for falling behind.
func (s *Session) Dropped() bool { return s.dropped.Load() }

// Authenticated reports whether a user is bound to the session.
func (s *Session) Authenticated() bool { return s != nil && s.UserID != "" }
