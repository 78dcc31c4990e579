// ABOUTME: Represents a single live client connection bound to a user.
// ABOUTME: Buffers outbound events and fails fast once closed or congested.

package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Session errors
var (
	// ErrSessionClosed indicates the session has been shut down.
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionBufferFull indicates the outbound queue is congested.
	ErrSessionBufferFull = errors.New("session buffer full")
)

// Session represents one live connection for a user. Events queued with Send
// are drained by the connection's write loop via Events.
type Session struct {
	UserID int64
	ID     string

	outbox chan any
	mu     sync.Mutex
	closed bool
}

// NewSession creates a session for the given user with the given outbound
// buffer size. Each session gets a unique ID so a stale disconnect can be
// told apart from the connection that replaced it.
func NewSession(userID int64, buffer int) *Session {
	return &Session{
		UserID: userID,
		ID:     uuid.New().String(),
		outbox: make(chan any, buffer),
	}
}

// Send queues an event for delivery to the client. It never blocks: a closed
// session returns ErrSessionClosed and a full buffer returns
// ErrSessionBufferFull. Either failure means the recipient is not keeping up
// and should be treated as unreachable.
func (s *Session) Send(evt any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	select {
	case s.outbox <- evt:
		return nil
	default:
		return ErrSessionBufferFull
	}
}

// Events returns the channel the write loop drains. The channel is closed
// when the session is closed.
func (s *Session) Events() <-chan any {
	return s.outbox
}

// Close shuts the session down. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.outbox)
}

// Closed reports whether the session has been shut down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
