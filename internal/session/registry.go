// ABOUTME: Tracks which users have a live connection, at most one per user.
// ABOUTME: Registering a user again replaces and closes the previous session.

package session

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// ErrNotConnected indicates the target user has no live session.
var ErrNotConnected = errors.New("user not connected")

// Registry coordinates the live sessions, keyed by user ID. A user has at
// most one entry: a second connection for the same user supersedes the first.
type Registry struct {
	sessions map[int64]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[int64]*Session),
		logger:   logger,
	}
}

// Register installs a session as the user's live connection. If the user
// already had one, the old session is closed and returned so the caller can
// tell a fresh connect from a replacement.
func (r *Registry) Register(sess *Session) (replaced *Session) {
	r.mu.Lock()
	replaced = r.sessions[sess.UserID]
	r.sessions[sess.UserID] = sess
	total := len(r.sessions)
	r.mu.Unlock()

	if replaced != nil {
		replaced.Close()
		r.logger.Info("session replaced",
			"user_id", sess.UserID,
			"old_session", replaced.ID,
			"new_session", sess.ID,
		)
		return replaced
	}

	r.logger.Info("=== USER CONNECTED ===",
		"user_id", sess.UserID,
		"session_id", sess.ID,
		"total_online", total,
	)
	return nil
}

// Unregister removes the user's session only if the given session ID still
// holds the slot. A stale disconnect from a superseded connection leaves the
// current session alone. Returns true if a session was removed.
func (r *Registry) Unregister(userID int64, sessionID string) bool {
	sess, ok := r.removeIf(userID, sessionID)
	if !ok {
		return false
	}

	sess.Close()
	r.logger.Info("=== USER DISCONNECTED ===",
		"user_id", userID,
		"session_id", sessionID,
		"total_online", r.Len(),
	)
	return true
}

// Evict removes and closes a session that failed to accept an event.
// Same matching rule as Unregister. Returns true if a session was removed.
func (r *Registry) Evict(userID int64, sessionID string) bool {
	sess, ok := r.removeIf(userID, sessionID)
	if !ok {
		return false
	}

	sess.Close()
	r.logger.Warn("evicted unresponsive session",
		"user_id", userID,
		"session_id", sessionID,
	)
	return true
}

// removeIf deletes the user's entry when the session ID matches.
func (r *Registry) removeIf(userID int64, sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[userID]
	if !ok || sess.ID != sessionID {
		return nil, false
	}
	delete(r.sessions, userID)
	return sess, true
}

// Get returns the user's live session, if any.
func (r *Registry) Get(userID int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[userID]
	return sess, ok
}

// Send queues an event for the user's live session. Returns ErrNotConnected
// when the user is offline; other errors come from the session itself.
func (r *Registry) Send(userID int64, evt any) error {
	sess, ok := r.Get(userID)
	if !ok {
		return ErrNotConnected
	}
	return sess.Send(evt)
}

// IsOnline checks whether the user currently has a live session.
func (r *Registry) IsOnline(userID int64) bool {
	_, ok := r.Get(userID)
	return ok
}

// Sessions returns the live sessions, copied out so callers can send without
// holding the registry lock.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// Snapshot returns the IDs of all connected users in ascending order.
func (r *Registry) Snapshot() []int64 {
	r.mu.RLock()
	ids := lo.Keys(r.sessions)
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Len returns the number of connected users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
