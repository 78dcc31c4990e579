// ABOUTME: Presence fan-out for user connect/disconnect transitions
// ABOUTME: Greets new connections and announces status changes to everyone else

package presence

import (
	"log/slog"
	"sync"

	"github.com/2389/courier/internal/event"
	"github.com/2389/courier/internal/session"
)

// Broadcaster turns registry transitions into presence events. A single
// mutex serializes connects, disconnects, and pushes so that the roster a
// new connection receives is consistent with the status broadcasts its peers
// see.
type Broadcaster struct {
	mu       sync.Mutex
	registry *session.Registry
	logger   *slog.Logger
}

// NewBroadcaster creates a broadcaster over the given registry.
// Pass nil logger for default.
func NewBroadcaster(registry *session.Registry, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		registry: registry,
		logger:   logger.With("component", "presence"),
	}
}

// Connected installs the session as the user's live connection and runs the
// connect protocol: the new connection privately receives the handshake and
// the online roster, in that order, and everyone else is told the user came
// online. A connection that merely replaces an existing one for the same user
// is not announced, since peers already see the user as online.
func (b *Broadcaster) Connected(sess *session.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()

	replaced := b.registry.Register(sess)
	online := b.registry.Snapshot()

	if err := b.greet(sess, online); err != nil {
		// The connection died before the handshake. Take it back out, and
		// if it had replaced a live session, the user just went offline.
		b.logger.Debug("greeting failed", "user_id", sess.UserID, "error", err)
		if b.registry.Evict(sess.UserID, sess.ID) && replaced != nil {
			b.broadcastOffline(sess.UserID)
		}
		return
	}

	if replaced != nil {
		return
	}

	b.broadcast(event.NewUserStatus(sess.UserID, event.StatusOnline), sess.UserID)
}

// Disconnected removes the user's session if the handle still matches and
// announces the user offline. A stale handle from a superseded connection
// changes nothing.
func (b *Broadcaster) Disconnected(userID int64, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.registry.Unregister(userID, sessionID) {
		return
	}
	b.broadcastOffline(userID)
}

// Push delivers an event to a single user. Returns session.ErrNotConnected
// when the user is offline. A session that fails to accept the event is
// evicted and announced offline.
func (b *Broadcaster) Push(userID int64, evt any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sess, ok := b.registry.Get(userID)
	if !ok {
		return session.ErrNotConnected
	}

	if err := sess.Send(evt); err != nil {
		if b.registry.Evict(userID, sess.ID) {
			b.broadcastOffline(userID)
		}
		return err
	}
	return nil
}

// greet sends the private connect events to a new session.
func (b *Broadcaster) greet(sess *session.Session, online []int64) error {
	if err := sess.Send(event.NewConnectionEstablished(sess.UserID)); err != nil {
		return err
	}
	return sess.Send(event.NewOnlineUsers(online))
}

// broadcast fans an event out to every live session except the subject's.
// Sessions that fail to accept the event are evicted, then announced
// offline. Each eviction shrinks the registry, so the cascade terminates.
// Callers must hold b.mu.
func (b *Broadcaster) broadcast(evt any, excludeUserID int64) {
	var evicted []*session.Session
	for _, sess := range b.registry.Sessions() {
		if sess.UserID == excludeUserID {
			continue
		}
		if err := sess.Send(evt); err != nil {
			b.logger.Debug("fan-out failed", "user_id", sess.UserID, "error", err)
			if b.registry.Evict(sess.UserID, sess.ID) {
				evicted = append(evicted, sess)
			}
		}
	}

	for _, sess := range evicted {
		b.broadcastOffline(sess.UserID)
	}
}

// broadcastOffline announces that a user went offline. Callers must hold b.mu.
func (b *Broadcaster) broadcastOffline(userID int64) {
	b.broadcast(event.NewUserStatus(userID, event.StatusOffline), userID)
}
