// ABOUTME: Client-side view of conversations, presence, and the active message list
// ABOUTME: Merges push events with REST fetches; message-ID dedup keeps pushes idempotent

package client

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/2389/courier/internal/dedupe"
	"github.com/2389/courier/internal/event"
)

const (
	defaultRefreshEvery = 30 * time.Second
	summaryFetchTimeout = 10 * time.Second

	seenTTL = time.Hour
	seenCap = 4096
)

// Merge returns the message list with msg appended, unless a message with
// the same ID is already present. The input slice is never mutated: the
// duplicate case returns it as-is, the append case returns a copy.
func Merge(msgs []event.Message, msg event.Message) []event.Message {
	for _, m := range msgs {
		if m.ID == msg.ID {
			return msgs
		}
	}

	out := make([]event.Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, msg)
}

// Fetcher defines what the state store needs from the gateway API
type Fetcher interface {
	Conversations(ctx context.Context) ([]Summary, error)
	Messages(ctx context.Context, conversationID int64, limit int) ([]event.Message, error)
}

// StateStore reconciles push events and REST responses into one consistent
// local view: the conversation summary list, the online set, and the
// message list of the currently active conversation.
//
// The sender's own messages arrive through the synchronous send call while
// the same record may also reach the store as a push; dedup by message ID
// makes applying either order safe. A periodic summary refresh backstops
// missed or reordered pushes.
type StateStore struct {
	fetcher      Fetcher
	refreshEvery time.Duration
	logger       *slog.Logger

	seen *dedupe.Seen

	mu        sync.RWMutex
	activeID  int64
	messages  []event.Message
	online    map[int64]struct{}
	summaries []Summary

	done   chan struct{}
	closed bool
}

// NewStateStore creates a state store that refreshes the summary list every
// refreshEvery. Zero uses the default interval. Pass nil logger for
// default.
func NewStateStore(fetcher Fetcher, refreshEvery time.Duration, logger *slog.Logger) *StateStore {
	if logger == nil {
		logger = slog.Default()
	}
	if refreshEvery <= 0 {
		refreshEvery = defaultRefreshEvery
	}

	s := &StateStore{
		fetcher:      fetcher,
		refreshEvery: refreshEvery,
		logger:       logger.With("component", "state"),
		seen:         dedupe.NewSeen(seenTTL, seenCap),
		online:       make(map[int64]struct{}),
		done:         make(chan struct{}),
	}
	go s.refreshLoop()
	return s
}

// Apply folds one push event into the view and reports whether it changed
// anything. Duplicate pushes and greeting frames return false, so a UI can
// use the result to decide whether to render. Safe for concurrent use with
// the accessors.
func (s *StateStore) Apply(evt any) bool {
	switch e := evt.(type) {
	case *event.NewMessage:
		return s.applyMessage(e.Message)
	case *event.UserStatus:
		return s.applyStatus(e)
	case *event.OnlineUsers:
		s.applyRoster(e.Users)
		return true
	case *event.ConnectionEstablished:
		// Greeting only; the roster follows in online_users
		return false
	default:
		s.logger.Debug("ignoring unhandled event", "type", fmt.Sprintf("%T", evt))
		return false
	}
}

// applyMessage appends a pushed message to the active list, or schedules a
// summary refresh when it belongs to another conversation.
func (s *StateStore) applyMessage(msg event.Message) bool {
	if s.seen.Observe(msg.ID) {
		s.logger.Debug("dropping duplicate push", "message_id", msg.ID)
		return false
	}

	s.mu.Lock()
	if s.activeID != 0 && msg.ConversationID == s.activeID {
		s.messages = Merge(s.messages, msg)
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	go s.refreshSummaries()
	return true
}

func (s *StateStore) applyStatus(e *event.UserStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Status {
	case event.StatusOnline:
		if _, ok := s.online[e.UserID]; ok {
			return false
		}
		s.online[e.UserID] = struct{}{}
		return true
	case event.StatusOffline:
		if _, ok := s.online[e.UserID]; !ok {
			return false
		}
		delete(s.online, e.UserID)
		return true
	default:
		return false
	}
}

// applyRoster replaces the online set wholesale. Only the connection
// greeting carries a full roster.
func (s *StateStore) applyRoster(users []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.online = make(map[int64]struct{}, len(users))
	for _, id := range users {
		s.online[id] = struct{}{}
	}
}

// SetActive selects the conversation whose message list the store tracks
// and loads its history. Pass 0 to deselect.
func (s *StateStore) SetActive(ctx context.Context, conversationID int64) error {
	if conversationID == 0 {
		s.mu.Lock()
		s.activeID = 0
		s.messages = nil
		s.mu.Unlock()
		return nil
	}

	msgs, err := s.fetcher.Messages(ctx, conversationID, 0)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}

	s.mu.Lock()
	s.activeID = conversationID
	s.messages = msgs
	s.mu.Unlock()
	return nil
}

// Active returns the selected conversation ID, 0 when none.
func (s *StateStore) Active() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Messages returns a copy of the active conversation's message list, oldest
// first.
func (s *StateStore) Messages() []event.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// Online returns the online user IDs in ascending order.
func (s *StateStore) Online() []int64 {
	s.mu.RLock()
	ids := lo.Keys(s.online)
	s.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// IsOnline reports whether a user is in the online set.
func (s *StateStore) IsOnline(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.online[userID]
	return ok
}

// Summaries returns a copy of the conversation summary list.
func (s *StateStore) Summaries() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.summaries)
}

// RefreshSummaries fetches the conversation list and replaces the cached
// copy.
func (s *StateStore) RefreshSummaries(ctx context.Context) error {
	summaries, err := s.fetcher.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("refreshing conversations: %w", err)
	}

	s.mu.Lock()
	s.summaries = summaries
	s.mu.Unlock()
	return nil
}

// refreshSummaries is the fire-and-forget variant used from event handling
// and the periodic loop.
func (s *StateStore) refreshSummaries() {
	ctx, cancel := context.WithTimeout(context.Background(), summaryFetchTimeout)
	defer cancel()

	if err := s.RefreshSummaries(ctx); err != nil {
		s.logger.Warn("summary refresh failed", "error", err)
	}
}

// refreshLoop refreshes the summary list on a fixed interval until Close.
func (s *StateStore) refreshLoop() {
	ticker := time.NewTicker(s.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.refreshSummaries()
		case <-s.done:
			return
		}
	}
}

// Close stops the periodic refresh. Safe to call multiple times.
func (s *StateStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
		s.seen.Close()
	}
}
