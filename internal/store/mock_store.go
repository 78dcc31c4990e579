// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// pairKey identifies a conversation by its ordered participant pair.
type pairKey struct {
	a, b int64
}

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[int64]*User         // keyed by user ID
	usersByName   map[string]int64        // keyed by username -> user ID
	conversations map[int64]*Conversation // keyed by conversation ID
	convByPair    map[pairKey]int64       // keyed by participant pair -> conversation ID
	messages      map[int64]*Message      // keyed by message ID

	nextUserID    int64
	nextConvID    int64
	nextMessageID int64
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[int64]*User),
		usersByName:   make(map[string]int64),
		conversations: make(map[int64]*Conversation),
		convByPair:    make(map[pairKey]int64),
		messages:      make(map[int64]*Message),
	}
}

// EnsureUser returns the user with the given username, creating it on first use.
func (m *MockStore) EnsureUser(ctx context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.usersByName[username]; ok {
		result := *m.users[id]
		return &result, nil
	}

	m.nextUserID++
	user := &User{
		ID:        m.nextUserID,
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	m.users[user.ID] = user
	m.usersByName[username] = user.ID

	// Return a copy
	result := *user
	return &result, nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := *u
	return &result, nil
}

// GetUserByUsername retrieves a user by username.
func (m *MockStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.usersByName[username]
	if !ok {
		return nil, ErrNotFound
	}

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := *u
	return &result, nil
}

// CreateConversation stores a conversation for a canonically ordered pair.
// Returns ErrDuplicateConversation if the pair already has one.
func (m *MockStore) CreateConversation(ctx context.Context, participantA, participantB int64) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey{participantA, participantB}
	if _, exists := m.convByPair[key]; exists {
		return nil, ErrDuplicateConversation
	}

	m.nextConvID++
	conv := &Conversation{
		ID:             m.nextConvID,
		ParticipantAID: participantA,
		ParticipantBID: participantB,
		CreatedAt:      time.Now().UTC(),
	}
	m.conversations[conv.ID] = conv
	m.convByPair[key] = conv.ID

	// Return a copy
	result := *conv
	return &result, nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := *c
	return &result, nil
}

// GetConversationByParticipants retrieves the conversation for a canonically
// ordered participant pair.
func (m *MockStore) GetConversationByParticipants(ctx context.Context, participantA, participantB int64) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.convByPair[pairKey{participantA, participantB}]
	if !ok {
		return nil, ErrNotFound
	}

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := *c
	return &result, nil
}

// CreateMessage stores a message and fills in its generated ID.
func (m *MockStore) CreateMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.Status == "" {
		msg.Status = MessageStatusSent
	}
	if _, ok := statusRank[msg.Status]; !ok {
		return ErrInvalidStatus
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	m.nextMessageID++
	msg.ID = m.nextMessageID

	// Make a copy to avoid external modification
	msgCopy := *msg
	m.messages[msgCopy.ID] = &msgCopy

	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := *msg
	return &result, nil
}

// ListConversationMessages retrieves messages for a conversation in
// chronological order, windowed to the most recent `limit` when limit > 0.
// Mirrors SQLiteStore behavior.
func (m *MockStore) ListConversationMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			msgCopy := *msg
			result = append(result, &msgCopy)
		}
	}

	// Sort by ID ascending to match SQLiteStore ordering
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	// Keep the most recent N
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}

	return result, nil
}

// UpdateMessageStatus moves a message's status forward.
// Mirrors SQLiteStore behavior: repeats are no-ops, backwards moves return
// ErrStatusRegression.
func (m *MockStore) UpdateMessageStatus(ctx context.Context, id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rank, ok := statusRank[status]
	if !ok {
		return ErrInvalidStatus
	}

	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}

	current := statusRank[msg.Status]
	if rank == current {
		return nil
	}
	if rank < current {
		return ErrStatusRegression
	}

	msg.Status = status
	return nil
}

// ListConversationSummaries returns the user's conversations with the other
// participant and last message, ordered by most recent activity.
func (m *MockStore) ListConversationSummaries(ctx context.Context, userID int64) ([]*ConversationSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var summaries []*ConversationSummary
	for _, c := range m.conversations {
		if c.ParticipantAID != userID && c.ParticipantBID != userID {
			continue
		}

		otherID := c.ParticipantAID
		if otherID == userID {
			otherID = c.ParticipantBID
		}
		other, ok := m.users[otherID]
		if !ok {
			continue
		}

		// Find the most recent message by ID
		var last *Message
		for _, msg := range m.messages {
			if msg.ConversationID != c.ID {
				continue
			}
			if last == nil || msg.ID > last.ID {
				last = msg
			}
		}

		convCopy := *c
		otherCopy := *other
		summary := &ConversationSummary{
			Conversation: &convCopy,
			Other:        &otherCopy,
		}
		if last != nil {
			lastCopy := *last
			summary.LastMessage = &lastCopy
		}
		summaries = append(summaries, summary)
	}

	// Sort by most recent activity (last message time, falling back to
	// conversation creation), newest first
	sort.Slice(summaries, func(i, j int) bool {
		ti := summaries[i].Conversation.CreatedAt
		if summaries[i].LastMessage != nil {
			ti = summaries[i].LastMessage.CreatedAt
		}
		tj := summaries[j].Conversation.CreatedAt
		if summaries[j].LastMessage != nil {
			tj = summaries[j].LastMessage.CreatedAt
		}
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return summaries[i].Conversation.ID > summaries[j].Conversation.ID
	})

	return summaries, nil
}

// Ping is a no-op for MockStore.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// Verify MockStore implements Store interface at compile time.
var _ Store = (*MockStore)(nil)
