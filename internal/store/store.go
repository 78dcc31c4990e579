// ABOUTME: Store interface and data types for courier persistence
// ABOUTME: Defines User, Conversation, Message structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a conversation for the same
// participant pair already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrStatusRegression is returned when a message status update would move
// backwards (delivered to sent, read to delivered)
var ErrStatusRegression = errors.New("message status regression")

// ErrInvalidStatus is returned for a status value outside sent/delivered/read
var ErrInvalidStatus = errors.New("invalid message status")

// Message status values. Transitions are monotonic: sent -> delivered -> read.
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
)

// statusRank orders statuses for the monotonicity check.
var statusRank = map[string]int{
	MessageStatusSent:      0,
	MessageStatusDelivered: 1,
	MessageStatusRead:      2,
}

// User is the local read-through cache of an identity owned by the auth service
type User struct {
	ID        int64
	Username  string
	CreatedAt time.Time
}

// Conversation is the unique two-party thread for an unordered user pair.
// The lower user id is always stored as ParticipantAID.
type Conversation struct {
	ID             int64
	ParticipantAID int64
	ParticipantBID int64
	CreatedAt      time.Time
}

// Message is a single chat message. Content is immutable after creation;
// only Status may change, and only forward.
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	Content        string
	Status         string
	CreatedAt      time.Time
}

// ConversationSummary is one row of a user's conversation list: the
// conversation, the other participant, and the most recent message (nil for
// an empty conversation).
type ConversationSummary struct {
	Conversation *Conversation
	Other        *User
	LastMessage  *Message
}

// Store defines the interface for user, conversation and message persistence
type Store interface {
	// Users
	EnsureUser(ctx context.Context, username string) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// Conversations. CreateConversation expects a canonically ordered pair
	// (participantA < participantB) and returns ErrDuplicateConversation when
	// the pair already has a row.
	CreateConversation(ctx context.Context, participantA, participantB int64) (*Conversation, error)
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	GetConversationByParticipants(ctx context.Context, participantA, participantB int64) (*Conversation, error)

	// Messages
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id int64) (*Message, error)
	ListConversationMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error)
	UpdateMessageStatus(ctx context.Context, id int64, status string) error
	ListConversationSummaries(ctx context.Context, userID int64) ([]*ConversationSummary, error)

	// Ping reports whether the backing database answers queries
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
