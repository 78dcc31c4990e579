// ABOUTME: Central layer for resolving conversations and routing messages
// ABOUTME: Messages are persisted first; the recipient push is best effort and never fails a send

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/courier/internal/event"
	"github.com/2389/courier/internal/session"
	"github.com/2389/courier/internal/store"
)

// Service errors
var (
	// ErrSelfMessage indicates sender and recipient are the same user.
	ErrSelfMessage = errors.New("cannot message yourself")
	// ErrEmptyContent indicates a message with no usable body.
	ErrEmptyContent = errors.New("message content is empty")
	// ErrContentTooLong indicates the body exceeds the configured limit.
	ErrContentTooLong = errors.New("message content too long")
	// ErrRecipientNotFound indicates the target user does not exist.
	ErrRecipientNotFound = errors.New("recipient not found")
	// ErrMissingRecipient indicates a send named neither an ID nor a username.
	ErrMissingRecipient = errors.New("recipient is required")
	// ErrNotParticipant indicates the caller has no access to the conversation.
	ErrNotParticipant = errors.New("not a conversation participant")
)

// Message list paging
const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200

	defaultMaxContent = 4096
)

// MessageStore defines what the service needs from storage
type MessageStore interface {
	EnsureUser(ctx context.Context, username string) (*store.User, error)
	GetUser(ctx context.Context, id int64) (*store.User, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)

	CreateConversation(ctx context.Context, participantA, participantB int64) (*store.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*store.Conversation, error)
	GetConversationByParticipants(ctx context.Context, participantA, participantB int64) (*store.Conversation, error)

	CreateMessage(ctx context.Context, msg *store.Message) error
	GetMessage(ctx context.Context, id int64) (*store.Message, error)
	ListConversationMessages(ctx context.Context, conversationID int64, limit int) ([]*store.Message, error)
	UpdateMessageStatus(ctx context.Context, id int64, status string) error
	ListConversationSummaries(ctx context.Context, userID int64) ([]*store.ConversationSummary, error)
}

// Pusher defines what the service needs from the presence layer
type Pusher interface {
	Push(userID int64, evt any) error
}

// Service resolves conversations and routes messages between users.
// The persisted record is the source of truth: the sender gets it back as
// the call's return value, and the recipient gets the same record pushed if
// they are connected.
type Service struct {
	store      MessageStore
	pusher     Pusher
	maxContent int
	logger     *slog.Logger
}

// New creates a conversation service. maxContent caps message bodies in
// bytes; pass 0 for the default. Pass nil logger for default.
func New(st MessageStore, pusher Pusher, maxContent int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if maxContent <= 0 {
		maxContent = defaultMaxContent
	}
	return &Service{
		store:      st,
		pusher:     pusher,
		maxContent: maxContent,
		logger:     logger.With("component", "conversation"),
	}
}

// OrderPair returns a participant pair in canonical order, lower ID first.
// Conversations are stored under the canonical order so the pair (a, b) and
// (b, a) always resolve to the same row.
func OrderPair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// SyncUser creates the local row for a username on first sight and returns
// the existing row afterwards.
func (s *Service) SyncUser(ctx context.Context, username string) (*store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	return s.store.EnsureUser(ctx, username)
}

// GetUser returns a user by ID.
func (s *Service) GetUser(ctx context.Context, id int64) (*store.User, error) {
	return s.store.GetUser(ctx, id)
}

// GetUserByUsername returns a user by exact username.
func (s *Service) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.store.GetUserByUsername(ctx, username)
}

// Resolve returns the conversation for a user pair, creating it on first
// contact. Concurrent first messages race on the insert; the loser re-reads
// the row the winner created, so both sides end up with the same
// conversation.
func (s *Service) Resolve(ctx context.Context, userA, userB int64) (*store.Conversation, error) {
	a, b := OrderPair(userA, userB)

	conv, err := s.store.GetConversationByParticipants(ctx, a, b)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}

	conv, err = s.store.CreateConversation(ctx, a, b)
	if err != nil {
		// Another request may have created the conversation between our
		// lookup and insert attempt
		if errors.Is(err, store.ErrDuplicateConversation) {
			conv, lookupErr := s.store.GetConversationByParticipants(ctx, a, b)
			if lookupErr == nil {
				s.logger.Debug("found existing conversation after race", "conversation_id", conv.ID)
				return conv, nil
			}
			return nil, fmt.Errorf("re-reading conversation after race: %w", lookupErr)
		}
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	return conv, nil
}

// SendRequest contains everything needed to route a message
type SendRequest struct {
	SenderID int64

	// Recipient by ID, or by username when ID is zero
	RecipientID       int64
	RecipientUsername string

	Content string
}

// SendMessage validates the request, resolves the conversation, persists the
// message, and pushes it to the recipient if they are connected. The
// returned record is identical to what the recipient receives; the sender's
// own copy is this return value, never a push.
//
// A failed push is logged and never fails the send: the message is already
// durable, and the recipient will see it on their next history fetch.
func (s *Service) SendMessage(ctx context.Context, req *SendRequest) (*store.Message, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyContent
	}
	if len(req.Content) > s.maxContent {
		return nil, ErrContentTooLong
	}

	recipient, err := s.resolveRecipient(ctx, req)
	if err != nil {
		return nil, err
	}
	if recipient.ID == req.SenderID {
		return nil, ErrSelfMessage
	}

	conv, err := s.Resolve(ctx, req.SenderID, recipient.ID)
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		SenderID:       req.SenderID,
		Content:        req.Content,
		Status:         store.MessageStatusSent,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("saving message: %w", err)
	}

	s.logger.Debug("message routed",
		"message_id", msg.ID,
		"conversation_id", conv.ID,
		"sender_id", req.SenderID,
		"recipient_id", recipient.ID,
	)

	s.pushToRecipient(recipient.ID, msg)
	return msg, nil
}

// resolveRecipient looks up the target user by ID or username.
func (s *Service) resolveRecipient(ctx context.Context, req *SendRequest) (*store.User, error) {
	switch {
	case req.RecipientID != 0:
		u, err := s.store.GetUser(ctx, req.RecipientID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrRecipientNotFound
			}
			return nil, fmt.Errorf("looking up recipient: %w", err)
		}
		return u, nil

	case req.RecipientUsername != "":
		u, err := s.store.GetUserByUsername(ctx, req.RecipientUsername)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrRecipientNotFound
			}
			return nil, fmt.Errorf("looking up recipient: %w", err)
		}
		return u, nil

	default:
		return nil, ErrMissingRecipient
	}
}

// pushToRecipient delivers the stored message to the recipient's live
// session, if any. Best effort only.
func (s *Service) pushToRecipient(recipientID int64, msg *store.Message) {
	evt := event.NewMessageEvent(WireMessage(msg))
	if err := s.pusher.Push(recipientID, evt); err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			s.logger.Debug("recipient offline, message stored",
				"message_id", msg.ID,
				"recipient_id", recipientID,
			)
			return
		}
		s.logger.Warn("push to recipient failed",
			"message_id", msg.ID,
			"recipient_id", recipientID,
			"error", err,
		)
	}
}

// WireMessage converts a stored message into the shape clients see, both in
// HTTP responses and in new_message pushes.
func WireMessage(m *store.Message) event.Message {
	return event.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Timestamp:      m.CreatedAt.UTC().Format(time.RFC3339),
		Status:         m.Status,
	}
}

// Messages returns a window of a conversation's history, oldest first. Only
// participants may read it. limit <= 0 falls back to the default window.
func (s *Service) Messages(ctx context.Context, userID, conversationID int64, limit int) ([]*store.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.ParticipantAID != userID && conv.ParticipantBID != userID {
		return nil, ErrNotParticipant
	}

	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	return s.store.ListConversationMessages(ctx, conversationID, limit)
}

// Summaries returns the user's conversation list, most recently active
// first.
func (s *Service) Summaries(ctx context.Context, userID int64) ([]*store.ConversationSummary, error) {
	return s.store.ListConversationSummaries(ctx, userID)
}

// UpdateStatus advances a message's delivery status on behalf of its
// recipient. Only the participant the message was sent to may move it, and
// only forward; the store rejects regressions.
func (s *Service) UpdateStatus(ctx context.Context, userID, messageID int64, status string) error {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}

	conv, err := s.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return err
	}

	recipient := conv.ParticipantAID
	if recipient == msg.SenderID {
		recipient = conv.ParticipantBID
	}
	if userID != recipient {
		return ErrNotParticipant
	}

	return s.store.UpdateMessageStatus(ctx, messageID, status)
}
