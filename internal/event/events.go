// ABOUTME: Wire shapes for server-to-client push events, tagged by a type field
// ABOUTME: Shared by the gateway (encode) and the client channel (decode)

package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Push event types sent over a user's channel.
const (
	TypeConnectionEstablished = "connection_established"
	TypeOnlineUsers           = "online_users"
	TypeUserStatus            = "user_status"
	TypeNewMessage            = "new_message"
)

// Presence statuses carried by user_status events.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ErrUnknownType is returned by Decode for an unrecognized event type.
var ErrUnknownType = errors.New("unknown event type")

// Base is the envelope every push event shares.
type Base struct {
	Type string `json:"type"`
}

// ConnectionEstablished confirms the channel to the newly connected user.
type ConnectionEstablished struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
}

// OnlineUsers carries the full presence snapshot, sent privately to a new channel.
type OnlineUsers struct {
	Type  string  `json:"type"`
	Users []int64 `json:"users"`
}

// UserStatus announces one user's presence transition to its peers.
type UserStatus struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
	Status string `json:"status"`
}

// Message is the wire form of a persisted chat message.
type Message struct {
	ID             int64  `json:"id"`
	ConversationID int64  `json:"conversation_id"`
	SenderID       int64  `json:"sender_id"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
	Status         string `json:"status"`
}

// NewMessage delivers a live copy of a message to its recipient.
type NewMessage struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// NewConnectionEstablished builds a connection_established event.
func NewConnectionEstablished(userID int64) *ConnectionEstablished {
	return &ConnectionEstablished{Type: TypeConnectionEstablished, UserID: userID}
}

// NewOnlineUsers builds an online_users snapshot event.
func NewOnlineUsers(users []int64) *OnlineUsers {
	return &OnlineUsers{Type: TypeOnlineUsers, Users: users}
}

// NewUserStatus builds a user_status event.
func NewUserStatus(userID int64, status string) *UserStatus {
	return &UserStatus{Type: TypeUserStatus, UserID: userID, Status: status}
}

// NewMessageEvent wraps a message payload in a new_message event.
func NewMessageEvent(msg Message) *NewMessage {
	return &NewMessage{Type: TypeNewMessage, Message: msg}
}

// Decode parses a raw push frame into its typed event struct.
// Returns ErrUnknownType (wrapped) for types this package does not know.
func Decode(data []byte) (any, error) {
	var base Base
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("decoding event envelope: %w", err)
	}

	switch base.Type {
	case TypeConnectionEstablished:
		var e ConnectionEstablished
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", base.Type, err)
		}
		return &e, nil
	case TypeOnlineUsers:
		var e OnlineUsers
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", base.Type, err)
		}
		return &e, nil
	case TypeUserStatus:
		var e UserStatus
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", base.Type, err)
		}
		return &e, nil
	case TypeNewMessage:
		var e NewMessage
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", base.Type, err)
		}
		return &e, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, base.Type)
	}
}
