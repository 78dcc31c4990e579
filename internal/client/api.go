// ABOUTME: HTTP API client for the courier gateway
// ABOUTME: Wraps the REST surface chat clients use: send, history, conversations, status

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/courier/internal/event"
)

// API errors mapped from gateway status codes
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// User is the gateway's user representation.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Conversation is the gateway's conversation representation.
type Conversation struct {
	ID             int64  `json:"id"`
	ParticipantAID int64  `json:"participant_a_id"`
	ParticipantBID int64  `json:"participant_b_id"`
	CreatedAt      string `json:"created_at"`
}

// Summary is one entry in the conversation list: the conversation, the other
// participant, and the last message if any.
type Summary struct {
	Conversation Conversation   `json:"conversation"`
	Other        User           `json:"other"`
	LastMessage  *event.Message `json:"last_message,omitempty"`
}

// SendMessageRequest is the request body for POST /api/messages. Address the
// recipient by ID, or by username when ID is zero.
type SendMessageRequest struct {
	RecipientID       int64  `json:"recipient_id,omitempty"`
	RecipientUsername string `json:"recipient_username,omitempty"`
	Content           string `json:"content"`
}

// APIClient communicates with the courier gateway HTTP API.
type APIClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewAPIClient creates a gateway API client. token may be empty for
// unauthenticated calls such as Health.
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// SendMessage sends a message and returns the persisted record. This return
// value is the sender's only copy; the gateway never pushes a message back
// to its own sender.
func (c *APIClient) SendMessage(ctx context.Context, req SendMessageRequest) (*event.Message, error) {
	var msg event.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Conversations lists the caller's conversations, most recently active
// first.
func (c *APIClient) Conversations(ctx context.Context) ([]Summary, error) {
	var summaries []Summary
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// Messages fetches a conversation's history, oldest first. limit <= 0 uses
// the gateway default window.
func (c *APIClient) Messages(ctx context.Context, conversationID int64, limit int) ([]event.Message, error) {
	path := fmt.Sprintf("/api/conversations/%d/messages", conversationID)
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}

	var msgs []event.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkStatus advances a message's delivery status.
func (c *APIClient) MarkStatus(ctx context.Context, messageID int64, status string) error {
	body := struct {
		Status string `json:"status"`
	}{Status: status}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/messages/%d/status", messageID), body, nil)
}

// SyncUser creates or fetches a user by username.
func (c *APIClient) SyncUser(ctx context.Context, username string) (*User, error) {
	body := struct {
		Username string `json:"username"`
	}{Username: username}

	var user User
	if err := c.do(ctx, http.MethodPost, "/api/users/sync", body, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUser fetches a user by ID.
func (c *APIClient) GetUser(ctx context.Context, id int64) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/users/%d", id), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByUsername fetches a user by username.
func (c *APIClient) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	path := "/api/users/username/" + url.PathEscape(username)
	if err := c.do(ctx, http.MethodGet, path, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Health checks gateway liveness.
func (c *APIClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// do runs one JSON request/response round trip against the gateway.
func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.errorFromResponse(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errorFromResponse maps a non-2xx response onto the package error
// sentinels, keeping the gateway's message for context.
func (c *APIClient) errorFromResponse(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	msg := strings.TrimSpace(string(data))
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}

	var base error
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		base = ErrUnauthorized
	case http.StatusForbidden:
		base = ErrForbidden
	case http.StatusNotFound:
		base = ErrNotFound
	case http.StatusConflict:
		base = ErrConflict
	default:
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, msg)
	}
	return fmt.Errorf("%w: %s", base, msg)
}

// WSEndpoint converts an HTTP base URL into the websocket endpoint for a
// user's push channel.
func WSEndpoint(baseURL string, userID int64, token string) string {
	ws := strings.TrimSuffix(baseURL, "/")
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return fmt.Sprintf("%s/ws/%d?token=%s", ws, userID, url.QueryEscape(token))
}
