// ABOUTME: HTTP API handlers for messages, conversations, and user lookups
// ABOUTME: Maps service errors onto HTTP statuses and writes JSON responses

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/courier/internal/auth"
	"github.com/2389/courier/internal/conversation"
	"github.com/2389/courier/internal/event"
	"github.com/2389/courier/internal/store"
)

// SendMessageRequest is the JSON request body for POST /api/messages.
// Exactly one of RecipientID or RecipientUsername must be set.
type SendMessageRequest struct {
	RecipientID       int64  `json:"recipient_id,omitempty"`
	RecipientUsername string `json:"recipient_username,omitempty"`
	Content           string `json:"content"`
}

// UpdateStatusRequest is the JSON request body for PATCH /api/messages/{id}/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// SyncUserRequest is the JSON request body for POST /api/users/sync.
type SyncUserRequest struct {
	Username string `json:"username"`
}

// UserResponse is the JSON shape of a user in API responses.
type UserResponse struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at"`
}

// ConversationResponse is the JSON shape of a conversation in API responses.
type ConversationResponse struct {
	ID             int64  `json:"id"`
	ParticipantAID int64  `json:"participant_a_id"`
	ParticipantBID int64  `json:"participant_b_id"`
	CreatedAt      string `json:"created_at"`
}

// SummaryResponse is one element of the GET /api/conversations response.
type SummaryResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	Other        UserResponse         `json:"other"`
	LastMessage  *event.Message       `json:"last_message"`
}

func userResponse(u *store.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func conversationResponse(c *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:             c.ID,
		ParticipantAID: c.ParticipantAID,
		ParticipantBID: c.ParticipantBID,
		CreatedAt:      c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func summaryResponse(s *store.ConversationSummary) SummaryResponse {
	resp := SummaryResponse{
		Conversation: conversationResponse(s.Conversation),
		Other:        userResponse(s.Other),
	}
	if s.LastMessage != nil {
		m := conversation.WireMessage(s.LastMessage)
		resp.LastMessage = &m
	}
	return resp
}

// parseSendRequest decodes and validates the send-message body.
func parseSendRequest(r io.Reader) (*SendMessageRequest, error) {
	var req SendMessageRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.Content == "" {
		return nil, errors.New("content is required")
	}
	return &req, nil
}

// parseStatusRequest decodes and validates the status-update body.
func parseStatusRequest(r io.Reader) (*UpdateStatusRequest, error) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.Status == "" {
		return nil, errors.New("status is required")
	}
	return &req, nil
}

// parseSyncRequest decodes and validates the user-sync body.
func parseSyncRequest(r io.Reader) (*SyncUserRequest, error) {
	var req SyncUserRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if strings.TrimSpace(req.Username) == "" {
		return nil, errors.New("username is required")
	}
	return &req, nil
}

// sendJSONError writes a JSON error response with the given status code.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes v as a JSON response with the given status code.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("encoding response", "error", err)
	}
}

// writeServiceError maps service and store errors onto HTTP statuses.
func (g *Gateway) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrEmptyContent),
		errors.Is(err, conversation.ErrContentTooLong),
		errors.Is(err, conversation.ErrSelfMessage),
		errors.Is(err, conversation.ErrMissingRecipient),
		errors.Is(err, store.ErrInvalidStatus):
		sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrNotParticipant):
		sendJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, conversation.ErrRecipientNotFound),
		errors.Is(err, store.ErrNotFound):
		sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrStatusRegression):
		sendJSONError(w, http.StatusConflict, err.Error())
	default:
		g.logger.Error("request failed", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// handleSendMessage delivers a direct message to another user.
//
// Responsibilities:
//  1. Parse and validate the request body
//  2. Route the message through the conversation service, which persists it
//     and pushes it to the recipient's live session if one exists
//  3. Return the stored message, byte-for-byte the record the recipient sees
//     in the new_message push
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	req, err := parseSendRequest(r.Body)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := g.conversation.SendMessage(r.Context(), &conversation.SendRequest{
		SenderID:          authCtx.UserID,
		RecipientID:       req.RecipientID,
		RecipientUsername: req.RecipientUsername,
		Content:           req.Content,
	})
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	g.writeJSON(w, http.StatusCreated, conversation.WireMessage(msg))
}

// handleListConversations returns the caller's conversation summaries.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	summaries, err := g.conversation.Summaries(r.Context(), authCtx.UserID)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	resp := make([]SummaryResponse, 0, len(summaries))
	for _, s := range summaries {
		resp = append(resp, summaryResponse(s))
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleConversationMessages returns a window of one conversation's history,
// oldest first. Participants only.
func (g *Gateway) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	conversationID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			sendJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	msgs, err := g.conversation.Messages(r.Context(), authCtx.UserID, conversationID, limit)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	resp := make([]event.Message, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, conversation.WireMessage(m))
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleUpdateMessageStatus advances a message's delivery status. Only the
// recipient may advance it, and only forward.
func (g *Gateway) handleUpdateMessageStatus(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	messageID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	req, err := parseStatusRequest(r.Body)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := g.conversation.UpdateStatus(r.Context(), authCtx.UserID, messageID, req.Status); err != nil {
		g.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSyncUser creates the row for a username if it does not exist yet and
// returns it either way.
func (g *Gateway) handleSyncUser(w http.ResponseWriter, r *http.Request) {
	req, err := parseSyncRequest(r.Body)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := g.conversation.SyncUser(r.Context(), req.Username)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, userResponse(user))
}

// handleGetUser looks up a user by ID.
func (g *Gateway) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := g.conversation.GetUser(r.Context(), userID)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, userResponse(user))
}

// handleGetUserByUsername looks up a user by exact username.
func (g *Gateway) handleGetUserByUsername(w http.ResponseWriter, r *http.Request) {
	user, err := g.conversation.GetUserByUsername(r.Context(), r.PathValue("username"))
	if err != nil {
		g.writeServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, userResponse(user))
}
