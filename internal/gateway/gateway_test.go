// ABOUTME: Tests for the gateway HTTP API and WebSocket endpoint
// ABOUTME: Exercises auth, message routing, status updates, and presence fan-out

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/courier/internal/config"
	"github.com/2389/courier/internal/event"
	"github.com/2389/courier/internal/store"
)

func TestHealthEndpoint(t *testing.T) {
	rig := newTestGateway(t)

	resp, err := http.Get(rig.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))
}

func TestReadyEndpoint(t *testing.T) {
	rig := newTestGateway(t)

	resp, err := http.Get(rig.server.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ready")
}

func TestSendMessage(t *testing.T) {
	rig := newTestGateway(t)

	resp := rig.doJSON(t, http.MethodPost, "/api/messages", rig.token(t, rig.alice.ID),
		SendMessageRequest{RecipientID: rig.bob.ID, Content: "hello bob"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	msg := decodeBody[event.Message](t, resp)
	assert.NotZero(t, msg.ID)
	assert.Equal(t, rig.alice.ID, msg.SenderID)
	assert.Equal(t, "hello bob", msg.Content)
	assert.Equal(t, store.MessageStatusSent, msg.Status)
	assert.NotEmpty(t, msg.Timestamp)

	stored, err := rig.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MessageStatusSent, stored.Status)
	assert.Equal(t, msg.ConversationID, stored.ConversationID)
}

func TestSendMessage_ByUsername(t *testing.T) {
	rig := newTestGateway(t)

	resp := rig.doJSON(t, http.MethodPost, "/api/messages", rig.token(t, rig.alice.ID),
		SendMessageRequest{RecipientUsername: "bob", Content: "hi"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	msg := decodeBody[event.Message](t, resp)
	assert.Equal(t, rig.alice.ID, msg.SenderID)
}

func TestSendMessage_RequiresAuth(t *testing.T) {
	rig := newTestGateway(t)

	resp := rig.doJSON(t, http.MethodPost, "/api/messages", "",
		SendMessageRequest{RecipientID: rig.bob.ID, Content: "hi"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = rig.doJSON(t, http.MethodPost, "/api/messages", "not-a-token",
		SendMessageRequest{RecipientID: rig.bob.ID, Content: "hi"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendMessage_Validation(t *testing.T) {
	rig := newTestGateway(t)
	token := rig.token(t, rig.alice.ID)

	tests := []struct {
		name       string
		req        SendMessageRequest
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing content",
			req:        SendMessageRequest{RecipientID: rig.bob.ID},
			wantStatus: http.StatusBadRequest,
			wantError:  "content is required",
		},
		{
			name:       "missing recipient",
			req:        SendMessageRequest{Content: "hi"},
			wantStatus: http.StatusBadRequest,
			wantError:  "recipient is required",
		},
		{
			name:       "unknown recipient",
			req:        SendMessageRequest{RecipientID: 9999, Content: "hi"},
			wantStatus: http.StatusNotFound,
			wantError:  "recipient not found",
		},
		{
			name:       "self message",
			req:        SendMessageRequest{RecipientID: rig.alice.ID, Content: "hi"},
			wantStatus: http.StatusBadRequest,
			wantError:  "cannot message yourself",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := rig.doJSON(t, http.MethodPost, "/api/messages", token, tt.req)
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			body := decodeBody[map[string]string](t, resp)
			assert.Equal(t, tt.wantError, body["error"])
		})
	}
}

func TestUpdateMessageStatus(t *testing.T) {
	rig := newTestGateway(t)

	resp := rig.doJSON(t, http.MethodPost, "/api/messages", rig.token(t, rig.alice.ID),
		SendMessageRequest{RecipientID: rig.bob.ID, Content: "hi"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := decodeBody[event.Message](t, resp)

	path := fmt.Sprintf("/api/messages/%d/status", msg.ID)

	// Recipient advances sent -> delivered -> read
	resp = rig.doJSON(t, http.MethodPatch, path, rig.token(t, rig.bob.ID),
		UpdateStatusRequest{Status: store.MessageStatusDelivered})
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = rig.doJSON(t, http.MethodPatch, path, rig.token(t, rig.bob.ID),
		UpdateStatusRequest{Status: store.MessageStatusRead})
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Moving backwards conflicts
	resp = rig.doJSON(t, http.MethodPatch, path, rig.token(t, rig.bob.ID),
		UpdateStatusRequest{Status: store.MessageStatusDelivered})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	stored, err := rig.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, store.MessageStatusRead, stored.Status)
}

func TestUpdateMessageStatus_SenderForbidden(t *testing.T) {
	rig := newTestGateway(t)

	resp := rig.doJSON(t, http.MethodPost, "/api/messages", rig.token(t, rig.alice.ID),
		SendMessageRequest{RecipientID: rig.bob.ID, Content: "hi"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := decodeBody[event.Message](t, resp)

	resp = rig.doJSON(t, http.MethodPatch, fmt.Sprintf("/api/messages/%d/status", msg.ID),
		rig.token(t, rig.alice.ID), UpdateStatusRequest{Status: store.MessageStatusDelivered})
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUpdateMessageStatus_Errors(t *testing.T) {
	rig := newTestGateway(t)
	token := rig.token(t, rig.bob.ID)

	resp := rig.doJSON(t, http.MethodPatch, "/api/messages/9999/status", token,
		UpdateStatusRequest{Status: store.MessageStatusDelivered})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = rig.doJSON(t, http.MethodPatch, "/api/messages/abc/status", token,
		UpdateStatusRequest{Status: store.MessageStatusDelivered})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConversationEndpoints(t *testing.T) {
	rig := newTestGateway(t)

	resp := rig.doJSON(t, http.MethodPost, "/api/messages", rig.token(t, rig.alice.ID),
		SendMessageRequest{RecipientID: rig.bob.ID, Content: "first"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := decodeBody[event.Message](t, resp)

	resp = rig.doJSON(t, http.MethodGet, "/api/conversations", rig.token(t, rig.alice.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summaries := decodeBody[[]SummaryResponse](t, resp)
	require.Len(t, summaries, 1)
	assert.Equal(t, msg.ConversationID, summaries[0].Conversation.ID)
	assert.Equal(t, rig.bob.ID, summaries[0].Other.ID)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, "first", summaries[0].LastMessage.Content)

	resp = rig.doJSON(t, http.MethodGet,
		fmt.Sprintf("/api/conversations/%d/messages", msg.ConversationID),
		rig.token(t, rig.bob.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decodeBody[[]event.Message](t, resp)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.ID, msgs[0].ID)
}

func TestConversationMessages_NonParticipant(t *testing.T) {
	rig := newTestGateway(t)

	carol, err := rig.store.EnsureUser(context.Background(), "carol")
	require.NoError(t, err)

	resp := rig.doJSON(t, http.MethodPost, "/api/messages", rig.token(t, rig.alice.ID),
		SendMessageRequest{RecipientID: rig.bob.ID, Content: "private"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := decodeBody[event.Message](t, resp)

	resp = rig.doJSON(t, http.MethodGet,
		fmt.Sprintf("/api/conversations/%d/messages", msg.ConversationID),
		rig.token(t, carol.ID), nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestConversationMessages_BadLimit(t *testing.T) {
	rig := newTestGateway(t)

	resp := rig.doJSON(t, http.MethodGet, "/api/conversations/1/messages?limit=abc",
		rig.token(t, rig.alice.ID), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "invalid limit", body["error"])
}

func TestUserEndpoints(t *testing.T) {
	rig := newTestGateway(t)
	token := rig.token(t, rig.alice.ID)

	resp := rig.doJSON(t, http.MethodPost, "/api/users/sync", token,
		SyncUserRequest{Username: "carol"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	carol := decodeBody[UserResponse](t, resp)
	assert.Equal(t, "carol", carol.Username)
	assert.NotZero(t, carol.ID)

	// Syncing again returns the same row
	resp = rig.doJSON(t, http.MethodPost, "/api/users/sync", token,
		SyncUserRequest{Username: "carol"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	again := decodeBody[UserResponse](t, resp)
	assert.Equal(t, carol.ID, again.ID)

	resp = rig.doJSON(t, http.MethodGet, fmt.Sprintf("/api/users/%d", carol.ID), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	byID := decodeBody[UserResponse](t, resp)
	assert.Equal(t, "carol", byID.Username)

	resp = rig.doJSON(t, http.MethodGet, "/api/users/username/carol", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	byName := decodeBody[UserResponse](t, resp)
	assert.Equal(t, carol.ID, byName.ID)

	resp = rig.doJSON(t, http.MethodGet, "/api/users/9999", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = rig.doJSON(t, http.MethodPost, "/api/users/sync", token,
		SyncUserRequest{Username: "   "})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocket_Greeting(t *testing.T) {
	rig := newTestGateway(t)

	conn := rig.dialWS(t, rig.alice.ID)

	established, ok := readEvent(t, conn).(*event.ConnectionEstablished)
	require.True(t, ok, "first event should be connection_established")
	assert.Equal(t, rig.alice.ID, established.UserID)

	online, ok := readEvent(t, conn).(*event.OnlineUsers)
	require.True(t, ok, "second event should be online_users")
	assert.Contains(t, online.Users, rig.alice.ID)
}

func TestWebSocket_RejectedBeforeUpgrade(t *testing.T) {
	rig := newTestGateway(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{
			name:       "missing token",
			path:       fmt.Sprintf("/ws/%d", rig.alice.ID),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "garbage token",
			path:       fmt.Sprintf("/ws/%d?token=junk", rig.alice.ID),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "token for another user",
			path:       fmt.Sprintf("/ws/%d?token=%s", rig.alice.ID, rig.token(t, rig.bob.ID)),
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "unknown user",
			path:       fmt.Sprintf("/ws/9999?token=%s", rig.token(t, 9999)),
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "ws" + strings.TrimPrefix(rig.server.URL, "http") + tt.path
			conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
			require.Error(t, err)
			require.Nil(t, conn)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestWebSocket_PresenceFanout(t *testing.T) {
	rig := newTestGateway(t)

	aliceConn := rig.dialWS(t, rig.alice.ID)
	drainGreeting(t, aliceConn)

	bobConn := rig.dialWS(t, rig.bob.ID)

	// Alice hears bob come online
	status, ok := readEvent(t, aliceConn).(*event.UserStatus)
	require.True(t, ok, "alice should get a user_status event")
	assert.Equal(t, rig.bob.ID, status.UserID)
	assert.Equal(t, event.StatusOnline, status.Status)

	// Bob's greeting includes both users
	established, ok := readEvent(t, bobConn).(*event.ConnectionEstablished)
	require.True(t, ok)
	assert.Equal(t, rig.bob.ID, established.UserID)
	online, ok := readEvent(t, bobConn).(*event.OnlineUsers)
	require.True(t, ok)
	assert.ElementsMatch(t, []int64{rig.alice.ID, rig.bob.ID}, online.Users)

	// Bob leaves; alice hears about it
	bobConn.Close()
	status, ok = readEvent(t, aliceConn).(*event.UserStatus)
	require.True(t, ok)
	assert.Equal(t, rig.bob.ID, status.UserID)
	assert.Equal(t, event.StatusOffline, status.Status)
}

func TestWebSocket_MessagePush(t *testing.T) {
	rig := newTestGateway(t)

	aliceConn := rig.dialWS(t, rig.alice.ID)
	drainGreeting(t, aliceConn)

	bobConn := rig.dialWS(t, rig.bob.ID)
	drainGreeting(t, bobConn)

	// Alice also saw bob come online
	_, ok := readEvent(t, aliceConn).(*event.UserStatus)
	require.True(t, ok)

	resp := rig.doJSON(t, http.MethodPost, "/api/messages", rig.token(t, rig.alice.ID),
		SendMessageRequest{RecipientID: rig.bob.ID, Content: "ping"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sent := decodeBody[event.Message](t, resp)

	// Bob's push carries the same record the sender got back
	push, ok := readEvent(t, bobConn).(*event.NewMessage)
	require.True(t, ok, "bob should get a new_message event")
	assert.Equal(t, sent, push.Message)

	// The sender's channel stays quiet
	require.NoError(t, aliceConn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := aliceConn.ReadMessage()
	assert.Error(t, err, "alice should not receive her own message")
}

func TestWebSocket_OfflineRecipient(t *testing.T) {
	rig := newTestGateway(t)

	aliceConn := rig.dialWS(t, rig.alice.ID)
	drainGreeting(t, aliceConn)

	// Bob is offline; the send still succeeds
	resp := rig.doJSON(t, http.MethodPost, "/api/messages", rig.token(t, rig.alice.ID),
		SendMessageRequest{RecipientID: rig.bob.ID, Content: "while you were out"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sent := decodeBody[event.Message](t, resp)

	// Bob finds the message when he asks for his conversations
	resp = rig.doJSON(t, http.MethodGet, "/api/conversations", rig.token(t, rig.bob.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summaries := decodeBody[[]SummaryResponse](t, resp)
	require.Len(t, summaries, 1)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, sent.ID, summaries[0].LastMessage.ID)
}

func TestWebSocket_SecondConnectionReplacesFirst(t *testing.T) {
	rig := newTestGateway(t)

	first := rig.dialWS(t, rig.alice.ID)
	drainGreeting(t, first)

	second := rig.dialWS(t, rig.alice.ID)
	drainGreeting(t, second)

	// The first socket is closed by the server
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway),
		"first socket should see a going-away close, got: %v", err)

	// Replacement is not a disconnect: the new socket hears nothing
	require.NoError(t, second.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err = second.ReadMessage()
	assert.Error(t, err, "no offline event should follow a replacement")
}

type gatewayRig struct {
	gw     *Gateway
	store  *store.MockStore
	server *httptest.Server
	alice  *store.User
	bob    *store.User
}

func newTestGateway(t *testing.T) *gatewayRig {
	t.Helper()

	cfg := &config.Config{
		Server:    config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Auth:      config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour},
		Messaging: config.MessagingConfig{MaxContentLength: 256, SessionBuffer: 16},
	}

	ms := store.NewMockStore()
	gw := newWithStore(cfg, ms, slog.New(slog.NewTextHandler(io.Discard, nil)))

	server := httptest.NewServer(gw.httpServer.Handler)
	t.Cleanup(server.Close)

	alice, err := ms.EnsureUser(context.Background(), "alice")
	require.NoError(t, err)
	bob, err := ms.EnsureUser(context.Background(), "bob")
	require.NoError(t, err)

	return &gatewayRig{gw: gw, store: ms, server: server, alice: alice, bob: bob}
}

func (rig *gatewayRig) token(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := rig.gw.verifier.Generate(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (rig *gatewayRig) doJSON(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, rig.server.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (rig *gatewayRig) dialWS(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(rig.server.URL, "http") +
		fmt.Sprintf("/ws/%d?token=%s", userID, rig.token(t, userID))
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func readEvent(t *testing.T, conn *websocket.Conn) any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	evt, err := event.Decode(data)
	require.NoError(t, err)
	return evt
}

func drainGreeting(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_, ok := readEvent(t, conn).(*event.ConnectionEstablished)
	require.True(t, ok, "expected connection_established")
	_, ok = readEvent(t, conn).(*event.OnlineUsers)
	require.True(t, ok, "expected online_users")
}
