// ABOUTME: WebSocket endpoint that delivers push events to connected clients
// ABOUTME: Authenticates before the upgrade, then runs the session read/write pumps

package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/courier/internal/session"
	"github.com/2389/courier/internal/store"
)

const (
	// Time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	wsPongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than wsPongWait.
	wsPingPeriod = (wsPongWait * 9) / 10

	// Maximum message size allowed from peer. Clients only send keepalives.
	wsMaxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Access is gated by the token, not the Origin header
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades GET /ws/{user_id} into the client's push channel.
//
// Responsibilities:
//  1. Authenticate the token query parameter before upgrading, so a bad
//     credential gets a plain HTTP status instead of a dropped socket
//  2. Refuse tokens that do not belong to the user in the path
//  3. Register the session, which announces the user online and greets the
//     new socket with the current roster
//  4. Run the pumps until the peer goes away, then announce offline
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("user_id"), 10, 64)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		sendJSONError(w, http.StatusUnauthorized, "token required")
		return
	}
	tokenUserID, err := g.verifier.Verify(token)
	if err != nil {
		sendJSONError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if tokenUserID != userID {
		sendJSONError(w, http.StatusForbidden, "token does not match user")
		return
	}

	if _, err := g.store.GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			sendJSONError(w, http.StatusForbidden, "unknown user")
			return
		}
		g.logger.Error("looking up user for websocket", "user_id", userID, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		g.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	sess := session.NewSession(userID, g.config.Messaging.SessionBuffer)
	g.presence.Connected(sess)
	g.logger.Info("websocket connected", "user_id", userID, "session_id", sess.ID)

	go g.writePump(conn, sess)
	g.readPump(conn, sess)
}

// readPump discards inbound frames and tears the session down when the peer
// goes away. Clients talk to the gateway over HTTP; the socket is only for
// pushes, so anything the peer sends besides control frames is dropped.
func (g *Gateway) readPump(conn *websocket.Conn, sess *session.Session) {
	defer func() {
		g.presence.Disconnected(sess.UserID, sess.ID)
		sess.Close()
		_ = conn.Close()
		g.logger.Info("websocket disconnected", "user_id", sess.UserID, "session_id", sess.ID)
	}()

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("websocket read error", "user_id", sess.UserID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	}
}

// writePump forwards session events to the socket and keeps the connection
// alive with pings. It owns all writes; Gorilla allows one concurrent writer
// per connection.
func (g *Gateway) writePump(conn *websocket.Conn, sess *session.Session) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case evt, ok := <-sess.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				// Session was replaced by a newer connection or the
				// gateway is shutting down
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				g.logger.Debug("websocket write failed", "user_id", sess.UserID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
