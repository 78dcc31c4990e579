// Package gateway orchestrates the courier-gateway server components.
//
// # Overview
//
// The Gateway struct owns the store, the session registry, the presence
// broadcaster, the conversation service, and the HTTP server, and wires
// them into one process.
//
// # HTTP API
//
// Endpoints live in api.go:
//
//   - POST /api/messages - send a direct message
//   - GET /api/conversations - conversation summaries for the caller
//   - GET /api/conversations/{id}/messages - history page
//   - PATCH /api/messages/{id}/status - advance delivery status
//   - POST /api/users/sync - create-or-fetch a user by username
//   - GET /api/users/{id}, /api/users/username/{username} - lookups
//   - GET /health - liveness, GET /health/ready - store ping
//
// All /api routes require a bearer token. Errors are {"error": "..."}
// JSON with a meaningful status code.
//
// # WebSocket
//
// GET /ws/{user_id}?token=... upgrades to the push channel (ws.go). Auth
// runs before the upgrade, so failures are plain HTTP statuses. Each
// connection becomes a session; the write pump drains the session outbox
// and owns all writes to the socket.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx)
//
// Run listens (TCP, or tsnet when Tailscale is enabled), serves until the
// context is canceled or the server fails, then shuts down gracefully:
// live sessions are closed first so websocket handlers finish, then the
// HTTP server drains, then the store closes.
//
// # Key Files
//
//   - gateway.go: struct, wiring, listeners, Run/Shutdown
//   - api.go: REST handlers and error mapping
//   - ws.go: websocket upgrade and pumps
package gateway
