// Package auth provides JWT authentication for the courier gateway.
//
// # Tokens
//
// Tokens are HS256 JWTs signed with the configured secret. The subject
// claim carries the user id:
//
//	verifier := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate(userID, 24*time.Hour)
//	userID, err = verifier.Verify(token)
//
// Verify rejects bad signatures, expired tokens, and non-numeric subjects.
//
// # HTTP Middleware
//
// HTTPAuthMiddleware extracts a bearer token, verifies it, and loads the
// user so handlers never see an unauthenticated request:
//
//	authed := auth.HTTPAuthMiddleware(store, verifier)
//	mux.Handle("POST /api/messages", authed(handler))
//
// Handlers read the caller with MustFromContext(r.Context()).
//
// # WebSocket Auth
//
// The websocket endpoint cannot send headers from browsers, so it passes
// the token as a query parameter. The gateway verifies it before the
// upgrade and additionally requires the token subject to match the user
// id in the path.
package auth
