// Package client implements the courier client side: the REST API client,
// the push channel, and the local state store a chat UI renders from.
//
// # Channel
//
// Channel holds one websocket to the gateway and redelivers decoded push
// events to registered handlers:
//
//	ch := client.NewChannel(client.ChannelConfig{
//	    Endpoint: client.WSEndpoint(baseURL, userID, token),
//	}, logger)
//	remove := ch.OnEvent(func(evt any) { ... })
//	err := ch.Connect(ctx)
//
// A dropped connection reconnects after a fixed delay until the attempt
// budget runs out; Disconnect suppresses reconnection entirely. Status
// handlers observe every state change, with Terminal marking the point
// where no further reconnect will fire. A panic in one handler is
// recovered and logged; the remaining handlers still run.
//
// # State Store
//
// StateStore reconciles push events with REST responses into one local
// view: the summary list, the online set, and the active conversation's
// messages. Apply reports whether an event changed anything, so a UI can
// skip rendering duplicate pushes. Messages deduplicate by id, backed by
// a TTL cache for ids that have scrolled out of the window. A periodic
// summary refresh backstops missed pushes.
//
// # API Client
//
// APIClient wraps the gateway REST surface (send, history, conversation
// list, status updates, user lookups) and maps error statuses onto
// sentinel errors such as ErrUnauthorized and ErrNotFound, so callers
// branch with errors.Is instead of status codes.
package client
