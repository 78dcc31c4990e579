// Package event defines the JSON push events the gateway sends over a
// user's websocket, plus Decode for dispatching them by type tag.
package event
