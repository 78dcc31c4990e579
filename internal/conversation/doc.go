// Package conversation implements the direct-message routing service.
//
// # Overview
//
// The Service sits between the HTTP handlers and the store and owns the
// rules of two-party messaging: which conversation a pair of users maps
// to, what a valid message is, and what happens once one is accepted.
//
// # Conversation Resolution
//
// A pair of users maps to exactly one conversation. Resolve orders the
// pair (lower id becomes participant A), looks the row up, and creates it
// on miss. Concurrent creators race on the unique constraint; the loser
// re-reads and both callers end up holding the same conversation.
//
// # Sending
//
// SendMessage validates the content, resolves the recipient by id or
// username, resolves the conversation, persists the message with status
// "sent", and pushes a new_message event to the recipient if they are
// online. The sender gets the persisted record back synchronously and
// never receives a push for their own message. A failed push evicts the
// recipient's session but never fails the send.
//
// # Reading
//
// Messages and Summaries check participant membership before returning
// anything. A non-participant gets ErrNotParticipant whether or not the
// conversation exists.
package conversation
