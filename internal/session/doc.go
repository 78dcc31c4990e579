// Package session tracks which users hold a live push channel.
//
// A Session is one user's connection handle: a buffered outbox that the
// transport's write pump drains. Send never blocks; a full outbox means
// the consumer is too slow and the enqueue fails instead of stalling the
// caller.
//
// The Registry keeps at most one session per user. Registering a user who
// already has one atomically replaces and closes the old session, so a
// reconnecting client bumps its predecessor. Unregister only removes the
// entry when the session id matches, which keeps a stale disconnect from
// evicting a newer connection.
package session
