// Package presence turns session registry transitions into push events.
//
// The Broadcaster serializes every connect and disconnect under one mutex
// so a new session's private greeting (connection_established followed by
// the online_users snapshot) completes before any peer broadcast can
// interleave with it.
//
// Presence changes fan out as user_status events to every other session;
// the subject never hears about itself. Fan-out is best effort: a session
// whose write fails is evicted, and that eviction broadcasts its own
// offline transition.
package presence
