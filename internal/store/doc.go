// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// One Store interface covers users, conversations, and messages. Two
// implementations:
//
//   - SQLiteStore: modernc.org/sqlite (pure Go, no cgo), schema created on init
//   - MockStore: in-memory maps for unit tests
//
// # Data Models
//
//   - User: chat account with a unique username
//   - Conversation: two participants in canonical order (lower id is A)
//   - Message: conversation content with a delivery status
//   - ConversationSummary: conversation + other participant + last message
//
// # SQLite Configuration
//
// The store uses WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use ":memory:" in tests for a real store with no files.
//
// # Message Status
//
// Status only moves forward: sent -> delivered -> read. The advance is a
// single conditional UPDATE, so racing writers cannot regress a status.
// Re-applying the current status is a no-op; going backwards surfaces as
// ErrStatusRegression.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateConversation: a conversation for the pair already exists
//   - ErrStatusRegression: status update would go backwards
//   - ErrInvalidStatus: unknown status value
//
// All methods accept context.Context for cancellation support.
package store
