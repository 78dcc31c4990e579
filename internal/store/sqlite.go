// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user/conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Let concurrent writers wait instead of failing with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			username   TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);

		CREATE TABLE IF NOT EXISTS conversations (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			participant_a_id INTEGER NOT NULL REFERENCES users(id),
			participant_b_id INTEGER NOT NULL REFERENCES users(id),
			created_at       TEXT NOT NULL,

			UNIQUE (participant_a_id, participant_b_id),
			CHECK (participant_a_id < participant_b_id)
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_participant_a ON conversations(participant_a_id);
		CREATE INDEX IF NOT EXISTS idx_conversations_participant_b ON conversations(participant_b_id);

		CREATE TABLE IF NOT EXISTS messages (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL REFERENCES conversations(id),
			sender_id       INTEGER NOT NULL REFERENCES users(id),
			content         TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'sent',
			created_at      TEXT NOT NULL,

			CHECK (status IN ('sent', 'delivered', 'read'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping verifies the database connection is still usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isUniqueViolation checks if the error is a SQLite UNIQUE constraint violation.
// Deliberately narrower than a generic constraint check: the conversations
// table also carries CHECK constraints, and those must not be mistaken for
// duplicates.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// EnsureUser returns the user with the given username, creating it first if
// it doesn't exist. Safe under concurrent callers: a lost insert race falls
// back to reading the row the winner created.
func (s *SQLiteStore) EnsureUser(ctx context.Context, username string) (*User, error) {
	existing, err := s.GetUserByUsername(ctx, username)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, created_at) VALUES (?, ?)`,
		username, now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Another writer created the user between our read and insert
			return s.GetUserByUsername(ctx, username)
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting user id: %w", err)
	}

	s.logger.Debug("created user", "id", id, "username", username)
	return &User{ID: id, Username: username, CreatedAt: now}, nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByUsername retrieves a user by username.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var user User
	var createdAtStr string

	err := row.Scan(&user.ID, &user.Username, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &user, nil
}

// CreateConversation inserts a conversation for a canonically ordered
// participant pair. Returns ErrDuplicateConversation if a conversation for
// the pair already exists.
func (s *SQLiteStore) CreateConversation(ctx context.Context, participantA, participantB int64) (*Conversation, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (participant_a_id, participant_b_id, created_at)
		VALUES (?, ?, ?)
	`, participantA, participantB, now.Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateConversation
		}
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting conversation id: %w", err)
	}

	s.logger.Debug("created conversation", "id", id, "participant_a", participantA, "participant_b", participantB)
	return &Conversation{
		ID:             id,
		ParticipantAID: participantA,
		ParticipantBID: participantB,
		CreatedAt:      now,
	}, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, participant_a_id, participant_b_id, created_at
		FROM conversations
		WHERE id = ?
	`, id)
	return scanConversation(row)
}

// GetConversationByParticipants retrieves the conversation for a canonically
// ordered participant pair. Returns ErrNotFound if no conversation exists.
func (s *SQLiteStore) GetConversationByParticipants(ctx context.Context, participantA, participantB int64) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, participant_a_id, participant_b_id, created_at
		FROM conversations
		WHERE participant_a_id = ? AND participant_b_id = ?
	`, participantA, participantB)
	return scanConversation(row)
}

func scanConversation(row *sql.Row) (*Conversation, error) {
	var conv Conversation
	var createdAtStr string

	err := row.Scan(&conv.ID, &conv.ParticipantAID, &conv.ParticipantBID, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &conv, nil
}

// CreateMessage saves a message and fills in its generated ID.
// Status defaults to "sent" when unset.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	if msg.Status == "" {
		msg.Status = MessageStatusSent
	}
	if _, ok := statusRank[msg.Status]; !ok {
		return ErrInvalidStatus
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, content, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ConversationID, msg.SenderID, msg.Content, msg.Status, msg.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting message id: %w", err)
	}
	msg.ID = id

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "status", msg.Status)
	return nil
}

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, content, status, created_at
		FROM messages
		WHERE id = ?
	`, id)

	var msg Message
	var createdAtStr string

	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.Status, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &msg, nil
}

// ListConversationMessages retrieves messages for a conversation, limited to
// the most recent `limit` messages. Messages are returned in chronological
// order (oldest first). If limit is 0 or negative, all messages are returned.
func (s *SQLiteStore) ListConversationMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	var query string
	var args []any

	if limit > 0 {
		// Get the N most recent messages, but return them in chronological
		// order. Ordering on id keeps same-second messages stable.
		query = `
			SELECT id, conversation_id, sender_id, content, status, created_at
			FROM (
				SELECT id, conversation_id, sender_id, content, status, created_at
				FROM messages
				WHERE conversation_id = ?
				ORDER BY id DESC
				LIMIT ?
			)
			ORDER BY id ASC
		`
		args = []any{conversationID, limit}
	} else {
		query = `
			SELECT id, conversation_id, sender_id, content, status, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY id ASC
		`
		args = []any{conversationID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAtStr string

		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.Status, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// UpdateMessageStatus moves a message's status forward. Transitions are
// monotonic (sent -> delivered -> read): a repeat of the current status is a
// no-op, a backwards move returns ErrStatusRegression, and an unknown message
// returns ErrNotFound.
func (s *SQLiteStore) UpdateMessageStatus(ctx context.Context, id int64, status string) error {
	rank, ok := statusRank[status]
	if !ok {
		return ErrInvalidStatus
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = ?
		WHERE id = ? AND
			CASE status
				WHEN 'sent' THEN 0
				WHEN 'delivered' THEN 1
				WHEN 'read' THEN 2
			END < ?
	`, status, id, rank)
	if err != nil {
		return fmt.Errorf("updating message status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected > 0 {
		s.logger.Debug("updated message status", "id", id, "status", status)
		return nil
	}

	// No row moved: the message is missing, already at the requested status,
	// or the update would go backwards. Re-read to tell those apart.
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if msg.Status == status {
		return nil
	}
	return ErrStatusRegression
}

// ListConversationSummaries returns one row per conversation the user
// participates in: the conversation, the other participant, and the most
// recent message (nil for a conversation with no messages yet). Ordered by
// most recent activity.
func (s *SQLiteStore) ListConversationSummaries(ctx context.Context, userID int64) ([]*ConversationSummary, error) {
	query := `
		SELECT
			c.id, c.participant_a_id, c.participant_b_id, c.created_at,
			u.id, u.username, u.created_at,
			m.id, m.conversation_id, m.sender_id, m.content, m.status, m.created_at
		FROM conversations c
		JOIN users u ON u.id = CASE
			WHEN c.participant_a_id = ? THEN c.participant_b_id
			ELSE c.participant_a_id
		END
		LEFT JOIN messages m ON m.id = (
			SELECT id FROM messages
			WHERE conversation_id = c.id
			ORDER BY id DESC
			LIMIT 1
		)
		WHERE c.participant_a_id = ? OR c.participant_b_id = ?
		ORDER BY COALESCE(m.created_at, c.created_at) DESC, c.id DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversation summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*ConversationSummary
	for rows.Next() {
		var conv Conversation
		var other User
		var convCreatedStr, userCreatedStr string
		var msgID, msgConvID, msgSenderID sql.NullInt64
		var msgContent, msgStatus, msgCreatedStr sql.NullString

		if err := rows.Scan(
			&conv.ID, &conv.ParticipantAID, &conv.ParticipantBID, &convCreatedStr,
			&other.ID, &other.Username, &userCreatedStr,
			&msgID, &msgConvID, &msgSenderID, &msgContent, &msgStatus, &msgCreatedStr,
		); err != nil {
			return nil, fmt.Errorf("scanning summary row: %w", err)
		}

		conv.CreatedAt, err = time.Parse(time.RFC3339, convCreatedStr)
		if err != nil {
			return nil, fmt.Errorf("parsing conversation created_at: %w", err)
		}
		other.CreatedAt, err = time.Parse(time.RFC3339, userCreatedStr)
		if err != nil {
			return nil, fmt.Errorf("parsing user created_at: %w", err)
		}

		summary := &ConversationSummary{
			Conversation: &conv,
			Other:        &other,
		}

		if msgID.Valid {
			msg := &Message{
				ID:             msgID.Int64,
				ConversationID: msgConvID.Int64,
				SenderID:       msgSenderID.Int64,
				Content:        msgContent.String,
				Status:         msgStatus.String,
			}
			msg.CreatedAt, err = time.Parse(time.RFC3339, msgCreatedStr.String)
			if err != nil {
				return nil, fmt.Errorf("parsing message created_at: %w", err)
			}
			summary.LastMessage = msg
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating summary rows: %w", err)
	}

	return summaries, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
