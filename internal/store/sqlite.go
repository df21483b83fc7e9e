package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/avoronin/chatdesk/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		client_name TEXT NOT NULL DEFAULT '',
		client_email TEXT NOT NULL DEFAULT '',
		client_phone TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		last_activity INTEGER NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		unread_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_activity);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		sender_type TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL,
		text_content TEXT NOT NULL DEFAULT '',
		attachment_url TEXT,
		attachment_name TEXT,
		attachment_size INTEGER,
		is_read INTEGER NOT NULL DEFAULT 0,
		sent_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);

	CREATE TABLE IF NOT EXISTS presence (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		online INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const sessionColumns = `session_id, client_name, client_email, client_phone,
       status, last_activity, message_count, unread_count`

func scanSession(row interface{ Scan(...any) error }) (*domain.ChatSession, error) {
	var sess domain.ChatSession
	var lastActivity int64

	err := row.Scan(
		&sess.SessionID, &sess.ClientName, &sess.ClientEmail, &sess.ClientPhone,
		&sess.Status, &lastActivity, &sess.MessageCount, &sess.UnreadCount,
	)
	if err != nil {
		return nil, err
	}

	sess.LastActivity = time.Unix(lastActivity, 0)
	return &sess, nil
}

// ListSessions returns all sessions ordered by last_activity descending.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]domain.ChatSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY last_activity DESC, session_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []domain.ChatSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, *sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// GetSession retrieves a single session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", sessionID, errdefs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	return sess, nil
}

// CreateSession creates a session on first client contact.
func (s *SQLiteStore) CreateSession(ctx context.Context, clientName, clientEmail, clientPhone string) (*domain.ChatSession, error) {
	now := time.Now()
	sess := &domain.ChatSession{
		SessionID:    uuid.NewString(),
		ClientName:   clientName,
		ClientEmail:  clientEmail,
		ClientPhone:  clientPhone,
		Status:       domain.StatusActive,
		LastActivity: time.Unix(now.Unix(), 0),
	}

	query := `
	INSERT INTO sessions (session_id, client_name, client_email, client_phone, status, last_activity)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		sess.SessionID, sess.ClientName, sess.ClientEmail, sess.ClientPhone,
		sess.Status, now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return sess, nil
}

// CloseSession transitions an active session to closed.
func (s *SQLiteStore) CloseSession(ctx context.Context, sessionID string) error {
	return s.transition(ctx, sessionID, domain.StatusActive, domain.StatusClosed)
}

// ArchiveSession transitions a closed session to archived.
func (s *SQLiteStore) ArchiveSession(ctx context.Context, sessionID string) error {
	return s.transition(ctx, sessionID, domain.StatusClosed, domain.StatusArchived)
}

func (s *SQLiteStore) transition(ctx context.Context, sessionID string, from, to domain.SessionStatus) error {
	query := `UPDATE sessions SET status = ? WHERE session_id = ? AND status = ?`
	result, err := s.db.ExecContext(ctx, query, to, sessionID, from)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		// Either the session does not exist or it is not in the
		// expected source state.
		sess, getErr := s.GetSession(ctx, sessionID)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("session %s is %s, cannot transition to %s: %w",
			sessionID, sess.Status, to, errdefs.ErrConflict)
	}

	return nil
}

// ArchiveClosedBefore archives closed sessions whose last activity
// predates the cutoff (unix seconds).
func (s *SQLiteStore) ArchiveClosedBefore(ctx context.Context, cutoff int64) (int64, error) {
	query := `UPDATE sessions SET status = ? WHERE status = ? AND last_activity < ?`
	result, err := s.db.ExecContext(ctx, query, domain.StatusArchived, domain.StatusClosed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive closed sessions: %w", err)
	}
	return result.RowsAffected()
}

// ListMessages returns messages for a session ascending by id. When
// afterID > 0 only messages with id > afterID are returned.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, afterID int64) ([]domain.ChatMessage, error) {
	query := `
		SELECT id, session_id, sender_type, sender_name, content_type, text_content,
		       attachment_url, attachment_name, attachment_size, is_read, sent_at
		FROM messages WHERE session_id = ? AND id > ? ORDER BY id ASC`

	if afterID < 0 {
		afterID = 0
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID, afterID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var attURL, attName sql.NullString
		var attSize sql.NullInt64
		var sentAt int64

		if err := rows.Scan(
			&msg.MessageID, &msg.SessionID, &msg.SenderType, &msg.SenderName,
			&msg.ContentType, &msg.TextContent,
			&attURL, &attName, &attSize, &msg.IsRead, &sentAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		if attURL.Valid {
			msg.Attachment = &domain.Attachment{
				URL:  attURL.String,
				Name: attName.String,
				Size: attSize.Int64,
			}
		}
		msg.SentAt = time.Unix(sentAt, 0)
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// AppendMessage persists a message and updates the owning session's
// counters in the same transaction.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("validate message: %w: %w", err, errdefs.ErrInvalidArgument)
	}

	var persisted *domain.ChatMessage
	err := s.withBusyRetry(ctx, func() error {
		var txErr error
		persisted, txErr = s.appendMessageTx(ctx, msg)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return persisted, nil
}

func (s *SQLiteStore) appendMessageTx(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var status domain.SessionStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE session_id = ?`, msg.SessionID).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", msg.SessionID, errdefs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("check session status: %w", err)
	}
	if status != domain.StatusActive {
		return nil, fmt.Errorf("session %s is %s, cannot append: %w", msg.SessionID, status, errdefs.ErrConflict)
	}

	now := time.Now()

	var attURL, attName any
	var attSize any
	if msg.Attachment != nil {
		attURL = msg.Attachment.URL
		attName = msg.Attachment.Name
		attSize = msg.Attachment.Size
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, sender_type, sender_name, content_type, text_content,
		                      attachment_url, attachment_name, attachment_size, is_read, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		msg.SessionID, msg.SenderType, msg.SenderName, msg.ContentType, msg.TextContent,
		attURL, attName, attSize, now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get message id: %w", err)
	}

	// Client messages increase the unread counter; agent and system
	// messages do not.
	unreadDelta := 0
	if msg.SenderType == domain.SenderClient {
		unreadDelta = 1
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions
		SET message_count = message_count + 1,
		    unread_count = unread_count + ?,
		    last_activity = MAX(last_activity, ?)
		WHERE session_id = ?`,
		unreadDelta, now.Unix(), msg.SessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("update session counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}

	persisted := *msg
	persisted.MessageID = id
	persisted.IsRead = false
	persisted.SentAt = time.Unix(now.Unix(), 0)
	return &persisted, nil
}

// MarkRead marks all messages from the given sender in the session as
// read. Calling it again is a no-op.
func (s *SQLiteStore) MarkRead(ctx context.Context, sessionID string, sender domain.SenderType) error {
	if !sender.Valid() {
		return fmt.Errorf("invalid sender_type %q: %w", sender, errdefs.ErrInvalidArgument)
	}

	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return err
	}

	return s.withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin mark-read transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		_, err = tx.ExecContext(ctx,
			`UPDATE messages SET is_read = 1 WHERE session_id = ? AND sender_type = ? AND is_read = 0`,
			sessionID, sender,
		)
		if err != nil {
			return fmt.Errorf("mark messages read: %w", err)
		}

		// The unread badge only tracks client messages.
		if sender == domain.SenderClient {
			_, err = tx.ExecContext(ctx,
				`UPDATE sessions SET unread_count = 0 WHERE session_id = ?`, sessionID)
			if err != nil {
				return fmt.Errorf("reset unread count: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit mark-read: %w", err)
		}
		return nil
	})
}

// GetPresence returns the agent's last confirmed presence state.
// A store with no recorded presence reports offline.
func (s *SQLiteStore) GetPresence(ctx context.Context) (*domain.AgentPresence, error) {
	var online bool
	var updatedAt int64

	err := s.db.QueryRowContext(ctx, `SELECT online, updated_at FROM presence WHERE id = 1`).
		Scan(&online, &updatedAt)
	if err == sql.ErrNoRows {
		return &domain.AgentPresence{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan presence: %w", err)
	}

	return &domain.AgentPresence{Online: online, UpdatedAt: time.Unix(updatedAt, 0)}, nil
}

// SetPresence records the agent's online/offline flag.
func (s *SQLiteStore) SetPresence(ctx context.Context, online bool) error {
	query := `
	INSERT INTO presence (id, online, updated_at) VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET online = excluded.online, updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, online, time.Now().Unix()); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

// withBusyRetry retries fn with exponential backoff on SQLITE_BUSY, which
// can occur when a write overlaps with the retention worker.
func (s *SQLiteStore) withBusyRetry(ctx context.Context, fn func() error) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isBusyErr(err) || i == maxRetries-1 {
			return err
		}

		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms, 200ms
		slog.Debug("sqlite busy, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}
	}
	return err
}

// isBusyErr checks for SQLite concurrency errors that warrant a retry.
func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
