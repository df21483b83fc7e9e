// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/avoronin/chatdesk/internal/domain"
)

// Repository defines the interface for the durable session table and
// append-only message log.
type Repository interface {
	// ListSessions returns all sessions ordered by last_activity descending.
	ListSessions(ctx context.Context) ([]domain.ChatSession, error)

	// GetSession retrieves a single session. Returns an error wrapping
	// errdefs.ErrNotFound for an unknown id.
	GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)

	// CreateSession creates a session on first client contact.
	CreateSession(ctx context.Context, clientName, clientEmail, clientPhone string) (*domain.ChatSession, error)

	// CloseSession transitions an active session to closed.
	CloseSession(ctx context.Context, sessionID string) error

	// ArchiveSession transitions a closed session to archived.
	ArchiveSession(ctx context.Context, sessionID string) error

	// ArchiveClosedBefore archives every closed session whose last
	// activity predates the cutoff. Returns the number archived.
	ArchiveClosedBefore(ctx context.Context, cutoff int64) (int64, error)

	// ListMessages returns messages for a session in ascending message id
	// order. When afterID > 0, only messages with id > afterID are
	// returned; otherwise the full history.
	ListMessages(ctx context.Context, sessionID string, afterID int64) ([]domain.ChatMessage, error)

	// AppendMessage persists a message and returns it with its assigned
	// id and timestamp. Session counters are updated in the same
	// transaction. Appends to non-active sessions are rejected.
	AppendMessage(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error)

	// MarkRead marks all messages from the given sender in the session
	// as read. Idempotent.
	MarkRead(ctx context.Context, sessionID string, sender domain.SenderType) error

	// GetPresence returns the agent's last confirmed presence state.
	GetPresence(ctx context.Context) (*domain.AgentPresence, error)

	// SetPresence records the agent's online/offline flag.
	SetPresence(ctx context.Context, online bool) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
