// Package store defines the durable storage interface and its SQLite
// implementation.
package store

import (
	"context"

	"kalichat/domain"
)

// Store is the durable tier: session rows and their messages.
type Store interface {
	// CreateSession inserts a new session row. It returns
	// domain.ErrDuplicateSession if the id already exists.
	CreateSession(ctx context.Context, id string, persistent bool) error

	// GetSession retrieves a session row, or (nil, nil) when absent.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// IsPersistent reports the session's persistence flag. A session that
	// is not found in the durable tier is reported as not persistent,
	// never as an error.
	IsPersistent(ctx context.Context, id string) (bool, error)

	// DeleteSession removes a session and, by cascade, its messages.
	DeleteSession(ctx context.Context, id string) error

	// AppendMessage atomically ensures the session row exists, inserts the
	// message with a store-assigned timestamp, and bumps last_active.
	AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string) error

	// Messages returns the most recent limit messages in chronological
	// (oldest-first) order. A row with a malformed timestamp is returned
	// with a nil Timestamp rather than failing the read.
	Messages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)

	// CountMessages returns the exact message count for the session.
	CountMessages(ctx context.Context, sessionID string) (int, error)

	// SaveSummary overwrites the session summary, truncating text that
	// exceeds the configured cap.
	SaveSummary(ctx context.Context, sessionID, text string) error

	// Summary returns the stored summary, or "" when none exists.
	Summary(ctx context.Context, sessionID string) (string, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases all pooled connections.
	Close() error
}
