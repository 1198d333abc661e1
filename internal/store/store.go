// Package store defines the storage interface and implementations.
package store

import (
	"context"

	"github.com/memoria-labs/memoria/internal/domain"
)

// Store defines the interface for session, message and entity persistence.
// Get operations return nil (not an error) for absent records.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context) (*domain.Session, error)
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	// EndSession marks the session ended with the given summary (nil when
	// summarization failed). Returns nil for an absent session.
	EndSession(ctx context.Context, sessionID string, summary *string) (*domain.Session, error)
	// GetAllSessions returns sessions newest-first by start time.
	GetAllSessions(ctx context.Context) ([]domain.Session, error)

	// Message operations
	// AddMessage appends a message and bumps the session's message count.
	// Fails if the session does not exist.
	AddMessage(ctx context.Context, sessionID string, role domain.MessageRole, content string) (*domain.Message, error)
	// GetSessionMessages returns a session's messages in chronological order.
	GetSessionMessages(ctx context.Context, sessionID string) ([]domain.Message, error)

	// Entity operations
	// AddEntities merges each entity into the store using case-insensitive
	// (name, type) identity: source-id sets are unioned, context is replaced
	// only when the new text is strictly longer, updatedAt is refreshed.
	AddEntities(ctx context.Context, entities []domain.Entity) error
	// GetAllEntities returns entities newest-first by creation time.
	GetAllEntities(ctx context.Context) ([]domain.Entity, error)
	// SearchEntities ranks exact name matches before name-contains before
	// context-contains, capped at 50 results.
	SearchEntities(ctx context.Context, query string) ([]domain.Entity, error)

	// Lifecycle
	Close() error
}
