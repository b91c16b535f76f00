package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/nestcrm/nestcrm/internal/models"
)

// Sentinel errors for session store operations
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// SessionStore persists server-side session records. The cookie only ever
// carries the session ID.
type SessionStore interface {
	// Create stores a new session.
	Create(ctx context.Context, session *models.Session) error

	// Get retrieves a session by ID.
	// Returns ErrSessionNotFound if missing, ErrSessionExpired if past its TTL.
	Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)

	// UpdateLastUsed bumps the last_used_at timestamp.
	UpdateLastUsed(ctx context.Context, sessionID uuid.UUID) error

	// Delete removes a session (sign-out).
	Delete(ctx context.Context, sessionID uuid.UUID) error

	// DeleteByUser removes every session for a user (sign-out everywhere).
	// Returns the number of sessions removed.
	DeleteByUser(ctx context.Context, userID uuid.UUID) (int, error)

	// DeleteExpired removes all expired sessions (cleanup job).
	DeleteExpired(ctx context.Context) (int, error)
}
