package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wolfeidau/portcullis/internal/models"
)

// Sentinel errors for session store operations
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// SessionStore defines the interface for server-side session storage.
type SessionStore interface {
	// Create persists a new session.
	Create(ctx context.Context, session *models.Session) error

	// Get retrieves a session by ID.
	// Returns ErrSessionNotFound if missing, ErrSessionExpired if past its expiry.
	Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)

	// Delete deletes a session by ID (logout).
	// Returns ErrSessionNotFound if the session doesn't exist.
	Delete(ctx context.Context, sessionID uuid.UUID) error

	// DeleteByPerson deletes all sessions for a person (logout everywhere).
	DeleteByPerson(ctx context.Context, personID uuid.UUID) (int, error)

	// DeleteExpired deletes all expired sessions (cleanup job).
	DeleteExpired(ctx context.Context) (int, error)
}
