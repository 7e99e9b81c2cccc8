package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/portcullis/internal/models"
	"github.com/wolfeidau/portcullis/internal/store"
)

// SessionStore implements store.SessionStore using PostgreSQL.
type SessionStore struct {
	db querier
}

var _ store.SessionStore = (*SessionStore)(nil)

// Create creates a new session in the database.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO session (
			id, person_id,
			created_at, updated_at, expires_at,
			user_agent, ip_address
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7::inet
		)
	`

	// Convert empty IP address to nil for proper INET handling
	var ipAddress any
	if session.IPAddress != "" {
		ipAddress = session.IPAddress
	}

	_, err := s.db.Exec(ctx, query,
		session.SessionID,
		session.PersonID,
		session.CreatedAt,
		session.UpdatedAt,
		session.ExpiresAt,
		session.UserAgent,
		ipAddress,
	)
	if err != nil {
		if mapped := mapPostgresError(err); errors.Is(mapped, store.ErrPersonNotFound) {
			return mapped
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	log.Debug().
		Str("session_id", session.SessionID.String()).
		Str("person_id", session.PersonID.String()).
		Msg("Created session")

	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	query := `
		SELECT
			id, person_id,
			created_at, updated_at, expires_at,
			user_agent, COALESCE(host(ip_address), '')
		FROM session
		WHERE id = $1
	`

	var session models.Session
	err := s.db.QueryRow(ctx, query, sessionID).Scan(
		&session.SessionID,
		&session.PersonID,
		&session.CreatedAt,
		&session.UpdatedAt,
		&session.ExpiresAt,
		&session.UserAgent,
		&session.IPAddress,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	// Check if session has expired
	if session.IsExpired() {
		return nil, store.ErrSessionExpired
	}

	return &session, nil
}

// Delete deletes a session by ID (logout).
func (s *SessionStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	result, err := s.db.Exec(ctx, `DELETE FROM session WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if result.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}

	log.Debug().
		Str("session_id", sessionID.String()).
		Msg("Deleted session")

	return nil
}

// DeleteByPerson deletes all sessions for a person (logout everywhere).
func (s *SessionStore) DeleteByPerson(ctx context.Context, personID uuid.UUID) (int, error) {
	result, err := s.db.Exec(ctx, `DELETE FROM session WHERE person_id = $1`, personID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions by person: %w", err)
	}

	count := int(result.RowsAffected())

	log.Info().
		Str("person_id", personID.String()).
		Int("count", count).
		Msg("Deleted all sessions for person")

	return count, nil
}

// DeleteExpired deletes all expired sessions (cleanup job).
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	result, err := s.db.Exec(ctx, `DELETE FROM session WHERE expires_at <= $1`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	count := int(result.RowsAffected())

	if count > 0 {
		log.Info().
			Int("count", count).
			Msg("Deleted expired sessions")
	}

	return count, nil
}
