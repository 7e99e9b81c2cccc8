package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/wolfeidau/portcullis/internal/models"
	"github.com/wolfeidau/portcullis/internal/store"
)

// CredentialStore implements store.CredentialStore using PostgreSQL.
type CredentialStore struct {
	db querier
}

var _ store.CredentialStore = (*CredentialStore)(nil)

// Create stores the password hash for a person.
func (s *CredentialStore) Create(ctx context.Context, credential *models.Credential) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO password (person_id, hash) VALUES ($1, $2)`,
		credential.PersonID,
		credential.Hash,
	)
	if err != nil {
		mapped := mapPostgresError(err)
		if errors.Is(mapped, store.ErrCredentialAlreadyExists) || errors.Is(mapped, store.ErrPersonNotFound) {
			return mapped
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}

	return nil
}

// GetByUsername returns the credential for the person with the given username.
func (s *CredentialStore) GetByUsername(ctx context.Context, username string) (*models.Credential, error) {
	query := `
		SELECT pw.person_id, pw.hash
		FROM password pw
		JOIN person p ON p.id = pw.person_id
		WHERE p.username = $1
	`

	var c models.Credential
	err := s.db.QueryRow(ctx, query, username).Scan(&c.PersonID, &c.Hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return &c, nil
}

// Exists reports whether the person has a stored password hash.
func (s *CredentialStore) Exists(ctx context.Context, personID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM password WHERE person_id = $1)`,
		personID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check credential: %w", err)
	}

	return exists, nil
}
