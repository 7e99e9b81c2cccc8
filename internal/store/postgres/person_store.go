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

// PersonStore implements store.PersonStore using PostgreSQL.
type PersonStore struct {
	db querier
}

var _ store.PersonStore = (*PersonStore)(nil)

const personColumns = `id, username, email, created_at, updated_at`

// Create creates a new person in the database.
func (s *PersonStore) Create(ctx context.Context, person *models.Person) error {
	query := `
		INSERT INTO person (id, username, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.db.Exec(ctx, query,
		person.PersonID,
		person.Username,
		person.Email,
		person.CreatedAt,
		person.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return mapPostgresError(err)
		}
		return fmt.Errorf("failed to create person: %w", err)
	}

	log.Debug().
		Str("person_id", person.PersonID.String()).
		Str("username", person.Username).
		Msg("Created person")

	return nil
}

// Get retrieves a person by ID.
func (s *PersonStore) Get(ctx context.Context, personID uuid.UUID) (*models.Person, error) {
	return s.getBy(ctx, "id", personID)
}

// GetByUsername retrieves a person by username.
func (s *PersonStore) GetByUsername(ctx context.Context, username string) (*models.Person, error) {
	return s.getBy(ctx, "username", username)
}

// GetByEmail retrieves a person by email.
func (s *PersonStore) GetByEmail(ctx context.Context, email string) (*models.Person, error) {
	return s.getBy(ctx, "email", email)
}

// column is always one of the fixed names passed by the getters above.
func (s *PersonStore) getBy(ctx context.Context, column string, value any) (*models.Person, error) {
	query := `SELECT ` + personColumns + ` FROM person WHERE ` + column + ` = $1`

	var p models.Person
	err := s.db.QueryRow(ctx, query, value).Scan(
		&p.PersonID,
		&p.Username,
		&p.Email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrPersonNotFound
		}
		return nil, fmt.Errorf("failed to get person: %w", err)
	}

	return &p, nil
}

// UpdateEmail changes a person's email address.
func (s *PersonStore) UpdateEmail(ctx context.Context, personID uuid.UUID, email string) error {
	return s.update(ctx, "email", personID, email)
}

// UpdateUsername changes a person's username.
func (s *PersonStore) UpdateUsername(ctx context.Context, personID uuid.UUID, username string) error {
	return s.update(ctx, "username", personID, username)
}

func (s *PersonStore) update(ctx context.Context, column string, personID uuid.UUID, value string) error {
	query := `UPDATE person SET ` + column + ` = $2, updated_at = $3 WHERE id = $1`

	result, err := s.db.Exec(ctx, query, personID, value, time.Now())
	if err != nil {
		if isUniqueViolation(err) {
			return mapPostgresError(err)
		}
		return fmt.Errorf("failed to update person %s: %w", column, err)
	}

	if result.RowsAffected() == 0 {
		return store.ErrPersonNotFound
	}

	log.Debug().
		Str("person_id", personID.String()).
		Str("field", column).
		Msg("Updated person")

	return nil
}

// Delete deletes a person. Credentials, sessions and role assignments cascade.
func (s *PersonStore) Delete(ctx context.Context, personID uuid.UUID) error {
	result, err := s.db.Exec(ctx, `DELETE FROM person WHERE id = $1`, personID)
	if err != nil {
		return fmt.Errorf("failed to delete person: %w", err)
	}

	if result.RowsAffected() == 0 {
		return store.ErrPersonNotFound
	}

	log.Info().
		Str("person_id", personID.String()).
		Msg("Deleted person")

	return nil
}
