package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wolfeidau/portcullis/internal/models"
)

// Sentinel errors for person store operations
var (
	ErrPersonNotFound = errors.New("person not found")
	ErrUsernameTaken  = errors.New("username already taken")
	ErrEmailTaken     = errors.New("email already taken")
)

// PersonStore defines the interface for person storage operations.
// Uniqueness of username and email is enforced by the store, not by callers.
type PersonStore interface {
	// Create creates a new person.
	// Returns ErrUsernameTaken or ErrEmailTaken when a unique constraint is violated.
	Create(ctx context.Context, person *models.Person) error

	// Get retrieves a person by ID.
	// Returns ErrPersonNotFound if the person doesn't exist.
	Get(ctx context.Context, personID uuid.UUID) (*models.Person, error)

	// GetByUsername retrieves a person by their (normalized) username.
	GetByUsername(ctx context.Context, username string) (*models.Person, error)

	// GetByEmail retrieves a person by their (normalized) email.
	GetByEmail(ctx context.Context, email string) (*models.Person, error)

	// UpdateEmail changes a person's email address.
	// Returns ErrEmailTaken if another person already uses the address.
	UpdateEmail(ctx context.Context, personID uuid.UUID, email string) error

	// UpdateUsername changes a person's username.
	// Returns ErrUsernameTaken if another person already uses the username.
	UpdateUsername(ctx context.Context, personID uuid.UUID, username string) error

	// Delete deletes a person, cascading to their credential, sessions and role assignments.
	Delete(ctx context.Context, personID uuid.UUID) error
}
