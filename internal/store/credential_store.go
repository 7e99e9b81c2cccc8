package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wolfeidau/portcullis/internal/models"
)

// Sentinel errors for credential store operations
var (
	ErrCredentialNotFound      = errors.New("credential not found")
	ErrCredentialAlreadyExists = errors.New("credential already exists")
)

// CredentialReader is the read-only view of stored password hashes.
type CredentialReader interface {
	// GetByUsername returns the credential for the person with the given username.
	// Returns ErrCredentialNotFound if the person or their credential doesn't exist.
	GetByUsername(ctx context.Context, username string) (*models.Credential, error)

	// Exists reports whether the person has a stored password hash.
	Exists(ctx context.Context, personID uuid.UUID) (bool, error)
}

// CredentialStore adds credential creation. It is only reachable through a Tx so a
// credential is always written together with its person.
type CredentialStore interface {
	CredentialReader

	// Create stores the password hash for a person.
	// Returns ErrCredentialAlreadyExists if the person already has one.
	Create(ctx context.Context, credential *models.Credential) error
}
