package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/wolfeidau/portcullis/internal/models"
	"github.com/wolfeidau/portcullis/internal/store"
)

// CredentialStore implements store.CredentialStore using in-memory storage.
type CredentialStore struct {
	h handle
}

var _ store.CredentialStore = (*CredentialStore)(nil)

// Create stores the password hash for a person.
func (s *CredentialStore) Create(ctx context.Context, credential *models.Credential) error {
	return s.h.update(func(st *state) error {
		if _, ok := st.persons[credential.PersonID]; !ok {
			return store.ErrPersonNotFound
		}
		if _, ok := st.credentials[credential.PersonID]; ok {
			return store.ErrCredentialAlreadyExists
		}

		clone := *credential
		st.credentials[credential.PersonID] = &clone
		return nil
	})
}

// GetByUsername returns the credential for the person with the given username.
func (s *CredentialStore) GetByUsername(ctx context.Context, username string) (*models.Credential, error) {
	var found *models.Credential
	err := s.h.view(func(st *state) error {
		for _, p := range st.persons {
			if p.Username != username {
				continue
			}
			cred, ok := st.credentials[p.PersonID]
			if !ok {
				return store.ErrCredentialNotFound
			}
			clone := *cred
			found = &clone
			return nil
		}
		return store.ErrCredentialNotFound
	})
	return found, err
}

// Exists reports whether the person has a stored password hash.
func (s *CredentialStore) Exists(ctx context.Context, personID uuid.UUID) (bool, error) {
	var exists bool
	err := s.h.view(func(st *state) error {
		_, exists = st.credentials[personID]
		return nil
	})
	return exists, err
}
