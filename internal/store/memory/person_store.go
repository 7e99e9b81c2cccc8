package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/portcullis/internal/models"
	"github.com/wolfeidau/portcullis/internal/store"
)

// PersonStore implements store.PersonStore using in-memory storage.
type PersonStore struct {
	h handle
}

var _ store.PersonStore = (*PersonStore)(nil)

// Create creates a new person in memory.
func (s *PersonStore) Create(ctx context.Context, person *models.Person) error {
	return s.h.update(func(st *state) error {
		for _, p := range st.persons {
			if p.Username == person.Username {
				return store.ErrUsernameTaken
			}
			if p.Email == person.Email {
				return store.ErrEmailTaken
			}
		}

		// Clone to avoid external modifications
		clone := *person
		st.persons[person.PersonID] = &clone
		return nil
	})
}

// Get retrieves a person by ID.
func (s *PersonStore) Get(ctx context.Context, personID uuid.UUID) (*models.Person, error) {
	return s.find(func(p *models.Person) bool { return p.PersonID == personID })
}

// GetByUsername retrieves a person by username.
func (s *PersonStore) GetByUsername(ctx context.Context, username string) (*models.Person, error) {
	return s.find(func(p *models.Person) bool { return p.Username == username })
}

// GetByEmail retrieves a person by email.
func (s *PersonStore) GetByEmail(ctx context.Context, email string) (*models.Person, error) {
	return s.find(func(p *models.Person) bool { return p.Email == email })
}

// UpdateEmail changes a person's email address.
func (s *PersonStore) UpdateEmail(ctx context.Context, personID uuid.UUID, email string) error {
	return s.h.update(func(st *state) error {
		current, ok := st.persons[personID]
		if !ok {
			return store.ErrPersonNotFound
		}
		for id, p := range st.persons {
			if id != personID && p.Email == email {
				return store.ErrEmailTaken
			}
		}

		updated := *current
		updated.Email = email
		updated.UpdatedAt = time.Now()
		st.persons[personID] = &updated
		return nil
	})
}

// UpdateUsername changes a person's username.
func (s *PersonStore) UpdateUsername(ctx context.Context, personID uuid.UUID, username string) error {
	return s.h.update(func(st *state) error {
		current, ok := st.persons[personID]
		if !ok {
			return store.ErrPersonNotFound
		}
		for id, p := range st.persons {
			if id != personID && p.Username == username {
				return store.ErrUsernameTaken
			}
		}

		updated := *current
		updated.Username = username
		updated.UpdatedAt = time.Now()
		st.persons[personID] = &updated
		return nil
	})
}

// Delete deletes a person and everything that references them.
func (s *PersonStore) Delete(ctx context.Context, personID uuid.UUID) error {
	return s.h.update(func(st *state) error {
		if _, ok := st.persons[personID]; !ok {
			return store.ErrPersonNotFound
		}

		delete(st.persons, personID)
		delete(st.credentials, personID)
		delete(st.personRoles, personID)
		for id, sess := range st.sessions {
			if sess.PersonID == personID {
				delete(st.sessions, id)
			}
		}
		return nil
	})
}

func (s *PersonStore) find(match func(p *models.Person) bool) (*models.Person, error) {
	var found *models.Person
	err := s.h.view(func(st *state) error {
		for _, p := range st.persons {
			if match(p) {
				clone := *p
				found = &clone
				return nil
			}
		}
		return store.ErrPersonNotFound
	})
	return found, err
}
