package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/portcullis/internal/models"
	"github.com/wolfeidau/portcullis/internal/store"
)

// SessionStore implements store.SessionStore using in-memory storage.
type SessionStore struct {
	h handle
}

var _ store.SessionStore = (*SessionStore)(nil)

// Create creates a new session in memory.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	return s.h.update(func(st *state) error {
		if _, ok := st.persons[session.PersonID]; !ok {
			return store.ErrPersonNotFound
		}

		// Clone to avoid external modifications
		clone := *session
		st.sessions[session.SessionID] = &clone
		return nil
	})
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	var found *models.Session
	err := s.h.view(func(st *state) error {
		session, exists := st.sessions[sessionID]
		if !exists {
			return store.ErrSessionNotFound
		}

		// Check if session has expired
		if session.IsExpired() {
			return store.ErrSessionExpired
		}

		clone := *session
		found = &clone
		return nil
	})
	return found, err
}

// Delete deletes a session by ID (logout).
func (s *SessionStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	return s.h.update(func(st *state) error {
		if _, exists := st.sessions[sessionID]; !exists {
			return store.ErrSessionNotFound
		}
		delete(st.sessions, sessionID)
		return nil
	})
}

// DeleteByPerson deletes all sessions for a person (logout everywhere).
func (s *SessionStore) DeleteByPerson(ctx context.Context, personID uuid.UUID) (int, error) {
	return s.deleteWhere(func(sess *models.Session) bool { return sess.PersonID == personID })
}

// DeleteExpired deletes all expired sessions (cleanup job).
func (s *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	now := time.Now()
	return s.deleteWhere(func(sess *models.Session) bool { return sess.IsExpiredAt(now) })
}

func (s *SessionStore) deleteWhere(match func(sess *models.Session) bool) (int, error) {
	count := 0
	err := s.h.update(func(st *state) error {
		for id, sess := range st.sessions {
			if match(sess) {
				delete(st.sessions, id)
				count++
			}
		}
		return nil
	})
	return count, err
}
