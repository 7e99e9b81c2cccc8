package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/portcullis/internal/models"
	"github.com/wolfeidau/portcullis/internal/store"
)

// VerificationStore implements store.VerificationStore using in-memory storage.
type VerificationStore struct {
	h handle
}

var _ store.VerificationStore = (*VerificationStore)(nil)

// Upsert stores a freshly issued code, replacing any row for the same (type, target).
func (s *VerificationStore) Upsert(ctx context.Context, v *models.Verification) error {
	return s.h.update(func(st *state) error {
		clone := *v
		st.verifications[verificationKey{typ: v.Type, target: v.Target}] = &clone
		return nil
	})
}

// Get retrieves the current row for (type, target).
func (s *VerificationStore) Get(ctx context.Context, typ, target string) (*models.Verification, error) {
	var found *models.Verification
	err := s.h.view(func(st *state) error {
		v, ok := st.verifications[verificationKey{typ: typ, target: target}]
		if !ok {
			return store.ErrVerificationNotFound
		}
		clone := *v
		found = &clone
		return nil
	})
	return found, err
}

// ReserveAttempt counts an attempt under the write lock if the code is still usable.
func (s *VerificationStore) ReserveAttempt(ctx context.Context, verificationID uuid.UUID, maxAttempts int, now time.Time) (int, error) {
	attempts := 0
	err := s.update(verificationID, func(v *models.Verification) error {
		if v.IsConsumed() || v.IsExpiredAt(now) || v.Attempts >= maxAttempts {
			return store.ErrVerificationLocked
		}
		v.Attempts++
		attempts = v.Attempts
		return nil
	})
	return attempts, err
}

// MarkConsumed flags the code as used; only the first caller succeeds.
func (s *VerificationStore) MarkConsumed(ctx context.Context, verificationID uuid.UUID, at time.Time) error {
	return s.update(verificationID, func(v *models.Verification) error {
		if v.IsConsumed() {
			return store.ErrVerificationConsumed
		}
		consumed := at
		v.ConsumedAt = &consumed
		return nil
	})
}

// DeleteExpired removes rows whose expiry is before the given time.
func (s *VerificationStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	count := 0
	err := s.h.update(func(st *state) error {
		for k, v := range st.verifications {
			if v.ExpiresAt.Before(before) {
				delete(st.verifications, k)
				count++
			}
		}
		return nil
	})
	return count, err
}

func (s *VerificationStore) update(verificationID uuid.UUID, fn func(v *models.Verification) error) error {
	return s.h.update(func(st *state) error {
		for k, v := range st.verifications {
			if v.VerificationID != verificationID {
				continue
			}
			updated := *v
			if err := fn(&updated); err != nil {
				return err
			}
			st.verifications[k] = &updated
			return nil
		}
		return store.ErrVerificationNotFound
	})
}
