package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/portcullis/internal/models"
	"github.com/wolfeidau/portcullis/internal/store"
)

func newPerson(username string) *models.Person {
	now := time.Now()
	return &models.Person{
		PersonID:  uuid.Must(uuid.NewV7()),
		Username:  username,
		Email:     username + "@example.com",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newSession(personID uuid.UUID, ttl time.Duration) *models.Session {
	now := time.Now()
	return &models.Session{
		SessionID: uuid.New(),
		PersonID:  personID,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestNew(t *testing.T) {
	db := New()
	require.NotNil(t, db)
	require.NoError(t, db.Stores().Validate())
}

func TestDB_WithinTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commit makes writes visible", func(t *testing.T) {
		stores := New().Stores()
		alice := newPerson("alice")

		err := stores.Transactor.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.Persons.Create(ctx, alice); err != nil {
				return err
			}
			if err := tx.Credentials.Create(ctx, &models.Credential{PersonID: alice.PersonID, Hash: "hash"}); err != nil {
				return err
			}
			return tx.Sessions.Create(ctx, newSession(alice.PersonID, time.Hour))
		})
		require.NoError(t, err)

		cred, err := stores.Credentials.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, "hash", cred.Hash)
	})

	t.Run("error rolls back every write", func(t *testing.T) {
		stores := New().Stores()
		alice := newPerson("alice")
		boom := errors.New("boom")

		err := stores.Transactor.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.Persons.Create(ctx, alice); err != nil {
				return err
			}
			if err := tx.Credentials.Create(ctx, &models.Credential{PersonID: alice.PersonID, Hash: "hash"}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = stores.Persons.Get(ctx, alice.PersonID)
		require.ErrorIs(t, err, store.ErrPersonNotFound)

		exists, err := stores.Credentials.Exists(ctx, alice.PersonID)
		require.NoError(t, err)
		require.False(t, exists)
	})

	t.Run("uncommitted writes are isolated", func(t *testing.T) {
		stores := New().Stores()
		alice := newPerson("alice")

		err := stores.Transactor.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.Persons.Create(ctx, alice); err != nil {
				return err
			}
			_, err := tx.Persons.Get(ctx, alice.PersonID)
			return err
		})
		require.NoError(t, err)
	})
}

func TestPersonStore(t *testing.T) {
	ctx := context.Background()

	t.Run("create duplicate username", func(t *testing.T) {
		stores := New().Stores()
		require.NoError(t, stores.Persons.Create(ctx, newPerson("alice")))

		dup := newPerson("alice")
		dup.Email = "other@example.com"
		require.ErrorIs(t, stores.Persons.Create(ctx, dup), store.ErrUsernameTaken)
	})

	t.Run("create duplicate email", func(t *testing.T) {
		stores := New().Stores()
		require.NoError(t, stores.Persons.Create(ctx, newPerson("alice")))

		dup := newPerson("bob")
		dup.Email = "alice@example.com"
		require.ErrorIs(t, stores.Persons.Create(ctx, dup), store.ErrEmailTaken)
	})

	t.Run("returned values are copies", func(t *testing.T) {
		stores := New().Stores()
		alice := newPerson("alice")
		require.NoError(t, stores.Persons.Create(ctx, alice))

		got, err := stores.Persons.GetByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		got.Username = "mallory"

		again, err := stores.Persons.Get(ctx, alice.PersonID)
		require.NoError(t, err)
		require.Equal(t, "alice", again.Username)
	})

	t.Run("update email and username", func(t *testing.T) {
		stores := New().Stores()
		alice := newPerson("alice")
		bob := newPerson("bob")
		require.NoError(t, stores.Persons.Create(ctx, alice))
		require.NoError(t, stores.Persons.Create(ctx, bob))

		require.ErrorIs(t, stores.Persons.UpdateEmail(ctx, alice.PersonID, "bob@example.com"), store.ErrEmailTaken)
		require.ErrorIs(t, stores.Persons.UpdateUsername(ctx, alice.PersonID, "bob"), store.ErrUsernameTaken)

		require.NoError(t, stores.Persons.UpdateEmail(ctx, alice.PersonID, "alice@new.example.com"))
		require.NoError(t, stores.Persons.UpdateUsername(ctx, alice.PersonID, "alicia"))

		got, err := stores.Persons.GetByUsername(ctx, "alicia")
		require.NoError(t, err)
		require.Equal(t, "alice@new.example.com", got.Email)

		require.ErrorIs(t, stores.Persons.UpdateEmail(ctx, uuid.New(), "x@example.com"), store.ErrPersonNotFound)
	})

	t.Run("delete cascades", func(t *testing.T) {
		db := New()
		stores := db.Stores()
		alice := newPerson("alice")
		sess := newSession(alice.PersonID, time.Hour)

		err := stores.Transactor.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.Persons.Create(ctx, alice); err != nil {
				return err
			}
			if err := tx.Credentials.Create(ctx, &models.Credential{PersonID: alice.PersonID, Hash: "hash"}); err != nil {
				return err
			}
			return tx.Sessions.Create(ctx, sess)
		})
		require.NoError(t, err)

		role, err := stores.RBAC.UpsertRole(ctx, &models.Role{RoleID: uuid.Must(uuid.NewV7()), Name: "user"})
		require.NoError(t, err)
		require.NoError(t, stores.RBAC.AssignRole(ctx, alice.PersonID, role.RoleID))

		require.NoError(t, stores.Persons.Delete(ctx, alice.PersonID))

		_, err = stores.Credentials.GetByUsername(ctx, "alice")
		require.ErrorIs(t, err, store.ErrCredentialNotFound)
		_, err = stores.Sessions.Get(ctx, sess.SessionID)
		require.ErrorIs(t, err, store.ErrSessionNotFound)

		roles, err := stores.RBAC.RolesForPerson(ctx, alice.PersonID)
		require.NoError(t, err)
		require.Empty(t, roles)

		require.ErrorIs(t, stores.Persons.Delete(ctx, alice.PersonID), store.ErrPersonNotFound)
	})
}

func TestSessionStore(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a person", func(t *testing.T) {
		stores := New().Stores()
		err := stores.Sessions.Create(ctx, newSession(uuid.New(), time.Hour))
		require.ErrorIs(t, err, store.ErrPersonNotFound)
	})

	t.Run("expired sessions", func(t *testing.T) {
		stores := New().Stores()
		alice := newPerson("alice")
		require.NoError(t, stores.Persons.Create(ctx, alice))

		live := newSession(alice.PersonID, time.Hour)
		dead := newSession(alice.PersonID, -time.Minute)
		require.NoError(t, stores.Sessions.Create(ctx, live))
		require.NoError(t, stores.Sessions.Create(ctx, dead))

		_, err := stores.Sessions.Get(ctx, dead.SessionID)
		require.ErrorIs(t, err, store.ErrSessionExpired)

		count, err := stores.Sessions.DeleteExpired(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, count)

		_, err = stores.Sessions.Get(ctx, live.SessionID)
		require.NoError(t, err)
	})

	t.Run("delete by person", func(t *testing.T) {
		stores := New().Stores()
		alice := newPerson("alice")
		require.NoError(t, stores.Persons.Create(ctx, alice))
		require.NoError(t, stores.Sessions.Create(ctx, newSession(alice.PersonID, time.Hour)))
		require.NoError(t, stores.Sessions.Create(ctx, newSession(alice.PersonID, time.Hour)))

		count, err := stores.Sessions.DeleteByPerson(ctx, alice.PersonID)
		require.NoError(t, err)
		require.Equal(t, 2, count)
	})

	t.Run("delete missing session", func(t *testing.T) {
		stores := New().Stores()
		require.ErrorIs(t, stores.Sessions.Delete(ctx, uuid.New()), store.ErrSessionNotFound)
	})
}

func TestRBACStore(t *testing.T) {
	ctx := context.Background()
	stores := New().Stores()

	alice := newPerson("alice")
	require.NoError(t, stores.Persons.Create(ctx, alice))

	role, err := stores.RBAC.UpsertRole(ctx, &models.Role{RoleID: uuid.Must(uuid.NewV7()), Name: "user"})
	require.NoError(t, err)

	again, err := stores.RBAC.UpsertRole(ctx, &models.Role{RoleID: uuid.Must(uuid.NewV7()), Name: "user"})
	require.NoError(t, err)
	require.Equal(t, role.RoleID, again.RoleID)

	perm, err := stores.RBAC.UpsertPermission(ctx, &models.Permission{PermissionID: uuid.Must(uuid.NewV7()), Action: "read", Entity: "note", Access: "own"})
	require.NoError(t, err)

	require.NoError(t, stores.RBAC.GrantPermission(ctx, role.RoleID, perm.PermissionID))
	require.NoError(t, stores.RBAC.AssignRole(ctx, alice.PersonID, role.RoleID))

	t.Run("matching access", func(t *testing.T) {
		ok, err := stores.RBAC.HasPermission(ctx, alice.PersonID, store.PermissionQuery{Action: "read", Entity: "note", Access: []string{"own", "any"}})
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("nil access matches anything", func(t *testing.T) {
		ok, err := stores.RBAC.HasPermission(ctx, alice.PersonID, store.PermissionQuery{Action: "read", Entity: "note"})
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("wrong access", func(t *testing.T) {
		ok, err := stores.RBAC.HasPermission(ctx, alice.PersonID, store.PermissionQuery{Action: "read", Entity: "note", Access: []string{"any"}})
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("unknown references", func(t *testing.T) {
		require.ErrorIs(t, stores.RBAC.AssignRole(ctx, uuid.New(), role.RoleID), store.ErrPersonNotFound)
		require.ErrorIs(t, stores.RBAC.GrantPermission(ctx, uuid.New(), perm.PermissionID), store.ErrRoleNotFound)
		require.ErrorIs(t, stores.RBAC.GrantPermission(ctx, role.RoleID, uuid.New()), store.ErrPermissionNotFound)

		_, err := stores.RBAC.GetRoleByName(ctx, "admin")
		require.ErrorIs(t, err, store.ErrRoleNotFound)
	})
}

func TestVerificationStore(t *testing.T) {
	ctx := context.Background()
	stores := New().Stores()
	now := time.Now()

	v := &models.Verification{
		VerificationID: uuid.Must(uuid.NewV7()),
		Type:           "onboarding",
		Target:         "alice@example.com",
		CodeHash:       "hash",
		CreatedAt:      now,
		ExpiresAt:      now.Add(10 * time.Minute),
	}
	require.NoError(t, stores.Verifications.Upsert(ctx, v))

	t.Run("attempts count up to the limit", func(t *testing.T) {
		n, err := stores.Verifications.ReserveAttempt(ctx, v.VerificationID, 2, now)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		n, err = stores.Verifications.ReserveAttempt(ctx, v.VerificationID, 2, now)
		require.NoError(t, err)
		require.Equal(t, 2, n)

		_, err = stores.Verifications.ReserveAttempt(ctx, v.VerificationID, 2, now)
		require.ErrorIs(t, err, store.ErrVerificationLocked)
	})

	t.Run("expired code is locked", func(t *testing.T) {
		_, err := stores.Verifications.ReserveAttempt(ctx, v.VerificationID, 10, v.ExpiresAt)
		require.ErrorIs(t, err, store.ErrVerificationLocked)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := stores.Verifications.ReserveAttempt(ctx, uuid.Must(uuid.NewV7()), 10, now)
		require.ErrorIs(t, err, store.ErrVerificationNotFound)
	})

	t.Run("consume once", func(t *testing.T) {
		require.NoError(t, stores.Verifications.MarkConsumed(ctx, v.VerificationID, time.Now()))
		require.ErrorIs(t, stores.Verifications.MarkConsumed(ctx, v.VerificationID, time.Now()), store.ErrVerificationConsumed)
	})

	t.Run("missing row", func(t *testing.T) {
		_, err := stores.Verifications.Get(ctx, "onboarding", "nobody@example.com")
		require.ErrorIs(t, err, store.ErrVerificationNotFound)
		require.ErrorIs(t, stores.Verifications.MarkConsumed(ctx, uuid.New(), time.Now()), store.ErrVerificationNotFound)
	})

	t.Run("delete expired", func(t *testing.T) {
		count, err := stores.Verifications.DeleteExpired(ctx, now.Add(time.Hour))
		require.NoError(t, err)
		require.Equal(t, 1, count)
	})
}
