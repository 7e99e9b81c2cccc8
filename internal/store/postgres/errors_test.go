package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/portcullis/internal/store"
)

func TestMapPostgresError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		require.NoError(t, mapPostgresError(nil))
	})

	t.Run("non postgres error passes through", func(t *testing.T) {
		err := errors.New("boom")
		require.Equal(t, err, mapPostgresError(err))
	})

	tests := []struct {
		name       string
		code       string
		constraint string
		want       error
	}{
		{"username taken", pgerrcode.UniqueViolation, "person_username_unique", store.ErrUsernameTaken},
		{"email taken", pgerrcode.UniqueViolation, "person_email_unique", store.ErrEmailTaken},
		{"credential exists", pgerrcode.UniqueViolation, "password_pk", store.ErrCredentialAlreadyExists},
		{"session for missing person", pgerrcode.ForeignKeyViolation, "session_person_id_fkey", store.ErrPersonNotFound},
		{"grant for missing role", pgerrcode.ForeignKeyViolation, "role_permission_role_id_fkey", store.ErrRoleNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapPostgresError(&pgconn.PgError{Code: tt.code, ConstraintName: tt.constraint})
			require.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("unknown constraint keeps the driver error", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "other_unique"}
		err := mapPostgresError(pgErr)
		require.ErrorIs(t, err, pgErr)
		require.True(t, isUniqueViolation(err))
	})

	t.Run("serialization failure", func(t *testing.T) {
		err := mapPostgresError(&pgconn.PgError{Code: pgerrcode.SerializationFailure})
		require.ErrorContains(t, err, "retryable")
	})
}
