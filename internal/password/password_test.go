package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHash(t *testing.T) {
	hash, err := Hash("Secret123!")
	require.NoError(t, err)
	require.NotEqual(t, "Secret123!", hash)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	require.Equal(t, Cost, cost)

	t.Run("salted", func(t *testing.T) {
		again, err := Hash("Secret123!")
		require.NoError(t, err)
		require.NotEqual(t, hash, again)
	})

	t.Run("too long", func(t *testing.T) {
		_, err := Hash(strings.Repeat("a", MaxLength+1))
		require.ErrorIs(t, err, ErrTooLong)
	})
}

func TestVerify(t *testing.T) {
	hash, err := Hash("Secret123!")
	require.NoError(t, err)

	tests := []struct {
		name     string
		password string
		hash     string
		expected bool
	}{
		{"correct password", "Secret123!", hash, true},
		{"wrong password", "wrong", hash, false},
		{"empty hash", "Secret123!", "", false},
		{"garbage hash", "Secret123!", "not-a-hash", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, Verify(tt.password, tt.hash))
		})
	}
}

func TestVerifyMissing(t *testing.T) {
	require.False(t, VerifyMissing("Secret123!"))
	require.False(t, VerifyMissing(""))
}
