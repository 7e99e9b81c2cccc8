// Package password hashes and verifies credentials with bcrypt.
package password

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Cost is the fixed bcrypt work factor.
const Cost = 10

// MaxLength is the longest password bcrypt will accept, in bytes.
const MaxLength = 72

var (
	// ErrHashFailure means the hasher itself failed. It signals a broken
	// environment and must not be retried or shown to the user.
	ErrHashFailure = errors.New("password hashing failed")

	// ErrTooLong is returned for passwords bcrypt cannot hash.
	ErrTooLong = errors.New("password too long")
)

// Hash returns the bcrypt hash of password.
func Hash(password string) (string, error) {
	if len(password) > MaxLength {
		return "", ErrTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), Cost)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrHashFailure, err)
	}

	return string(hash), nil
}

// Verify reports whether password matches hash. An empty hash never matches.
func Verify(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

var dummyHash = sync.OnceValue(func() []byte {
	hash, _ := bcrypt.GenerateFromPassword([]byte("portcullis-dummy-password"), Cost)
	return hash
})

// VerifyMissing burns the same time as Verify for a person with no stored hash
// so response timing does not reveal whether an account exists. It always fails.
func VerifyMissing(password string) bool {
	_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
	return false
}
