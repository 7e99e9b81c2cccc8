package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Person is the root identity of the system.
// Username and email are stored lower-cased and are unique.
type Person struct {
	PersonID uuid.UUID // UUIDv7
	Username string
	Email    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Credential holds the password hash for a person. A person has at most one.
type Credential struct {
	PersonID uuid.UUID
	Hash     string
}

// NormalizeUsername lower-cases and trims a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
