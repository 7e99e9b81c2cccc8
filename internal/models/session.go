package models

import (
	"time"

	"github.com/google/uuid"
)

// Session represents a person's authenticated session.
// The session ID is stored in a signed cookie, while all session data lives server-side.
type Session struct {
	SessionID uuid.UUID // random (v4) - this is the only value stored in the cookie
	PersonID  uuid.UUID // Who is logged in

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time

	// Optional audit metadata
	UserAgent string
	IPAddress string
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return s.IsExpiredAt(time.Now())
}

// IsExpiredAt returns true if the session has expired at the given time.
func (s *Session) IsExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
