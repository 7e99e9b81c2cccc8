package models

import (
	"time"

	"github.com/google/uuid"
)

// Verification is an issued one-time code. Only one row exists per (Type, Target);
// issuing again replaces it.
type Verification struct {
	VerificationID uuid.UUID
	Type           string
	Target         string
	CodeHash       string // base58(HMAC-SHA256(secret, type|target|code))
	Attempts       int

	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// IsConsumed returns true once the code has been successfully used.
func (v *Verification) IsConsumed() bool {
	return v.ConsumedAt != nil
}

// IsExpiredAt returns true if the code can no longer be used at the given time.
func (v *Verification) IsExpiredAt(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}
