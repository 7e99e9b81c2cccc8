package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/portcullis/internal/models"
)

// Sentinel errors for verification ledger operations
var (
	ErrVerificationNotFound = errors.New("verification not found")
	ErrVerificationConsumed = errors.New("verification already consumed")
	ErrVerificationLocked   = errors.New("verification locked")
)

// VerificationStore is the ledger of issued one-time codes.
type VerificationStore interface {
	// Upsert stores a freshly issued code, replacing any row with the same (type, target).
	Upsert(ctx context.Context, v *models.Verification) error

	// Get retrieves the current row for (type, target).
	// Returns ErrVerificationNotFound if nothing was issued.
	Get(ctx context.Context, typ, target string) (*models.Verification, error)

	// ReserveAttempt atomically counts one attempt against a code that is unconsumed,
	// unexpired at now and below maxAttempts, and returns the new count. A code that
	// fails any of those conditions returns ErrVerificationLocked.
	ReserveAttempt(ctx context.Context, verificationID uuid.UUID, maxAttempts int, now time.Time) (int, error)

	// MarkConsumed flags the code as used. Only the first caller succeeds; later
	// calls return ErrVerificationConsumed.
	MarkConsumed(ctx context.Context, verificationID uuid.UUID, at time.Time) error

	// DeleteExpired removes rows whose expiry is before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}
