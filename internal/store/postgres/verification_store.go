package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/portcullis/internal/models"
	"github.com/wolfeidau/portcullis/internal/store"
)

// VerificationStore implements store.VerificationStore using PostgreSQL.
type VerificationStore struct {
	db querier
}

var _ store.VerificationStore = (*VerificationStore)(nil)

// Upsert stores a freshly issued code, replacing any row for the same (type, target).
// Replacing resets the attempt counter and consumption flag.
func (s *VerificationStore) Upsert(ctx context.Context, v *models.Verification) error {
	query := `
		INSERT INTO verification (
			id, type, target, code_hash, attempts, created_at, expires_at, consumed_at
		) VALUES (
			$1, $2, $3, $4, 0, $5, $6, NULL
		)
		ON CONFLICT (type, target) DO UPDATE SET
			id = EXCLUDED.id,
			code_hash = EXCLUDED.code_hash,
			attempts = 0,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			consumed_at = NULL
	`

	_, err := s.db.Exec(ctx, query,
		v.VerificationID,
		v.Type,
		v.Target,
		v.CodeHash,
		v.CreatedAt,
		v.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert verification: %w", err)
	}

	log.Debug().
		Str("verification_id", v.VerificationID.String()).
		Str("type", v.Type).
		Msg("Issued verification")

	return nil
}

// Get retrieves the current row for (type, target).
func (s *VerificationStore) Get(ctx context.Context, typ, target string) (*models.Verification, error) {
	query := `
		SELECT id, type, target, code_hash, attempts, created_at, expires_at, consumed_at
		FROM verification
		WHERE type = $1 AND target = $2
	`

	var v models.Verification
	err := s.db.QueryRow(ctx, query, typ, target).Scan(
		&v.VerificationID,
		&v.Type,
		&v.Target,
		&v.CodeHash,
		&v.Attempts,
		&v.CreatedAt,
		&v.ExpiresAt,
		&v.ConsumedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrVerificationNotFound
		}
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}

	return &v, nil
}

// ReserveAttempt counts an attempt in a single conditional update, so concurrent
// guesses can never exceed maxAttempts.
func (s *VerificationStore) ReserveAttempt(ctx context.Context, verificationID uuid.UUID, maxAttempts int, now time.Time) (int, error) {
	var attempts int
	err := s.db.QueryRow(ctx,
		`UPDATE verification SET attempts = attempts + 1
		 WHERE id = $1 AND consumed_at IS NULL AND attempts < $2 AND expires_at > $3
		 RETURNING attempts`,
		verificationID, maxAttempts, now,
	).Scan(&attempts)
	if err == nil {
		return attempts, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to reserve verification attempt: %w", err)
	}

	exists, err := s.exists(ctx, verificationID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, store.ErrVerificationNotFound
	}

	return 0, store.ErrVerificationLocked
}

// MarkConsumed flags the code as used. The conditional update lets exactly one
// concurrent caller win.
func (s *VerificationStore) MarkConsumed(ctx context.Context, verificationID uuid.UUID, at time.Time) error {
	result, err := s.db.Exec(ctx,
		`UPDATE verification SET consumed_at = $2 WHERE id = $1 AND consumed_at IS NULL`,
		verificationID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to consume verification: %w", err)
	}

	if result.RowsAffected() == 1 {
		return nil
	}

	exists, err := s.exists(ctx, verificationID)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrVerificationNotFound
	}

	return store.ErrVerificationConsumed
}

func (s *VerificationStore) exists(ctx context.Context, verificationID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM verification WHERE id = $1)`, verificationID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check verification: %w", err)
	}
	return exists, nil
}

// DeleteExpired removes rows whose expiry is before the given time.
func (s *VerificationStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.Exec(ctx, `DELETE FROM verification WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired verifications: %w", err)
	}

	count := int(result.RowsAffected())

	if count > 0 {
		log.Info().
			Int("count", count).
			Msg("Deleted expired verifications")
	}

	return count, nil
}
