package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/portcullis/internal/store"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so every store can run
// inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewStores creates the PostgreSQL-backed identity stores.
// They share the connection pool, which stays owned by the caller.
func NewStores(pool *pgxpool.Pool) store.Stores {
	return store.Stores{
		Persons:       &PersonStore{db: pool},
		Credentials:   &CredentialStore{db: pool},
		Sessions:      &SessionStore{db: pool},
		RBAC:          &RBACStore{db: pool},
		Verifications: &VerificationStore{db: pool},
		Transactor:    &Transactor{pool: pool},
	}
}

// Transactor implements store.Transactor on a pgx transaction.
type Transactor struct {
	pool *pgxpool.Pool
}

// WithinTx commits when fn returns nil and rolls back otherwise.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return pgx.BeginFunc(ctx, t.pool, func(tx pgx.Tx) error {
		return fn(ctx, store.Tx{
			Persons:     &PersonStore{db: tx},
			Credentials: &CredentialStore{db: tx},
			Sessions:    &SessionStore{db: tx},
			RBAC:        &RBACStore{db: tx},
		})
	})
}
