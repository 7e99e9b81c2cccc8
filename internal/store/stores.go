package store

import (
	"context"
	"errors"
)

// Stores groups the identity stores behind one explicitly constructed handle.
// Callers own its lifecycle; there is no process-wide instance.
type Stores struct {
	Persons       PersonStore
	Credentials   CredentialReader
	Sessions      SessionStore
	RBAC          RBACStore
	Verifications VerificationStore

	Transactor Transactor
}

// Validate checks that every store has been provided.
func (s Stores) Validate() error {
	if s.Persons == nil || s.Credentials == nil || s.Sessions == nil ||
		s.RBAC == nil || s.Verifications == nil || s.Transactor == nil {
		return errors.New("all stores (persons, credentials, sessions, rbac, verifications, transactor) are required")
	}
	return nil
}

// Tx is the transactional view of the stores. Writes made through it are
// committed together or not at all.
type Tx struct {
	Persons     PersonStore
	Credentials CredentialStore
	Sessions    SessionStore
	RBAC        RBACStore
}

// Transactor runs a function inside a single store transaction.
type Transactor interface {
	// WithinTx commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
