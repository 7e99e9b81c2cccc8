package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/wolfeidau/portcullis/internal/models"
	"github.com/wolfeidau/portcullis/internal/store"
)

// DB is an in-memory implementation of the identity stores.
// This implementation is for testing and development only - data is lost on restart.
type DB struct {
	mu sync.RWMutex
	st *state
}

// New creates an empty in-memory database.
func New() *DB {
	return &DB{st: newState()}
}

// Stores returns the store handle backed by this database.
func (db *DB) Stores() store.Stores {
	return store.Stores{
		Persons:       &PersonStore{h: db},
		Credentials:   &CredentialStore{h: db},
		Sessions:      &SessionStore{h: db},
		RBAC:          &RBACStore{h: db},
		Verifications: &VerificationStore{h: db},
		Transactor:    db,
	}
}

// WithinTx runs fn against a private copy of the data which replaces the live
// copy only when fn succeeds. The database is write-locked for the duration.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	h := &txHandle{st: db.st.clone()}
	err := fn(ctx, store.Tx{
		Persons:     &PersonStore{h: h},
		Credentials: &CredentialStore{h: h},
		Sessions:    &SessionStore{h: h},
		RBAC:        &RBACStore{h: h},
	})
	if err != nil {
		return err
	}

	db.st = h.st
	return nil
}

func (db *DB) view(fn func(st *state) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return fn(db.st)
}

func (db *DB) update(fn func(st *state) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn(db.st)
}

// handle abstracts over the live database and an open transaction.
type handle interface {
	view(fn func(st *state) error) error
	update(fn func(st *state) error) error
}

// txHandle operates on a cloned state; the DB lock is already held by WithinTx.
type txHandle struct {
	st *state
}

func (h *txHandle) view(fn func(st *state) error) error   { return fn(h.st) }
func (h *txHandle) update(fn func(st *state) error) error { return fn(h.st) }

type verificationKey struct {
	typ    string
	target string
}

// state holds every table. Row values are treated as immutable: updates store a
// fresh copy so a shallow map copy is enough to snapshot them.
type state struct {
	persons       map[uuid.UUID]*models.Person
	credentials   map[uuid.UUID]*models.Credential // person_id -> credential
	sessions      map[uuid.UUID]*models.Session
	roles         map[uuid.UUID]*models.Role
	permissions   map[uuid.UUID]*models.Permission
	personRoles   map[uuid.UUID]map[uuid.UUID]struct{} // person_id -> role_ids
	rolePerms     map[uuid.UUID]map[uuid.UUID]struct{} // role_id -> permission_ids
	verifications map[verificationKey]*models.Verification
}

func newState() *state {
	return &state{
		persons:       make(map[uuid.UUID]*models.Person),
		credentials:   make(map[uuid.UUID]*models.Credential),
		sessions:      make(map[uuid.UUID]*models.Session),
		roles:         make(map[uuid.UUID]*models.Role),
		permissions:   make(map[uuid.UUID]*models.Permission),
		personRoles:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
		rolePerms:     make(map[uuid.UUID]map[uuid.UUID]struct{}),
		verifications: make(map[verificationKey]*models.Verification),
	}
}

func (s *state) clone() *state {
	return &state{
		persons:       maps.Clone(s.persons),
		credentials:   maps.Clone(s.credentials),
		sessions:      maps.Clone(s.sessions),
		roles:         maps.Clone(s.roles),
		permissions:   maps.Clone(s.permissions),
		personRoles:   cloneSets(s.personRoles),
		rolePerms:     cloneSets(s.rolePerms),
		verifications: maps.Clone(s.verifications),
	}
}

func cloneSets(in map[uuid.UUID]map[uuid.UUID]struct{}) map[uuid.UUID]map[uuid.UUID]struct{} {
	out := make(map[uuid.UUID]map[uuid.UUID]struct{}, len(in))
	for k, v := range in {
		out[k] = maps.Clone(v)
	}
	return out
}
