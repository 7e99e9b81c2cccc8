package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wolfeidau/portcullis/internal/models"
)

// Sentinel errors for role and permission operations
var (
	ErrRoleNotFound       = errors.New("role not found")
	ErrPermissionNotFound = errors.New("permission not found")
)

// PermissionQuery describes a permission check.
// A nil Access matches any stored access value.
type PermissionQuery struct {
	Action string
	Entity string
	Access []string
}

// RBACStore manages roles, permissions and their assignments.
type RBACStore interface {
	// UpsertRole creates a role or returns the existing one with the same name.
	UpsertRole(ctx context.Context, role *models.Role) (*models.Role, error)

	// GetRoleByName retrieves a role by its unique name.
	// Returns ErrRoleNotFound if the role doesn't exist.
	GetRoleByName(ctx context.Context, name string) (*models.Role, error)

	// UpsertPermission creates a permission or returns the existing row with the
	// same (action, entity, access).
	UpsertPermission(ctx context.Context, perm *models.Permission) (*models.Permission, error)

	// GrantPermission attaches a permission to a role. Granting twice is a no-op.
	GrantPermission(ctx context.Context, roleID, permissionID uuid.UUID) error

	// AssignRole gives a person a role. Assigning twice is a no-op.
	AssignRole(ctx context.Context, personID, roleID uuid.UUID) error

	// RolesForPerson lists the roles assigned to a person, ordered by name.
	RolesForPerson(ctx context.Context, personID uuid.UUID) ([]*models.Role, error)

	// HasPermission reports whether any of the person's roles grants a permission
	// row matching the query.
	HasPermission(ctx context.Context, personID uuid.UUID, q PermissionQuery) (bool, error)
}
