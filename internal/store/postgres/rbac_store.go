package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/wolfeidau/portcullis/internal/models"
	"github.com/wolfeidau/portcullis/internal/store"
)

// RBACStore implements store.RBACStore using PostgreSQL.
type RBACStore struct {
	db querier
}

var _ store.RBACStore = (*RBACStore)(nil)

// UpsertRole creates a role or returns the existing one with the same name.
func (s *RBACStore) UpsertRole(ctx context.Context, role *models.Role) (*models.Role, error) {
	// The no-op update makes RETURNING yield the existing row on conflict.
	query := `
		INSERT INTO role (id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, description, created_at, updated_at
	`

	var r models.Role
	err := s.db.QueryRow(ctx, query,
		role.RoleID,
		role.Name,
		role.Description,
		role.CreatedAt,
		role.UpdatedAt,
	).Scan(&r.RoleID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert role: %w", err)
	}

	return &r, nil
}

// GetRoleByName retrieves a role by its unique name.
func (s *RBACStore) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	query := `SELECT id, name, description, created_at, updated_at FROM role WHERE name = $1`

	var r models.Role
	err := s.db.QueryRow(ctx, query, name).Scan(&r.RoleID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	return &r, nil
}

// UpsertPermission creates a permission or returns the existing matching row.
func (s *RBACStore) UpsertPermission(ctx context.Context, perm *models.Permission) (*models.Permission, error) {
	query := `
		INSERT INTO permission (id, action, entity, access, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (action, entity, access) DO UPDATE SET action = EXCLUDED.action
		RETURNING id, action, entity, access, description, created_at, updated_at
	`

	var p models.Permission
	err := s.db.QueryRow(ctx, query,
		perm.PermissionID,
		perm.Action,
		perm.Entity,
		perm.Access,
		perm.Description,
		perm.CreatedAt,
		perm.UpdatedAt,
	).Scan(&p.PermissionID, &p.Action, &p.Entity, &p.Access, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert permission: %w", err)
	}

	return &p, nil
}

// GrantPermission attaches a permission to a role.
func (s *RBACStore) GrantPermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO role_permission (role_id, permission_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, roleID, permissionID)
	if err != nil {
		return fmt.Errorf("failed to grant permission: %w", mapPostgresError(err))
	}

	return nil
}

// AssignRole gives a person a role.
func (s *RBACStore) AssignRole(ctx context.Context, personID, roleID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO role_person (role_id, person_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, roleID, personID)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", mapPostgresError(err))
	}

	return nil
}

// RolesForPerson lists the roles assigned to a person, ordered by name.
func (s *RBACStore) RolesForPerson(ctx context.Context, personID uuid.UUID) ([]*models.Role, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.id, r.name, r.description, r.created_at, r.updated_at
		FROM role r
		JOIN role_person rp ON rp.role_id = r.id
		WHERE rp.person_id = $1
		ORDER BY r.name
	`, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*models.Role
	for rows.Next() {
		var r models.Role
		if err := rows.Scan(&r.RoleID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}

	return roles, nil
}

// HasPermission reports whether any of the person's roles grants a matching row.
// A nil access list matches every access value.
func (s *RBACStore) HasPermission(ctx context.Context, personID uuid.UUID, q store.PermissionQuery) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM role_person rp
			JOIN role_permission rpm ON rpm.role_id = rp.role_id
			JOIN permission p ON p.id = rpm.permission_id
			WHERE rp.person_id = $1
			  AND p.action = $2
			  AND p.entity = $3
			  AND ($4::text[] IS NULL OR p.access = ANY($4::text[]))
		)
	`

	var found bool
	if err := s.db.QueryRow(ctx, query, personID, q.Action, q.Entity, q.Access).Scan(&found); err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}

	return found, nil
}
