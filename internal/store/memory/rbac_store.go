package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/wolfeidau/portcullis/internal/models"
	"github.com/wolfeidau/portcullis/internal/store"
)

// RBACStore implements store.RBACStore using in-memory storage.
type RBACStore struct {
	h handle
}

var _ store.RBACStore = (*RBACStore)(nil)

// UpsertRole creates a role or returns the existing one with the same name.
func (s *RBACStore) UpsertRole(ctx context.Context, role *models.Role) (*models.Role, error) {
	var result *models.Role
	err := s.h.update(func(st *state) error {
		for _, r := range st.roles {
			if r.Name == role.Name {
				clone := *r
				result = &clone
				return nil
			}
		}
		clone := *role
		st.roles[role.RoleID] = &clone
		out := clone
		result = &out
		return nil
	})
	return result, err
}

// GetRoleByName retrieves a role by its unique name.
func (s *RBACStore) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	var result *models.Role
	err := s.h.view(func(st *state) error {
		for _, r := range st.roles {
			if r.Name == name {
				clone := *r
				result = &clone
				return nil
			}
		}
		return store.ErrRoleNotFound
	})
	return result, err
}

// UpsertPermission creates a permission or returns the existing matching row.
func (s *RBACStore) UpsertPermission(ctx context.Context, perm *models.Permission) (*models.Permission, error) {
	var result *models.Permission
	err := s.h.update(func(st *state) error {
		for _, p := range st.permissions {
			if p.Action == perm.Action && p.Entity == perm.Entity && p.Access == perm.Access {
				clone := *p
				result = &clone
				return nil
			}
		}
		clone := *perm
		st.permissions[perm.PermissionID] = &clone
		out := clone
		result = &out
		return nil
	})
	return result, err
}

// GrantPermission attaches a permission to a role.
func (s *RBACStore) GrantPermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	return s.h.update(func(st *state) error {
		if _, ok := st.roles[roleID]; !ok {
			return store.ErrRoleNotFound
		}
		if _, ok := st.permissions[permissionID]; !ok {
			return store.ErrPermissionNotFound
		}
		if st.rolePerms[roleID] == nil {
			st.rolePerms[roleID] = make(map[uuid.UUID]struct{})
		}
		st.rolePerms[roleID][permissionID] = struct{}{}
		return nil
	})
}

// AssignRole gives a person a role.
func (s *RBACStore) AssignRole(ctx context.Context, personID, roleID uuid.UUID) error {
	return s.h.update(func(st *state) error {
		if _, ok := st.persons[personID]; !ok {
			return store.ErrPersonNotFound
		}
		if _, ok := st.roles[roleID]; !ok {
			return store.ErrRoleNotFound
		}
		if st.personRoles[personID] == nil {
			st.personRoles[personID] = make(map[uuid.UUID]struct{})
		}
		st.personRoles[personID][roleID] = struct{}{}
		return nil
	})
}

// RolesForPerson lists the roles assigned to a person, ordered by name.
func (s *RBACStore) RolesForPerson(ctx context.Context, personID uuid.UUID) ([]*models.Role, error) {
	var roles []*models.Role
	err := s.h.view(func(st *state) error {
		for roleID := range st.personRoles[personID] {
			if r, ok := st.roles[roleID]; ok {
				clone := *r
				roles = append(roles, &clone)
			}
		}
		return nil
	})
	slices.SortFunc(roles, func(a, b *models.Role) int { return strings.Compare(a.Name, b.Name) })
	return roles, err
}

// HasPermission reports whether any of the person's roles grants a matching row.
func (s *RBACStore) HasPermission(ctx context.Context, personID uuid.UUID, q store.PermissionQuery) (bool, error) {
	found := false
	err := s.h.view(func(st *state) error {
		for roleID := range st.personRoles[personID] {
			for permID := range st.rolePerms[roleID] {
				p, ok := st.permissions[permID]
				if !ok || p.Action != q.Action || p.Entity != q.Entity {
					continue
				}
				if q.Access == nil || slices.Contains(q.Access, p.Access) {
					found = true
					return nil
				}
			}
		}
		return nil
	})
	return found, err
}
