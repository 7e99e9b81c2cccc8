package auth

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/portcullis/internal/models"
	"github.com/wolfeidau/portcullis/internal/store"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog describes the roles, the permission matrix and which role new
// sign-ups receive.
type Catalog struct {
	DefaultRole string        `yaml:"default_role"`
	Entities    []Entity      `yaml:"entities"`
	Actions     []Action      `yaml:"actions"`
	Accesses    []Access      `yaml:"accesses"`
	Roles       []CatalogRole `yaml:"roles"`
}

// CatalogRole grants every permission whose access is listed.
type CatalogRole struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Access      []Access `yaml:"access"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every token against the known enums and that the default
// role is defined.
func (c *Catalog) Validate() error {
	for _, e := range c.Entities {
		if !slices.Contains(validEntities, e) {
			return fmt.Errorf("catalog: unknown entity %q", e)
		}
	}
	for _, a := range c.Actions {
		if !slices.Contains(validActions, a) {
			return fmt.Errorf("catalog: unknown action %q", a)
		}
	}
	for _, a := range c.Accesses {
		if !slices.Contains(validAccesses, a) {
			return fmt.Errorf("catalog: unknown access %q", a)
		}
	}

	seen := map[string]bool{}
	for _, role := range c.Roles {
		if role.Name == "" {
			return errors.New("catalog: role name is required")
		}
		if seen[role.Name] {
			return fmt.Errorf("catalog: duplicate role %q", role.Name)
		}
		seen[role.Name] = true
		for _, a := range role.Access {
			if !slices.Contains(c.Accesses, a) {
				return fmt.Errorf("catalog: role %q grants undeclared access %q", role.Name, a)
			}
		}
	}

	if c.DefaultRole != "" && !seen[c.DefaultRole] {
		return fmt.Errorf("catalog: default role %q is not defined", c.DefaultRole)
	}
	return nil
}

// Permissions expands the matrix into one single-access permission per row.
func (c *Catalog) Permissions() []Permission {
	perms := make([]Permission, 0, len(c.Entities)*len(c.Actions)*len(c.Accesses))
	for _, entity := range c.Entities {
		for _, action := range c.Actions {
			for _, access := range c.Accesses {
				perms = append(perms, Permission{Action: action, Entity: entity, Access: []Access{access}})
			}
		}
	}
	return perms
}

// Apply seeds the catalog into rbac. It is idempotent.
func (c *Catalog) Apply(ctx context.Context, rbac store.RBACStore) error {
	now := time.Now().UTC()

	byAccess := map[Access][]uuid.UUID{}
	for _, p := range c.Permissions() {
		row, err := rbac.UpsertPermission(ctx, &models.Permission{
			PermissionID: uuid.Must(uuid.NewV7()),
			Action:       string(p.Action),
			Entity:       string(p.Entity),
			Access:       string(p.Access[0]),
			Description:  fmt.Sprintf("%s %s (%s)", p.Action, p.Entity, p.Access[0]),
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert permission %s: %w", p, err)
		}
		byAccess[p.Access[0]] = append(byAccess[p.Access[0]], row.PermissionID)
	}

	for _, r := range c.Roles {
		role, err := rbac.UpsertRole(ctx, &models.Role{
			RoleID:      uuid.Must(uuid.NewV7()),
			Name:        r.Name,
			Description: r.Description,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert role %s: %w", r.Name, err)
		}

		for _, access := range r.Access {
			for _, permissionID := range byAccess[access] {
				if err := rbac.GrantPermission(ctx, role.RoleID, permissionID); err != nil {
					return fmt.Errorf("failed to grant permission to role %s: %w", r.Name, err)
				}
			}
		}
	}

	log.Info().
		Int("roles", len(c.Roles)).
		Int("permissions", len(c.Entities)*len(c.Actions)*len(c.Accesses)).
		Msg("RBAC catalog applied")

	return nil
}

// AssignRole gives personID the named role.
func AssignRole(ctx context.Context, rbac store.RBACStore, personID uuid.UUID, roleName string) error {
	role, err := rbac.GetRoleByName(ctx, roleName)
	if err != nil {
		return fmt.Errorf("failed to get role %s: %w", roleName, err)
	}
	if err := rbac.AssignRole(ctx, personID, role.RoleID); err != nil {
		return fmt.Errorf("failed to assign role %s: %w", roleName, err)
	}
	return nil
}

// AssignDefaultRole gives personID the catalog's default role, if one is set.
func (c *Catalog) AssignDefaultRole(ctx context.Context, rbac store.RBACStore, personID uuid.UUID) error {
	if c.DefaultRole == "" {
		return nil
	}
	return AssignRole(ctx, rbac, personID, c.DefaultRole)
}
