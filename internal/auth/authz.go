package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	httpx "github.com/wolfeidau/portcullis/internal/http"
	"github.com/wolfeidau/portcullis/internal/session"
	"github.com/wolfeidau/portcullis/internal/store"
	"github.com/wolfeidau/portcullis/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Action is the verb of a permission.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Entity is the kind of resource a permission applies to.
type Entity string

const (
	EntityUser Entity = "user"
	EntityNote Entity = "note"
)

// Access scopes a permission to the caller's own resources or to any resource.
type Access string

const (
	AccessOwn Access = "own"
	AccessAny Access = "any"
)

var (
	validActions  = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}
	validEntities = []Entity{EntityUser, EntityNote}
	validAccesses = []Access{AccessOwn, AccessAny}
)

// ErrInvalidPermission is returned for malformed permission strings.
var ErrInvalidPermission = errors.New("invalid permission")

// Permission is a parsed authorization requirement. A nil Access places no
// restriction on the granted access value.
type Permission struct {
	Action Action   `json:"action"`
	Entity Entity   `json:"entity"`
	Access []Access `json:"access,omitempty"`
}

// ParsePermission parses "action:entity" or "action:entity:access[,access]".
// Tokens are lowercase; duplicate access values are collapsed.
func ParsePermission(s string) (Permission, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Permission{}, fmt.Errorf("%w: %q must be action:entity[:access]", ErrInvalidPermission, s)
	}

	p := Permission{Action: Action(parts[0]), Entity: Entity(parts[1])}
	if !slices.Contains(validActions, p.Action) {
		return Permission{}, fmt.Errorf("%w: unknown action %q", ErrInvalidPermission, parts[0])
	}
	if !slices.Contains(validEntities, p.Entity) {
		return Permission{}, fmt.Errorf("%w: unknown entity %q", ErrInvalidPermission, parts[1])
	}

	if len(parts) == 3 {
		for _, raw := range strings.Split(parts[2], ",") {
			access := Access(raw)
			if !slices.Contains(validAccesses, access) {
				return Permission{}, fmt.Errorf("%w: unknown access %q", ErrInvalidPermission, raw)
			}
			if !slices.Contains(p.Access, access) {
				p.Access = append(p.Access, access)
			}
		}
	}

	return p, nil
}

// MustParse is ParsePermission for constant strings; it panics on error.
func MustParse(s string) Permission {
	p, err := ParsePermission(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the permission in its wire format.
func (p Permission) String() string {
	s := string(p.Action) + ":" + string(p.Entity)
	if len(p.Access) == 0 {
		return s
	}
	access := make([]string, len(p.Access))
	for i, a := range p.Access {
		access[i] = string(a)
	}
	return s + ":" + strings.Join(access, ",")
}

func (p Permission) query() store.PermissionQuery {
	q := store.PermissionQuery{Action: string(p.Action), Entity: string(p.Entity)}
	for _, a := range p.Access {
		q.Access = append(q.Access, string(a))
	}
	return q
}

// Scoped returns p restricted by ownership. An owner is satisfied by either
// own or any; everyone else needs any.
func (p Permission) Scoped(isOwner bool) Permission {
	access := []Access{AccessAny}
	if isOwner {
		access = []Access{AccessOwn, AccessAny}
	}
	return Permission{Action: p.Action, Entity: p.Entity, Access: access}
}

// UnauthorizedError is returned when none of a person's roles grant the
// required permission. It renders as a 403.
type UnauthorizedError struct {
	Required Permission
}

func (e *UnauthorizedError) Error() string {
	return "Unauthorized: required permissions: " + e.Required.String()
}

// StatusCode implements httpx.StatusError.
func (e *UnauthorizedError) StatusCode() int {
	return http.StatusForbidden
}

// UnauthorizedBody is the JSON payload of a 403 response.
type UnauthorizedBody struct {
	Error              string     `json:"error"`
	RequiredPermission Permission `json:"requiredPermission"`
	Message            string     `json:"message"`
}

// ResponseBody implements httpx.StatusError.
func (e *UnauthorizedError) ResponseBody() any {
	return UnauthorizedBody{
		Error:              "Unauthorized",
		RequiredPermission: e.Required,
		Message:            e.Error(),
	}
}

var _ httpx.StatusError = (*UnauthorizedError)(nil)

// Authorizer decides whether a person's roles grant a permission.
// There is no superuser bypass: admins are authorized only through grants.
type Authorizer struct {
	rbac store.RBACStore
}

// NewAuthorizer creates an authorizer backed by rbac.
func NewAuthorizer(rbac store.RBACStore) *Authorizer {
	return &Authorizer{rbac: rbac}
}

// Authorize returns personID when one of their roles grants perm, otherwise
// an *UnauthorizedError.
func (a *Authorizer) Authorize(ctx context.Context, personID uuid.UUID, perm Permission) (uuid.UUID, error) {
	ok, err := a.rbac.HasPermission(ctx, personID, perm.query())
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to check permission %s: %w", perm, err)
	}

	telemetry.RecordResult(ctx, telemetry.GetMetrics().AuthorizationChecksTotal, ok,
		attribute.String("permission", perm.String()))

	if !ok {
		log.Debug().
			Str("person_id", personID.String()).
			Str("permission", perm.String()).
			Msg("Permission denied")
		return uuid.Nil, &UnauthorizedError{Required: perm}
	}
	return personID, nil
}

// Can is the boolean form of Authorize.
func (a *Authorizer) Can(ctx context.Context, personID uuid.UUID, perm Permission) (bool, error) {
	_, err := a.Authorize(ctx, personID, perm)
	var unauthorized *UnauthorizedError
	if errors.As(err, &unauthorized) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IdentityResolver resolves the caller of a request, redirecting anonymous callers.
type IdentityResolver interface {
	RequireIdentity(w http.ResponseWriter, r *http.Request, opts session.RequireOptions) (session.Identity, error)
}

// RequirePersonWithPermission resolves the caller and authorizes perm. It
// returns a *httpx.Redirect for anonymous callers and an *UnauthorizedError
// when the permission is missing.
func (a *Authorizer) RequirePersonWithPermission(w http.ResponseWriter, r *http.Request, sessions IdentityResolver, perm Permission) (uuid.UUID, error) {
	id, err := sessions.RequireIdentity(w, r, session.RequireOptions{})
	if err != nil {
		return uuid.Nil, err
	}
	return a.Authorize(r.Context(), id.PersonID, perm)
}

// RequirePermission is a middleware that only lets through callers holding perm.
func (a *Authorizer) RequirePermission(sessions IdentityResolver, perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return httpx.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			id, err := sessions.RequireIdentity(w, r, session.RequireOptions{})
			if err != nil {
				return err
			}
			if _, err := a.Authorize(r.Context(), id.PersonID, perm); err != nil {
				return err
			}
			next.ServeHTTP(w, r.WithContext(session.WithIdentity(r.Context(), id)))
			return nil
		})
	}
}
