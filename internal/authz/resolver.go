package authz

import (
	"context"
	"fmt"
	"log/slog"
)

// RoleGrant is one active role assignment for a principal. Scope, when
// non-nil, binds the grant to a subtree of the hierarchy; an unbound grant
// applies wherever the principal's owned scopes reach.
type RoleGrant struct {
	Role  string
	Scope *Scope
}

// PermissionStore is the engine's read view of persisted role data.
// Implemented by internal/roles.
type PermissionStore interface {
	// ActiveRoleGrants returns the active role assignments for a principal.
	ActiveRoleGrants(ctx context.Context, principal Principal) ([]RoleGrant, error)
	// OverridePermissions returns the persisted custom permission rows for
	// a role, or an empty slice when the role runs on registry defaults.
	OverridePermissions(ctx context.Context, role CanonicalRole) ([]Permission, error)
}

// Resolver is the permission decision engine. It is read-only: denial is a
// false return, never an error. Errors are reserved for malformed input and
// store failures.
type Resolver struct {
	registry *Registry
	store    PermissionStore
	scopes   *ScopeResolver
	logger   *slog.Logger
}

// NewResolver wires the decision engine.
func NewResolver(registry *Registry, store PermissionStore, scopes *ScopeResolver, logger *slog.Logger) *Resolver {
	return &Resolver{registry: registry, store: store, scopes: scopes, logger: logger}
}

// HasPermission decides whether the principal may perform the requested
// action on the category/resource, optionally bounded to a concrete scope.
//
// Overrides fully replace a role's default matrix: once any override rows
// exist for a role, only they count. The persisted set is authored as a
// complete intent (wholesale delete+insert), so resurrecting defaults an
// administrator removed would widen grants silently.
func (r *Resolver) HasPermission(ctx context.Context, req CheckRequest) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, err
	}

	roles, err := r.effectiveRoles(ctx, req.Principal)
	if err != nil {
		return false, err
	}

	for _, grant := range roles {
		if IsBypass(grant.role) {
			return true, nil
		}
	}

	matched := make([]resolvedGrant, 0, len(roles))
	want := Permission{Category: req.Category, Resource: req.Resource, Action: req.Action}.Key()
	for _, grant := range roles {
		perms, err := r.effectivePermissions(ctx, grant.role)
		if err != nil {
			return false, err
		}
		for _, perm := range perms {
			if perm.Key() == want {
				matched = append(matched, grant)
				break
			}
		}
	}
	if len(matched) == 0 {
		return false, nil
	}

	// Global (list-style) checks carry no concrete scope; the matrix alone
	// decides.
	if req.Scope == nil {
		return true, nil
	}

	chain, err := r.scopes.ScopeChain(ctx, *req.Scope)
	if err != nil {
		return false, err
	}

	// A scope-bound grant confers reach over its subtree directly: the
	// binding was authored by an administrator, and chain containment
	// proves the resource sits under it. Unbound grants fall back to the
	// principal's relationship-derived owned scopes.
	unbound := false
	for _, grant := range matched {
		if grant.scope == nil {
			unbound = true
			continue
		}
		if Contains(*grant.scope, chain) {
			return true, nil
		}
	}
	if !unbound {
		return false, nil
	}

	owned, err := r.scopes.OwnedScopes(ctx, req.Principal)
	if err != nil {
		return false, err
	}
	for _, scope := range owned {
		if Contains(scope, chain) {
			return true, nil
		}
	}
	return false, nil
}

// CanAccess decides whether the principal's owned scopes contain the
// concrete resource instance. This is an ownership check: the permission
// matrix plays no part, and the two must not be conflated.
func (r *Resolver) CanAccess(ctx context.Context, principal Principal, resourceType ScopeType, resourceID string) (bool, error) {
	if principal.ID == "" || principal.Kind == "" {
		return false, fmt.Errorf("authz: principal id and kind are required")
	}
	if !ValidScopeType(resourceType) {
		return false, fmt.Errorf("authz: unknown resource type %q", resourceType)
	}
	if resourceID == "" {
		return false, fmt.Errorf("authz: resource id is required")
	}

	roles, err := r.effectiveRoles(ctx, principal)
	if err != nil {
		return false, err
	}
	for _, grant := range roles {
		if IsBypass(grant.role) {
			return true, nil
		}
	}

	chain, err := r.scopes.ScopeChain(ctx, Scope{Type: resourceType, ID: resourceID})
	if err != nil {
		return false, err
	}
	owned, err := r.scopes.OwnedScopes(ctx, principal)
	if err != nil {
		return false, err
	}
	for _, scope := range owned {
		if Contains(scope, chain) {
			return true, nil
		}
	}
	return false, nil
}

type resolvedGrant struct {
	role  CanonicalRole
	scope *Scope
}

// effectiveRoles normalises the principal's assignments. Principals without
// role rows fall back to their legacy kind string, which keeps older call
// sites working: a bare "admin" principal still rides the bypass, a bare
// "landlord" still gets OWNER_LANDLORD defaults.
func (r *Resolver) effectiveRoles(ctx context.Context, principal Principal) ([]resolvedGrant, error) {
	grants, err := r.store.ActiveRoleGrants(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("authz: role grants for %s: %w", principal, err)
	}
	if len(grants) == 0 {
		role := NormalizeRole(string(principal.Kind))
		if role == RoleUnknown {
			return nil, nil
		}
		return []resolvedGrant{{role: role}}, nil
	}
	resolved := make([]resolvedGrant, 0, len(grants))
	for _, grant := range grants {
		role := NormalizeRole(grant.Role)
		if role == RoleUnknown {
			r.logger.Warn("unknown role on assignment, denying its grants",
				slog.String("principal", principal.String()),
				slog.String("role", grant.Role))
			continue
		}
		resolved = append(resolved, resolvedGrant{role: role, scope: grant.Scope})
	}
	return resolved, nil
}

func (r *Resolver) effectivePermissions(ctx context.Context, role CanonicalRole) ([]Permission, error) {
	overrides, err := r.store.OverridePermissions(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("authz: overrides for %s: %w", role, err)
	}
	if len(overrides) > 0 {
		return overrides, nil
	}
	return r.registry.DefaultPermissions(role), nil
}

// EffectivePermissions lists the permission set a role currently resolves
// to, for introspection endpoints.
func (r *Resolver) EffectivePermissions(ctx context.Context, role CanonicalRole) ([]Permission, error) {
	return r.effectivePermissions(ctx, role)
}
