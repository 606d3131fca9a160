package roles

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/keystone-pm/keystone/internal/audit"
	"github.com/keystone-pm/keystone/internal/authz"
	"github.com/keystone-pm/keystone/internal/platform/httpx"
)

// Invalidator purges cached decisions after a mutation. Implemented by the
// authz decision service.
type Invalidator interface {
	InvalidateRole(ctx context.Context, role authz.CanonicalRole) error
	InvalidatePrincipal(ctx context.Context, principal authz.Principal) error
}

// pmcManagedRoles is the set a PMC administrator may manage. Roles outside
// this set, notably SUPER_ADMIN and OWNER_LANDLORD, are off limits.
var pmcManagedRoles = map[authz.CanonicalRole]struct{}{
	authz.RolePropertyManager: {},
	authz.RoleLeasingAgent:    {},
	authz.RoleMaintenanceTech: {},
	authz.RoleAccountant:      {},
	authz.RoleTenant:          {},
	authz.RoleVendor:          {},
}

// Service handles role administration. Every mutation runs the same
// sequence: reach check, persist, invalidate cached decisions, emit an
// audit event. Audit and invalidation failures are logged and swallowed;
// the persisted change is already the source of truth.
type Service struct {
	repo        RepositoryPort
	registry    *authz.Registry
	invalidator Invalidator
	emitter     audit.Emitter
	logger      *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, registry *authz.Registry, invalidator Invalidator, emitter audit.Emitter, logger *slog.Logger) *Service {
	return &Service{repo: repo, registry: registry, invalidator: invalidator, emitter: emitter, logger: logger}
}

// ListRoles returns all role records.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// RoleDetail returns the role record together with its persisted permission
// overrides. Reading a role's detail requires the same administrative reach
// as mutating it.
func (s *Service) RoleDetail(ctx context.Context, actor authz.Principal, id uuid.UUID) (Role, []authz.Permission, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, nil, err
	}
	if err := s.checkReach(actor, role); err != nil {
		return Role{}, nil, err
	}
	overrides, err := s.repo.ListOverrides(ctx, id)
	if err != nil {
		return Role{}, nil, err
	}
	return role, overrides, nil
}

// UpdateRole edits the presentation fields and active flag.
func (s *Service) UpdateRole(ctx context.Context, actor authz.Principal, id uuid.UUID, input UpdateRoleInput) (Role, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if err := s.checkReach(actor, role); err != nil {
		return Role{}, err
	}
	updated, err := s.repo.UpdateRole(ctx, id, input)
	if err != nil {
		return Role{}, err
	}
	s.invalidateRole(ctx, updated)
	s.emit(ctx, audit.Event{
		Action:   audit.ActionRoleUpdated,
		Actor:    actor,
		RoleID:   updated.ID,
		RoleName: updated.Name,
	})
	return updated, nil
}

// DeleteRole removes a role record. An active role with live assignments
// cannot be deleted; the caller either unassigns the principals or
// deactivates the role, which makes its assignments inert and clears the
// way for deletion.
func (s *Service) DeleteRole(ctx context.Context, actor authz.Principal, id uuid.UUID) error {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if err := s.checkReach(actor, role); err != nil {
		return err
	}
	// Assignments to an inactive role grant nothing (ActiveRoleGrants
	// filters on r.is_active), so the guard only applies while active.
	if role.IsActive {
		count, err := s.repo.CountActiveAssignments(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: role %s has %d active assignments", httpx.ErrConflict, role.Name, count)
		}
	}
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.invalidateRole(ctx, role)
	s.emit(ctx, audit.Event{
		Action:   audit.ActionRoleDeleted,
		Actor:    actor,
		RoleID:   role.ID,
		RoleName: role.Name,
	})
	return nil
}

// Permissions returns the permission view for a role: registry defaults,
// raw override rows, and the effective set (overrides when any exist,
// defaults otherwise).
func (s *Service) Permissions(ctx context.Context, id uuid.UUID) (PermissionSet, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return PermissionSet{}, err
	}
	overrides, err := s.repo.ListOverrides(ctx, id)
	if err != nil {
		return PermissionSet{}, err
	}
	set := PermissionSet{
		RoleID:    role.ID,
		RoleName:  role.Name,
		Defaults:  s.registry.DefaultPermissions(role.Canonical()),
		Overrides: overrides,
	}
	if len(overrides) > 0 {
		set.Source = SourceOverrides
		set.Permissions = overrides
		return set, nil
	}
	set.Source = SourceDefaults
	set.Permissions = set.Defaults
	return set, nil
}

// ReplacePermissions swaps the role's full override set. An empty set
// clears the overrides, returning the role to registry defaults.
func (s *Service) ReplacePermissions(ctx context.Context, actor authz.Principal, id uuid.UUID, perms []authz.Permission) (PermissionSet, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return PermissionSet{}, err
	}
	if err := s.checkReach(actor, role); err != nil {
		return PermissionSet{}, err
	}
	for _, perm := range perms {
		if !authz.ValidCategory(perm.Category) {
			return PermissionSet{}, fmt.Errorf("%w: unknown category %q", httpx.ErrValidation, perm.Category)
		}
		if !authz.ValidAction(perm.Action) {
			return PermissionSet{}, fmt.Errorf("%w: unknown action %q", httpx.ErrValidation, perm.Action)
		}
		if perm.Resource == "" {
			return PermissionSet{}, fmt.Errorf("%w: permission resource is required", httpx.ErrValidation)
		}
	}
	if err := s.repo.ReplaceOverrides(ctx, id, perms); err != nil {
		return PermissionSet{}, err
	}
	s.invalidateRole(ctx, role)
	s.emit(ctx, audit.Event{
		Action:           audit.ActionPermissionsReplaced,
		Actor:            actor,
		RoleID:           role.ID,
		RoleName:         role.Name,
		PermissionsCount: len(perms),
	})
	return s.Permissions(ctx, id)
}

// ListAssignments returns the role's principal bindings.
func (s *Service) ListAssignments(ctx context.Context, id uuid.UUID) ([]Assignment, error) {
	if _, err := s.repo.GetRole(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListAssignments(ctx, id)
}

// Assign binds a principal to the role.
func (s *Service) Assign(ctx context.Context, actor authz.Principal, id uuid.UUID, input AssignInput) (Assignment, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if err := s.checkReach(actor, role); err != nil {
		return Assignment{}, err
	}
	if !role.IsActive {
		return Assignment{}, fmt.Errorf("%w: role %s is inactive", httpx.ErrConflict, role.Name)
	}
	kind := authz.PrincipalKind(input.PrincipalKind)
	if expected := authz.KindForRole(role.Canonical()); expected != "" && kind != expected {
		return Assignment{}, fmt.Errorf("%w: role %s requires a %s principal", httpx.ErrValidation, role.Name, expected)
	}
	if input.Scope != nil {
		if !authz.ValidScopeType(input.Scope.Type) || input.Scope.ID == "" {
			return Assignment{}, fmt.Errorf("%w: assignment scope requires a known type and id", httpx.ErrValidation)
		}
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(time.Now()) {
		return Assignment{}, fmt.Errorf("%w: expiry must be in the future", httpx.ErrValidation)
	}
	assignment, err := s.repo.CreateAssignment(ctx, id, input)
	if err != nil {
		return Assignment{}, err
	}
	s.invalidatePrincipal(ctx, assignment.Principal)
	s.emit(ctx, audit.Event{
		Action:   audit.ActionRoleAssigned,
		Actor:    actor,
		RoleID:   role.ID,
		RoleName: role.Name,
		Meta:     map[string]any{"principal": assignment.Principal.String()},
	})
	return assignment, nil
}

// Unassign removes one assignment from the role.
func (s *Service) Unassign(ctx context.Context, actor authz.Principal, roleID, assignmentID uuid.UUID) error {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.checkReach(actor, role); err != nil {
		return err
	}
	assignment, err := s.repo.GetAssignment(ctx, roleID, assignmentID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteAssignment(ctx, roleID, assignmentID); err != nil {
		return err
	}
	s.invalidatePrincipal(ctx, assignment.Principal)
	s.emit(ctx, audit.Event{
		Action:   audit.ActionRoleUnassigned,
		Actor:    actor,
		RoleID:   role.ID,
		RoleName: role.Name,
		Meta:     map[string]any{"principal": assignment.Principal.String()},
	})
	return nil
}

// checkReach decides whether the actor may manage the role. SUPER_ADMIN
// manages everything; a PMC administrator manages the operational roles it
// delegates but never peers or landlords.
func (s *Service) checkReach(actor authz.Principal, role Role) error {
	actorRole := authz.NormalizeRole(string(actor.Kind))
	if authz.IsBypass(actorRole) {
		return nil
	}
	if actorRole == authz.RolePMCAdmin {
		if _, ok := pmcManagedRoles[role.Canonical()]; ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s may not manage role %s", httpx.ErrForbidden, actor, role.Name)
}

func (s *Service) invalidateRole(ctx context.Context, role Role) {
	if err := s.invalidator.InvalidateRole(ctx, role.Canonical()); err != nil {
		s.logger.Warn("invalidate role decisions", slog.String("role", role.Name), slog.Any("error", err))
	}
}

func (s *Service) invalidatePrincipal(ctx context.Context, principal authz.Principal) {
	if err := s.invalidator.InvalidatePrincipal(ctx, principal); err != nil {
		s.logger.Warn("invalidate principal decisions", slog.String("principal", principal.String()), slog.Any("error", err))
	}
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if err := s.emitter.EmitAuditEvent(ctx, event); err != nil {
		s.logger.Warn("emit audit event", slog.String("action", event.Action), slog.Any("error", err))
	}
}
