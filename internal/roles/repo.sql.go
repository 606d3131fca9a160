package roles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/keystone-pm/keystone/internal/authz"
	"github.com/keystone-pm/keystone/internal/platform/db"
	"github.com/keystone-pm/keystone/internal/platform/httpx"
)

const uniqueViolation = "23505"

// GetRole fetches one role by id.
func (r *Repository) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	return r.scanRole(r.pool.QueryRow(ctx, `
		SELECT id, name, display_name, description, is_active, created_at, updated_at
		FROM roles WHERE id = $1`, id))
}

// GetRoleByName fetches one role by its canonical name.
func (r *Repository) GetRoleByName(ctx context.Context, name string) (Role, error) {
	return r.scanRole(r.pool.QueryRow(ctx, `
		SELECT id, name, display_name, description, is_active, created_at, updated_at
		FROM roles WHERE name = $1`, name))
}

// ListRoles returns all roles.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, display_name, description, is_active, created_at, updated_at
		FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := r.scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UpdateRole persists the editable fields and returns the updated record.
func (r *Repository) UpdateRole(ctx context.Context, id uuid.UUID, input UpdateRoleInput) (Role, error) {
	return r.scanRole(r.pool.QueryRow(ctx, `
		UPDATE roles
		SET display_name = $2,
		    description = $3,
		    is_active = COALESCE($4, is_active),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, display_name, description, is_active, created_at, updated_at`,
		id, input.DisplayName, input.Description, input.IsActive))
}

// DeleteRole removes the role row. Overrides and assignments cascade.
func (r *Repository) DeleteRole(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// ListOverrides returns the persisted permission overrides for a role.
func (r *Repository) ListOverrides(ctx context.Context, roleID uuid.UUID) ([]authz.Permission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT category, resource, action, conditions
		FROM role_permissions
		WHERE role_id = $1
		ORDER BY category, resource, action`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []authz.Permission
	for rows.Next() {
		var (
			perm       authz.Permission
			conditions []byte
		)
		if err := rows.Scan(&perm.Category, &perm.Resource, &perm.Action, &conditions); err != nil {
			return nil, err
		}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &perm.Conditions); err != nil {
				return nil, fmt.Errorf("roles: decode conditions for %s: %w", perm.Key(), err)
			}
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// ReplaceOverrides swaps the full override set in one transaction. The new
// set is the complete intent; partial merges are not supported.
func (r *Repository) ReplaceOverrides(ctx context.Context, roleID uuid.UUID, perms []authz.Permission) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, perm := range perms {
			var conditions []byte
			if len(perm.Conditions) > 0 {
				var err error
				if conditions, err = json.Marshal(perm.Conditions); err != nil {
					return err
				}
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO role_permissions (role_id, category, resource, action, conditions)
				VALUES ($1, $2, $3, $4, $5)`,
				roleID, perm.Category, perm.Resource, perm.Action, conditions); err != nil {
				return mapPgError(err)
			}
		}
		return nil
	})
}

// CountActiveAssignments counts principals currently holding the role.
func (r *Repository) CountActiveAssignments(ctx context.Context, roleID uuid.UUID) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM role_assignments
		WHERE role_id = $1 AND (expires_at IS NULL OR expires_at > NOW())`, roleID).Scan(&count)
	return count, err
}

// ListAssignments returns the role's assignments, active first.
func (r *Repository) ListAssignments(ctx context.Context, roleID uuid.UUID) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.principal_id, a.principal_kind, a.role_id, r.name,
		       a.scope_type, a.scope_id, a.created_at, a.expires_at
		FROM role_assignments a
		JOIN roles r ON r.id = a.role_id
		WHERE a.role_id = $1
		ORDER BY a.created_at DESC`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignments []Assignment
	for rows.Next() {
		assignment, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, assignment)
	}
	return assignments, rows.Err()
}

// GetAssignment fetches one assignment belonging to the role.
func (r *Repository) GetAssignment(ctx context.Context, roleID, assignmentID uuid.UUID) (Assignment, error) {
	return scanAssignment(r.pool.QueryRow(ctx, `
		SELECT a.id, a.principal_id, a.principal_kind, a.role_id, r.name,
		       a.scope_type, a.scope_id, a.created_at, a.expires_at
		FROM role_assignments a
		JOIN roles r ON r.id = a.role_id
		WHERE a.id = $1 AND a.role_id = $2`, assignmentID, roleID))
}

// CreateAssignment binds a principal to the role.
func (r *Repository) CreateAssignment(ctx context.Context, roleID uuid.UUID, input AssignInput) (Assignment, error) {
	var scopeType, scopeID *string
	if input.Scope != nil {
		t, id := string(input.Scope.Type), input.Scope.ID
		scopeType, scopeID = &t, &id
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO role_assignments (id, principal_id, principal_kind, role_id, scope_type, scope_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, principal_id, principal_kind, role_id,
		          (SELECT name FROM roles WHERE id = role_id),
		          scope_type, scope_id, created_at, expires_at`,
		uuid.New(), input.PrincipalID, input.PrincipalKind, roleID, scopeType, scopeID, input.ExpiresAt)
	assignment, err := scanAssignment(row)
	if err != nil {
		return Assignment{}, mapPgError(err)
	}
	return assignment, nil
}

// DeleteAssignment removes one assignment from the role.
func (r *Repository) DeleteAssignment(ctx context.Context, roleID, assignmentID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM role_assignments WHERE id = $1 AND role_id = $2`, assignmentID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// ActiveRoleGrants returns the principal's current role assignments,
// implementing the engine's permission store.
func (r *Repository) ActiveRoleGrants(ctx context.Context, principal authz.Principal) ([]authz.RoleGrant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.name, a.scope_type, a.scope_id
		FROM role_assignments a
		JOIN roles r ON r.id = a.role_id
		WHERE a.principal_id = $1
		  AND a.principal_kind = $2
		  AND r.is_active
		  AND (a.expires_at IS NULL OR a.expires_at > NOW())
		ORDER BY r.name`, principal.ID, string(principal.Kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []authz.RoleGrant
	for rows.Next() {
		var (
			grant              authz.RoleGrant
			scopeType, scopeID *string
		)
		if err := rows.Scan(&grant.Role, &scopeType, &scopeID); err != nil {
			return nil, err
		}
		if scopeType != nil && scopeID != nil {
			grant.Scope = &authz.Scope{Type: authz.ScopeType(*scopeType), ID: *scopeID}
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

// OverridePermissions returns the override rows for a canonical role,
// implementing the engine's permission store. A missing or inactive role
// record means no overrides apply.
func (r *Repository) OverridePermissions(ctx context.Context, role authz.CanonicalRole) ([]authz.Permission, error) {
	record, err := r.GetRoleByName(ctx, string(role))
	if errors.Is(err, httpx.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !record.IsActive {
		return nil, nil
	}
	return r.ListOverrides(ctx, record.ID)
}

// PrincipalsForRole lists principals holding the role, implementing the
// cache's assignment directory.
func (r *Repository) PrincipalsForRole(ctx context.Context, role authz.CanonicalRole) ([]authz.Principal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT a.principal_id, a.principal_kind
		FROM role_assignments a
		JOIN roles r ON r.id = a.role_id
		WHERE r.name = $1
		  AND (a.expires_at IS NULL OR a.expires_at > NOW())`, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var principals []authz.Principal
	for rows.Next() {
		var (
			principal authz.Principal
			kind      string
		)
		if err := rows.Scan(&principal.ID, &kind); err != nil {
			return nil, err
		}
		principal.Kind = authz.PrincipalKind(kind)
		principals = append(principals, principal)
	}
	return principals, rows.Err()
}

func (r *Repository) scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description,
		&role.IsActive, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, httpx.ErrNotFound
	}
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

func scanAssignment(row pgx.Row) (Assignment, error) {
	var (
		assignment         Assignment
		kind               string
		scopeType, scopeID *string
		expiresAt          *time.Time
	)
	err := row.Scan(&assignment.ID, &assignment.Principal.ID, &kind, &assignment.RoleID,
		&assignment.RoleName, &scopeType, &scopeID, &assignment.CreatedAt, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, httpx.ErrNotFound
	}
	if err != nil {
		return Assignment{}, err
	}
	assignment.Principal.Kind = authz.PrincipalKind(kind)
	if scopeType != nil && scopeID != nil {
		assignment.Scope = &authz.Scope{Type: authz.ScopeType(*scopeType), ID: *scopeID}
	}
	assignment.ExpiresAt = expiresAt
	return assignment, nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", httpx.ErrConflict, pgErr.ConstraintName)
	}
	return err
}
