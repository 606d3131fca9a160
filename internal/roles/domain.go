// Package roles manages the persisted side of the permission engine: role
// records, per-role permission overrides, and principal assignments.
package roles

import (
	"time"

	"github.com/google/uuid"

	"github.com/keystone-pm/keystone/internal/authz"
)

// Role is a persisted role record. Name is the canonical role identity;
// DisplayName and Description are presentation fields administrators may
// edit freely.
type Role struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	Description string    `json:"description"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Canonical returns the canonical role this record represents.
func (r Role) Canonical() authz.CanonicalRole {
	return authz.NormalizeRole(r.Name)
}

// Assignment binds a principal to a role, optionally bounded to a scope
// subtree. ExpiresAt, when set, ends the grant without a revocation write.
type Assignment struct {
	ID        uuid.UUID       `json:"id"`
	Principal authz.Principal `json:"principal"`
	RoleID    uuid.UUID       `json:"roleId"`
	RoleName  string          `json:"roleName"`
	Scope     *authz.Scope    `json:"scope,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
}

// UpdateRoleInput carries the editable role fields.
type UpdateRoleInput struct {
	DisplayName string `json:"displayName" validate:"required,max=120"`
	Description string `json:"description" validate:"max=1000"`
	IsActive    *bool  `json:"isActive"`
}

// AssignInput binds a principal to a role.
type AssignInput struct {
	PrincipalID   string       `json:"principalId" validate:"required"`
	PrincipalKind string       `json:"principalKind" validate:"required"`
	Scope         *authz.Scope `json:"scope,omitempty"`
	ExpiresAt     *time.Time   `json:"expiresAt,omitempty"`
}

// PermissionSet is the permission view for a role: the registry defaults,
// the raw persisted override rows, and the effective set with a source
// marker telling the caller which of the two is in force.
type PermissionSet struct {
	RoleID      uuid.UUID          `json:"roleId"`
	RoleName    string             `json:"roleName"`
	Source      string             `json:"source"`
	Permissions []authz.Permission `json:"permissions"`
	Defaults    []authz.Permission `json:"defaults"`
	Overrides   []authz.Permission `json:"overrides"`
}

// Permission set sources.
const (
	SourceDefaults  = "defaults"
	SourceOverrides = "overrides"
)
