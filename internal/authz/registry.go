package authz

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CanonicalRole is the closed set of platform roles. Legacy call sites still
// pass free-text role strings; NormalizeRole maps them onto this set.
type CanonicalRole string

const (
	RoleSuperAdmin      CanonicalRole = "SUPER_ADMIN"
	RolePMCAdmin        CanonicalRole = "PMC_ADMIN"
	RolePropertyManager CanonicalRole = "PROPERTY_MANAGER"
	RoleLeasingAgent    CanonicalRole = "LEASING_AGENT"
	RoleMaintenanceTech CanonicalRole = "MAINTENANCE_TECH"
	RoleAccountant      CanonicalRole = "ACCOUNTANT"
	RoleOwnerLandlord   CanonicalRole = "OWNER_LANDLORD"
	RoleTenant          CanonicalRole = "TENANT"
	RoleVendor          CanonicalRole = "VENDOR_SERVICE_PROVIDER"

	// RoleUnknown is the mapping target for unrecognised role strings.
	// It owns no permissions and never passes the bypass check, so it
	// always denies instead of silently matching no branch.
	RoleUnknown CanonicalRole = "UNKNOWN"
)

// legacyRoles maps the lower-case free-text roles used by older call sites
// onto the closest canonical role. Legacy "admin" and "pmc" were coarse,
// unscoped superuser-like roles; the canonical model narrows "pmc" to the
// PMC administrator while "admin" keeps the unconditional bypass.
var legacyRoles = map[string]CanonicalRole{
	"admin":    RoleSuperAdmin,
	"pmc":      RolePMCAdmin,
	"landlord": RoleOwnerLandlord,
	"tenant":   RoleTenant,
	"vendor":   RoleVendor,
}

var canonicalRoles = map[CanonicalRole]struct{}{
	RoleSuperAdmin:      {},
	RolePMCAdmin:        {},
	RolePropertyManager: {},
	RoleLeasingAgent:    {},
	RoleMaintenanceTech: {},
	RoleAccountant:      {},
	RoleOwnerLandlord:   {},
	RoleTenant:          {},
	RoleVendor:          {},
}

// NormalizeRole accepts either a legacy free-text role or a canonical
// upper-snake role name and returns the canonical role. Unknown inputs map
// to RoleUnknown.
func NormalizeRole(input string) CanonicalRole {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return RoleUnknown
	}
	if mapped, ok := legacyRoles[strings.ToLower(trimmed)]; ok {
		return mapped
	}
	candidate := CanonicalRole(strings.ToUpper(trimmed))
	if _, ok := canonicalRoles[candidate]; ok {
		return candidate
	}
	return RoleUnknown
}

// IsBypass reports whether the role carries the unconditional allow.
// SUPER_ADMIN (legacy "admin") is the only such role, and the only one
// permitted to impersonate another principal.
func IsBypass(role CanonicalRole) bool {
	return role == RoleSuperAdmin
}

// CanImpersonate reports whether the role may act as another principal.
func CanImpersonate(role CanonicalRole) bool {
	return IsBypass(role)
}

// KindForRole maps a canonical role to the principal kind that carries it.
// Staff roles resolve scopes through the PMC relationship graph.
func KindForRole(role CanonicalRole) PrincipalKind {
	switch role {
	case RoleSuperAdmin:
		return KindAdmin
	case RolePMCAdmin, RolePropertyManager, RoleLeasingAgent, RoleMaintenanceTech, RoleAccountant:
		return KindPMC
	case RoleOwnerLandlord:
		return KindLandlord
	case RoleTenant:
		return KindTenant
	case RoleVendor:
		return KindVendor
	default:
		return ""
	}
}

var displayCaser = cases.Title(language.English)

// DisplayName derives a human-readable name from a canonical role.
func DisplayName(role CanonicalRole) string {
	return displayCaser.String(strings.ReplaceAll(strings.ToLower(string(role)), "_", " "))
}

// Registry serves the default permission matrix per canonical role. The
// matrices are infrastructure: seeded once, never mutated at runtime.
// Tenant-specific overrides live in the permission store and are layered on
// by the resolver.
type Registry struct {
	defaults map[CanonicalRole][]Permission
}

// NewRegistry builds the registry with the built-in matrices.
func NewRegistry() *Registry {
	return &Registry{defaults: defaultMatrices()}
}

// DefaultPermissions returns the default permission set for a role. The
// returned slice is a copy; callers may not mutate registry state.
func (r *Registry) DefaultPermissions(role CanonicalRole) []Permission {
	perms, ok := r.defaults[role]
	if !ok {
		return nil
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// Roles returns every canonical role that owns a default matrix.
func (r *Registry) Roles() []CanonicalRole {
	out := make([]CanonicalRole, 0, len(r.defaults))
	for role := range r.defaults {
		out = append(out, role)
	}
	return out
}

func grant(category ResourceCategory, resource string, actions ...PermissionAction) []Permission {
	perms := make([]Permission, 0, len(actions))
	for _, action := range actions {
		perms = append(perms, Permission{Category: category, Resource: resource, Action: action})
	}
	return perms
}

func grantOwn(category ResourceCategory, resource string, actions ...PermissionAction) []Permission {
	perms := grant(category, resource, actions...)
	for i := range perms {
		perms[i].Conditions = map[string]any{"own_records": true}
	}
	return perms
}

func concat(sets ...[]Permission) []Permission {
	var out []Permission
	for _, set := range sets {
		out = append(out, set...)
	}
	return out
}

func defaultMatrices() map[CanonicalRole][]Permission {
	crud := []PermissionAction{ActionCreate, ActionRead, ActionUpdate, ActionDelete}
	full := []PermissionAction{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionApprove}

	return map[CanonicalRole][]Permission{
		// SUPER_ADMIN bypasses the matrix entirely; the entries below only
		// matter for introspection endpoints that list effective grants.
		RoleSuperAdmin: concat(
			grant(CategorySystem, "role", full...),
			grant(CategorySystem, "user", full...),
		),
		RolePMCAdmin: concat(
			grant(CategoryProperty, "property", full...),
			grant(CategoryProperty, "unit", full...),
			grant(CategoryProperty, "portfolio", crud...),
			grant(CategoryProperty, "listing", crud...),
			grant(CategoryTenant, "profile", ActionCreate, ActionRead, ActionUpdate),
			grant(CategoryTenant, "screening", ActionCreate, ActionRead, ActionApprove),
			grant(CategoryLease, "lease", full...),
			grant(CategoryLease, "renewal", ActionCreate, ActionRead, ActionUpdate, ActionApprove),
			grant(CategoryMaintenance, "request", full...),
			grant(CategoryMaintenance, "workorder", full...),
			grant(CategoryFinancial, "invoice", ActionCreate, ActionRead, ActionUpdate, ActionApprove),
			grant(CategoryFinancial, "payment", ActionCreate, ActionRead, ActionApprove),
			grant(CategoryFinancial, "statement", ActionRead),
			grant(CategoryDocument, "file", crud...),
			grant(CategorySystem, "role", ActionRead, ActionUpdate),
		),
		RolePropertyManager: concat(
			grant(CategoryProperty, "property", ActionRead, ActionUpdate),
			grant(CategoryProperty, "unit", ActionRead, ActionUpdate),
			grant(CategoryProperty, "listing", ActionCreate, ActionRead, ActionUpdate),
			grant(CategoryTenant, "profile", ActionCreate, ActionRead, ActionUpdate),
			grant(CategoryLease, "lease", ActionCreate, ActionRead, ActionUpdate),
			grant(CategoryMaintenance, "request", crud...),
			grant(CategoryMaintenance, "workorder", full...),
			grant(CategoryDocument, "file", ActionCreate, ActionRead, ActionUpdate),
		),
		RoleLeasingAgent: concat(
			grant(CategoryProperty, "property", ActionRead),
			grant(CategoryProperty, "unit", ActionRead),
			grant(CategoryProperty, "listing", ActionCreate, ActionRead, ActionUpdate),
			grant(CategoryTenant, "profile", ActionCreate, ActionRead),
			grant(CategoryTenant, "screening", ActionCreate, ActionRead),
			grant(CategoryLease, "lease", ActionCreate, ActionRead),
			grant(CategoryDocument, "file", ActionCreate, ActionRead),
		),
		RoleMaintenanceTech: concat(
			grant(CategoryProperty, "unit", ActionRead),
			grant(CategoryMaintenance, "request", ActionRead, ActionUpdate),
			grant(CategoryMaintenance, "workorder", ActionRead, ActionUpdate),
			grant(CategoryDocument, "file", ActionCreate, ActionRead),
		),
		RoleAccountant: concat(
			grant(CategoryFinancial, "invoice", full...),
			grant(CategoryFinancial, "payment", full...),
			grant(CategoryFinancial, "statement", ActionCreate, ActionRead),
			grant(CategoryLease, "lease", ActionRead),
			grant(CategoryDocument, "file", ActionRead),
		),
		RoleOwnerLandlord: concat(
			grant(CategoryProperty, "property", crud...),
			grant(CategoryProperty, "unit", crud...),
			grant(CategoryProperty, "portfolio", crud...),
			grant(CategoryTenant, "profile", ActionCreate, ActionRead, ActionUpdate),
			grant(CategoryLease, "lease", full...),
			grant(CategoryMaintenance, "request", ActionCreate, ActionRead, ActionUpdate, ActionApprove),
			grant(CategoryFinancial, "invoice", ActionRead, ActionApprove),
			grant(CategoryFinancial, "statement", ActionRead),
			grant(CategoryDocument, "file", crud...),
		),
		RoleTenant: concat(
			grantOwn(CategoryLease, "lease", ActionRead),
			grantOwn(CategoryMaintenance, "request", ActionCreate, ActionRead),
			grantOwn(CategoryFinancial, "payment", ActionCreate, ActionRead),
			grantOwn(CategoryFinancial, "statement", ActionRead),
			grantOwn(CategoryDocument, "file", ActionRead),
		),
		RoleVendor: concat(
			grantOwn(CategoryMaintenance, "workorder", ActionRead, ActionUpdate),
			grantOwn(CategoryDocument, "file", ActionCreate, ActionRead),
		),
	}
}
