// Package authz implements the scope-aware permission engine: canonical
// roles with default permission matrices, per-role overrides, hierarchical
// ownership scopes, and a cached decision service.
package authz

import (
	"fmt"
	"strings"
)

// ScopeType identifies a level of the ownership hierarchy.
type ScopeType string

const (
	ScopeOrganization ScopeType = "organization"
	ScopePMC          ScopeType = "pmc"
	ScopeLandlord     ScopeType = "landlord"
	ScopePortfolio    ScopeType = "portfolio"
	ScopeProperty     ScopeType = "property"
	ScopeUnit         ScopeType = "unit"
)

// Scope is a typed identifier bounding what a permission check applies to.
// Parent carries the ownership lineage when the producer knows it (scope
// chains resolved from relationship records); callers submitting a scope
// over the wire leave it nil.
type Scope struct {
	Type   ScopeType `json:"type"`
	ID     string    `json:"id"`
	Parent *Scope    `json:"-"`
}

// String renders the scope as "type:id" for cache keys and logs.
func (s Scope) String() string {
	return string(s.Type) + ":" + s.ID
}

// IsZero reports whether the scope is unset.
func (s Scope) IsZero() bool {
	return s.Type == "" && s.ID == ""
}

// ResourceCategory classifies what is being acted on.
type ResourceCategory string

const (
	CategoryProperty    ResourceCategory = "PROPERTY"
	CategoryTenant      ResourceCategory = "TENANT"
	CategoryLease       ResourceCategory = "LEASE"
	CategoryMaintenance ResourceCategory = "MAINTENANCE"
	CategoryFinancial   ResourceCategory = "FINANCIAL"
	CategoryDocument    ResourceCategory = "DOCUMENT"
	CategorySystem      ResourceCategory = "SYSTEM"
)

// Categories lists every known resource category.
func Categories() []ResourceCategory {
	return []ResourceCategory{
		CategoryProperty,
		CategoryTenant,
		CategoryLease,
		CategoryMaintenance,
		CategoryFinancial,
		CategoryDocument,
		CategorySystem,
	}
}

// ValidCategory reports whether the given value is a known category.
func ValidCategory(c ResourceCategory) bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// PermissionAction classifies how a resource is acted on.
type PermissionAction string

const (
	ActionCreate  PermissionAction = "CREATE"
	ActionRead    PermissionAction = "READ"
	ActionUpdate  PermissionAction = "UPDATE"
	ActionDelete  PermissionAction = "DELETE"
	ActionApprove PermissionAction = "APPROVE"
)

// Actions lists every known permission action.
func Actions() []PermissionAction {
	return []PermissionAction{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionApprove}
}

// ValidAction reports whether the given value is a known action.
func ValidAction(a PermissionAction) bool {
	for _, known := range Actions() {
		if a == known {
			return true
		}
	}
	return false
}

// Permission grants one action on one sub-resource within a category.
// Conditions is an opaque predicate payload (e.g. {"own_records": true})
// evaluated by the owning endpoint, not by the engine.
type Permission struct {
	Category   ResourceCategory `json:"category"`
	Resource   string           `json:"resource"`
	Action     PermissionAction `json:"action"`
	Conditions map[string]any   `json:"conditions,omitempty"`
}

// Key returns the exact-match triple identity. Wildcarding is not
// supported anywhere in the engine.
func (p Permission) Key() string {
	return string(p.Category) + "/" + p.Resource + "/" + string(p.Action)
}

// PrincipalKind is the legacy user-type discriminator carried alongside a
// principal id everywhere in the platform.
type PrincipalKind string

const (
	KindAdmin    PrincipalKind = "admin"
	KindPMC      PrincipalKind = "pmc"
	KindLandlord PrincipalKind = "landlord"
	KindTenant   PrincipalKind = "tenant"
	KindVendor   PrincipalKind = "vendor"
)

// Principal is a resolved actor handed to the engine. Authentication is
// someone else's problem.
type Principal struct {
	ID   string        `json:"principalId"`
	Kind PrincipalKind `json:"principalKind"`
}

// String renders the principal as "kind:id".
func (p Principal) String() string {
	return string(p.Kind) + ":" + p.ID
}

// CheckRequest is the input to HasPermission.
type CheckRequest struct {
	Principal Principal
	Resource  string
	Action    PermissionAction
	Category  ResourceCategory
	Scope     *Scope // nil means a global (list-style) check
}

// CacheKey serialises the request deterministically, without versions.
func (r CheckRequest) CacheKey() string {
	scope := "-"
	if r.Scope != nil {
		scope = r.Scope.String()
	}
	return strings.Join([]string{
		"check",
		string(r.Principal.Kind),
		r.Principal.ID,
		string(r.Category),
		r.Resource,
		string(r.Action),
		scope,
	}, ":")
}

// Validate rejects malformed requests before they reach the resolver.
func (r CheckRequest) Validate() error {
	if r.Principal.ID == "" || r.Principal.Kind == "" {
		return fmt.Errorf("authz: principal id and kind are required")
	}
	if !ValidCategory(r.Category) {
		return fmt.Errorf("authz: unknown category %q", r.Category)
	}
	if !ValidAction(r.Action) {
		return fmt.Errorf("authz: unknown action %q", r.Action)
	}
	if r.Resource == "" {
		return fmt.Errorf("authz: resource is required")
	}
	if r.Scope != nil && (r.Scope.Type == "" || r.Scope.ID == "") {
		return fmt.Errorf("authz: scope requires both type and id")
	}
	return nil
}
