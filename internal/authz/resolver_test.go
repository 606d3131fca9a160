package authz

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/keystone-pm/keystone/internal/platform/httpx"
)

type stubRels struct {
	landlordsByPMC map[string][]string
	portfolios     map[string][]string
	properties     map[string][]string
	units          map[string][]string
	assigned       map[string][]Scope
	unitProperty   map[string]string
	propertyOwner  map[string][2]string
	portfolioOwner map[string]string
}

func (s *stubRels) ActiveLandlordsForPMC(_ context.Context, pmcID string) ([]string, error) {
	return s.landlordsByPMC[pmcID], nil
}

func (s *stubRels) PortfoliosForLandlord(_ context.Context, landlordID string) ([]string, error) {
	return s.portfolios[landlordID], nil
}

func (s *stubRels) PropertiesForLandlord(_ context.Context, landlordID string) ([]string, error) {
	return s.properties[landlordID], nil
}

func (s *stubRels) UnitsForProperty(_ context.Context, propertyID string) ([]string, error) {
	return s.units[propertyID], nil
}

func (s *stubRels) AssignedScopes(_ context.Context, principal Principal) ([]Scope, error) {
	return s.assigned[principal.String()], nil
}

// Lineage lookups answer like the real repository: a missing record is a
// wrapped not-found, never an empty id.

func (s *stubRels) UnitProperty(_ context.Context, unitID string) (string, error) {
	propertyID, ok := s.unitProperty[unitID]
	if !ok {
		return "", fmt.Errorf("relationship: %w", httpx.ErrNotFound)
	}
	return propertyID, nil
}

func (s *stubRels) PropertyOwner(_ context.Context, propertyID string) (string, string, error) {
	owner, ok := s.propertyOwner[propertyID]
	if !ok {
		return "", "", fmt.Errorf("relationship: %w", httpx.ErrNotFound)
	}
	return owner[0], owner[1], nil
}

func (s *stubRels) PortfolioOwner(_ context.Context, portfolioID string) (string, error) {
	landlordID, ok := s.portfolioOwner[portfolioID]
	if !ok {
		return "", fmt.Errorf("relationship: %w", httpx.ErrNotFound)
	}
	return landlordID, nil
}

type stubStore struct {
	grants        map[string][]RoleGrant
	overrides     map[CanonicalRole][]Permission
	grantCalls    int
	overrideCalls int
}

func (s *stubStore) ActiveRoleGrants(_ context.Context, principal Principal) ([]RoleGrant, error) {
	s.grantCalls++
	return s.grants[principal.String()], nil
}

func (s *stubStore) OverridePermissions(_ context.Context, role CanonicalRole) ([]Permission, error) {
	s.overrideCalls++
	return s.overrides[role], nil
}

// fixtureRels models pmc-3 managing landlord-42, who owns property-7 with
// unit-12, and an unrelated landlord-99 owning property-9.
func fixtureRels() *stubRels {
	return &stubRels{
		landlordsByPMC: map[string][]string{"pmc-3": {"landlord-42"}},
		properties: map[string][]string{
			"landlord-42": {"property-7"},
			"landlord-99": {"property-9"},
		},
		units: map[string][]string{"property-7": {"unit-12"}},
		unitProperty: map[string]string{
			"unit-12": "property-7",
		},
		propertyOwner: map[string][2]string{
			"property-7": {"landlord-42", ""},
			"property-9": {"landlord-99", ""},
		},
	}
}

func newTestResolver(store *stubStore, rels *stubRels) *Resolver {
	return NewResolver(NewRegistry(), store, NewScopeResolver(rels), slog.Default())
}

func TestSuperAdminBypassesEverything(t *testing.T) {
	resolver := newTestResolver(&stubStore{}, fixtureRels())
	allowed, err := resolver.HasPermission(context.Background(), CheckRequest{
		Principal: Principal{ID: "root-1", Kind: KindAdmin},
		Category:  CategorySystem,
		Resource:  "role",
		Action:    ActionDelete,
		Scope:     &Scope{Type: ScopeProperty, ID: "property-9"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("admin must be allowed everywhere")
	}
}

func TestUnknownRoleDenies(t *testing.T) {
	store := &stubStore{grants: map[string][]RoleGrant{
		"tenant:t-1": {{Role: "superuser"}},
	}}
	resolver := newTestResolver(store, fixtureRels())
	allowed, err := resolver.HasPermission(context.Background(), CheckRequest{
		Principal: Principal{ID: "t-1", Kind: KindTenant},
		Category:  CategoryLease,
		Resource:  "lease",
		Action:    ActionRead,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("unrecognised role must deny, not fall through")
	}
}

func TestLandlordDefaultsWithinOwnedScope(t *testing.T) {
	resolver := newTestResolver(&stubStore{}, fixtureRels())
	principal := Principal{ID: "landlord-42", Kind: KindLandlord}

	allowed, err := resolver.HasPermission(context.Background(), CheckRequest{
		Principal: principal,
		Category:  CategoryProperty,
		Resource:  "property",
		Action:    ActionUpdate,
		Scope:     &Scope{Type: ScopeProperty, ID: "property-7"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("landlord must manage its own property")
	}

	allowed, err = resolver.HasPermission(context.Background(), CheckRequest{
		Principal: principal,
		Category:  CategoryProperty,
		Resource:  "property",
		Action:    ActionUpdate,
		Scope:     &Scope{Type: ScopeProperty, ID: "property-9"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("landlord must not reach another landlord's property")
	}
}

func TestPMCReachThroughActiveRelationship(t *testing.T) {
	rels := fixtureRels()
	store := &stubStore{grants: map[string][]RoleGrant{
		"pmc:pmc-3": {{Role: "PMC_ADMIN"}},
	}}
	resolver := newTestResolver(store, rels)
	req := CheckRequest{
		Principal: Principal{ID: "pmc-3", Kind: KindPMC},
		Category:  CategoryLease,
		Resource:  "lease",
		Action:    ActionCreate,
		Scope:     &Scope{Type: ScopeUnit, ID: "unit-12"},
	}

	allowed, err := resolver.HasPermission(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("pmc must reach units of a managed landlord")
	}

	// Relationship ends: reach disappears with no role mutation.
	rels.landlordsByPMC = map[string][]string{}
	allowed, err = resolver.HasPermission(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("ended relationship must revoke pmc reach")
	}
}

func TestOverridesReplaceDefaultsEntirely(t *testing.T) {
	store := &stubStore{
		grants: map[string][]RoleGrant{
			"pmc:mgr-1": {{Role: "PROPERTY_MANAGER"}},
		},
		overrides: map[CanonicalRole][]Permission{
			RolePropertyManager: {
				{Category: CategoryMaintenance, Resource: "request", Action: ActionRead},
			},
		},
	}
	resolver := newTestResolver(store, fixtureRels())
	principal := Principal{ID: "mgr-1", Kind: KindPMC}

	allowed, err := resolver.HasPermission(context.Background(), CheckRequest{
		Principal: principal,
		Category:  CategoryMaintenance,
		Resource:  "request",
		Action:    ActionRead,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("override row must grant")
	}

	// The default matrix grants property reads; the override set does not,
	// and defaults must not resurface underneath it.
	allowed, err = resolver.HasPermission(context.Background(), CheckRequest{
		Principal: principal,
		Category:  CategoryProperty,
		Resource:  "property",
		Action:    ActionRead,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("defaults must not apply once overrides exist")
	}
}

func TestScopeBoundGrantConfersSubtreeReach(t *testing.T) {
	store := &stubStore{grants: map[string][]RoleGrant{
		"pmc:agent-1": {{Role: "LEASING_AGENT", Scope: &Scope{Type: ScopeProperty, ID: "property-7"}}},
	}}
	resolver := newTestResolver(store, fixtureRels())
	principal := Principal{ID: "agent-1", Kind: KindPMC}

	allowed, err := resolver.HasPermission(context.Background(), CheckRequest{
		Principal: principal,
		Category:  CategoryProperty,
		Resource:  "unit",
		Action:    ActionRead,
		Scope:     &Scope{Type: ScopeUnit, ID: "unit-12"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("bound grant must reach units under its property")
	}

	allowed, err = resolver.HasPermission(context.Background(), CheckRequest{
		Principal: principal,
		Category:  CategoryProperty,
		Resource:  "property",
		Action:    ActionRead,
		Scope:     &Scope{Type: ScopeProperty, ID: "property-9"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("bound grant must not reach outside its subtree")
	}
}

func TestGlobalCheckSkipsContainment(t *testing.T) {
	store := &stubStore{grants: map[string][]RoleGrant{
		"pmc:mgr-1": {{Role: "PROPERTY_MANAGER"}},
	}}
	resolver := newTestResolver(store, fixtureRels())

	allowed, err := resolver.HasPermission(context.Background(), CheckRequest{
		Principal: Principal{ID: "mgr-1", Kind: KindPMC},
		Category:  CategoryProperty,
		Resource:  "property",
		Action:    ActionRead,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("global check must pass on the matrix alone")
	}
}

func TestCanAccessIsOwnershipOnly(t *testing.T) {
	rels := fixtureRels()
	rels.assigned = map[string][]Scope{
		"tenant:t-1": {{Type: ScopeUnit, ID: "unit-12"}},
	}
	resolver := newTestResolver(&stubStore{}, rels)

	allowed, err := resolver.CanAccess(context.Background(), Principal{ID: "t-1", Kind: KindTenant}, ScopeUnit, "unit-12")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("tenant must access its assigned unit")
	}

	allowed, err = resolver.CanAccess(context.Background(), Principal{ID: "t-1", Kind: KindTenant}, ScopeProperty, "property-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("tenant must not access the containing property")
	}

	allowed, err = resolver.CanAccess(context.Background(), Principal{ID: "landlord-42", Kind: KindLandlord}, ScopeUnit, "unit-12")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("landlord must access units it owns")
	}
}

func TestCanAccessRejectsMalformedInput(t *testing.T) {
	resolver := newTestResolver(&stubStore{}, fixtureRels())
	if _, err := resolver.CanAccess(context.Background(), Principal{}, ScopeUnit, "unit-12"); err == nil {
		t.Fatal("expected error for empty principal")
	}
	if _, err := resolver.CanAccess(context.Background(), Principal{ID: "x", Kind: KindTenant}, ScopeType("galaxy"), "g-1"); err == nil {
		t.Fatal("expected error for unknown scope type")
	}
}
