package authz

import "testing"

func TestTypeContainsIsReflexive(t *testing.T) {
	for _, scopeType := range []ScopeType{ScopeOrganization, ScopePMC, ScopeLandlord, ScopePortfolio, ScopeProperty, ScopeUnit} {
		if !TypeContains(scopeType, scopeType) {
			t.Fatalf("%s should contain itself", scopeType)
		}
	}
}

func TestTypeContainsFollowsDepth(t *testing.T) {
	cases := []struct {
		outer, inner ScopeType
		want         bool
	}{
		{ScopeOrganization, ScopeUnit, true},
		{ScopePMC, ScopeProperty, true},
		{ScopeLandlord, ScopePortfolio, true},
		{ScopePortfolio, ScopeProperty, true},
		{ScopeProperty, ScopeUnit, true},
		{ScopeUnit, ScopeProperty, false},
		{ScopeProperty, ScopeLandlord, false},
		{ScopeType("tenant"), ScopeProperty, false},
	}
	for _, tc := range cases {
		if got := TypeContains(tc.outer, tc.inner); got != tc.want {
			t.Fatalf("TypeContains(%s, %s) = %v, want %v", tc.outer, tc.inner, got, tc.want)
		}
	}
}

func TestContainsSelf(t *testing.T) {
	scope := Scope{Type: ScopeProperty, ID: "property-7"}
	if !Contains(scope, scope) {
		t.Fatal("a scope must contain itself")
	}
}

func TestContainsWalksLineage(t *testing.T) {
	landlord := Scope{Type: ScopeLandlord, ID: "landlord-42"}
	portfolio := Scope{Type: ScopePortfolio, ID: "portfolio-1", Parent: &landlord}
	property := Scope{Type: ScopeProperty, ID: "property-7", Parent: &portfolio}
	unit := Scope{Type: ScopeUnit, ID: "unit-3", Parent: &property}

	if !Contains(landlord, unit) {
		t.Fatal("landlord should contain a unit in its lineage")
	}
	if !Contains(portfolio, property) {
		t.Fatal("portfolio should contain its property")
	}
	if !Contains(property, unit) {
		t.Fatal("property should contain its unit")
	}
	if Contains(unit, property) {
		t.Fatal("a unit must not contain its property")
	}

	otherLandlord := Scope{Type: ScopeLandlord, ID: "landlord-99"}
	if Contains(otherLandlord, unit) {
		t.Fatal("an unrelated landlord must not contain the unit")
	}
}

func TestContainsIsTransitive(t *testing.T) {
	landlord := Scope{Type: ScopeLandlord, ID: "landlord-42"}
	property := Scope{Type: ScopeProperty, ID: "property-7", Parent: &landlord}
	unit := Scope{Type: ScopeUnit, ID: "unit-3", Parent: &property}

	if !Contains(landlord, property) || !Contains(property, unit) {
		t.Fatal("precondition failed")
	}
	if !Contains(landlord, unit) {
		t.Fatal("containment must be transitive")
	}
}

func TestChainScopesFlattensLineage(t *testing.T) {
	landlord := Scope{Type: ScopeLandlord, ID: "landlord-42"}
	property := Scope{Type: ScopeProperty, ID: "property-7", Parent: &landlord}
	unit := Scope{Type: ScopeUnit, ID: "unit-3", Parent: &property}

	chain := ChainScopes(unit)
	if len(chain) != 3 {
		t.Fatalf("expected 3 scopes in chain, got %d", len(chain))
	}
	if chain[0].ID != "unit-3" || chain[1].ID != "property-7" || chain[2].ID != "landlord-42" {
		t.Fatalf("unexpected chain order: %v", chain)
	}
}
