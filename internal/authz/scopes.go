package authz

import (
	"context"
	"fmt"
)

// RelationshipStore is the engine's view of the platform's ownership
// records. Implemented by internal/relationship.
type RelationshipStore interface {
	ActiveLandlordsForPMC(ctx context.Context, pmcID string) ([]string, error)
	PortfoliosForLandlord(ctx context.Context, landlordID string) ([]string, error)
	PropertiesForLandlord(ctx context.Context, landlordID string) ([]string, error)
	UnitsForProperty(ctx context.Context, propertyID string) ([]string, error)
	AssignedScopes(ctx context.Context, principal Principal) ([]Scope, error)
	UnitProperty(ctx context.Context, unitID string) (string, error)
	PropertyOwner(ctx context.Context, propertyID string) (landlordID, portfolioID string, err error)
	PortfolioOwner(ctx context.Context, portfolioID string) (string, error)
}

// ScopeResolver computes the set of scopes a principal administratively
// owns. The computation re-derives everything from relationship records on
// every call: relationships can end at any moment, so no result here is
// assumed static. Memoisation belongs to the decision cache, whose short
// TTL bounds the staleness window.
type ScopeResolver struct {
	rels RelationshipStore
}

// NewScopeResolver constructs a resolver over the relationship store.
func NewScopeResolver(rels RelationshipStore) *ScopeResolver {
	return &ScopeResolver{rels: rels}
}

// OwnedScopes returns the transitive closure of scopes the principal owns.
//
// A landlord owns its own landlord scope, its portfolios, every property it
// holds and every unit within those properties. A PMC owns its own pmc
// scope plus, through each currently-active management relationship, the
// full closure of the managed landlord. Tenants and vendors own only their
// explicitly assigned leaf scopes.
func (s *ScopeResolver) OwnedScopes(ctx context.Context, principal Principal) ([]Scope, error) {
	switch principal.Kind {
	case KindLandlord:
		return s.landlordClosure(ctx, principal.ID)
	case KindPMC:
		owned := []Scope{{Type: ScopePMC, ID: principal.ID}}
		landlords, err := s.rels.ActiveLandlordsForPMC(ctx, principal.ID)
		if err != nil {
			return nil, fmt.Errorf("authz: landlords for pmc %s: %w", principal.ID, err)
		}
		for _, landlordID := range landlords {
			closure, err := s.landlordClosure(ctx, landlordID)
			if err != nil {
				return nil, err
			}
			owned = append(owned, closure...)
		}
		return owned, nil
	case KindTenant, KindVendor:
		assigned, err := s.rels.AssignedScopes(ctx, principal)
		if err != nil {
			return nil, fmt.Errorf("authz: assigned scopes for %s: %w", principal, err)
		}
		return assigned, nil
	case KindAdmin:
		// Admins ride the bypass; they own no enumerable scope set.
		return nil, nil
	default:
		return nil, nil
	}
}

func (s *ScopeResolver) landlordClosure(ctx context.Context, landlordID string) ([]Scope, error) {
	owned := []Scope{{Type: ScopeLandlord, ID: landlordID}}

	portfolios, err := s.rels.PortfoliosForLandlord(ctx, landlordID)
	if err != nil {
		return nil, fmt.Errorf("authz: portfolios for landlord %s: %w", landlordID, err)
	}
	for _, id := range portfolios {
		owned = append(owned, Scope{Type: ScopePortfolio, ID: id})
	}

	properties, err := s.rels.PropertiesForLandlord(ctx, landlordID)
	if err != nil {
		return nil, fmt.Errorf("authz: properties for landlord %s: %w", landlordID, err)
	}
	for _, propertyID := range properties {
		owned = append(owned, Scope{Type: ScopeProperty, ID: propertyID})
		units, err := s.rels.UnitsForProperty(ctx, propertyID)
		if err != nil {
			return nil, fmt.Errorf("authz: units for property %s: %w", propertyID, err)
		}
		for _, unitID := range units {
			owned = append(owned, Scope{Type: ScopeUnit, ID: unitID})
		}
	}
	return owned, nil
}

// ScopeChain resolves the ownership lineage of a concrete scope: a unit
// links to its property, a property to its portfolio (when grouped) and
// landlord, a portfolio to its landlord. The returned scope carries the
// chain through Parent pointers.
func (s *ScopeResolver) ScopeChain(ctx context.Context, scope Scope) (Scope, error) {
	switch scope.Type {
	case ScopeUnit:
		propertyID, err := s.rels.UnitProperty(ctx, scope.ID)
		if err != nil {
			return Scope{}, fmt.Errorf("authz: chain for %s: %w", scope, err)
		}
		parent, err := s.ScopeChain(ctx, Scope{Type: ScopeProperty, ID: propertyID})
		if err != nil {
			return Scope{}, err
		}
		scope.Parent = &parent
		return scope, nil
	case ScopeProperty:
		landlordID, portfolioID, err := s.rels.PropertyOwner(ctx, scope.ID)
		if err != nil {
			return Scope{}, fmt.Errorf("authz: chain for %s: %w", scope, err)
		}
		landlord := Scope{Type: ScopeLandlord, ID: landlordID}
		if portfolioID != "" {
			scope.Parent = &Scope{Type: ScopePortfolio, ID: portfolioID, Parent: &landlord}
		} else {
			scope.Parent = &landlord
		}
		return scope, nil
	case ScopePortfolio:
		landlordID, err := s.rels.PortfolioOwner(ctx, scope.ID)
		if err != nil {
			return Scope{}, fmt.Errorf("authz: chain for %s: %w", scope, err)
		}
		scope.Parent = &Scope{Type: ScopeLandlord, ID: landlordID}
		return scope, nil
	default:
		// organization, pmc and landlord scopes have no stored ancestry.
		return scope, nil
	}
}
