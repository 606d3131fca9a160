package authz

// scopeDepth orders the hierarchy levels from widest to narrowest.
// PMC and landlord share a level: a PMC's reach over a landlord comes from
// an active management relationship, not from the type lattice itself.
var scopeDepth = map[ScopeType]int{
	ScopeOrganization: 0,
	ScopePMC:          1,
	ScopeLandlord:     1,
	ScopePortfolio:    2,
	ScopeProperty:     3,
	ScopeUnit:         4,
}

// ValidScopeType reports whether t is a known hierarchy level.
func ValidScopeType(t ScopeType) bool {
	_, ok := scopeDepth[t]
	return ok
}

// TypeContains reports whether the outer level can administratively include
// the inner level. Every level contains itself.
func TypeContains(outer, inner ScopeType) bool {
	do, ok := scopeDepth[outer]
	if !ok {
		return false
	}
	di, ok := scopeDepth[inner]
	if !ok {
		return false
	}
	if outer == inner {
		return true
	}
	return do < di
}

// Contains reports whether outer administratively contains inner.
//
// A scope contains itself. Across levels the decision follows inner's
// ownership lineage: inner contains a Parent chain (unit -> property ->
// portfolio -> landlord ...) resolved from relationship records, and outer
// contains inner iff outer appears somewhere on that chain. An inner scope
// without lineage can therefore only be contained by itself.
func Contains(outer, inner Scope) bool {
	if !TypeContains(outer.Type, inner.Type) {
		return false
	}
	for cur := &inner; cur != nil; cur = cur.Parent {
		if cur.Type == outer.Type && cur.ID == outer.ID {
			return true
		}
	}
	return false
}

// ChainScopes flattens a scope and its lineage into individual scopes,
// innermost first.
func ChainScopes(s Scope) []Scope {
	var out []Scope
	for cur := &s; cur != nil; cur = cur.Parent {
		out = append(out, Scope{Type: cur.Type, ID: cur.ID})
	}
	return out
}
