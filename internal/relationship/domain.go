// Package relationship persists the ownership records the authorization
// engine walks: PMC-landlord management relationships, portfolio and
// property ownership, unit containment, and leaf scope assignments for
// tenants and vendors.
package relationship

import "time"

// Relationship status values. Only active relationships grant scope.
const (
	StatusActive     = "active"
	StatusPending    = "pending"
	StatusTerminated = "terminated"
)

// Relationship links a property-management company to a landlord it
// manages. An ended relationship (EndedAt in the past) stops granting
// scope immediately even while Status lags behind.
type Relationship struct {
	ID         string
	PMCID      string
	LandlordID string
	Status     string
	StartedAt  time.Time
	EndedAt    *time.Time
}

// Active reports whether the relationship grants scope at the given time.
func (r Relationship) Active(now time.Time) bool {
	if r.Status != StatusActive {
		return false
	}
	return r.EndedAt == nil || r.EndedAt.After(now)
}

// Property is an ownership record. PortfolioID is empty for properties
// held outside any portfolio.
type Property struct {
	ID          string
	LandlordID  string
	PortfolioID string
}

// Unit is a containment record.
type Unit struct {
	ID         string
	PropertyID string
}

// Portfolio groups properties under a landlord.
type Portfolio struct {
	ID         string
	LandlordID string
}
