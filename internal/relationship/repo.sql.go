package relationship

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/keystone-pm/keystone/internal/authz"
)

// ActiveLandlordsForPMC returns the landlords currently managed by the PMC.
// A relationship stops counting the moment its ended_at passes, regardless
// of whether the status row has caught up.
func (r *Repository) ActiveLandlordsForPMC(ctx context.Context, pmcID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT landlord_id
		FROM pmc_landlord_relationships
		WHERE pmc_id = $1
		  AND status = $2
		  AND (ended_at IS NULL OR ended_at > NOW())
		ORDER BY landlord_id`, pmcID, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// PortfoliosForLandlord returns portfolio ids owned by the landlord.
func (r *Repository) PortfoliosForLandlord(ctx context.Context, landlordID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM portfolios WHERE landlord_id = $1 ORDER BY id`, landlordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// PropertiesForLandlord returns property ids owned by the landlord.
func (r *Repository) PropertiesForLandlord(ctx context.Context, landlordID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM properties WHERE landlord_id = $1 ORDER BY id`, landlordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// UnitsForProperty returns unit ids contained in the property.
func (r *Repository) UnitsForProperty(ctx context.Context, propertyID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM units WHERE property_id = $1 ORDER BY id`, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// AssignedScopes returns the leaf scopes explicitly assigned to a principal
// (a tenant's unit, a vendor's serviced properties).
func (r *Repository) AssignedScopes(ctx context.Context, principal authz.Principal) ([]authz.Scope, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT scope_type, scope_id
		FROM scope_assignments
		WHERE principal_id = $1 AND principal_kind = $2
		ORDER BY scope_type, scope_id`, principal.ID, string(principal.Kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var scopes []authz.Scope
	for rows.Next() {
		var s authz.Scope
		if err := rows.Scan(&s.Type, &s.ID); err != nil {
			return nil, err
		}
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}

// UnitProperty returns the property containing the unit.
func (r *Repository) UnitProperty(ctx context.Context, unitID string) (string, error) {
	var propertyID string
	err := r.pool.QueryRow(ctx, `SELECT property_id FROM units WHERE id = $1`, unitID).Scan(&propertyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return propertyID, err
}

// PropertyOwner returns the landlord owning the property and the portfolio
// it sits in, if any.
func (r *Repository) PropertyOwner(ctx context.Context, propertyID string) (landlordID, portfolioID string, err error) {
	var portfolio *string
	err = r.pool.QueryRow(ctx, `SELECT landlord_id, portfolio_id FROM properties WHERE id = $1`, propertyID).
		Scan(&landlordID, &portfolio)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", err
	}
	if portfolio != nil {
		portfolioID = *portfolio
	}
	return landlordID, portfolioID, nil
}

// PortfolioOwner returns the landlord owning the portfolio.
func (r *Repository) PortfolioOwner(ctx context.Context, portfolioID string) (string, error) {
	var landlordID string
	err := r.pool.QueryRow(ctx, `SELECT landlord_id FROM portfolios WHERE id = $1`, portfolioID).Scan(&landlordID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return landlordID, err
}

// EndedSince returns relationships whose ended_at passed inside the window.
// The sweep job uses this to invalidate cached decisions for PMCs whose
// reach shrank without any mutation traffic.
func (r *Repository) EndedSince(ctx context.Context, since time.Time) ([]Relationship, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, pmc_id, landlord_id, status, started_at, ended_at
		FROM pmc_landlord_relationships
		WHERE ended_at IS NOT NULL AND ended_at >= $1 AND ended_at <= NOW()
		ORDER BY ended_at`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rels []Relationship
	for rows.Next() {
		var rel Relationship
		if err := rows.Scan(&rel.ID, &rel.PMCID, &rel.LandlordID, &rel.Status, &rel.StartedAt, &rel.EndedAt); err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

func scanIDs(rows pgx.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
