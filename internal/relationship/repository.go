package relationship

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keystone-pm/keystone/internal/platform/httpx"
)

// ErrNotFound indicates the requested record does not exist. It wraps the
// shared not-found sentinel so handlers answer 404 instead of 500 when a
// check names a resource that was never recorded.
var ErrNotFound = fmt.Errorf("relationship: %w", httpx.ErrNotFound)

// Repository provides PostgreSQL backed access to relationship records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}
