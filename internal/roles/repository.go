package roles

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keystone-pm/keystone/internal/authz"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	GetRole(ctx context.Context, id uuid.UUID) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, id uuid.UUID, input UpdateRoleInput) (Role, error)
	DeleteRole(ctx context.Context, id uuid.UUID) error
	ListOverrides(ctx context.Context, roleID uuid.UUID) ([]authz.Permission, error)
	ReplaceOverrides(ctx context.Context, roleID uuid.UUID, perms []authz.Permission) error
	CountActiveAssignments(ctx context.Context, roleID uuid.UUID) (int64, error)
	ListAssignments(ctx context.Context, roleID uuid.UUID) ([]Assignment, error)
	GetAssignment(ctx context.Context, roleID, assignmentID uuid.UUID) (Assignment, error)
	CreateAssignment(ctx context.Context, roleID uuid.UUID, input AssignInput) (Assignment, error)
	DeleteAssignment(ctx context.Context, roleID, assignmentID uuid.UUID) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}
