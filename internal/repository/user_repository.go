package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-triage/internal/domain"
)

// UserRepository defines persistence access for accounts.
//
// FindOneModerator and FindOneAdmin return pgx.ErrNoRows when no
// candidate exists. Tie-breaks among multiple candidates are
// intentionally unspecified; callers must only rely on "some valid
// candidate".
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	FindOneModerator(ctx context.Context, skillPattern string) (*domain.User, error)
	FindOneAdmin(ctx context.Context) (*domain.User, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `id, name, email, password_hash, role, skills, created_at, updated_at`

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (name, email, password_hash, role, skills)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.Skills,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email=$1`
	return r.fetchSingle(ctx, query, email)
}

// FindOneModerator matches when any element of the skills array matches
// the case-insensitive pattern.
func (r *userRepository) FindOneModerator(ctx context.Context, skillPattern string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
        WHERE role=$1 AND EXISTS (SELECT 1 FROM unnest(skills) AS skill WHERE skill ~* $2)
        LIMIT 1`
	return r.fetchSingle(ctx, query, domain.UserRoleModerator, skillPattern)
}

func (r *userRepository) FindOneAdmin(ctx context.Context) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role=$1 LIMIT 1`
	return r.fetchSingle(ctx, query, domain.UserRoleAdmin)
}

func (r *userRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.User, error) {
	var user domain.User
	if err := r.pool.QueryRow(ctx, query, args...).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.Skills,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}
