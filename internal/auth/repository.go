package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new operator and fills in CreatedAt.
func (r *Repository) Create(ctx context.Context, op *Operator, passwordHash string) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO operators (id, email, display_name, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, op.ID, op.Email, op.DisplayName, passwordHash, op.Role).Scan(&op.CreatedAt)
}

// GetByEmail returns the operator and password hash for login. Returns nil if not found.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*Operator, string, error) {
	var op Operator
	var passwordHash string
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, display_name, role, created_at, password_hash
		FROM operators WHERE email = $1
	`, email).Scan(&op.ID, &op.Email, &op.DisplayName, &op.Role, &op.CreatedAt, &passwordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return &op, passwordHash, nil
}
