package registry

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/credits/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const identitySelect = `SELECT agent_id, tier, verified_at, verification_data_hash, updated_at FROM agent_identity WHERE agent_id = $1`

func scanIdentity(row pgx.Row) (*models.AgentIdentity, error) {
	var id models.AgentIdentity
	err := row.Scan(&id.AgentID, &id.Tier, &id.VerifiedAt, &id.VerificationDataHash, &id.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (r *Repository) Get(ctx context.Context, agentID string) (*models.AgentIdentity, error) {
	return scanIdentity(r.pool.QueryRow(ctx, identitySelect, agentID))
}

// LockForUpdate serializes writers per agent. An advisory lock covers agents
// that have no row yet, which FOR UPDATE alone cannot.
func (r *Repository) LockForUpdate(ctx context.Context, tx pgx.Tx, agentID string) (*models.AgentIdentity, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, agentID); err != nil {
		return nil, err
	}
	return scanIdentity(tx.QueryRow(ctx, identitySelect+` FOR UPDATE`, agentID))
}

func (r *Repository) Upsert(ctx context.Context, tx pgx.Tx, id *models.AgentIdentity) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO agent_identity (agent_id, tier, verified_at, verification_data_hash, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id) DO UPDATE
		SET tier = EXCLUDED.tier, verified_at = EXCLUDED.verified_at,
		    verification_data_hash = EXCLUDED.verification_data_hash, updated_at = EXCLUDED.updated_at
	`, id.AgentID, id.Tier, id.VerifiedAt, id.VerificationDataHash, id.UpdatedAt)
	return err
}
