package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/credits/internal/models"
)

// AgentRepo reads the marketplace's agent_profiles.
type AgentRepo struct {
	pool *pgxpool.Pool
}

func NewAgentRepo(pool *pgxpool.Pool) *AgentRepo {
	return &AgentRepo{pool: pool}
}

// GetActivity returns the agent's track record, or nil if it has no profile.
func (r *AgentRepo) GetActivity(ctx context.Context, agentID string) (*models.AgentActivity, error) {
	a := models.AgentActivity{AgentID: agentID}
	err := r.pool.QueryRow(ctx, `
		SELECT created_at, total_jobs, reputation_score
		FROM agent_profiles WHERE agent_id = $1
	`, agentID).Scan(&a.CreatedAt, &a.CompletedJobs, &a.ReputationScore)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
