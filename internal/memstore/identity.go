package memstore

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/credits/internal/models"
)

// IdentityStore is the agent_identity view of a DB. It also serves agent
// activity, which in production lives in the platform's agent_profiles table.
type IdentityStore struct{ db *DB }

func (db *DB) Identities() *IdentityStore { return &IdentityStore{db: db} }

func (s *IdentityStore) Begin(ctx context.Context) (pgx.Tx, error) { return s.db.Begin(ctx) }

func (s *IdentityStore) Get(_ context.Context, agentID string) (*models.AgentIdentity, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	id, ok := s.db.identities[agentID]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (s *IdentityStore) LockForUpdate(ctx context.Context, tx pgx.Tx, agentID string) (*models.AgentIdentity, error) {
	t, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if id, ok := t.identities[agentID]; ok {
		return &id, nil
	}
	return s.Get(ctx, agentID)
}

func (s *IdentityStore) Upsert(_ context.Context, tx pgx.Tx, id *models.AgentIdentity) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := s.db.fault(OpUpsertIdentity); err != nil {
		return err
	}
	t.identities[id.AgentID] = *id
	return nil
}

func (s *IdentityStore) GetActivity(_ context.Context, agentID string) (*models.AgentActivity, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	a, ok := s.db.activity[agentID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// SetActivity records an agent's track record. Test fixture helper.
func (s *IdentityStore) SetActivity(a models.AgentActivity) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.activity[a.AgentID] = a
}
