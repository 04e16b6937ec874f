package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/credits/internal/models"
)

// APIKeyStore is the api_keys view of a DB. Keys are not transactional.
type APIKeyStore struct{ db *DB }

func (db *DB) APIKeys() *APIKeyStore { return &APIKeyStore{db: db} }

func (s *APIKeyStore) Create(_ context.Context, k *models.APIKey) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now()
	}
	s.db.apiKeys[k.ID] = *k
	return nil
}

func (s *APIKeyStore) Revoke(_ context.Context, id uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	k, ok := s.db.apiKeys[id]
	if !ok {
		return models.ErrNotFound
	}
	k.IsActive = false
	s.db.apiKeys[id] = k
	return nil
}

func (s *APIKeyStore) List(context.Context) ([]*models.APIKey, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	list := make([]*models.APIKey, 0, len(s.db.apiKeys))
	for _, k := range s.db.apiKeys {
		k := k
		list = append(list, &k)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func (s *APIKeyStore) FindByKeyHash(_ context.Context, keyHash string) (*models.APIKey, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, k := range s.db.apiKeys {
		if k.KeyHash == keyHash && k.IsActive {
			return &k, nil
		}
	}
	return nil, models.ErrNotFound
}
