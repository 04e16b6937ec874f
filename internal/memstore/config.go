package memstore

import (
	"context"

	"github.com/inaiurai/credits/internal/config"
)

// ConfigStore is the credit_config view of a DB.
type ConfigStore struct{ db *DB }

func (db *DB) Config() *ConfigStore { return &ConfigStore{db: db} }

// Load parses the stored values over the defaults; invalid values are dropped.
func (s *ConfigStore) Load(ctx context.Context) (config.Credit, error) {
	values, err := s.All(ctx)
	if err != nil {
		return config.Credit{}, err
	}
	cfg, _ := config.Parse(values)
	return cfg, nil
}

func (s *ConfigStore) All(context.Context) (map[string]string, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	out := make(map[string]string, len(s.db.config))
	for k, v := range s.db.config {
		out[k] = v
	}
	return out, nil
}

func (s *ConfigStore) Set(_ context.Context, key, value string) error {
	if err := config.Validate(key, value); err != nil {
		return err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.config[key] = value
	return nil
}
