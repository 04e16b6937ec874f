package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store reads and writes credit_config. It is re-read on every Load so
// administrative writes take effect on the next ledger operation.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewStore(pool *pgxpool.Pool, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{pool: pool, log: log}
}

var _ Source = (*Store)(nil)

// Load implements Source.
func (s *Store) Load(ctx context.Context) (Credit, error) {
	values, err := s.All(ctx)
	if err != nil {
		return Credit{}, err
	}
	cfg, errs := Parse(values)
	for _, e := range errs {
		s.log.Warn("invalid credit_config value, using default", "error", e)
	}
	return cfg, nil
}

// All returns the raw credit_config rows.
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM credit_config`)
	if err != nil {
		return nil, fmt.Errorf("query credit_config: %w", err)
	}
	defer rows.Close()
	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = v
	}
	return values, rows.Err()
}

// Set validates and upserts a single key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := Validate(key, value); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credit_config (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	if err != nil {
		return fmt.Errorf("upsert credit_config %s: %w", key, err)
	}
	return nil
}
