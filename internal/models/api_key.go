package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey authenticates a platform service (session executor, chat bridge,
// marketplace) calling the ledger.
type APIKey struct {
	ID         uuid.UUID `json:"id"`
	CallerName string    `json:"caller_name"`
	KeyHash    string    `json:"-"`
	KeyPrefix  string    `json:"key_prefix"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}
