package models

import "errors"

// Store-level sentinels shared by the PostgreSQL repositories and the
// in-memory store.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateProof = errors.New("payment proof already recorded")
)
