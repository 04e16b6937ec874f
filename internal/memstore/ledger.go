package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/credits/internal/models"
)

// LedgerStore is the credit_ledger / credit_transactions view of a DB.
type LedgerStore struct{ db *DB }

func (db *DB) Ledger() *LedgerStore { return &LedgerStore{db: db} }

func (s *LedgerStore) Begin(ctx context.Context) (pgx.Tx, error) { return s.db.Begin(ctx) }

func (s *LedgerStore) LockWallet(_ context.Context, tx pgx.Tx, wallet string) (*models.Wallet, error) {
	t, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if w, ok := t.wallets[wallet]; ok {
		return &w, nil
	}
	s.db.mu.RLock()
	w, ok := s.db.wallets[wallet]
	s.db.mu.RUnlock()
	if !ok {
		now := time.Now()
		w = models.Wallet{Address: wallet, CreatedAt: now, UpdatedAt: now}
		t.wallets[wallet] = w
	}
	return &w, nil
}

func (s *LedgerStore) SaveWallet(_ context.Context, tx pgx.Tx, w *models.Wallet) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := s.db.fault(OpSaveWallet); err != nil {
		return err
	}
	t.wallets[w.Address] = *w
	return nil
}

func (s *LedgerStore) AppendTransaction(_ context.Context, tx pgx.Tx, e *models.CreditTransaction) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := s.db.fault(OpAppendTransaction); err != nil {
		return err
	}
	if e.TxID != nil {
		s.db.mu.RLock()
		seen := s.db.txids[*e.TxID]
		s.db.mu.RUnlock()
		for _, pending := range t.entries {
			if pending.TxID != nil && *pending.TxID == *e.TxID {
				seen = true
			}
		}
		if seen {
			return models.ErrDuplicateProof
		}
	}
	t.entries = append(t.entries, *e)
	return nil
}

func (s *LedgerStore) AddSessionUsage(_ context.Context, tx pgx.Tx, sessionID string, amount int64) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := s.db.fault(OpAddSessionUsage); err != nil {
		return err
	}
	t.sessions[sessionID] += amount
	return nil
}

func (s *LedgerStore) GetWallet(_ context.Context, wallet string) (*models.Wallet, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	w, ok := s.db.wallets[wallet]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &w, nil
}

func (s *LedgerStore) ListTransactions(_ context.Context, wallet string, limit int) ([]*models.CreditTransaction, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var list []*models.CreditTransaction
	for i := len(s.db.entries) - 1; i >= 0; i-- {
		if s.db.entries[i].WalletAddress != wallet {
			continue
		}
		e := s.db.entries[i]
		list = append(list, &e)
		if limit > 0 && len(list) == limit {
			break
		}
	}
	return list, nil
}

func (s *LedgerStore) ListStaleReservations(_ context.Context, cutoff time.Time) ([]string, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var stale []models.Wallet
	for _, w := range s.db.wallets {
		if w.Reserved > 0 && w.ReservedAt != nil && w.ReservedAt.Before(cutoff) {
			stale = append(stale, w)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ReservedAt.Before(*stale[j].ReservedAt) })
	out := make([]string, len(stale))
	for i, w := range stale {
		out[i] = w.Address
	}
	return out, nil
}

func (s *LedgerStore) GetSessionUsage(_ context.Context, sessionID string) (int64, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.db.sessions[sessionID], nil
}

// SetWallet overwrites committed wallet state. Test fixture helper.
func (s *LedgerStore) SetWallet(w models.Wallet) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.wallets[w.Address] = w
}

// Entries returns every committed entry for wallet in append order.
func (s *LedgerStore) Entries(wallet string) []models.CreditTransaction {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []models.CreditTransaction
	for _, e := range s.db.entries {
		if e.WalletAddress == wallet {
			out = append(out, e)
		}
	}
	return out
}
