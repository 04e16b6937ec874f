package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/credits/internal/models"
)

// EscrowStore is the escrow_transactions view of a DB.
type EscrowStore struct{ db *DB }

func (db *DB) Escrows() *EscrowStore { return &EscrowStore{db: db} }

func (s *EscrowStore) Begin(ctx context.Context) (pgx.Tx, error) { return s.db.Begin(ctx) }

func (s *EscrowStore) Insert(_ context.Context, tx pgx.Tx, e *models.EscrowTransaction) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := s.db.fault(OpInsertEscrow); err != nil {
		return err
	}
	t.escrows[e.ID] = *e
	t.newEscrows = append(t.newEscrows, e.ID)
	return nil
}

func (s *EscrowStore) GetForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*models.EscrowTransaction, error) {
	t, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if e, ok := t.escrows[id]; ok {
		return &e, nil
	}
	return s.Get(context.Background(), id)
}

func (s *EscrowStore) Update(_ context.Context, tx pgx.Tx, e *models.EscrowTransaction) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := s.db.fault(OpUpdateEscrow); err != nil {
		return err
	}
	t.escrows[e.ID] = *e
	return nil
}

func (s *EscrowStore) Get(_ context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	e, ok := s.db.escrows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &e, nil
}

func (s *EscrowStore) ListByBuyer(_ context.Context, buyerID string) ([]*models.EscrowTransaction, error) {
	return s.list(func(e models.EscrowTransaction) bool { return e.BuyerID == buyerID }), nil
}

func (s *EscrowStore) ListBySeller(_ context.Context, sellerID string) ([]*models.EscrowTransaction, error) {
	return s.list(func(e models.EscrowTransaction) bool { return e.SellerID == sellerID }), nil
}

func (s *EscrowStore) ListDeliveredBefore(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, e := range s.list(func(e models.EscrowTransaction) bool {
		return e.State == models.EscrowDelivered && e.DeliveredAt != nil && e.DeliveredAt.Before(cutoff)
	}) {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// list returns matches in creation order.
func (s *EscrowStore) list(match func(models.EscrowTransaction) bool) []*models.EscrowTransaction {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []*models.EscrowTransaction
	for _, id := range s.db.escrowSeq {
		e := s.db.escrows[id]
		if match(e) {
			out = append(out, &e)
		}
	}
	return out
}

// Put overwrites a committed escrow row. Test fixture helper.
func (s *EscrowStore) Put(e models.EscrowTransaction) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.escrows[e.ID]; !ok {
		s.db.escrowSeq = append(s.db.escrowSeq, e.ID)
	}
	s.db.escrows[e.ID] = e
}
