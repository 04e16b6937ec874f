package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/credits/internal/events"
	"github.com/inaiurai/credits/internal/ledger"
	"github.com/inaiurai/credits/internal/metrics"
	"github.com/inaiurai/credits/internal/models"
)

// AutoReleaseAfter is how long a DELIVERED escrow waits for a dispute before
// the sweep pays the seller.
const AutoReleaseAfter = 72 * time.Hour

var ErrNotFound = models.ErrNotFound

// Ledger is the part of the credit ledger escrow moves value through. Both
// calls run inside the escrow transaction.
type Ledger interface {
	DebitTx(ctx context.Context, tx pgx.Tx, wallet string, amount int64, reference string) (ledger.DeductResult, error)
	CreditTx(ctx context.Context, tx pgx.Tx, wallet string, amount int64, entryType, reference string) (*models.CreditTransaction, error)
}

// Store persists escrow rows. GetForUpdate must lock the row until tx ends.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Insert(ctx context.Context, tx pgx.Tx, e *models.EscrowTransaction) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.EscrowTransaction, error)
	Update(ctx context.Context, tx pgx.Tx, e *models.EscrowTransaction) error

	Get(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]*models.EscrowTransaction, error)
	ListBySeller(ctx context.Context, sellerID string) ([]*models.EscrowTransaction, error)
	ListDeliveredBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

type Service struct {
	store     Store
	ledger    Ledger
	publisher events.Publisher
	log       *slog.Logger
	now       func() time.Time
}

func NewService(store Store, l Ledger, publisher events.Publisher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if publisher == nil {
		publisher = events.NewLogPublisher(log)
	}
	return &Service{store: store, ledger: l, publisher: publisher, log: log, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) reject(id uuid.UUID, rej *Rejection) {
	metrics.RecordEscrowRejection(string(rej.Event))
	s.log.Warn("escrow operation rejected", "escrow_id", id, "event", rej.Event, "state", rej.From, "reason", rej.Reason)
}

func (s *Service) publish(ctx context.Context, e *models.EscrowTransaction, from models.EscrowState) {
	metrics.RecordEscrowTransition(string(e.State))
	if err := s.publisher.Publish(ctx, events.NewEscrowEvent(e, from, s.now())); err != nil {
		s.log.Error("publish escrow event", "escrow_id", e.ID, "state", e.State, "error", err)
	}
}

// Fund debits amount from the buyer and opens a FUNDED escrow in one
// transaction. Insufficient balance yields a rejection and no effect.
func (s *Service) Fund(ctx context.Context, listingID, buyerID, sellerID string, amount int64) (*models.EscrowTransaction, *Rejection, error) {
	id := uuid.New()
	if amount <= 0 {
		rej := &Rejection{Event: EventFund, Reason: ReasonInvalidAmount}
		s.reject(id, rej)
		return nil, rej, nil
	}
	if buyerID == sellerID {
		rej := &Rejection{Event: EventFund, Reason: ReasonSameParty}
		s.reject(id, rej)
		return nil, rej, nil
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := &models.EscrowTransaction{
		ID:            id,
		ListingID:     listingID,
		BuyerID:       buyerID,
		SellerID:      sellerID,
		AmountCredits: amount,
		State:         models.EscrowFunded,
		CreatedAt:     s.now(),
	}
	res, err := s.ledger.DebitTx(ctx, tx, buyerID, amount, reference(row, EventFund))
	if err != nil {
		return nil, nil, fmt.Errorf("debit buyer: %w", err)
	}
	if !res.Success {
		rej := &Rejection{Event: EventFund, Reason: res.Reason}
		s.reject(id, rej)
		return nil, rej, nil
	}
	if err := s.store.Insert(ctx, tx, row); err != nil {
		return nil, nil, fmt.Errorf("insert escrow: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}

	metrics.RecordCredits(models.CreditTxDeduction, amount)
	s.log.Info("escrow funded", "escrow_id", id, "listing_id", listingID, "buyer", buyerID, "seller", sellerID, "amount", amount)
	s.publish(ctx, row, "")
	return row, nil, nil
}

// MarkDelivered moves FUNDED to DELIVERED; only the seller may call it.
func (s *Service) MarkDelivered(ctx context.Context, id uuid.UUID, callerID string) (*models.EscrowTransaction, *Rejection, error) {
	return s.apply(ctx, id, EventDeliver, callerID)
}

// Release pays the seller for a DELIVERED escrow.
func (s *Service) Release(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, *Rejection, error) {
	return s.apply(ctx, id, EventRelease, "")
}

// Dispute freezes a FUNDED or DELIVERED escrow; only the buyer may call it.
func (s *Service) Dispute(ctx context.Context, id uuid.UUID, callerID string) (*models.EscrowTransaction, *Rejection, error) {
	return s.apply(ctx, id, EventDispute, callerID)
}

// ResolveForSeller settles a dispute in the seller's favour.
func (s *Service) ResolveForSeller(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, *Rejection, error) {
	return s.apply(ctx, id, EventResolve, "")
}

// Refund settles a dispute by returning the full amount to the buyer.
func (s *Service) Refund(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, *Rejection, error) {
	return s.apply(ctx, id, EventRefund, "")
}

// apply locks the row, runs the transition and its ledger effect, and commits.
func (s *Service) apply(ctx context.Context, id uuid.UUID, ev Event, callerID string) (*models.EscrowTransaction, *Rejection, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	next, rej := Transition(*row, ev, callerID, s.now())
	if rej != nil {
		s.reject(id, rej)
		return nil, rej, nil
	}
	var paid *models.CreditTransaction
	if wallet, entryType, ok := payout(&next, ev); ok {
		if paid, err = s.ledger.CreditTx(ctx, tx, wallet, next.AmountCredits, entryType, reference(&next, ev)); err != nil {
			return nil, nil, fmt.Errorf("credit %s: %w", wallet, err)
		}
	}
	if err := s.store.Update(ctx, tx, &next); err != nil {
		return nil, nil, fmt.Errorf("update escrow: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}

	if paid != nil {
		metrics.RecordCredits(paid.Type, paid.Amount)
	}
	s.log.Info("escrow transition", "escrow_id", id, "from", row.State, "to", next.State)
	s.publish(ctx, &next, row.State)
	return &next, nil, nil
}

// ProcessAutoReleases releases every DELIVERED escrow older than
// AutoReleaseAfter, one transaction each. Escrows disputed in the meantime are
// skipped. On error the escrows already released are returned with it.
func (s *Service) ProcessAutoReleases(ctx context.Context) ([]*models.EscrowTransaction, error) {
	cutoff := s.now().Add(-AutoReleaseAfter)
	ids, err := s.store.ListDeliveredBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list delivered escrows: %w", err)
	}
	var settled []*models.EscrowTransaction
	for _, id := range ids {
		row, rej, err := s.apply(ctx, id, EventRelease, "")
		if err != nil {
			metrics.RecordSweep("escrow_auto_release", len(settled))
			return settled, fmt.Errorf("auto-release %s: %w", id, err)
		}
		if rej != nil {
			continue
		}
		settled = append(settled, row)
	}
	metrics.RecordSweep("escrow_auto_release", len(settled))
	if len(settled) > 0 {
		s.log.Info("escrow auto-release sweep", "released", len(settled))
	}
	return settled, nil
}

func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	return s.store.Get(ctx, id)
}

// GetByBuyer returns the buyer's escrows oldest first.
func (s *Service) GetByBuyer(ctx context.Context, buyerID string) ([]*models.EscrowTransaction, error) {
	return s.store.ListByBuyer(ctx, buyerID)
}

// GetBySeller returns the seller's escrows oldest first.
func (s *Service) GetBySeller(ctx context.Context, sellerID string) ([]*models.EscrowTransaction, error) {
	return s.store.ListBySeller(ctx, sellerID)
}
