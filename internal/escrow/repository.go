package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/credits/internal/models"
)

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const escrowColumns = `id, listing_id, buyer_id, seller_id, amount_credits, state, created_at, delivered_at, released_at, disputed_at, resolved_at`

func scanEscrow(row pgx.Row) (*models.EscrowTransaction, error) {
	var e models.EscrowTransaction
	err := row.Scan(&e.ID, &e.ListingID, &e.BuyerID, &e.SellerID, &e.AmountCredits, &e.State,
		&e.CreatedAt, &e.DeliveredAt, &e.ReleasedAt, &e.DisputedAt, &e.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, e *models.EscrowTransaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO escrow_transactions (id, listing_id, buyer_id, seller_id, amount_credits, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.ListingID, e.BuyerID, e.SellerID, e.AmountCredits, e.State, e.CreatedAt)
	return err
}

func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.EscrowTransaction, error) {
	return scanEscrow(tx.QueryRow(ctx, `
		SELECT `+escrowColumns+` FROM escrow_transactions WHERE id = $1 FOR UPDATE
	`, id))
}

// Update writes state and timestamps; amount and parties never change.
func (r *Repository) Update(ctx context.Context, tx pgx.Tx, e *models.EscrowTransaction) error {
	_, err := tx.Exec(ctx, `
		UPDATE escrow_transactions
		SET state = $2, delivered_at = $3, released_at = $4, disputed_at = $5, resolved_at = $6
		WHERE id = $1
	`, e.ID, e.State, e.DeliveredAt, e.ReleasedAt, e.DisputedAt, e.ResolvedAt)
	return err
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	return scanEscrow(r.pool.QueryRow(ctx, `
		SELECT `+escrowColumns+` FROM escrow_transactions WHERE id = $1
	`, id))
}

func (r *Repository) ListByBuyer(ctx context.Context, buyerID string) ([]*models.EscrowTransaction, error) {
	return r.list(ctx, `SELECT `+escrowColumns+` FROM escrow_transactions WHERE buyer_id = $1 ORDER BY created_at ASC`, buyerID)
}

func (r *Repository) ListBySeller(ctx context.Context, sellerID string) ([]*models.EscrowTransaction, error) {
	return r.list(ctx, `SELECT `+escrowColumns+` FROM escrow_transactions WHERE seller_id = $1 ORDER BY created_at ASC`, sellerID)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]*models.EscrowTransaction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.EscrowTransaction{}
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// ListDeliveredBefore returns ids only; each is re-read under lock when released.
func (r *Repository) ListDeliveredBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM escrow_transactions
		WHERE state = 'DELIVERED' AND delivered_at < $1
		ORDER BY delivered_at ASC
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
