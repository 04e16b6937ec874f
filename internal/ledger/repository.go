package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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

const walletColumns = `wallet_address, credits, reserved, total_purchased, total_consumed, reserved_at, created_at, updated_at`

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.Address, &w.Credits, &w.Reserved, &w.TotalPurchased, &w.TotalConsumed, &w.ReservedAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// LockWallet materializes a zero row if needed, then locks it (SELECT FOR UPDATE)
// for the rest of tx.
func (r *Repository) LockWallet(ctx context.Context, tx pgx.Tx, wallet string) (*models.Wallet, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO credit_ledger (wallet_address) VALUES ($1)
		ON CONFLICT (wallet_address) DO NOTHING
	`, wallet); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}
	w, err := scanWallet(tx.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM credit_ledger WHERE wallet_address = $1 FOR UPDATE
	`, wallet))
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	return w, nil
}

// SaveWallet writes the mutable columns of a row locked by LockWallet.
func (r *Repository) SaveWallet(ctx context.Context, tx pgx.Tx, w *models.Wallet) error {
	_, err := tx.Exec(ctx, `
		UPDATE credit_ledger
		SET credits = $2, reserved = $3, total_purchased = $4, total_consumed = $5, reserved_at = $6, updated_at = $7
		WHERE wallet_address = $1
	`, w.Address, w.Credits, w.Reserved, w.TotalPurchased, w.TotalConsumed, w.ReservedAt, w.UpdatedAt)
	return err
}

func (r *Repository) AppendTransaction(ctx context.Context, tx pgx.Tx, t *models.CreditTransaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO credit_transactions (id, wallet_address, type, amount, balance_after, reference, txid, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.WalletAddress, t.Type, t.Amount, t.BalanceAfter, t.Reference, t.TxID, t.SessionID, t.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.ErrDuplicateProof
		}
		return err
	}
	return nil
}

func (r *Repository) AddSessionUsage(ctx context.Context, tx pgx.Tx, sessionID string, amount int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO session_credit_usage (session_id, credits_consumed, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (session_id) DO UPDATE
		SET credits_consumed = session_credit_usage.credits_consumed + EXCLUDED.credits_consumed, updated_at = now()
	`, sessionID, amount)
	return err
}

// GetWallet reads without locking. Returns models.ErrNotFound when no row exists.
func (r *Repository) GetWallet(ctx context.Context, wallet string) (*models.Wallet, error) {
	w, err := scanWallet(r.pool.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM credit_ledger WHERE wallet_address = $1
	`, wallet))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return w, err
}

// ListTransactions returns the newest entries first; limit <= 0 means all.
func (r *Repository) ListTransactions(ctx context.Context, wallet string, limit int) ([]*models.CreditTransaction, error) {
	q := `
		SELECT id, wallet_address, type, amount, balance_after, reference, txid, session_id, created_at
		FROM credit_transactions WHERE wallet_address = $1 ORDER BY created_at DESC, id DESC`
	args := []any{wallet}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.WalletAddress, &t.Type, &t.Amount, &t.BalanceAfter, &t.Reference, &t.TxID, &t.SessionID, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

// ListStaleReservations returns wallets holding a reservation opened before cutoff.
func (r *Repository) ListStaleReservations(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT wallet_address FROM credit_ledger
		WHERE reserved > 0 AND reserved_at < $1
		ORDER BY reserved_at ASC
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

func (r *Repository) GetSessionUsage(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT credits_consumed FROM session_credit_usage WHERE session_id = $1
	`, sessionID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return n, err
}
