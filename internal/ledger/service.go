package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/credits/internal/config"
	"github.com/inaiurai/credits/internal/metrics"
	"github.com/inaiurai/credits/internal/models"
)

// Store is the persistence the ledger needs. Methods taking a tx run inside
// the caller's transaction; LockWallet must hold a row lock until the tx ends.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	LockWallet(ctx context.Context, tx pgx.Tx, wallet string) (*models.Wallet, error)
	SaveWallet(ctx context.Context, tx pgx.Tx, w *models.Wallet) error
	AppendTransaction(ctx context.Context, tx pgx.Tx, t *models.CreditTransaction) error
	AddSessionUsage(ctx context.Context, tx pgx.Tx, sessionID string, amount int64) error

	GetWallet(ctx context.Context, wallet string) (*models.Wallet, error)
	ListTransactions(ctx context.Context, wallet string, limit int) ([]*models.CreditTransaction, error)
	ListStaleReservations(ctx context.Context, cutoff time.Time) ([]string, error)
	GetSessionUsage(ctx context.Context, sessionID string) (int64, error)
}

var (
	ErrWalletNotFound = models.ErrNotFound
	ErrDuplicateProof = models.ErrDuplicateProof

	// ErrInvalidAmount is returned for non-positive credit amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidEntryType is returned when CreditTx is asked to write a debit type.
	ErrInvalidEntryType = errors.New("entry type does not credit a wallet")
	// ErrBalanceInvariant means a write would leave reserved outside [0, credits].
	ErrBalanceInvariant = errors.New("balance invariant violated")
	// ErrAmountOverflow is returned when a purchase converts to more credits
	// than a balance can hold.
	ErrAmountOverflow = errors.New("credit amount overflows int64")
)

// Failure reasons carried in DeductResult.Reason.
const (
	ReasonInsufficientCredits = "insufficient_credits"
	ReasonInvalidAmount       = "invalid_amount"
	ReasonInvalidMemberCount  = "invalid_member_count"
)

// Entry references written by the ledger itself.
const (
	RefTurn               = "turn"
	RefGroupReserve       = "group_reserve"
	RefGroupConsumed      = "group_consumed"
	RefGroupRelease       = "group_release"
	RefFirstTimeBonus     = "first_time_bonus"
	RefReservationExpired = "reservation_expired"
)

// DeductResult is the typed outcome of every debit-like operation. A failed
// result never comes with a mutation.
type DeductResult struct {
	Success          bool   `json:"success"`
	Reason           string `json:"reason,omitempty"`
	Amount           int64  `json:"amount"`
	CreditsRemaining int64  `json:"credits_remaining"`
	IsLow            bool   `json:"is_low"`
	IsExhausted      bool   `json:"is_exhausted"`
}

func failed(reason string, w *models.Wallet) DeductResult {
	r := DeductResult{Reason: reason}
	if w != nil {
		r.CreditsRemaining = w.Available()
	}
	if reason == ReasonInsufficientCredits {
		r.IsLow = true
		r.IsExhausted = true
	}
	return r
}

// ReplayReport compares a wallet's stored credits against its log.
type ReplayReport struct {
	WalletAddress string `json:"wallet_address"`
	Stored        int64  `json:"stored_credits"`
	Replayed      int64  `json:"replayed_credits"`
	Entries       int    `json:"entries"`
	Consistent    bool   `json:"consistent"`
}

// Service implements the credit ledger. Configuration is loaded from cfg at
// the start of every operation.
type Service struct {
	store Store
	cfg   config.Source
	log   *slog.Logger
	now   func() time.Time

	// pending holds entries written in transactions owned by withWallet until
	// they commit.
	mu      sync.Mutex
	pending map[pgx.Tx][]*models.CreditTransaction
}

func NewService(store Store, cfg config.Source, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:   store,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		pending: make(map[pgx.Tx][]*models.CreditTransaction),
	}
}

// WithClock replaces the time source. Used by tests and sweeps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) loadConfig(ctx context.Context) (config.Credit, error) {
	cfg, err := s.cfg.Load(ctx)
	if err != nil {
		return config.Credit{}, fmt.Errorf("load credit config: %w", err)
	}
	return cfg, nil
}

// withWallet runs fn in its own transaction with the wallet row locked.
func (s *Service) withWallet(ctx context.Context, op, wallet string, fn func(tx pgx.Tx, w *models.Wallet) error) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	s.track(tx)
	defer s.untrack(tx)

	w, err := s.store.LockWallet(ctx, tx, wallet)
	if err != nil {
		return err
	}
	if err := fn(tx, w); err != nil {
		s.log.Error("ledger operation failed", "op", op, "wallet", wallet, "error", err)
		metrics.RecordLedgerOp(op, "error")
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		s.log.Error("ledger commit failed", "op", op, "wallet", wallet, "error", err)
		metrics.RecordLedgerOp(op, "error")
		return fmt.Errorf("commit: %w", err)
	}
	for _, e := range s.untrack(tx) {
		metrics.RecordCredits(e.Type, e.Amount)
	}
	return nil
}

func (s *Service) track(tx pgx.Tx) {
	s.mu.Lock()
	s.pending[tx] = nil
	s.mu.Unlock()
}

func (s *Service) untrack(tx pgx.Tx) []*models.CreditTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.pending[tx]
	delete(s.pending, tx)
	return entries
}

// record persists w and appends the one log entry describing the change.
func (s *Service) record(ctx context.Context, tx pgx.Tx, w *models.Wallet, entryType string, amount int64, reference string, txid, sessionID *string) (*models.CreditTransaction, error) {
	if w.Reserved < 0 || w.Reserved > w.Credits {
		return nil, fmt.Errorf("%w: wallet %s credits=%d reserved=%d", ErrBalanceInvariant, w.Address, w.Credits, w.Reserved)
	}
	now := s.now()
	w.UpdatedAt = now
	if err := s.store.SaveWallet(ctx, tx, w); err != nil {
		return nil, fmt.Errorf("save wallet: %w", err)
	}
	entry := &models.CreditTransaction{
		ID:            uuid.NewString(),
		WalletAddress: w.Address,
		Type:          entryType,
		Amount:        amount,
		BalanceAfter:  w.Credits,
		Reference:     reference,
		TxID:          txid,
		SessionID:     sessionID,
		CreatedAt:     now,
	}
	if err := s.store.AppendTransaction(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}
	// Entries in a caller-owned tx are counted by the caller after commit.
	s.mu.Lock()
	if p, ok := s.pending[tx]; ok {
		s.pending[tx] = append(p, entry)
	}
	s.mu.Unlock()
	return entry, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// credit adds amount to credits. Purchases and grants count toward
// total_purchased; refunds do not.
func (s *Service) credit(ctx context.Context, tx pgx.Tx, w *models.Wallet, amount int64, entryType, reference string, txid *string) (*models.CreditTransaction, error) {
	if amount > math.MaxInt64-w.Credits || amount > math.MaxInt64-w.TotalPurchased {
		return nil, fmt.Errorf("%w: wallet %s", ErrAmountOverflow, w.Address)
	}
	w.Credits += amount
	if entryType == models.CreditTxPurchase || entryType == models.CreditTxGrant {
		w.TotalPurchased += amount
	}
	return s.record(ctx, tx, w, entryType, amount, reference, txid, nil)
}

// debit removes cost from available credits or reports why it cannot.
func (s *Service) debit(ctx context.Context, tx pgx.Tx, w *models.Wallet, cost int64, entryType, reference, sessionID string, cfg config.Credit) (DeductResult, error) {
	if w.Available() < cost {
		return failed(ReasonInsufficientCredits, w), nil
	}
	w.Credits -= cost
	w.TotalConsumed += cost
	if _, err := s.record(ctx, tx, w, entryType, cost, reference, nil, optional(sessionID)); err != nil {
		return DeductResult{}, err
	}
	if sessionID != "" {
		if err := s.store.AddSessionUsage(ctx, tx, sessionID, cost); err != nil {
			return DeductResult{}, fmt.Errorf("session usage: %w", err)
		}
	}
	return s.succeeded(w, cost, cfg), nil
}

func (s *Service) succeeded(w *models.Wallet, amount int64, cfg config.Credit) DeductResult {
	remaining := w.Available()
	return DeductResult{
		Success:          true,
		Amount:           amount,
		CreditsRemaining: remaining,
		IsLow:            remaining <= cfg.LowCreditThreshold,
		IsExhausted:      remaining <= 0,
	}
}

func outcome(r DeductResult) string {
	if r.Success {
		return "ok"
	}
	return r.Reason
}

// GetBalance returns the wallet balance, creating a zero row on first use.
func (s *Service) GetBalance(ctx context.Context, wallet string) (models.CreditBalance, error) {
	var bal models.CreditBalance
	err := s.withWallet(ctx, "get_balance", wallet, func(_ pgx.Tx, w *models.Wallet) error {
		bal = w.Balance()
		return nil
	})
	return bal, err
}

// PurchaseCredits converts an external payment into credits at the configured
// rate, floored. Payments worth less than one credit are ignored and return 0.
func (s *Service) PurchaseCredits(ctx context.Context, wallet string, externalAmount decimal.Decimal, txid string) (int64, error) {
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return 0, err
	}
	converted := externalAmount.Mul(cfg.CreditsPerAlgo).Floor()
	if converted.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		metrics.RecordLedgerOp("purchase", "overflow")
		return 0, fmt.Errorf("%w: %s", ErrAmountOverflow, externalAmount)
	}
	credits := converted.IntPart()
	if credits <= 0 {
		metrics.RecordLedgerOp("purchase", "dust")
		return 0, nil
	}
	err = s.withWallet(ctx, "purchase", wallet, func(tx pgx.Tx, w *models.Wallet) error {
		_, err := s.credit(ctx, tx, w, credits, models.CreditTxPurchase, "purchase", optional(txid))
		return err
	})
	if err != nil {
		return 0, err
	}
	metrics.RecordLedgerOp("purchase", "ok")
	s.log.Info("credits purchased", "wallet", wallet, "credits", credits, "txid", txid)
	return credits, nil
}

// GrantCredits adds credits unconditionally.
func (s *Service) GrantCredits(ctx context.Context, wallet string, amount int64, reference string) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if reference == "" {
		reference = "grant"
	}
	var entry *models.CreditTransaction
	err := s.withWallet(ctx, "grant", wallet, func(tx pgx.Tx, w *models.Wallet) error {
		var err error
		entry, err = s.credit(ctx, tx, w, amount, models.CreditTxGrant, reference, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordLedgerOp("grant", "ok")
	return entry, nil
}

// DeductTurnCredits charges one conversational turn.
func (s *Service) DeductTurnCredits(ctx context.Context, wallet, sessionID string) (DeductResult, error) {
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return DeductResult{}, err
	}
	return s.deduct(ctx, "deduct_turn", wallet, cfg.CreditsPerTurn, models.CreditTxDeduction, RefTurn, sessionID, cfg)
}

// DeductAgentMessageCredits charges one agent-to-agent message.
func (s *Service) DeductAgentMessageCredits(ctx context.Context, wallet, counterpartyID, sessionID string) (DeductResult, error) {
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return DeductResult{}, err
	}
	return s.deduct(ctx, "deduct_agent_message", wallet, cfg.CreditsPerAgentMessage, models.CreditTxAgentMessage, "agent_message:"+counterpartyID, sessionID, cfg)
}

func (s *Service) deduct(ctx context.Context, op, wallet string, cost int64, entryType, reference, sessionID string, cfg config.Credit) (DeductResult, error) {
	var res DeductResult
	err := s.withWallet(ctx, op, wallet, func(tx pgx.Tx, w *models.Wallet) error {
		if cost == 0 {
			res = s.succeeded(w, 0, cfg)
			return nil
		}
		var err error
		res, err = s.debit(ctx, tx, w, cost, entryType, reference, sessionID, cfg)
		return err
	})
	if err != nil {
		return DeductResult{}, err
	}
	metrics.RecordLedgerOp(op, outcome(res))
	return res, nil
}

// ReserveGroupCredits holds reserve_per_group_message × memberCount against
// the available balance. Credits are untouched until consume or release.
func (s *Service) ReserveGroupCredits(ctx context.Context, wallet string, memberCount int) (DeductResult, error) {
	if memberCount <= 0 {
		metrics.RecordLedgerOp("reserve", ReasonInvalidMemberCount)
		return failed(ReasonInvalidMemberCount, nil), nil
	}
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return DeductResult{}, err
	}
	unit := cfg.ReservePerGroupMessage
	if unit > 0 && int64(memberCount) > math.MaxInt64/unit {
		metrics.RecordLedgerOp("reserve", ReasonInvalidMemberCount)
		return failed(ReasonInvalidMemberCount, nil), nil
	}
	amount := unit * int64(memberCount)

	var res DeductResult
	err = s.withWallet(ctx, "reserve", wallet, func(tx pgx.Tx, w *models.Wallet) error {
		if amount == 0 {
			res = s.succeeded(w, 0, cfg)
			return nil
		}
		if w.Available() < amount {
			res = failed(ReasonInsufficientCredits, w)
			return nil
		}
		now := s.now()
		w.Reserved += amount
		w.ReservedAt = &now
		if _, err := s.record(ctx, tx, w, models.CreditTxReserve, amount, RefGroupReserve, nil, nil); err != nil {
			return err
		}
		res = s.succeeded(w, amount, cfg)
		return nil
	})
	if err != nil {
		return DeductResult{}, err
	}
	metrics.RecordLedgerOp("reserve", outcome(res))
	return res, nil
}

// ConsumeReservedCredits commits a reservation: both reserved (floored at
// zero) and credits drop by amount.
func (s *Service) ConsumeReservedCredits(ctx context.Context, wallet string, amount int64, sessionID string) (DeductResult, error) {
	if amount <= 0 {
		metrics.RecordLedgerOp("consume", ReasonInvalidAmount)
		return failed(ReasonInvalidAmount, nil), nil
	}
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return DeductResult{}, err
	}

	var res DeductResult
	err = s.withWallet(ctx, "consume", wallet, func(tx pgx.Tx, w *models.Wallet) error {
		if amount > w.Credits {
			res = failed(ReasonInsufficientCredits, w)
			return nil
		}
		w.Reserved = max(0, w.Reserved-amount)
		if w.Reserved == 0 {
			w.ReservedAt = nil
		}
		w.Credits -= amount
		w.TotalConsumed += amount
		if _, err := s.record(ctx, tx, w, models.CreditTxDeduction, amount, RefGroupConsumed, nil, optional(sessionID)); err != nil {
			return err
		}
		if sessionID != "" {
			if err := s.store.AddSessionUsage(ctx, tx, sessionID, amount); err != nil {
				return fmt.Errorf("session usage: %w", err)
			}
		}
		res = s.succeeded(w, amount, cfg)
		return nil
	})
	if err != nil {
		return DeductResult{}, err
	}
	metrics.RecordLedgerOp("consume", outcome(res))
	return res, nil
}

// ReleaseReservedCredits aborts a reservation; credits are unchanged.
func (s *Service) ReleaseReservedCredits(ctx context.Context, wallet string, amount int64) (DeductResult, error) {
	if amount <= 0 {
		metrics.RecordLedgerOp("release", ReasonInvalidAmount)
		return failed(ReasonInvalidAmount, nil), nil
	}
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return DeductResult{}, err
	}

	var res DeductResult
	err = s.withWallet(ctx, "release", wallet, func(tx pgx.Tx, w *models.Wallet) error {
		released, err := s.release(ctx, tx, w, amount, RefGroupRelease)
		if err != nil {
			return err
		}
		res = s.succeeded(w, released, cfg)
		return nil
	})
	if err != nil {
		return DeductResult{}, err
	}
	metrics.RecordLedgerOp("release", outcome(res))
	return res, nil
}

// release drops up to amount from reserved. Nothing is written when there is
// nothing reserved.
func (s *Service) release(ctx context.Context, tx pgx.Tx, w *models.Wallet, amount int64, reference string) (int64, error) {
	released := min(amount, w.Reserved)
	if released == 0 {
		return 0, nil
	}
	w.Reserved -= released
	if w.Reserved == 0 {
		w.ReservedAt = nil
	}
	if _, err := s.record(ctx, tx, w, models.CreditTxRelease, released, reference, nil, nil); err != nil {
		return 0, err
	}
	return released, nil
}

// IsFirstTimeWallet reports whether the wallet has never received credits.
func (s *Service) IsFirstTimeWallet(ctx context.Context, wallet string) (bool, error) {
	w, err := s.store.GetWallet(ctx, wallet)
	if errors.Is(err, ErrWalletNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return w.TotalPurchased == 0, nil
}

// MaybeGrantFirstTimeCredits grants the first-message bonus once. The check
// and the grant share one locked transaction, so concurrent calls grant at
// most once. Returns the amount granted.
func (s *Service) MaybeGrantFirstTimeCredits(ctx context.Context, wallet string) (int64, error) {
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return 0, err
	}
	bonus := cfg.FreeCreditsOnFirstMessage
	if bonus <= 0 {
		return 0, nil
	}
	var granted int64
	err = s.withWallet(ctx, "first_time_bonus", wallet, func(tx pgx.Tx, w *models.Wallet) error {
		if w.TotalPurchased != 0 {
			return nil
		}
		if _, err := s.credit(ctx, tx, w, bonus, models.CreditTxGrant, RefFirstTimeBonus, nil); err != nil {
			return err
		}
		granted = bonus
		return nil
	})
	if err != nil {
		return 0, err
	}
	if granted > 0 {
		metrics.RecordLedgerOp("first_time_bonus", "ok")
		s.log.Info("first-time bonus granted", "wallet", wallet, "credits", granted)
	}
	return granted, nil
}

func (s *Service) available(ctx context.Context, wallet string) (int64, error) {
	w, err := s.store.GetWallet(ctx, wallet)
	if errors.Is(err, ErrWalletNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return w.Available(), nil
}

func (s *Service) HasAnyCredits(ctx context.Context, wallet string) (bool, error) {
	avail, err := s.available(ctx, wallet)
	return avail > 0, err
}

// CanStartSession reports whether the wallet can pay for at least one turn.
func (s *Service) CanStartSession(ctx context.Context, wallet string) (bool, error) {
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return false, err
	}
	avail, err := s.available(ctx, wallet)
	if err != nil {
		return false, err
	}
	return avail > 0 && avail >= cfg.CreditsPerTurn, nil
}

// ListTransactions returns the newest entries first; limit <= 0 returns all.
func (s *Service) ListTransactions(ctx context.Context, wallet string, limit int) ([]*models.CreditTransaction, error) {
	return s.store.ListTransactions(ctx, wallet, limit)
}

// ReplayBalance recomputes credits from the log and compares it with the
// stored column.
func (s *Service) ReplayBalance(ctx context.Context, wallet string) (ReplayReport, error) {
	report := ReplayReport{WalletAddress: wallet}
	w, err := s.store.GetWallet(ctx, wallet)
	switch {
	case errors.Is(err, ErrWalletNotFound):
	case err != nil:
		return report, err
	default:
		report.Stored = w.Credits
	}
	entries, err := s.store.ListTransactions(ctx, wallet, 0)
	if err != nil {
		return report, err
	}
	for _, e := range entries {
		report.Replayed += e.CreditsDelta()
	}
	report.Entries = len(entries)
	report.Consistent = report.Replayed == report.Stored
	if !report.Consistent {
		s.log.Error("ledger replay mismatch", "wallet", wallet, "stored", report.Stored, "replayed", report.Replayed)
	}
	return report, nil
}

func (s *Service) SessionUsage(ctx context.Context, sessionID string) (int64, error) {
	return s.store.GetSessionUsage(ctx, sessionID)
}

// DebitTx debits amount inside the caller's transaction. The caller commits.
func (s *Service) DebitTx(ctx context.Context, tx pgx.Tx, wallet string, amount int64, reference string) (DeductResult, error) {
	if amount <= 0 {
		return failed(ReasonInvalidAmount, nil), nil
	}
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return DeductResult{}, err
	}
	w, err := s.store.LockWallet(ctx, tx, wallet)
	if err != nil {
		return DeductResult{}, err
	}
	res, err := s.debit(ctx, tx, w, amount, models.CreditTxDeduction, reference, "", cfg)
	if err != nil {
		return DeductResult{}, err
	}
	metrics.RecordLedgerOp("debit", outcome(res))
	return res, nil
}

// CreditTx credits amount inside the caller's transaction. entryType must be
// grant, purchase or refund.
func (s *Service) CreditTx(ctx context.Context, tx pgx.Tx, wallet string, amount int64, entryType, reference string) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	switch entryType {
	case models.CreditTxGrant, models.CreditTxPurchase, models.CreditTxRefund:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEntryType, entryType)
	}
	w, err := s.store.LockWallet(ctx, tx, wallet)
	if err != nil {
		return nil, err
	}
	entry, err := s.credit(ctx, tx, w, amount, entryType, reference, nil)
	if err != nil {
		return nil, err
	}
	metrics.RecordLedgerOp("credit", "ok")
	return entry, nil
}

// ExpireStaleReservations releases every reservation opened more than ttl
// ago. Each wallet is handled in its own transaction; on error the entries
// already committed are returned with it.
func (s *Service) ExpireStaleReservations(ctx context.Context, ttl time.Duration) ([]*models.CreditTransaction, error) {
	cutoff := s.now().Add(-ttl)
	wallets, err := s.store.ListStaleReservations(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale reservations: %w", err)
	}
	var released []*models.CreditTransaction
	for _, wallet := range wallets {
		var entry *models.CreditTransaction
		err := s.withWallet(ctx, "expire_reservation", wallet, func(tx pgx.Tx, w *models.Wallet) error {
			if w.Reserved == 0 || w.ReservedAt == nil || !w.ReservedAt.Before(cutoff) {
				return nil
			}
			amount := w.Reserved
			w.Reserved = 0
			w.ReservedAt = nil
			var err error
			entry, err = s.record(ctx, tx, w, models.CreditTxRelease, amount, RefReservationExpired, nil, nil)
			return err
		})
		if err != nil {
			metrics.RecordSweep("reservation_expiry", len(released))
			return released, fmt.Errorf("expire reservation for %s: %w", wallet, err)
		}
		if entry != nil {
			s.log.Warn("stale reservation released", "wallet", wallet, "credits", entry.Amount)
			released = append(released, entry)
		}
	}
	metrics.RecordSweep("reservation_expiry", len(released))
	return released, nil
}
