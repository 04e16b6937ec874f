package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/inaiurai/credits/internal/models"
)

type EscrowAutoReleaseArgs struct{}

func (EscrowAutoReleaseArgs) Kind() string { return "escrow_auto_release" }

type ReservationExpiryArgs struct{}

func (ReservationExpiryArgs) Kind() string { return "reservation_expiry" }

// EscrowReleaser defines what the auto-release worker needs from the escrow engine.
type EscrowReleaser interface {
	ProcessAutoReleases(ctx context.Context) ([]*models.EscrowTransaction, error)
}

// ReservationExpirer defines what the expiry worker needs from the ledger.
type ReservationExpirer interface {
	ExpireStaleReservations(ctx context.Context, ttl time.Duration) ([]*models.CreditTransaction, error)
}

type EscrowAutoReleaseWorker struct {
	river.WorkerDefaults[EscrowAutoReleaseArgs]
	escrow EscrowReleaser
	log    *slog.Logger
}

func NewEscrowAutoReleaseWorker(escrow EscrowReleaser, log *slog.Logger) *EscrowAutoReleaseWorker {
	if log == nil {
		log = slog.Default()
	}
	return &EscrowAutoReleaseWorker{escrow: escrow, log: log}
}

// Work runs one sweep. Escrows released before an error stay released; River
// retries the job and the next run picks up the rest.
func (w *EscrowAutoReleaseWorker) Work(ctx context.Context, job *river.Job[EscrowAutoReleaseArgs]) error {
	settled, err := w.escrow.ProcessAutoReleases(ctx)
	if err != nil {
		return fmt.Errorf("escrow auto-release after %d released: %w", len(settled), err)
	}
	w.log.Info("escrow auto-release finished", "released", len(settled))
	return nil
}

type ReservationExpiryWorker struct {
	river.WorkerDefaults[ReservationExpiryArgs]
	ledger ReservationExpirer
	ttl    time.Duration
	log    *slog.Logger
}

func NewReservationExpiryWorker(ledger ReservationExpirer, ttl time.Duration, log *slog.Logger) *ReservationExpiryWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ReservationExpiryWorker{ledger: ledger, ttl: ttl, log: log}
}

func (w *ReservationExpiryWorker) Work(ctx context.Context, job *river.Job[ReservationExpiryArgs]) error {
	released, err := w.ledger.ExpireStaleReservations(ctx, w.ttl)
	if err != nil {
		return fmt.Errorf("reservation expiry after %d released: %w", len(released), err)
	}
	var credits int64
	for _, e := range released {
		credits += e.Amount
	}
	w.log.Info("reservation expiry finished", "wallets", len(released), "credits", credits)
	return nil
}
