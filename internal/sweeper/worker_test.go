package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/inaiurai/credits/internal/models"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeEscrow struct {
	settled []*models.EscrowTransaction
	err     error
	calls   int
}

func (f *fakeEscrow) ProcessAutoReleases(context.Context) ([]*models.EscrowTransaction, error) {
	f.calls++
	return f.settled, f.err
}

type fakeLedger struct {
	gotTTL   time.Duration
	released []*models.CreditTransaction
	err      error
}

func (f *fakeLedger) ExpireStaleReservations(_ context.Context, ttl time.Duration) ([]*models.CreditTransaction, error) {
	f.gotTTL = ttl
	return f.released, f.err
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestEscrowAutoReleaseWorker(t *testing.T) {
	esc := &fakeEscrow{settled: []*models.EscrowTransaction{{ID: uuid.New(), State: models.EscrowReleased}}}
	w := NewEscrowAutoReleaseWorker(esc, nil)
	if err := w.Work(context.Background(), &river.Job[EscrowAutoReleaseArgs]{}); err != nil {
		t.Fatalf("work: %v", err)
	}
	if esc.calls != 1 {
		t.Errorf("expected one sweep, got %d", esc.calls)
	}

	esc.err = errors.New("db gone")
	if err := w.Work(context.Background(), &river.Job[EscrowAutoReleaseArgs]{}); !errors.Is(err, esc.err) {
		t.Errorf("expected sweep error to surface for retry, got %v", err)
	}
}

func TestReservationExpiryWorker_PassesTTL(t *testing.T) {
	l := &fakeLedger{released: []*models.CreditTransaction{{WalletAddress: "w1", Amount: 30}}}
	w := NewReservationExpiryWorker(l, 45*time.Minute, nil)
	if err := w.Work(context.Background(), &river.Job[ReservationExpiryArgs]{}); err != nil {
		t.Fatalf("work: %v", err)
	}
	if l.gotTTL != 45*time.Minute {
		t.Errorf("expected ttl 45m, got %s", l.gotTTL)
	}
}

func TestPeriodicJobs(t *testing.T) {
	jobs := PeriodicJobs(Config{EscrowInterval: 10 * time.Minute, ReservationInterval: 5 * time.Minute, ReservationTTL: time.Hour})
	if len(jobs) != 2 {
		t.Fatalf("expected 2 periodic jobs, got %d", len(jobs))
	}
	if (EscrowAutoReleaseArgs{}).Kind() == (ReservationExpiryArgs{}).Kind() {
		t.Errorf("job kinds must differ")
	}
}
