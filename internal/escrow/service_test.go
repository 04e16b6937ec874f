package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/inaiurai/credits/internal/config"
	"github.com/inaiurai/credits/internal/events"
	"github.com/inaiurai/credits/internal/ledger"
	"github.com/inaiurai/credits/internal/memstore"
	"github.com/inaiurai/credits/internal/models"
)

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	db     *memstore.DB
	ledger *ledger.Service
	svc    *Service
	events *events.Recorder
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:     memstore.New(),
		events: &events.Recorder{},
		clock:  time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return f.clock }
	f.ledger = newLedger(f.db, now)
	f.svc = NewService(f.db.Escrows(), f.ledger, f.events, nil).WithClock(now)
	return f
}

func newLedger(db *memstore.DB, now func() time.Time) *ledger.Service {
	return ledger.NewService(db.Ledger(), config.Static(config.DefaultCredit()), nil).WithClock(now)
}

// creditsCounter reads credits_ledger_credits_total for one entry type.
func creditsCounter(t *testing.T, entryType string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "credits_ledger_credits_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "type" && l.GetValue() == entryType {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func (f *fixture) grant(t *testing.T, wallet string, amount int64) {
	t.Helper()
	if _, err := f.ledger.GrantCredits(context.Background(), wallet, amount, "test"); err != nil {
		t.Fatalf("grant: %v", err)
	}
}

func (f *fixture) available(t *testing.T, wallet string) int64 {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), wallet)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b.Available
}

func (f *fixture) fund(t *testing.T, amount int64) *models.EscrowTransaction {
	t.Helper()
	e, rej, err := f.svc.Fund(context.Background(), "listing-1", "buyer", "seller", amount)
	if err != nil || rej != nil {
		t.Fatalf("fund: %v %v", rej, err)
	}
	return e
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestFundDeliverRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grant(t, "buyer", 1000)

	e := f.fund(t, 100)
	if e.State != models.EscrowFunded {
		t.Fatalf("expected FUNDED, got %s", e.State)
	}
	if got := f.available(t, "buyer"); got != 900 {
		t.Fatalf("expected buyer available 900, got %d", got)
	}

	e, rej, err := f.svc.MarkDelivered(ctx, e.ID, "seller")
	if err != nil || rej != nil || e.State != models.EscrowDelivered {
		t.Fatalf("deliver: %+v %v %v", e, rej, err)
	}

	e, rej, err = f.svc.Release(ctx, e.ID)
	if err != nil || rej != nil || e.State != models.EscrowReleased {
		t.Fatalf("release: %+v %v %v", e, rej, err)
	}
	if got := f.available(t, "seller"); got != 100 {
		t.Errorf("expected seller available 100, got %d", got)
	}

	entries := f.db.Ledger().Entries("seller")
	if len(entries) != 1 || entries[0].Reference != "escrow:"+e.ID.String()+":release" {
		t.Errorf("unexpected seller entries %+v", entries)
	}

	evs := f.events.Events()
	if len(evs) != 3 || evs[0].To != models.EscrowFunded || evs[2].From != models.EscrowDelivered || evs[2].To != models.EscrowReleased {
		t.Errorf("unexpected events %+v", evs)
	}
}

func TestFund_InsufficientLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "buyer", 1000)

	e, rej, err := f.svc.Fund(context.Background(), "listing-1", "buyer", "seller", 2000)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if e != nil || rej == nil || rej.Reason != ReasonInsufficientCredits {
		t.Fatalf("expected insufficient rejection, got %+v %+v", e, rej)
	}
	if got := f.available(t, "buyer"); got != 1000 {
		t.Errorf("expected buyer available 1000, got %d", got)
	}
	if list, _ := f.svc.GetByBuyer(context.Background(), "buyer"); len(list) != 0 {
		t.Errorf("expected no escrow rows, got %d", len(list))
	}
	if n := len(f.events.Events()); n != 0 {
		t.Errorf("expected no events, got %d", n)
	}
}

func TestFund_Guards(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "buyer", 1000)
	ctx := context.Background()

	if _, rej, _ := f.svc.Fund(ctx, "l", "buyer", "seller", 0); rej == nil || rej.Reason != ReasonInvalidAmount {
		t.Errorf("expected invalid_amount, got %+v", rej)
	}
	if _, rej, _ := f.svc.Fund(ctx, "l", "buyer", "buyer", 10); rej == nil || rej.Reason != ReasonSameParty {
		t.Errorf("expected same_party, got %+v", rej)
	}
	if got := f.available(t, "buyer"); got != 1000 {
		t.Errorf("guards must not touch the ledger, available %d", got)
	}
}

func TestFund_InsertFailureRollsBackDebit(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "buyer", 1000)
	boom := errors.New("constraint violation")
	f.db.Fail(memstore.OpInsertEscrow, boom)
	debited := creditsCounter(t, models.CreditTxDeduction)

	_, _, err := f.svc.Fund(context.Background(), "listing-1", "buyer", "seller", 100)
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if got := f.available(t, "buyer"); got != 1000 {
		t.Errorf("debit leaked past rollback: available %d", got)
	}
	if got := creditsCounter(t, models.CreditTxDeduction); got != debited {
		t.Errorf("rolled-back debit was counted: %v -> %v", debited, got)
	}

	f.db.Fail(memstore.OpInsertEscrow, nil)
	f.fund(t, 100)
	if got := creditsCounter(t, models.CreditTxDeduction); got != debited+100 {
		t.Errorf("committed debit not counted once: %v -> %v", debited, got)
	}
}

func TestRelease_RequiresDelivery(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "buyer", 1000)
	e := f.fund(t, 100)

	got, rej, err := f.svc.Release(context.Background(), e.ID)
	if err != nil || got != nil || rej == nil || rej.Reason != ReasonInvalidState {
		t.Fatalf("expected invalid_state rejection, got %+v %+v %v", got, rej, err)
	}
	stored, _ := f.svc.GetTransaction(context.Background(), e.ID)
	if stored.State != models.EscrowFunded {
		t.Errorf("rejected release changed state to %s", stored.State)
	}
	if got := f.available(t, "seller"); got != 0 {
		t.Errorf("seller was paid without delivery: %d", got)
	}
}

func TestMarkDelivered_WrongCaller(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "buyer", 1000)
	e := f.fund(t, 100)

	_, rej, err := f.svc.MarkDelivered(context.Background(), e.ID, "buyer")
	if err != nil || rej == nil || rej.Reason != ReasonWrongParty {
		t.Fatalf("expected wrong_party, got %+v %v", rej, err)
	}
	stored, _ := f.svc.GetTransaction(context.Background(), e.ID)
	if stored.State != models.EscrowFunded || stored.DeliveredAt != nil {
		t.Errorf("rejected delivery mutated the row: %+v", stored)
	}
}

func TestDisputeThenRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grant(t, "buyer", 1000)
	e := f.fund(t, 300)

	if _, rej, _ := f.svc.Dispute(ctx, e.ID, "seller"); rej == nil || rej.Reason != ReasonWrongParty {
		t.Fatalf("seller must not dispute, got %+v", rej)
	}
	e, rej, err := f.svc.Dispute(ctx, e.ID, "buyer")
	if err != nil || rej != nil || e.State != models.EscrowDisputed {
		t.Fatalf("dispute: %+v %v %v", e, rej, err)
	}
	if _, rej, _ := f.svc.Release(ctx, e.ID); rej == nil {
		t.Fatalf("release must be rejected while disputed")
	}

	e, rej, err = f.svc.Refund(ctx, e.ID)
	if err != nil || rej != nil || e.State != models.EscrowRefunded {
		t.Fatalf("refund: %+v %v %v", e, rej, err)
	}
	if got := f.available(t, "buyer"); got != 1000 {
		t.Errorf("expected buyer made whole at 1000, got %d", got)
	}
	entries := f.db.Ledger().Entries("buyer")
	last := entries[len(entries)-1]
	if last.Type != models.CreditTxRefund || last.Amount != 300 {
		t.Errorf("unexpected refund entry %+v", last)
	}

	if _, rej, _ := f.svc.ResolveForSeller(ctx, e.ID); rej == nil {
		t.Errorf("terminal escrow accepted resolve")
	}
	if got := f.available(t, "seller"); got != 0 {
		t.Errorf("seller paid after refund: %d", got)
	}
}

func TestDisputeThenResolveForSeller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grant(t, "buyer", 500)
	e := f.fund(t, 200)
	f.svc.MarkDelivered(ctx, e.ID, "seller")
	f.svc.Dispute(ctx, e.ID, "buyer")

	e, rej, err := f.svc.ResolveForSeller(ctx, e.ID)
	if err != nil || rej != nil || e.State != models.EscrowResolved || e.ResolvedAt == nil {
		t.Fatalf("resolve: %+v %v %v", e, rej, err)
	}
	if got := f.available(t, "seller"); got != 200 {
		t.Errorf("expected seller 200, got %d", got)
	}
	if got := f.available(t, "buyer"); got != 300 {
		t.Errorf("expected buyer 300, got %d", got)
	}
}

func TestUnknownEscrow(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.Release(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProcessAutoReleases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.clock

	stale := models.EscrowTransaction{
		ID: uuid.New(), ListingID: "l-old", BuyerID: "buyer", SellerID: "seller-old",
		AmountCredits: 70, State: models.EscrowDelivered, CreatedAt: start.Add(-80 * time.Hour),
	}
	old := start.Add(-73 * time.Hour)
	stale.DeliveredAt = &old

	fresh := models.EscrowTransaction{
		ID: uuid.New(), ListingID: "l-new", BuyerID: "buyer", SellerID: "seller-new",
		AmountCredits: 30, State: models.EscrowDelivered, CreatedAt: start.Add(-2 * time.Hour),
	}
	recent := start.Add(-1 * time.Hour)
	fresh.DeliveredAt = &recent

	f.db.Escrows().Put(stale)
	f.db.Escrows().Put(fresh)

	settled, err := f.svc.ProcessAutoReleases(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(settled) != 1 || settled[0].ID != stale.ID || settled[0].State != models.EscrowReleased {
		t.Fatalf("expected only the 73h escrow released, got %+v", settled)
	}
	if got := f.available(t, "seller-old"); got != 70 {
		t.Errorf("expected seller-old credited 70, got %d", got)
	}
	if got, _ := f.svc.GetTransaction(ctx, fresh.ID); got.State != models.EscrowDelivered {
		t.Errorf("1h escrow must be untouched, got %s", got.State)
	}
	if got := f.available(t, "seller-new"); got != 0 {
		t.Errorf("seller-new paid early: %d", got)
	}

	// A second sweep finds nothing new.
	settled, err = f.svc.ProcessAutoReleases(ctx)
	if err != nil || len(settled) != 0 {
		t.Errorf("expected idempotent sweep, got %d %v", len(settled), err)
	}
}

func TestProcessAutoReleases_FailureKeepsEarlierReleases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, seller := range []string{"s1", "s2"} {
		at := f.clock.Add(-time.Duration(100-i) * time.Hour)
		f.db.Escrows().Put(models.EscrowTransaction{
			ID: uuid.New(), ListingID: "l", BuyerID: "buyer", SellerID: seller,
			AmountCredits: 10, State: models.EscrowDelivered, CreatedAt: at, DeliveredAt: &at,
		})
	}

	// The first release commits; the second fails at commit time.
	calls := 0
	pub := &failAfterPublisher{db: f.db, after: 1, calls: &calls}
	f.svc.publisher = pub

	settled, err := f.svc.ProcessAutoReleases(ctx)
	f.db.Fail(memstore.OpCommit, nil)
	if err == nil {
		t.Fatalf("expected sweep error")
	}
	if len(settled) != 1 {
		t.Fatalf("expected one escrow released before the failure, got %d", len(settled))
	}
	if got := f.available(t, settled[0].SellerID); got != 10 {
		t.Errorf("committed release was lost: %d", got)
	}
}

// failAfterPublisher arms a commit fault once `after` events have been
// published, so the following escrow transaction fails.
type failAfterPublisher struct {
	db    *memstore.DB
	after int
	calls *int
}

func (p *failAfterPublisher) Publish(context.Context, events.EscrowEvent) error {
	*p.calls++
	if *p.calls >= p.after {
		p.db.Fail(memstore.OpCommit, errors.New("connection reset"))
	}
	return nil
}

func (p *failAfterPublisher) Close() error { return nil }

func TestPublishFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	f.grant(t, "buyer", 100)
	f.events.Err = errors.New("broker down")

	e := f.fund(t, 50)
	stored, err := f.svc.GetTransaction(context.Background(), e.ID)
	if err != nil || stored.State != models.EscrowFunded {
		t.Fatalf("escrow should be committed despite publish failure: %+v %v", stored, err)
	}
}

func TestGetByBuyerAndSeller_Ordered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.grant(t, "buyer", 1000)
	first := f.fund(t, 10)
	f.clock = f.clock.Add(time.Minute)
	second := f.fund(t, 20)

	list, err := f.svc.GetByBuyer(ctx, "buyer")
	if err != nil || len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("unexpected buyer list %+v %v", list, err)
	}
	list, _ = f.svc.GetBySeller(ctx, "seller")
	if len(list) != 2 {
		t.Errorf("expected 2 escrows for seller, got %d", len(list))
	}
	if list, _ := f.svc.GetBySeller(ctx, "nobody"); len(list) != 0 {
		t.Errorf("expected empty list")
	}
}
