package escrow

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/credits/internal/models"
)

func row(state models.EscrowState) models.EscrowTransaction {
	return models.EscrowTransaction{
		ID:            uuid.New(),
		ListingID:     "listing-1",
		BuyerID:       "buyer",
		SellerID:      "seller",
		AmountCredits: 100,
		State:         state,
	}
}

func TestTransition_Table(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name   string
		from   models.EscrowState
		event  Event
		caller string
		want   models.EscrowState
		reason string
	}{
		{"seller delivers", models.EscrowFunded, EventDeliver, "seller", models.EscrowDelivered, ""},
		{"buyer cannot deliver", models.EscrowFunded, EventDeliver, "buyer", "", ReasonWrongParty},
		{"deliver twice", models.EscrowDelivered, EventDeliver, "seller", "", ReasonInvalidState},
		{"buyer disputes funded", models.EscrowFunded, EventDispute, "buyer", models.EscrowDisputed, ""},
		{"buyer disputes delivered", models.EscrowDelivered, EventDispute, "buyer", models.EscrowDisputed, ""},
		{"seller cannot dispute", models.EscrowDelivered, EventDispute, "seller", "", ReasonWrongParty},
		{"release delivered", models.EscrowDelivered, EventRelease, "", models.EscrowReleased, ""},
		{"release funded rejected", models.EscrowFunded, EventRelease, "", "", ReasonInvalidState},
		{"release disputed rejected", models.EscrowDisputed, EventRelease, "", "", ReasonInvalidState},
		{"resolve disputed", models.EscrowDisputed, EventResolve, "", models.EscrowResolved, ""},
		{"resolve delivered rejected", models.EscrowDelivered, EventResolve, "", "", ReasonInvalidState},
		{"refund disputed", models.EscrowDisputed, EventRefund, "", models.EscrowRefunded, ""},
		{"refund funded rejected", models.EscrowFunded, EventRefund, "", "", ReasonInvalidState},
		{"fund is not a transition", models.EscrowFunded, EventFund, "", "", ReasonInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := row(tt.from)
			got, rej := Transition(in, tt.event, tt.caller, now)
			if in.State != tt.from {
				t.Fatalf("input row was modified")
			}
			if tt.reason != "" {
				if rej == nil || rej.Reason != tt.reason {
					t.Fatalf("expected rejection %q, got %+v", tt.reason, rej)
				}
				if rej.From != tt.from {
					t.Errorf("rejection should carry the current state")
				}
				return
			}
			if rej != nil {
				t.Fatalf("unexpected rejection %v", rej)
			}
			if got.State != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got.State)
			}
		})
	}
}

func TestTransition_StampsTimestamps(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	got, _ := Transition(row(models.EscrowFunded), EventDeliver, "seller", now)
	if got.DeliveredAt == nil || !got.DeliveredAt.Equal(now) {
		t.Errorf("deliver must set delivered_at")
	}
	got, _ = Transition(got, EventDispute, "buyer", now)
	if got.DisputedAt == nil {
		t.Errorf("dispute must set disputed_at")
	}
	got, _ = Transition(got, EventRefund, "", now)
	if got.ResolvedAt == nil || got.ReleasedAt != nil {
		t.Errorf("refund must set resolved_at only, got %+v", got)
	}
}

// Every event applied to every terminal state is rejected, and every state
// reached from FUNDED through accepted events is a known state.
func TestTransition_TerminalAndReachability(t *testing.T) {
	now := time.Now()
	all := []Event{EventDeliver, EventDispute, EventRelease, EventResolve, EventRefund}
	callers := []string{"buyer", "seller", ""}

	seen := map[models.EscrowState]bool{models.EscrowFunded: true}
	frontier := []models.EscrowTransaction{row(models.EscrowFunded)}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for _, ev := range all {
			for _, c := range callers {
				next, rej := Transition(cur, ev, c, now)
				if cur.State.Terminal() {
					if rej == nil {
						t.Fatalf("terminal state %s accepted %s", cur.State, ev)
					}
					continue
				}
				if rej != nil {
					continue
				}
				if !next.State.Valid() {
					t.Fatalf("reached unknown state %q", next.State)
				}
				if !seen[next.State] {
					seen[next.State] = true
					frontier = append(frontier, next)
				}
			}
		}
	}
	for _, s := range []models.EscrowState{models.EscrowDelivered, models.EscrowDisputed, models.EscrowReleased, models.EscrowResolved, models.EscrowRefunded} {
		if !seen[s] {
			t.Errorf("state %s not reachable from FUNDED", s)
		}
	}
}
