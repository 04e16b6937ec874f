package escrow

import (
	"fmt"
	"time"

	"github.com/inaiurai/credits/internal/models"
)

// Event is an input to the escrow state machine.
type Event string

const (
	EventFund    Event = "fund"
	EventDeliver Event = "deliver"
	EventDispute Event = "dispute"
	EventRelease Event = "release"
	EventResolve Event = "resolve"
	EventRefund  Event = "refund"
)

// Rejection reasons.
const (
	ReasonInvalidState        = "invalid_state"
	ReasonWrongParty          = "wrong_party"
	ReasonInvalidAmount       = "invalid_amount"
	ReasonSameParty           = "same_party"
	ReasonInsufficientCredits = "insufficient_credits"
)

// Rejection is the typed refusal of an escrow operation. Nothing was written.
type Rejection struct {
	Event  Event              `json:"event"`
	From   models.EscrowState `json:"from,omitempty"`
	Reason string             `json:"reason"`
}

func (r *Rejection) Error() string {
	if r.From == "" {
		return fmt.Sprintf("escrow %s rejected: %s", r.Event, r.Reason)
	}
	return fmt.Sprintf("escrow %s rejected in state %s: %s", r.Event, r.From, r.Reason)
}

type rule struct {
	from  []models.EscrowState
	to    models.EscrowState
	party func(e models.EscrowTransaction) string // empty means any caller
	stamp func(e *models.EscrowTransaction, now time.Time)
}

var rules = map[Event]rule{
	EventDeliver: {
		from:  []models.EscrowState{models.EscrowFunded},
		to:    models.EscrowDelivered,
		party: func(e models.EscrowTransaction) string { return e.SellerID },
		stamp: func(e *models.EscrowTransaction, now time.Time) { e.DeliveredAt = &now },
	},
	EventDispute: {
		from:  []models.EscrowState{models.EscrowFunded, models.EscrowDelivered},
		to:    models.EscrowDisputed,
		party: func(e models.EscrowTransaction) string { return e.BuyerID },
		stamp: func(e *models.EscrowTransaction, now time.Time) { e.DisputedAt = &now },
	},
	EventRelease: {
		from:  []models.EscrowState{models.EscrowDelivered},
		to:    models.EscrowReleased,
		stamp: func(e *models.EscrowTransaction, now time.Time) { e.ReleasedAt = &now },
	},
	EventResolve: {
		from:  []models.EscrowState{models.EscrowDisputed},
		to:    models.EscrowResolved,
		stamp: func(e *models.EscrowTransaction, now time.Time) { e.ResolvedAt = &now },
	},
	EventRefund: {
		from:  []models.EscrowState{models.EscrowDisputed},
		to:    models.EscrowRefunded,
		stamp: func(e *models.EscrowTransaction, now time.Time) { e.ResolvedAt = &now },
	},
}

// Transition applies ev to e and returns the new row. It is pure: e is not
// modified, and a rejection returns the zero row.
func Transition(e models.EscrowTransaction, ev Event, caller string, now time.Time) (models.EscrowTransaction, *Rejection) {
	r, ok := rules[ev]
	if !ok {
		return models.EscrowTransaction{}, &Rejection{Event: ev, From: e.State, Reason: ReasonInvalidState}
	}
	allowed := false
	for _, s := range r.from {
		if e.State == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return models.EscrowTransaction{}, &Rejection{Event: ev, From: e.State, Reason: ReasonInvalidState}
	}
	if r.party != nil && caller != r.party(e) {
		return models.EscrowTransaction{}, &Rejection{Event: ev, From: e.State, Reason: ReasonWrongParty}
	}
	next := e
	next.State = r.to
	r.stamp(&next, now)
	return next, nil
}

// payout names the wallet credited when ev commits, and the entry type used.
func payout(e *models.EscrowTransaction, ev Event) (wallet, entryType string, ok bool) {
	switch ev {
	case EventRelease, EventResolve:
		return e.SellerID, models.CreditTxGrant, true
	case EventRefund:
		return e.BuyerID, models.CreditTxRefund, true
	}
	return "", "", false
}

func reference(e *models.EscrowTransaction, ev Event) string {
	return fmt.Sprintf("escrow:%s:%s", e.ID, ev)
}
