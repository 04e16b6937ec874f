package models

import (
	"time"

	"github.com/google/uuid"
)

// EscrowState is one of the closed set of escrow states.
type EscrowState string

const (
	EscrowFunded    EscrowState = "FUNDED"
	EscrowDelivered EscrowState = "DELIVERED"
	EscrowDisputed  EscrowState = "DISPUTED"
	EscrowReleased  EscrowState = "RELEASED"
	EscrowResolved  EscrowState = "RESOLVED"
	EscrowRefunded  EscrowState = "REFUNDED"
)

// Terminal reports whether no further transition is possible.
func (s EscrowState) Terminal() bool {
	return s == EscrowReleased || s == EscrowResolved || s == EscrowRefunded
}

// Valid reports whether s is a known state.
func (s EscrowState) Valid() bool {
	switch s {
	case EscrowFunded, EscrowDelivered, EscrowDisputed, EscrowReleased, EscrowResolved, EscrowRefunded:
		return true
	}
	return false
}

type EscrowTransaction struct {
	ID            uuid.UUID   `json:"id"`
	ListingID     string      `json:"listing_id"`
	BuyerID       string      `json:"buyer_id"`
	SellerID      string      `json:"seller_id"`
	AmountCredits int64       `json:"amount_credits"`
	State         EscrowState `json:"state"`
	CreatedAt     time.Time   `json:"created_at"`
	DeliveredAt   *time.Time  `json:"delivered_at,omitempty"`
	ReleasedAt    *time.Time  `json:"released_at,omitempty"`
	DisputedAt    *time.Time  `json:"disputed_at,omitempty"`
	ResolvedAt    *time.Time  `json:"resolved_at,omitempty"`
}
