package billing

import (
	"errors"
	"math"
)

// CreditsPerUnit is the size of one billable top-up unit.
const CreditsPerUnit = 1000

// PriceTier prices units up to and including UpTo (cumulative). UpTo of 0 on
// the last tier means unbounded.
type PriceTier struct {
	UpTo      int64 `json:"up_to"`
	UnitPrice int64 `json:"unit_price"`
}

// DefaultSchedule is 100 per unit for the first 10 units and 80 after.
var DefaultSchedule = []PriceTier{
	{UpTo: 10, UnitPrice: 100},
	{UpTo: 0, UnitPrice: 80},
}

var (
	ErrNegativeUnits = errors.New("units must not be negative")
	ErrNoTiers       = errors.New("price schedule is empty")
	ErrBoundedTail   = errors.New("units exceed the last bounded tier")
)

// TieredCost accumulates the cost of units across brackets: each bracket
// charges its own price for the units that fall inside it.
func TieredCost(units int64, tiers []PriceTier) (int64, error) {
	if units < 0 {
		return 0, ErrNegativeUnits
	}
	if len(tiers) == 0 {
		return 0, ErrNoTiers
	}
	var cost, billed int64
	for _, t := range tiers {
		if billed >= units {
			break
		}
		limit := t.UpTo
		if limit == 0 {
			limit = math.MaxInt64
		}
		n := min(units, limit) - billed
		if n <= 0 {
			continue
		}
		cost += n * t.UnitPrice
		billed += n
	}
	if billed < units {
		return 0, ErrBoundedTail
	}
	return cost, nil
}

// Quote is the price of a credit top-up.
type Quote struct {
	Credits int64       `json:"credits"`
	Units   int64       `json:"units"`
	Cost    int64       `json:"cost"`
	Tiers   []PriceTier `json:"tiers"`
}

// PurchaseQuote rounds credits up to whole units and prices them.
func PurchaseQuote(credits int64, tiers []PriceTier) (Quote, error) {
	if credits < 0 {
		return Quote{}, ErrNegativeUnits
	}
	units := (credits + CreditsPerUnit - 1) / CreditsPerUnit
	cost, err := TieredCost(units, tiers)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Credits: credits, Units: units, Cost: cost, Tiers: tiers}, nil
}
