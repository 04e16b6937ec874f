package billing

import (
	"errors"
	"testing"
)

func TestTieredCost(t *testing.T) {
	tests := []struct {
		name  string
		units int64
		want  int64
	}{
		{"zero", 0, 0},
		{"inside first tier", 4, 400},
		{"first tier boundary", 10, 1000},
		{"spills into second tier", 15, 1400},
		{"deep into second tier", 110, 1000 + 100*80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TieredCost(tt.units, DefaultSchedule)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("TieredCost(%d) = %d, want %d", tt.units, got, tt.want)
			}
		})
	}
}

func TestTieredCost_Errors(t *testing.T) {
	if _, err := TieredCost(-1, DefaultSchedule); !errors.Is(err, ErrNegativeUnits) {
		t.Errorf("expected ErrNegativeUnits, got %v", err)
	}
	if _, err := TieredCost(1, nil); !errors.Is(err, ErrNoTiers) {
		t.Errorf("expected ErrNoTiers, got %v", err)
	}
	bounded := []PriceTier{{UpTo: 5, UnitPrice: 10}}
	if _, err := TieredCost(6, bounded); !errors.Is(err, ErrBoundedTail) {
		t.Errorf("expected ErrBoundedTail, got %v", err)
	}
}

func TestPurchaseQuote(t *testing.T) {
	q, err := PurchaseQuote(15000, DefaultSchedule)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Units != 15 || q.Cost != 1400 {
		t.Fatalf("expected 15 units for 1400, got %+v", q)
	}

	q, _ = PurchaseQuote(1001, DefaultSchedule)
	if q.Units != 2 || q.Cost != 200 {
		t.Errorf("partial units round up, got %+v", q)
	}
}
