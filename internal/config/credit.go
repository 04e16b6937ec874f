package config

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Recognized credit_config keys.
const (
	KeyCreditsPerAlgo            = "credits_per_algo"
	KeyLowCreditThreshold        = "low_credit_threshold"
	KeyReservePerGroupMessage    = "reserve_per_group_message"
	KeyCreditsPerTurn            = "credits_per_turn"
	KeyCreditsPerAgentMessage    = "credits_per_agent_message"
	KeyFreeCreditsOnFirstMessage = "free_credits_on_first_message"
)

// Keys lists every recognized key in a stable order.
var Keys = []string{
	KeyCreditsPerAlgo,
	KeyLowCreditThreshold,
	KeyReservePerGroupMessage,
	KeyCreditsPerTurn,
	KeyCreditsPerAgentMessage,
	KeyFreeCreditsOnFirstMessage,
}

// Credit holds the operator-tunable economic constants. It is a plain value:
// callers load a fresh copy per operation from a Source.
type Credit struct {
	CreditsPerAlgo            decimal.Decimal `json:"credits_per_algo"`
	LowCreditThreshold        int64           `json:"low_credit_threshold"`
	ReservePerGroupMessage    int64           `json:"reserve_per_group_message"`
	CreditsPerTurn            int64           `json:"credits_per_turn"`
	CreditsPerAgentMessage    int64           `json:"credits_per_agent_message"`
	FreeCreditsOnFirstMessage int64           `json:"free_credits_on_first_message"`
}

// DefaultCredit returns the built-in constants used when credit_config has
// no row for a key.
func DefaultCredit() Credit {
	return Credit{
		CreditsPerAlgo:            decimal.NewFromInt(1000),
		LowCreditThreshold:        50,
		ReservePerGroupMessage:    10,
		CreditsPerTurn:            1,
		CreditsPerAgentMessage:    5,
		FreeCreditsOnFirstMessage: 100,
	}
}

// Source yields the current credit configuration.
type Source interface {
	Load(ctx context.Context) (Credit, error)
}

// Static is a fixed Source, mostly for tests and tooling.
type Static Credit

func (s Static) Load(context.Context) (Credit, error) {
	return Credit(s), nil
}

// Validate reports whether value is acceptable for key.
func Validate(key, value string) error {
	switch key {
	case KeyCreditsPerAlgo:
		d, err := decimal.NewFromString(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if !d.IsPositive() {
			return fmt.Errorf("%s must be > 0", key)
		}
		return nil
	case KeyLowCreditThreshold, KeyReservePerGroupMessage, KeyCreditsPerTurn,
		KeyCreditsPerAgentMessage, KeyFreeCreditsOnFirstMessage:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if n < 0 {
			return fmt.Errorf("%s must be >= 0", key)
		}
		return nil
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
}

// Parse overlays raw key/value rows onto the defaults. Unknown keys are
// skipped; invalid values keep the default and are reported in errs.
func Parse(values map[string]string) (cfg Credit, errs []error) {
	cfg = DefaultCredit()
	for key, value := range values {
		if err := Validate(key, value); err != nil {
			if key == KeyCreditsPerAlgo || isIntKey(key) {
				errs = append(errs, err)
			}
			continue
		}
		switch key {
		case KeyCreditsPerAlgo:
			cfg.CreditsPerAlgo = decimal.RequireFromString(value)
		case KeyLowCreditThreshold:
			cfg.LowCreditThreshold = mustInt(value)
		case KeyReservePerGroupMessage:
			cfg.ReservePerGroupMessage = mustInt(value)
		case KeyCreditsPerTurn:
			cfg.CreditsPerTurn = mustInt(value)
		case KeyCreditsPerAgentMessage:
			cfg.CreditsPerAgentMessage = mustInt(value)
		case KeyFreeCreditsOnFirstMessage:
			cfg.FreeCreditsOnFirstMessage = mustInt(value)
		}
	}
	return cfg, errs
}

// Values renders cfg back into credit_config rows.
func (c Credit) Values() map[string]string {
	return map[string]string{
		KeyCreditsPerAlgo:            c.CreditsPerAlgo.String(),
		KeyLowCreditThreshold:        strconv.FormatInt(c.LowCreditThreshold, 10),
		KeyReservePerGroupMessage:    strconv.FormatInt(c.ReservePerGroupMessage, 10),
		KeyCreditsPerTurn:            strconv.FormatInt(c.CreditsPerTurn, 10),
		KeyCreditsPerAgentMessage:    strconv.FormatInt(c.CreditsPerAgentMessage, 10),
		KeyFreeCreditsOnFirstMessage: strconv.FormatInt(c.FreeCreditsOnFirstMessage, 10),
	}
}

func isIntKey(key string) bool {
	switch key {
	case KeyLowCreditThreshold, KeyReservePerGroupMessage, KeyCreditsPerTurn,
		KeyCreditsPerAgentMessage, KeyFreeCreditsOnFirstMessage:
		return true
	}
	return false
}

func mustInt(value string) int64 {
	n, _ := strconv.ParseInt(value, 10, 64)
	return n
}
