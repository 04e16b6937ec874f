package registry

import (
	"github.com/inaiurai/credits/internal/models"
)

// escrowCaps is the largest escrow, in credits, a counterparty may extend to
// an agent of each tier.
var escrowCaps = map[models.Tier]int64{
	models.TierUnverified:     0,
	models.TierGithubVerified: 500,
	models.TierOwnerVouched:   5_000,
	models.TierEstablished:    50_000,
}

// MeetsMinimumTier is a pure rank comparison.
func MeetsMinimumTier(agentTier, required models.Tier) bool {
	return agentTier.Rank() >= required.Rank()
}

// GetEscrowCap returns the escrow ceiling for tier; unknown tiers get 0.
func GetEscrowCap(tier models.Tier) int64 {
	return escrowCaps[tier]
}

// CanPublishListing reports whether an agent may put a sellable listing live.
func CanPublishListing(tier models.Tier) bool {
	return MeetsMinimumTier(tier, models.TierGithubVerified)
}
