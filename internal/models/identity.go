package models

import (
	"time"
)

// Tier is an agent trust tier. Tiers are totally ordered by rank.
type Tier string

const (
	TierUnverified     Tier = "UNVERIFIED"
	TierGithubVerified Tier = "GITHUB_VERIFIED"
	TierOwnerVouched   Tier = "OWNER_VOUCHED"
	TierEstablished    Tier = "ESTABLISHED"
)

var tierRanks = map[Tier]int{
	TierUnverified:     0,
	TierGithubVerified: 1,
	TierOwnerVouched:   2,
	TierEstablished:    3,
}

// Rank returns the tier's position in the total order. Unknown tiers rank
// with UNVERIFIED.
func (t Tier) Rank() int {
	return tierRanks[t]
}

func (t Tier) Valid() bool {
	_, ok := tierRanks[t]
	return ok
}

type AgentIdentity struct {
	AgentID              string     `json:"agent_id"`
	Tier                 Tier       `json:"tier"`
	VerifiedAt           *time.Time `json:"verified_at,omitempty"`
	VerificationDataHash *string    `json:"verification_data_hash,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// AgentActivity is the track record used to derive the ESTABLISHED tier.
type AgentActivity struct {
	AgentID         string    `json:"agent_id"`
	CreatedAt       time.Time `json:"created_at"`
	CompletedJobs   int       `json:"completed_jobs"`
	ReputationScore float64   `json:"reputation_score"`
}
