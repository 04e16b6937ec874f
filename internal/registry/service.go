package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/credits/internal/metrics"
	"github.com/inaiurai/credits/internal/models"
)

// ESTABLISHED is derived from the agent's track record.
const (
	EstablishedMinAge        = 30 * 24 * time.Hour
	EstablishedMinJobs       = 10
	EstablishedMinReputation = 70.0
)

var ErrUnknownTier = errors.New("unknown tier")

type Service interface {
	GetTier(ctx context.Context, agentID string) (models.Tier, error)
	GetIdentity(ctx context.Context, agentID string) (*models.AgentIdentity, error)
	SetTier(ctx context.Context, agentID string, tier models.Tier, dataHash string) (*models.AgentIdentity, error)
	VerifyGithub(ctx context.Context, agentID, dataHash string) (*models.AgentIdentity, error)
	RecordVouch(ctx context.Context, agentID, dataHash string) (*models.AgentIdentity, error)
	EvaluateEstablished(ctx context.Context, agentID string) (models.Tier, error)
}

// Store persists agent_identity. Get and LockForUpdate return nil, nil for
// agents with no row.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Get(ctx context.Context, agentID string) (*models.AgentIdentity, error)
	LockForUpdate(ctx context.Context, tx pgx.Tx, agentID string) (*models.AgentIdentity, error)
	Upsert(ctx context.Context, tx pgx.Tx, id *models.AgentIdentity) error
}

// ActivitySource reports an agent's track record, or nil if the platform has
// no profile for it.
type ActivitySource interface {
	GetActivity(ctx context.Context, agentID string) (*models.AgentActivity, error)
}

type service struct {
	store    Store
	activity ActivitySource
	log      *slog.Logger
	now      func() time.Time
}

func NewService(store Store, activity ActivitySource, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{store: store, activity: activity, log: log, now: time.Now}
}

var _ Service = (*service)(nil)

func unverified(agentID string) *models.AgentIdentity {
	return &models.AgentIdentity{AgentID: agentID, Tier: models.TierUnverified}
}

func (s *service) GetIdentity(ctx context.Context, agentID string) (*models.AgentIdentity, error) {
	id, err := s.store.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return unverified(agentID), nil
	}
	return id, nil
}

func (s *service) GetTier(ctx context.Context, agentID string) (models.Tier, error) {
	id, err := s.GetIdentity(ctx, agentID)
	if err != nil {
		return "", err
	}
	return id.Tier, nil
}

// SetTier is upgrade-only. A lower tier leaves the record as it is and
// returns it.
func (s *service) SetTier(ctx context.Context, agentID string, tier models.Tier, dataHash string) (*models.AgentIdentity, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.store.LockForUpdate(ctx, tx, agentID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		current = unverified(agentID)
	}
	if tier.Rank() < current.Tier.Rank() {
		metrics.RecordTierChange("blocked_downgrade")
		s.log.Warn("tier downgrade blocked", "agent_id", agentID, "current", current.Tier, "requested", tier)
		return current, nil
	}

	now := s.now()
	next := &models.AgentIdentity{
		AgentID:              agentID,
		Tier:                 tier,
		VerifiedAt:           &now,
		VerificationDataHash: current.VerificationDataHash,
		UpdatedAt:            now,
	}
	if dataHash != "" {
		next.VerificationDataHash = &dataHash
	}
	if err := s.store.Upsert(ctx, tx, next); err != nil {
		return nil, fmt.Errorf("upsert identity: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	if tier == current.Tier {
		metrics.RecordTierChange("unchanged")
	} else {
		metrics.RecordTierChange("upgraded")
		s.log.Info("tier upgraded", "agent_id", agentID, "from", current.Tier, "to", tier)
	}
	return next, nil
}

func (s *service) VerifyGithub(ctx context.Context, agentID, dataHash string) (*models.AgentIdentity, error) {
	return s.SetTier(ctx, agentID, models.TierGithubVerified, dataHash)
}

func (s *service) RecordVouch(ctx context.Context, agentID, dataHash string) (*models.AgentIdentity, error) {
	return s.SetTier(ctx, agentID, models.TierOwnerVouched, dataHash)
}

// EvaluateEstablished upgrades the agent to ESTABLISHED when its age, completed
// jobs and reputation all clear the thresholds. It returns the resulting tier.
func (s *service) EvaluateEstablished(ctx context.Context, agentID string) (models.Tier, error) {
	current, err := s.GetTier(ctx, agentID)
	if err != nil {
		return "", err
	}
	if MeetsMinimumTier(current, models.TierEstablished) {
		return current, nil
	}
	act, err := s.activity.GetActivity(ctx, agentID)
	if err != nil {
		return "", fmt.Errorf("load activity: %w", err)
	}
	if act == nil || !qualifiesEstablished(act, s.now()) {
		return current, nil
	}
	id, err := s.SetTier(ctx, agentID, models.TierEstablished, "")
	if err != nil {
		return "", err
	}
	return id.Tier, nil
}

func qualifiesEstablished(a *models.AgentActivity, now time.Time) bool {
	return now.Sub(a.CreatedAt) >= EstablishedMinAge &&
		a.CompletedJobs >= EstablishedMinJobs &&
		a.ReputationScore >= EstablishedMinReputation
}
