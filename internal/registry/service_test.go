package registry

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/inaiurai/credits/internal/memstore"
	"github.com/inaiurai/credits/internal/models"
)

func newTestService(t *testing.T, now time.Time) (*service, *memstore.DB) {
	t.Helper()
	db := memstore.New()
	svc := NewService(db.Identities(), db.Identities(), nil).(*service)
	svc.now = func() time.Time { return now }
	return svc, db
}

func TestGetTier_UnknownAgentIsUnverified(t *testing.T) {
	svc, db := newTestService(t, time.Now())
	tier, err := svc.GetTier(context.Background(), "agent-x")
	if err != nil {
		t.Fatalf("get tier: %v", err)
	}
	if tier != models.TierUnverified {
		t.Fatalf("expected UNVERIFIED, got %s", tier)
	}
	if id, _ := db.Identities().Get(context.Background(), "agent-x"); id != nil {
		t.Errorf("reads must not create rows")
	}
}

func TestSetTier_DowngradeBlocked(t *testing.T) {
	svc, _ := newTestService(t, time.Now())
	ctx := context.Background()

	if _, err := svc.SetTier(ctx, "agent-1", models.TierOwnerVouched, "vouch-hash"); err != nil {
		t.Fatalf("set tier: %v", err)
	}
	got, err := svc.SetTier(ctx, "agent-1", models.TierGithubVerified, "gh-hash")
	if err != nil {
		t.Fatalf("downgrade must not be an error: %v", err)
	}
	if got.Tier != models.TierOwnerVouched {
		t.Fatalf("expected OWNER_VOUCHED to stick, got %s", got.Tier)
	}
	if got.VerificationDataHash == nil || *got.VerificationDataHash != "vouch-hash" {
		t.Errorf("blocked downgrade must return the unchanged record")
	}
	tier, _ := svc.GetTier(ctx, "agent-1")
	if tier != models.TierOwnerVouched {
		t.Errorf("stored tier changed to %s", tier)
	}
}

func TestSetTier_StampsVerification(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)

	id, err := svc.VerifyGithub(context.Background(), "agent-1", "gh-hash")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.Tier != models.TierGithubVerified || id.VerifiedAt == nil || !id.VerifiedAt.Equal(now) {
		t.Errorf("unexpected identity %+v", id)
	}
	if _, err := svc.SetTier(context.Background(), "agent-1", "PLATINUM", ""); !errors.Is(err, ErrUnknownTier) {
		t.Errorf("expected ErrUnknownTier, got %v", err)
	}
}

func TestSetTier_StoreFailureIsReturned(t *testing.T) {
	svc, db := newTestService(t, time.Now())
	boom := errors.New("write failed")
	db.Fail(memstore.OpUpsertIdentity, boom)
	if _, err := svc.RecordVouch(context.Background(), "agent-1", "h"); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	db.Fail(memstore.OpUpsertIdentity, nil)
	if tier, _ := svc.GetTier(context.Background(), "agent-1"); tier != models.TierUnverified {
		t.Errorf("failed write leaked tier %s", tier)
	}
}

func TestTierMonotonicity(t *testing.T) {
	svc, _ := newTestService(t, time.Now())
	ctx := context.Background()
	tiers := []models.Tier{models.TierUnverified, models.TierGithubVerified, models.TierOwnerVouched, models.TierEstablished}
	rng := rand.New(rand.NewSource(11))

	highest := 0
	for i := 0; i < 200; i++ {
		req := tiers[rng.Intn(len(tiers))]
		if _, err := svc.SetTier(ctx, "agent-m", req, ""); err != nil {
			t.Fatalf("set tier: %v", err)
		}
		tier, _ := svc.GetTier(ctx, "agent-m")
		if tier.Rank() < highest {
			t.Fatalf("step %d: rank dropped from %d to %d", i, highest, tier.Rank())
		}
		highest = max(highest, req.Rank())
		if tier.Rank() != highest {
			t.Fatalf("step %d: expected rank %d, got %d", i, highest, tier.Rank())
		}
	}
}

func TestEvaluateEstablished(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	qualified := models.AgentActivity{CreatedAt: now.Add(-31 * 24 * time.Hour), CompletedJobs: 12, ReputationScore: 82}

	tests := []struct {
		name     string
		activity *models.AgentActivity
		want     models.Tier
	}{
		{"all thresholds met", &qualified, models.TierEstablished},
		{"too young", &models.AgentActivity{CreatedAt: now.Add(-29 * 24 * time.Hour), CompletedJobs: 50, ReputationScore: 99}, models.TierGithubVerified},
		{"too few jobs", &models.AgentActivity{CreatedAt: now.Add(-60 * 24 * time.Hour), CompletedJobs: 9, ReputationScore: 99}, models.TierGithubVerified},
		{"low reputation", &models.AgentActivity{CreatedAt: now.Add(-60 * 24 * time.Hour), CompletedJobs: 50, ReputationScore: 69.9}, models.TierGithubVerified},
		{"exact thresholds", &models.AgentActivity{CreatedAt: now.Add(-30 * 24 * time.Hour), CompletedJobs: 10, ReputationScore: 70}, models.TierEstablished},
		{"no profile", nil, models.TierGithubVerified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, db := newTestService(t, now)
			ctx := context.Background()
			if _, err := svc.VerifyGithub(ctx, "agent-e", "h"); err != nil {
				t.Fatal(err)
			}
			if tt.activity != nil {
				a := *tt.activity
				a.AgentID = "agent-e"
				db.Identities().SetActivity(a)
			}
			got, err := svc.EvaluateEstablished(ctx, "agent-e")
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			if stored, _ := svc.GetTier(ctx, "agent-e"); stored != tt.want {
				t.Errorf("stored tier %s, want %s", stored, tt.want)
			}
		})
	}
}

func TestEvaluateEstablished_AlreadyEstablishedIsNoop(t *testing.T) {
	now := time.Now()
	svc, db := newTestService(t, now)
	ctx := context.Background()
	first, _ := svc.SetTier(ctx, "agent-e", models.TierEstablished, "h")

	// Activity that would not qualify must not matter.
	db.Identities().SetActivity(models.AgentActivity{AgentID: "agent-e", CreatedAt: now})
	svc.now = func() time.Time { return now.Add(time.Hour) }

	got, err := svc.EvaluateEstablished(ctx, "agent-e")
	if err != nil || got != models.TierEstablished {
		t.Fatalf("unexpected %s %v", got, err)
	}
	id, _ := svc.GetIdentity(ctx, "agent-e")
	if !id.UpdatedAt.Equal(first.UpdatedAt) {
		t.Errorf("no-op evaluation rewrote the record")
	}
}
