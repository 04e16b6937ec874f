package router

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/inaiurai/credits/internal/auth"
	"github.com/inaiurai/credits/internal/config"
	"github.com/inaiurai/credits/internal/dashboard"
	"github.com/inaiurai/credits/internal/escrow"
	"github.com/inaiurai/credits/internal/handlers"
	"github.com/inaiurai/credits/internal/ledger"
	"github.com/inaiurai/credits/internal/memstore"
	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/registry"
)

type operatorStore struct {
	op   *auth.Operator
	hash string
}

func (s *operatorStore) Create(_ context.Context, op *auth.Operator, hash string) error {
	s.op, s.hash = op, hash
	return nil
}

func (s *operatorStore) GetByEmail(_ context.Context, email string) (*auth.Operator, string, error) {
	if s.op == nil || s.op.Email != email {
		return nil, "", nil
	}
	return s.op, s.hash, nil
}

type env struct {
	handler  http.Handler
	db       *memstore.DB
	ledger   *ledger.Service
	apiKey   string
	adminJWT string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	db := memstore.New()
	l := ledger.NewService(db.Ledger(), config.Static(config.DefaultCredit()), nil)
	e := escrow.NewService(db.Escrows(), l, nil, nil)
	tiers := registry.NewService(db.Identities(), db.Identities(), nil)

	authSvc := auth.NewService(&operatorStore{}, "router-test")
	if _, err := authSvc.CreateOperator(ctx, "root@example.com", "pw", "Root", auth.RoleAdmin); err != nil {
		t.Fatal(err)
	}
	token, err := authSvc.Login(ctx, "root@example.com", "pw")
	if err != nil {
		t.Fatal(err)
	}

	k, raw, err := dashboard.NewAPIKey("marketplace")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.APIKeys().Create(ctx, k); err != nil {
		t.Fatal(err)
	}

	h := New(Deps{
		Auth:     auth.NewHandler(authSvc, nil),
		Tokens:   authSvc,
		APIKeys:  db.APIKeys(),
		Tiers:    tiers,
		Wallets:  &handlers.WalletHandler{Ledger: l, Logger: slog.Default()},
		Escrows:  &handlers.EscrowHandler{Escrow: e, Logger: slog.Default()},
		Registry: registry.NewHandler(tiers, nil),
		Admin:    dashboard.NewHandler(l, e, tiers, db.Config(), db.APIKeys(), time.Hour, nil),
	})
	return &env{handler: h, db: db, ledger: l, apiKey: raw, adminJWT: token}
}

func (e *env) do(method, path, bearer, body string) int {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestRouter_AuthBoundaries(t *testing.T) {
	e := newEnv(t)

	cases := []struct {
		name   string
		method string
		path   string
		bearer string
		want   int
	}{
		{"health is public", http.MethodGet, "/healthz", "", http.StatusOK},
		{"quote is public", http.MethodGet, "/v1/billing/quote?credits=1000", "", http.StatusOK},
		{"wallet needs api key", http.MethodGet, "/v1/wallets/w/balance", "", http.StatusUnauthorized},
		{"wallet with api key", http.MethodGet, "/v1/wallets/w/balance", e.apiKey, http.StatusOK},
		{"jwt is not an api key", http.MethodGet, "/v1/wallets/w/balance", e.adminJWT, http.StatusUnauthorized},
		{"tier with api key", http.MethodGet, "/v1/agents/a/tier", e.apiKey, http.StatusOK},
		{"admin needs jwt", http.MethodGet, "/admin/v1/config", "", http.StatusUnauthorized},
		{"api key is not a jwt", http.MethodGet, "/admin/v1/config", e.apiKey, http.StatusUnauthorized},
		{"admin with jwt", http.MethodGet, "/admin/v1/config", e.adminJWT, http.StatusOK},
		{"wrong method", http.MethodDelete, "/healthz", "", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := e.do(tc.method, tc.path, tc.bearer, ""); got != tc.want {
				t.Errorf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestRouter_EscrowCapGuardsFunding(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.ledger.GrantCredits(ctx, "buyer", 10_000, "test"); err != nil {
		t.Fatal(err)
	}

	body := `{"listing_id":"l","buyer_id":"buyer","seller_id":"seller","amount":600}`
	if got := e.do(http.MethodPost, "/v1/escrows", e.apiKey, body); got != http.StatusForbidden {
		t.Fatalf("unverified seller: expected 403, got %d", got)
	}

	if got := e.do(http.MethodPost, "/admin/v1/agents/seller/tier", e.adminJWT, `{"tier":"GITHUB_VERIFIED"}`); got != http.StatusOK {
		t.Fatalf("set tier: expected 200, got %d", got)
	}
	if got := e.do(http.MethodPost, "/v1/escrows", e.apiKey, body); got != http.StatusForbidden {
		t.Errorf("600 over the 500 cap: expected 403, got %d", got)
	}

	body = `{"listing_id":"l","buyer_id":"buyer","seller_id":"seller","amount":500}`
	if got := e.do(http.MethodPost, "/v1/escrows", e.apiKey, body); got != http.StatusCreated {
		t.Fatalf("at cap: expected 201, got %d", got)
	}
	bal, _ := e.ledger.GetBalance(ctx, "buyer")
	if bal.Credits != 9_500 {
		t.Errorf("expected buyer debited to 9500, got %d", bal.Credits)
	}
	if tier, _ := registry.NewService(e.db.Identities(), e.db.Identities(), nil).GetTier(ctx, "seller"); tier != models.TierGithubVerified {
		t.Errorf("expected GITHUB_VERIFIED, got %s", tier)
	}
}
