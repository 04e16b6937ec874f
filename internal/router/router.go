package router

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/inaiurai/credits/internal/auth"
	"github.com/inaiurai/credits/internal/dashboard"
	"github.com/inaiurai/credits/internal/handlers"
	"github.com/inaiurai/credits/internal/metrics"
	"github.com/inaiurai/credits/internal/middleware"
	"github.com/inaiurai/credits/internal/registry"
)

// Deps are the handlers and lookups the router wires together.
type Deps struct {
	Auth     *auth.Handler
	Tokens   middleware.TokenValidator
	APIKeys  middleware.APIKeyRepo
	Tiers    middleware.TierLookup
	Wallets  *handlers.WalletHandler
	Escrows  *handlers.EscrowHandler
	Registry *registry.Handler
	Admin    *dashboard.Handler
	Logger   *slog.Logger
}

type routes struct {
	mux *http.ServeMux
}

// handle registers h for pattern ("METHOD /path") with request metrics
// labelled by the path template.
func (r routes) handle(pattern string, h http.Handler) {
	route := pattern
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		route = pattern[i+1:]
	}
	r.mux.Handle(pattern, metrics.Middleware(route, h))
}

// New returns the full HTTP surface:
//   - /v1/... for platform services, authenticated by API key
//   - /admin/v1/... for operators, requiring an admin JWT
//   - login, health, metrics and billing quotes unauthenticated
func New(d Deps) http.Handler {
	r := routes{mux: http.NewServeMux()}

	svc := middleware.APIKeyAuth(d.APIKeys)
	admin := middleware.RequireRole(d.Tokens, auth.RoleAdmin)
	capCheck := middleware.EscrowCapCheck(d.Tiers, d.Logger)

	r.handle("POST /api/v1/auth/login", http.HandlerFunc(d.Auth.Login))
	r.handle("GET /healthz", http.HandlerFunc(handlers.Healthz))
	r.handle("GET /v1/billing/quote", http.HandlerFunc(handlers.BillingQuote))
	r.mux.Handle("GET /metrics", metrics.Handler())

	wh := d.Wallets
	r.handle("GET /v1/wallets/{wallet}/balance", svc(http.HandlerFunc(wh.GetBalance)))
	r.handle("GET /v1/wallets/{wallet}/transactions", svc(http.HandlerFunc(wh.ListTransactions)))
	r.handle("GET /v1/wallets/{wallet}/can-start-session", svc(http.HandlerFunc(wh.CanStartSession)))
	r.handle("POST /v1/wallets/{wallet}/purchase", svc(http.HandlerFunc(wh.Purchase)))
	r.handle("POST /v1/wallets/{wallet}/deduct-turn", svc(http.HandlerFunc(wh.DeductTurn)))
	r.handle("POST /v1/wallets/{wallet}/deduct-agent-message", svc(http.HandlerFunc(wh.DeductAgentMessage)))
	r.handle("POST /v1/wallets/{wallet}/reserve", svc(http.HandlerFunc(wh.Reserve)))
	r.handle("POST /v1/wallets/{wallet}/consume", svc(http.HandlerFunc(wh.Consume)))
	r.handle("POST /v1/wallets/{wallet}/release", svc(http.HandlerFunc(wh.Release)))
	r.handle("POST /v1/wallets/{wallet}/first-time-bonus", svc(http.HandlerFunc(wh.FirstTimeBonus)))

	eh := d.Escrows
	// POST /v1/escrows: Auth -> EscrowCapCheck -> Create
	r.handle("POST /v1/escrows", svc(capCheck(http.HandlerFunc(eh.Create))))
	r.handle("GET /v1/escrows", svc(http.HandlerFunc(eh.List)))
	r.handle("GET /v1/escrows/{id}", svc(http.HandlerFunc(eh.Get)))
	r.handle("POST /v1/escrows/{id}/deliver", svc(http.HandlerFunc(eh.Deliver)))
	r.handle("POST /v1/escrows/{id}/dispute", svc(http.HandlerFunc(eh.Dispute)))
	r.handle("POST /v1/escrows/{id}/release", svc(http.HandlerFunc(eh.Release)))
	r.handle("POST /v1/escrows/{id}/resolve", svc(http.HandlerFunc(eh.Resolve)))
	r.handle("POST /v1/escrows/{id}/refund", svc(http.HandlerFunc(eh.Refund)))

	rh := d.Registry
	r.handle("GET /v1/agents/{id}/tier", svc(http.HandlerFunc(rh.GetTier)))
	r.handle("POST /v1/agents/{id}/evaluate", svc(http.HandlerFunc(rh.Evaluate)))
	r.handle("POST /v1/agents/{id}/verify-github", svc(http.HandlerFunc(rh.VerifyGithub)))
	r.handle("POST /v1/agents/{id}/vouch", svc(http.HandlerFunc(rh.RecordVouch)))

	ah := d.Admin
	r.handle("POST /admin/v1/wallets/{wallet}/grant", admin(http.HandlerFunc(ah.Grant)))
	r.handle("GET /admin/v1/wallets/{wallet}/replay", admin(http.HandlerFunc(ah.Replay)))
	r.handle("GET /admin/v1/config", admin(http.HandlerFunc(ah.GetConfig)))
	r.handle("PUT /admin/v1/config", admin(http.HandlerFunc(ah.PutConfig)))
	r.handle("POST /admin/v1/agents/{id}/tier", admin(http.HandlerFunc(ah.SetTier)))
	r.handle("POST /admin/v1/sweeps/escrow", admin(http.HandlerFunc(ah.SweepEscrow)))
	r.handle("POST /admin/v1/sweeps/reservations", admin(http.HandlerFunc(ah.SweepReservations)))
	r.handle("GET /admin/v1/api-keys", admin(http.HandlerFunc(ah.ListAPIKeys)))
	r.handle("POST /admin/v1/api-keys", admin(http.HandlerFunc(ah.CreateAPIKey)))
	r.handle("DELETE /admin/v1/api-keys/{id}", admin(http.HandlerFunc(ah.RevokeAPIKey)))

	return r.mux
}
