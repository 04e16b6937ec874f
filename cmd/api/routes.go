package main

import (
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/credits/internal/auth"
	"github.com/inaiurai/credits/internal/config"
	"github.com/inaiurai/credits/internal/dashboard"
	"github.com/inaiurai/credits/internal/escrow"
	"github.com/inaiurai/credits/internal/handlers"
	"github.com/inaiurai/credits/internal/ledger"
	"github.com/inaiurai/credits/internal/registry"
	"github.com/inaiurai/credits/internal/repository"
	"github.com/inaiurai/credits/internal/router"
)

// newAPIHandler builds the HTTP surface on top of the domain services.
func newAPIHandler(
	pool *pgxpool.Pool,
	cfg config.Server,
	ledgerSvc *ledger.Service,
	escrowSvc *escrow.Service,
	registrySvc registry.Service,
	configStore *config.Store,
	logger *slog.Logger,
) http.Handler {
	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	apiKeyRepo := repository.NewAPIKeyRepo(pool)

	return router.New(router.Deps{
		Auth:     auth.NewHandler(authSvc, logger),
		Tokens:   authSvc,
		APIKeys:  apiKeyRepo,
		Tiers:    registrySvc,
		Wallets:  &handlers.WalletHandler{Ledger: ledgerSvc, Logger: logger},
		Escrows:  &handlers.EscrowHandler{Escrow: escrowSvc, Logger: logger},
		Registry: registry.NewHandler(registrySvc, logger),
		Admin: dashboard.NewHandler(
			ledgerSvc, escrowSvc, registrySvc, configStore, apiKeyRepo,
			cfg.ReservationTTL, logger,
		),
		Logger: logger,
	})
}
