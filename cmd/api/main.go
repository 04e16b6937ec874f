package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/inaiurai/credits/internal/config"
	"github.com/inaiurai/credits/internal/db"
	"github.com/inaiurai/credits/internal/escrow"
	"github.com/inaiurai/credits/internal/events"
	"github.com/inaiurai/credits/internal/ledger"
	"github.com/inaiurai/credits/internal/middleware"
	"github.com/inaiurai/credits/internal/registry"
	"github.com/inaiurai/credits/internal/repository"
	"github.com/inaiurai/credits/internal/sweeper"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("Invalid server configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL database successfully!")

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			slog.Error("Schema migration failed", "error", err)
			os.Exit(1)
		}
		migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
		if err != nil {
			slog.Error("Failed to create River migrator", "error", err)
			os.Exit(1)
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			slog.Error("River migrate up failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Migrations applied")
	}

	// Credit config: environment overrides win over stored values at startup.
	configStore := config.NewStore(pool, logger)
	if n, err := config.ApplyEnvOverrides(ctx, configStore, logger); err != nil {
		slog.Error("Applying credit config overrides failed", "error", err)
		os.Exit(1)
	} else if n > 0 {
		slog.Info("Credit config overrides applied", "count", n)
	}

	var publisher events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		slog.Info("Publishing escrow events to Kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		publisher = events.NewLogPublisher(logger)
	}
	defer publisher.Close()

	// Domain services
	ledgerSvc := ledger.NewService(ledger.NewRepository(pool), configStore, logger)
	escrowSvc := escrow.NewService(escrow.NewRepository(pool), ledgerSvc, publisher, logger)
	agentRepo := repository.NewAgentRepo(pool)
	registrySvc := registry.NewService(registry.NewRepository(pool), agentRepo, logger)

	// Background sweeps
	sweeps := sweeper.Config{
		EscrowInterval:      cfg.EscrowSweepInterval,
		ReservationInterval: cfg.ReservationSweepInterval,
		ReservationTTL:      cfg.ReservationTTL,
	}
	workers := river.NewWorkers()
	sweeper.Register(workers, escrowSvc, ledgerSvc, sweeps, logger)
	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
		},
		Workers:      workers,
		PeriodicJobs: sweeper.PeriodicJobs(sweeps),
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	if err := riverClient.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	apiHandler := newAPIHandler(pool, cfg, ledgerSvc, escrowSvc, registrySvc, configStore, logger)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(middleware.RateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)(apiHandler))

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
		if err := riverClient.Stop(shutdownCtx); err != nil {
			slog.Error("River client stop failed", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}
