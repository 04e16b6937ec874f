// Package dashboard serves the operator console under /admin/v1. Every route
// sits behind middleware.RequireRole.
package dashboard

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/credits/internal/config"
	"github.com/inaiurai/credits/internal/ledger"
	"github.com/inaiurai/credits/internal/middleware"
	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/registry"
	"github.com/inaiurai/credits/internal/sweeper"
)

// ConfigStore reads and writes raw credit_config values.
type ConfigStore interface {
	All(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
}

type APIKeyStore interface {
	Create(ctx context.Context, k *models.APIKey) error
	List(ctx context.Context) ([]*models.APIKey, error)
	Revoke(ctx context.Context, id uuid.UUID) error
}

type Handler struct {
	ledger         *ledger.Service
	escrow         sweeper.EscrowReleaser
	tiers          registry.Service
	config         ConfigStore
	apiKeys        APIKeyStore
	reservationTTL time.Duration
	log            *slog.Logger
}

func NewHandler(
	l *ledger.Service,
	escrow sweeper.EscrowReleaser,
	tiers registry.Service,
	cfg ConfigStore,
	apiKeys APIKeyStore,
	reservationTTL time.Duration,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		ledger:         l,
		escrow:         escrow,
		tiers:          tiers,
		config:         cfg,
		apiKeys:        apiKeys,
		reservationTTL: reservationTTL,
		log:            log,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// POST /admin/v1/wallets/{wallet}/grant
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.Reference == "" {
		body.Reference = "admin_grant"
	}
	entry, err := h.ledger.GrantCredits(r.Context(), r.PathValue("wallet"), body.Amount, body.Reference)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) || errors.Is(err, ledger.ErrAmountOverflow) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("grant failed", "wallet", r.PathValue("wallet"), "error", err)
		writeError(w, http.StatusInternalServerError, "grant failed")
		return
	}
	h.log.Info("admin grant", "wallet", entry.WalletAddress, "amount", entry.Amount, "operator", operator(r))
	writeJSON(w, http.StatusCreated, entry)
}

// GET /admin/v1/wallets/{wallet}/replay
func (h *Handler) Replay(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledger.ReplayBalance(r.Context(), r.PathValue("wallet"))
	if err != nil {
		h.log.Error("replay failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GET /admin/v1/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	values, err := h.config.All(r.Context())
	if err != nil {
		h.log.Error("load config failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	effective, _ := config.Parse(values)
	writeJSON(w, http.StatusOK, map[string]any{
		"stored":    values,
		"effective": effective.Values(),
	})
}

// PUT /admin/v1/config
// Every value is validated before any is written.
func (h *Handler) PutConfig(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	for k, v := range body {
		if err := config.Validate(k, v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	for _, k := range config.Keys {
		v, ok := body[k]
		if !ok {
			continue
		}
		if err := h.config.Set(r.Context(), k, v); err != nil {
			h.log.Error("set config failed", "key", k, "error", err)
			writeError(w, http.StatusInternalServerError, "update failed")
			return
		}
		h.log.Info("credit config updated", "key", k, "value", v, "operator", operator(r))
	}
	h.GetConfig(w, r)
}

// POST /admin/v1/agents/{id}/tier
func (h *Handler) SetTier(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tier     models.Tier `json:"tier"`
		DataHash string      `json:"data_hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id, err := h.tiers.SetTier(r.Context(), r.PathValue("id"), body.Tier, body.DataHash)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownTier) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("set tier failed", "agent", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, registry.ToTierResponse(id))
}

// POST /admin/v1/sweeps/escrow
func (h *Handler) SweepEscrow(w http.ResponseWriter, r *http.Request) {
	settled, err := h.escrow.ProcessAutoReleases(r.Context())
	if err != nil {
		h.log.Error("manual escrow sweep failed", "released", len(settled), "error", err)
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"released": len(settled), "escrows": settled})
}

// POST /admin/v1/sweeps/reservations
func (h *Handler) SweepReservations(w http.ResponseWriter, r *http.Request) {
	released, err := h.ledger.ExpireStaleReservations(r.Context(), h.reservationTTL)
	if err != nil {
		h.log.Error("manual reservation sweep failed", "released", len(released), "error", err)
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallets": len(released), "entries": released})
}

// GET /admin/v1/api-keys
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.apiKeys.List(r.Context())
	if err != nil {
		h.log.Error("list api keys failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// POST /admin/v1/api-keys
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CallerName string `json:"caller_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CallerName == "" {
		writeError(w, http.StatusBadRequest, "caller_name is required")
		return
	}
	k, rawKey, err := NewAPIKey(body.CallerName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "key generation failed")
		return
	}
	if err := h.apiKeys.Create(r.Context(), k); err != nil {
		h.log.Error("create api key failed", "error", err)
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":          k.ID,
		"caller_name": k.CallerName,
		"key_prefix":  k.KeyPrefix,
		"is_active":   k.IsActive,
		"raw_key":     rawKey,
	})
}

// DELETE /admin/v1/api-keys/{id}
func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key ID")
		return
	}
	if err := h.apiKeys.Revoke(r.Context(), keyID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "api key not found")
			return
		}
		h.log.Error("revoke api key failed", "error", err)
		writeError(w, http.StatusInternalServerError, "revoke failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// NewAPIKey generates a random key for a platform caller. Only the hash is
// stored; rawKey is shown once.
func NewAPIKey(callerName string) (k *models.APIKey, rawKey string, err error) {
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		return nil, "", err
	}
	rawKey = "cred_" + hex.EncodeToString(rawBytes)
	return &models.APIKey{
		ID:         uuid.New(),
		CallerName: callerName,
		KeyHash:    middleware.HashKey(rawKey),
		KeyPrefix:  rawKey[:12],
		IsActive:   true,
	}, rawKey, nil
}

func operator(r *http.Request) string {
	if id, ok := middleware.OperatorFromCtx(r.Context()); ok {
		return id.String()
	}
	return ""
}
