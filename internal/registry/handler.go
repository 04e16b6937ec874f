package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/inaiurai/credits/internal/models"
)

type TierResponse struct {
	AgentID           string      `json:"agent_id"`
	Tier              models.Tier `json:"tier"`
	Rank              int         `json:"rank"`
	EscrowCap         int64       `json:"escrow_cap"`
	CanPublishListing bool        `json:"can_publish_listing"`
	VerifiedAt        *time.Time  `json:"verified_at,omitempty"`
}

type VerifyRequest struct {
	DataHash string `json:"data_hash"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// GetTier handles GET /v1/agents/{id}/tier.
func (h *Handler) GetTier(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	id, err := h.svc.GetIdentity(r.Context(), agentID)
	if err != nil {
		h.log.Error("get tier failed", "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "get tier failed")
		return
	}
	writeJSON(w, http.StatusOK, ToTierResponse(id))
}

// Evaluate handles POST /v1/agents/{id}/evaluate.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if _, err := h.svc.EvaluateEstablished(r.Context(), agentID); err != nil {
		h.log.Error("evaluate established failed", "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "evaluate failed")
		return
	}
	h.GetTier(w, r)
}

// VerifyGithub handles POST /v1/agents/{id}/verify-github.
func (h *Handler) VerifyGithub(w http.ResponseWriter, r *http.Request) {
	h.verify(w, r, h.svc.VerifyGithub)
}

// RecordVouch handles POST /v1/agents/{id}/vouch.
func (h *Handler) RecordVouch(w http.ResponseWriter, r *http.Request) {
	h.verify(w, r, h.svc.RecordVouch)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, agentID, hash string) (*models.AgentIdentity, error)) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DataHash == "" {
		writeError(w, http.StatusBadRequest, "data_hash is required")
		return
	}
	agentID := r.PathValue("id")
	id, err := apply(r.Context(), agentID, req.DataHash)
	if err != nil {
		if errors.Is(err, ErrUnknownTier) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("verify agent failed", "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "verify failed")
		return
	}
	writeJSON(w, http.StatusOK, ToTierResponse(id))
}

func ToTierResponse(id *models.AgentIdentity) TierResponse {
	return TierResponse{
		AgentID:           id.AgentID,
		Tier:              id.Tier,
		Rank:              id.Tier.Rank(),
		EscrowCap:         GetEscrowCap(id.Tier),
		CanPublishListing: CanPublishListing(id.Tier),
		VerifiedAt:        id.VerifiedAt,
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
