package handler

import (
	"net/http"

	"ecycle/internal/domain"
	"ecycle/internal/middleware"
	"ecycle/internal/reward"
	"ecycle/pkg/logger"
)

// RewardHandler exposes the read side of the reward ledger.
type RewardHandler struct {
	issuer *reward.Issuer
	logger logger.Logger
}

// NewRewardHandler creates a RewardHandler.
func NewRewardHandler(issuer *reward.Issuer, log logger.Logger) *RewardHandler {
	return &RewardHandler{
		issuer: issuer,
		logger: log,
	}
}

// GetRewardsForOwner lists the authenticated owner's rewards.
func (h *RewardHandler) GetRewardsForOwner(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	if actor.Role != domain.RoleOwner {
		respondError(w, http.StatusForbidden, "role_forbidden", "Only owners have rewards")
		return
	}

	rewards, err := h.issuer.ForOwner(r.Context(), actor.ID)
	if err != nil {
		h.logger.Error("Failed to list rewards", map[string]interface{}{
			"error":    err.Error(),
			"owner_id": actor.ID,
		})
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rewards": rewards,
		"count":   len(rewards),
	})
}
