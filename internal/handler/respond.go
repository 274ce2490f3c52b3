package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"ecycle/pkg/errors"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes the uniform error envelope. The code field is the
// machine-readable discriminator; the message is for humans.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{
		"code":  code,
		"error": message,
	})
}

// respondServiceError maps engine sentinels onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errors.ErrDeviceNotFound):
		respondError(w, http.StatusNotFound, "device_not_found", "Device not found")
	case errors.Is(err, errors.ErrUnknownState):
		respondError(w, http.StatusConflict, "unknown_state", "Unknown device state")
	case errors.Is(err, errors.ErrIllegalTransition):
		respondError(w, http.StatusConflict, "illegal_transition", "Transition not allowed from the current state")
	case errors.Is(err, errors.ErrAlreadyTerminal):
		respondError(w, http.StatusConflict, "already_terminal", "Device has reached a terminal state")
	case errors.Is(err, errors.ErrRoleForbidden):
		respondError(w, http.StatusForbidden, "role_forbidden", "Acting role may not perform this transition")
	case errors.Is(err, errors.ErrVerificationRequired):
		respondError(w, http.StatusBadRequest, "verification_required", "Verification code is required for this transition")
	case errors.Is(err, errors.ErrVerificationFailed):
		respondError(w, http.StatusUnprocessableEntity, "verification_failed", "Verification code does not match")
	case errors.Is(err, errors.ErrVerificationLockedOut):
		respondError(w, http.StatusLocked, "verification_locked_out", "Too many failed verification attempts")
	case errors.Is(err, errors.ErrNoPendingHandover):
		respondError(w, http.StatusConflict, "no_pending_handover", "No handover is pending for this device")
	case errors.Is(err, errors.ErrRewardNotFound):
		respondError(w, http.StatusNotFound, "reward_not_found", "Reward not found")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		respondError(w, http.StatusServiceUnavailable, "persistence_unavailable", "Storage timed out, retry the request")
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}
