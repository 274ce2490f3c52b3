// Package handler provides HTTP handlers for the ecycle lifecycle service.
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"ecycle/internal/domain"
	"ecycle/internal/lifecycle"
	"ecycle/internal/middleware"
	"ecycle/pkg/logger"
	"ecycle/pkg/validator"
)

// DeviceHandler manages device registration, transitions and the audit feed.
type DeviceHandler struct {
	service   *lifecycle.Service
	validator *validator.Validator
	logger    logger.Logger
}

// NewDeviceHandler creates a DeviceHandler.
func NewDeviceHandler(service *lifecycle.Service, val *validator.Validator, log logger.Logger) *DeviceHandler {
	return &DeviceHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

// RegisterDevice handles device registration. The authenticated user
// becomes the device owner.
func (h *DeviceHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	if actor.Role != domain.RoleOwner {
		respondError(w, http.StatusForbidden, "role_forbidden", "Only owners may register devices")
		return
	}

	var req lifecycle.RegisterDeviceRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			respondError(w, http.StatusBadRequest, "invalid_request", "Request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	device, err := h.service.Register(r.Context(), actor.ID, req.Name, domain.DeviceCategory(req.Category))
	if err != nil {
		h.logger.Error("Failed to register device", map[string]interface{}{
			"error":    err.Error(),
			"owner_id": actor.ID,
		})
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, deviceView(device, actor))
}

// GetDevice returns the current device snapshot. The pending handover
// code plaintext is included only for the device owner.
func (h *DeviceHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	deviceID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid device ID")
		return
	}

	device, err := h.service.GetDevice(r.Context(), deviceID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, deviceView(device, actor))
}

// ListOwnerDevices lists the authenticated owner's devices.
func (h *DeviceHandler) ListOwnerDevices(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	if actor.Role != domain.RoleOwner {
		respondError(w, http.StatusForbidden, "role_forbidden", "Only owners may list their devices")
		return
	}

	limit, offset := pagination(r, 50, 200)

	devices, err := h.service.DevicesForOwner(r.Context(), actor.ID, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	views := make([]map[string]interface{}, 0, len(devices))
	for _, d := range devices {
		views = append(views, deviceView(d, actor))
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": views,
		"count":   len(views),
	})
}

// RequestTransition applies a lifecycle transition on behalf of the
// authenticated actor.
func (h *DeviceHandler) RequestTransition(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	deviceID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid device ID")
		return
	}

	var req lifecycle.TransitionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			respondError(w, http.StatusBadRequest, "invalid_request", "Request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	target := domain.DeviceState(req.TargetState)
	device, err := h.service.Transition(r.Context(), deviceID, target, actor, req.VerificationCode)
	if err != nil {
		h.logger.Warn("Transition rejected", map[string]interface{}{
			"error":        err.Error(),
			"device_id":    deviceID,
			"target_state": req.TargetState,
			"actor_id":     actor.ID,
			"actor_role":   actor.Role,
		})
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, deviceView(device, actor))
}

// IssueHandoverCode rotates the device's handover code for the owner.
func (h *DeviceHandler) IssueHandoverCode(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	deviceID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid device ID")
		return
	}

	code, err := h.service.IssueHandoverCode(r.Context(), deviceID, actor)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"device_id":         deviceID,
		"verification_code": code,
	})
}

// ListDeviceEvents returns the device's audit trail, newest first.
func (h *DeviceHandler) ListDeviceEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.ActorFromContext(r.Context()); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	deviceID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid device ID")
		return
	}

	limit, offset := pagination(r, 50, 200)

	events, err := h.service.ListEvents(r.Context(), deviceID, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"device_id": deviceID,
		"events":    events,
		"count":     len(events),
	})
}

// pagination reads limit/offset query parameters, clamped to sane
// bounds.
func pagination(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxLimit {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// deviceView is the API representation of a device. Hash and attempt
// counter never leave the service; the plaintext code is exposed only
// to the owner while a handover is pending.
func deviceView(d *domain.Device, actor domain.ActingUser) map[string]interface{} {
	view := map[string]interface{}{
		"id":         d.ID,
		"owner_id":   d.OwnerID,
		"name":       d.Name,
		"category":   d.Category,
		"state":      d.State,
		"terminal":   d.Terminal,
		"created_at": d.CreatedAt,
		"updated_at": d.UpdatedAt,
	}
	if actor.Role == domain.RoleOwner && actor.ID == d.OwnerID && d.CodePlain != nil {
		view["verification_code"] = *d.CodePlain
	}
	return view
}
