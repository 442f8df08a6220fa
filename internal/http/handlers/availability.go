package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/availability"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/http/middleware"
	"github.com/atticusjxn/FlynnAIapp-sub006/pkg/logging"
)

// AvailabilityHandler exposes the slot calculator to the authenticated API.
type AvailabilityHandler struct {
	calc   *availability.Calculator
	logger *logging.Logger
}

func NewAvailabilityHandler(calc *availability.Calculator, logger *logging.Logger) *AvailabilityHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AvailabilityHandler{calc: calc, logger: logger}
}

// Routes mounts the availability endpoints; the caller wraps them in bearer
// auth.
func (h *AvailabilityHandler) Routes(r chi.Router) {
	r.Get("/availability/next-slot", h.NextSlot)
	r.Post("/availability/check", h.CheckTime)
}

// NextSlot returns the first open slot for the caller.
// Query params: duration (minutes, required), days (search horizon, optional).
func (h *AvailabilityHandler) NextSlot(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	duration, err := strconv.Atoi(r.URL.Query().Get("duration"))
	if err != nil || duration <= 0 {
		writeError(w, http.StatusBadRequest, "duration must be a positive integer of minutes")
		return
	}
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		if days, err = strconv.Atoi(v); err != nil || days <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
	}

	slot, err := h.calc.NextAvailableSlot(r.Context(), userID, duration, days)
	if err != nil {
		if errors.Is(err, availability.ErrNoHours) {
			writeError(w, http.StatusConflict, "no business hours configured")
			return
		}
		h.logger.Error("next slot lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute availability")
		return
	}
	if slot == nil {
		writeJSON(w, http.StatusOK, map[string]any{"available": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": true, "slot": slot})
}

type checkTimeRequest struct {
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
}

// CheckTime reports whether a specific time is free, naming the first
// conflicting event when it is not.
func (h *AvailabilityHandler) CheckTime(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req checkTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Start.IsZero() {
		writeError(w, http.StatusBadRequest, "start is required")
		return
	}
	if req.DurationMinutes <= 0 {
		writeError(w, http.StatusBadRequest, "duration_minutes must be a positive integer")
		return
	}

	check, err := h.calc.CheckSpecificTime(r.Context(), userID, req.Start, req.DurationMinutes)
	if err != nil {
		h.logger.Error("availability check failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to check availability")
		return
	}
	writeJSON(w, http.StatusOK, check)
}
