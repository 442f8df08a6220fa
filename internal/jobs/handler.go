package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/http/middleware"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/messaging"
	"github.com/atticusjxn/FlynnAIapp-sub006/pkg/logging"
)

// ReminderCanceller flips a job's pending reminders to cancelled. Implemented
// by the reminder store.
type ReminderCanceller interface {
	CancelPendingForJob(ctx context.Context, jobID string) (int, error)
}

// Handler serves the authenticated job API.
type Handler struct {
	repo      Repository
	sender    messaging.Sender
	reminders ReminderCanceller
	logger    *logging.Logger
}

func NewHandler(repo Repository, sender messaging.Sender, reminders ReminderCanceller, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, sender: sender, reminders: reminders, logger: logger}
}

// Routes mounts the job endpoints; the caller wraps them in bearer auth.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/jobs", h.List)
	r.Get("/jobs/{id}", h.Get)
	r.Patch("/jobs/{id}", h.UpdateStatus)
	r.Post("/jobs/{id}/confirm", h.Confirm)
}

// List returns the caller's jobs, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	listed, err := h.repo.ListByOwner(r.Context(), userID)
	if err != nil {
		h.logger.Error("list jobs failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if listed == nil {
		listed = []*Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": listed, "total": len(listed)})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// UpdateStatus accepts only the fixed status enum; everything else is a 400.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !ValidStatus(body.Status) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", body.Status))
		return
	}
	job, err := h.repo.UpdateStatus(r.Context(), chi.URLParam(r, "id"), userID, Status(body.Status))
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("update job status failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update job")
		return
	}
	// A cancelled job must never text the customer again; pending reminders
	// are flipped in the same request.
	if Status(body.Status) == StatusCancelled && h.reminders != nil {
		if n, err := h.reminders.CancelPendingForJob(r.Context(), job.ID); err != nil {
			h.logger.Error("cancel pending reminders failed", "job_id", job.ID, "error", err)
		} else if n > 0 {
			h.logger.Info("pending reminders cancelled", "job_id", job.ID, "count", n)
		}
	}
	writeJSON(w, http.StatusOK, job)
}

// Confirm sends a one-off confirmation SMS to the job's customer.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	if job.CustomerPhone == "" {
		writeError(w, http.StatusBadRequest, "job has no customer phone number")
		return
	}
	if h.sender == nil {
		writeError(w, http.StatusInternalServerError, "sms gateway not configured")
		return
	}

	body := confirmationBody(job)
	err := h.sender.Send(r.Context(), messaging.OutboundMessage{
		To:    job.CustomerPhone,
		Body:  body,
		JobID: job.ID,
	})
	if err != nil {
		h.logger.Error("confirmation sms failed", "job_id", job.ID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to send confirmation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent", "to": job.CustomerPhone})
}

func confirmationBody(job *Job) string {
	msg := "Hi"
	if job.CustomerName != "" {
		msg += " " + job.CustomerName
	}
	msg += ", confirming your booking"
	if job.ServiceType != "" {
		msg += " for " + job.ServiceType
	}
	if job.HasSchedule() {
		msg += fmt.Sprintf(" on %s at %s", job.ScheduledDate, job.ScheduledTime)
	}
	msg += ". Reply if anything has changed."
	return msg
}

func (h *Handler) ownedJob(w http.ResponseWriter, r *http.Request) (*Job, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	job, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return nil, false
		}
		h.logger.Error("load job failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return nil, false
	}
	// Ownership check doubles as a 404 so ids can't be probed.
	if job.OwnerUserID != userID {
		writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return job, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
