package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/calls"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/events"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/observability/metrics"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/routing"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/telephony"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/transcription"
	"github.com/atticusjxn/FlynnAIapp-sub006/pkg/logging"
)

// recordingPipeline is the slice of the transcription coordinator the webhook
// needs.
type recordingPipeline interface {
	HandleRecordingComplete(ctx context.Context, req transcription.Request) (*transcription.Result, error)
}

// TelephonyHandler terminates the provider's voice webhooks. Both endpoints
// are unauthenticated at the HTTP layer and gated on the provider signature
// instead.
type TelephonyHandler struct {
	authToken string
	baseURL   string
	streamURL string
	maxRecSec int

	router    *routing.Router
	calls     calls.Repository
	pipeline  recordingPipeline
	processed *events.ProcessedStore
	history   events.History
	metrics   *metrics.PipelineMetrics
	logger    *logging.Logger
	now       func() time.Time
}

type TelephonyHandlerConfig struct {
	// AuthToken signs webhook payloads. Empty disables signature checks,
	// which is only acceptable in local development.
	AuthToken string
	// PublicBaseURL is the externally visible origin the provider signed
	// against, e.g. "https://api.flynn.app".
	PublicBaseURL string
	// StreamURL is the wss endpoint of the AI receptionist.
	StreamURL string
	// MaxRecordingSeconds caps voicemail length.
	MaxRecordingSeconds int

	Router    *routing.Router
	Calls     calls.Repository
	Pipeline  recordingPipeline
	Processed *events.ProcessedStore
	History   events.History
	Metrics   *metrics.PipelineMetrics
	Logger    *logging.Logger
}

func NewTelephonyHandler(cfg TelephonyHandlerConfig) *TelephonyHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &TelephonyHandler{
		authToken: cfg.AuthToken,
		baseURL:   strings.TrimRight(cfg.PublicBaseURL, "/"),
		streamURL: cfg.StreamURL,
		maxRecSec: cfg.MaxRecordingSeconds,
		router:    cfg.Router,
		calls:     cfg.Calls,
		pipeline:  cfg.Pipeline,
		processed: cfg.Processed,
		history:   cfg.History,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Routes mounts the webhook endpoints.
func (h *TelephonyHandler) Routes(r chi.Router) {
	r.Post("/telephony/inbound-voice", h.InboundVoice)
	r.Post("/telephony/recording-complete", h.RecordingComplete)
}

// InboundVoice answers the call-start webhook with a voice control document.
// It never returns 5xx to the provider once the signature checks out: a
// routing failure still produces a playable voicemail response.
func (h *TelephonyHandler) InboundVoice(w http.ResponseWriter, r *http.Request) {
	started := h.now()
	defer func() {
		h.metrics.ObserveWebhookLatency("inbound_voice", h.now().Sub(started).Seconds())
	}()

	if !h.verifySignature(r) {
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}
	form, err := telephony.ParseInboundVoice(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed webhook payload")
		return
	}
	if form.CallSid == "" {
		writeError(w, http.StatusBadRequest, "CallSid is required")
		return
	}

	decision := h.router.Decide(r.Context(), form.To, form.From, h.now())
	h.metrics.ObserveRoute(string(decision.Route), string(decision.Reason))

	call := &calls.Call{
		CallSid:       form.CallSid,
		FromNumber:    form.From,
		ToNumber:      form.To,
		RouteDecision: decision.Route,
		RouteReason:   decision.Reason,
		RouteFallback: decision.Fallback,
	}
	if decision.Owner != nil {
		call.OwnerUserID = decision.Owner.UserID
	}
	if _, err := h.calls.Upsert(r.Context(), call); err != nil {
		// The provider still needs an answer; the recording-complete
		// webhook re-upserts the row.
		h.logger.Error("persist inbound call failed", "call_sid", form.CallSid, "error", err)
	}
	h.appendHistory(r.Context(), form.CallSid, "call.routed", map[string]string{
		"route":  string(decision.Route),
		"reason": string(decision.Reason),
	})

	h.logger.Info("inbound call routed",
		"call_sid", form.CallSid,
		"route", decision.Route,
		"reason", decision.Reason,
	)
	h.writeVoiceResponse(w, form.CallSid, decision)
}

func (h *TelephonyHandler) writeVoiceResponse(w http.ResponseWriter, callSid string, decision routing.Decision) {
	instr := telephony.VoiceInstruction{
		Action:              telephony.VoiceActionVoicemail,
		Greeting:            h.voicemailGreeting(decision.Owner),
		RecordingCallback:   h.baseURL + "/telephony/recording-complete",
		MaxRecordingSeconds: h.maxRecSec,
	}
	if decision.Route == routing.RouteIntake && h.streamURL != "" {
		instr = telephony.VoiceInstruction{
			Action:    telephony.VoiceActionIntake,
			StreamURL: h.streamURL,
		}
	}
	xml, err := telephony.RenderVoiceResponse(instr)
	if err != nil {
		// Should be unreachable; fall back to a bare recording so the
		// caller is never met with dead air.
		h.logger.Error("render voice response failed", "call_sid", callSid, "error", err)
		xml, _ = telephony.RenderVoiceResponse(telephony.VoiceInstruction{
			Action:            telephony.VoiceActionVoicemail,
			RecordingCallback: h.baseURL + "/telephony/recording-complete",
		})
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml))
}

func (h *TelephonyHandler) voicemailGreeting(owner *routing.Owner) string {
	if owner != nil && owner.BusinessName != "" {
		return fmt.Sprintf("You've reached %s. Please leave a message after the beep and we'll get back to you shortly.", owner.BusinessName)
	}
	return "Please leave a message after the beep."
}

// RecordingComplete hands the finished recording to the transcription
// pipeline. Replays detected via the processed-event store short-circuit to
// 200 before any external call.
func (h *TelephonyHandler) RecordingComplete(w http.ResponseWriter, r *http.Request) {
	started := h.now()
	defer func() {
		h.metrics.ObserveWebhookLatency("recording_complete", h.now().Sub(started).Seconds())
	}()

	if !h.verifySignature(r) {
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}
	form, err := telephony.ParseRecordingComplete(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed webhook payload")
		return
	}
	if form.CallSid == "" {
		writeError(w, http.StatusBadRequest, "CallSid is required")
		return
	}

	if form.RecordingSid != "" && h.processed != nil {
		seen, err := h.processed.AlreadyProcessed(r.Context(), "twilio", form.RecordingSid)
		if err != nil {
			h.logger.Error("processed-event check failed", "recording_sid", form.RecordingSid, "error", err)
		} else if seen {
			// The pipeline is idempotent anyway; this just skips the work.
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	result, err := h.pipeline.HandleRecordingComplete(r.Context(), transcription.Request{
		CallSid:         form.CallSid,
		From:            form.From,
		To:              form.To,
		RecordingSid:    form.RecordingSid,
		RecordingURL:    form.RecordingURL,
		DurationSeconds: form.RecordingDuration,
	})
	if err != nil {
		// A missing URL is the caller's defect, but it still flows through
		// the pipeline first so the call row transitions to failed.
		if errors.Is(err, transcription.ErrMissingRecordingURL) {
			writeError(w, http.StatusBadRequest, "RecordingUrl is required")
			return
		}
		h.logger.Error("recording pipeline failed", "call_sid", form.CallSid, "error", err)
		writeError(w, http.StatusInternalServerError, "transcription failed")
		return
	}
	// Recorded only after the pipeline succeeds so a failed attempt is
	// retried on redelivery instead of short-circuiting as a duplicate.
	if form.RecordingSid != "" && h.processed != nil {
		if _, err := h.processed.MarkProcessed(r.Context(), "twilio", form.RecordingSid); err != nil {
			h.logger.Error("mark processed failed", "recording_sid", form.RecordingSid, "error", err)
		}
	}
	h.appendHistory(r.Context(), form.CallSid, "recording.processed", map[string]string{
		"recording_sid": form.RecordingSid,
		"status":        result.Status,
	})
	writeJSON(w, http.StatusOK, result)
}

func (h *TelephonyHandler) verifySignature(r *http.Request) bool {
	if h.authToken == "" {
		return true
	}
	return telephony.ValidateSignature(r, h.authToken, h.baseURL+r.URL.Path)
}

func (h *TelephonyHandler) appendHistory(ctx context.Context, callSid, kind string, payload any) {
	if h.history == nil {
		return
	}
	if err := h.history.Append(ctx, callSid, kind, payload); err != nil {
		h.logger.Warn("event history append failed", "call_sid", callSid, "kind", kind, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
