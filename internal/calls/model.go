package calls

import (
	"errors"
	"time"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/routing"
)

var (
	ErrCallNotFound       = errors.New("calls: call not found")
	ErrTranscriptNotFound = errors.New("calls: transcript not found")
	ErrInvalidTransition  = errors.New("calls: invalid transcription status transition")
)

// TranscriptionStatus tracks the recording→transcript pipeline per call.
type TranscriptionStatus string

const (
	TranscriptionPending    TranscriptionStatus = "pending"
	TranscriptionProcessing TranscriptionStatus = "processing"
	TranscriptionCompleted  TranscriptionStatus = "completed"
	TranscriptionFailed     TranscriptionStatus = "failed"
)

// CanTransitionTo enforces forward-only movement. The one allowed reversal
// is failed→processing, which backs manual retry.
func (s TranscriptionStatus) CanTransitionTo(next TranscriptionStatus) bool {
	switch s {
	case TranscriptionPending:
		return next == TranscriptionProcessing || next == TranscriptionCompleted || next == TranscriptionFailed
	case TranscriptionProcessing:
		return next == TranscriptionCompleted || next == TranscriptionFailed
	case TranscriptionFailed:
		return next == TranscriptionProcessing
	default:
		return false
	}
}

// Call is one row per telephony call leg.
type Call struct {
	ID                  string              `json:"id"`
	CallSid             string              `json:"call_sid"`
	FromNumber          string              `json:"from_number"`
	ToNumber            string              `json:"to_number"`
	OwnerUserID         string              `json:"owner_user_id,omitempty"`
	RouteDecision       routing.Route       `json:"route_decision"`
	RouteReason         routing.Reason      `json:"route_reason"`
	RouteFallback       bool                `json:"route_fallback"`
	RecordingSid        string              `json:"recording_sid,omitempty"`
	RecordingURL        string              `json:"recording_url,omitempty"`
	RecordingDuration   int                 `json:"recording_duration_seconds"`
	TranscriptionStatus TranscriptionStatus `json:"transcription_status"`
	NeedsReview         bool                `json:"needs_review"`
	ReviewReason        string              `json:"review_reason,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// Transcript is 1:1 with a call once transcription succeeds; never mutated.
type Transcript struct {
	CallSid    string    `json:"call_sid"`
	Engine     string    `json:"engine"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Language   string    `json:"language"`
	CreatedAt  time.Time `json:"created_at"`
}
