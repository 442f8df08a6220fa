package calls

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository is the store for calls and their transcripts. All "only-once"
// guarantees (one call row per sid, one transcript per call) live here so
// horizontally scaled webhook handlers need no in-process locks.
type Repository interface {
	// Upsert creates or refreshes the call row keyed on the provider sid.
	Upsert(ctx context.Context, call *Call) (*Call, error)
	GetBySid(ctx context.Context, callSid string) (*Call, error)
	// SetRecording attaches recording metadata after the call ends.
	SetRecording(ctx context.Context, callSid, recordingSid, recordingURL string, durationSeconds int) error
	// UpdateTranscriptionStatus moves the status, rejecting transitions
	// CanTransitionTo forbids.
	UpdateTranscriptionStatus(ctx context.Context, callSid string, status TranscriptionStatus) error
	// MarkForReview flags a call for manual follow-up.
	MarkForReview(ctx context.Context, callSid, reason string) error
	// InsertTranscript stores the transcript once; a duplicate insert is
	// reported as created=false, not an error.
	InsertTranscript(ctx context.Context, t *Transcript) (created bool, err error)
	GetTranscript(ctx context.Context, callSid string) (*Transcript, error)
}

// InMemoryRepository backs tests and local development.
type InMemoryRepository struct {
	mu          sync.RWMutex
	calls       map[string]*Call
	transcripts map[string]*Transcript
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		calls:       make(map[string]*Call),
		transcripts: make(map[string]*Transcript),
	}
}

var _ Repository = (*InMemoryRepository)(nil)

func (r *InMemoryRepository) Upsert(ctx context.Context, call *Call) (*Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := r.calls[call.CallSid]; ok {
		existing.FromNumber = call.FromNumber
		existing.ToNumber = call.ToNumber
		if call.OwnerUserID != "" {
			existing.OwnerUserID = call.OwnerUserID
		}
		if call.RouteDecision != "" {
			existing.RouteDecision = call.RouteDecision
			existing.RouteReason = call.RouteReason
			existing.RouteFallback = call.RouteFallback
		}
		existing.UpdatedAt = now
		clone := *existing
		return &clone, nil
	}

	stored := *call
	stored.ID = uuid.NewString()
	if stored.TranscriptionStatus == "" {
		stored.TranscriptionStatus = TranscriptionPending
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.calls[call.CallSid] = &stored
	clone := stored
	return &clone, nil
}

func (r *InMemoryRepository) GetBySid(ctx context.Context, callSid string) (*Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	call, ok := r.calls[callSid]
	if !ok {
		return nil, ErrCallNotFound
	}
	clone := *call
	return &clone, nil
}

func (r *InMemoryRepository) SetRecording(ctx context.Context, callSid, recordingSid, recordingURL string, durationSeconds int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[callSid]
	if !ok {
		return ErrCallNotFound
	}
	call.RecordingSid = recordingSid
	call.RecordingURL = recordingURL
	call.RecordingDuration = durationSeconds
	call.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemoryRepository) UpdateTranscriptionStatus(ctx context.Context, callSid string, status TranscriptionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[callSid]
	if !ok {
		return ErrCallNotFound
	}
	if call.TranscriptionStatus == status {
		return nil
	}
	if !call.TranscriptionStatus.CanTransitionTo(status) {
		return ErrInvalidTransition
	}
	call.TranscriptionStatus = status
	call.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemoryRepository) MarkForReview(ctx context.Context, callSid, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[callSid]
	if !ok {
		return ErrCallNotFound
	}
	call.NeedsReview = true
	call.ReviewReason = reason
	call.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemoryRepository) InsertTranscript(ctx context.Context, t *Transcript) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.transcripts[t.CallSid]; ok {
		return false, nil
	}
	stored := *t
	stored.CreatedAt = time.Now().UTC()
	r.transcripts[t.CallSid] = &stored
	return true, nil
}

func (r *InMemoryRepository) GetTranscript(ctx context.Context, callSid string) (*Transcript, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.transcripts[callSid]
	if !ok {
		return nil, ErrTranscriptNotFound
	}
	clone := *t
	return &clone, nil
}
