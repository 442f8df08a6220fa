package calls

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier lets tests substitute pgxmock for the pool.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores calls and transcripts in the relational database.
type PostgresRepository struct {
	pool querier
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("calls: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

// NewPostgresRepositoryWithQuerier is used by tests.
func NewPostgresRepositoryWithQuerier(q querier) *PostgresRepository {
	return &PostgresRepository{pool: q}
}

var _ Repository = (*PostgresRepository)(nil)

// Upsert creates or refreshes the call row; the unique constraint on
// call_sid makes concurrent webhook deliveries safe.
func (r *PostgresRepository) Upsert(ctx context.Context, call *Call) (*Call, error) {
	query := `
		INSERT INTO calls (id, call_sid, from_number, to_number, owner_user_id,
			route_decision, route_reason, route_fallback, transcription_status)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, 'pending')
		ON CONFLICT (call_sid) DO UPDATE SET
			from_number = EXCLUDED.from_number,
			to_number = EXCLUDED.to_number,
			owner_user_id = COALESCE(EXCLUDED.owner_user_id, calls.owner_user_id),
			route_decision = COALESCE(NULLIF(EXCLUDED.route_decision, ''), calls.route_decision),
			route_reason = COALESCE(NULLIF(EXCLUDED.route_reason, ''), calls.route_reason),
			route_fallback = EXCLUDED.route_fallback,
			updated_at = now()
		RETURNING id, transcription_status, created_at, updated_at
	`
	stored := *call
	if err := r.pool.QueryRow(ctx, query,
		uuid.NewString(),
		call.CallSid,
		call.FromNumber,
		call.ToNumber,
		call.OwnerUserID,
		call.RouteDecision,
		call.RouteReason,
		call.RouteFallback,
	).Scan(&stored.ID, &stored.TranscriptionStatus, &stored.CreatedAt, &stored.UpdatedAt); err != nil {
		return nil, fmt.Errorf("calls: upsert failed: %w", err)
	}
	return &stored, nil
}

func (r *PostgresRepository) GetBySid(ctx context.Context, callSid string) (*Call, error) {
	query := `
		SELECT id, call_sid, from_number, to_number, COALESCE(owner_user_id::text, ''),
			COALESCE(route_decision, ''), COALESCE(route_reason, ''), route_fallback,
			COALESCE(recording_sid, ''), COALESCE(recording_url, ''), recording_duration_seconds,
			transcription_status, needs_review, COALESCE(review_reason, ''),
			created_at, updated_at
		FROM calls
		WHERE call_sid = $1
	`
	var call Call
	if err := r.pool.QueryRow(ctx, query, callSid).Scan(
		&call.ID,
		&call.CallSid,
		&call.FromNumber,
		&call.ToNumber,
		&call.OwnerUserID,
		&call.RouteDecision,
		&call.RouteReason,
		&call.RouteFallback,
		&call.RecordingSid,
		&call.RecordingURL,
		&call.RecordingDuration,
		&call.TranscriptionStatus,
		&call.NeedsReview,
		&call.ReviewReason,
		&call.CreatedAt,
		&call.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCallNotFound
		}
		return nil, fmt.Errorf("calls: select failed: %w", err)
	}
	return &call, nil
}

func (r *PostgresRepository) SetRecording(ctx context.Context, callSid, recordingSid, recordingURL string, durationSeconds int) error {
	query := `
		UPDATE calls
		SET recording_sid = $2, recording_url = $3, recording_duration_seconds = $4, updated_at = now()
		WHERE call_sid = $1
	`
	ct, err := r.pool.Exec(ctx, query, callSid, recordingSid, recordingURL, durationSeconds)
	if err != nil {
		return fmt.Errorf("calls: set recording: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrCallNotFound
	}
	return nil
}

// UpdateTranscriptionStatus guards the transition in SQL so it stays correct
// under concurrent updates.
func (r *PostgresRepository) UpdateTranscriptionStatus(ctx context.Context, callSid string, status TranscriptionStatus) error {
	query := `
		UPDATE calls
		SET transcription_status = $2, updated_at = now()
		WHERE call_sid = $1
		  AND (transcription_status = $2 OR transcription_status = ANY($3))
	`
	ct, err := r.pool.Exec(ctx, query, callSid, status, allowedPredecessors(status))
	if err != nil {
		return fmt.Errorf("calls: update transcription status: %w", err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}
	if _, err := r.GetBySid(ctx, callSid); err != nil {
		return err
	}
	return ErrInvalidTransition
}

func allowedPredecessors(status TranscriptionStatus) []string {
	switch status {
	case TranscriptionProcessing:
		return []string{string(TranscriptionPending), string(TranscriptionFailed)}
	case TranscriptionCompleted:
		return []string{string(TranscriptionPending), string(TranscriptionProcessing)}
	case TranscriptionFailed:
		return []string{string(TranscriptionPending), string(TranscriptionProcessing)}
	default:
		return nil
	}
}

func (r *PostgresRepository) MarkForReview(ctx context.Context, callSid, reason string) error {
	query := `
		UPDATE calls
		SET needs_review = true, review_reason = $2, updated_at = now()
		WHERE call_sid = $1
	`
	ct, err := r.pool.Exec(ctx, query, callSid, reason)
	if err != nil {
		return fmt.Errorf("calls: mark for review: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrCallNotFound
	}
	return nil
}

// InsertTranscript relies on the primary key on call_sid: a concurrent or
// repeated insert is "already handled," not an error.
func (r *PostgresRepository) InsertTranscript(ctx context.Context, t *Transcript) (bool, error) {
	query := `
		INSERT INTO transcripts (call_sid, engine, text, confidence, language)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (call_sid) DO NOTHING
	`
	ct, err := r.pool.Exec(ctx, query, t.CallSid, t.Engine, t.Text, t.Confidence, t.Language)
	if err != nil {
		return false, fmt.Errorf("calls: insert transcript: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *PostgresRepository) GetTranscript(ctx context.Context, callSid string) (*Transcript, error) {
	query := `
		SELECT call_sid, engine, text, confidence, COALESCE(language, ''), created_at
		FROM transcripts
		WHERE call_sid = $1
	`
	var t Transcript
	if err := r.pool.QueryRow(ctx, query, callSid).Scan(
		&t.CallSid,
		&t.Engine,
		&t.Text,
		&t.Confidence,
		&t.Language,
		&t.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTranscriptNotFound
		}
		return nil, fmt.Errorf("calls: select transcript: %w", err)
	}
	return &t, nil
}
