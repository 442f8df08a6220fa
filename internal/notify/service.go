package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/calls"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/jobs"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/reminders"
	"github.com/atticusjxn/FlynnAIapp-sub006/pkg/logging"
)

// ContactDirectory resolves a user id to the owner's alert address.
type ContactDirectory interface {
	OwnerEmail(ctx context.Context, userID string) (email, name string, err error)
}

// Service alerts business owners about pipeline failures that would
// otherwise only exist as durable state: a recipient who never gets an SMS
// doesn't complain, so the owner has to be told directly.
type Service struct {
	email    EmailSender
	contacts ContactDirectory
	calls    calls.Repository
	logger   *logging.Logger
}

func NewService(email EmailSender, contacts ContactDirectory, callRepo calls.Repository, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:    email,
		contacts: contacts,
		calls:    callRepo,
		logger:   logger,
	}
}

// TranscriptionFailed emails the owner when a call's transcription
// permanently failed and the call needs manual review.
func (s *Service) TranscriptionFailed(ctx context.Context, callSid, reason string) error {
	if s.email == nil || s.contacts == nil {
		s.logger.Debug("notify: email not configured, skipping transcription alert", "call_sid", callSid)
		return nil
	}
	call, err := s.calls.GetBySid(ctx, callSid)
	if err != nil {
		return fmt.Errorf("notify: load call: %w", err)
	}
	if call.OwnerUserID == "" {
		s.logger.Debug("notify: call has no owner, skipping alert", "call_sid", callSid)
		return nil
	}
	email, name, err := s.contacts.OwnerEmail(ctx, call.OwnerUserID)
	if err != nil {
		return fmt.Errorf("notify: resolve owner: %w", err)
	}

	body := fmt.Sprintf(
		"A voicemail from %s could not be transcribed (%s).\n\nThe call is flagged for review in your dashboard; listen to the recording to make sure you don't lose the lead.",
		call.FromNumber, reason,
	)
	return s.email.Send(ctx, EmailMessage{
		To:      email,
		ToName:  name,
		Subject: "A voicemail needs your attention",
		Body:    body,
	})
}

// ReminderExhausted emails the owner when a reminder burned through all its
// retries without an SMS going out.
func (s *Service) ReminderExhausted(ctx context.Context, reminder *reminders.ScheduledReminder, job *jobs.Job) error {
	if s.email == nil || s.contacts == nil {
		s.logger.Debug("notify: email not configured, skipping reminder alert", "reminder_id", reminder.ID)
		return nil
	}
	if job == nil {
		return nil
	}
	email, name, err := s.contacts.OwnerEmail(ctx, job.OwnerUserID)
	if err != nil {
		return fmt.Errorf("notify: resolve owner: %w", err)
	}

	body := fmt.Sprintf(
		"The %s reminder for %s (%s) could not be delivered to %s after %d attempts.\n\nLast error: %s\n\nYou may want to contact the customer directly.",
		reminder.Kind, job.CustomerName, job.ServiceType, reminder.RecipientPhone, reminder.MaxRetries, reminder.ErrorMessage,
	)
	return s.email.Send(ctx, EmailMessage{
		To:      email,
		ToName:  name,
		Subject: "A customer reminder failed to send",
		Body:    body,
	})
}

// PostgresContacts reads owner contact details from the users table.
type PostgresContacts struct {
	pool *pgxpool.Pool
}

func NewPostgresContacts(pool *pgxpool.Pool) *PostgresContacts {
	if pool == nil {
		panic("notify: pgx pool required")
	}
	return &PostgresContacts{pool: pool}
}

var _ ContactDirectory = (*PostgresContacts)(nil)

func (c *PostgresContacts) OwnerEmail(ctx context.Context, userID string) (string, string, error) {
	query := `SELECT email, COALESCE(full_name, '') FROM users WHERE id = $1`
	var email, name string
	if err := c.pool.QueryRow(ctx, query, userID).Scan(&email, &name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", fmt.Errorf("notify: unknown user %s", userID)
		}
		return "", "", fmt.Errorf("notify: contact lookup: %w", err)
	}
	return email, name, nil
}
