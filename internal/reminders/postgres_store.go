package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier lets tests substitute pgxmock for the pool.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists scheduled reminders.
type PostgresStore struct {
	pool querier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("reminders: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

// NewPostgresStoreWithQuerier is used by tests.
func NewPostgresStoreWithQuerier(q querier) *PostgresStore {
	return &PostgresStore{pool: q}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Insert(ctx context.Context, batch []*ScheduledReminder) error {
	query := `
		INSERT INTO scheduled_reminders (id, job_id, org_id, recipient_phone, kind,
			custom_reminder_id, scheduled_for, message_template, status, max_retries)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, 'pending', $9)
	`
	for _, r := range batch {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if _, err := s.pool.Exec(ctx, query,
			r.ID,
			r.JobID,
			r.OrgID,
			r.RecipientPhone,
			string(r.Kind),
			r.CustomReminderID,
			r.ScheduledFor,
			r.MessageTemplate,
			r.MaxRetries,
		); err != nil {
			return fmt.Errorf("reminders: insert: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CancelPendingForJob(ctx context.Context, jobID string) (int, error) {
	query := `
		UPDATE scheduled_reminders
		SET status = 'cancelled', updated_at = now()
		WHERE job_id = $1 AND status = 'pending'
	`
	ct, err := s.pool.Exec(ctx, query, jobID)
	if err != nil {
		return 0, fmt.Errorf("reminders: cancel pending: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

const reminderColumns = `
	id, job_id, org_id, recipient_phone, kind, COALESCE(custom_reminder_id, ''),
	scheduled_for, message_template, status, retry_count, max_retries,
	executed_at, COALESCE(error_message, ''), COALESCE(provider_message_id, ''),
	created_at, updated_at`

func (s *PostgresStore) DuePending(ctx context.Context, now time.Time, limit int) ([]*ScheduledReminder, error) {
	query := `SELECT` + reminderColumns + `
		FROM scheduled_reminders
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("reminders: select due: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

func (s *PostgresStore) MarkSent(ctx context.Context, id string, executedAt time.Time, providerMessageID string) error {
	query := `
		UPDATE scheduled_reminders
		SET status = 'sent', executed_at = $2, provider_message_id = NULLIF($3, ''), updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`
	ct, err := s.pool.Exec(ctx, query, id, executedAt, providerMessageID)
	if err != nil {
		return fmt.Errorf("reminders: mark sent: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrReminderNotFound
	}
	return nil
}

func (s *PostgresStore) Reschedule(ctx context.Context, id string, nextAttempt time.Time, errorMessage string) error {
	query := `
		UPDATE scheduled_reminders
		SET scheduled_for = $2, retry_count = retry_count + 1, error_message = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`
	ct, err := s.pool.Exec(ctx, query, id, nextAttempt, errorMessage)
	if err != nil {
		return fmt.Errorf("reminders: reschedule: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrReminderNotFound
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, errorMessage string) error {
	query := `
		UPDATE scheduled_reminders
		SET status = 'failed', error_message = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`
	ct, err := s.pool.Exec(ctx, query, id, errorMessage)
	if err != nil {
		return fmt.Errorf("reminders: mark failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrReminderNotFound
	}
	return nil
}

func (s *PostgresStore) ListForJob(ctx context.Context, jobID string) ([]*ScheduledReminder, error) {
	query := `SELECT` + reminderColumns + `
		FROM scheduled_reminders
		WHERE job_id = $1
		ORDER BY scheduled_for ASC`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("reminders: list for job: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

func scanReminders(rows pgx.Rows) ([]*ScheduledReminder, error) {
	var out []*ScheduledReminder
	for rows.Next() {
		var r ScheduledReminder
		if err := rows.Scan(
			&r.ID,
			&r.JobID,
			&r.OrgID,
			&r.RecipientPhone,
			&r.Kind,
			&r.CustomReminderID,
			&r.ScheduledFor,
			&r.MessageTemplate,
			&r.Status,
			&r.RetryCount,
			&r.MaxRetries,
			&r.ExecutedAt,
			&r.ErrorMessage,
			&r.ProviderMessageID,
			&r.CreatedAt,
			&r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("reminders: scan: %w", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reminders: rows: %w", err)
	}
	return out, nil
}

// PostgresSettings reads reminder settings joined with the org's timezone
// and display name.
type PostgresSettings struct {
	pool querier
}

func NewPostgresSettings(pool *pgxpool.Pool) *PostgresSettings {
	if pool == nil {
		panic("reminders: pgx pool required")
	}
	return &PostgresSettings{pool: pool}
}

// NewPostgresSettingsWithQuerier is used by tests.
func NewPostgresSettingsWithQuerier(q querier) *PostgresSettings {
	return &PostgresSettings{pool: q}
}

var _ SettingsStore = (*PostgresSettings)(nil)

func (s *PostgresSettings) Get(ctx context.Context, orgID string) (*Settings, error) {
	query := `
		SELECT rs.org_id, rs.enabled, COALESCE(o.timezone, ''), COALESCE(o.business_name, ''),
			rs.confirmation, rs.one_day_before, rs.morning_of, rs.two_hours_before,
			COALESCE(rs.custom_reminders, '[]'), rs.skip_weekends_for_morning
		FROM reminder_settings rs
		JOIN organizations o ON o.id = rs.org_id
		WHERE rs.org_id = $1
	`
	var (
		settings   Settings
		confirmRaw []byte
		dayRaw     []byte
		morningRaw []byte
		twoHourRaw []byte
		customRaw  []byte
	)
	if err := s.pool.QueryRow(ctx, query, orgID).Scan(
		&settings.OrgID,
		&settings.Enabled,
		&settings.Timezone,
		&settings.BusinessName,
		&confirmRaw,
		&dayRaw,
		&morningRaw,
		&twoHourRaw,
		&customRaw,
		&settings.SkipWeekendsForMorning,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, fmt.Errorf("reminders: select settings: %w", err)
	}

	for raw, dst := range map[*[]byte]*KindSetting{
		&confirmRaw: &settings.Confirmation,
		&dayRaw:     &settings.OneDayBefore,
		&morningRaw: &settings.MorningOf,
		&twoHourRaw: &settings.TwoHoursBefore,
	} {
		if len(*raw) > 0 {
			if err := json.Unmarshal(*raw, dst); err != nil {
				return nil, fmt.Errorf("reminders: decode kind setting: %w", err)
			}
		}
	}
	if len(customRaw) > 0 {
		if err := json.Unmarshal(customRaw, &settings.Custom); err != nil {
			return nil, fmt.Errorf("reminders: decode custom reminders: %w", err)
		}
	}
	return &settings, nil
}
