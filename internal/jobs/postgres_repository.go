package jobs

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
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores jobs in the relational database.
type PostgresRepository struct {
	pool querier
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("jobs: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

// NewPostgresRepositoryWithQuerier is used by tests.
func NewPostgresRepositoryWithQuerier(q querier) *PostgresRepository {
	return &PostgresRepository{pool: q}
}

var _ Repository = (*PostgresRepository)(nil)

const jobColumns = `
	id, owner_user_id, org_id, COALESCE(source_call_sid, ''),
	customer_name, COALESCE(customer_phone, ''), COALESCE(service_type, ''),
	COALESCE(scheduled_date, ''), COALESCE(scheduled_time, ''), COALESCE(location, ''),
	COALESCE(urgency, ''), COALESCE(notes, ''), status,
	reminders_enabled, reminder_count, created_at, updated_at`

// Create relies on the unique index on source_call_sid: a second job for the
// same call surfaces as ErrDuplicateSourceCall rather than a silent duplicate.
func (r *PostgresRepository) Create(ctx context.Context, job *Job) (*Job, error) {
	query := `
		INSERT INTO jobs (id, owner_user_id, org_id, source_call_sid,
			customer_name, customer_phone, service_type,
			scheduled_date, scheduled_time, location, urgency, notes,
			status, reminders_enabled)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), NULLIF($7, ''),
			NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''),
			$13, $14)
		RETURNING id, status, reminder_count, created_at, updated_at
	`
	stored := *job
	status := job.Status
	if status == "" {
		status = StatusNew
	}
	if err := r.pool.QueryRow(ctx, query,
		uuid.NewString(),
		job.OwnerUserID,
		job.OrgID,
		job.SourceCallSid,
		job.CustomerName,
		job.CustomerPhone,
		job.ServiceType,
		job.ScheduledDate,
		job.ScheduledTime,
		job.Location,
		string(job.Urgency),
		job.Notes,
		string(status),
		job.RemindersEnabled,
	).Scan(&stored.ID, &stored.Status, &stored.ReminderCount, &stored.CreatedAt, &stored.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateSourceCall
		}
		return nil, fmt.Errorf("jobs: insert failed: %w", err)
	}
	return &stored, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Job, error) {
	query := `SELECT` + jobColumns + ` FROM jobs WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *PostgresRepository) GetBySourceCall(ctx context.Context, callSid string) (*Job, error) {
	query := `SELECT` + jobColumns + ` FROM jobs WHERE source_call_sid = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, callSid))
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerUserID string) ([]*Job, error) {
	query := `SELECT` + jobColumns + ` FROM jobs WHERE owner_user_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("jobs: list failed: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs: list rows: %w", err)
	}
	return out, nil
}

// UpdateStatus is scoped to the owner so one account can never move another
// account's jobs.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id, ownerUserID string, status Status) (*Job, error) {
	query := `
		UPDATE jobs
		SET status = $3, updated_at = now()
		WHERE id = $1 AND owner_user_id = $2
		RETURNING` + jobColumns + `
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, id, ownerUserID, string(status)))
}

func (r *PostgresRepository) IncrementReminderCount(ctx context.Context, id string) error {
	query := `UPDATE jobs SET reminder_count = reminder_count + 1, updated_at = now() WHERE id = $1`
	ct, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("jobs: increment reminder count: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *PostgresRepository) scanOne(row pgx.Row) (*Job, error) {
	job, err := r.scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

func (r *PostgresRepository) scanRow(row pgx.Row) (*Job, error) {
	var job Job
	var urgency string
	if err := row.Scan(
		&job.ID,
		&job.OwnerUserID,
		&job.OrgID,
		&job.SourceCallSid,
		&job.CustomerName,
		&job.CustomerPhone,
		&job.ServiceType,
		&job.ScheduledDate,
		&job.ScheduledTime,
		&job.Location,
		&urgency,
		&job.Notes,
		&job.Status,
		&job.RemindersEnabled,
		&job.ReminderCount,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("jobs: scan failed: %w", err)
	}
	job.Urgency = Urgency(urgency)
	return &job, nil
}
