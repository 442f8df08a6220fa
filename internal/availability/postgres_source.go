package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/schedule"
)

// PostgresSource reads business hours and synced calendar events from the
// relational store.
type PostgresSource struct {
	pool *pgxpool.Pool
}

func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	if pool == nil {
		panic("availability: pgx pool required")
	}
	return &PostgresSource{pool: pool}
}

var (
	_ HoursSource = (*PostgresSource)(nil)
	_ EventSource = (*PostgresSource)(nil)
)

// WeeklyHours resolves the user's org schedule.
func (s *PostgresSource) WeeklyHours(ctx context.Context, userID string) (*schedule.Weekly, error) {
	query := `
		SELECT o.timezone, o.business_hours
		FROM users u
		JOIN organizations o ON o.id = u.org_id
		WHERE u.id = $1
	`
	var tz string
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, userID).Scan(&tz, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoHours
		}
		return nil, fmt.Errorf("availability: hours lookup: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNoHours
	}
	weekly := schedule.Weekly{Timezone: tz}
	if err := json.Unmarshal(raw, &weekly.Days); err != nil {
		return nil, fmt.Errorf("availability: decode business hours: %w", err)
	}
	return &weekly, nil
}

// EventsBetween lists calendar events intersecting [from, to).
func (s *PostgresSource) EventsBetween(ctx context.Context, userID string, from, to time.Time) ([]Event, error) {
	query := `
		SELECT id, COALESCE(title, ''), starts_at, ends_at
		FROM calendar_events
		WHERE user_id = $1 AND starts_at < $3 AND ends_at > $2
		ORDER BY starts_at ASC
	`
	rows, err := s.pool.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("availability: events lookup: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Title, &e.Start, &e.End); err != nil {
			return nil, fmt.Errorf("availability: scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("availability: event rows: %w", err)
	}
	return out, nil
}
