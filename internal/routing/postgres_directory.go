package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/schedule"
)

// PostgresDirectory resolves routing lookups against the relational store.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	if pool == nil {
		panic("routing: pgx pool required")
	}
	return &PostgresDirectory{pool: pool}
}

var _ Directory = (*PostgresDirectory)(nil)

// OwnerOfNumber resolves the dialed number to its owning user.
func (d *PostgresDirectory) OwnerOfNumber(ctx context.Context, toNumber string) (*Owner, error) {
	query := `
		SELECT u.id, u.org_id, u.routing_mode, u.after_hours_route, o.business_name
		FROM users u
		JOIN organizations o ON o.id = u.org_id
		WHERE u.claimed_number = $1
	`
	var owner Owner
	if err := d.pool.QueryRow(ctx, query, toNumber).Scan(
		&owner.UserID,
		&owner.OrgID,
		&owner.Mode,
		&owner.AfterHours,
		&owner.BusinessName,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNumberUnclaimed
		}
		return nil, fmt.Errorf("routing: owner lookup: %w", err)
	}
	return &owner, nil
}

// KnownCaller checks for a prior completed call or any job from this number.
func (d *PostgresDirectory) KnownCaller(ctx context.Context, ownerUserID, fromNumber string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM calls
			WHERE owner_user_id = $1 AND from_number = $2 AND transcription_status = 'completed'
		) OR EXISTS (
			SELECT 1 FROM jobs
			WHERE owner_user_id = $1 AND customer_phone = $2
		)
	`
	var known bool
	if err := d.pool.QueryRow(ctx, query, ownerUserID, fromNumber).Scan(&known); err != nil {
		return false, fmt.Errorf("routing: caller lookup: %w", err)
	}
	return known, nil
}

// HoursFor loads the org's weekly schedule. Orgs without configured hours
// get a nil schedule, which the router treats as always open.
func (d *PostgresDirectory) HoursFor(ctx context.Context, orgID string) (*schedule.Weekly, error) {
	query := `SELECT timezone, business_hours FROM organizations WHERE id = $1`
	var tz string
	var raw []byte
	if err := d.pool.QueryRow(ctx, query, orgID).Scan(&tz, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("routing: hours lookup: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	weekly := schedule.Weekly{Timezone: tz}
	if err := json.Unmarshal(raw, &weekly.Days); err != nil {
		return nil, fmt.Errorf("routing: decode business hours: %w", err)
	}
	return &weekly, nil
}
