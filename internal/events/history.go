package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one append-only audit record. Rows are never updated or deleted;
// the history is how a business owner can see failures that were silent for
// the SMS recipient.
type Entry struct {
	ID          string          `json:"id"`
	AggregateID string          `json:"aggregate_id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// History appends and reads audit entries.
type History interface {
	Append(ctx context.Context, aggregateID, kind string, payload any) error
	For(ctx context.Context, aggregateID string) ([]Entry, error)
}

// PostgresHistory stores entries in the event_history table.
type PostgresHistory struct {
	pool *pgxpool.Pool
}

func NewPostgresHistory(pool *pgxpool.Pool) *PostgresHistory {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &PostgresHistory{pool: pool}
}

var _ History = (*PostgresHistory)(nil)

func (h *PostgresHistory) Append(ctx context.Context, aggregateID, kind string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: encode payload: %w", err)
	}
	query := `
		INSERT INTO event_history (id, aggregate_id, kind, payload)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := h.pool.Exec(ctx, query, uuid.NewString(), aggregateID, kind, encoded); err != nil {
		return fmt.Errorf("events: append history: %w", err)
	}
	return nil
}

func (h *PostgresHistory) For(ctx context.Context, aggregateID string) ([]Entry, error) {
	query := `
		SELECT id, aggregate_id, kind, payload, created_at
		FROM event_history
		WHERE aggregate_id = $1
		ORDER BY created_at ASC
	`
	rows, err := h.pool.Query(ctx, query, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("events: read history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.Kind, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan history: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events: history rows: %w", err)
	}
	return out, nil
}

// InMemoryHistory backs tests.
type InMemoryHistory struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewInMemoryHistory() *InMemoryHistory {
	return &InMemoryHistory{}
}

var _ History = (*InMemoryHistory)(nil)

func (h *InMemoryHistory) Append(_ context.Context, aggregateID, kind string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: encode payload: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, Entry{
		ID:          uuid.NewString(),
		AggregateID: aggregateID,
		Kind:        kind,
		Payload:     encoded,
		CreatedAt:   time.Now().UTC(),
	})
	return nil
}

func (h *InMemoryHistory) For(_ context.Context, aggregateID string) ([]Entry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []Entry
	for _, e := range h.entries {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
