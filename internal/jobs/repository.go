package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository stores jobs. Implementations must enforce at-most-one job per
// source call so a re-delivered transcript cannot fan out into duplicates.
type Repository interface {
	Create(ctx context.Context, job *Job) (*Job, error)
	GetByID(ctx context.Context, id string) (*Job, error)
	GetBySourceCall(ctx context.Context, callSid string) (*Job, error)
	ListByOwner(ctx context.Context, ownerUserID string) ([]*Job, error)
	UpdateStatus(ctx context.Context, id, ownerUserID string, status Status) (*Job, error)
	IncrementReminderCount(ctx context.Context, id string) error
}

// InMemoryRepository backs tests and local development.
type InMemoryRepository struct {
	mu   sync.RWMutex
	rows map[string]*Job
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{rows: make(map[string]*Job)}
}

func (r *InMemoryRepository) Create(_ context.Context, job *Job) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.SourceCallSid != "" {
		for _, existing := range r.rows {
			if existing.SourceCallSid == job.SourceCallSid {
				return nil, ErrDuplicateSourceCall
			}
		}
	}
	stored := *job
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Status == "" {
		stored.Status = StatusNew
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.rows[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (r *InMemoryRepository) GetByID(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	out := *row
	return &out, nil
}

func (r *InMemoryRepository) GetBySourceCall(_ context.Context, callSid string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, row := range r.rows {
		if row.SourceCallSid == callSid {
			out := *row
			return &out, nil
		}
	}
	return nil, ErrJobNotFound
}

func (r *InMemoryRepository) ListByOwner(_ context.Context, ownerUserID string) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Job
	for _, row := range r.rows {
		if row.OwnerUserID == ownerUserID {
			copied := *row
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *InMemoryRepository) UpdateStatus(_ context.Context, id, ownerUserID string, status Status) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.OwnerUserID != ownerUserID {
		return nil, ErrJobNotFound
	}
	row.Status = status
	row.UpdatedAt = time.Now().UTC()
	out := *row
	return &out, nil
}

func (r *InMemoryRepository) IncrementReminderCount(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return ErrJobNotFound
	}
	row.ReminderCount++
	row.UpdatedAt = time.Now().UTC()
	return nil
}
