package reminders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SettingsStore reads per-org reminder settings.
type SettingsStore interface {
	// Get returns the org's settings, or ErrSettingsNotFound when the org
	// has never saved any (callers fall back to DefaultSettings).
	Get(ctx context.Context, orgID string) (*Settings, error)
}

// Store persists scheduled reminders. All only-once guarantees live here,
// not in process-level locks, because the API can be horizontally scaled.
type Store interface {
	Insert(ctx context.Context, batch []*ScheduledReminder) error
	// CancelPendingForJob flips every pending row for the job to cancelled
	// and reports how many it touched.
	CancelPendingForJob(ctx context.Context, jobID string) (int, error)
	// DuePending returns pending rows with scheduled_for <= now, oldest
	// first, capped at limit.
	DuePending(ctx context.Context, now time.Time, limit int) ([]*ScheduledReminder, error)
	MarkSent(ctx context.Context, id string, executedAt time.Time, providerMessageID string) error
	// Reschedule pushes a pending row forward after a failed attempt.
	Reschedule(ctx context.Context, id string, nextAttempt time.Time, errorMessage string) error
	MarkFailed(ctx context.Context, id, errorMessage string) error
	ListForJob(ctx context.Context, jobID string) ([]*ScheduledReminder, error)
}

// InMemoryStore backs tests and local development.
type InMemoryStore struct {
	mu   sync.RWMutex
	rows map[string]*ScheduledReminder
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[string]*ScheduledReminder)}
}

var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) Insert(_ context.Context, batch []*ScheduledReminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, r := range batch {
		stored := *r
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		if stored.Status == "" {
			stored.Status = StatusPending
		}
		stored.CreatedAt = now
		stored.UpdatedAt = now
		s.rows[stored.ID] = &stored
		r.ID = stored.ID
	}
	return nil
}

func (s *InMemoryStore) CancelPendingForJob(_ context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, r := range s.rows {
		if r.JobID == jobID && r.Status == StatusPending {
			r.Status = StatusCancelled
			r.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) DuePending(_ context.Context, now time.Time, limit int) ([]*ScheduledReminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []*ScheduledReminder
	for _, r := range s.rows {
		if r.Status == StatusPending && !r.ScheduledFor.After(now) {
			copied := *r
			due = append(due, &copied)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *InMemoryStore) MarkSent(_ context.Context, id string, executedAt time.Time, providerMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return ErrReminderNotFound
	}
	r.Status = StatusSent
	r.ExecutedAt = &executedAt
	r.ProviderMessageID = providerMessageID
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) Reschedule(_ context.Context, id string, nextAttempt time.Time, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return ErrReminderNotFound
	}
	r.ScheduledFor = nextAttempt
	r.RetryCount++
	r.ErrorMessage = errorMessage
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) MarkFailed(_ context.Context, id, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return ErrReminderNotFound
	}
	r.Status = StatusFailed
	r.ErrorMessage = errorMessage
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) ListForJob(_ context.Context, jobID string) ([]*ScheduledReminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ScheduledReminder
	for _, r := range s.rows {
		if r.JobID == jobID {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

// InMemorySettings backs tests.
type InMemorySettings struct {
	mu   sync.RWMutex
	rows map[string]*Settings
}

func NewInMemorySettings() *InMemorySettings {
	return &InMemorySettings{rows: make(map[string]*Settings)}
}

var _ SettingsStore = (*InMemorySettings)(nil)

func (s *InMemorySettings) Get(_ context.Context, orgID string) (*Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[orgID]
	if !ok {
		return nil, ErrSettingsNotFound
	}
	copied := *row
	return &copied, nil
}

// Put stores settings for an org.
func (s *InMemorySettings) Put(settings *Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[settings.OrgID] = settings
}
