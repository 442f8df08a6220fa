package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrJobNotFound        = errors.New("jobs: job not found")
	ErrDuplicateSourceCall = errors.New("jobs: job already exists for call")
	ErrInvalidStatus      = errors.New("jobs: invalid status")
)

// Status is the job's soft lifecycle; rows are never deleted.
type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ValidStatus reports whether v is one of the fixed status values.
func ValidStatus(v string) bool {
	switch Status(v) {
	case StatusNew, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Urgency is how soon the customer needs the work done.
type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyMedium    Urgency = "medium"
	UrgencyHigh      Urgency = "high"
	UrgencyEmergency Urgency = "emergency"
)

// Job is the business-facing artifact produced by the pipeline (or entered
// manually, which is out of scope here).
type Job struct {
	ID               string    `json:"id"`
	OwnerUserID      string    `json:"owner_user_id"`
	OrgID            string    `json:"org_id"`
	SourceCallSid    string    `json:"source_call_sid,omitempty"`
	CustomerName     string    `json:"customer_name"`
	CustomerPhone    string    `json:"customer_phone,omitempty"`
	ServiceType      string    `json:"service_type,omitempty"`
	ScheduledDate    string    `json:"scheduled_date,omitempty"` // YYYY-MM-DD
	ScheduledTime    string    `json:"scheduled_time,omitempty"` // HH:MM
	Location         string    `json:"location,omitempty"`
	Urgency          Urgency   `json:"urgency,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	Status           Status    `json:"status"`
	RemindersEnabled bool      `json:"reminders_enabled"`
	ReminderCount    int       `json:"reminder_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasSchedule reports whether both date and time are set.
func (j *Job) HasSchedule() bool {
	return strings.TrimSpace(j.ScheduledDate) != "" && strings.TrimSpace(j.ScheduledTime) != ""
}

// StartTime resolves the job's scheduled date and time in the given location.
func (j *Job) StartTime(loc *time.Location) (time.Time, error) {
	if !j.HasSchedule() {
		return time.Time{}, errors.New("jobs: no schedule set")
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", j.ScheduledDate+" "+j.ScheduledTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("jobs: parse schedule: %w", err)
	}
	return t, nil
}
