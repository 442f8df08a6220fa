package reminders

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrReminderNotFound = errors.New("reminders: reminder not found")
	ErrSettingsNotFound = errors.New("reminders: settings not found")
)

// Kind identifies which rule produced a scheduled reminder.
type Kind string

const (
	KindConfirmation   Kind = "confirmation"
	KindOneDayBefore   Kind = "one_day_before"
	KindMorningOf      Kind = "morning_of"
	KindTwoHoursBefore Kind = "two_hours_before"
	KindCustom         Kind = "custom"
)

// Status is the reminder lifecycle. pending is the only non-terminal state;
// retries stay pending with scheduled_for pushed forward.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// TimingUnit is the offset unit of a custom reminder.
type TimingUnit string

const (
	UnitMinutes TimingUnit = "minutes"
	UnitHours   TimingUnit = "hours"
	UnitDays    TimingUnit = "days"
	UnitWeeks   TimingUnit = "weeks"
)

// Timing describes how far before the job a custom reminder fires, with an
// optional clock-of-day override.
type Timing struct {
	Value        int        `json:"value"`
	Unit         TimingUnit `json:"unit"`
	SpecificTime string     `json:"specificTime,omitempty"` // HH:MM
}

// Offset converts the timing to a duration. Invalid units or non-positive
// values produce an error so bad settings rows surface loudly.
func (t Timing) Offset() (time.Duration, error) {
	if t.Value <= 0 {
		return 0, fmt.Errorf("reminders: timing value must be positive, got %d", t.Value)
	}
	switch t.Unit {
	case UnitMinutes:
		return time.Duration(t.Value) * time.Minute, nil
	case UnitHours:
		return time.Duration(t.Value) * time.Hour, nil
	case UnitDays:
		return time.Duration(t.Value) * 24 * time.Hour, nil
	case UnitWeeks:
		return time.Duration(t.Value) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("reminders: unknown timing unit %q", t.Unit)
	}
}

// CustomReminder is an org-defined extra reminder on top of the fixed kinds.
type CustomReminder struct {
	ID       string `json:"id"`
	Timing   Timing `json:"timing"`
	Template string `json:"template"`
	Enabled  bool   `json:"enabled"`
}

// KindSetting is the per-kind toggle, template, and (where applicable) the
// clock time the reminder fires at.
type KindSetting struct {
	Enabled   bool   `json:"enabled"`
	Template  string `json:"template"`
	TimeOfDay string `json:"timeOfDay,omitempty"` // HH:MM, one_day_before and morning_of only
}

// Settings is one row per organization.
type Settings struct {
	OrgID                  string           `json:"org_id"`
	Enabled                bool             `json:"enabled"`
	Timezone               string           `json:"timezone"`
	BusinessName           string           `json:"business_name"`
	Confirmation           KindSetting      `json:"confirmation"`
	OneDayBefore           KindSetting      `json:"one_day_before"`
	MorningOf              KindSetting      `json:"morning_of"`
	TwoHoursBefore         KindSetting      `json:"two_hours_before"`
	Custom                 []CustomReminder `json:"custom"`
	SkipWeekendsForMorning bool             `json:"skip_weekends_for_morning"`
}

// Location resolves the org timezone, defaulting to UTC.
func (s *Settings) Location() *time.Location {
	if s == nil || s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DefaultSettings is what an org gets before it customizes anything.
func DefaultSettings(orgID string) *Settings {
	return &Settings{
		OrgID:   orgID,
		Enabled: true,
		Confirmation: KindSetting{
			Enabled:  true,
			Template: "Hi {clientName}, your {serviceType} with {businessName} is booked for {date} at {time}.",
		},
		OneDayBefore: KindSetting{
			Enabled:   true,
			Template:  "Hi {clientName}, a reminder that your {serviceType} is tomorrow at {time}.",
			TimeOfDay: "09:00",
		},
		MorningOf: KindSetting{
			Enabled:   true,
			Template:  "Hi {clientName}, see you today at {time} for your {serviceType}.",
			TimeOfDay: "08:00",
		},
		TwoHoursBefore: KindSetting{
			Enabled:  false,
			Template: "Hi {clientName}, your {serviceType} starts at {time}. See you soon!",
		},
	}
}

// ScheduledReminder is one row per (job, kind, custom id) instance computed
// for a future send.
type ScheduledReminder struct {
	ID                string     `json:"id"`
	JobID             string     `json:"job_id"`
	OrgID             string     `json:"org_id"`
	RecipientPhone    string     `json:"recipient_phone"`
	Kind              Kind       `json:"kind"`
	CustomReminderID  string     `json:"custom_reminder_id,omitempty"`
	ScheduledFor      time.Time  `json:"scheduled_for"`
	MessageTemplate   string     `json:"message_template"`
	Status            Status     `json:"status"`
	RetryCount        int        `json:"retry_count"`
	MaxRetries        int        `json:"max_retries"`
	ExecutedAt        *time.Time `json:"executed_at,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
