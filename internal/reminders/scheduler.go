package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/jobs"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/schedule"
	"github.com/atticusjxn/FlynnAIapp-sub006/pkg/logging"
)

const confirmationDelay = 30 * time.Second

// Scheduler recomputes the pending reminder set for a job. Recompute is
// cancel-then-insert: the previous pending rows reach cancelled before any
// new pending rows for the job exist.
type Scheduler struct {
	jobs       jobs.Repository
	store      Store
	settings   SettingsStore
	logger     *logging.Logger
	maxRetries int
	now        func() time.Time
}

type SchedulerConfig struct {
	Jobs     jobs.Repository
	Store    Store
	Settings SettingsStore
	Logger   *logging.Logger
	// MaxRetries is the delivery attempt budget stamped on each reminder.
	// Zero means the default of 3.
	MaxRetries int
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Jobs == nil || cfg.Store == nil || cfg.Settings == nil {
		return nil, errors.New("reminders: jobs, store, and settings are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Scheduler{
		jobs:       cfg.Jobs,
		store:      cfg.Store,
		settings:   cfg.Settings,
		logger:     logger,
		maxRetries: maxRetries,
		now:        time.Now,
	}, nil
}

// ScheduleForJob recomputes the job's reminders. It returns the number of
// reminders scheduled; zero with a nil error is a legitimate outcome
// (reminders disabled, no schedule, job in the past, no recipient phone).
func (s *Scheduler) ScheduleForJob(ctx context.Context, jobID string) error {
	_, err := s.Recompute(ctx, jobID)
	return err
}

func (s *Scheduler) Recompute(ctx context.Context, jobID string) (int, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("reminders: load job: %w", err)
	}

	if !job.RemindersEnabled {
		s.logger.Debug("reminders disabled for job", "job_id", jobID)
		return 0, nil
	}
	if !job.HasSchedule() {
		s.logger.Debug("job has no schedule, nothing to remind", "job_id", jobID)
		return 0, nil
	}

	settings, err := s.settings.Get(ctx, job.OrgID)
	if err != nil {
		if !errors.Is(err, ErrSettingsNotFound) {
			return 0, fmt.Errorf("reminders: load settings: %w", err)
		}
		settings = DefaultSettings(job.OrgID)
	}
	if !settings.Enabled {
		s.logger.Debug("reminders disabled org-wide", "org_id", job.OrgID)
		return 0, nil
	}

	loc := settings.Location()
	jobTime, err := job.StartTime(loc)
	if err != nil {
		return 0, err
	}

	now := s.now()
	if !jobTime.After(now) {
		s.logger.Info("job already started, not scheduling reminders",
			"job_id", jobID, "job_time", jobTime)
		return 0, nil
	}

	// Idempotent recompute: the old pending set must be gone before any
	// new rows exist.
	if _, err := s.store.CancelPendingForJob(ctx, jobID); err != nil {
		return 0, fmt.Errorf("reminders: cancel pending: %w", err)
	}

	if job.CustomerPhone == "" {
		s.logger.Info("job has no recipient phone, zero reminders scheduled", "job_id", jobID)
		return 0, nil
	}

	batch := s.computeCandidates(job, settings, jobTime, now, loc)
	if len(batch) == 0 {
		return 0, nil
	}
	if err := s.store.Insert(ctx, batch); err != nil {
		return 0, fmt.Errorf("reminders: insert batch: %w", err)
	}
	s.logger.Info("reminders scheduled", "job_id", jobID, "count", len(batch))
	return len(batch), nil
}

func (s *Scheduler) computeCandidates(job *jobs.Job, settings *Settings, jobTime, now time.Time, loc *time.Location) []*ScheduledReminder {
	var batch []*ScheduledReminder
	add := func(kind Kind, customID string, at time.Time, template string) {
		// A candidate whose window already passed is dropped, not an error.
		if !at.After(now) {
			return
		}
		batch = append(batch, &ScheduledReminder{
			JobID:            job.ID,
			OrgID:            job.OrgID,
			RecipientPhone:   job.CustomerPhone,
			Kind:             kind,
			CustomReminderID: customID,
			ScheduledFor:     at,
			MessageTemplate:  template,
			Status:           StatusPending,
			MaxRetries:       s.maxRetries,
		})
	}

	if settings.Confirmation.Enabled {
		add(KindConfirmation, "", now.Add(confirmationDelay), settings.Confirmation.Template)
	}
	if settings.OneDayBefore.Enabled {
		at := atClock(jobTime.AddDate(0, 0, -1), settings.OneDayBefore.TimeOfDay, "09:00", loc)
		add(KindOneDayBefore, "", at, settings.OneDayBefore.Template)
	}
	if settings.MorningOf.Enabled {
		weekend := jobTime.Weekday() == time.Saturday || jobTime.Weekday() == time.Sunday
		if !(weekend && settings.SkipWeekendsForMorning) {
			at := atClock(jobTime, settings.MorningOf.TimeOfDay, "08:00", loc)
			add(KindMorningOf, "", at, settings.MorningOf.Template)
		}
	}
	if settings.TwoHoursBefore.Enabled {
		add(KindTwoHoursBefore, "", jobTime.Add(-2*time.Hour), settings.TwoHoursBefore.Template)
	}
	for _, custom := range settings.Custom {
		if !custom.Enabled {
			continue
		}
		offset, err := custom.Timing.Offset()
		if err != nil {
			s.logger.Error("invalid custom reminder timing, skipped",
				"org_id", job.OrgID, "custom_id", custom.ID, "error", err)
			continue
		}
		at := jobTime.Add(-offset)
		if custom.Timing.SpecificTime != "" {
			at = atClock(at, custom.Timing.SpecificTime, "", loc)
		}
		add(KindCustom, custom.ID, at, custom.Template)
	}
	return batch
}

// atClock pins t to the given HH:MM on the same calendar day.
func atClock(t time.Time, clock, fallback string, loc *time.Location) time.Time {
	if clock == "" {
		clock = fallback
	}
	hour, minute, err := schedule.ParseClock(clock)
	if err != nil {
		return t
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
}
