package reminders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/events"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/jobs"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/messaging"
)

type scriptedSender struct {
	failures int
	sent     []messaging.OutboundMessage
}

func (s *scriptedSender) Send(_ context.Context, msg messaging.OutboundMessage) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("provider timeout")
	}
	if msg.Metadata != nil {
		msg.Metadata["provider_message_id"] = "SM42"
	}
	s.sent = append(s.sent, msg)
	return nil
}

type exhaustionAlerts struct {
	reminderIDs []string
}

func (a *exhaustionAlerts) ReminderExhausted(_ context.Context, r *ScheduledReminder, _ *jobs.Job) error {
	a.reminderIDs = append(a.reminderIDs, r.ID)
	return nil
}

type processorFixture struct {
	processor *Processor
	store     *InMemoryStore
	jobs      *jobs.InMemoryRepository
	history   *events.InMemoryHistory
	sender    *scriptedSender
	alerts    *exhaustionAlerts
	clock     *time.Time
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	f := &processorFixture{
		store:   NewInMemoryStore(),
		jobs:    jobs.NewInMemoryRepository(),
		history: events.NewInMemoryHistory(),
		sender:  &scriptedSender{},
		alerts:  &exhaustionAlerts{},
		clock:   &now,
	}
	settings := NewInMemorySettings()
	orgSettings := DefaultSettings("org-1")
	orgSettings.BusinessName = "Apex Plumbing"
	settings.Put(orgSettings)

	p, err := NewProcessor(ProcessorConfig{
		Store:      f.store,
		Jobs:       f.jobs,
		Settings:   settings,
		Sender:     f.sender,
		History:    f.history,
		Alerter:    f.alerts,
		RetryDelay: 5 * time.Minute,
	})
	require.NoError(t, err)
	p.now = func() time.Time { return *f.clock }
	f.processor = p
	return f
}

func (f *processorFixture) seedDue(t *testing.T, template string) (*jobs.Job, *ScheduledReminder) {
	t.Helper()
	job, err := f.jobs.Create(context.Background(), &jobs.Job{
		OwnerUserID:      "user-1",
		OrgID:            "org-1",
		CustomerName:     "Sarah Chen",
		CustomerPhone:    "+15550001111",
		ServiceType:      "hot water repair",
		ScheduledDate:    "2026-03-03",
		ScheduledTime:    "14:00",
		Location:         "12 Bay St",
		RemindersEnabled: true,
	})
	require.NoError(t, err)

	reminder := &ScheduledReminder{
		JobID:           job.ID,
		OrgID:           "org-1",
		RecipientPhone:  job.CustomerPhone,
		Kind:            KindOneDayBefore,
		ScheduledFor:    f.clock.Add(-time.Minute),
		MessageTemplate: template,
		MaxRetries:      3,
	}
	require.NoError(t, f.store.Insert(context.Background(), []*ScheduledReminder{reminder}))
	return job, reminder
}

func TestProcessDueSendsRenderedTemplate(t *testing.T) {
	f := newProcessorFixture(t)
	job, reminder := f.seedDue(t, "Hi {clientName}, {serviceType} with {businessName} at {time} on {date}. {unknownTag}")

	n, err := f.processor.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "Hi Sarah Chen, hot water repair with Apex Plumbing at 2:00 PM on Tuesday, 3 March.", f.sender.sent[0].Body)
	assert.Equal(t, "+15550001111", f.sender.sent[0].To)

	rows, err := f.store.ListForJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusSent, rows[0].Status)
	assert.NotNil(t, rows[0].ExecutedAt)
	assert.Equal(t, "SM42", rows[0].ProviderMessageID)

	updated, err := f.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.ReminderCount)

	entries, err := f.history.For(context.Background(), reminder.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "reminder.sent", entries[0].Kind)
}

func TestProcessDueSkipsCancelledJob(t *testing.T) {
	f := newProcessorFixture(t)
	job, reminder := f.seedDue(t, "hi")

	_, err := f.jobs.UpdateStatus(context.Background(), job.ID, "user-1", jobs.StatusCancelled)
	require.NoError(t, err)

	n, err := f.processor.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, f.sender.sent, "cancelled job must not text the customer")

	rows, err := f.store.ListForJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusCancelled, rows[0].Status)

	entries, err := f.history.For(context.Background(), reminder.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "reminder.cancelled", entries[0].Kind)
}

func TestProcessDueSkipsDisabledReminders(t *testing.T) {
	f := newProcessorFixture(t)
	job, err := f.jobs.Create(context.Background(), &jobs.Job{
		OwnerUserID:      "user-1",
		OrgID:            "org-1",
		CustomerName:     "Sarah Chen",
		CustomerPhone:    "+15550001111",
		RemindersEnabled: false,
	})
	require.NoError(t, err)
	reminder := &ScheduledReminder{
		JobID:           job.ID,
		OrgID:           "org-1",
		RecipientPhone:  job.CustomerPhone,
		Kind:            KindOneDayBefore,
		ScheduledFor:    f.clock.Add(-time.Minute),
		MessageTemplate: "hi",
		MaxRetries:      3,
	}
	require.NoError(t, f.store.Insert(context.Background(), []*ScheduledReminder{reminder}))

	_, err = f.processor.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.sender.sent)

	rows, err := f.store.ListForJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusCancelled, rows[0].Status)
}

func TestProcessDueLeavesFutureRows(t *testing.T) {
	f := newProcessorFixture(t)
	job, _ := f.seedDue(t, "hi")

	future := &ScheduledReminder{
		JobID:           job.ID,
		OrgID:           "org-1",
		RecipientPhone:  job.CustomerPhone,
		Kind:            KindMorningOf,
		ScheduledFor:    f.clock.Add(time.Hour),
		MessageTemplate: "later",
		MaxRetries:      3,
	}
	require.NoError(t, f.store.Insert(context.Background(), []*ScheduledReminder{future}))

	n, err := f.processor.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "hi", f.sender.sent[0].Body)
}

func TestProcessDueRetriesWithBackoff(t *testing.T) {
	f := newProcessorFixture(t)
	f.sender.failures = 1
	job, _ := f.seedDue(t, "hi")

	_, err := f.processor.ProcessDue(context.Background())
	require.NoError(t, err)

	rows, err := f.store.ListForJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusPending, rows[0].Status)
	assert.Equal(t, 1, rows[0].RetryCount)
	assert.Equal(t, f.clock.Add(5*time.Minute), rows[0].ScheduledFor)
	assert.Contains(t, rows[0].ErrorMessage, "timeout")

	// Next tick before the backoff elapses: nothing due.
	n, err := f.processor.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	// After the backoff the retry succeeds.
	*f.clock = f.clock.Add(6 * time.Minute)
	n, err = f.processor.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.sender.sent, 1)
}

// With maxRetries=3, three consecutive failures end in failed, and the audit
// history holds exactly three failed entries.
func TestProcessDueRetryExhaustion(t *testing.T) {
	f := newProcessorFixture(t)
	f.sender.failures = 10
	job, reminder := f.seedDue(t, "hi")

	for i := 0; i < 3; i++ {
		_, err := f.processor.ProcessDue(context.Background())
		require.NoError(t, err)
		*f.clock = f.clock.Add(6 * time.Minute)
	}

	rows, err := f.store.ListForJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusFailed, rows[0].Status)
	assert.Equal(t, 2, rows[0].RetryCount)

	entries, err := f.history.For(context.Background(), reminder.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, "reminder.failed", e.Kind)
	}

	assert.Equal(t, []string{reminder.ID}, f.alerts.reminderIDs)

	// A later tick finds nothing: failed is terminal.
	n, err := f.processor.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.sender.sent)
}

func TestProcessDueOldestFirst(t *testing.T) {
	f := newProcessorFixture(t)
	job, _ := f.seedDue(t, "second")

	older := &ScheduledReminder{
		JobID:            job.ID,
		OrgID:            "org-1",
		RecipientPhone:   job.CustomerPhone,
		Kind:             KindCustom,
		CustomReminderID: "c1",
		ScheduledFor:     f.clock.Add(-time.Hour),
		MessageTemplate:  "first",
		MaxRetries:       3,
	}
	require.NoError(t, f.store.Insert(context.Background(), []*ScheduledReminder{older}))

	_, err := f.processor.ProcessDue(context.Background())
	require.NoError(t, err)
	require.Len(t, f.sender.sent, 2)
	assert.Equal(t, "first", f.sender.sent[0].Body)
	assert.Equal(t, "second", f.sender.sent[1].Body)
}

func TestRenderTemplateRemovesUnknownPlaceholders(t *testing.T) {
	job := &jobs.Job{
		CustomerName:  "Mike",
		ServiceType:   "gutter cleaning",
		ScheduledDate: "2026-03-03",
		ScheduledTime: "09:30",
		Location:      "4 Elm St",
	}
	out := RenderTemplate("{clientName} / {location} / {bogus} / {time}", job, "Apex", time.UTC)
	assert.Equal(t, "Mike / 4 Elm St / / 9:30 AM", out)
}
