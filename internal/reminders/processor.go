package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/events"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/jobs"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/messaging"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/observability/metrics"
	"github.com/atticusjxn/FlynnAIapp-sub006/pkg/logging"
)

// failureAlerter tells the business owner about a reminder that exhausted
// its retries. Implemented by internal/notify.
type failureAlerter interface {
	ReminderExhausted(ctx context.Context, reminder *ScheduledReminder, job *jobs.Job) error
}

// Processor dispatches due reminders on a fixed interval.
type Processor struct {
	store      Store
	jobs       jobs.Repository
	settings   SettingsStore
	sender     messaging.Sender
	history    events.History
	lock       *RunLock
	alerter    failureAlerter
	metrics    *metrics.PipelineMetrics
	logger     *logging.Logger
	interval   time.Duration
	batchSize  int
	retryDelay time.Duration
	now        func() time.Time
}

type ProcessorConfig struct {
	Store    Store
	Jobs     jobs.Repository
	Settings SettingsStore
	Sender   messaging.Sender
	History  events.History
	Lock     *RunLock
	// Alerter is optional; when set, exhausted reminders page the owner.
	Alerter    failureAlerter
	Metrics    *metrics.PipelineMetrics
	Logger     *logging.Logger
	Interval   time.Duration
	BatchSize  int
	RetryDelay time.Duration
}

func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Store == nil || cfg.Jobs == nil || cfg.Settings == nil || cfg.Sender == nil {
		return nil, errors.New("reminders: store, jobs, settings, and sender are required")
	}
	history := cfg.History
	if history == nil {
		history = events.NewInMemoryHistory()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 5 * time.Minute
	}
	return &Processor{
		store:      cfg.Store,
		jobs:       cfg.Jobs,
		settings:   cfg.Settings,
		sender:     cfg.Sender,
		history:    history,
		lock:       cfg.Lock,
		alerter:    cfg.Alerter,
		metrics:    cfg.Metrics,
		logger:     logger,
		interval:   interval,
		batchSize:  batchSize,
		retryDelay: retryDelay,
		now:        time.Now,
	}, nil
}

// Run ticks until the context is cancelled.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("reminder processor started", "interval", p.interval.String(), "batch_size", p.batchSize)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("reminder processor stopped")
			return
		case <-ticker.C:
			if _, err := p.ProcessDue(ctx); err != nil {
				p.logger.Error("reminder tick failed", "error", err)
			}
		}
	}
}

// ProcessDue runs one tick: acquire the run lock, pull due pending rows
// oldest first, and attempt each one. Returns the number of rows attempted.
func (p *Processor) ProcessDue(ctx context.Context) (int, error) {
	release, acquired, err := p.lock.TryAcquire(ctx)
	if err != nil {
		return 0, err
	}
	if !acquired {
		p.logger.Debug("previous reminder run still in flight, skipping tick")
		return 0, nil
	}
	defer release()

	now := p.now()
	due, err := p.store.DuePending(ctx, now, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("reminders: select due: %w", err)
	}
	for _, reminder := range due {
		p.attempt(ctx, reminder)
	}
	return len(due), nil
}

func (p *Processor) attempt(ctx context.Context, reminder *ScheduledReminder) {
	job, err := p.jobs.GetByID(ctx, reminder.JobID)
	if err != nil {
		p.recordFailure(ctx, reminder, nil, fmt.Sprintf("load job: %v", err))
		return
	}

	// The job may have been cancelled or had reminders switched off after
	// this row was scheduled. Re-check at send time and stand down instead
	// of texting the customer.
	if job.Status == jobs.StatusCancelled || !job.RemindersEnabled {
		if _, err := p.store.CancelPendingForJob(ctx, job.ID); err != nil {
			p.logger.Error("stale reminder not cancelled", "reminder_id", reminder.ID, "job_id", job.ID, "error", err)
			return
		}
		p.metrics.ObserveReminder("cancelled")
		p.appendHistory(ctx, reminder, "reminder.cancelled", map[string]any{
			"kind":       reminder.Kind,
			"job_id":     reminder.JobID,
			"job_status": job.Status,
		})
		return
	}

	settings, err := p.settings.Get(ctx, reminder.OrgID)
	if err != nil {
		if !errors.Is(err, ErrSettingsNotFound) {
			p.recordFailure(ctx, reminder, job, fmt.Sprintf("load settings: %v", err))
			return
		}
		settings = DefaultSettings(reminder.OrgID)
	}

	body := RenderTemplate(reminder.MessageTemplate, job, settings.BusinessName, settings.Location())
	meta := map[string]string{}
	err = p.sender.Send(ctx, messaging.OutboundMessage{
		To:       reminder.RecipientPhone,
		Body:     body,
		JobID:    job.ID,
		Metadata: meta,
	})
	if err != nil {
		p.recordFailure(ctx, reminder, job, err.Error())
		return
	}

	executedAt := p.now().UTC()
	providerID := meta["provider_message_id"]
	if err := p.store.MarkSent(ctx, reminder.ID, executedAt, providerID); err != nil {
		p.logger.Error("reminder sent but not marked", "reminder_id", reminder.ID, "error", err)
	}
	if err := p.jobs.IncrementReminderCount(ctx, job.ID); err != nil {
		p.logger.Error("reminder count not incremented", "job_id", job.ID, "error", err)
	}
	p.metrics.ObserveReminder("sent")
	p.appendHistory(ctx, reminder, "reminder.sent", map[string]any{
		"kind":                reminder.Kind,
		"job_id":              reminder.JobID,
		"provider_message_id": providerID,
		"executed_at":         executedAt,
	})
	p.logger.Info("reminder sent",
		"reminder_id", reminder.ID,
		"job_id", reminder.JobID,
		"kind", reminder.Kind,
	)
}

func (p *Processor) recordFailure(ctx context.Context, reminder *ScheduledReminder, job *jobs.Job, message string) {
	p.appendHistory(ctx, reminder, "reminder.failed", map[string]any{
		"kind":        reminder.Kind,
		"job_id":      reminder.JobID,
		"retry_count": reminder.RetryCount,
		"error":       message,
	})

	if reminder.RetryCount+1 >= reminder.MaxRetries {
		if err := p.store.MarkFailed(ctx, reminder.ID, message); err != nil {
			p.logger.Error("reminder not marked failed", "reminder_id", reminder.ID, "error", err)
		}
		p.metrics.ObserveReminder("failed")
		p.logger.Error("reminder exhausted retries",
			"reminder_id", reminder.ID,
			"job_id", reminder.JobID,
			"error", message,
		)
		if p.alerter != nil {
			if err := p.alerter.ReminderExhausted(ctx, reminder, job); err != nil {
				p.logger.Error("owner alert failed", "reminder_id", reminder.ID, "error", err)
			}
		}
		return
	}

	next := p.now().Add(p.retryDelay)
	if err := p.store.Reschedule(ctx, reminder.ID, next, message); err != nil {
		p.logger.Error("reminder not rescheduled", "reminder_id", reminder.ID, "error", err)
		return
	}
	p.metrics.ObserveReminder("retried")
	p.logger.Warn("reminder attempt failed, rescheduled",
		"reminder_id", reminder.ID,
		"next_attempt", next,
		"retry_count", reminder.RetryCount+1,
	)
}

func (p *Processor) appendHistory(ctx context.Context, reminder *ScheduledReminder, kind string, payload map[string]any) {
	if err := p.history.Append(ctx, reminder.ID, kind, payload); err != nil {
		p.logger.Error("history append failed", "reminder_id", reminder.ID, "error", err)
	}
}
