package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atticusjxn/FlynnAIapp-sub006/internal/calls"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/jobs"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/messaging"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/routing"
	"github.com/atticusjxn/FlynnAIapp-sub006/pkg/logging"
)

var (
	ErrNoOwner     = errors.New("extraction: call has no owner")
	ErrUnparseable = errors.New("extraction: model output was not valid JSON")
	ErrEmptySource = errors.New("extraction: nothing to extract from")
)

// Details is the fixed schema the model must fill. Every field is optional
// at the model level; completeness is judged afterwards.
type Details struct {
	CustomerName    string `json:"customerName"`
	CustomerPhone   string `json:"customerPhone"`
	ServiceType     string `json:"serviceType"`
	PreferredDate   string `json:"preferredDate"` // YYYY-MM-DD
	PreferredTime   string `json:"preferredTime"` // HH:MM
	Location        string `json:"location"`
	Urgency         string `json:"urgency"` // low|medium|high|emergency
	AdditionalNotes string `json:"additionalNotes"`
}

// Complete reports whether the details are enough to create a job a human
// could act on without listening to the recording.
func (d Details) Complete() bool {
	return strings.TrimSpace(d.CustomerName) != "" &&
		(strings.TrimSpace(d.CustomerPhone) != "" || strings.TrimSpace(d.ServiceType) != "")
}

// Turn is one utterance of a live intake conversation.
type Turn struct {
	Speaker string `json:"speaker"` // caller|assistant
	Text    string `json:"text"`
}

type ownerDirectory interface {
	OwnerOfNumber(ctx context.Context, toNumber string) (*routing.Owner, error)
}

type reminderScheduler interface {
	ScheduleForJob(ctx context.Context, jobID string) error
}

// Extractor turns transcripts into jobs.
type Extractor struct {
	llm       LLMClient
	modelID   string
	calls     calls.Repository
	jobs      jobs.Repository
	owners    ownerDirectory
	scheduler reminderScheduler
	logger    *logging.Logger
	now       func() time.Time
}

type Config struct {
	LLM     LLMClient
	ModelID string
	Calls   calls.Repository
	Jobs    jobs.Repository
	// Owners resolves the dialed number to the owning account; used to
	// stamp org_id on created jobs. Optional.
	Owners ownerDirectory
	// Scheduler is poked after each created job. Optional; scheduling
	// failures never undo the job.
	Scheduler reminderScheduler
	Logger    *logging.Logger
}

func New(cfg Config) (*Extractor, error) {
	if cfg.LLM == nil {
		return nil, errors.New("extraction: llm client required")
	}
	if cfg.Calls == nil || cfg.Jobs == nil {
		return nil, errors.New("extraction: calls and jobs repositories required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Extractor{
		llm:       cfg.LLM,
		modelID:   cfg.ModelID,
		calls:     cfg.Calls,
		jobs:      cfg.Jobs,
		owners:    cfg.Owners,
		scheduler: cfg.Scheduler,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// EnsureJobForTranscript extracts job details from a finished transcript and
// creates at most one job per call. Safe to call repeatedly for the same
// call; only the first invocation does model work.
func (e *Extractor) EnsureJobForTranscript(ctx context.Context, call *calls.Call, transcript *calls.Transcript) error {
	if call == nil || transcript == nil {
		return ErrEmptySource
	}
	return e.ensureJob(ctx, call, transcript.Text)
}

// EnsureJobForConversation is the live-intake variant: the assistant already
// held a structured conversation, so the model sees labelled turns instead of
// a raw transcript.
func (e *Extractor) EnsureJobForConversation(ctx context.Context, call *calls.Call, turns []Turn) error {
	if call == nil || len(turns) == 0 {
		return ErrEmptySource
	}
	var b strings.Builder
	for _, turn := range turns {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		speaker := turn.Speaker
		if speaker == "" {
			speaker = "caller"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, text)
	}
	if b.Len() == 0 {
		return ErrEmptySource
	}
	return e.ensureJob(ctx, call, b.String())
}

func (e *Extractor) ensureJob(ctx context.Context, call *calls.Call, source string) error {
	if strings.TrimSpace(source) == "" {
		return ErrEmptySource
	}

	// One job per call, ever.
	if _, err := e.jobs.GetBySourceCall(ctx, call.CallSid); err == nil {
		e.logger.Debug("job already exists for call", "call_sid", call.CallSid)
		return nil
	} else if !errors.Is(err, jobs.ErrJobNotFound) {
		return fmt.Errorf("extraction: idempotency check: %w", err)
	}

	if call.OwnerUserID == "" {
		e.markReview(ctx, call.CallSid, "extraction skipped: call has no owner")
		return ErrNoOwner
	}

	details, err := e.extract(ctx, call, source)
	if err != nil {
		e.markReview(ctx, call.CallSid, "extraction failed: "+err.Error())
		return err
	}

	if phone := messaging.NormalizeE164(details.CustomerPhone); phone != "" {
		details.CustomerPhone = phone
	} else {
		// The caller ID is the best fallback we have.
		details.CustomerPhone = messaging.NormalizeE164(call.FromNumber)
	}

	if !details.Complete() {
		e.markReview(ctx, call.CallSid, "extraction incomplete: missing customer name or contact/service")
		e.logger.Info("extraction incomplete, call flagged for review", "call_sid", call.CallSid)
		return nil
	}

	var orgID string
	if e.owners != nil {
		if owner, err := e.owners.OwnerOfNumber(ctx, call.ToNumber); err == nil && owner != nil {
			orgID = owner.OrgID
		}
	}

	job := &jobs.Job{
		OwnerUserID:      call.OwnerUserID,
		OrgID:            orgID,
		SourceCallSid:    call.CallSid,
		CustomerName:     strings.TrimSpace(details.CustomerName),
		CustomerPhone:    details.CustomerPhone,
		ServiceType:      strings.TrimSpace(details.ServiceType),
		ScheduledDate:    details.PreferredDate,
		ScheduledTime:    details.PreferredTime,
		Location:         strings.TrimSpace(details.Location),
		Urgency:          normalizeUrgency(details.Urgency),
		Notes:            strings.TrimSpace(details.AdditionalNotes),
		Status:           jobs.StatusNew,
		RemindersEnabled: true,
	}
	created, err := e.jobs.Create(ctx, job)
	if err != nil {
		if errors.Is(err, jobs.ErrDuplicateSourceCall) {
			// Lost the race to a concurrent delivery; the job exists.
			return nil
		}
		return fmt.Errorf("extraction: create job: %w", err)
	}
	e.logger.Info("job created from call",
		"call_sid", call.CallSid,
		"job_id", created.ID,
		"service_type", created.ServiceType,
	)

	if e.scheduler != nil {
		if err := e.scheduler.ScheduleForJob(ctx, created.ID); err != nil {
			e.logger.Error("reminder scheduling failed after job creation",
				"job_id", created.ID, "error", err)
		}
	}
	return nil
}

func (e *Extractor) extract(ctx context.Context, call *calls.Call, source string) (Details, error) {
	resp, err := e.llm.Complete(ctx, LLMRequest{
		Model:       e.modelID,
		System:      []string{extractionSystemPrompt(e.now().UTC())},
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: extractionUserPrompt(call.FromNumber, source)}},
		MaxTokens:   1024,
		Temperature: 0,
	})
	if err != nil {
		return Details{}, fmt.Errorf("extraction: completion failed: %w", err)
	}
	return parseDetails(resp.Text)
}

func (e *Extractor) markReview(ctx context.Context, callSid, reason string) {
	if err := e.calls.MarkForReview(ctx, callSid, reason); err != nil {
		e.logger.Error("failed to flag call for review", "call_sid", callSid, "error", err)
	}
}

func extractionSystemPrompt(now time.Time) string {
	return fmt.Sprintf(`You extract booking details from phone call transcripts for a trades and services business.
Today's date is %s.
Respond with a single JSON object and nothing else, using exactly these keys:
{"customerName": "", "customerPhone": "", "serviceType": "", "preferredDate": "", "preferredTime": "", "location": "", "urgency": "", "additionalNotes": ""}
Rules:
- preferredDate must be YYYY-MM-DD; resolve relative dates ("tomorrow", "next Tuesday") against today's date.
- preferredTime must be 24-hour HH:MM.
- urgency must be one of: low, medium, high, emergency.
- Leave a field as an empty string when the transcript does not say.
- Never invent details.`, now.Format("Monday, 2 January 2006"))
}

func extractionUserPrompt(fromNumber, source string) string {
	var b strings.Builder
	if fromNumber != "" {
		fmt.Fprintf(&b, "Caller ID: %s\n\n", fromNumber)
	}
	b.WriteString("Transcript:\n")
	b.WriteString(source)
	return b.String()
}

// parseDetails tolerates markdown fences and prose around the JSON object.
func parseDetails(raw string) (Details, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return Details{}, ErrUnparseable
	}
	var details Details
	if err := json.Unmarshal([]byte(text[start:end+1]), &details); err != nil {
		return Details{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return details, nil
}

func normalizeUrgency(v string) jobs.Urgency {
	switch jobs.Urgency(strings.ToLower(strings.TrimSpace(v))) {
	case jobs.UrgencyLow:
		return jobs.UrgencyLow
	case jobs.UrgencyMedium:
		return jobs.UrgencyMedium
	case jobs.UrgencyHigh:
		return jobs.UrgencyHigh
	case jobs.UrgencyEmergency:
		return jobs.UrgencyEmergency
	default:
		return ""
	}
}
